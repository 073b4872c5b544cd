package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "resourcehub"

// StartSearchSpan starts a span for a federated search.
func StartSearchSpan(ctx context.Context, query string, providers int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "search",
		trace.WithAttributes(
			attribute.String("search.query", query),
			attribute.Int("search.providers", providers),
		),
	)
}

// StartResolveSpan starts a span for a URI resolution.
func StartResolveSpan(ctx context.Context, uri string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "resolve",
		trace.WithAttributes(
			attribute.String("resource.uri", uri),
		),
	)
}

// StartProviderSpan starts a span around one provider operation.
func StartProviderSpan(ctx context.Context, provider, op string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "provider."+op,
		trace.WithAttributes(
			attribute.String("provider.label", provider),
		),
	)
}

// StartLookupSpan starts a span for a tiered lookup query.
func StartLookupSpan(ctx context.Context, query string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "lookup",
		trace.WithAttributes(
			attribute.String("lookup.query", query),
		),
	)
}
