package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/orchestr8/resourcehub/internal/domain/resource"
)

const meterName = "resourcehub"

// Metrics holds all hub metric instruments. It implements the lookup
// engine's Recorder interface.
type Metrics struct {
	SearchRequests metric.Int64Counter
	SearchDuration metric.Float64Histogram
	Resolves       metric.Int64Counter
	ProviderErrors metric.Int64Counter
	LookupRequests metric.Int64Counter
	LookupDuration metric.Float64Histogram
	LookupResults  metric.Int64Counter
	LookupTokens   metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.SearchRequests, err = meter.Int64Counter("resourcehub.search.requests",
		metric.WithDescription("Federated search requests"))
	if err != nil {
		return nil, err
	}

	m.SearchDuration, err = meter.Float64Histogram("resourcehub.search.duration_seconds",
		metric.WithDescription("Federated search duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.Resolves, err = meter.Int64Counter("resourcehub.resolves",
		metric.WithDescription("URI resolutions by outcome"))
	if err != nil {
		return nil, err
	}

	m.ProviderErrors, err = meter.Int64Counter("resourcehub.provider.errors",
		metric.WithDescription("Provider failures by label and error kind"))
	if err != nil {
		return nil, err
	}

	m.LookupRequests, err = meter.Int64Counter("resourcehub.lookup.requests",
		metric.WithDescription("Lookup queries by answering tier"))
	if err != nil {
		return nil, err
	}

	m.LookupDuration, err = meter.Float64Histogram("resourcehub.lookup.duration_seconds",
		metric.WithDescription("Lookup latency in seconds by tier"))
	if err != nil {
		return nil, err
	}

	m.LookupResults, err = meter.Int64Counter("resourcehub.lookup.results",
		metric.WithDescription("Result pointers returned by lookup answers"))
	if err != nil {
		return nil, err
	}

	m.LookupTokens, err = meter.Int64Counter("resourcehub.lookup.tokens",
		metric.WithDescription("Tokens returned by lookup answers"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordLookup implements the lookup Recorder: one call per query with
// the tier that answered.
func (m *Metrics) RecordLookup(ctx context.Context, tier string, latency time.Duration, results, tokens int) {
	attrs := metric.WithAttributes(attribute.String("tier", tier))
	m.LookupRequests.Add(ctx, 1, attrs)
	m.LookupDuration.Record(ctx, latency.Seconds(), attrs)
	m.LookupResults.Add(ctx, int64(results), attrs)
	m.LookupTokens.Add(ctx, int64(tokens), attrs)
}

// RecordSearch counts one federated search.
func (m *Metrics) RecordSearch(ctx context.Context, providers, results int, took time.Duration) {
	m.SearchRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("providers", providers),
		attribute.Int("results", results),
	))
	m.SearchDuration.Record(ctx, took.Seconds())
}

// RecordResolve counts one URI resolution by outcome kind ("" is success).
func (m *Metrics) RecordResolve(ctx context.Context, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(resource.KindOf(err))
	}
	m.Resolves.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordProviderError counts one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string, err error) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", string(resource.KindOf(err))),
	))
}
