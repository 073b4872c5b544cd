package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/orchestr8/resourcehub/internal/adapter/otel"
	"github.com/orchestr8/resourcehub/internal/adapter/ws"
	"github.com/orchestr8/resourcehub/internal/domain/resource"
	"github.com/orchestr8/resourcehub/internal/index"
	"github.com/orchestr8/resourcehub/internal/service"
)

const maxQueryLength = 2000
const maxRequestBodySize = 1 << 20 // 1 MB

// Handlers holds the services the REST API exposes.
type Handlers struct {
	Registry *service.Registry
	Lookup   *service.LookupService
	Hub      *ws.Hub
	Metrics  *otel.Metrics
	Version  string
}

// NewHandlers creates the handler set. hub and metrics may be nil.
func NewHandlers(registry *service.Registry, lookup *service.LookupService, hub *ws.Hub, metrics *otel.Metrics, version string) *Handlers {
	return &Handlers{Registry: registry, Lookup: lookup, Hub: hub, Metrics: metrics, Version: version}
}

// --- Search ---

// Search handles POST /api/v1/search: a federated fan-out across providers.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[resource.SearchRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Query, "query") {
		return
	}
	if len(req.Query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "query exceeds maximum length of 2000 characters")
		return
	}

	ctx, span := otel.StartSearchSpan(r.Context(), req.Query, len(h.Registry.List()))
	defer span.End()

	resp, err := h.Registry.SearchAll(ctx, req)
	if err != nil {
		writeResourceError(w, err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.RecordSearch(ctx, len(resp.Providers), len(resp.Results), time.Duration(resp.TookMS)*time.Millisecond)
		for _, outcome := range resp.Providers {
			if !outcome.OK {
				h.Metrics.RecordProviderError(ctx, outcome.Provider, errors.New(outcome.Error))
			}
		}
	}

	h.broadcast(r, ws.EventSearchPerformed, ws.SearchEvent{
		Query:     req.Query,
		Providers: len(resp.Providers),
		Results:   len(resp.Results),
		TookMS:    resp.TookMS,
	})
	writeJSON(w, http.StatusOK, resp)
}

// resolveResponse is the polymorphic answer to a URI resolution.
type resolveResponse struct {
	Type        string             `json:"type"`
	Resource    *resource.Resource `json:"resource,omitempty"`
	Content     string             `json:"content,omitempty"`
	TotalTokens int                `json:"totalTokens,omitempty"`
	Fragments   int                `json:"fragments,omitempty"`
}

// Resolve handles GET /api/v1/resource?uri=... for both URI variants.
func (h *Handlers) Resolve(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if !requireField(w, uri, "uri") {
		return
	}

	ctx, span := otel.StartResolveSpan(r.Context(), uri)
	defer span.End()

	resolved, err := h.Registry.Resolve(ctx, uri)
	if h.Metrics != nil {
		h.Metrics.RecordResolve(ctx, err)
	}
	if err != nil {
		writeResourceError(w, err)
		return
	}

	if resolved.Match != nil {
		h.broadcast(r, ws.EventResourceFetched, ws.FetchEvent{URI: uri, Tokens: resolved.Match.TotalTokens})
		writeJSON(w, http.StatusOK, resolveResponse{
			Type:        "match",
			Content:     resolved.Match.Content,
			TotalTokens: resolved.Match.TotalTokens,
			Fragments:   len(resolved.Match.Fragments),
		})
		return
	}

	res := resolved.Resource
	h.broadcast(r, ws.EventResourceFetched, ws.FetchEvent{URI: uri, Provider: res.Source, Tokens: res.EstimatedTokens})
	writeJSON(w, http.StatusOK, resolveResponse{Type: "resource", Resource: res})
}

// --- Lookup ---

type lookupRequest struct {
	Query      string              `json:"query"`
	MaxResults int                 `json:"maxResults,omitempty"`
	MinScore   int                 `json:"minScore,omitempty"`
	Categories []resource.Category `json:"categories,omitempty"`
}

type lookupResponse struct {
	Text    string `json:"text"`
	Tier    string `json:"tier"`
	Results int    `json:"results"`
	Tokens  int    `json:"tokens"`
	TookMS  int64  `json:"tookMs"`
}

// DoLookup handles POST /api/v1/lookup: the tiered what-should-I-load query.
func (h *Handlers) DoLookup(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[lookupRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Query, "query") {
		return
	}

	result, err := h.Lookup.Lookup(r.Context(), req.Query, index.Options{
		MaxResults: req.MaxResults,
		MinScore:   req.MinScore,
		Categories: req.Categories,
	})
	if err != nil {
		writeResourceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lookupResponse{
		Text:    result.Text,
		Tier:    result.Tier,
		Results: result.Results,
		Tokens:  result.Tokens,
		TookMS:  result.Latency.Milliseconds(),
	})
}

// IndexStatus handles GET /api/v1/index.
func (h *Handlers) IndexStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Lookup.Status())
}

// BuildIndex handles POST /api/v1/index/build.
func (h *Handlers) BuildIndex(w http.ResponseWriter, r *http.Request) {
	st, err := h.Lookup.Rebuild(r.Context())
	if err != nil {
		writeResourceError(w, err)
		return
	}
	h.broadcast(r, ws.EventIndexBuilt, ws.IndexBuiltEvent{
		Fragments: st.Fragments,
		Scenarios: st.Scenarios,
	})
	writeJSON(w, http.StatusOK, st)
}

// --- Providers ---
//
// Provider labels may contain slashes ("github:owner/repo"), so
// provider-scoped operations take the label in the query string or body
// rather than the URL path.

type providerSummary struct {
	Label    string `json:"label"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`
}

// ListProviders handles GET /api/v1/providers.
func (h *Handlers) ListProviders(w http.ResponseWriter, _ *http.Request) {
	providers := h.Registry.List()
	out := make([]providerSummary, len(providers))
	for i, p := range providers {
		out[i] = providerSummary{Label: p.Label(), Priority: p.Priority(), Enabled: p.Enabled()}
	}
	writeJSON(w, http.StatusOK, out)
}

// ProvidersHealth handles GET /api/v1/providers/health.
func (h *Handlers) ProvidersHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Registry.Health(r.Context()))
}

// ProvidersStats handles GET /api/v1/providers/stats.
func (h *Handlers) ProvidersStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Registry.Stats())
}

// ProviderIndex handles GET /api/v1/providers/index?label=...
func (h *Handlers) ProviderIndex(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("label")
	if !requireField(w, label, "label") {
		return
	}
	idx, err := h.Registry.Index(r.Context(), label)
	if err != nil {
		writeResourceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idx)
}

type providerStateRequest struct {
	Label   string `json:"label"`
	Enabled bool   `json:"enabled"`
}

// SetProviderState handles POST /api/v1/providers/state.
func (h *Handlers) SetProviderState(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[providerStateRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Label, "label") {
		return
	}
	if err := h.Registry.SetEnabled(r.Context(), req.Label, req.Enabled); err != nil {
		writeResourceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"label": req.Label, "enabled": req.Enabled})
}

// UnregisterProvider handles DELETE /api/v1/providers?label=...
func (h *Handlers) UnregisterProvider(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("label")
	if !requireField(w, label, "label") {
		return
	}
	if err := h.Registry.Unregister(r.Context(), label); err != nil {
		writeResourceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Healthz handles GET /healthz: liveness plus a coarse provider rollup.
func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	providers := h.Registry.List()
	enabled := 0
	for _, p := range providers {
		if p.Enabled() {
			enabled++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   h.Version,
		"providers": len(providers),
		"enabled":   enabled,
	})
}

func (h *Handlers) broadcast(r *http.Request, eventType string, payload any) {
	if h.Hub == nil {
		return
	}
	h.Hub.BroadcastEvent(r.Context(), eventType, payload)
}
