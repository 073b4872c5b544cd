package mcp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	hubmcp "github.com/orchestr8/resourcehub/internal/adapter/mcp"
	"github.com/orchestr8/resourcehub/internal/domain/resource"
	"github.com/orchestr8/resourcehub/internal/index"
	"github.com/orchestr8/resourcehub/internal/port/provider"
	"github.com/orchestr8/resourcehub/internal/service"
)

// --- Mocks ---

type mockProvider struct {
	label     string
	enabled   bool
	results   []resource.SearchResult
	resources map[string]*resource.Resource
}

func newMockProvider(label string) *mockProvider {
	return &mockProvider{label: label, enabled: true, resources: map[string]*resource.Resource{}}
}

func (m *mockProvider) Label() string                    { return m.label }
func (m *mockProvider) Priority() int                    { return 0 }
func (m *mockProvider) Enabled() bool                    { return m.enabled }
func (m *mockProvider) SetEnabled(on bool)               { m.enabled = on }
func (m *mockProvider) Initialize(context.Context) error { return nil }
func (m *mockProvider) Shutdown(context.Context) error   { return nil }

func (m *mockProvider) FetchIndex(context.Context) (*resource.Index, error) {
	return &resource.Index{Provider: m.label}, nil
}

func (m *mockProvider) FetchResource(_ context.Context, id string, category resource.Category) (*resource.Resource, error) {
	res, ok := m.resources[string(category)+":"+id]
	if !ok {
		return nil, resource.NewError(resource.KindNotFound, m.label, "no %s", id)
	}
	return res, nil
}

func (m *mockProvider) Search(_ context.Context, req resource.SearchRequest) (*resource.SearchResponse, error) {
	return &resource.SearchResponse{Results: m.results, TotalCount: len(m.results), Query: req.Query}, nil
}

func (m *mockProvider) HealthCheck(context.Context) (*resource.HealthRecord, error) {
	return &resource.HealthRecord{Provider: m.label, Status: resource.HealthHealthy, Reachable: true, CheckedAt: time.Now()}, nil
}

func (m *mockProvider) Stats() resource.StatsRecord { return resource.StatsRecord{Provider: m.label} }
func (m *mockProvider) ResetStats()                 {}

var _ provider.Provider = (*mockProvider)(nil)

type noopCache struct{}

func (noopCache) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (noopCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (noopCache) Delete(context.Context, string) error                     { return nil }

func newTestDeps(t *testing.T, providers ...*mockProvider) hubmcp.ServerDeps {
	t.Helper()
	registry := service.NewRegistry(service.RegistryConfig{}, nil)
	for _, p := range providers {
		if err := registry.Register(context.Background(), p); err != nil {
			t.Fatalf("register %s: %v", p.label, err)
		}
	}
	lookup := service.NewLookupService(
		service.LookupConfig{Root: t.TempDir()},
		noopCache{},
		func(context.Context, string, index.Options) (string, int, error) {
			return "- [skill] fuzzy hit (~100 tok) o8://skill/fuzzy", 1, nil
		},
		nil,
	)
	return hubmcp.ServerDeps{Registry: registry, Lookup: lookup}
}

func callTool(t *testing.T, s *hubmcp.Server, name string, args map[string]any) *mcplib.CallToolResult {
	t.Helper()
	tool, ok := s.Tools()[name]
	if !ok {
		t.Fatalf("tool %s not registered", name)
	}
	result, err := tool.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return result
}

func textOf(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	return text.Text
}

// --- Tests ---

func TestToolRegistration(t *testing.T) {
	s := hubmcp.NewServer(hubmcp.ServerConfig{Name: "test", Version: "0.1.0"}, newTestDeps(t))

	expected := []string{
		"search_resources", "get_resource", "lookup_resources",
		"list_providers", "get_provider_health",
	}
	if len(s.Tools()) != len(expected) {
		t.Fatalf("expected %d tools, got %d", len(expected), len(s.Tools()))
	}
	for _, name := range expected {
		if _, ok := s.Tools()[name]; !ok {
			t.Errorf("expected tool %q not registered", name)
		}
	}
}

func TestSearchResourcesTool(t *testing.T) {
	p := newMockProvider("local")
	p.results = []resource.SearchResult{{
		Resource: resource.Metadata{ID: "ts-api", Category: resource.CategorySkill, EstimatedTokens: 420},
		Score:    40,
		Provider: "local",
	}}
	s := hubmcp.NewServer(hubmcp.ServerConfig{Name: "test", Version: "0.1.0"}, newTestDeps(t, p))

	result := callTool(t, s, "search_resources", map[string]any{"query": "typescript"})
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}

	var resp resource.FederatedSearchResponse
	if err := json.Unmarshal([]byte(textOf(t, result)), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Resource.ID != "ts-api" {
		t.Fatalf("results = %+v", resp.Results)
	}
}

func TestSearchResourcesToolMissingQuery(t *testing.T) {
	s := hubmcp.NewServer(hubmcp.ServerConfig{Name: "test", Version: "0.1.0"}, newTestDeps(t))

	result := callTool(t, s, "search_resources", nil)
	if !result.IsError {
		t.Fatal("expected error result for missing query")
	}
}

func TestSearchResourcesToolBadCategory(t *testing.T) {
	s := hubmcp.NewServer(hubmcp.ServerConfig{Name: "test", Version: "0.1.0"}, newTestDeps(t))

	result := callTool(t, s, "search_resources", map[string]any{"query": "q", "category": "widget"})
	if !result.IsError {
		t.Fatal("expected error result for unknown category")
	}
}

func TestGetResourceTool(t *testing.T) {
	p := newMockProvider("local")
	p.resources["skill:ts-api"] = &resource.Resource{
		ID: "ts-api", Category: resource.CategorySkill, Source: "local", Content: "full body",
	}
	s := hubmcp.NewServer(hubmcp.ServerConfig{Name: "test", Version: "0.1.0"}, newTestDeps(t, p))

	result := callTool(t, s, "get_resource", map[string]any{"uri": "o8://skill/ts-api"})
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}

	var res resource.Resource
	if err := json.Unmarshal([]byte(textOf(t, result)), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.ID != "ts-api" || res.Content != "full body" {
		t.Fatalf("resource = %+v", res)
	}
}

func TestGetResourceToolNotFound(t *testing.T) {
	s := hubmcp.NewServer(hubmcp.ServerConfig{Name: "test", Version: "0.1.0"}, newTestDeps(t, newMockProvider("local")))

	result := callTool(t, s, "get_resource", map[string]any{"uri": "o8://skill/ghost"})
	if !result.IsError {
		t.Fatal("expected error result for unknown resource")
	}
}

func TestLookupResourcesTool(t *testing.T) {
	s := hubmcp.NewServer(hubmcp.ServerConfig{Name: "test", Version: "0.1.0"}, newTestDeps(t))

	result := callTool(t, s, "lookup_resources", map[string]any{"query": "kubernetes operators"})
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}
	if text := textOf(t, result); text == "" {
		t.Fatal("expected non-empty lookup text")
	}
}

func TestListProvidersTool(t *testing.T) {
	s := hubmcp.NewServer(hubmcp.ServerConfig{Name: "test", Version: "0.1.0"}, newTestDeps(t, newMockProvider("local")))

	result := callTool(t, s, "list_providers", nil)
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}

	var providers []map[string]any
	if err := json.Unmarshal([]byte(textOf(t, result)), &providers); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(providers) != 1 || providers[0]["label"] != "local" {
		t.Fatalf("providers = %v", providers)
	}
}

func TestGetProviderHealthTool(t *testing.T) {
	s := hubmcp.NewServer(hubmcp.ServerConfig{Name: "test", Version: "0.1.0"}, newTestDeps(t, newMockProvider("local")))

	result := callTool(t, s, "get_provider_health", nil)
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}

	var records []resource.HealthRecord
	if err := json.Unmarshal([]byte(textOf(t, result)), &records); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(records) != 1 || records[0].Status != resource.HealthHealthy {
		t.Fatalf("records = %+v", records)
	}
}

func TestHandleNilDeps(t *testing.T) {
	s := hubmcp.NewServer(hubmcp.ServerConfig{Name: "test", Version: "0.1.0"}, hubmcp.ServerDeps{})

	result := callTool(t, s, "search_resources", map[string]any{"query": "q"})
	if !result.IsError {
		t.Fatal("expected error result when deps are nil")
	}
}

func TestAuthMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := hubmcp.AuthMiddleware("secret", next)

	cases := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"bearer token", "Authorization", "Bearer secret", http.StatusOK},
		{"bare key", "Authorization", "secret", http.StatusOK},
		{"api key header", "X-API-Key", "secret", http.StatusOK},
		{"wrong key", "Authorization", "Bearer nope", http.StatusForbidden},
		{"missing", "", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := hubmcp.AuthMiddleware("", next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with auth disabled", rec.Code)
	}
}
