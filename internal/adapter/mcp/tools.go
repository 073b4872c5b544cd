package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/orchestr8/resourcehub/internal/domain/resource"
	"github.com/orchestr8/resourcehub/internal/index"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.addTool(s.searchResourcesTool())
	s.addTool(s.getResourceTool())
	s.addTool(s.lookupResourcesTool())
	s.addTool(s.listProvidersTool())
	s.addTool(s.getProviderHealthTool())
}

func (s *Server) searchResourcesTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("search_resources",
		mcplib.WithDescription("Search agents, skills, patterns, workflows and examples across all configured providers"),
		mcplib.WithString("query",
			mcplib.Required(),
			mcplib.Description("Free-text search query"),
		),
		mcplib.WithString("category",
			mcplib.Description("Restrict to one category: agent, skill, pattern, workflow or example"),
		),
		mcplib.WithNumber("max_results",
			mcplib.Description("Maximum number of merged results (default 15)"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleSearchResources}
}

func (s *Server) getResourceTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_resource",
		mcplib.WithDescription("Fetch a resource by URI. Static form o8://<category>/<id> returns the full resource; o8://match?query=... assembles context within a token budget"),
		mcplib.WithString("uri",
			mcplib.Required(),
			mcplib.Description("The resource URI to resolve"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetResource}
}

func (s *Server) lookupResourcesTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("lookup_resources",
		mcplib.WithDescription("Answer 'what should I load for this task' with a compact pointer list from the tiered lookup index"),
		mcplib.WithString("query",
			mcplib.Required(),
			mcplib.Description("Task description to match against indexed use-when scenarios"),
		),
		mcplib.WithNumber("max_results",
			mcplib.Description("Maximum pointers to return (default 5)"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleLookupResources}
}

func (s *Server) listProvidersTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_providers",
		mcplib.WithDescription("List configured resource providers with priority and enabled state"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListProviders}
}

func (s *Server) getProviderHealthTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_provider_health",
		mcplib.WithDescription("Check the health of every resource provider"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetProviderHealth}
}

func (s *Server) handleSearchResources(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Registry == nil {
		return mcplib.NewToolResultError("registry not configured"), nil
	}
	args := req.GetArguments()
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return mcplib.NewToolResultError("query is required"), nil
	}

	searchReq := resource.SearchRequest{Query: query}
	if cat, ok := args["category"].(string); ok && cat != "" {
		c := resource.Category(cat)
		if !c.Valid() {
			return mcplib.NewToolResultError(fmt.Sprintf("unknown category %q", cat)), nil
		}
		searchReq.Categories = []resource.Category{c}
	}
	if n, ok := args["max_results"].(float64); ok && n > 0 {
		searchReq.MaxResults = int(n)
	}

	resp, err := s.deps.Registry.SearchAll(ctx, searchReq)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("search failed", err), nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal results", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}

func (s *Server) handleGetResource(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Registry == nil {
		return mcplib.NewToolResultError("registry not configured"), nil
	}
	args := req.GetArguments()
	uri, ok := args["uri"].(string)
	if !ok || uri == "" {
		return mcplib.NewToolResultError("uri is required"), nil
	}

	resolved, err := s.deps.Registry.Resolve(ctx, uri)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to resolve %s", uri), err), nil
	}
	if resolved.Match != nil {
		return mcplib.NewToolResultText(resolved.Match.Content), nil
	}
	data, err := json.Marshal(resolved.Resource)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal resource", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}

func (s *Server) handleLookupResources(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Lookup == nil {
		return mcplib.NewToolResultError("lookup engine not configured"), nil
	}
	args := req.GetArguments()
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return mcplib.NewToolResultError("query is required"), nil
	}

	opts := index.Options{}
	if n, ok := args["max_results"].(float64); ok && n > 0 {
		opts.MaxResults = int(n)
	}

	result, err := s.deps.Lookup.Lookup(ctx, query, opts)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("lookup failed", err), nil
	}
	return mcplib.NewToolResultText(result.Text), nil
}

func (s *Server) handleListProviders(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Registry == nil {
		return mcplib.NewToolResultError("registry not configured"), nil
	}
	type summary struct {
		Label    string `json:"label"`
		Priority int    `json:"priority"`
		Enabled  bool   `json:"enabled"`
	}
	providers := s.deps.Registry.List()
	out := make([]summary, len(providers))
	for i, p := range providers {
		out[i] = summary{Label: p.Label(), Priority: p.Priority(), Enabled: p.Enabled()}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal providers", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}

func (s *Server) handleGetProviderHealth(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Registry == nil {
		return mcplib.NewToolResultError("registry not configured"), nil
	}
	records := s.deps.Registry.Health(ctx)
	data, err := json.Marshal(records)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal health records", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
