package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"o8://providers",
			"Provider List",
			mcplib.WithResourceDescription("Configured resource providers with priority and enabled state"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleProvidersResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			"o8://index/status",
			"Lookup Index Status",
			mcplib.WithResourceDescription("Build state of the tiered lookup index"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleIndexStatusResource,
	)
}

func (s *Server) handleProvidersResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Registry == nil {
		return jsonContents(req.Params.URI, `{"error":"registry not configured"}`), nil
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
		return nil, err
	}
	return jsonContents(req.Params.URI, string(data)), nil
}

func (s *Server) handleIndexStatusResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Lookup == nil {
		return jsonContents(req.Params.URI, `{"error":"lookup engine not configured"}`), nil
	}
	data, err := json.Marshal(s.deps.Lookup.Status())
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, string(data)), nil
}

func jsonContents(uri, text string) []mcplib.ResourceContents {
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     text,
		},
	}
}
