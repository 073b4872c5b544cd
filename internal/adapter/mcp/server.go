// Package mcp exposes the resource hub over the Model Context Protocol so
// coding agents can search, look up and fetch resources as tools.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/orchestr8/resourcehub/internal/service"
)

// ServerConfig configures the MCP endpoint.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	APIKey  string
}

// ServerDeps are the services the MCP tools call into.
type ServerDeps struct {
	Registry *service.Registry
	Lookup   *service.LookupService
}

// Server wraps an mcp-go server with the hub's tools and resources.
type Server struct {
	cfg  ServerConfig
	deps ServerDeps

	mcpServer  *mcpserver.MCPServer
	httpServer *http.Server
	tools      map[string]mcpserver.ServerTool
}

// NewServer builds the MCP server and registers every tool and resource.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:       cfg,
		deps:      deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version),
		tools:     make(map[string]mcpserver.ServerTool),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Tools returns the registered tool set by name.
func (s *Server) Tools() map[string]mcpserver.ServerTool { return s.tools }

// Start serves MCP over streamable HTTP in the background. Requests are
// authenticated when an API key is configured.
func (s *Server) Start() error {
	streamable := mcpserver.NewStreamableHTTPServer(s.mcpServer)
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           AuthMiddleware(s.cfg.APIKey, streamable),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("mcp server listening", "addr", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the MCP endpoint down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) addTool(t mcpserver.ServerTool) {
	s.tools[t.Tool.Name] = t
	s.mcpServer.AddTools(t)
}
