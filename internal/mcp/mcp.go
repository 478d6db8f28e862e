// Package mcp implements the Model Context Protocol server for Kiroku.
//
// The MCP server exposes read-only trace inspection over the same engine the
// HTTP API uses, so MCP-compatible AI agents can look up trace trees and
// verify span references without going through the REST surface.
package mcp

import (
	"log/slog"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kiroku/internal/ingest"
)

// Server wraps the MCP server with Kiroku's ingest engine.
type Server struct {
	mcpServer *mcpserver.MCPServer
	engine    *ingest.Engine
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools registered.
func New(engine *ingest.Engine, version string, logger *slog.Logger) *Server {
	s := &Server{
		engine: engine,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kiroku",
		version,
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
