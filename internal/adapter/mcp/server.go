package mcp

import (
	"log/slog"

	"github.com/guillermoBallester/rowguard/internal/core/port"
	"github.com/guillermoBallester/rowguard/internal/core/service"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"
)

// NewServer creates an MCPServer exposing the query guard tools. Every tool
// call runs as its own unit of work with a fresh statement registry.
func NewServer(version string, query *service.QueryService, maxRows int, logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(true),
		server.WithToolHandlerMiddleware(ToolCallMiddleware(logger, tracer, inst)),
	)

	RegisterTools(s, query, maxRows, logger)

	return s
}
