package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/guillermoBallester/rowguard/internal/core/domain"
	"github.com/guillermoBallester/rowguard/internal/core/port"
	"github.com/guillermoBallester/rowguard/internal/core/service"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ToolCallMiddleware scopes each tool call to its own statement registry and
// tool name, then logs the call and records its span and duration.
func ToolCallMiddleware(logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) server.ToolHandlerMiddleware {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}

	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			tool := req.Params.Name
			start := time.Now()

			ctx, _ = domain.WithRegistry(ctx)
			ctx = service.WithToolName(ctx, tool)
			ctx, span := tracer.Start(ctx, "mcp.tool.call",
				trace.WithAttributes(attribute.String("mcp.tool", tool)),
			)
			defer span.End()

			result, err := next(ctx, req)
			duration := time.Since(start)

			attrs := []slog.Attr{
				slog.String("rpc.method", "tools/call"),
				slog.String("mcp.tool", tool),
				slog.Duration("duration", duration),
			}

			switch {
			case err != nil:
				attrs = append(attrs, slog.Bool("error", true), slog.String("error.message", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "tool call", attrs...)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			case result != nil && result.IsError:
				attrs = append(attrs, slog.Bool("error", true))
				logger.LogAttrs(ctx, slog.LevelError, "tool call", attrs...)
				span.RecordError(fmt.Errorf("tool %s returned error", tool))
				span.SetStatus(codes.Error, "tool returned error")
			default:
				attrs = append(attrs, slog.Bool("error", false))
				logger.LogAttrs(ctx, slog.LevelInfo, "tool call", attrs...)
			}

			inst.RecordToolDuration(ctx, float64(duration.Milliseconds()))

			return result, err
		}
	}
}
