package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/guillermoBallester/rowguard/internal/core/domain"
	"github.com/guillermoBallester/rowguard/internal/core/port"
	"github.com/guillermoBallester/rowguard/internal/core/service"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server metadata
const serverName = "rowguard"

// Tool descriptions
const (
	descCheckQuery = "Classify a SELECT statement without running it. " +
		"Reports whether the statement is bounded by a row limit (LIMIT) or a key-set filter (IN), " +
		"and whether the configured policy exempts it. Unbounded statements are rejected by the iterate tool."

	descQuery = "Execute a read-only SQL query and return results as a JSON array of objects. " +
		"The server wraps the statement in a row limit, so this path never needs a LIMIT of its own. " +
		"Use it to fetch a bounded sample or a small, known result."

	descIterate = "Stream the rows of a read-only SQL query one at a time and return them as a JSON array of objects. " +
		"The statement must carry a LIMIT or an IN (...) key set; unbounded statements are rejected " +
		"with an explanation of how to paginate. Iterations that produce more rows than the server's row limit fail."

	descSQLParam = "SQL query (SELECT statements only)"
)

func RegisterTools(s *server.MCPServer, query *service.QueryService, maxRows int, logger *slog.Logger) {
	sqlParam := mcp.WithString("sql",
		mcp.Required(),
		mcp.Description(descSQLParam),
	)

	s.AddTool(
		mcp.NewTool("check_query",
			mcp.WithDescription(descCheckQuery),
			sqlParam,
		),
		checkQueryHandler(query, logger),
	)

	s.AddTool(
		mcp.NewTool("query",
			mcp.WithDescription(descQuery),
			sqlParam,
		),
		queryHandler(query, logger),
	)

	s.AddTool(
		mcp.NewTool("iterate",
			mcp.WithDescription(descIterate),
			sqlParam,
		),
		iterateHandler(query, maxRows, logger),
	)
}

func checkQueryHandler(query *service.QueryService, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, ok := request.GetArguments()["sql"].(string)
		if !ok || sql == "" {
			return mcp.NewToolResultError("sql is required"), nil
		}

		res, err := query.Check(ctx, sql)
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(logger, err, "check query")), nil
		}

		return jsonResult(res)
	}
}

func queryHandler(query *service.QueryService, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, ok := request.GetArguments()["sql"].(string)
		if !ok || sql == "" {
			return mcp.NewToolResultError("sql is required"), nil
		}

		results, err := query.Execute(ctx, sql)
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(logger, err, "query")), nil
		}

		return jsonResult(results)
	}
}

func iterateHandler(query *service.QueryService, maxRows int, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, ok := request.GetArguments()["sql"].(string)
		if !ok || sql == "" {
			return mcp.NewToolResultError("sql is required"), nil
		}

		rows := make([]port.Row, 0)
		_, err := query.Iterate(ctx, sql, func(row port.Row) error {
			if maxRows > 0 && len(rows) >= maxRows {
				return fmt.Errorf("%w: more than %d rows", domain.ErrRowLimit, maxRows)
			}
			rows = append(rows, row)
			return nil
		})
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(logger, err, "iterate")), nil
		}

		return jsonResult(rows)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// sanitizeError turns err into a message safe to hand back to the client.
// Validation errors, guard rejections and row limit failures are returned
// verbatim; anything else is logged and replaced with a generic message.
func sanitizeError(logger *slog.Logger, err error, op string) string {
	switch {
	case errors.Is(err, domain.ErrEmptyQuery),
		errors.Is(err, domain.ErrNotAllowed),
		errors.Is(err, domain.ErrMultiStatement),
		errors.Is(err, domain.ErrParseFailed),
		errors.Is(err, domain.ErrRowLimit),
		errors.Is(err, domain.ErrUnsafeQuery):
		return fmt.Sprintf("%s failed: %v", op, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s failed: query timed out", op)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "57014" {
		return fmt.Sprintf("%s failed: query timed out", op)
	}

	logger.Error(op+" failed", slog.String("error.message", err.Error()))
	return fmt.Sprintf("%s failed: internal error, check server logs", op)
}
