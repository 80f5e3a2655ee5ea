package postgres

import (
	"context"
	"log/slog"

	"github.com/guillermoBallester/rowguard/internal/core/port"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/tracelog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NewQueryTracer combines the statement listener with optional pgx logging
// and per-statement spans. The listener always runs first so that it sees
// statements in execution order regardless of the other tracers.
func NewQueryTracer(listener port.StatementListener, logger *slog.Logger, tracer trace.Tracer) pgx.QueryTracer {
	var tracers []pgx.QueryTracer
	if listener != nil {
		tracers = append(tracers, &statementTracer{listener: listener})
	}
	if logger != nil {
		tracers = append(tracers, &tracelog.TraceLog{
			Logger:   NewPgxLogger(logger),
			LogLevel: tracelog.LogLevelDebug,
		})
	}
	if tracer != nil {
		tracers = append(tracers, &spanTracer{tracer: tracer})
	}
	return &multiQueryTracer{Tracers: tracers}
}

// statementTracer implements pgx.QueryTracer. It hands the text of every
// Query, QueryRow and Exec call to the listener before pgx sends it.
type statementTracer struct {
	listener port.StatementListener
}

func (t *statementTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	t.listener.OnStatement(ctx, data.SQL)
	return ctx
}

func (t *statementTracer) TraceQueryEnd(context.Context, *pgx.Conn, pgx.TraceQueryEndData) {}

// spanTracer implements pgx.QueryTracer with one span per statement.
type spanTracer struct {
	tracer trace.Tracer
}

func (t *spanTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	ctx, _ = t.tracer.Start(ctx, "pgx.query", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement", data.SQL),
	))
	return ctx
}

func (t *spanTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("db.command_tag", data.CommandTag.String()))
	if data.Err != nil {
		span.RecordError(data.Err)
		span.SetStatus(codes.Error, data.Err.Error())
	}
	span.End()
}

// multiQueryTracer implements pgx.QueryTracer by fanning out to Tracers in order.
type multiQueryTracer struct {
	Tracers []pgx.QueryTracer
}

func (m *multiQueryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	for _, t := range m.Tracers {
		ctx = t.TraceQueryStart(ctx, conn, data)
	}
	return ctx
}

func (m *multiQueryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	for _, t := range m.Tracers {
		t.TraceQueryEnd(ctx, conn, data)
	}
}

// check interfaces
var (
	_ pgx.QueryTracer = (*statementTracer)(nil)
	_ pgx.QueryTracer = (*spanTracer)(nil)
	_ pgx.QueryTracer = (*multiQueryTracer)(nil)
)
