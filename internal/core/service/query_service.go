package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/guillermoBallester/rowguard/internal/core/domain"
	"github.com/guillermoBallester/rowguard/internal/core/port"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type toolNameKey struct{}

// WithToolName returns a context carrying the MCP tool name for audit logging.
func WithToolName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, toolNameKey{}, name)
}

func toolNameFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(toolNameKey{}).(string); ok {
		return v
	}
	return ""
}

// QueryService orchestrates SQL validation (domain), guarded iteration and
// bounded execution (infrastructure).
type QueryService struct {
	validator port.QueryValidator
	executor  port.QueryExecutor
	source    port.RowSource
	guard     *Guard
	auditor   port.QueryAuditor
	logger    *slog.Logger
	tracer    trace.Tracer
	inst      port.Instrumentation
}

func NewQueryService(validator port.QueryValidator, executor port.QueryExecutor, source port.RowSource, guard *Guard, auditor port.QueryAuditor, logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *QueryService {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	if auditor == nil {
		auditor = port.NoopAuditor{}
	}
	return &QueryService{
		validator: validator,
		executor:  executor,
		source:    source,
		guard:     guard,
		auditor:   auditor,
		logger:    logger,
		tracer:    tracer,
		inst:      inst,
	}
}

// Check classifies sql without executing it.
func (s *QueryService) Check(ctx context.Context, sql string) (CheckResult, error) {
	if err := s.validate(ctx, sql); err != nil {
		return CheckResult{}, err
	}
	return s.guard.Classify(sql), nil
}

// Execute validates the SQL statement and, if allowed, materializes a bounded
// result through the executor. This path is never guarded: the executor caps
// the row count itself.
func (s *QueryService) Execute(ctx context.Context, sql string) ([]map[string]any, error) {
	ctx, span := s.tracer.Start(ctx, "QueryService.Execute",
		trace.WithAttributes(
			attribute.String("db.operation.name", "query"),
			attribute.String("db.statement", sql),
		),
	)
	defer span.End()

	if err := s.validate(ctx, sql); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	start := time.Now()
	results, err := s.executor.Execute(ctx, sql)
	durationMS := time.Since(start).Milliseconds()

	s.inst.RecordQueryDuration(ctx, float64(durationMS))

	s.auditor.Record(ctx, port.AuditEntry{
		Tool:         toolNameFromCtx(ctx),
		SQL:          sql,
		RowsReturned: len(results),
		DurationMS:   durationMS,
		Err:          err,
	})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.inst.IncrementQueryErrors(ctx)
		return results, err
	}

	s.inst.IncrementQueryCount(ctx)
	span.SetAttributes(attribute.Int("db.response.rows", len(results)))

	return results, nil
}

// Iterate validates sql and streams its rows to fn under the guard. It returns
// the number of rows handed to fn.
func (s *QueryService) Iterate(ctx context.Context, sql string, fn port.RowFunc) (int, error) {
	ctx, span := s.tracer.Start(ctx, "QueryService.Iterate",
		trace.WithAttributes(
			attribute.String("db.operation.name", "iterate"),
			attribute.String("db.statement", sql),
		),
	)
	defer span.End()

	if err := s.validate(ctx, sql); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	var rows int
	counted := func(row port.Row) error {
		rows++
		return fn(row)
	}

	start := time.Now()
	bound, err := s.guard.Run(ctx, s.source.Iterate(sql), counted)
	durationMS := time.Since(start).Milliseconds()

	s.inst.RecordQueryDuration(ctx, float64(durationMS))

	verdict := bound.String()
	if err != nil && !errors.Is(err, domain.ErrUnsafeQuery) && !errors.Is(err, domain.ErrRowLimit) {
		verdict = ""
	}
	s.auditor.Record(ctx, port.AuditEntry{
		Tool:         toolNameFromCtx(ctx),
		SQL:          sql,
		Verdict:      verdict,
		RowsReturned: rows,
		DurationMS:   durationMS,
		Err:          err,
	})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.inst.IncrementQueryErrors(ctx)
		return rows, err
	}

	s.inst.IncrementQueryCount(ctx)
	span.SetAttributes(
		attribute.Int("db.response.rows", rows),
		attribute.String("rowguard.bound", verdict),
	)
	return rows, nil
}

func (s *QueryService) validate(ctx context.Context, sql string) error {
	if err := s.validator.Validate(sql); err != nil {
		s.logger.WarnContext(ctx, "query validation rejected",
			slog.String("db.statement", sql),
			slog.String("error.type", "validation_error"),
		)
		s.inst.IncrementQueryErrors(ctx)
		return fmt.Errorf("validation: %w", err)
	}
	return nil
}
