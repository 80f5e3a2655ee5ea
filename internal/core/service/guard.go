package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/guillermoBallester/rowguard/internal/core/domain"
	"github.com/guillermoBallester/rowguard/internal/core/port"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// guardFrames is the number of guard frames above NewUnsafeQueryError's
// caller: check itself and the exported entry point that called it.
const guardFrames = 2

// CheckResult is the guard's verdict on a statement.
type CheckResult struct {
	SQL    string `json:"sql"`
	Bound  string `json:"bound"`
	Safe   bool   `json:"safe"`
	Exempt bool   `json:"exempt,omitempty"`
}

// Guard rejects row-by-row iterations whose first executed statement has
// neither a row limit nor a key-set filter. Statements are observed through
// the domain.Registry carried by the iteration's context, which a
// port.StatementListener fills while the iteration runs.
type Guard struct {
	classifier port.QueryClassifier
	exemptions port.ExemptionPolicy
	logger     *slog.Logger
	tracer     trace.Tracer
	inst       port.Instrumentation
}

func NewGuard(classifier port.QueryClassifier, exemptions port.ExemptionPolicy, logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *Guard {
	if classifier == nil {
		classifier = domain.NewMarkerClassifier()
	}
	if exemptions == nil {
		exemptions = port.NoExemptions{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	return &Guard{
		classifier: classifier,
		exemptions: exemptions,
		logger:     logger,
		tracer:     tracer,
		inst:       inst,
	}
}

// Each runs it, handing every row to fn unchanged. Once the iteration
// completes it inspects the first statement executed and returns a
// *domain.UnsafeQueryError if that statement is unbounded. Errors from the
// iteration itself are returned as is and skip the inspection, except
// domain.ErrRowLimit: a consumer that stops at a row cap still gets the
// verdict, and an unbounded statement reports the UnsafeQueryError instead.
func (g *Guard) Each(ctx context.Context, it port.RowIterator, fn port.RowFunc) error {
	_, err := g.check(ctx, it, fn)
	return err
}

// Run is Each that also reports the classification of the inspected statement.
func (g *Guard) Run(ctx context.Context, it port.RowIterator, fn port.RowFunc) (domain.Bound, error) {
	return g.check(ctx, it, fn)
}

// Wrap returns an iterator with the same contract as it, guarded by g.
func (g *Guard) Wrap(it port.RowIterator) port.RowIterator {
	return &guardedIterator{guard: g, inner: it}
}

// Classify reports the verdict the guard would reach for sql without running it.
func (g *Guard) Classify(sql string) CheckResult {
	bound := g.classifier.Classify(sql)
	res := CheckResult{SQL: sql, Bound: bound.String(), Safe: bound.Safe()}
	if !res.Safe && g.exemptions.Exempt(sql) {
		res.Safe = true
		res.Exempt = true
	}
	return res
}

type guardedIterator struct {
	guard *Guard
	inner port.RowIterator
}

func (it *guardedIterator) Each(ctx context.Context, fn port.RowFunc) error {
	_, err := it.guard.check(ctx, it.inner, fn)
	return err
}

func (g *Guard) check(ctx context.Context, it port.RowIterator, fn port.RowFunc) (domain.Bound, error) {
	ctx, reg := domain.EnsureRegistry(ctx)
	reg.Reset()

	ctx, span := g.tracer.Start(ctx, "Guard.Each")
	defer span.End()

	iterErr := it.Each(ctx, fn)
	if iterErr != nil && !errors.Is(iterErr, domain.ErrRowLimit) {
		span.RecordError(iterErr)
		span.SetStatus(codes.Error, iterErr.Error())
		return domain.BoundNone, iterErr
	}

	sql := reg.First()
	bound := g.classifier.Classify(sql)
	span.SetAttributes(
		attribute.String("db.statement", sql),
		attribute.String("rowguard.bound", bound.String()),
	)

	if bound.Safe() || g.exemptions.Exempt(sql) {
		if !bound.Safe() {
			g.logger.DebugContext(ctx, "unbounded iteration allowed by exemption",
				slog.String("db.statement", sql),
			)
			span.SetAttributes(attribute.Bool("rowguard.exempt", true))
		}
		if iterErr != nil {
			span.RecordError(iterErr)
			span.SetStatus(codes.Error, iterErr.Error())
		}
		return bound, iterErr
	}

	err := domain.NewUnsafeQueryError(sql, bound, guardFrames)
	g.inst.IncrementGuardViolations(ctx, bound.String())
	g.logger.WarnContext(ctx, "unbounded row iteration rejected",
		slog.String("db.statement", sql),
		slog.String("error.type", "unsafe_query"),
		slog.String("code.location", err.Location()),
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, "unbounded row iteration")
	return bound, err
}
