package proceeding

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type engineMetrics struct {
	admitted  metric.Int64Counter
	rejected  metric.Int64Counter
	decisions metric.Int64Counter
	upstream  metric.Int64Counter
}

func newEngineMetrics() engineMetrics {
	meter := otel.Meter("jurisflow/proceeding")

	var m engineMetrics
	m.admitted, _ = meter.Int64Counter("proceeding.arguments.admitted",
		metric.WithDescription("Arguments appended to a ledger"))
	m.rejected, _ = meter.Int64Counter("proceeding.mutations.rejected",
		metric.WithDescription("Mutations refused by the progression rules"))
	m.decisions, _ = meter.Int64Counter("proceeding.decisions.recorded",
		metric.WithDescription("Decisions appended to a case"))
	m.upstream, _ = meter.Int64Counter("proceeding.adjudication.failures",
		metric.WithDescription("Adjudication calls that failed or timed out"))
	return m
}

func (m engineMetrics) argumentAdmitted(ctx context.Context, side Side, t ArgumentType) {
	if m.admitted != nil {
		m.admitted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("side", string(side)),
			attribute.String("type", string(t)),
		))
	}
}

func (m engineMetrics) rejection(ctx context.Context, op string, err error) {
	if m.rejected == nil || !IsRejection(err) {
		return
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("reason", rejectionReason(err)),
	))
}

func (m engineMetrics) decisionRecorded(ctx context.Context, t DecisionType) {
	if m.decisions != nil {
		m.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(t))))
	}
}

func (m engineMetrics) upstreamFailure(ctx context.Context, t DecisionType) {
	if m.upstream != nil {
		m.upstream.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(t))))
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrCaseClosed):
		return "case_closed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "validation"
	}
}
