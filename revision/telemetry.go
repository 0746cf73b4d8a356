package revision

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("gorevision/revision")
	meter  = otel.Meter("gorevision/revision")
)

var (
	revisionsTotal metric.Int64Counter
	changesTotal   metric.Int64Counter
	skippedTotal   metric.Int64Counter

	metricsOnce sync.Once
)

func initMetrics() {
	metricsOnce.Do(func() {
		var err error
		revisionsTotal, err = meter.Int64Counter(
			"revision_revisions_total",
			metric.WithDescription("Revisions persisted by tracked writes"),
		)
		if err != nil {
			revisionsTotal = nil
		}
		changesTotal, err = meter.Int64Counter(
			"revision_changes_total",
			metric.WithDescription("Field-level revision changes persisted"),
		)
		if err != nil {
			changesTotal = nil
		}
		skippedTotal, err = meter.Int64Counter(
			"revision_skipped_total",
			metric.WithDescription("Tracked writes that produced no revision"),
		)
		if err != nil {
			skippedTotal = nil
		}
	})
}

// startTrackSpan 为一次受追踪写入开启 span
func startTrackSpan(ctx context.Context, model string, op Operation) (context.Context, trace.Span) {
	initMetrics()
	return tracer.Start(ctx, "revision.track",
		trace.WithAttributes(
			attribute.String("revision.model", model),
			attribute.String("revision.operation", string(op)),
		),
	)
}

func recordRevision(ctx context.Context, model string, op Operation, changes int) {
	initMetrics()
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", string(op)),
	)
	if revisionsTotal != nil {
		revisionsTotal.Add(ctx, 1, attrs)
	}
	if changesTotal != nil && changes > 0 {
		changesTotal.Add(ctx, int64(changes), attrs)
	}
}

func recordSkipped(ctx context.Context, model string, op Operation, reason string) {
	initMetrics()
	if skippedTotal == nil {
		return
	}
	skippedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", string(op)),
		attribute.String("reason", reason),
	))
}
