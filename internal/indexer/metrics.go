package indexer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const indexerInstrumentationName = "github.com/marketlabs/cabinetd/internal/indexer"

// Metrics holds indexing run metrics.
type Metrics struct {
	meter    metric.Meter
	logger   *zap.Logger
	runs     metric.Int64Counter
	chunks   metric.Int64Counter
	skipped  metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMetrics creates a Metrics instance for the indexer.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(indexerInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.runs, err = m.meter.Int64Counter(
		"cabinetd.indexer.runs_total",
		metric.WithDescription("Total indexing runs by result (completed, failed)"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		m.logger.Warn("failed to create runs counter", zap.Error(err))
	}

	m.chunks, err = m.meter.Int64Counter(
		"cabinetd.indexer.chunks_indexed_total",
		metric.WithDescription("Total chunks embedded and upserted"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		m.logger.Warn("failed to create chunks counter", zap.Error(err))
	}

	m.skipped, err = m.meter.Int64Counter(
		"cabinetd.indexer.chunks_skipped_total",
		metric.WithDescription("Total chunks skipped because their content hash was unchanged"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		m.logger.Warn("failed to create skipped counter", zap.Error(err))
	}

	m.duration, err = m.meter.Float64Histogram(
		"cabinetd.indexer.run_duration_seconds",
		metric.WithDescription("Duration of indexing runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}
}

// RecordRun records the outcome of one indexing run.
func (m *Metrics) RecordRun(ctx context.Context, result string, duration time.Duration, indexed, skipped int) {
	attrs := metric.WithAttributes(attribute.String("result", result))

	if m.runs != nil {
		m.runs.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if indexed > 0 && m.chunks != nil {
		m.chunks.Add(ctx, int64(indexed))
	}
	if skipped > 0 && m.skipped != nil {
		m.skipped.Add(ctx, int64(skipped))
	}
}
