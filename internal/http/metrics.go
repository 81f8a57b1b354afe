package http

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/marketlabs/cabinetd/internal/http"

// HTTPMetrics holds HTTP server metrics.
type HTTPMetrics struct {
	meter         metric.Meter
	logger        *zap.Logger
	requestsTotal metric.Int64Counter
	requestDur    metric.Float64Histogram
	responseSize  metric.Int64Histogram
}

// NewHTTPMetrics creates an HTTPMetrics instance.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &HTTPMetrics{
		meter:  otel.Meter(httpInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *HTTPMetrics) init() {
	var err error

	m.requestsTotal, err = m.meter.Int64Counter(
		"cabinetd.http.requests_total",
		metric.WithDescription("Total HTTP requests by method, route and status"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create requests counter", zap.Error(err))
	}

	m.requestDur, err = m.meter.Float64Histogram(
		"cabinetd.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.responseSize, err = m.meter.Int64Histogram(
		"cabinetd.http.response_size_bytes",
		metric.WithDescription("HTTP response size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		m.logger.Warn("failed to create response size histogram", zap.Error(err))
	}
}

// RecordRequest records one completed HTTP request. Route is the echo
// route pattern, not the raw URI, to keep cardinality bounded.
func (m *HTTPMetrics) RecordRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration, size int64) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(statusCode)),
	)

	if m.requestsTotal != nil {
		m.requestsTotal.Add(ctx, 1, attrs)
	}
	if m.requestDur != nil {
		m.requestDur.Record(ctx, duration.Seconds(), attrs)
	}
	if m.responseSize != nil && size > 0 {
		m.responseSize.Record(ctx, size, attrs)
	}
}
