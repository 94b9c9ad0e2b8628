package mcp

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Connect outcomes reported to telemetry.
const (
	connectOutcomeSuccess = "success"
	connectOutcomeFailure = "failure"
)

var (
	metricsOnce     sync.Once
	metricsMu       sync.Mutex
	metricsInitErr  error
	connectCounter  metric.Int64Counter
	toolCallCounter metric.Int64Counter
)

func recordConnect(ctx context.Context, server, outcome string) {
	if err := ensureMetrics(); err != nil || connectCounter == nil {
		return
	}
	connectCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server", server),
		attribute.String("outcome", outcome),
	))
}

func recordToolCall(ctx context.Context, server string, failed bool) {
	if err := ensureMetrics(); err != nil || toolCallCounter == nil {
		return
	}
	outcome := connectOutcomeSuccess
	if failed {
		outcome = connectOutcomeFailure
	}
	toolCallCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server", server),
		attribute.String("outcome", outcome),
	))
}

func ResetMetricsForTesting() {
	metricsMu.Lock()
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	connectCounter = nil
	toolCallCounter = nil
	metricsMu.Unlock()
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("answergrid.mcp")
		var err error
		connectCounter, err = meter.Int64Counter(
			"answergrid_mcp_connect_total",
			metric.WithDescription("Remote server connection attempts, by server and outcome"),
			metric.WithUnit("1"),
		)
		if err != nil {
			metricsInitErr = err
			return
		}
		toolCallCounter, err = meter.Int64Counter(
			"answergrid_mcp_tool_calls_total",
			metric.WithDescription("Remote tool invocations, by server and outcome"),
			metric.WithUnit("1"),
		)
		if err != nil {
			metricsInitErr = err
		}
	})
	return metricsInitErr
}
