package retrieval

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Empty-result reasons reported to telemetry. "no_documents" means the
// backend answered with nothing relevant; "backend_unavailable" means the
// call itself failed.
const (
	EmptyReasonNoDocuments        = "no_documents"
	EmptyReasonBackendUnavailable = "backend_unavailable"
)

var (
	metricsOnce      sync.Once
	metricsMu        sync.Mutex
	metricsInitErr   error
	queryLatencyHist metric.Float64Histogram
	emptyCounter     metric.Int64Counter
	rerankFallbacks  metric.Int64Counter
)

func RecordQueryLatency(ctx context.Context, d time.Duration) {
	if err := ensureMetrics(); err != nil || queryLatencyHist == nil {
		return
	}
	queryLatencyHist.Record(ctx, d.Seconds())
}

func RecordEmptyResult(ctx context.Context, reason string) {
	if err := ensureMetrics(); err != nil || emptyCounter == nil {
		return
	}
	emptyCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func RecordRerankFallback(ctx context.Context) {
	if err := ensureMetrics(); err != nil || rerankFallbacks == nil {
		return
	}
	rerankFallbacks.Add(ctx, 1)
}

func ResetMetricsForTesting() {
	metricsMu.Lock()
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	queryLatencyHist = nil
	emptyCounter = nil
	rerankFallbacks = nil
	metricsMu.Unlock()
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("answergrid.retrieval")
		var err error
		queryLatencyHist, err = meter.Float64Histogram(
			"answergrid_retrieval_query_latency_seconds",
			metric.WithDescription("Latency of retrieval queries end to end"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5),
		)
		if err != nil {
			metricsInitErr = err
			return
		}
		emptyCounter, err = meter.Int64Counter(
			"answergrid_retrieval_empty_total",
			metric.WithDescription("Retrieval attempts that produced no contexts, by reason"),
			metric.WithUnit("1"),
		)
		if err != nil {
			metricsInitErr = err
			return
		}
		rerankFallbacks, err = meter.Int64Counter(
			"answergrid_retrieval_rerank_fallback_total",
			metric.WithDescription("Rerank calls that failed and fell back to fused local ordering"),
			metric.WithUnit("1"),
		)
		if err != nil {
			metricsInitErr = err
		}
	})
	return metricsInitErr
}
