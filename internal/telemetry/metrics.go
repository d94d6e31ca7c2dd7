package telemetry

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vtt-scp/ccom-logger/internal/logging"
)

const namespace = "ccom_logger"

var (
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_received_total",
		Help:      "Raw broker messages handed to the ingestion path.",
	}, []string{"source"})

	MessagesMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_malformed_total",
		Help:      "Messages dropped whole because the envelope could not be parsed.",
	})

	MessagesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_rejected_total",
		Help:      "Messages delivered after ingestion was closed.",
	})

	EntitiesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entities_decoded_total",
		Help:      "Entities turned into records and pushed to the buffer.",
	})

	EntitiesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entities_skipped_total",
		Help:      "Entities skipped because a required field was missing or invalid.",
	})

	BufferEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "buffer_evictions_total",
		Help:      "Records evicted from the head of a full buffer.",
	})

	BufferDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "buffer_depth",
		Help:      "Records currently waiting in the buffer.",
	})

	BufferCapacity = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "buffer_capacity",
		Help:      "Configured buffer capacity.",
	})

	BatchesCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_committed_total",
		Help:      "Drain cycles that ended in a successful commit.",
	})

	RowsCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_committed_total",
		Help:      "Records committed to the store.",
	})

	StoreFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_failures_total",
		Help:      "Failed store operations, including retried ones.",
	}, []string{"op"})

	RecordsLost = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_lost_total",
		Help:      "Records in batches that failed after all retries.",
	})

	FlushSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "flush_duration_seconds",
		Help:      "Time spent copying and committing one batch.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	CoordinatorState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "coordinator_state",
		Help:      "Shutdown coordinator state: 0 running, 1 stopping, 2 draining, 3 closed.",
	})
)

// Expose serves /metrics on port in the background. The returned server is
// shut down by the caller.
func Expose(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Component("telemetry").Error("metrics server stopped", "port", port, "err", err)
		}
	}()
	return srv
}
