package outbox

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "ergorisk"

var (
	// outboxEvents counts dispatched rows by result; the per-result counters below are views of it.
	outboxEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "outbox",
		Name:      "events_total",
		Help:      "Outbox events handled by the dispatcher, by result (delivered, failed).",
	}, []string{"result"})

	deliveredCounter = outboxEvents.WithLabelValues("delivered")
	failedCounter    = outboxEvents.WithLabelValues("failed")

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Wall time of one claimed batch, from claim to marking.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	dlqCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "outbox",
		Name:      "dead_lettered_total",
		Help:      "Outbox events diverted to the DLQ, by topic.",
	}, []string{"topic"})

	markedPublishedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "assessments",
		Name:      "published_total",
		Help:      "Assessments moved from scored to published.",
	})
)

func init() {
	prometheus.MustRegister(outboxEvents, batchDuration, dlqCounter, markedPublishedCounter)
}
