package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	dlqOutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "dlq",
		Name:      "entries_handled_total",
		Help:      "DLQ entries handled by the manager, by outcome (requeued, retry_scheduled, quarantined).",
	}, []string{"topic", "event_type", "outcome"})

	dlqBacklogGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "dlq",
		Name:      "backlog_entries",
		Help:      "Entries waiting in the DLQ, excluding quarantined ones.",
	})

	dlqQuarantineGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "dlq",
		Name:      "quarantined_entries",
		Help:      "Entries parked for manual inspection after exhausting retries.",
	})
)

const (
	outcomeRequeued       = "requeued"
	outcomeRetryScheduled = "retry_scheduled"
	outcomeQuarantined    = "quarantined"
)

func init() {
	prometheus.MustRegister(dlqOutcomeCounter, dlqBacklogGauge, dlqQuarantineGauge)
}

func recordDLQRequeued(entry dlqEntry) {
	dlqOutcomeCounter.WithLabelValues(entry.Topic, entry.EventType, outcomeRequeued).Inc()
}

func recordDLQQuarantined(entry dlqEntry) {
	dlqOutcomeCounter.WithLabelValues(entry.Topic, entry.EventType, outcomeQuarantined).Inc()
}

func recordDLQRetry(entry dlqEntry) {
	dlqOutcomeCounter.WithLabelValues(entry.Topic, entry.EventType, outcomeRetryScheduled).Inc()
}

// updateBacklogGauge refreshes both DLQ gauges; a failed read leaves the last values.
func updateBacklogGauge(ctx context.Context, pool *pgxpool.Pool) {
	var pending, quarantined int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE quarantined_at IS NULL),
		       COUNT(*) FILTER (WHERE quarantined_at IS NOT NULL)
		  FROM outbox_dlq`).Scan(&pending, &quarantined)
	if err != nil {
		return
	}
	dlqBacklogGauge.Set(float64(pending))
	dlqQuarantineGauge.Set(float64(quarantined))
}
