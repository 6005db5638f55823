package consumer

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	messagesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ergorisk",
		Subsystem: "consumer",
		Name:      "messages_total",
		Help:      "Consumed records by topic, event type and result (processed, handler_error, undecodable).",
	}, []string{"topic", "event_type", "result"})

	highRiskCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ergorisk",
		Subsystem: "consumer",
		Name:      "high_risk_alerts_total",
		Help:      "High-risk posture alerts consumed, by composite score.",
	}, []string{"composite"})

	lastRecordGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ergorisk",
		Subsystem: "consumer",
		Name:      "last_record_timestamp_seconds",
		Help:      "Kafka timestamp of the newest processed record per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(messagesCounter, highRiskCounter, lastRecordGauge)
}

func recordProcessed(msg Message) {
	messagesCounter.WithLabelValues(msg.Topic, msg.EventType, "processed").Inc()
	if !msg.Timestamp.IsZero() {
		lastRecordGauge.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
	}
}

func recordHandlerError(msg Message) {
	messagesCounter.WithLabelValues(msg.Topic, msg.EventType, "handler_error").Inc()
}

// Undecodable records have no trustworthy event type.
func recordDecodeError(topic string) {
	messagesCounter.WithLabelValues(topic, "", "undecodable").Inc()
}

func recordHighRisk(composite int) {
	highRiskCounter.WithLabelValues(strconv.Itoa(composite)).Inc()
}
