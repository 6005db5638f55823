package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	assessmentPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ergorisk",
		Subsystem: "persistence",
		Name:      "last_assessment_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent assessment persisted.",
	})
	assessmentPublishedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ergorisk",
		Subsystem: "persistence",
		Name:      "last_assessment_published_timestamp_seconds",
		Help:      "Unix timestamp of the most recent assessment transitioned to published.",
	})
	compositeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ergorisk",
		Subsystem: "scoring",
		Name:      "assessments_total",
		Help:      "Number of scored assessments, labeled by composite score.",
	}, []string{"composite"})
	framesHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ergorisk",
		Subsystem: "scoring",
		Name:      "frames_per_assessment",
		Help:      "Frames analyzed or rejected per assessment.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(assessmentPersistGauge, assessmentPublishedGauge, compositeCounter, framesHistogram)
}

// RecordAssessmentPersisted updates the persistence watermark gauge.
func RecordAssessmentPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	assessmentPersistGauge.Set(float64(ts.Unix()))
}

// RecordAssessmentPublished updates the published watermark gauge.
func RecordAssessmentPublished(ts time.Time) {
	if ts.IsZero() {
		return
	}
	assessmentPublishedGauge.Set(float64(ts.Unix()))
}

// RecordScore counts a scored assessment and its frame usage.
func RecordScore(composite, analyzed, rejected int) {
	compositeCounter.WithLabelValues(strconv.Itoa(composite)).Inc()
	framesHistogram.WithLabelValues("analyzed").Observe(float64(analyzed))
	if rejected > 0 {
		framesHistogram.WithLabelValues("rejected").Observe(float64(rejected))
	}
}
