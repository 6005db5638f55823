package domain

import (
	"time"

	"example.com/ergorisk/internal/pose"
	"example.com/ergorisk/internal/rula"
)

// AssessmentState represents the processing status of an assessment.
type AssessmentState string

const (
	AssessmentStateScored    AssessmentState = "scored"
	AssessmentStatePublished AssessmentState = "published"
)

// AssessmentAggregate is the scored posture record stored in PostgreSQL and published downstream.
type AssessmentAggregate struct {
	ID             string
	TenantID       string
	UserID         string
	Source         string
	Angles         pose.AngleSet
	Score          rula.Score
	FramesAnalyzed int
	FramesRejected int
	WristMode      string
	HighRisk       bool
	Version        string
	State          AssessmentState
	CapturedAt     time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ActionLevel derives the RULA action level of the stored composite.
func (a AssessmentAggregate) ActionLevel() rula.ActionLevel {
	return a.Score.ActionLevel()
}

// AssessmentSummary describes aggregate stats for a user's assessments inside a window.
type AssessmentSummary struct {
	Total            int
	HighRisk         int
	AverageComposite float64
	MaxComposite     int
	ByActionLevel    map[string]int
	LastAssessedAt   *time.Time
}

// AssessmentMetrics merges the summary with the most recent assessments.
type AssessmentMetrics struct {
	Summary       AssessmentSummary
	HighRiskRate  float64
	Timeline      []AssessmentAggregate
	WindowSeconds int64
}

// Summarize folds assessments into a summary. Repositories without server-side aggregation use it.
func Summarize(aggregates []AssessmentAggregate) AssessmentSummary {
	summary := AssessmentSummary{ByActionLevel: make(map[string]int)}
	if len(aggregates) == 0 {
		return summary
	}

	total := 0
	for i := range aggregates {
		agg := aggregates[i]
		summary.Total++
		total += agg.Score.Composite
		if agg.HighRisk {
			summary.HighRisk++
		}
		if agg.Score.Composite > summary.MaxComposite {
			summary.MaxComposite = agg.Score.Composite
		}
		summary.ByActionLevel[agg.ActionLevel().String()]++
		if summary.LastAssessedAt == nil || agg.CapturedAt.After(*summary.LastAssessedAt) {
			captured := agg.CapturedAt
			summary.LastAssessedAt = &captured
		}
	}
	summary.AverageComposite = float64(total) / float64(summary.Total)
	return summary
}
