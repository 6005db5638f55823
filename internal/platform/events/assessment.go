// Package events defines shared cross-service event payloads.
package events

import "time"

// Event type names carried in the outbox and on the wire.
const (
	TypeAssessmentScored = "assessment.scored"
	TypeHighRiskDetected = "assessment.high_risk"
)

// AssessmentScored is emitted when a posture assessment has been scored and stored.
type AssessmentScored struct {
	AssessmentID   string           `json:"assessment_id"`
	TenantID       string           `json:"tenant_id"`
	UserID         string           `json:"user_id"`
	Source         string           `json:"source"`
	CompositeScore int              `json:"composite_score"`
	ActionLevel    string           `json:"action_level"`
	Breakdown      ScoreBreakdown   `json:"breakdown"`
	Angles         AggregatedAngles `json:"angles"`
	FramesAnalyzed int              `json:"frames_analyzed"`
	CapturedAt     time.Time        `json:"captured_at"`
	Version        string           `json:"version"`
}

// HighRiskPostureDetected is emitted when the composite score reaches the alert threshold.
type HighRiskPostureDetected struct {
	AssessmentID   string    `json:"assessment_id"`
	TenantID       string    `json:"tenant_id"`
	UserID         string    `json:"user_id"`
	CompositeScore int       `json:"composite_score"`
	ActionLevel    string    `json:"action_level"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// ScoreBreakdown mirrors the region and group scores.
type ScoreBreakdown struct {
	UpperArm int `json:"upper_arm"`
	LowerArm int `json:"lower_arm"`
	Wrist    int `json:"wrist"`
	Neck     int `json:"neck"`
	Trunk    int `json:"trunk"`
	GroupA   int `json:"group_a"`
	GroupB   int `json:"group_b"`
}

// AggregatedAngles carries the mean joint angles in degrees.
type AggregatedAngles struct {
	ShoulderFlexion float64 `json:"shoulder_flexion_deg"`
	ElbowFlexion    float64 `json:"elbow_flexion_deg"`
	WristNeutral    float64 `json:"wrist_neutral_deg"`
	NeckFlexion     float64 `json:"neck_flexion_deg"`
	TrunkFlexion    float64 `json:"trunk_flexion_deg"`
}
