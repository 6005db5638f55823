package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validScored() AssessmentScored {
	return AssessmentScored{
		AssessmentID:   "a-1",
		TenantID:       "tenant-1",
		UserID:         "user-1",
		Source:         "webcam",
		CompositeScore: 7,
		ActionLevel:    "change_immediately",
		Breakdown:      ScoreBreakdown{UpperArm: 1, LowerArm: 2, Wrist: 3, Neck: 4, Trunk: 4, GroupA: 3, GroupB: 4},
		Angles:         AggregatedAngles{ShoulderFlexion: 10, ElbowFlexion: 90, WristNeutral: 180, NeckFlexion: 50, TrunkFlexion: 70},
		FramesAnalyzed: 3,
		CapturedAt:     time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		Version:        "v1",
	}
}

func TestSchemasAreValidJSON(t *testing.T) {
	for eventType, src := range schemaSources {
		assert.Truef(t, json.Valid([]byte(src)), "schema for %s", eventType)
	}
	_, ok := Schema("assessment.unknown")
	assert.False(t, ok)
}

func TestValidatePayloadAcceptsEmittedEvents(t *testing.T) {
	scored, err := json.Marshal(validScored())
	require.NoError(t, err)
	require.NoError(t, ValidatePayload(TypeAssessmentScored, scored))

	alert, err := json.Marshal(HighRiskPostureDetected{
		AssessmentID:   "a-1",
		TenantID:       "tenant-1",
		UserID:         "user-1",
		CompositeScore: 6,
		ActionLevel:    "change_soon",
		OccurredAt:     time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, ValidatePayload(TypeHighRiskDetected, alert))
}

func TestValidatePayloadReportsViolations(t *testing.T) {
	evt := validScored()
	evt.CompositeScore = 9
	evt.ActionLevel = "panic"
	body, err := json.Marshal(evt)
	require.NoError(t, err)

	err = ValidatePayload(TypeAssessmentScored, body)
	require.ErrorIs(t, err, ErrSchemaViolation)
	assert.Contains(t, err.Error(), "composite_score")
	assert.Contains(t, err.Error(), "action_level")

	err = ValidatePayload(TypeHighRiskDetected, []byte(`{"assessment_id":"a-1","extra":true}`))
	require.ErrorIs(t, err, ErrSchemaViolation)

	require.ErrorIs(t, ValidatePayload(TypeAssessmentScored, []byte(`{`)), ErrSchemaViolation)
	require.Error(t, ValidatePayload("assessment.unknown", []byte(`{}`)))
}
