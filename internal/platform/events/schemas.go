package events

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ErrSchemaViolation marks payloads that do not conform to the schema of their event type.
var ErrSchemaViolation = errors.New("payload violates event schema")

var schemaSources = map[string]string{
	TypeAssessmentScored: AssessmentScoredSchema,
	TypeHighRiskDetected: HighRiskPostureSchema,
}

// Schema returns the JSON schema for eventType.
func Schema(eventType string) (string, bool) {
	s, ok := schemaSources[eventType]
	return s, ok
}

var compiledSchemas = sync.OnceValues(func() (map[string]*gojsonschema.Schema, error) {
	out := make(map[string]*gojsonschema.Schema, len(schemaSources))
	for eventType, src := range schemaSources {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", eventType, err)
		}
		out[eventType] = schema
	}
	return out, nil
})

// ValidatePayload checks payload against the schema of eventType. Every violation is listed in
// the returned error, which wraps ErrSchemaViolation.
func ValidatePayload(eventType string, payload []byte) error {
	schemas, err := compiledSchemas()
	if err != nil {
		return err
	}
	schema, ok := schemas[eventType]
	if !ok {
		return fmt.Errorf("no schema for event type %s", eventType)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("%w: %s: %s", ErrSchemaViolation, eventType, strings.Join(problems, "; "))
}

// AssessmentScoredSchema is the JSON schema registered for AssessmentScored payloads.
const AssessmentScoredSchema = `{
  "type": "object",
  "title": "AssessmentScored",
  "properties": {
    "assessment_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "user_id": {"type": "string"},
    "source": {"type": "string"},
    "composite_score": {"type": "integer", "minimum": 1, "maximum": 7},
    "action_level": {"type": "string", "enum": ["acceptable", "investigate", "change_soon", "change_immediately"]},
    "breakdown": {
      "type": "object",
      "properties": {
        "upper_arm": {"type": "integer"},
        "lower_arm": {"type": "integer"},
        "wrist": {"type": "integer"},
        "neck": {"type": "integer"},
        "trunk": {"type": "integer"},
        "group_a": {"type": "integer"},
        "group_b": {"type": "integer"}
      },
      "required": ["upper_arm", "lower_arm", "wrist", "neck", "trunk", "group_a", "group_b"]
    },
    "angles": {
      "type": "object",
      "properties": {
        "shoulder_flexion_deg": {"type": "number"},
        "elbow_flexion_deg": {"type": "number"},
        "wrist_neutral_deg": {"type": "number"},
        "neck_flexion_deg": {"type": "number"},
        "trunk_flexion_deg": {"type": "number"}
      },
      "required": ["shoulder_flexion_deg", "elbow_flexion_deg", "wrist_neutral_deg", "neck_flexion_deg", "trunk_flexion_deg"]
    },
    "frames_analyzed": {"type": "integer", "minimum": 1},
    "captured_at": {"type": "string", "format": "date-time"},
    "version": {"type": "string"}
  },
  "required": ["assessment_id", "tenant_id", "user_id", "composite_score", "action_level", "breakdown", "angles", "frames_analyzed", "captured_at", "version"],
  "additionalProperties": false
}`

// HighRiskPostureSchema is the JSON schema registered for HighRiskPostureDetected payloads.
const HighRiskPostureSchema = `{
  "type": "object",
  "title": "HighRiskPostureDetected",
  "properties": {
    "assessment_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "user_id": {"type": "string"},
    "composite_score": {"type": "integer", "minimum": 1, "maximum": 7},
    "action_level": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["assessment_id", "tenant_id", "user_id", "composite_score", "action_level", "occurred_at"],
  "additionalProperties": false
}`
