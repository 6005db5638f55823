package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	platformevents "example.com/ergorisk/internal/platform/events"
)

// Redelivered records hit the (topic, partition, record_offset) key and are ignored.
const insertEventLog = `
INSERT INTO assessment_event_log (event_type, tenant_id, schema_id, schema_subject, topic, partition, record_offset, payload, received_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (topic, partition, record_offset) DO NOTHING`

// PersistenceHandler appends consumed events to assessment_event_log.
type PersistenceHandler struct {
	pool *pgxpool.Pool
}

func NewPersistenceHandler(pool *pgxpool.Pool) *PersistenceHandler {
	return &PersistenceHandler{pool: pool}
}

// Handle checks the payload against its event type before storing it.
func (h *PersistenceHandler) Handle(ctx context.Context, msg Message) error {
	tenantID, err := inspectPayload(msg)
	if err != nil {
		return err
	}

	_, err = h.pool.Exec(ctx, insertEventLog,
		msg.EventType, tenantID, msg.SchemaID, msg.SchemaSubject,
		msg.Topic, msg.Partition, msg.Offset, msg.Payload, msg.Timestamp)
	return err
}

// inspectPayload returns the event's tenant. The header wins; the payload fills in when the
// header is absent.
func inspectPayload(msg Message) (string, error) {
	var (
		assessmentID, tenantID string
		err                    error
	)
	switch msg.EventType {
	case platformevents.TypeAssessmentScored:
		var evt platformevents.AssessmentScored
		err = json.Unmarshal(msg.Payload, &evt)
		assessmentID, tenantID = evt.AssessmentID, evt.TenantID
	case platformevents.TypeHighRiskDetected:
		var evt platformevents.HighRiskPostureDetected
		if err = json.Unmarshal(msg.Payload, &evt); err == nil && evt.AssessmentID != "" {
			recordHighRisk(evt.CompositeScore)
		}
		assessmentID, tenantID = evt.AssessmentID, evt.TenantID
	default:
		if !json.Valid(msg.Payload) {
			return "", fmt.Errorf("event %s carries invalid JSON", msg.EventType)
		}
		return msg.TenantID, nil
	}

	switch {
	case err != nil:
		return "", fmt.Errorf("decode %s: %w", msg.EventType, err)
	case assessmentID == "":
		return "", fmt.Errorf("decode %s: missing assessment_id", msg.EventType)
	case msg.TenantID != "":
		return msg.TenantID, nil
	default:
		return tenantID, nil
	}
}
