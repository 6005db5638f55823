package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/ergorisk/internal/domain"
	"example.com/ergorisk/internal/observability"
	"example.com/ergorisk/internal/persistence"
	platformevents "example.com/ergorisk/internal/platform/events"
	"example.com/ergorisk/internal/rula"
)

const (
	uniqueViolation       = "23505"
	idempotencyConstraint = "assessments_idempotency_idx"
)

const assessmentColumns = `assessment_id, tenant_id, user_id, source,
        shoulder_flexion_deg, elbow_flexion_deg, wrist_neutral_deg, neck_flexion_deg, trunk_flexion_deg,
        upper_arm_score, lower_arm_score, wrist_score, neck_score, trunk_score, group_a_score, group_b_score, composite_score,
        frames_analyzed, frames_rejected, wrist_mode, high_risk, version, processing_state, captured_at, created_at, updated_at`

// Repository provides Postgres-backed persistence for assessments and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// inTenant runs fn inside a transaction scoped to the tenant's row level security policy.
func (r *Repository) inTenant(ctx context.Context, tenantID string, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row rowScanner) (domain.AssessmentAggregate, error) {
	var agg domain.AssessmentAggregate
	b := &agg.Score.Breakdown
	err := row.Scan(
		&agg.ID, &agg.TenantID, &agg.UserID, &agg.Source,
		&agg.Angles.ShoulderFlexion, &agg.Angles.ElbowFlexion, &agg.Angles.WristNeutral, &agg.Angles.NeckFlexion, &agg.Angles.TrunkFlexion,
		&b.UpperArm, &b.LowerArm, &b.Wrist, &b.Neck, &b.Trunk, &b.GroupA, &b.GroupB, &agg.Score.Composite,
		&agg.FramesAnalyzed, &agg.FramesRejected, &agg.WristMode, &agg.HighRisk, &agg.Version, &agg.State,
		&agg.CapturedAt, &agg.CreatedAt, &agg.UpdatedAt,
	)
	return agg, err
}

// FindByIdempotency checks if an assessment already exists for the supplied idempotency key.
func (r *Repository) FindByIdempotency(ctx context.Context, tenantID, userID, idempotencyKey string) (*domain.AssessmentAggregate, error) {
	if idempotencyKey == "" {
		return nil, nil
	}

	query := `SELECT ` + assessmentColumns + `
        FROM assessments WHERE tenant_id=$1 AND user_id=$2 AND idempotency_key=$3`

	var found *domain.AssessmentAggregate
	err := r.inTenant(ctx, tenantID, func(tx pgx.Tx) error {
		agg, err := scanAssessment(tx.QueryRow(ctx, query, tenantID, userID, idempotencyKey))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = &agg
		return nil
	})
	return found, err
}

// Create persists the aggregate and records outbox events inside a single transaction.
func (r *Repository) Create(ctx context.Context, aggregate domain.AssessmentAggregate, idempotencyKey string) error {
	const insertAssessment = `INSERT INTO assessments (assessment_id, tenant_id, user_id, source, idempotency_key,
        shoulder_flexion_deg, elbow_flexion_deg, wrist_neutral_deg, neck_flexion_deg, trunk_flexion_deg,
        upper_arm_score, lower_arm_score, wrist_score, neck_score, trunk_score, group_a_score, group_b_score, composite_score,
        frames_analyzed, frames_rejected, wrist_mode, high_risk, version, processing_state, captured_at, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)`

	angles := aggregate.Angles
	b := aggregate.Score.Breakdown

	err := r.inTenant(ctx, aggregate.TenantID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertAssessment,
			aggregate.ID, aggregate.TenantID, aggregate.UserID, aggregate.Source, nullIfEmpty(idempotencyKey),
			angles.ShoulderFlexion, angles.ElbowFlexion, angles.WristNeutral, angles.NeckFlexion, angles.TrunkFlexion,
			b.UpperArm, b.LowerArm, b.Wrist, b.Neck, b.Trunk, b.GroupA, b.GroupB, aggregate.Score.Composite,
			aggregate.FramesAnalyzed, aggregate.FramesRejected, aggregate.WristMode, aggregate.HighRisk,
			aggregate.Version, aggregate.State, aggregate.CapturedAt, aggregate.CreatedAt, aggregate.UpdatedAt,
		); err != nil {
			return err
		}

		if err := r.insertOutbox(ctx, tx, aggregate, EventAssessmentScored, scoredEvent(aggregate)); err != nil {
			return err
		}

		if !aggregate.HighRisk {
			return nil
		}
		return r.insertOutbox(ctx, tx, aggregate, EventHighRiskDetected, platformevents.HighRiskPostureDetected{
			AssessmentID:   aggregate.ID,
			TenantID:       aggregate.TenantID,
			UserID:         aggregate.UserID,
			CompositeScore: aggregate.Score.Composite,
			ActionLevel:    aggregate.ActionLevel().String(),
			OccurredAt:     aggregate.UpdatedAt,
		})
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == idempotencyConstraint {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateIdempotencyKey, idempotencyKey)
	}
	if err != nil {
		return err
	}
	observability.RecordAssessmentPersisted(aggregate.UpdatedAt)
	return nil
}

func scoredEvent(a domain.AssessmentAggregate) platformevents.AssessmentScored {
	b := a.Score.Breakdown
	return platformevents.AssessmentScored{
		AssessmentID:   a.ID,
		TenantID:       a.TenantID,
		UserID:         a.UserID,
		Source:         a.Source,
		CompositeScore: a.Score.Composite,
		ActionLevel:    a.ActionLevel().String(),
		Breakdown: platformevents.ScoreBreakdown{
			UpperArm: b.UpperArm,
			LowerArm: b.LowerArm,
			Wrist:    b.Wrist,
			Neck:     b.Neck,
			Trunk:    b.Trunk,
			GroupA:   b.GroupA,
			GroupB:   b.GroupB,
		},
		Angles: platformevents.AggregatedAngles{
			ShoulderFlexion: a.Angles.ShoulderFlexion,
			ElbowFlexion:    a.Angles.ElbowFlexion,
			WristNeutral:    a.Angles.WristNeutral,
			NeckFlexion:     a.Angles.NeckFlexion,
			TrunkFlexion:    a.Angles.TrunkFlexion,
		},
		FramesAnalyzed: a.FramesAnalyzed,
		CapturedAt:     a.CapturedAt,
		Version:        a.Version,
	}
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, aggregate domain.AssessmentAggregate, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := platformevents.ValidatePayload(eventType, body); err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		aggregate.TenantID,
		AggregateTypeAssessment,
		aggregate.ID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		meta.PartitionKeyFn(aggregate),
		body,
		fmt.Sprintf("%s:%s", aggregate.ID, eventType),
	)
	return err
}

// Get retrieves an assessment by ID.
func (r *Repository) Get(ctx context.Context, tenantID, assessmentID string) (*domain.AssessmentAggregate, error) {
	// assessment_id is a UUID column; anything else cannot match and would fail the cast.
	if uuid.Validate(assessmentID) != nil {
		return nil, nil
	}
	query := `SELECT ` + assessmentColumns + `
        FROM assessments WHERE tenant_id=$1 AND assessment_id=$2`

	var found *domain.AssessmentAggregate
	err := r.inTenant(ctx, tenantID, func(tx pgx.Tx) error {
		agg, err := scanAssessment(tx.QueryRow(ctx, query, tenantID, assessmentID))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = &agg
		return nil
	})
	return found, err
}

// ListByUser returns assessments for a user, newest capture first.
func (r *Repository) ListByUser(ctx context.Context, tenantID, userID string, cursor *domain.Cursor, limit int) ([]domain.AssessmentAggregate, *domain.Cursor, error) {
	args := []any{tenantID, userID, limit}
	query := `SELECT ` + assessmentColumns + `
        FROM assessments WHERE tenant_id=$1 AND user_id=$2`

	if cursor != nil {
		if uuid.Validate(cursor.ID) != nil {
			return nil, nil, persistence.ErrInvalidCursor
		}
		query += ` AND (captured_at, assessment_id) < ($4, $5)`
		args = append(args, cursor.CapturedAt, cursor.ID)
	}
	query += ` ORDER BY captured_at DESC, assessment_id DESC LIMIT $3`

	results := make([]domain.AssessmentAggregate, 0, limit)
	err := r.inTenant(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			agg, err := scanAssessment(rows)
			if err != nil {
				return err
			}
			results = append(results, agg)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{CapturedAt: last.CapturedAt, ID: last.ID}
	}
	return results, nextCursor, nil
}

// SummaryByUser aggregates composite scores server side. A zero window covers all history.
func (r *Repository) SummaryByUser(ctx context.Context, tenantID, userID string, window time.Duration) (domain.AssessmentSummary, error) {
	const query = `SELECT composite_score, COUNT(*), COUNT(*) FILTER (WHERE high_risk), MAX(captured_at)
        FROM assessments
        WHERE tenant_id=$1 AND user_id=$2 AND ($3::timestamptz IS NULL OR captured_at >= $3)
        GROUP BY composite_score`

	var cutoff *time.Time
	if window > 0 {
		ts := time.Now().UTC().Add(-window)
		cutoff = &ts
	}

	summary := domain.AssessmentSummary{ByActionLevel: make(map[string]int)}
	err := r.inTenant(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, tenantID, userID, cutoff)
		if err != nil {
			return err
		}
		defer rows.Close()

		weighted := 0
		for rows.Next() {
			var (
				composite, count, highRisk int
				last                       time.Time
			)
			if err := rows.Scan(&composite, &count, &highRisk, &last); err != nil {
				return err
			}
			summary.Total += count
			summary.HighRisk += highRisk
			weighted += composite * count
			summary.MaxComposite = max(summary.MaxComposite, composite)
			summary.ByActionLevel[rula.ActionLevelFor(composite).String()] += count
			if summary.LastAssessedAt == nil || last.After(*summary.LastAssessedAt) {
				summary.LastAssessedAt = &last
			}
		}
		if summary.Total > 0 {
			summary.AverageComposite = float64(weighted) / float64(summary.Total)
		}
		return rows.Err()
	})
	return summary, err
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// Event types written to the outbox.
const (
	EventAssessmentScored = platformevents.TypeAssessmentScored
	EventHighRiskDetected = platformevents.TypeHighRiskDetected

	AggregateTypeAssessment = "assessment"
)

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(domain.AssessmentAggregate) string
}

var eventCatalog = map[string]EventMetadata{
	EventAssessmentScored: {
		Topic:         "ergonomic_assessments",
		SchemaSubject: "ergonomic_assessments-value",
		PartitionKeyFn: func(a domain.AssessmentAggregate) string {
			return fmt.Sprintf("%s:%s", a.TenantID, a.UserID)
		},
	},
	EventHighRiskDetected: {
		Topic:         "ergonomic_alerts",
		SchemaSubject: "ergonomic_alerts-value",
		PartitionKeyFn: func(a domain.AssessmentAggregate) string {
			return fmt.Sprintf("%s:%s", a.TenantID, a.UserID)
		},
	},
}
