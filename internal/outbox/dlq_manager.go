package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultDLQMaxRetries = 5
	maxDLQBackoff        = time.Hour
	quarantineReason     = "retry limit reached"
)

// errEntryClaimed means another manager replayed or quarantined the entry first.
var errEntryClaimed = errors.New("dlq entry already handled")

// DLQManager replays parked assessment events into the outbox and quarantines entries that
// keep failing.
type DLQManager struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
}

// NewDLQManager constructs a DLQManager with the provided pool and retry configuration.
func NewDLQManager(pool *pgxpool.Pool, maxRetries int, baseDelay time.Duration) *DLQManager {
	if maxRetries <= 0 {
		maxRetries = defaultDLQMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	return &DLQManager{pool: pool, maxRetries: maxRetries, baseDelay: baseDelay}
}

// RunOnce handles up to batchSize due entries and returns how many were requeued or
// quarantined. Per-entry failures are joined into the returned error.
func (m *DLQManager) RunOnce(ctx context.Context, batchSize int) (int, error) {
	defer updateBacklogGauge(ctx, m.pool)

	entries, err := m.due(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	handled := 0
	var errs []error
	for _, entry := range entries {
		switch err := m.handleEntry(ctx, entry); {
		case err == nil:
			handled++
		case errors.Is(err, errEntryClaimed):
		default:
			errs = append(errs, fmt.Errorf("dlq entry %d: %w", entry.ID, err))
		}
	}
	return handled, errors.Join(errs...)
}

func (m *DLQManager) due(ctx context.Context, batchSize int) ([]dlqEntry, error) {
	rows, err := m.pool.Query(ctx, `
		SELECT dlq_id, tenant_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count
		  FROM outbox_dlq
		 WHERE quarantined_at IS NULL AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		 ORDER BY created_at
		 LIMIT $1`, batchSize)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[dlqEntry])
}

func (m *DLQManager) handleEntry(ctx context.Context, entry dlqEntry) error {
	if entry.RetryCount >= m.maxRetries {
		return m.quarantine(ctx, entry)
	}

	err := pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1 AND quarantined_at IS NULL`, entry.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errEntryClaimed
		}
		return requeueOutbox(ctx, tx, entry)
	})
	switch {
	case err == nil:
		recordDLQRequeued(entry)
		return nil
	case errors.Is(err, errEntryClaimed), ctx.Err() != nil:
		return err
	default:
		return m.scheduleRetry(ctx, entry, err)
	}
}

func (m *DLQManager) quarantine(ctx context.Context, entry dlqEntry) error {
	tag, err := m.pool.Exec(ctx,
		`UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $1 WHERE dlq_id = $2 AND quarantined_at IS NULL`,
		quarantineReason, entry.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errEntryClaimed
	}
	recordDLQQuarantined(entry)
	return nil
}

func (m *DLQManager) scheduleRetry(ctx context.Context, entry dlqEntry, cause error) error {
	delay := m.backoffDelay(entry.RetryCount + 1)
	if _, err := m.pool.Exec(ctx, `
		UPDATE outbox_dlq
		   SET retry_count = retry_count + 1,
		       last_attempt_at = NOW(),
		       next_retry_at = NOW() + make_interval(secs => $1),
		       reason = $2
		 WHERE dlq_id = $3`,
		delay.Seconds(), cause.Error(), entry.ID,
	); err != nil {
		return errors.Join(cause, err)
	}
	recordDLQRetry(entry)
	return nil
}

// backoffDelay doubles baseDelay per attempt, capped at one hour.
func (m *DLQManager) backoffDelay(attempt int) time.Duration {
	attempt = max(attempt, 1)
	if attempt > 12 {
		return maxDLQBackoff
	}
	return min(time.Duration(1<<uint(attempt-1))*m.baseDelay, maxDLQBackoff)
}

// requeueOutbox appends the parked event to the outbox as a fresh row.
func requeueOutbox(ctx context.Context, tx pgx.Tx, entry dlqEntry) error {
	if entry.SchemaSubject == "" {
		return fmt.Errorf("missing schema_subject for dlq entry %d", entry.ID)
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		entry.TenantID,
		entry.AggregateType,
		entry.AggregateID,
		entry.EventType,
		entry.Topic,
		entry.SchemaSubject,
		entry.PartitionKey,
		entry.Payload,
	)
	return err
}

// dlqEntry is an outbox_dlq row in selection order.
type dlqEntry struct {
	ID            int64
	TenantID      string
	EventID       int64
	EventType     string
	Topic         string
	Payload       []byte
	Reason        string
	AggregateType string
	AggregateID   string
	SchemaSubject string
	PartitionKey  string
	RetryCount    int
}
