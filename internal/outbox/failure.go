package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const insertDLQ = `INSERT INTO outbox_dlq (tenant_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, next_retry_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, NOW())`

// DLQWriter parks undeliverable outbox events in outbox_dlq for the DLQ manager to replay.
type DLQWriter struct {
	pool *pgxpool.Pool
}

// NewDLQWriter initialises a writer backed by the provided connection pool.
func NewDLQWriter(pool *pgxpool.Pool) *DLQWriter {
	return &DLQWriter{pool: pool}
}

// Write parks every message in one transaction. The reason is suffixed with each message's topic.
func (w *DLQWriter) Write(ctx context.Context, messages []Message, reason string) error {
	if len(messages) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, w.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, msg := range messages {
			batch.Queue(insertDLQ,
				msg.TenantID, msg.EventID, msg.EventType, msg.Topic, msg.Payload,
				fmt.Sprintf("%s (topic=%s)", reason, msg.Topic),
				msg.AggregateType, msg.AggregateID, msg.SchemaSubject, msg.PartitionKey,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}
