// Package outbox relays assessment events from the transactional outbox to Kafka and manages
// the dead-letter queue for events that could not be delivered.
package outbox

import (
	"cmp"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"

	"example.com/ergorisk/internal/observability"
	platformevents "example.com/ergorisk/internal/platform/events"
)

const (
	aggregateTypeAssessment = "assessment"
	stateScored             = "scored"
	statePublished          = "published"

	// claimLease is how long a claimed row is hidden from other dispatchers.
	claimLease = time.Minute
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Message is one claimed outbox row, in column order.
type Message struct {
	EventID       int64
	TenantID      string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
}

// Dispatcher polls the outbox and publishes claimed events with Confluent framing. Failed
// batches go to the DLQ; delivered scored events move their assessment to published.
type Dispatcher struct {
	pool         *pgxpool.Pool
	producer     messageWriter
	registry     schemaRegistrar
	dlq          *DLQWriter
	pollInterval time.Duration
	batchSize    int

	schemaIDs sync.Map // subject + event type -> registry id
	done      chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar, pollInterval time.Duration, batchSize int) *Dispatcher {
	return &Dispatcher{
		pool:         pool,
		producer:     producer,
		registry:     registry,
		dlq:          NewDLQWriter(pool),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		done:         make(chan struct{}),
	}
}

// Start polls until ctx is cancelled. It blocks, so callers run it in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("outbox dispatcher error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until Start has returned.
func (d *Dispatcher) Wait() {
	<-d.done
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	start := time.Now()

	messages, err := d.claim(ctx)
	if err != nil || len(messages) == 0 {
		return err
	}
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	if err := d.deliver(ctx, messages); err != nil {
		log.Printf("outbox: delivery of %d events failed: %v", len(messages), err)
		failedCounter.Add(float64(len(messages)))
		if dlqErr := d.moveToDLQ(ctx, messages, err.Error()); dlqErr != nil {
			return errors.Join(err, dlqErr)
		}
		return d.markPublished(ctx, messages, false)
	}

	deliveredCounter.Add(float64(len(messages)))
	return d.markPublished(ctx, messages, true)
}

// claim leases the oldest unpublished rows so concurrent dispatchers skip them.
func (d *Dispatcher) claim(ctx context.Context) ([]Message, error) {
	rows, err := d.pool.Query(ctx, `
		WITH next AS (
			SELECT event_id FROM outbox
			 WHERE published_at IS NULL
			   AND (claimed_at IS NULL OR claimed_at < NOW() - make_interval(secs => $2))
			 ORDER BY event_id
			 LIMIT $1
			 FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox o SET claimed_at = NOW()
		  FROM next
		 WHERE o.event_id = next.event_id
		RETURNING o.event_id, o.tenant_id, o.aggregate_type, o.aggregate_id, o.event_type, o.topic, o.schema_subject, o.partition_key, o.payload`,
		d.batchSize, claimLease.Seconds())
	if err != nil {
		return nil, err
	}

	messages, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Message])
	if err != nil {
		return nil, err
	}
	slices.SortFunc(messages, func(a, b Message) int { return cmp.Compare(a.EventID, b.EventID) })
	return messages, nil
}

// deliver writes the batch topic by topic, keeping outbox order within each topic.
func (d *Dispatcher) deliver(ctx context.Context, messages []Message) error {
	var topics []string
	byTopic := make(map[string][]kafka.Message)

	for _, msg := range messages {
		schemaID, err := d.schemaID(ctx, msg)
		if err != nil {
			return err
		}
		if _, seen := byTopic[msg.Topic]; !seen {
			topics = append(topics, msg.Topic)
		}
		byTopic[msg.Topic] = append(byTopic[msg.Topic], kafkaRecord(msg, schemaID))
	}

	for _, topic := range topics {
		if err := d.producer.WriteMessages(ctx, topic, byTopic[topic]...); err != nil {
			return fmt.Errorf("write %s: %w", topic, err)
		}
	}
	return nil
}

// schemaID resolves the registry id for the message's subject once per dispatcher.
func (d *Dispatcher) schemaID(ctx context.Context, msg Message) (int, error) {
	schema, ok := platformevents.Schema(msg.EventType)
	if !ok {
		return 0, fmt.Errorf("no schema metadata for event_type=%s", msg.EventType)
	}

	key := msg.SchemaSubject + "|" + msg.EventType
	if id, ok := d.schemaIDs.Load(key); ok {
		return id.(int), nil
	}
	id, err := d.registry.EnsureSchema(ctx, msg.SchemaSubject, schema)
	if err != nil {
		return 0, err
	}
	d.schemaIDs.Store(key, id)
	return id, nil
}

func kafkaRecord(msg Message, schemaID int) kafka.Message {
	return kafka.Message{
		Key:   []byte(msg.PartitionKey),
		Value: encodeWireFormat(schemaID, msg.Payload),
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.EventType)},
			{Key: "tenant_id", Value: []byte(msg.TenantID)},
			{Key: "schema_subject", Value: []byte(msg.SchemaSubject)},
			{Key: "aggregate_id", Value: []byte(msg.AggregateID)},
		},
	}
}

// markPublished stamps the outbox rows. Delivered scored events also move their assessment to
// published; rows diverted to the DLQ only leave the outbox.
func (d *Dispatcher) markPublished(ctx context.Context, messages []Message, delivered bool) error {
	eventIDs := make(map[string][]int64)
	assessmentIDs := make(map[string][]string)
	for _, msg := range messages {
		eventIDs[msg.TenantID] = append(eventIDs[msg.TenantID], msg.EventID)
		if delivered && msg.AggregateType == aggregateTypeAssessment && msg.EventType == platformevents.TypeAssessmentScored {
			assessmentIDs[msg.TenantID] = append(assessmentIDs[msg.TenantID], msg.AggregateID)
		}
	}

	for tenantID, ids := range eventIDs {
		var published int64
		err := pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
				return err
			}
			if len(assessmentIDs[tenantID]) == 0 {
				return nil
			}
			tag, err := tx.Exec(ctx, `
				UPDATE assessments SET processing_state = $1, updated_at = NOW()
				 WHERE tenant_id = $2 AND assessment_id::text = ANY($3) AND processing_state = $4`,
				statePublished, tenantID, assessmentIDs[tenantID], stateScored)
			published = tag.RowsAffected()
			return err
		})
		if err != nil {
			return fmt.Errorf("mark tenant %s published: %w", tenantID, err)
		}
		if published > 0 {
			markedPublishedCounter.Add(float64(published))
			observability.RecordAssessmentPublished(time.Now())
		}
	}
	return nil
}

func (d *Dispatcher) moveToDLQ(ctx context.Context, messages []Message, reason string) error {
	if err := d.dlq.Write(ctx, messages, reason); err != nil {
		return err
	}
	for _, msg := range messages {
		dlqCounter.WithLabelValues(msg.Topic).Inc()
	}
	return nil
}

// encodeWireFormat prefixes the payload with the Confluent magic byte and schema id.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
