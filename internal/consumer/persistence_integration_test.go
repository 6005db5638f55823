//go:build integration

package consumer

import (
	"context"
	"encoding/json"
	"log"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	kafkacontainer "github.com/testcontainers/testcontainers-go/modules/kafka"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/ergorisk/internal/outbox"
	"example.com/ergorisk/internal/persistence/postgres"
	platformevents "example.com/ergorisk/internal/platform/events"
)

func TestPersistenceHandlerStoresEvent(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)

	handler := NewPersistenceHandler(pool)

	payload := json.RawMessage(`{"assessment_id":"abc","tenant_id":"tenant-123","composite_score":7}`)
	msg := Message{
		EventType:     platformevents.TypeHighRiskDetected,
		SchemaID:      42,
		SchemaSubject: "ergonomic_alerts-value",
		Topic:         "ergonomic_alerts",
		Partition:     0,
		Offset:        5,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
	}

	require.NoError(t, handler.Handle(ctx, msg))
	require.NoError(t, handler.Handle(ctx, msg), "redelivered offsets are ignored")

	var (
		count         int
		tenantID      string
		storedPayload []byte
	)
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM assessment_event_log`).Scan(&count))
	require.Equal(t, 1, count)
	require.NoError(t, pool.QueryRow(ctx, `SELECT tenant_id, payload FROM assessment_event_log LIMIT 1`).Scan(&tenantID, &storedPayload))
	require.Equal(t, "tenant-123", tenantID)
	require.JSONEq(t, string(payload), string(storedPayload))
}

func TestProcessorConsumesFramedEventsFromKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pool := setupPostgres(t, ctx)

	kc, err := kafkacontainer.Run(ctx, "confluentinc/confluent-local:7.5.0", kafkacontainer.WithClusterID("ergorisk-test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kc.Terminate(context.Background()) })

	brokers, err := kc.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	const topic = "ergonomic_assessments"
	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
	require.NoError(t, conn.Close())

	payload, err := json.Marshal(platformevents.AssessmentScored{
		AssessmentID:   "assessment-1",
		TenantID:       "tenant-9",
		UserID:         "user-9",
		CompositeScore: 6,
		ActionLevel:    "change_soon",
		FramesAnalyzed: 12,
		CapturedAt:     time.Now().UTC(),
		Version:        "v1",
	})
	require.NoError(t, err)

	producer := outbox.NewKafkaProducer(brokers, outbox.WithTopicAutoCreation(), outbox.WithBatchTimeout(10*time.Millisecond))
	t.Cleanup(func() { _ = producer.Close() })
	value := append([]byte{0, 0, 0, 0, 11}, payload...)
	require.NoError(t, producer.WriteMessages(ctx, topic, kafka.Message{
		Key:   []byte("tenant-9:user-9"),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(platformevents.TypeAssessmentScored)},
			{Key: "tenant_id", Value: []byte("tenant-9")},
			{Key: "schema_subject", Value: []byte("ergonomic_assessments-value")},
		},
	}))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     "ergorisk-consumer-test",
		Topic:       topic,
		StartOffset: kafka.FirstOffset,
	})
	t.Cleanup(func() { _ = reader.Close() })

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	proc := NewProcessor(reader, NewPersistenceHandler(pool), WithLogger(log.New(testWriter{t}, "", 0)))
	done := make(chan error, 1)
	go func() { done <- proc.Run(runCtx) }()

	require.Eventually(t, func() bool {
		var count int
		if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM assessment_event_log WHERE schema_id = 11`).Scan(&count); err != nil {
			return false
		}
		return count == 1
	}, time.Minute, 500*time.Millisecond)

	stop()
	require.ErrorIs(t, <-done, context.Canceled)
}

func setupPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("ergorisk"),
		postgrescontainer.WithUsername("ergorisk"),
		postgrescontainer.WithPassword("ergorisk"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, waitForDatabase(ctx, connStr))
	require.NoError(t, postgres.Migrate(connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
