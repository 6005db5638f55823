package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	platformevents "example.com/ergorisk/internal/platform/events"
)

func TestEncodeWireFormat(t *testing.T) {
	frame := encodeWireFormat(258, []byte(`{"a":1}`))
	require.Equal(t, byte(0), frame[0])
	require.EqualValues(t, 258, binary.BigEndian.Uint32(frame[1:5]))
	require.Equal(t, `{"a":1}`, string(frame[5:]))
}

func TestDeliverGroupsByTopicAndSetsHeaders(t *testing.T) {
	producer := &stubProducer{}
	registry := &stubRegistry{id: 5}
	d := &Dispatcher{producer: producer, registry: registry}

	messages := []Message{
		testMessage(1, platformevents.TypeAssessmentScored, "ergonomic_assessments"),
		testMessage(2, platformevents.TypeHighRiskDetected, "ergonomic_alerts"),
		testMessage(3, platformevents.TypeAssessmentScored, "ergonomic_assessments"),
	}

	require.NoError(t, d.deliver(context.Background(), messages))

	byTopic := make(map[string][]kafka.Message)
	for _, w := range producer.writes {
		byTopic[w.topic] = append(byTopic[w.topic], w.messages...)
	}
	require.Len(t, byTopic["ergonomic_assessments"], 2)
	require.Len(t, byTopic["ergonomic_alerts"], 1)
	require.Len(t, registry.calls, 2, "one registry lookup per subject")

	record := byTopic["ergonomic_alerts"][0]
	require.Equal(t, "tenant-1:user-1", string(record.Key))
	require.EqualValues(t, 5, binary.BigEndian.Uint32(record.Value[1:5]))
	headers := make(map[string]string)
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	require.Equal(t, platformevents.TypeHighRiskDetected, headers["event_type"])
	require.Equal(t, "tenant-1", headers["tenant_id"])
	require.Equal(t, "ergonomic_alerts-value", headers["schema_subject"])
	require.Equal(t, "assessment-2", headers["aggregate_id"])
}

func TestDeliverCachesSchemaIDs(t *testing.T) {
	producer := &stubProducer{}
	registry := &stubRegistry{id: 9}
	d := &Dispatcher{producer: producer, registry: registry}

	batch := []Message{testMessage(1, platformevents.TypeAssessmentScored, "ergonomic_assessments")}
	require.NoError(t, d.deliver(context.Background(), batch))
	require.NoError(t, d.deliver(context.Background(), batch))

	require.Len(t, registry.calls, 1)
	require.Len(t, producer.writes, 2)
}

func TestDeliverRejectsUnknownEventType(t *testing.T) {
	producer := &stubProducer{}
	registry := &stubRegistry{id: 1}
	d := &Dispatcher{producer: producer, registry: registry}

	err := d.deliver(context.Background(), []Message{testMessage(1, "assessment.unknown", "ergonomic_assessments")})
	require.ErrorContains(t, err, "no schema metadata for event_type=assessment.unknown")
	require.Empty(t, producer.writes)
	require.Empty(t, registry.calls)
}

func TestDeliverPropagatesRegistryAndProducerErrors(t *testing.T) {
	d := &Dispatcher{producer: &stubProducer{}, registry: &stubRegistry{err: errors.New("registry down")}}
	require.ErrorContains(t, d.deliver(context.Background(), []Message{testMessage(1, platformevents.TypeAssessmentScored, "ergonomic_assessments")}), "registry down")

	d = &Dispatcher{producer: &stubProducer{err: errors.New("kafka down")}, registry: &stubRegistry{id: 3}}
	require.ErrorContains(t, d.deliver(context.Background(), []Message{testMessage(1, platformevents.TypeAssessmentScored, "ergonomic_assessments")}), "kafka down")
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	m := NewDLQManager(nil, 3, time.Minute)
	require.Equal(t, time.Minute, m.backoffDelay(1))
	require.Equal(t, 2*time.Minute, m.backoffDelay(2))
	require.Equal(t, 4*time.Minute, m.backoffDelay(3))
	require.Equal(t, time.Hour, m.backoffDelay(7))
	require.Equal(t, time.Hour, m.backoffDelay(64))
	require.Equal(t, time.Minute, m.backoffDelay(0))
}

func TestNewDLQManagerDefaults(t *testing.T) {
	m := NewDLQManager(nil, 0, 0)
	require.Equal(t, 5, m.maxRetries)
	require.Equal(t, time.Minute, m.baseDelay)
}

func TestKafkaProducerReusesConfiguredWriters(t *testing.T) {
	p := NewKafkaProducer([]string{"localhost:9092"}, WithBatchTimeout(5*time.Millisecond), WithTopicAutoCreation())
	w := p.writer("ergonomic_alerts")

	require.Same(t, w, p.writer("ergonomic_alerts"))
	require.IsType(t, &kafka.Hash{}, w.Balancer)
	require.Equal(t, 5*time.Millisecond, w.BatchTimeout)
	require.True(t, w.AllowAutoTopicCreation)
	require.NoError(t, p.Close())
	require.Empty(t, p.writers)
}

func testMessage(id int64, eventType, topic string) Message {
	return Message{
		EventID:       id,
		TenantID:      "tenant-1",
		AggregateType: aggregateTypeAssessment,
		AggregateID:   "assessment-" + strconv.FormatInt(id, 10),
		EventType:     eventType,
		Topic:         topic,
		SchemaSubject: topic + "-value",
		PartitionKey:  "tenant-1:user-1",
		Payload:       json.RawMessage(`{"assessment_id":"x"}`),
	}
}

type stubProducer struct {
	mu     sync.Mutex
	err    error
	writes []writtenBatch
}

type writtenBatch struct {
	topic    string
	messages []kafka.Message
}

func (s *stubProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	copied := make([]kafka.Message, len(msgs))
	copy(copied, msgs)
	s.writes = append(s.writes, writtenBatch{topic: topic, messages: copied})
	return nil
}

type stubRegistry struct {
	mu    sync.Mutex
	id    int
	err   error
	calls []schemaCall
}

type schemaCall struct {
	subject string
	schema  string
}

func (s *stubRegistry) EnsureSchema(ctx context.Context, subject string, schema string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, schemaCall{subject: subject, schema: schema})
	if s.err != nil {
		return 0, s.err
	}
	if s.id == 0 {
		s.id = 1
	}
	return s.id, nil
}
