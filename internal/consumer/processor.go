// Package consumer reads assessment events published by the outbox dispatcher and records them
// in the audit log.
package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	defaultRetryDelay     = time.Second
	defaultHandleAttempts = 3
)

// Reader is the part of *kafka.Reader the processor drives.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded events.
type Handler interface {
	Handle(context.Context, Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(context.Context, Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Message is a Kafka record with its Confluent framing and dispatcher headers unpacked.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	EventType     string
	TenantID      string
	AggregateID   string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
}

type Option func(*Processor)

// WithLogger overrides the processor logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// WithRetryDelay sets the pause after a failed fetch or handler attempt. Zero disables it.
func WithRetryDelay(d time.Duration) Option {
	return func(p *Processor) {
		if d >= 0 {
			p.retryDelay = d
		}
	}
}

// WithHandleAttempts bounds how often a message is handed to the handler before it is left
// uncommitted.
func WithHandleAttempts(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.attempts = n
		}
	}
}

// Processor fetches records, decodes them and commits once the handler accepted them. Records
// that cannot be decoded are committed so they do not block the partition.
type Processor struct {
	reader     Reader
	handler    Handler
	logger     *log.Logger
	retryDelay time.Duration
	attempts   int
}

func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:     reader,
		handler:    handler,
		logger:     log.New(log.Writer(), "consumer: ", log.LstdFlags),
		retryDelay: defaultRetryDelay,
		attempts:   defaultHandleAttempts,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes records until ctx is cancelled and returns the context error.
func (p *Processor) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		record, err := p.reader.FetchMessage(ctx)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case err != nil:
			p.logger.Printf("fetch: %v", err)
			if err := p.pause(ctx); err != nil {
				return err
			}
			continue
		}

		if !p.process(ctx, record) {
			continue
		}
		if err := p.reader.CommitMessages(ctx, record); err != nil {
			p.logger.Printf("commit %s/%d@%d: %v", record.Topic, record.Partition, record.Offset, err)
		}
	}
	return ctx.Err()
}

// process reports whether record should be committed.
func (p *Processor) process(ctx context.Context, record kafka.Message) bool {
	msg, err := decodeMessage(record)
	if err != nil {
		p.logger.Printf("dropping %s/%d@%d: %v", record.Topic, record.Partition, record.Offset, err)
		recordDecodeError(record.Topic)
		return true
	}

	for attempt := 1; ; attempt++ {
		err = p.handler.Handle(ctx, msg)
		if err == nil {
			recordProcessed(msg)
			return true
		}
		recordHandlerError(msg)
		p.logger.Printf("handle %s for tenant %q (attempt %d/%d): %v", msg.EventType, msg.TenantID, attempt, p.attempts, err)
		if attempt >= p.attempts || p.pause(ctx) != nil {
			return false
		}
	}
}

func (p *Processor) pause(ctx context.Context) error {
	if p.retryDelay == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func decodeMessage(record kafka.Message) (Message, error) {
	if n := len(record.Value); n < 5 {
		return Message{}, fmt.Errorf("frame too short (%d bytes)", n)
	}
	if magic := record.Value[0]; magic != 0 {
		return Message{}, fmt.Errorf("unexpected magic byte %d", magic)
	}

	headers := make(map[string]string, len(record.Headers))
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	eventType, ok := headers["event_type"]
	if !ok {
		return Message{}, errors.New("missing event_type header")
	}

	return Message{
		Topic:         record.Topic,
		Partition:     record.Partition,
		Offset:        record.Offset,
		Timestamp:     record.Time,
		EventType:     eventType,
		TenantID:      headers["tenant_id"],
		AggregateID:   headers["aggregate_id"],
		SchemaSubject: headers["schema_subject"],
		SchemaID:      int(binary.BigEndian.Uint32(record.Value[1:5])),
		Payload:       json.RawMessage(append([]byte(nil), record.Value[5:]...)),
	}, nil
}
