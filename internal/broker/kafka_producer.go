// Package broker provides the Kafka producer behind direct-log delivery.
//
// KafkaProducer wraps one kafka.Writer without a fixed topic; every message
// names its topic, so one synchronous WriteMessages call appends an event to
// the baseline and plugin-ingestion topics together.
//
// Usage:
//
//	producer := broker.NewKafkaProducer(brokers, kafka.RequireAll)
//	err := producer.Emit(ctx, evt, []string{"events_wal"})
//	producer.Close()
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	v1 "github.com/aevon-lab/aevon-capture/internal/api/v1"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaProducer struct {
	writer messageWriter
}

// NewKafkaProducer builds a synchronous producer. Messages are keyed by
// distinct id so one user's events stay in partition order.
func NewKafkaProducer(brokers []string, acks kafka.RequiredAcks) *KafkaProducer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.Hash{},

		BatchSize:    100,
		BatchBytes:   1 << 20, // ~1MB per batch
		BatchTimeout: 5 * time.Millisecond,

		RequiredAcks:           acks,
		Async:                  false,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: false,
	}
	return &KafkaProducer{writer: w}
}

// logMessage is the wire format consumed by the event processors. Data holds
// the raw event as a JSON string.
type logMessage struct {
	UUID       string  `json:"uuid"`
	DistinctID string  `json:"distinct_id"`
	IP         *string `json:"ip"`
	SiteURL    string  `json:"site_url"`
	Data       string  `json:"data"`
	TeamID     int64   `json:"team_id"`
	Now        string  `json:"now"`
	SentAt     *string `json:"sent_at"`
}

// Emit writes the event to every topic in one call. It blocks until the
// configured acks arrive; retries are the writer's concern.
func (p *KafkaProducer) Emit(ctx context.Context, evt *v1.Event, topics []string) error {
	value, err := encodeLogMessage(evt)
	if err != nil {
		return err
	}

	msgs := make([]kafka.Message, 0, len(topics))
	for _, topic := range topics {
		msgs = append(msgs, kafka.Message{
			Topic: topic,
			Key:   []byte(evt.DistinctID),
			Value: value,
			Headers: []kafka.Header{
				{Key: "team_id", Value: []byte(fmt.Sprint(evt.TeamID))},
			},
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write to %v: %w", topics, err)
	}
	return nil
}

func encodeLogMessage(evt *v1.Event) ([]byte, error) {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}

	msg := logMessage{
		UUID:       evt.UUID,
		DistinctID: evt.DistinctID,
		SiteURL:    evt.SiteURL,
		Data:       string(data),
		TeamID:     evt.TeamID,
		Now:        evt.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
	if evt.IP != "" {
		ip := evt.IP
		msg.IP = &ip
	}
	if evt.SentAt != nil {
		sentAt := evt.SentAt.UTC().Format(time.RFC3339Nano)
		msg.SentAt = &sentAt
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal log message: %w", err)
	}
	return value, nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
