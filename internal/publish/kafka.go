// Package publish fans tick readings out to Kafka, one JSON message per
// tick keyed by tent ID.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/talgya/tentsim/internal/climate"
)

// DefaultTopic receives readings when none is configured.
const DefaultTopic = "tent.readings"

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Message is the published body.
type Message struct {
	ID          string            `json:"id"`
	TentID      string            `json:"tentId"`
	Tick        uint64            `json:"tick"`
	Season      climate.SeasonKey `json:"season"`
	Timestamp   time.Time         `json:"timestamp"`
	FromWeather bool              `json:"fromWeather"`
	Environment climate.State     `json:"environment"`
}

// Publisher writes readings to a Kafka topic.
type Publisher struct {
	tentID string
	w      MessageWriter
	newID  func() string
}

// NewKafkaWriter builds a hash-balanced writer for brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

// New creates a publisher for tentID. Returns nil if w is nil; a nil
// Publisher drops every reading.
func New(tentID string, w MessageWriter) *Publisher {
	if w == nil {
		return nil
	}
	return &Publisher{
		tentID: tentID,
		w:      w,
		newID:  func() string { return uuid.NewString() },
	}
}

// Publish sends one reading.
func (p *Publisher) Publish(ctx context.Context, r climate.Reading) error {
	if p == nil {
		return nil
	}
	msg := Message{
		ID:          p.newID(),
		TentID:      p.tentID,
		Tick:        r.Tick,
		Season:      r.Season,
		Timestamp:   r.At,
		FromWeather: r.FromWeather,
		Environment: r.State,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(p.tentID),
		Value: body,
		Time:  r.At,
	}); err != nil {
		return fmt.Errorf("kafka write tick %d: %w", r.Tick, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.w.Close()
}
