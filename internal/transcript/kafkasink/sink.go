// Package kafkasink publishes committed transcript items to a Kafka topic so
// that downstream services (scoring, analytics) can consume interviews as
// they happen.
//
// Each item becomes one JSON message keyed by session ID, which keeps the
// items of one session on one partition and therefore in order.
package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/asmcenter/voicecoach/internal/transcript"
)

var _ transcript.Sink = (*Sink)(nil)

// DefaultTopic is used when Config.Topic is empty.
const DefaultTopic = "voicecoach.transcripts"

// Config holds Kafka writer settings.
type Config struct {
	Brokers []string
	Topic   string
}

// Event is the JSON payload of one message.
type Event struct {
	SessionID string          `json:"sessionId"`
	Role      transcript.Role `json:"role"`
	Text      string          `json:"text"`
	Timestamp time.Time       `json:"timestamp"`
}

// messageWriter is the subset of *kafka.Writer used by Sink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink implements [transcript.Sink] on a kafka.Writer.
type Sink struct {
	w     messageWriter
	topic string
}

// Option configures a Sink.
type Option func(*Sink)

// WithWriter replaces the Kafka writer. Tests use it to capture messages.
func WithWriter(w messageWriter) Option {
	return func(s *Sink) { s.w = w }
}

// New creates a Sink publishing to cfg.Topic on cfg.Brokers. The connection
// is established lazily on the first write.
func New(cfg Config, opts ...Option) (*Sink, error) {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	s := &Sink{topic: cfg.Topic}
	for _, o := range opts {
		o(s)
	}
	if s.w != nil {
		return s, nil
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafkasink: no brokers configured")
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	s.w = &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Transport:              &kafka.Transport{Dial: dialer.DialFunc},
	}
	return s, nil
}

// Name implements [transcript.Sink].
func (s *Sink) Name() string { return "kafka" }

// Topic returns the destination topic.
func (s *Sink) Topic() string { return s.topic }

// Write implements [transcript.Sink].
func (s *Sink) Write(ctx context.Context, sessionID string, items []transcript.Item) error {
	if len(items) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(items))
	for _, it := range items {
		payload, err := json.Marshal(Event{
			SessionID: sessionID,
			Role:      it.Role,
			Text:      it.Text,
			Timestamp: it.Timestamp,
		})
		if err != nil {
			return fmt.Errorf("kafkasink: marshal: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(sessionID),
			Value: payload,
			Time:  it.Timestamp,
			Headers: []kafka.Header{
				{Key: "role", Value: []byte(it.Role)},
			},
		})
	}
	if err := s.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafkasink: write: %w", err)
	}
	return nil
}

// Close implements [transcript.Sink]. It flushes pending messages.
func (s *Sink) Close() error {
	if err := s.w.Close(); err != nil {
		return fmt.Errorf("kafkasink: close: %w", err)
	}
	return nil
}
