// Package publish streams finalized captions to a Kafka topic.
//
// A Publisher without brokers runs in log-only mode: every caption is
// logged at debug level and nothing leaves the process.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/MrWong99/glyphcap/internal/observe"
)

// Config selects the Kafka cluster and topic.
type Config struct {
	Brokers []string
	Topic   string
	// ClientID is sent as the "source" header.
	ClientID string
}

// Caption is the JSON payload of one message.
type Caption struct {
	EventID   string    `json:"eventId"`
	SpeakerID string    `json:"userId"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	SrcLang   string    `json:"srcLang,omitempty"`
	At        time.Time `json:"at"`
}

// messageWriter is the subset of [kafka.Writer] the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes captions keyed by speaker id so one speaker's captions
// stay ordered within a partition.
type Publisher struct {
	w        messageWriter
	topic    string
	clientID string
	metrics  *observe.Metrics
}

// Option configures a [Publisher].
type Option func(*Publisher)

// WithMetrics records publish outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// withWriter replaces the Kafka writer. Tests only.
func withWriter(w messageWriter) Option {
	return func(p *Publisher) { p.w = w }
}

// New returns a Publisher for cfg. With no brokers or no topic the
// publisher is disabled.
func New(cfg Config, opts ...Option) *Publisher {
	p := &Publisher{topic: cfg.Topic, clientID: cfg.ClientID}
	if p.clientID == "" {
		p.clientID = "glyphcap"
	}
	if len(cfg.Brokers) > 0 && cfg.Topic != "" {
		dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
		p.w = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    &kafka.Transport{Dial: dialer.DialFunc, ClientID: p.clientID},
		}
	}
	for _, o := range opts {
		o(p)
	}
	if p.w == nil {
		slog.Info("publish: kafka disabled, captions are logged only")
	} else {
		slog.Info("publish: kafka publisher ready", "brokers", cfg.Brokers, "topic", cfg.Topic)
	}
	return p
}

// Enabled reports whether captions leave the process.
func (p *Publisher) Enabled() bool { return p.w != nil }

// Publish sends c. In log-only mode it only logs.
func (p *Publisher) Publish(ctx context.Context, c Caption) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("publish: marshal caption: %w", err)
	}
	observe.Logger(ctx).Debug("publish: caption", "topic", p.topic, "speaker", c.SpeakerID, "event_id", c.EventID)
	if p.w == nil {
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(c.SpeakerID),
		Value: payload,
		Time:  c.At,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte("caption.final")},
			{Key: "source", Value: []byte(p.clientID)},
		},
	}
	err = p.w.WriteMessages(ctx, msg)
	if p.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
			p.metrics.RecordProviderError(ctx, "kafka", "final")
		}
		p.metrics.RecordProviderRequest(ctx, "kafka", "final", status)
	}
	if err != nil {
		return fmt.Errorf("publish: write %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes pending writes.
func (p *Publisher) Close() error {
	if p.w == nil {
		return nil
	}
	if err := p.w.Close(); err != nil {
		return fmt.Errorf("publish: close writer: %w", err)
	}
	return nil
}
