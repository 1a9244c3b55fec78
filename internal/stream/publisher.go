// Package stream publishes match announcements to Kafka so downstream
// consumers can react to new cross-matches without polling the database.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Theodlz/ep-ztf-xmatch/internal/config"
	"github.com/Theodlz/ep-ztf-xmatch/internal/matcher"
)

// Config holds Kafka publisher settings. An empty broker list disables
// publishing entirely.
type Config struct {
	Brokers []string
	Topic   string
}

// LoadConfig reads Kafka settings from the environment.
func LoadConfig() Config {
	return Config{
		Brokers: config.ParseCommaSeparatedList(config.GetEnvStr("KAFKA_BROKERS", "")),
		Topic:   config.GetEnvStr("KAFKA_TOPIC", "xmatch.matches"),
	}
}

// messageWriter is the slice of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher announces stored matches on a Kafka topic.
type Publisher struct {
	writer messageWriter
	logger *slog.Logger
}

// announcement is the published payload, keyed by event name.
type announcement struct {
	EventName      string  `json:"event_name"`
	ObjectID       string  `json:"object_id"`
	Candid         int64   `json:"candid"`
	JD             float64 `json:"jd"`
	DeltaT         float64 `json:"delta_t"`
	DistanceArcmin float64 `json:"distance_arcmin"`
	Archival       bool    `json:"archival"`
}

// NewPublisher creates a Kafka-backed publisher, or nil when no brokers
// are configured. A nil *Publisher satisfies callers that treat the
// announcer as optional.
func NewPublisher(cfg Config) *Publisher {
	if len(cfg.Brokers) == 0 {
		return nil
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 100 * time.Millisecond,
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	})).With(slog.String("component", "stream"))

	return &Publisher{
		writer: writer,
		logger: logger,
	}
}

// Announce publishes one match. Messages for the same event land on the
// same partition so per-event ordering holds.
func (p *Publisher) Announce(ctx context.Context, eventName string, xm *matcher.Xmatch) error {
	payload, err := json.Marshal(announcement{
		EventName:      eventName,
		ObjectID:       xm.ObjectID,
		Candid:         xm.Candid,
		JD:             xm.JD,
		DeltaT:         xm.DeltaT,
		DistanceArcmin: xm.DistanceArcmin,
		Archival:       xm.Archival,
	})
	if err != nil {
		return fmt.Errorf("encoding announcement: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(eventName),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("publishing announcement: %w", err)
	}

	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}

	return p.writer.Close()
}
