// Package kafka publishes alerts and snapshot records to Kafka topics.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rewired-gh/greekwatch/internal/models"
)

// Config holds broker and topic settings.
type Config struct {
	Brokers        []string
	AlertsTopic    string
	SnapshotsTopic string
	Compression    string
	WriteTimeout   time.Duration
}

// Publisher writes alerts and snapshot records as JSON messages keyed by instrument.
type Publisher struct {
	writer         *kafka.Writer
	alertsTopic    string
	snapshotsTopic string
}

// NewPublisher creates a publisher. Topics are set per message, so the writer itself has none.
func NewPublisher(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if cfg.AlertsTopic == "" && cfg.SnapshotsTopic == "" {
		return nil, fmt.Errorf("at least one topic is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  parseCompression(cfg.Compression),
		MaxAttempts:  3,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: 100 * time.Millisecond,
	}

	return &Publisher{
		writer:         writer,
		alertsTopic:    cfg.AlertsTopic,
		snapshotsTopic: cfg.SnapshotsTopic,
	}, nil
}

// PublishAlerts writes alerts to the alerts topic. A no-op when the topic is unset.
func (p *Publisher) PublishAlerts(ctx context.Context, alerts []models.Alert) error {
	if p.alertsTopic == "" || len(alerts) == 0 {
		return nil
	}
	msgs, err := alertMessages(p.alertsTopic, alerts)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to publish alerts: %w", err)
	}
	return nil
}

// PublishSnapshots writes records to the snapshots topic. A no-op when the topic is unset.
func (p *Publisher) PublishSnapshots(ctx context.Context, records []models.SnapshotRecord) error {
	if p.snapshotsTopic == "" || len(records) == 0 {
		return nil
	}
	msgs, err := snapshotMessages(p.snapshotsTopic, records)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to publish snapshots: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

// alertEvent is the wire form of an alert.
type alertEvent struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Instrument string    `json:"instrument"`
	Metric     string    `json:"metric"`
	Message    string    `json:"message"`
	Value      float64   `json:"value"`
	Threshold  float64   `json:"threshold"`
	DetectedAt time.Time `json:"detected_at"`
}

func alertMessages(topic string, alerts []models.Alert) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(alerts))
	for _, a := range alerts {
		v, err := json.Marshal(alertEvent{
			ID:         a.ID.String(),
			Kind:       string(a.Kind),
			Instrument: a.Condition.Key.String(),
			Metric:     a.Condition.Metric,
			Message:    a.Message,
			Value:      a.Value,
			Threshold:  a.Threshold,
			DetectedAt: a.DetectedAt,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal alert: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Topic: topic,
			Key:   []byte(a.Condition.Key.String()),
			Value: v,
			Time:  a.DetectedAt,
		})
	}
	return msgs, nil
}

func snapshotMessages(topic string, records []models.SnapshotRecord) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		v, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("marshal snapshot: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Topic: topic,
			Key:   []byte(r.Key().String()),
			Value: v,
			Time:  r.Timestamp,
		})
	}
	return msgs, nil
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Gzip
	}
}
