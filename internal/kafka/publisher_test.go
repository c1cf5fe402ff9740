package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/greekwatch/internal/models"
)

func TestParseCompression(t *testing.T) {
	tests := map[string]kafka.Compression{
		"gzip":   kafka.Gzip,
		"snappy": kafka.Snappy,
		"lz4":    kafka.Lz4,
		"zstd":   kafka.Zstd,
		"":       kafka.Gzip,
		"bogus":  kafka.Gzip,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseCompression(in), "compression %q", in)
	}
}

func TestNewPublisher_Validation(t *testing.T) {
	_, err := NewPublisher(Config{AlertsTopic: "alerts"})
	assert.Error(t, err)

	_, err = NewPublisher(Config{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	p, err := NewPublisher(Config{Brokers: []string{"localhost:9092"}, AlertsTopic: "alerts"})
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}

func TestPublish_NoTopicIsNoop(t *testing.T) {
	p, err := NewPublisher(Config{Brokers: []string{"localhost:9092"}, AlertsTopic: "alerts"})
	require.NoError(t, err)
	defer p.Close()

	rec := models.SnapshotRecord{Symbol: "SPX", Expiration: "20250419", Right: models.Call, Strike: 5100}
	assert.NoError(t, p.PublishSnapshots(context.Background(), []models.SnapshotRecord{rec}))
	assert.NoError(t, p.PublishAlerts(context.Background(), nil))
}

func TestAlertMessages(t *testing.T) {
	key := models.InstrumentKey{Symbol: "SPX", Expiration: "20250419", Right: models.Call, Strike: 5100}
	a := models.NewAlert(models.OptionAlert, models.Condition{Key: key, Metric: models.MetricDelta},
		0.6, 0.5, "⚠️ C 5100 delta crossed 0.5: 0.60")

	msgs, err := alertMessages("alerts", []models.Alert{a})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alerts", msgs[0].Topic)
	assert.Equal(t, "SPX 20250419 C 5100", string(msgs[0].Key))

	var ev alertEvent
	require.NoError(t, json.Unmarshal(msgs[0].Value, &ev))
	assert.Equal(t, a.ID.String(), ev.ID)
	assert.Equal(t, "option", ev.Kind)
	assert.Equal(t, "delta", ev.Metric)
	assert.Equal(t, 0.6, ev.Value)
}

func TestSnapshotMessages(t *testing.T) {
	ts := time.Date(2025, 4, 1, 14, 30, 0, 0, time.UTC)
	rec := models.SnapshotRecord{
		Timestamp: ts, Symbol: "SPX", Expiration: "20250419", Right: models.Put, Strike: 4900,
		IV: models.Float(0.2),
	}
	msgs, err := snapshotMessages("snaps", []models.SnapshotRecord{rec})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "SPX 20250419 P 4900", string(msgs[0].Key))
	assert.Equal(t, ts, msgs[0].Time)
	assert.Contains(t, string(msgs[0].Value), `"iv":0.2`)
}
