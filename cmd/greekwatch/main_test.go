package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/greekwatch/internal/config"
	"github.com/rewired-gh/greekwatch/internal/models"
)

const replayLine = `{"timestamp":"2025-04-01T14:30:00Z","underlying":{"symbol":"SPX","last":4400,"close":4420},` +
	`"options":[{"expiration":"20250419","right":"C","strike":5100,"bid":1,"ask":1.2,"last":1.1,` +
	`"greeks":{"delta":0.62,"gamma":0.001,"theta":-0.8,"implied_vol":0.2}}]}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReplayCommand(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "snapshots.csv")
	cfgPath := writeFile(t, dir, "config.yaml", `
storage:
  enabled: true
  db_path: "`+filepath.Join(dir, "greekwatch.db")+`"
export:
  csv_path: "`+csvPath+`"
logging:
  level: error
  format: text
`)
	dataPath := writeFile(t, dir, "replay.jsonl", replayLine+"\n"+replayLine+"\n")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"replay", dataPath, "--config", cfgPath})
	require.NoError(t, root.ExecuteContext(context.Background()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{
		"⚠️ SPX dropped below 4500: 4400",
		"⚠️ C 5100 delta crossed 0.5: 0.62",
	}, lines, "second identical snapshot must not re-alert")

	csv, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(csv)), "\n"), 3, "header plus one row per tick")

	assert.NoFileExists(t, filepath.Join(dir, "greekwatch.db"), "replay must not touch the configured database")
}

func TestReplayCommand_Persist(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "greekwatch.db")
	cfgPath := writeFile(t, dir, "config.yaml", `
storage:
  enabled: true
  db_path: "`+dbPath+`"
logging:
  level: error
`)
	dataPath := writeFile(t, dir, "replay.jsonl", replayLine+"\n")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"replay", dataPath, "--config", cfgPath, "--persist"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	assert.FileExists(t, dbPath)
}

func TestReplayCommand_MissingFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", "storage:\n  enabled: false\nlogging:\n  level: error\n")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"replay", filepath.Join(dir, "missing.jsonl"), "--config", cfgPath})
	assert.Error(t, root.ExecuteContext(context.Background()))
}

func TestAppHandleCycle(t *testing.T) {
	cfg := &config.Config{
		Underlying: config.UnderlyingConfig{Symbol: "SPX"},
		Alerts: config.AlertsConfig{
			LowThreshold: 4500, HighThreshold: 5500, DeltaThreshold: 0.5,
			WatchedStrikes: []float64{5100},
		},
		Monitor: config.MonitorConfig{HistorySize: 50},
		Storage: config.StorageConfig{Enabled: true, DBPath: ":memory:", MaxSnapshots: 100},
	}
	a, err := newApp(cfg)
	require.NoError(t, err)
	defer a.close()

	tick := models.Tick{
		Contract:        models.Contract{Symbol: "SPX", Expiration: "20250419", Right: models.Call, Strike: 5100},
		Greeks:          &models.Greeks{Delta: models.Float(0.7), ImpliedVol: models.Float(0.2)},
		UnderlyingPrice: models.Float(5600),
	}
	alerts := a.handleCycle(context.Background(), []models.Tick{tick})
	require.Len(t, alerts, 2)

	n, err := a.store.CountSnapshots()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := a.store.GetRecentAlerts(10)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	assert.Contains(t, a.status(), "1 cycles")
	assert.Contains(t, a.status(), "2 alert conditions fired")

	assert.Equal(t, 2, a.mon.Rearm())
	assert.Len(t, a.handleCycle(context.Background(), []models.Tick{tick}), 2, "re-armed conditions fire again")
}

type fakeNotifier struct {
	failNext bool
	sent     [][]models.Alert
}

func (n *fakeNotifier) SendAlerts(_ context.Context, alerts []models.Alert) error {
	if n.failNext {
		n.failNext = false
		return errors.New("telegram down")
	}
	n.sent = append(n.sent, alerts)
	return nil
}

func (n *fakeNotifier) SendError(error) error { return nil }

func (n *fakeNotifier) SendRecovery(int) error { return nil }

func TestAppDeliver_RetriesFailedAlerts(t *testing.T) {
	cfg := &config.Config{
		Underlying: config.UnderlyingConfig{Symbol: "SPX"},
		Alerts:     config.AlertsConfig{LowThreshold: 4500, HighThreshold: 5500, DeltaThreshold: 0.5},
		Monitor:    config.MonitorConfig{HistorySize: 50},
		Storage:    config.StorageConfig{Enabled: true, DBPath: ":memory:", MaxSnapshots: 100},
	}
	a, err := newApp(cfg)
	require.NoError(t, err)
	defer a.close()
	n := &fakeNotifier{failNext: true}
	a.notify = n

	low := models.Tick{Contract: models.Contract{Symbol: "SPX", Right: models.Call, Strike: 5100}, UnderlyingPrice: models.Float(4400)}
	require.Len(t, a.handleCycle(context.Background(), []models.Tick{low}), 1)
	assert.Empty(t, n.sent)
	assert.Contains(t, a.status(), "1 alerts pending delivery")

	high := low
	high.UnderlyingPrice = models.Float(5600)
	require.Len(t, a.handleCycle(context.Background(), []models.Tick{high}), 1)
	require.Len(t, n.sent, 1)
	assert.Equal(t, []string{"⚠️ SPX dropped below 4500: 4400", "⚠️ SPX spiked above 5500: 5600"},
		models.Messages(n.sent[0]), "the failed alert is redelivered before the new one")
	assert.Contains(t, a.status(), "0 alerts pending delivery")

	a.handleCycle(context.Background(), []models.Tick{high})
	assert.Len(t, n.sent, 1, "nothing pending, nothing sent")

	assert.Contains(t, a.recentAlerts(), "spiked above 5500")
}

func TestRecentAlerts_NoStorage(t *testing.T) {
	cfg := &config.Config{
		Underlying: config.UnderlyingConfig{Symbol: "SPX"},
		Alerts:     config.AlertsConfig{LowThreshold: 4500, HighThreshold: 5500},
		Monitor:    config.MonitorConfig{HistorySize: 50},
	}
	a, err := newApp(cfg)
	require.NoError(t, err)
	defer a.close()

	assert.Equal(t, "Alert history requires storage", a.recentAlerts())
	assert.NotContains(t, a.status(), "pending delivery")
	assert.Contains(t, a.status(), "window 50")
}

func TestCheckpointSchedule(t *testing.T) {
	c := checkpointSchedule{every: 3}
	failure := errors.New("feed down")

	for i := 0; i < 10; i++ {
		assert.False(t, c.due(failure), "failed cycles never checkpoint")
	}
	assert.False(t, c.due(nil))
	assert.False(t, c.due(nil))
	assert.False(t, c.due(failure))
	assert.True(t, c.due(nil), "third successful cycle checkpoints")
	assert.False(t, c.due(nil))
}
