package monitor

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rewired-gh/greekwatch/internal/alert"
	"github.com/rewired-gh/greekwatch/internal/inventory"
	"github.com/rewired-gh/greekwatch/internal/models"
	"github.com/rewired-gh/greekwatch/internal/series"
)

var call5100 = models.Contract{Symbol: "SPX", Expiration: "20250419", Right: models.Call, Strike: 5100}

func ivTick(c models.Contract, iv float64) models.Tick {
	return models.Tick{
		Timestamp: time.Now(),
		Contract:  c,
		Bid:       models.Float(10),
		Ask:       models.Float(11),
		Greeks:    &models.Greeks{ImpliedVol: models.Float(iv), Delta: models.Float(0.3), Theta: models.Float(-1.5)},
	}
}

type countingRecorder struct {
	mu        sync.Mutex
	snapshots int
	alerts    int
}

func (r *countingRecorder) RecordSnapshot(models.SnapshotRecord) {
	r.mu.Lock()
	r.snapshots++
	r.mu.Unlock()
}

func (r *countingRecorder) RecordAlert(models.Alert) {
	r.mu.Lock()
	r.alerts++
	r.mu.Unlock()
}

type memHistory struct {
	saved   map[models.InstrumentKey][]float64
	failKey *models.InstrumentKey
	loadErr error
}

func (h *memHistory) SaveHistory(key models.InstrumentKey, values []float64) error {
	if h.failKey != nil && *h.failKey == key {
		return errors.New("disk full")
	}
	if h.saved == nil {
		h.saved = make(map[models.InstrumentKey][]float64)
	}
	h.saved[key] = values
	return nil
}

func (h *memHistory) LoadAllHistories() (map[models.InstrumentKey][]float64, error) {
	return h.saved, h.loadErr
}

func TestProcess_ZScoreUsesPriorWindow(t *testing.T) {
	m := NewFromConfig(DefaultConfig(), nil, nil)

	for i, iv := range []float64{10, 12, 11, 13, 12} {
		rec, _ := m.Process(ivTick(call5100, iv))
		if rec.IVZScore != nil {
			t.Fatalf("tick %d: z-score should be undefined with %d prior samples", i, i)
		}
	}

	rec, _ := m.Process(ivTick(call5100, 14))
	if rec.IVZScore == nil {
		t.Fatal("expected a z-score after 5 prior samples")
	}
	if *rec.IVZScore != 2.10 {
		t.Errorf("z-score = %v, want 2.10 (current excluded from its own window)", *rec.IVZScore)
	}
	if rec.IVPercentile == nil || *rec.IVPercentile != 1 {
		t.Errorf("percentile = %v, want 1", rec.IVPercentile)
	}

	h := m.History().History(call5100.Key())
	if len(h) != 6 || h[5] != 14 {
		t.Errorf("history after tick = %v, want 6 values ending in 14", h)
	}
}

func TestProcess_NilIVDoesNotGrowHistory(t *testing.T) {
	m := NewFromConfig(DefaultConfig(), nil, nil)

	rec, alerts := m.Process(models.Tick{Contract: call5100})
	if rec.IV != nil || rec.IVZScore != nil || rec.Delta != nil {
		t.Errorf("expected nil IV, z-score and delta for absent greeks: %+v", rec)
	}
	if len(alerts) != 0 {
		t.Errorf("expected no alerts, got %v", alerts)
	}
	if n := len(m.History().History(call5100.Key())); n != 0 {
		t.Errorf("history length = %d, want 0", n)
	}

	m.Process(models.Tick{Contract: call5100, Greeks: &models.Greeks{Delta: models.Float(0.2)}})
	if n := len(m.History().History(call5100.Key())); n != 0 {
		t.Errorf("greeks without IV should not append, history length = %d", n)
	}
}

func TestProcess_ExtremeIVsDoNotPanic(t *testing.T) {
	m := NewFromConfig(DefaultConfig(), nil, nil)

	var rec models.SnapshotRecord
	for _, iv := range []float64{1e308, 1e308, -1e308, 1e308, -1e308, 1e308} {
		rec, _ = m.Process(ivTick(call5100, iv))
	}
	if rec.IVZScore != nil {
		t.Errorf("z-score over an overflowing window should be undefined, got %v", *rec.IVZScore)
	}
	if rec.IVPercentile == nil {
		t.Error("percentile should still be defined for finite values")
	}
}

func TestProcess_HistoryBounded(t *testing.T) {
	cfg := DefaultConfig()
	m := NewFromConfig(cfg, nil, nil)
	for i := 0; i < 60; i++ {
		m.Process(ivTick(call5100, float64(i)))
	}
	h := m.History().History(call5100.Key())
	if len(h) != series.DefaultCapacity {
		t.Fatalf("history length = %d, want %d", len(h), series.DefaultCapacity)
	}
	if h[0] != 10 || h[49] != 59 {
		t.Errorf("history should hold the last 50 values in order, got first=%v last=%v", h[0], h[49])
	}
}

func TestProcess_InventoryLookup(t *testing.T) {
	book := inventory.NewBook([]inventory.Position{
		{Symbol: "SPX", Expiry: "20250419", Strike: 5100, Right: models.Call, Quantity: 2, Strategy: "Bull Call Spread"},
		{Symbol: "SPX", Expiry: "20250419", Strike: 5200, Right: models.Call, Quantity: -1},
	})
	m := NewFromConfig(DefaultConfig(), book, nil)

	rec, _ := m.Process(ivTick(call5100, 0.2))
	if rec.Quantity != 2 || rec.Strategy == nil || *rec.Strategy != "Bull Call Spread" {
		t.Errorf("unexpected position fields: quantity=%d strategy=%v", rec.Quantity, rec.Strategy)
	}

	c5200 := call5100
	c5200.Strike = 5200
	rec, _ = m.Process(ivTick(c5200, 0.2))
	if rec.Quantity != -1 || rec.Strategy != nil {
		t.Errorf("position without strategy: quantity=%d strategy=%v", rec.Quantity, rec.Strategy)
	}

	c5300 := call5100
	c5300.Strike = 5300
	rec, _ = m.Process(ivTick(c5300, 0.2))
	if rec.Quantity != 0 || rec.Strategy != nil || rec.Held() {
		t.Errorf("unheld contract should degrade to zero quantity: %+v", rec)
	}
}

func TestProcess_RunsBothEngines(t *testing.T) {
	rec := &countingRecorder{}
	m := NewFromConfig(DefaultConfig(), nil, rec)

	tick := ivTick(call5100, 0.2)
	tick.Greeks.Delta = models.Float(0.6)
	tick.UnderlyingPrice = models.Float(4400)

	_, alerts := m.Process(tick)
	if len(alerts) != 2 {
		t.Fatalf("expected asset and delta alerts, got %v", models.Messages(alerts))
	}
	if !strings.Contains(alerts[0].Message, "dropped below") || !strings.Contains(alerts[1].Message, "delta crossed") {
		t.Errorf("unexpected alerts: %v", models.Messages(alerts))
	}

	_, alerts = m.Process(tick)
	if len(alerts) != 0 {
		t.Errorf("repeat tick should be suppressed, got %v", models.Messages(alerts))
	}
	if rec.snapshots != 2 || rec.alerts != 2 {
		t.Errorf("recorder saw %d snapshots, %d alerts", rec.snapshots, rec.alerts)
	}
}

func TestProcessCycle_Rearm(t *testing.T) {
	m := NewFromConfig(DefaultConfig(), nil, nil)
	price := models.Float(5600)

	ticks := []models.Tick{
		{Contract: call5100, UnderlyingPrice: price},
		{Contract: models.Contract{Symbol: "SPX", Expiration: "20250419", Right: models.Put, Strike: 4900}, UnderlyingPrice: price},
	}

	records, alerts := m.ProcessCycle(ticks)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if len(alerts) != 1 {
		t.Fatalf("underlying breach should fire once per cycle, got %d", len(alerts))
	}

	if _, alerts = m.ProcessCycle(ticks); len(alerts) != 0 {
		t.Errorf("second cycle should be suppressed, got %d", len(alerts))
	}

	if n := m.Rearm(); n != 1 {
		t.Errorf("Rearm cleared %d, want 1", n)
	}
	if _, alerts = m.ProcessCycle(ticks); len(alerts) != 1 {
		t.Errorf("re-armed condition should fire again, got %d", len(alerts))
	}

	m.RearmCondition(alerts[0].Condition)
	if m.Registry().Len() != 0 {
		t.Errorf("registry should be empty after RearmCondition")
	}
}

func TestProcess_ConcurrentSameKey(t *testing.T) {
	m := NewFromConfig(DefaultConfig(), nil, nil)
	tick := ivTick(call5100, 0.2)
	tick.Greeks.Delta = models.Float(0.9)

	var wg sync.WaitGroup
	var mu sync.Mutex
	fired := 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, alerts := m.Process(tick)
			mu.Lock()
			fired += len(alerts)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if fired != 1 {
		t.Errorf("delta alert fired %d times, want 1", fired)
	}
	if n := len(m.History().History(call5100.Key())); n != 40 {
		t.Errorf("history length = %d, want 40 (no lost updates)", n)
	}
}

func TestCheckpointRestore(t *testing.T) {
	store := &memHistory{}
	m := NewFromConfig(DefaultConfig(), nil, nil)
	for _, iv := range []float64{0.1, 0.2, 0.3} {
		m.Process(ivTick(call5100, iv))
	}
	m.Checkpoint(store)

	restored := New(series.NewStore(2), alert.NewRegistry(), nil, nil, nil)
	if err := restored.Restore(store); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	h := restored.History().History(call5100.Key())
	if len(h) != 2 || h[0] != 0.2 || h[1] != 0.3 {
		t.Errorf("restored history = %v, want [0.2 0.3]", h)
	}
}

func TestCheckpoint_SkipsFailures(t *testing.T) {
	put := models.Contract{Symbol: "SPX", Expiration: "20250419", Right: models.Put, Strike: 4900}
	failKey := put.Key()
	store := &memHistory{failKey: &failKey}

	m := NewFromConfig(DefaultConfig(), nil, nil)
	m.Process(ivTick(call5100, 0.1))
	m.Process(ivTick(put, 0.1))
	m.Checkpoint(store)

	if _, ok := store.saved[call5100.Key()]; !ok {
		t.Error("healthy key should still be checkpointed")
	}
	if _, ok := store.saved[failKey]; ok {
		t.Error("failing key should not be saved")
	}
}

func TestRestore_Error(t *testing.T) {
	m := NewFromConfig(DefaultConfig(), nil, nil)
	if err := m.Restore(&memHistory{loadErr: errors.New("locked")}); err == nil {
		t.Error("expected restore error")
	}
}
