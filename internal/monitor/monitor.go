// Package monitor turns polled ticks into snapshot records and alerts.
package monitor

import (
	"sync"
	"time"

	"github.com/rewired-gh/greekwatch/internal/alert"
	"github.com/rewired-gh/greekwatch/internal/inventory"
	"github.com/rewired-gh/greekwatch/internal/logger"
	"github.com/rewired-gh/greekwatch/internal/models"
	"github.com/rewired-gh/greekwatch/internal/series"
	"github.com/rewired-gh/greekwatch/internal/stats"
)

// Config holds the thresholds and window size used by NewFromConfig.
type Config struct {
	HistorySize int
	Underlying  string
	Thresholds  alert.OptionThresholds
	Low         float64
	High        float64
}

// DefaultConfig returns the SPX defaults: a 4500-5500 band, delta 0.5 on strikes
// 5100/5200/5300 and a 50-observation window.
func DefaultConfig() Config {
	return Config{
		HistorySize: series.DefaultCapacity,
		Underlying:  "SPX",
		Thresholds: alert.OptionThresholds{
			Delta:          0.5,
			WatchedStrikes: []float64{5100, 5200, 5300},
		},
		Low:  4500,
		High: 5500,
	}
}

// PositionLookup resolves the inventory position held in a contract.
type PositionLookup interface {
	Lookup(contract models.Contract) (inventory.Position, bool)
}

// Recorder receives per-tick observations. *metrics.Recorder satisfies it.
type Recorder interface {
	RecordSnapshot(rec models.SnapshotRecord)
	RecordAlert(a models.Alert)
}

// HistoryStore persists implied volatility histories between runs.
type HistoryStore interface {
	SaveHistory(key models.InstrumentKey, values []float64) error
	LoadAllHistories() (map[models.InstrumentKey][]float64, error)
}

// Monitor turns ticks into snapshot records and alerts. Safe for concurrent use;
// ticks for the same contract are processed one at a time.
type Monitor struct {
	history   *series.Store
	registry  *alert.Registry
	engines   []alert.Engine
	positions PositionLookup
	recorder  Recorder

	keyLocks sync.Map // models.InstrumentKey -> *sync.Mutex
}

// New wires a monitor around an existing store and registry.
// positions and recorder may be nil.
func New(history *series.Store, registry *alert.Registry, engines []alert.Engine, positions PositionLookup, recorder Recorder) *Monitor {
	return &Monitor{
		history:   history,
		registry:  registry,
		engines:   engines,
		positions: positions,
		recorder:  recorder,
	}
}

// NewFromConfig builds a monitor with a fresh store, a fresh registry and both alert engines.
func NewFromConfig(cfg Config, positions PositionLookup, recorder Recorder) *Monitor {
	registry := alert.NewRegistry()
	engines := []alert.Engine{
		alert.NewAssetEngine(registry, cfg.Underlying, cfg.Low, cfg.High),
		alert.NewOptionEngine(registry, cfg.Thresholds),
	}
	return New(series.NewStore(cfg.HistorySize), registry, engines, positions, recorder)
}

// History exposes the rolling store.
func (m *Monitor) History() *series.Store { return m.history }

// Registry exposes the trigger registry.
func (m *Monitor) Registry() *alert.Registry { return m.registry }

func (m *Monitor) lockKey(key models.InstrumentKey) func() {
	mu, _ := m.keyLocks.LoadOrStore(key, &sync.Mutex{})
	l := mu.(*sync.Mutex)
	l.Lock()
	return l.Unlock
}

// Process handles one tick. Statistics compare the tick's implied vol against the history
// as it stood before this tick; the observation is appended afterwards.
func (m *Monitor) Process(tick models.Tick) (models.SnapshotRecord, []models.Alert) {
	key := tick.Contract.Key()
	unlock := m.lockKey(key)
	defer unlock()

	iv := tick.ImpliedVol()
	prior := m.history.History(key)
	z := stats.ZScore(prior, iv)
	pct := stats.PercentileRank(prior, iv)
	m.history.Record(key, iv)

	var alerts []models.Alert
	for _, e := range m.engines {
		alerts = append(alerts, e.Evaluate(tick)...)
	}

	rec := models.SnapshotRecord{
		Timestamp:    tick.Timestamp,
		Symbol:       tick.Contract.Symbol,
		Expiration:   tick.Contract.Expiration,
		Right:        tick.Contract.Right,
		Strike:       tick.Contract.Strike,
		Bid:          tick.Bid,
		Ask:          tick.Ask,
		Last:         tick.Last,
		IV:           iv,
		IVZScore:     z,
		IVPercentile: pct,
	}
	if tick.Greeks != nil {
		rec.Delta = tick.Greeks.Delta
		rec.Theta = tick.Greeks.Theta
	}
	if m.positions != nil {
		if pos, ok := m.positions.Lookup(tick.Contract); ok {
			rec.Quantity = pos.Quantity
			if pos.Strategy != "" {
				strategy := pos.Strategy
				rec.Strategy = &strategy
			}
		}
	}

	if m.recorder != nil {
		m.recorder.RecordSnapshot(rec)
		for _, a := range alerts {
			m.recorder.RecordAlert(a)
		}
	}
	return rec, alerts
}

// ProcessCycle handles one polling batch in order.
func (m *Monitor) ProcessCycle(ticks []models.Tick) ([]models.SnapshotRecord, []models.Alert) {
	records := make([]models.SnapshotRecord, 0, len(ticks))
	var alerts []models.Alert
	var scored, extreme int

	for _, tick := range ticks {
		rec, fired := m.Process(tick)
		records = append(records, rec)
		alerts = append(alerts, fired...)

		if rec.IVZScore != nil {
			scored++
			if *rec.IVZScore >= 2 || *rec.IVZScore <= -2 {
				extreme++
				logger.Debug("IV outlier %s: iv=%.4f z=%.2f", rec.Key(), *rec.IV, *rec.IVZScore)
			}
		}
	}

	logger.Debug("Processed %d ticks: %d with z-score, %d beyond ±2σ, %d alerts, %d tracked series",
		len(ticks), scored, extreme, len(alerts), m.history.Len())
	return records, alerts
}

// Rearm clears every fired condition so each can alert again.
func (m *Monitor) Rearm() int {
	n := m.registry.ResetAll()
	logger.Info("Re-armed %d alert conditions", n)
	return n
}

// RearmCondition clears a single fired condition.
func (m *Monitor) RearmCondition(c models.Condition) {
	m.registry.Reset(c)
}

// Restore loads persisted histories into the rolling store.
func (m *Monitor) Restore(s HistoryStore) error {
	persisted, err := s.LoadAllHistories()
	if err != nil {
		return err
	}
	for key, values := range persisted {
		m.history.Restore(key, values)
	}
	logger.Info("Loaded %d persisted IV histories", len(persisted))
	return nil
}

// Checkpoint saves every history. Individual failures are logged and skipped.
func (m *Monitor) Checkpoint(s HistoryStore) {
	start := time.Now()
	snap := m.history.Snapshot()
	for key, values := range snap {
		if err := s.SaveHistory(key, values); err != nil {
			logger.Warn("Failed to checkpoint history for %s: %v", key, err)
		}
	}
	logger.Debug("Checkpointed %d IV histories in %v", len(snap), time.Since(start))
}
