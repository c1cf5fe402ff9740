package alert

import (
	"fmt"

	"github.com/rewired-gh/greekwatch/internal/models"
)

// Engine evaluates one tick and returns the alerts it newly fired.
type Engine interface {
	Evaluate(tick models.Tick) []models.Alert
}

// AssetEngine alerts when the underlying leaves the [Low, High] band.
// Each side fires at most once per registry lifetime.
type AssetEngine struct {
	registry *Registry
	symbol   string
	low      float64
	high     float64
}

// NewAssetEngine creates an underlying-price engine for symbol.
func NewAssetEngine(registry *Registry, symbol string, low, high float64) *AssetEngine {
	return &AssetEngine{
		registry: registry,
		symbol:   symbol,
		low:      low,
		high:     high,
	}
}

// Check evaluates one underlying price. It can return zero, one or two alerts.
func (e *AssetEngine) Check(price float64) []models.Alert {
	var alerts []models.Alert
	key := models.UnderlyingKey(e.symbol)

	if price < e.low {
		cond := models.Condition{Key: key, Metric: models.MetricUnderBelow}
		if e.registry.TryFire(cond) {
			msg := fmt.Sprintf("⚠️ %s dropped below %s: %s", e.symbol, models.FormatFloat(e.low), models.FormatFloat(price))
			alerts = append(alerts, models.NewAlert(models.AssetAlert, cond, price, e.low, msg))
		}
	}

	if price > e.high {
		cond := models.Condition{Key: key, Metric: models.MetricUnderAbove}
		if e.registry.TryFire(cond) {
			msg := fmt.Sprintf("⚠️ %s spiked above %s: %s", e.symbol, models.FormatFloat(e.high), models.FormatFloat(price))
			alerts = append(alerts, models.NewAlert(models.AssetAlert, cond, price, e.high, msg))
		}
	}

	return alerts
}

// Evaluate checks the tick's underlying price, if it carries one.
func (e *AssetEngine) Evaluate(tick models.Tick) []models.Alert {
	if tick.UnderlyingPrice == nil {
		return nil
	}
	return e.Check(*tick.UnderlyingPrice)
}

// OptionThresholds configures the option engine. Gamma and Theta are disabled when nil.
type OptionThresholds struct {
	Delta          float64
	Gamma          *float64
	Theta          *float64
	WatchedStrikes []float64
}

// OptionEngine alerts on greek breaches for contracts whose strike is watched.
// Delta and gamma fire above their threshold; theta fires below it.
type OptionEngine struct {
	registry *Registry
	cfg      OptionThresholds
	watched  map[float64]struct{}
}

// NewOptionEngine creates a greeks engine.
func NewOptionEngine(registry *Registry, cfg OptionThresholds) *OptionEngine {
	watched := make(map[float64]struct{}, len(cfg.WatchedStrikes))
	for _, s := range cfg.WatchedStrikes {
		watched[s] = struct{}{}
	}
	return &OptionEngine{
		registry: registry,
		cfg:      cfg,
		watched:  watched,
	}
}

// Watches reports whether strike is on the watch-list.
func (e *OptionEngine) Watches(strike float64) bool {
	_, ok := e.watched[strike]
	return ok
}

// Check evaluates the greeks of one contract.
func (e *OptionEngine) Check(contract models.Contract, greeks *models.Greeks) []models.Alert {
	if greeks == nil || !e.Watches(contract.Strike) {
		return nil
	}

	var alerts []models.Alert
	key := contract.Key()
	label := fmt.Sprintf("%s %s", contract.Right, models.FormatFloat(contract.Strike))

	if greeks.Delta != nil && *greeks.Delta > e.cfg.Delta {
		alerts = e.fire(alerts, key, models.MetricDelta, *greeks.Delta, e.cfg.Delta,
			"⚠️ %s delta crossed %s: %.2f", label)
	}

	if e.cfg.Gamma != nil && greeks.Gamma != nil && *greeks.Gamma > *e.cfg.Gamma {
		alerts = e.fire(alerts, key, models.MetricGamma, *greeks.Gamma, *e.cfg.Gamma,
			"⚠️ %s gamma crossed %s: %.4f", label)
	}

	if e.cfg.Theta != nil && greeks.Theta != nil && *greeks.Theta < *e.cfg.Theta {
		alerts = e.fire(alerts, key, models.MetricTheta, *greeks.Theta, *e.cfg.Theta,
			"⚠️ %s theta dropped below %s: %.2f", label)
	}

	return alerts
}

// Evaluate checks the tick's contract and greeks.
func (e *OptionEngine) Evaluate(tick models.Tick) []models.Alert {
	return e.Check(tick.Contract, tick.Greeks)
}

func (e *OptionEngine) fire(alerts []models.Alert, key models.InstrumentKey, metric string, value, threshold float64, format, label string) []models.Alert {
	cond := models.Condition{Key: key, Metric: metric}
	if !e.registry.TryFire(cond) {
		return alerts
	}
	msg := fmt.Sprintf(format, label, models.FormatFloat(threshold), value)
	return append(alerts, models.NewAlert(models.OptionAlert, cond, value, threshold, msg))
}
