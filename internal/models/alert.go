package models

import (
	"time"

	"github.com/google/uuid"
)

// Asset alert labels. Fixed per underlying, never keyed by price.
const (
	MetricUnderBelow = "under_below"
	MetricUnderAbove = "under_above"
)

// Option alert metrics.
const (
	MetricDelta = "delta"
	MetricGamma = "gamma"
	MetricTheta = "theta"
)

// Condition identifies one alert rule instance. Once fired, a condition stays suppressed
// until it is explicitly re-armed.
type Condition struct {
	Key    InstrumentKey
	Metric string
}

func (c Condition) String() string {
	return c.Key.String() + "/" + c.Metric
}

// AlertKind groups alerts by the engine that produced them.
type AlertKind string

const (
	AssetAlert  AlertKind = "asset"
	OptionAlert AlertKind = "option"
)

// Alert is a single threshold crossing.
type Alert struct {
	ID         uuid.UUID
	Condition  Condition
	Kind       AlertKind
	Message    string
	Value      float64
	Threshold  float64
	DetectedAt time.Time
}

// NewAlert builds an alert with a fresh ID.
func NewAlert(kind AlertKind, cond Condition, value, threshold float64, message string) Alert {
	return Alert{
		ID:         uuid.New(),
		Condition:  cond,
		Kind:       kind,
		Message:    message,
		Value:      value,
		Threshold:  threshold,
		DetectedAt: time.Now(),
	}
}

func (a Alert) String() string {
	return a.Message
}

// Messages returns the human-readable strings of alerts.
func Messages(alerts []Alert) []string {
	out := make([]string, len(alerts))
	for i, a := range alerts {
		out[i] = a.Message
	}
	return out
}
