// Package models defines the core domain entities: instruments, ticks, snapshot records and alerts.
package models

import (
	"strconv"
	"time"
)

// Right is the option right: call or put. Empty for an underlying.
type Right string

const (
	Call Right = "C"
	Put  Right = "P"
)

// InstrumentKey identifies one tracked instrument. Options fill Expiration, Right and Strike;
// an underlying key carries only the Symbol. Comparable, so it can be used as a map key.
type InstrumentKey struct {
	Symbol     string
	Expiration string
	Right      Right
	Strike     float64
}

// UnderlyingKey returns the key for a bare underlying symbol.
func UnderlyingKey(symbol string) InstrumentKey {
	return InstrumentKey{Symbol: symbol}
}

// IsOption reports whether the key names an option contract.
func (k InstrumentKey) IsOption() bool {
	return k.Right != ""
}

func (k InstrumentKey) String() string {
	if !k.IsOption() {
		return k.Symbol
	}
	s := k.Expiration + " " + string(k.Right) + " " + FormatFloat(k.Strike)
	if k.Symbol != "" {
		s = k.Symbol + " " + s
	}
	return s
}

// Contract is a resolved option contract as delivered by the feed.
type Contract struct {
	Symbol     string  `json:"symbol"`
	Expiration string  `json:"expiration"`
	Right      Right   `json:"right"`
	Strike     float64 `json:"strike"`
}

// Key returns the instrument key of the contract.
func (c Contract) Key() InstrumentKey {
	return InstrumentKey{
		Symbol:     c.Symbol,
		Expiration: c.Expiration,
		Right:      c.Right,
		Strike:     c.Strike,
	}
}

// Greeks holds option sensitivities. Any field may be nil when the feed has no model value.
type Greeks struct {
	Delta      *float64 `json:"delta"`
	Gamma      *float64 `json:"gamma"`
	Theta      *float64 `json:"theta"`
	ImpliedVol *float64 `json:"implied_vol"`
}

// Tick is one polled observation of one contract.
// A nil Greeks means the feed delivered no model greeks at all.
type Tick struct {
	Timestamp       time.Time
	Contract        Contract
	Bid             *float64
	Ask             *float64
	Last            *float64
	Greeks          *Greeks
	UnderlyingPrice *float64
}

// ImpliedVol returns the tick's implied volatility, or nil.
func (t Tick) ImpliedVol() *float64 {
	if t.Greeks == nil {
		return nil
	}
	return t.Greeks.ImpliedVol
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// FormatFloat renders v in its shortest exact form: 5100, 0.5, 4400.25.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
