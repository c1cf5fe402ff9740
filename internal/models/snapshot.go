package models

import "time"

// SnapshotRecord is the enriched per-tick output handed to sinks.
// Nil pointer fields mean the value was not available for this tick.
type SnapshotRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Symbol       string    `json:"symbol"`
	Expiration   string    `json:"expiration"`
	Right        Right     `json:"right"`
	Strike       float64   `json:"strike"`
	Bid          *float64  `json:"bid"`
	Ask          *float64  `json:"ask"`
	Last         *float64  `json:"last"`
	Delta        *float64  `json:"delta"`
	Theta        *float64  `json:"theta"`
	IV           *float64  `json:"iv"`
	IVZScore     *float64  `json:"iv_zscore"`
	IVPercentile *float64  `json:"iv_percentile"`
	Quantity     int       `json:"quantity"`
	Strategy     *string   `json:"strategy"`
}

// Key returns the instrument key the record was built for.
func (r SnapshotRecord) Key() InstrumentKey {
	return InstrumentKey{
		Symbol:     r.Symbol,
		Expiration: r.Expiration,
		Right:      r.Right,
		Strike:     r.Strike,
	}
}

// Held reports whether the record matched an inventory position.
func (r SnapshotRecord) Held() bool {
	return r.Quantity != 0
}
