// Package feed delivers polled market snapshots as ticks.
package feed

import (
	"context"
	"time"

	"github.com/rewired-gh/greekwatch/internal/models"
)

// Source yields one polling batch per call.
type Source interface {
	Fetch(ctx context.Context) ([]models.Tick, error)
}

// Payload is one snapshot document as served by the snapshot gateway.
type Payload struct {
	Timestamp  time.Time       `json:"timestamp"`
	Underlying UnderlyingQuote `json:"underlying"`
	Options    []OptionQuote   `json:"options"`
}

// UnderlyingQuote carries the underlying's last trade and previous close.
type UnderlyingQuote struct {
	Symbol string   `json:"symbol"`
	Last   *float64 `json:"last"`
	Close  *float64 `json:"close"`
}

// Price returns the last trade, falling back to the close when last is missing or zero.
func (q UnderlyingQuote) Price() *float64 {
	if q.Last != nil && *q.Last != 0 {
		return q.Last
	}
	return q.Close
}

// OptionQuote is one contract's quote. Greeks is null when the gateway has no model values.
type OptionQuote struct {
	models.Contract
	Bid    *float64       `json:"bid"`
	Ask    *float64       `json:"ask"`
	Last   *float64       `json:"last"`
	Greeks *models.Greeks `json:"greeks"`
}

// Ticks converts the payload into one tick per option quote, each stamped with the
// underlying price. A zero payload timestamp is replaced by now.
func (p Payload) Ticks(now time.Time) []models.Tick {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = now
	}
	price := p.Underlying.Price()

	ticks := make([]models.Tick, 0, len(p.Options))
	for _, q := range p.Options {
		contract := q.Contract
		if contract.Symbol == "" {
			contract.Symbol = p.Underlying.Symbol
		}
		ticks = append(ticks, models.Tick{
			Timestamp:       ts,
			Contract:        contract,
			Bid:             q.Bid,
			Ask:             q.Ask,
			Last:            q.Last,
			Greeks:          q.Greeks,
			UnderlyingPrice: price,
		})
	}
	return ticks
}
