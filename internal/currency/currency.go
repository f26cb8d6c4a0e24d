package currency

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is an immutable exchange-rate table. Rates map a target currency
// to the multiplier applied to amounts expressed in Base.
type Snapshot struct {
	Base      string                     `json:"base_currency"`
	Rates     map[string]decimal.Decimal `json:"rates"`
	FetchedAt time.Time                  `json:"fetched_at"`
}

// Convert converts amount from one currency to another. Identity conversions
// pass through untouched. A missing rate for the target currency also returns
// the amount unchanged, with ok=false: checkout must never block on a stale
// or partial rate table, so the caller surfaces the degradation instead of
// this function failing.
func (s Snapshot) Convert(amount decimal.Decimal, from string, to string) (decimal.Decimal, bool) {
	if from == to {
		return amount, true
	}
	rate, found := s.Rates[to]
	if !found {
		return amount, false
	}
	return amount.Mul(rate), true
}

// Rate reports the multiplier for the target currency, if the snapshot
// knows it.
func (s Snapshot) Rate(to string) (decimal.Decimal, bool) {
	rate, found := s.Rates[to]
	return rate, found
}
