// Package marketdata provides price history models, the SQLite-backed price
// store, and the calculation cache used by the optimization pipeline.
package marketdata

import (
	"fmt"
	"time"
)

// Candle represents a daily OHLCV price point
type Candle struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// PriceSeries is an ordered sequence of daily candles for one symbol.
// Dates must be strictly increasing; Validate enforces the invariant.
type PriceSeries []Candle

// Validate checks that dates are strictly increasing (which also rules out
// duplicate dates).
func (s PriceSeries) Validate() error {
	for i := 1; i < len(s); i++ {
		if !s[i].Date.After(s[i-1].Date) {
			return fmt.Errorf("price series not strictly increasing at index %d: %s >= %s",
				i, s[i-1].Date.Format("2006-01-02"), s[i].Date.Format("2006-01-02"))
		}
	}
	return nil
}

// Closes returns the close prices in date order.
func (s PriceSeries) Closes() []float64 {
	closes := make([]float64, len(s))
	for i, c := range s {
		closes[i] = c.Close
	}
	return closes
}

// Slice returns the candles with start <= date < end, preserving order.
func (s PriceSeries) Slice(start, end time.Time) PriceSeries {
	var out PriceSeries
	for _, c := range s {
		if c.Date.Before(start) {
			continue
		}
		if !c.Date.Before(end) {
			break
		}
		out = append(out, c)
	}
	return out
}

// Provider supplies price history for a symbol. The SQLite store implements
// it; tests use in-memory fakes.
type Provider interface {
	GetPriceSeries(symbol string, start, end time.Time) (PriceSeries, error)
}
