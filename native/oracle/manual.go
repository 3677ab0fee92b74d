// Package oracle provides the price feed implementations used by the
// simulation driver and the engine tests. Production deployments would plug a
// TWAP or aggregator feed behind the same interface.
package oracle

import (
	"errors"
	"math/big"
	"sync"
)

var ErrNoPrice = errors.New("oracle: no price set")

// Manual is a scripted price feed. SetPrice moves the quoted price and Fail
// arms an error that every subsequent read returns, mimicking a tripped
// circuit breaker.
type Manual struct {
	mu      sync.RWMutex
	price   *big.Int
	history []pricePoint
	err     error
}

type pricePoint struct {
	ts    int64
	price *big.Int
}

// NewManual returns a feed quoting the supplied initial price. A nil price
// leaves the feed unset; reads fail until SetPrice is called.
func NewManual(initial *big.Int) *Manual {
	m := &Manual{}
	if initial != nil {
		m.price = new(big.Int).Set(initial)
	}
	return m
}

// SetPrice updates the quoted price and clears any armed failure.
func (m *Manual) SetPrice(price *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = nil
	if price == nil {
		m.price = nil
		return
	}
	m.price = new(big.Int).Set(price)
}

// Fail arms the feed so that every read returns the supplied error.
func (m *Manual) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetPriceAt updates the quoted price and records it against the supplied
// timestamp so HistoricalPrice can replay it. Timestamps are expected to be
// non-decreasing across calls.
func (m *Manual) SetPriceAt(ts int64, price *big.Int) {
	m.SetPrice(price)
	if price == nil || price.Sign() <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, pricePoint{ts: ts, price: new(big.Int).Set(price)})
}

// HistoricalPrice returns the most recent price recorded at or before the
// timestamp. Settlement never consults this; it exists for callers that need
// a point-in-time reference, and it fails like CurrentPrice when the feed is
// tripped or has no covering record.
func (m *Manual) HistoricalPrice(ts int64) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].ts <= ts {
			return new(big.Int).Set(m.history[i].price), nil
		}
	}
	return nil, ErrNoPrice
}

// CurrentPrice implements the taker.PriceOracle interface.
func (m *Manual) CurrentPrice() (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.price == nil || m.price.Sign() <= 0 {
		return nil, ErrNoPrice
	}
	return new(big.Int).Set(m.price), nil
}
