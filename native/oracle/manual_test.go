package oracle

import (
	"errors"
	"math/big"
	"testing"
)

func TestCurrentPriceUnsetFails(t *testing.T) {
	m := NewManual(nil)
	if _, err := m.CurrentPrice(); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice, got %v", err)
	}
}

func TestSetPriceUpdatesQuote(t *testing.T) {
	m := NewManual(big.NewInt(1000))
	price, err := m.CurrentPrice()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if price.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected 1000, got %s", price)
	}

	m.SetPrice(big.NewInt(1100))
	price, err = m.CurrentPrice()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if price.Cmp(big.NewInt(1100)) != 0 {
		t.Fatalf("expected 1100, got %s", price)
	}
}

func TestFailArmsEveryRead(t *testing.T) {
	m := NewManual(big.NewInt(1000))
	tripped := errors.New("sequencer down")
	m.Fail(tripped)

	if _, err := m.CurrentPrice(); !errors.Is(err, tripped) {
		t.Fatalf("expected armed error, got %v", err)
	}
	if _, err := m.HistoricalPrice(100); !errors.Is(err, tripped) {
		t.Fatalf("expected armed error, got %v", err)
	}

	// SetPrice clears the fault.
	m.SetPrice(big.NewInt(900))
	if _, err := m.CurrentPrice(); err != nil {
		t.Fatalf("read failed after clear: %v", err)
	}
}

func TestHistoricalPriceReplaysRecords(t *testing.T) {
	m := NewManual(nil)
	m.SetPriceAt(100, big.NewInt(1000))
	m.SetPriceAt(200, big.NewInt(1100))
	m.SetPriceAt(300, big.NewInt(900))

	cases := []struct {
		ts   int64
		want int64
	}{
		{ts: 100, want: 1000},
		{ts: 150, want: 1000},
		{ts: 200, want: 1100},
		{ts: 299, want: 1100},
		{ts: 1000, want: 900},
	}
	for _, tc := range cases {
		got, err := m.HistoricalPrice(tc.ts)
		if err != nil {
			t.Fatalf("ts %d: %v", tc.ts, err)
		}
		if got.Cmp(big.NewInt(tc.want)) != 0 {
			t.Fatalf("ts %d: expected %d, got %s", tc.ts, tc.want, got)
		}
	}

	if _, err := m.HistoricalPrice(50); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice before first record, got %v", err)
	}
}
