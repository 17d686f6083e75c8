package market

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestByIndex_Known(t *testing.T) {
	r := Default()
	m, err := r.ByIndex(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Symbol != "SOL-PERP" {
		t.Errorf("expected SOL-PERP at index 0, got %s", m.Symbol)
	}
	if m.Coin != "SOL" {
		t.Errorf("expected coin SOL, got %s", m.Coin)
	}
}

func TestByIndex_Unknown(t *testing.T) {
	r := Default()
	_, err := r.ByIndex(999)
	if !errors.Is(err, ErrUnknownMarket) {
		t.Errorf("expected ErrUnknownMarket, got %v", err)
	}
}

func TestBySymbol_RoundTrips(t *testing.T) {
	r := Default()
	for _, m := range r.All() {
		got, err := r.BySymbol(m.Symbol)
		if err != nil {
			t.Errorf("unexpected error for %s: %v", m.Symbol, err)
			continue
		}
		if got.Index != m.Index {
			t.Errorf("symbol %s resolved to index %d, want %d", m.Symbol, got.Index, m.Index)
		}
	}
}

func TestByCoin_HyperliquidNames(t *testing.T) {
	r := Default()
	m, err := r.ByCoin("BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Symbol != "BTC-PERP" {
		t.Errorf("expected BTC-PERP, got %s", m.Symbol)
	}
	if _, err := r.ByCoin("NOPE"); !errors.Is(err, ErrUnknownMarket) {
		t.Errorf("expected ErrUnknownMarket for unlisted coin, got %v", err)
	}
}

func TestValidate_SizeRules(t *testing.T) {
	r := Default()
	if err := r.Validate(0, d(1)); err != nil {
		t.Errorf("1 SOL should be a valid size, got %v", err)
	}
	if err := r.Validate(0, d(0.01)); !errors.Is(err, ErrSizeBelowMin) {
		t.Errorf("expected ErrSizeBelowMin for dust size, got %v", err)
	}
	if err := r.Validate(999, d(1)); !errors.Is(err, ErrUnknownMarket) {
		t.Errorf("expected ErrUnknownMarket, got %v", err)
	}
}

func TestAll_OrderedByIndex(t *testing.T) {
	r := Default()
	all := r.All()
	if len(all) == 0 {
		t.Fatal("default registry should not be empty")
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Index >= all[i].Index {
			t.Errorf("markets out of order at %d: %d >= %d", i, all[i-1].Index, all[i].Index)
		}
	}
}

func TestParseSymbol_Valid(t *testing.T) {
	base, err := ParseSymbol("SOL-PERP")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base != "SOL" {
		t.Errorf("expected base SOL, got %s", base)
	}
}

func TestParseSymbol_Invalid(t *testing.T) {
	tests := []string{
		"",
		"SOL",
		"SOL-SPOT",
		"sol-PERP",
		"SOL-PERP-EXTRA",
	}
	for _, sym := range tests {
		if _, err := ParseSymbol(sym); err == nil {
			t.Errorf("expected error for symbol %q", sym)
		}
	}
}
