package hedge

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/deltadesk/position-engine/internal/model"
	"github.com/deltadesk/position-engine/internal/pnl"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	m, err := NewMonitor(d(0.02), d(0.10), d(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return m
}

func pair(longPx, shortPx, size float64) []pnl.Leg {
	return []pnl.Leg{
		{Direction: model.DirectionLong, Filled: d(size), AvgPrice: d(longPx)},
		{Direction: model.DirectionShort, Filled: d(size), AvgPrice: d(shortPx)},
	}
}

func TestNewMonitor_InvalidThresholds(t *testing.T) {
	if _, err := NewMonitor(d(0), d(0.1), d(10)); err != ErrInvalidThresholds {
		t.Errorf("expected ErrInvalidThresholds for zero drift ratio, got %v", err)
	}
	if _, err := NewMonitor(d(0.1), d(0.05), d(10)); err != ErrInvalidThresholds {
		t.Errorf("expected ErrInvalidThresholds for broken <= drift, got %v", err)
	}
}

func TestClassify_BalancedPair(t *testing.T) {
	m := newTestMonitor(t)
	a := m.Classify(pair(100, 100, 10))
	if a.Status != StatusBalanced {
		t.Errorf("expected balanced, got %s (ratio %s)", a.Status, a.Ratio)
	}
	if !a.Residual.IsZero() {
		t.Errorf("expected zero residual, got %s", a.Residual)
	}
}

func TestClassify_Flat(t *testing.T) {
	m := newTestMonitor(t)
	a := m.Classify(pair(0, 0, 0))
	if a.Status != StatusFlat {
		t.Errorf("expected flat for unfilled legs, got %s", a.Status)
	}
}

func TestClassify_Drifting(t *testing.T) {
	m := newTestMonitor(t)
	// Long 10@100, short 10@95: residual 50 over gross 1950 ≈ 2.6%.
	a := m.Classify(pair(100, 95, 10))
	if a.Status != StatusDrifting {
		t.Errorf("expected drifting, got %s (ratio %s)", a.Status, a.Ratio)
	}
}

func TestClassify_Broken(t *testing.T) {
	m := newTestMonitor(t)
	// One leg filled, the other not: residual equals gross, ratio 1.
	legs := []pnl.Leg{
		{Direction: model.DirectionLong, Filled: d(10), AvgPrice: d(100)},
		{Direction: model.DirectionShort, Filled: d(0), AvgPrice: d(0)},
	}
	a := m.Classify(legs)
	if a.Status != StatusBroken {
		t.Errorf("expected broken, got %s (ratio %s)", a.Status, a.Ratio)
	}
	if !a.Ratio.Equal(d(1)) {
		t.Errorf("expected ratio 1, got %s", a.Ratio)
	}
}

func TestClassify_DustBelowMinNotional(t *testing.T) {
	m := newTestMonitor(t)
	// Tiny position with a huge relative residual still grades balanced.
	legs := []pnl.Leg{
		{Direction: model.DirectionLong, Filled: d(0.01), AvgPrice: d(100)},
		{Direction: model.DirectionShort, Filled: d(0.005), AvgPrice: d(100)},
	}
	a := m.Classify(legs)
	if a.Status != StatusBalanced {
		t.Errorf("expected balanced for dust notional, got %s", a.Status)
	}
}

func TestClassify_SingleLegAlwaysFullRatio(t *testing.T) {
	m := newTestMonitor(t)
	legs := []pnl.Leg{{Direction: model.DirectionShort, Filled: d(2), AvgPrice: d(50)}}
	a := m.Classify(legs)
	if a.Status != StatusBroken {
		t.Errorf("single one-sided exposure should grade broken, got %s", a.Status)
	}
	if !a.Residual.Equal(d(-100)) {
		t.Errorf("expected residual -100, got %s", a.Residual)
	}
}
