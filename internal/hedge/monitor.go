// Package hedge classifies the residual exposure of delta-neutral positions.
//
// A delta-neutral pair rarely nets to exactly zero: legs fill at different
// prices and one leg can lag the other during reconciliation. The monitor
// grades that residual against the pair's gross notional so callers, logs
// and metrics can tell a healthy hedge from a drifting or broken one.
// Classification is read-only: the engine never places corrective orders
// in response to a residual.
package hedge

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/deltadesk/position-engine/internal/pnl"
)

var (
	// ErrInvalidThresholds is returned when the drift/broken ratios are
	// non-positive or out of order.
	ErrInvalidThresholds = errors.New("hedge: invalid classification thresholds")
)

// Status grades a hedge residual.
type Status string

const (
	// StatusFlat means the position has no filled exposure yet.
	StatusFlat Status = "flat"
	// StatusBalanced means the residual is within the drift threshold.
	StatusBalanced Status = "balanced"
	// StatusDrifting means the residual exceeds the drift threshold but is
	// below the broken threshold.
	StatusDrifting Status = "drifting"
	// StatusBroken means the residual exceeds the broken threshold and the
	// hedge no longer offsets meaningfully.
	StatusBroken Status = "broken"
)

// Monitor classifies hedge residuals against configured thresholds.
type Monitor struct {
	// DriftRatio is the |residual| / gross notional ratio above which a
	// hedge counts as drifting.
	DriftRatio decimal.Decimal

	// BrokenRatio is the ratio above which a hedge counts as broken.
	// Must exceed DriftRatio.
	BrokenRatio decimal.Decimal

	// MinNotional is the gross notional below which a residual is noise
	// and the hedge is graded balanced regardless of ratio.
	MinNotional decimal.Decimal
}

// NewMonitor creates a monitor with the given thresholds.
func NewMonitor(driftRatio, brokenRatio, minNotional decimal.Decimal) (*Monitor, error) {
	if driftRatio.LessThanOrEqual(decimal.Zero) || brokenRatio.LessThanOrEqual(driftRatio) {
		return nil, ErrInvalidThresholds
	}
	return &Monitor{
		DriftRatio:  driftRatio,
		BrokenRatio: brokenRatio,
		MinNotional: minNotional,
	}, nil
}

// Assessment is the result of grading one position's legs.
type Assessment struct {
	Status   Status          `json:"status"`
	Residual decimal.Decimal `json:"residual"`
	Gross    decimal.Decimal `json:"gross"`
	Ratio    decimal.Decimal `json:"ratio"`
}

// Classify grades the residual across the given legs.
//
// The residual is the signed net notional; the ratio is |residual| divided
// by gross notional. With no filled exposure the status is flat; below
// MinNotional gross the status is balanced.
func (m *Monitor) Classify(legs []pnl.Leg) Assessment {
	gross := pnl.GrossNotional(legs)
	residual := pnl.NetNotional(legs)

	a := Assessment{Residual: residual, Gross: gross}

	if gross.IsZero() {
		a.Status = StatusFlat
		return a
	}
	a.Ratio = residual.Abs().Div(gross).Round(pnl.Scale)

	if gross.LessThan(m.MinNotional) {
		a.Status = StatusBalanced
		return a
	}
	switch {
	case a.Ratio.GreaterThanOrEqual(m.BrokenRatio):
		a.Status = StatusBroken
	case a.Ratio.GreaterThanOrEqual(m.DriftRatio):
		a.Status = StatusDrifting
	default:
		a.Status = StatusBalanced
	}
	return a
}
