// Package pnl implements the position-accounting math shared by the order
// ledger, the position aggregator and the snapshot recorder.
//
// Conventions:
//   - Plain sizes are positive magnitudes; "signed" sizes carry direction
//     (positive long, negative short).
//   - Notional is size times price with the sign of the exposure.
//   - A delta-neutral pair hedges when its net notional is near zero; the
//     net is the hedge residual.
//
// All values use shopspring/decimal, never float64 for money. Division
// results are rounded to Scale so repeated averaging over reconciliation
// passes stays stable.
package pnl

import (
	"github.com/shopspring/decimal"

	"github.com/deltadesk/position-engine/internal/model"
)

// Scale is the number of decimal places for derived price/value rounding.
var Scale int32 = 8

// Leg is the filled part of one order contributing to a position.
type Leg struct {
	Direction model.Direction
	Filled    decimal.Decimal
	AvgPrice  decimal.Decimal
}

// WeightedAveragePrice folds one fill into a running size-weighted average:
//
//	avg' = (filled*avg + delta*price) / (filled + delta)
//
// With filled == 0 the result is exactly price. Callers guarantee delta > 0;
// fill validation happens in the order ledger before the math runs.
func WeightedAveragePrice(filled, avg, delta, price decimal.Decimal) decimal.Decimal {
	if filled.IsZero() {
		return price
	}
	notional := filled.Mul(avg).Add(delta.Mul(price))
	return notional.Div(filled.Add(delta)).Round(Scale)
}

// SignedSize converts a direction and magnitude into a signed size.
func SignedSize(d model.Direction, amount decimal.Decimal) decimal.Decimal {
	if d == model.DirectionShort {
		return amount.Neg()
	}
	return amount
}

// Notional is the signed exposure value of a filled quantity:
//
//	notional = signedSize * price
func Notional(d model.Direction, amount, price decimal.Decimal) decimal.Decimal {
	return SignedSize(d, amount).Mul(price)
}

// NetSize sums the signed sizes of all legs. Exactly zero for a perfectly
// balanced delta-neutral pair.
func NetSize(legs []Leg) decimal.Decimal {
	net := decimal.Zero
	for _, l := range legs {
		net = net.Add(SignedSize(l.Direction, l.Filled))
	}
	return net
}

// NetNotional sums the signed notionals of all legs. For a delta-neutral
// pair this is the hedge residual: the dollar exposure left over after the
// two legs offset each other.
func NetNotional(legs []Leg) decimal.Decimal {
	net := decimal.Zero
	for _, l := range legs {
		net = net.Add(Notional(l.Direction, l.Filled, l.AvgPrice))
	}
	return net
}

// GrossNotional sums the absolute notionals of all legs. This is the scale
// a residual should be judged against.
func GrossNotional(legs []Leg) decimal.Decimal {
	gross := decimal.Zero
	for _, l := range legs {
		gross = gross.Add(l.Filled.Mul(l.AvgPrice).Abs())
	}
	return gross
}

// GrossAveragePrice is the size-weighted average entry across all legs
// ignoring direction:
//
//	entry = Σ(filled_i * avg_i) / Σ(filled_i)
//
// Well-defined even for a balanced pair whose net size is zero. Returns
// zero when nothing is filled yet.
func GrossAveragePrice(legs []Leg) decimal.Decimal {
	totalSize := decimal.Zero
	totalNotional := decimal.Zero
	for _, l := range legs {
		totalSize = totalSize.Add(l.Filled)
		totalNotional = totalNotional.Add(l.Filled.Mul(l.AvgPrice))
	}
	if totalSize.IsZero() {
		return decimal.Zero
	}
	return totalNotional.Div(totalSize).Round(Scale)
}

// UnrealizedPnl marks a signed exposure against the current price:
//
//	pnl = signedSize * (markPrice - entryPrice)
//
// The sign convention makes this correct for both directions: a short
// (negative signed size) gains when the mark falls below entry.
func UnrealizedPnl(signedSize, entryPrice, markPrice decimal.Decimal) decimal.Decimal {
	return signedSize.Mul(markPrice.Sub(entryPrice)).Round(Scale)
}

// MarkPnl marks every leg against one common price and sums:
//
//	pnl = Σ signedSize_i * (mark - avg_i)
//
// For a balanced delta-neutral pair the mark terms cancel and the result
// reduces to the entry-price spread captured between the venues.
func MarkPnl(legs []Leg, mark decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, l := range legs {
		total = total.Add(UnrealizedPnl(SignedSize(l.Direction, l.Filled), l.AvgPrice, mark))
	}
	return total
}
