// Package snapshot appends point-in-time valuations of open positions.
// Snapshots are immutable history: once a position leaves the open state
// its series is frozen.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/deltadesk/position-engine/internal/model"
	"github.com/deltadesk/position-engine/internal/pnl"
	"github.com/deltadesk/position-engine/internal/store"
)

var (
	// ErrPositionNotOpen is returned when a snapshot is requested for a
	// position that is not currently open.
	ErrPositionNotOpen = errors.New("snapshot: position not open")

	// ErrInvalidMark is returned for a non-positive mark price.
	ErrInvalidMark = errors.New("snapshot: invalid mark price")
)

// Recorder appends valuation snapshots.
type Recorder struct {
	store store.Store
}

// NewRecorder creates a snapshot recorder over the given store.
func NewRecorder(st store.Store) *Recorder {
	return &Recorder{store: st}
}

// Record values the position at markPrice and appends a snapshot. Size and
// entry price come from the filled legs (net signed size, gross average
// entry); unrealized pnl marks every leg against the given price. Only open
// positions are snapshotted.
func (r *Recorder) Record(ctx context.Context, positionID string, markPrice decimal.Decimal) (*model.PositionSnapshot, error) {
	if markPrice.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMark, markPrice)
	}

	p, err := r.store.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if p.State != model.StateOpen {
		return nil, fmt.Errorf("snapshot position %s in state %s: %w", p.ID, p.State, ErrPositionNotOpen)
	}

	legs := make([]pnl.Leg, 0, len(p.LegOrderIDs))
	for _, legID := range p.LegOrderIDs {
		o, err := r.store.GetOrder(ctx, legID)
		if err != nil {
			return nil, fmt.Errorf("load leg %s of position %s: %w", legID, p.ID, err)
		}
		if o.FilledAmount.GreaterThan(decimal.Zero) {
			legs = append(legs, pnl.Leg{
				Direction: o.Direction,
				Filled:    o.FilledAmount,
				AvgPrice:  o.AvgFillPrice,
			})
		}
	}

	snap := &model.PositionSnapshot{
		ID:            uuid.New().String(),
		PositionID:    p.ID,
		CapturedAt:    time.Now().UTC(),
		Size:          pnl.NetSize(legs),
		EntryPrice:    pnl.GrossAveragePrice(legs),
		MarkPrice:     markPrice,
		UnrealizedPnl: pnl.MarkPnl(legs, markPrice),
	}
	if err := r.store.InsertSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("record snapshot: %w", err)
	}
	return snap, nil
}

// History returns a position's snapshots in capture order.
func (r *Recorder) History(ctx context.Context, positionID string, f store.SnapshotFilter) ([]model.PositionSnapshot, error) {
	return r.store.ListSnapshots(ctx, positionID, f)
}
