// Package position aggregates venue orders into logical positions: a single
// directional leg, or a delta-neutral pair with one leg per venue in
// opposite directions.
//
// The lifecycle is monotonic: opening → open → {closed, liquidated}. State
// is derived from the legs and never regresses. A liquidated or failed leg
// while the other leg carries exposure marks the position liquidated with
// hedgeBroken set; the surviving leg is left untouched for manual
// resolution.
package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/deltadesk/position-engine/internal/hedge"
	"github.com/deltadesk/position-engine/internal/model"
	"github.com/deltadesk/position-engine/internal/pnl"
	"github.com/deltadesk/position-engine/internal/store"
)

var (
	// ErrInvalidPairing is returned when the referenced leg orders cannot
	// form the requested position: missing or dead orders, legs owned by
	// another position, same venue or same direction for a delta-neutral
	// pair, or a leg not belonging to the caller.
	ErrInvalidPairing = errors.New("position: invalid leg pairing")

	// ErrNotClosable is returned when close is requested while any leg
	// order is still working, or for a position already liquidated.
	ErrNotClosable = errors.New("position: not closable")
)

// Aggregator is the position service.
type Aggregator struct {
	store      store.Store
	monitor    *hedge.Monitor
	maxRetries int
}

// NewAggregator creates a position aggregator. maxRetries bounds the
// version-conflict retries per mutation.
func NewAggregator(st store.Store, monitor *hedge.Monitor, maxRetries int) *Aggregator {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Aggregator{store: st, monitor: monitor, maxRetries: maxRetries}
}

// legDead reports whether an order ended without becoming a position leg:
// cancelled, rejected, failed or liquidated before being adopted.
func legDead(o *model.Order) bool {
	switch o.Status {
	case model.OrderCancelled, model.OrderRejected, model.OrderFailed, model.OrderLiquidated:
		return true
	}
	return false
}

// legHoldsExposure reports whether a leg still carries, or may still
// acquire, market exposure. A filled or partially filled order holds
// exposure even after it stops working.
func legHoldsExposure(o *model.Order) bool {
	return !o.Status.Terminal() || o.FilledAmount.GreaterThan(decimal.Zero)
}

func (a *Aggregator) adoptLeg(ctx context.Context, userID, orderID string) (*model.Order, error) {
	o, err := a.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: order %s not found", ErrInvalidPairing, orderID)
		}
		return nil, err
	}

	account, err := a.store.GetAccount(ctx, o.DexAccountID)
	if err != nil {
		return nil, fmt.Errorf("load account for order %s: %w", orderID, err)
	}
	if account.UserID != userID {
		return nil, fmt.Errorf("%w: order %s does not belong to user %s", ErrInvalidPairing, orderID, userID)
	}
	if legDead(o) {
		return nil, fmt.Errorf("%w: order %s already %s", ErrInvalidPairing, orderID, o.Status)
	}

	owner, err := a.store.GetPositionByLegOrder(ctx, orderID)
	if err == nil {
		return nil, fmt.Errorf("%w: order %s already a leg of position %s", ErrInvalidPairing, orderID, owner.ID)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return o, nil
}

// OpenSingle creates a single-leg position over one order. The position
// starts opening and advances to open once the leg is working or filled.
func (a *Aggregator) OpenSingle(ctx context.Context, userID, orderID, name string) (*model.Position, error) {
	leg, err := a.adoptLeg(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}

	p := a.newPosition(userID, model.PositionSingle, name, leg.ID)
	deriveState(p, []model.Order{*leg})
	if err := a.store.CreatePosition(ctx, p); err != nil {
		return nil, fmt.Errorf("open single position: %w", err)
	}

	slog.Info("position opened",
		"position_id", p.ID, "user_id", userID, "kind", p.Kind,
		"state", p.State, "leg_order_id", leg.ID)
	return p, nil
}

// OpenDeltaNeutral creates a two-leg hedged position. The legs must sit on
// different venues and run in opposite directions.
func (a *Aggregator) OpenDeltaNeutral(ctx context.Context, userID, firstOrderID, secondOrderID, name string) (*model.Position, error) {
	if firstOrderID == secondOrderID {
		return nil, fmt.Errorf("%w: both legs reference order %s", ErrInvalidPairing, firstOrderID)
	}

	first, err := a.adoptLeg(ctx, userID, firstOrderID)
	if err != nil {
		return nil, err
	}
	second, err := a.adoptLeg(ctx, userID, secondOrderID)
	if err != nil {
		return nil, err
	}

	if first.Venue == second.Venue {
		return nil, fmt.Errorf("%w: both legs on venue %s", ErrInvalidPairing, first.Venue)
	}
	if second.Direction != first.Direction.Opposite() {
		return nil, fmt.Errorf("%w: legs must run in opposite directions, got %s and %s",
			ErrInvalidPairing, first.Direction, second.Direction)
	}

	p := a.newPosition(userID, model.PositionDeltaNeutral, name, first.ID, second.ID)
	deriveState(p, []model.Order{*first, *second})
	if err := a.store.CreatePosition(ctx, p); err != nil {
		return nil, fmt.Errorf("open delta neutral position: %w", err)
	}

	slog.Info("position opened",
		"position_id", p.ID, "user_id", userID, "kind", p.Kind,
		"state", p.State, "leg_order_ids", p.LegOrderIDs)
	return p, nil
}

func (a *Aggregator) newPosition(userID string, kind model.PositionKind, name string, legIDs ...string) *model.Position {
	now := time.Now().UTC()
	return &model.Position{
		ID:          uuid.New().String(),
		UserID:      userID,
		Kind:        kind,
		LegOrderIDs: legIDs,
		State:       model.StateOpening,
		Name:        name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// deriveState folds current leg states into the position and reports
// whether anything changed. Terminal positions are never touched.
func deriveState(p *model.Position, legs []model.Order) bool {
	if p.State.Terminal() {
		return false
	}

	// A liquidated leg sinks the position. For a hedged pair the same
	// holds for a failed leg while the other still carries exposure.
	for i := range legs {
		leg := &legs[i]
		if leg.Status == model.OrderLiquidated {
			p.State = model.StateLiquidated
			p.HedgeBroken = p.Kind == model.PositionDeltaNeutral
			return true
		}
		if p.Kind != model.PositionDeltaNeutral || leg.Status != model.OrderFailed {
			continue
		}
		for j := range legs {
			if j != i && legHoldsExposure(&legs[j]) {
				p.State = model.StateLiquidated
				p.HedgeBroken = true
				return true
			}
		}
	}

	if p.State == model.StateOpening && readyToOpen(p.Kind, legs) {
		p.State = model.StateOpen
		return true
	}
	return false
}

func readyToOpen(kind model.PositionKind, legs []model.Order) bool {
	if kind == model.PositionDeltaNeutral {
		for i := range legs {
			if !legs[i].FilledAmount.GreaterThan(decimal.Zero) {
				return false
			}
		}
		return true
	}
	for i := range legs {
		if legs[i].Status != model.OrderOpen && legs[i].Status != model.OrderFilled {
			return false
		}
	}
	return true
}

func (a *Aggregator) legs(ctx context.Context, p *model.Position) ([]model.Order, error) {
	legs := make([]model.Order, 0, len(p.LegOrderIDs))
	for _, id := range p.LegOrderIDs {
		o, err := a.store.GetOrder(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load leg %s of position %s: %w", id, p.ID, err)
		}
		legs = append(legs, *o)
	}
	return legs, nil
}

// Refresh re-derives the position's state from its legs. Reconciliation
// calls it after every accepted order merge. The returned bool reports
// whether the stored state changed.
func (a *Aggregator) Refresh(ctx context.Context, positionID string) (*model.Position, bool, error) {
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		p, err := a.store.GetPosition(ctx, positionID)
		if err != nil {
			return nil, false, err
		}
		legs, err := a.legs(ctx, p)
		if err != nil {
			return nil, false, err
		}

		if !deriveState(p, legs) {
			return p, false, nil
		}
		p.UpdatedAt = time.Now().UTC()

		err = a.store.UpdatePosition(ctx, p)
		if err == nil {
			slog.Info("position state derived",
				"position_id", p.ID, "state", p.State,
				"hedge_broken", p.HedgeBroken, "version", p.Version)
			return p, true, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, false, err
		}
	}
	return nil, false, fmt.Errorf("refresh position %s: %w", positionID, store.ErrRetryExhausted)
}

// Liquidate marks a live position liquidated after a venue-side
// liquidation report. The leg orders are untouched: a filled leg stays
// filled, and a delta-neutral survivor is never auto-closed. Terminal
// positions are returned unchanged.
func (a *Aggregator) Liquidate(ctx context.Context, positionID string) (*model.Position, bool, error) {
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		p, err := a.store.GetPosition(ctx, positionID)
		if err != nil {
			return nil, false, err
		}
		if p.State.Terminal() {
			return p, false, nil
		}

		p.State = model.StateLiquidated
		p.HedgeBroken = p.Kind == model.PositionDeltaNeutral
		p.UpdatedAt = time.Now().UTC()

		err = a.store.UpdatePosition(ctx, p)
		if err == nil {
			slog.Warn("position liquidated",
				"position_id", p.ID, "kind", p.Kind,
				"hedge_broken", p.HedgeBroken, "version", p.Version)
			return p, true, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, false, err
		}
	}
	return nil, false, fmt.Errorf("liquidate position %s: %w", positionID, store.ErrRetryExhausted)
}

// Exposure is the read-only residual view of a position.
type Exposure struct {
	PositionID    string              `json:"position_id"`
	State         model.PositionState `json:"state"`
	NetSize       decimal.Decimal     `json:"net_size"`
	NetNotional   decimal.Decimal     `json:"net_notional"`
	GrossNotional decimal.Decimal     `json:"gross_notional"`
	Hedge         hedge.Assessment    `json:"hedge"`
}

// Exposure computes the combined signed notional across filled legs and
// classifies the residual. Nothing is corrected; imbalance is reported
// only.
func (a *Aggregator) Exposure(ctx context.Context, positionID string) (*Exposure, error) {
	p, err := a.store.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	legs, err := a.legs(ctx, p)
	if err != nil {
		return nil, err
	}

	pls := make([]pnl.Leg, 0, len(legs))
	for i := range legs {
		if legs[i].FilledAmount.GreaterThan(decimal.Zero) {
			pls = append(pls, pnl.Leg{
				Direction: legs[i].Direction,
				Filled:    legs[i].FilledAmount,
				AvgPrice:  legs[i].AvgFillPrice,
			})
		}
	}

	return &Exposure{
		PositionID:    p.ID,
		State:         p.State,
		NetSize:       pnl.NetSize(pls),
		NetNotional:   pnl.NetNotional(pls),
		GrossNotional: pnl.GrossNotional(pls),
		Hedge:         a.monitor.Classify(pls),
	}, nil
}

// Close marks the position closed. Allowed only once every leg order is
// terminal; liquidated positions stay liquidated.
func (a *Aggregator) Close(ctx context.Context, positionID string) (*model.Position, error) {
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		p, err := a.store.GetPosition(ctx, positionID)
		if err != nil {
			return nil, err
		}
		if p.State == model.StateClosed {
			return p, nil
		}
		if p.State == model.StateLiquidated {
			return nil, fmt.Errorf("close position %s: already liquidated: %w", p.ID, ErrNotClosable)
		}

		legs, err := a.legs(ctx, p)
		if err != nil {
			return nil, err
		}
		for i := range legs {
			if !legs[i].Status.Terminal() {
				return nil, fmt.Errorf("close position %s: leg %s still %s: %w",
					p.ID, legs[i].ID, legs[i].Status, ErrNotClosable)
			}
		}

		now := time.Now().UTC()
		p.State = model.StateClosed
		p.ClosedAt = &now
		p.UpdatedAt = now

		err = a.store.UpdatePosition(ctx, p)
		if err == nil {
			slog.Info("position closed", "position_id", p.ID, "version", p.Version)
			return p, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("close position %s: %w", positionID, store.ErrRetryExhausted)
}

// Get returns one position by id.
func (a *Aggregator) Get(ctx context.Context, positionID string) (*model.Position, error) {
	return a.store.GetPosition(ctx, positionID)
}

// List returns a user's positions, newest first.
func (a *Aggregator) List(ctx context.Context, userID string, f store.PositionFilter) ([]model.Position, error) {
	return a.store.ListPositionsByUser(ctx, userID, f)
}
