// Package order implements the local order ledger: the authoritative record
// of every venue order and its lifecycle.
//
// The state machine is monotonic:
//
//	pending → open → {filled, cancelled, rejected, failed, liquidated}
//
// A terminal status is never overwritten. Venue-reported state merges in
// only when it ranks at or after the local state, and within the open rank
// only when the venue's filled amount has not gone backwards. Every accepted
// mutation bumps the order's version; concurrent writers resolve through
// optimistic retries against the store.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/deltadesk/position-engine/internal/market"
	"github.com/deltadesk/position-engine/internal/model"
	"github.com/deltadesk/position-engine/internal/pnl"
	"github.com/deltadesk/position-engine/internal/store"
)

var (
	// ErrInvalidOrder is returned when a submit request is malformed:
	// unknown market, non-positive size, or fields inconsistent with the
	// declared order type.
	ErrInvalidOrder = errors.New("order: invalid order")

	// ErrInvalidTransition is returned when an operation would move an
	// order backwards through its lifecycle, e.g. cancelling a filled
	// order.
	ErrInvalidTransition = errors.New("order: invalid status transition")

	// ErrStaleApply is returned when a fill or venue update arrives for an
	// order already in a terminal status. Callers log and move on; the
	// ledger is unchanged.
	ErrStaleApply = errors.New("order: stale apply on terminal order")
)

// statusRank orders statuses for the merge rule: pending < open < terminal.
// All terminal statuses share the top rank and are final.
func statusRank(s model.OrderStatus) int {
	switch {
	case s == model.OrderPending:
		return 0
	case s == model.OrderOpen:
		return 1
	case s.Terminal():
		return 2
	}
	return 0
}

// Ledger is the order service. All mutations go through optimistic retry
// loops: read, modify, conditional write, re-read on version conflict.
type Ledger struct {
	store      store.Store
	registry   *market.Registry
	maxRetries int
}

// NewLedger creates an order ledger. maxRetries bounds the number of
// version-conflict retries per operation.
func NewLedger(st store.Store, registry *market.Registry, maxRetries int) *Ledger {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Ledger{store: st, registry: registry, maxRetries: maxRetries}
}

// SubmitRequest carries the typed fields for a new order. The order type
// determines which optional fields must be set: limit variants require
// Price, trigger variants require TriggerPrice and TriggerCondition, and
// fields not belonging to the variant must be left zero.
type SubmitRequest struct {
	DexAccountID     string
	MarketIndex      int
	Direction        model.Direction
	OrderType        model.OrderType
	BaseAssetAmount  decimal.Decimal
	Price            decimal.Decimal
	TriggerPrice     decimal.Decimal
	TriggerCondition model.TriggerCondition
}

func (l *Ledger) validateSubmit(req SubmitRequest) error {
	if !req.Direction.Valid() {
		return fmt.Errorf("%w: direction %q", ErrInvalidOrder, req.Direction)
	}
	if !req.OrderType.Valid() {
		return fmt.Errorf("%w: order type %q", ErrInvalidOrder, req.OrderType)
	}
	if req.BaseAssetAmount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: base asset amount must be positive", ErrInvalidOrder)
	}
	if err := l.registry.Validate(req.MarketIndex, req.BaseAssetAmount); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}

	if req.OrderType.RequiresPrice() {
		if req.Price.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%w: %s order requires a positive price", ErrInvalidOrder, req.OrderType)
		}
	} else if !req.Price.IsZero() {
		return fmt.Errorf("%w: %s order must not carry a price", ErrInvalidOrder, req.OrderType)
	}

	if req.OrderType.RequiresTrigger() {
		if req.TriggerPrice.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%w: %s order requires a positive trigger price", ErrInvalidOrder, req.OrderType)
		}
		if !req.TriggerCondition.Valid() {
			return fmt.Errorf("%w: %s order requires trigger condition above or below", ErrInvalidOrder, req.OrderType)
		}
	} else {
		if !req.TriggerPrice.IsZero() || req.TriggerCondition != "" {
			return fmt.Errorf("%w: %s order must not carry trigger fields", ErrInvalidOrder, req.OrderType)
		}
	}
	return nil
}

// Submit validates the request and records a new order in pending status.
// The generated client order id identifies the order on the venue until the
// venue-assigned external id is learned through reconciliation.
func (l *Ledger) Submit(ctx context.Context, req SubmitRequest) (*model.Order, error) {
	if err := l.validateSubmit(req); err != nil {
		return nil, err
	}

	account, err := l.store.GetAccount(ctx, req.DexAccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: account %s not found", ErrInvalidOrder, req.DexAccountID)
		}
		return nil, err
	}

	now := time.Now().UTC()
	o := &model.Order{
		ID:               uuid.New().String(),
		DexAccountID:     account.ID,
		Venue:            account.Venue,
		ClientOrderID:    uuid.New().String(),
		MarketIndex:      req.MarketIndex,
		Direction:        req.Direction,
		OrderType:        req.OrderType,
		Price:            req.Price,
		TriggerPrice:     req.TriggerPrice,
		TriggerCondition: req.TriggerCondition,
		BaseAssetAmount:  req.BaseAssetAmount,
		Status:           model.OrderPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := l.store.CreateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("submit order: %w", err)
	}

	slog.Info("order submitted",
		"order_id", o.ID,
		"account_id", o.DexAccountID,
		"venue", o.Venue,
		"market_index", o.MarketIndex,
		"direction", o.Direction,
		"order_type", o.OrderType,
		"size", o.BaseAssetAmount,
	)
	return o, nil
}

// ApplyFill folds one execution into the order. Filled amount grows by
// delta and the average fill price re-weights. The first fill moves the
// order to open; full execution moves it to filled. Fills against terminal
// orders return ErrStaleApply and change nothing.
func (l *Ledger) ApplyFill(ctx context.Context, orderID string, delta, price decimal.Decimal) (*model.Order, error) {
	if delta.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: fill delta must be positive", ErrInvalidOrder)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: fill price must be positive", ErrInvalidOrder)
	}

	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		o, err := l.store.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if o.Status.Terminal() {
			slog.Info("fill ignored for terminal order",
				"order_id", o.ID, "status", o.Status, "delta", delta)
			return nil, fmt.Errorf("apply fill %s: %w", o.ID, ErrStaleApply)
		}
		newFilled := o.FilledAmount.Add(delta)
		if newFilled.GreaterThan(o.BaseAssetAmount) {
			return nil, fmt.Errorf("%w: fill %s exceeds order size %s",
				ErrInvalidOrder, newFilled, o.BaseAssetAmount)
		}

		o.AvgFillPrice = pnl.WeightedAveragePrice(o.FilledAmount, o.AvgFillPrice, delta, price)
		o.FilledAmount = newFilled
		if newFilled.Equal(o.BaseAssetAmount) {
			o.Status = model.OrderFilled
		} else if o.Status == model.OrderPending {
			o.Status = model.OrderOpen
		}
		o.UpdatedAt = time.Now().UTC()

		err = l.store.UpdateOrder(ctx, o)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("apply fill %s: %w", orderID, store.ErrRetryExhausted)
}

// mergeVenueOrder folds a venue report into the local record. It returns
// whether anything was accepted. The local order is mutated only when the
// merge is accepted.
func mergeVenueOrder(o *model.Order, vo model.VenueOrder) bool {
	localRank := statusRank(o.Status)
	venueRank := statusRank(vo.Status)

	if o.Status.Terminal() {
		return false
	}
	if venueRank < localRank {
		return false
	}
	// Within the same rank, filled amounts must not go backwards.
	if venueRank == localRank && vo.FilledAmount.LessThan(o.FilledAmount) {
		return false
	}

	changed := false
	if o.ExternalOrderID == "" && vo.ExternalOrderID != "" {
		o.ExternalOrderID = vo.ExternalOrderID
		changed = true
	}
	if o.Status != vo.Status {
		o.Status = vo.Status
		changed = true
	}
	if !o.FilledAmount.Equal(vo.FilledAmount) {
		o.FilledAmount = vo.FilledAmount
		changed = true
	}
	// Some venue listings omit the average fill price; never let an
	// unknown zero clobber a known local value.
	if vo.AvgFillPrice.GreaterThan(decimal.Zero) && !o.AvgFillPrice.Equal(vo.AvgFillPrice) {
		o.AvgFillPrice = vo.AvgFillPrice
		changed = true
	}
	// The venue can amend resting prices.
	if !vo.Price.IsZero() && !o.Price.Equal(vo.Price) {
		o.Price = vo.Price
		changed = true
	}
	if !vo.TriggerPrice.IsZero() && !o.TriggerPrice.Equal(vo.TriggerPrice) {
		o.TriggerPrice = vo.TriggerPrice
		changed = true
	}
	return changed
}

// ReconcileFromVenue upserts a venue-reported order. Known orders are
// matched by external id, then by client order id; unknown orders are
// created as discovered in whatever status the venue reports. The returned
// bool tells whether the local record changed.
func (l *Ledger) ReconcileFromVenue(ctx context.Context, accountID string, vo model.VenueOrder) (*model.Order, bool, error) {
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		o, err := l.findLocal(ctx, accountID, vo)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}

		if o == nil {
			created, err := l.createDiscovered(ctx, accountID, vo)
			if err == nil {
				return created, true, nil
			}
			// Another writer inserted the same venue order concurrently.
			if errors.Is(err, store.ErrDuplicate) {
				continue
			}
			return nil, false, err
		}

		if !mergeVenueOrder(o, vo) {
			return o, false, nil
		}
		o.UpdatedAt = time.Now().UTC()

		err = l.store.UpdateOrder(ctx, o)
		if err == nil {
			slog.Info("order reconciled",
				"order_id", o.ID,
				"external_order_id", o.ExternalOrderID,
				"status", o.Status,
				"filled", o.FilledAmount,
				"version", o.Version,
			)
			return o, true, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, false, err
		}
	}
	return nil, false, fmt.Errorf("reconcile order %s: %w", vo.ExternalOrderID, store.ErrRetryExhausted)
}

func (l *Ledger) findLocal(ctx context.Context, accountID string, vo model.VenueOrder) (*model.Order, error) {
	if vo.ExternalOrderID != "" {
		o, err := l.store.GetOrderByExternalID(ctx, accountID, vo.ExternalOrderID)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	if vo.ClientOrderID != "" {
		return l.store.GetOrderByClientID(ctx, accountID, vo.ClientOrderID)
	}
	return nil, store.ErrNotFound
}

func (l *Ledger) createDiscovered(ctx context.Context, accountID string, vo model.VenueOrder) (*model.Order, error) {
	account, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	o := &model.Order{
		ID:               uuid.New().String(),
		DexAccountID:     account.ID,
		Venue:            account.Venue,
		ExternalOrderID:  vo.ExternalOrderID,
		ClientOrderID:    vo.ClientOrderID,
		MarketIndex:      vo.MarketIndex,
		Direction:        vo.Direction,
		OrderType:        vo.OrderType,
		Price:            vo.Price,
		TriggerPrice:     vo.TriggerPrice,
		TriggerCondition: vo.TriggerCondition,
		BaseAssetAmount:  vo.BaseAssetAmount,
		FilledAmount:     vo.FilledAmount,
		AvgFillPrice:     vo.AvgFillPrice,
		Status:           vo.Status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := l.store.CreateOrder(ctx, o); err != nil {
		return nil, err
	}

	slog.Info("order discovered from venue",
		"order_id", o.ID,
		"external_order_id", o.ExternalOrderID,
		"venue", o.Venue,
		"status", o.Status,
	)
	return o, nil
}

// Cancel marks a pending or open order cancelled. The venue-side cancel is
// the caller's concern; if the venue reports a later fill instead, the
// terminal local status wins and the fill is dropped as stale.
func (l *Ledger) Cancel(ctx context.Context, orderID string) (*model.Order, error) {
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		o, err := l.store.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if o.Status != model.OrderPending && o.Status != model.OrderOpen {
			return nil, fmt.Errorf("cancel order %s in status %s: %w",
				o.ID, o.Status, ErrInvalidTransition)
		}

		o.Status = model.OrderCancelled
		o.UpdatedAt = time.Now().UTC()

		err = l.store.UpdateOrder(ctx, o)
		if err == nil {
			slog.Info("order cancelled", "order_id", o.ID, "version", o.Version)
			return o, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("cancel order %s: %w", orderID, store.ErrRetryExhausted)
}

// Get returns one order by id.
func (l *Ledger) Get(ctx context.Context, orderID string) (*model.Order, error) {
	return l.store.GetOrder(ctx, orderID)
}

// ListByAccount returns an account's orders, newest first.
func (l *Ledger) ListByAccount(ctx context.Context, accountID string, f store.OrderFilter) ([]model.Order, error) {
	return l.store.ListOrdersByAccount(ctx, accountID, f)
}
