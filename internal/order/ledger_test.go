package order

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/deltadesk/position-engine/internal/market"
	"github.com/deltadesk/position-engine/internal/model"
	"github.com/deltadesk/position-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestLedger(t *testing.T) (*Ledger, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	if err := st.CreateAccount(context.Background(), &model.DexAccount{
		ID:      "acct-1",
		UserID:  "user-1",
		Venue:   model.VenueDrift,
		Address: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
	}); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return NewLedger(st, market.Default(), 3), st
}

func limitRequest(size, price float64) SubmitRequest {
	return SubmitRequest{
		DexAccountID:    "acct-1",
		MarketIndex:     0,
		Direction:       model.DirectionLong,
		OrderType:       model.OrderTypeLimit,
		BaseAssetAmount: d(size),
		Price:           d(price),
	}
}

func TestSubmit_CreatesPendingOrder(t *testing.T) {
	ledger, _ := newTestLedger(t)

	o, err := ledger.Submit(context.Background(), limitRequest(100, 10))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if o.Status != model.OrderPending {
		t.Fatalf("status = %s, want pending", o.Status)
	}
	if o.Venue != model.VenueDrift {
		t.Fatalf("venue = %s, want drift", o.Venue)
	}
	if o.ClientOrderID == "" {
		t.Fatal("client order id not assigned")
	}
	if o.ExternalOrderID != "" {
		t.Fatalf("external order id = %q, want empty before reconciliation", o.ExternalOrderID)
	}
	if o.Version != 0 {
		t.Fatalf("version = %d, want 0", o.Version)
	}
}

func TestSubmit_RejectsMalformedRequests(t *testing.T) {
	ledger, _ := newTestLedger(t)

	cases := []struct {
		name string
		req  SubmitRequest
	}{
		{"bad direction", SubmitRequest{
			DexAccountID: "acct-1", Direction: "sideways",
			OrderType: model.OrderTypeLimit, BaseAssetAmount: d(1), Price: d(10),
		}},
		{"bad order type", SubmitRequest{
			DexAccountID: "acct-1", Direction: model.DirectionLong,
			OrderType: "stop_loss", BaseAssetAmount: d(1),
		}},
		{"zero size", SubmitRequest{
			DexAccountID: "acct-1", Direction: model.DirectionLong,
			OrderType: model.OrderTypeLimit, BaseAssetAmount: d(0), Price: d(10),
		}},
		{"unknown market", SubmitRequest{
			DexAccountID: "acct-1", MarketIndex: 99, Direction: model.DirectionLong,
			OrderType: model.OrderTypeLimit, BaseAssetAmount: d(1), Price: d(10),
		}},
		{"limit without price", SubmitRequest{
			DexAccountID: "acct-1", Direction: model.DirectionLong,
			OrderType: model.OrderTypeLimit, BaseAssetAmount: d(1),
		}},
		{"market with price", SubmitRequest{
			DexAccountID: "acct-1", Direction: model.DirectionLong,
			OrderType: model.OrderTypeMarket, BaseAssetAmount: d(1), Price: d(10),
		}},
		{"trigger market without trigger price", SubmitRequest{
			DexAccountID: "acct-1", Direction: model.DirectionShort,
			OrderType: model.OrderTypeTriggerMarket, BaseAssetAmount: d(1),
			TriggerCondition: model.TriggerBelow,
		}},
		{"trigger market without condition", SubmitRequest{
			DexAccountID: "acct-1", Direction: model.DirectionShort,
			OrderType: model.OrderTypeTriggerMarket, BaseAssetAmount: d(1),
			TriggerPrice: d(9),
		}},
		{"limit with trigger fields", SubmitRequest{
			DexAccountID: "acct-1", Direction: model.DirectionLong,
			OrderType: model.OrderTypeLimit, BaseAssetAmount: d(1), Price: d(10),
			TriggerPrice: d(9), TriggerCondition: model.TriggerBelow,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ledger.Submit(context.Background(), tc.req); !errors.Is(err, ErrInvalidOrder) {
				t.Fatalf("err = %v, want ErrInvalidOrder", err)
			}
		})
	}
}

func TestSubmit_UnknownAccount(t *testing.T) {
	ledger, _ := newTestLedger(t)

	req := limitRequest(1, 10)
	req.DexAccountID = "acct-missing"
	if _, err := ledger.Submit(context.Background(), req); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("err = %v, want ErrInvalidOrder", err)
	}
}

func TestApplyFill_WeightedAverage(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	o, err := ledger.Submit(ctx, limitRequest(100, 12))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	o, err = ledger.ApplyFill(ctx, o.ID, d(40), d(10))
	if err != nil {
		t.Fatalf("first fill: %v", err)
	}
	if o.Status != model.OrderOpen {
		t.Fatalf("status after partial fill = %s, want open", o.Status)
	}
	if !o.AvgFillPrice.Equal(d(10)) {
		t.Fatalf("avg fill price = %s, want 10", o.AvgFillPrice)
	}

	o, err = ledger.ApplyFill(ctx, o.ID, d(60), d(12))
	if err != nil {
		t.Fatalf("second fill: %v", err)
	}
	if o.Status != model.OrderFilled {
		t.Fatalf("status after full fill = %s, want filled", o.Status)
	}
	if !o.FilledAmount.Equal(d(100)) {
		t.Fatalf("filled = %s, want 100", o.FilledAmount)
	}
	if !o.AvgFillPrice.Equal(d(11.2)) {
		t.Fatalf("avg fill price = %s, want 11.2", o.AvgFillPrice)
	}
	if o.Version != 2 {
		t.Fatalf("version = %d, want 2 after two accepted fills", o.Version)
	}
}

func TestApplyFill_RejectsOverfill(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	o, _ := ledger.Submit(ctx, limitRequest(10, 5))
	if _, err := ledger.ApplyFill(ctx, o.ID, d(11), d(5)); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("err = %v, want ErrInvalidOrder", err)
	}
	if _, err := ledger.ApplyFill(ctx, o.ID, d(0), d(5)); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("zero delta err = %v, want ErrInvalidOrder", err)
	}
	if _, err := ledger.ApplyFill(ctx, o.ID, d(1), d(0)); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("zero price err = %v, want ErrInvalidOrder", err)
	}
}

func TestApplyFill_TerminalOrderIsStale(t *testing.T) {
	ledger, st := newTestLedger(t)
	ctx := context.Background()

	o, _ := ledger.Submit(ctx, limitRequest(10, 5))
	if _, err := ledger.Cancel(ctx, o.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := ledger.ApplyFill(ctx, o.ID, d(1), d(5)); !errors.Is(err, ErrStaleApply) {
		t.Fatalf("err = %v, want ErrStaleApply", err)
	}

	got, err := st.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != model.OrderCancelled || !got.FilledAmount.IsZero() {
		t.Fatalf("terminal order changed by stale fill: status=%s filled=%s",
			got.Status, got.FilledAmount)
	}
}

func TestCancel_Transitions(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	o, _ := ledger.Submit(ctx, limitRequest(10, 5))
	cancelled, err := ledger.Cancel(ctx, o.ID)
	if err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if cancelled.Status != model.OrderCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}

	// Cancelling an already terminal order is not a valid transition.
	if _, err := ledger.Cancel(ctx, o.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}

	full, _ := ledger.Submit(ctx, limitRequest(10, 5))
	if _, err := ledger.ApplyFill(ctx, full.ID, d(10), d(5)); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if _, err := ledger.Cancel(ctx, full.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel filled err = %v, want ErrInvalidTransition", err)
	}
}

func venueOrder(extID string, status model.OrderStatus, filled, avg float64) model.VenueOrder {
	return model.VenueOrder{
		ExternalOrderID: extID,
		MarketIndex:     0,
		Direction:       model.DirectionLong,
		OrderType:       model.OrderTypeLimit,
		Price:           d(10),
		BaseAssetAmount: d(100),
		FilledAmount:    d(filled),
		AvgFillPrice:    d(avg),
		Status:          status,
	}
}

func TestReconcile_DiscoversUnknownOrder(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	vo := venueOrder("E-77", model.OrderOpen, 40, 10)
	o, changed, err := ledger.ReconcileFromVenue(ctx, "acct-1", vo)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !changed {
		t.Fatal("discovery should report a change")
	}
	if o.ExternalOrderID != "E-77" || o.Status != model.OrderOpen || !o.FilledAmount.Equal(d(40)) {
		t.Fatalf("discovered order = %+v", o)
	}

	// Replaying the same venue report is a no-op.
	again, changed, err := ledger.ReconcileFromVenue(ctx, "acct-1", vo)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if changed {
		t.Fatal("identical replay must not report a change")
	}
	if again.Version != o.Version {
		t.Fatalf("version = %d, want unchanged %d", again.Version, o.Version)
	}
}

func TestReconcile_AttachesExternalID(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	local, _ := ledger.Submit(ctx, limitRequest(100, 10))

	vo := venueOrder("E-9", model.OrderOpen, 0, 0)
	vo.ClientOrderID = local.ClientOrderID

	merged, changed, err := ledger.ReconcileFromVenue(ctx, "acct-1", vo)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !changed {
		t.Fatal("expected accepted merge")
	}
	if merged.ID != local.ID {
		t.Fatalf("matched order %s, want %s", merged.ID, local.ID)
	}
	if merged.ExternalOrderID != "E-9" {
		t.Fatalf("external id = %q, want E-9", merged.ExternalOrderID)
	}
	if merged.Status != model.OrderOpen {
		t.Fatalf("status = %s, want open", merged.Status)
	}
}

func TestReconcile_RejectsBackwardMerges(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	// Establish a local open order with 40 filled.
	_, _, err := ledger.ReconcileFromVenue(ctx, "acct-1", venueOrder("E-1", model.OrderOpen, 40, 10))
	if err != nil {
		t.Fatalf("seed reconcile: %v", err)
	}

	// A venue snapshot with less progress must not land.
	o, changed, err := ledger.ReconcileFromVenue(ctx, "acct-1", venueOrder("E-1", model.OrderOpen, 30, 10))
	if err != nil {
		t.Fatalf("regressing filled: %v", err)
	}
	if changed || !o.FilledAmount.Equal(d(40)) {
		t.Fatalf("backward fill merged: changed=%v filled=%s", changed, o.FilledAmount)
	}

	// A pending report after open must not land either.
	o, changed, err = ledger.ReconcileFromVenue(ctx, "acct-1", venueOrder("E-1", model.OrderPending, 0, 0))
	if err != nil {
		t.Fatalf("regressing status: %v", err)
	}
	if changed || o.Status != model.OrderOpen {
		t.Fatalf("backward status merged: changed=%v status=%s", changed, o.Status)
	}

	// Forward progress is accepted.
	o, changed, err = ledger.ReconcileFromVenue(ctx, "acct-1", venueOrder("E-1", model.OrderFilled, 100, 10.5))
	if err != nil {
		t.Fatalf("terminal merge: %v", err)
	}
	if !changed || o.Status != model.OrderFilled || !o.AvgFillPrice.Equal(d(10.5)) {
		t.Fatalf("terminal merge rejected: changed=%v order=%+v", changed, o)
	}
}

func TestReconcile_TerminalStatusNeverOverwritten(t *testing.T) {
	ledger, st := newTestLedger(t)
	ctx := context.Background()

	local, _ := ledger.Submit(ctx, limitRequest(100, 10))
	if _, err := ledger.Cancel(ctx, local.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	vo := venueOrder("E-5", model.OrderFilled, 100, 10)
	vo.ClientOrderID = local.ClientOrderID

	o, changed, err := ledger.ReconcileFromVenue(ctx, "acct-1", vo)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if changed {
		t.Fatal("terminal order must not accept venue overwrite")
	}
	if o.Status != model.OrderCancelled {
		t.Fatalf("status = %s, want cancelled", o.Status)
	}

	got, _ := st.GetOrder(ctx, local.ID)
	if got.Status != model.OrderCancelled {
		t.Fatalf("stored status = %s, want cancelled", got.Status)
	}
}

// conflictStore forces version conflicts on the first n order updates.
type conflictStore struct {
	store.Store
	remaining int
}

func (c *conflictStore) UpdateOrder(ctx context.Context, o *model.Order) error {
	if c.remaining > 0 {
		c.remaining--
		return store.ErrVersionConflict
	}
	return c.Store.UpdateOrder(ctx, o)
}

func TestApplyFill_RetriesVersionConflicts(t *testing.T) {
	_, st := newTestLedger(t)
	ctx := context.Background()

	cs := &conflictStore{Store: st}
	ledger := NewLedger(cs, market.Default(), 3)

	o, err := ledger.Submit(ctx, limitRequest(10, 5))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	cs.remaining = 2
	got, err := ledger.ApplyFill(ctx, o.ID, d(4), d(5))
	if err != nil {
		t.Fatalf("fill should survive two conflicts: %v", err)
	}
	if !got.FilledAmount.Equal(d(4)) {
		t.Fatalf("filled = %s, want 4", got.FilledAmount)
	}
}

func TestApplyFill_RetriesExhausted(t *testing.T) {
	_, st := newTestLedger(t)
	ctx := context.Background()

	cs := &conflictStore{Store: st}
	ledger := NewLedger(cs, market.Default(), 2)

	o, err := ledger.Submit(ctx, limitRequest(10, 5))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	cs.remaining = 100
	if _, err := ledger.ApplyFill(ctx, o.ID, d(1), d(5)); !errors.Is(err, store.ErrRetryExhausted) {
		t.Fatalf("err = %v, want ErrRetryExhausted", err)
	}
}
