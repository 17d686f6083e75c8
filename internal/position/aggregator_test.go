package position

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/deltadesk/position-engine/internal/hedge"
	"github.com/deltadesk/position-engine/internal/model"
	"github.com/deltadesk/position-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestAggregator(t *testing.T) (*Aggregator, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()

	accounts := []model.DexAccount{
		{ID: "acct-drift", UserID: "user-1", Venue: model.VenueDrift, Address: "drift-addr-1"},
		{ID: "acct-hyper", UserID: "user-1", Venue: model.VenueHyperliquid, Address: "0xabc1"},
		{ID: "acct-drift-2", UserID: "user-1", Venue: model.VenueDrift, Address: "drift-addr-2"},
		{ID: "acct-other", UserID: "user-2", Venue: model.VenueDrift, Address: "drift-addr-3"},
	}
	for i := range accounts {
		if err := st.CreateAccount(ctx, &accounts[i]); err != nil {
			t.Fatalf("seed account %s: %v", accounts[i].ID, err)
		}
	}

	monitor, err := hedge.NewMonitor(d(0.02), d(0.10), d(10))
	if err != nil {
		t.Fatalf("monitor: %v", err)
	}
	return NewAggregator(st, monitor, 3), st
}

func seedLeg(t *testing.T, st store.Store, id, accountID string, venue model.Venue,
	dir model.Direction, status model.OrderStatus, filled, avg float64) {
	t.Helper()
	err := st.CreateOrder(context.Background(), &model.Order{
		ID:              id,
		DexAccountID:    accountID,
		Venue:           venue,
		ClientOrderID:   "c-" + id,
		Direction:       dir,
		OrderType:       model.OrderTypeLimit,
		Price:           d(10),
		BaseAssetAmount: d(100),
		FilledAmount:    d(filled),
		AvgFillPrice:    d(avg),
		Status:          status,
	})
	if err != nil {
		t.Fatalf("seed order %s: %v", id, err)
	}
}

func setLeg(t *testing.T, st store.Store, id string, status model.OrderStatus, filled, avg float64) {
	t.Helper()
	ctx := context.Background()
	o, err := st.GetOrder(ctx, id)
	if err != nil {
		t.Fatalf("get order %s: %v", id, err)
	}
	o.Status = status
	o.FilledAmount = d(filled)
	o.AvgFillPrice = d(avg)
	if err := st.UpdateOrder(ctx, o); err != nil {
		t.Fatalf("update order %s: %v", id, err)
	}
}

func TestOpenSingle_StateFollowsLeg(t *testing.T) {
	agg, st := newTestAggregator(t)
	ctx := context.Background()

	seedLeg(t, st, "o-pending", "acct-drift", model.VenueDrift, model.DirectionLong, model.OrderPending, 0, 0)
	p, err := agg.OpenSingle(ctx, "user-1", "o-pending", "solo")
	if err != nil {
		t.Fatalf("open single: %v", err)
	}
	if p.State != model.StateOpening {
		t.Fatalf("state = %s, want opening for pending leg", p.State)
	}
	if p.Kind != model.PositionSingle || len(p.LegOrderIDs) != 1 {
		t.Fatalf("position shape = %+v", p)
	}

	seedLeg(t, st, "o-open", "acct-drift", model.VenueDrift, model.DirectionLong, model.OrderOpen, 40, 10)
	p2, err := agg.OpenSingle(ctx, "user-1", "o-open", "solo2")
	if err != nil {
		t.Fatalf("open single over working leg: %v", err)
	}
	if p2.State != model.StateOpen {
		t.Fatalf("state = %s, want open for working leg", p2.State)
	}
}

func TestOpenDeltaNeutral_RequiresOppositeLegsAcrossVenues(t *testing.T) {
	agg, st := newTestAggregator(t)
	ctx := context.Background()

	seedLeg(t, st, "leg-d", "acct-drift", model.VenueDrift, model.DirectionLong, model.OrderPending, 0, 0)
	seedLeg(t, st, "leg-h", "acct-hyper", model.VenueHyperliquid, model.DirectionShort, model.OrderPending, 0, 0)

	p, err := agg.OpenDeltaNeutral(ctx, "user-1", "leg-d", "leg-h", "hedge-1")
	if err != nil {
		t.Fatalf("open delta neutral: %v", err)
	}
	if p.Kind != model.PositionDeltaNeutral || p.State != model.StateOpening {
		t.Fatalf("position = %+v", p)
	}
	if p.HedgeBroken {
		t.Fatal("fresh position must not be hedge broken")
	}
}

func TestOpenDeltaNeutral_PairingRejections(t *testing.T) {
	agg, st := newTestAggregator(t)
	ctx := context.Background()

	seedLeg(t, st, "d-long", "acct-drift", model.VenueDrift, model.DirectionLong, model.OrderOpen, 10, 10)
	seedLeg(t, st, "d-short", "acct-drift-2", model.VenueDrift, model.DirectionShort, model.OrderOpen, 10, 10)
	seedLeg(t, st, "h-short", "acct-hyper", model.VenueHyperliquid, model.DirectionShort, model.OrderOpen, 10, 10)
	seedLeg(t, st, "h-short-2", "acct-hyper", model.VenueHyperliquid, model.DirectionShort, model.OrderOpen, 10, 10)
	seedLeg(t, st, "h-cancelled", "acct-hyper", model.VenueHyperliquid, model.DirectionShort, model.OrderCancelled, 0, 0)
	seedLeg(t, st, "foreign", "acct-other", model.VenueDrift, model.DirectionLong, model.OrderOpen, 10, 10)

	// Adopt one leg so the reuse case below has an owner.
	if _, err := agg.OpenSingle(ctx, "user-1", "h-short-2", "taken"); err != nil {
		t.Fatalf("seed owner position: %v", err)
	}

	cases := []struct {
		name          string
		first, second string
	}{
		{"same order twice", "d-long", "d-long"},
		{"same venue", "d-long", "d-short"},
		{"same direction", "d-short", "h-short"},
		{"missing order", "d-long", "h-missing"},
		{"dead leg", "d-long", "h-cancelled"},
		{"foreign user leg", "foreign", "h-short"},
		{"leg already owned", "d-long", "h-short-2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := agg.OpenDeltaNeutral(ctx, "user-1", tc.first, tc.second, "x")
			if !errors.Is(err, ErrInvalidPairing) {
				t.Fatalf("err = %v, want ErrInvalidPairing", err)
			}
		})
	}
}

func TestRefresh_OpensWhenBothLegsFill(t *testing.T) {
	agg, st := newTestAggregator(t)
	ctx := context.Background()

	seedLeg(t, st, "leg-d", "acct-drift", model.VenueDrift, model.DirectionLong, model.OrderPending, 0, 0)
	seedLeg(t, st, "leg-h", "acct-hyper", model.VenueHyperliquid, model.DirectionShort, model.OrderPending, 0, 0)
	p, _ := agg.OpenDeltaNeutral(ctx, "user-1", "leg-d", "leg-h", "hedge")

	// One leg filling is not enough.
	setLeg(t, st, "leg-d", model.OrderOpen, 50, 10)
	p1, changed, err := agg.Refresh(ctx, p.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if changed || p1.State != model.StateOpening {
		t.Fatalf("one-legged fill: changed=%v state=%s, want opening", changed, p1.State)
	}

	setLeg(t, st, "leg-h", model.OrderOpen, 50, 10.1)
	p2, changed, err := agg.Refresh(ctx, p.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !changed || p2.State != model.StateOpen {
		t.Fatalf("both legs filled: changed=%v state=%s, want open", changed, p2.State)
	}

	// Idempotent once open.
	_, changed, err = agg.Refresh(ctx, p.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if changed {
		t.Fatal("refresh without leg movement must be a no-op")
	}
}

func TestRefresh_LiquidatedLegBreaksHedge(t *testing.T) {
	agg, st := newTestAggregator(t)
	ctx := context.Background()

	seedLeg(t, st, "leg-d", "acct-drift", model.VenueDrift, model.DirectionLong, model.OrderOpen, 100, 10)
	seedLeg(t, st, "leg-h", "acct-hyper", model.VenueHyperliquid, model.DirectionShort, model.OrderOpen, 100, 10)
	p, _ := agg.OpenDeltaNeutral(ctx, "user-1", "leg-d", "leg-h", "hedge")

	setLeg(t, st, "leg-h", model.OrderLiquidated, 100, 10)
	got, changed, err := agg.Refresh(ctx, p.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !changed || got.State != model.StateLiquidated || !got.HedgeBroken {
		t.Fatalf("after leg liquidation: changed=%v state=%s hedgeBroken=%v",
			changed, got.State, got.HedgeBroken)
	}

	// The surviving leg is left alone.
	survivor, _ := st.GetOrder(ctx, "leg-d")
	if survivor.Status != model.OrderOpen {
		t.Fatalf("survivor status = %s, want open", survivor.Status)
	}

	// Terminal state is sticky even if the venue later reports otherwise.
	setLeg(t, st, "leg-h", model.OrderFilled, 100, 10)
	after, changed, err := agg.Refresh(ctx, p.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if changed || after.State != model.StateLiquidated {
		t.Fatalf("terminal position changed: changed=%v state=%s", changed, after.State)
	}

	if _, err := agg.Close(ctx, p.ID); !errors.Is(err, ErrNotClosable) {
		t.Fatalf("close liquidated err = %v, want ErrNotClosable", err)
	}
}

func TestRefresh_FailedLegWhileOtherHoldsExposure(t *testing.T) {
	agg, st := newTestAggregator(t)
	ctx := context.Background()

	seedLeg(t, st, "leg-d", "acct-drift", model.VenueDrift, model.DirectionLong, model.OrderOpen, 100, 10)
	seedLeg(t, st, "leg-h", "acct-hyper", model.VenueHyperliquid, model.DirectionShort, model.OrderPending, 0, 0)
	p, _ := agg.OpenDeltaNeutral(ctx, "user-1", "leg-d", "leg-h", "hedge")

	setLeg(t, st, "leg-h", model.OrderFailed, 0, 0)
	got, changed, err := agg.Refresh(ctx, p.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !changed || got.State != model.StateLiquidated || !got.HedgeBroken {
		t.Fatalf("after leg failure: changed=%v state=%s hedgeBroken=%v",
			changed, got.State, got.HedgeBroken)
	}
}

func TestRefresh_BothLegsDeadWithoutFillsStaysClosable(t *testing.T) {
	agg, st := newTestAggregator(t)
	ctx := context.Background()

	seedLeg(t, st, "leg-d", "acct-drift", model.VenueDrift, model.DirectionLong, model.OrderPending, 0, 0)
	seedLeg(t, st, "leg-h", "acct-hyper", model.VenueHyperliquid, model.DirectionShort, model.OrderPending, 0, 0)
	p, _ := agg.OpenDeltaNeutral(ctx, "user-1", "leg-d", "leg-h", "hedge")

	// Nothing ever executed; both legs end without fills.
	setLeg(t, st, "leg-d", model.OrderCancelled, 0, 0)
	setLeg(t, st, "leg-h", model.OrderCancelled, 0, 0)

	got, changed, err := agg.Refresh(ctx, p.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if changed || got.State != model.StateOpening || got.HedgeBroken {
		t.Fatalf("dead-on-arrival pair: changed=%v state=%s hedgeBroken=%v",
			changed, got.State, got.HedgeBroken)
	}

	closed, err := agg.Close(ctx, p.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.State != model.StateClosed || closed.ClosedAt == nil {
		t.Fatalf("closed position = %+v", closed)
	}
}

func TestClose_RequiresTerminalLegs(t *testing.T) {
	agg, st := newTestAggregator(t)
	ctx := context.Background()

	seedLeg(t, st, "leg", "acct-drift", model.VenueDrift, model.DirectionLong, model.OrderOpen, 50, 10)
	p, _ := agg.OpenSingle(ctx, "user-1", "leg", "solo")

	if _, err := agg.Close(ctx, p.ID); !errors.Is(err, ErrNotClosable) {
		t.Fatalf("close with working leg err = %v, want ErrNotClosable", err)
	}

	setLeg(t, st, "leg", model.OrderFilled, 100, 10)
	closed, err := agg.Close(ctx, p.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.State != model.StateClosed {
		t.Fatalf("state = %s, want closed", closed.State)
	}

	// Closing again is a no-op success.
	again, err := agg.Close(ctx, p.ID)
	if err != nil {
		t.Fatalf("repeat close: %v", err)
	}
	if again.State != model.StateClosed || again.Version != closed.Version {
		t.Fatalf("repeat close mutated position: %+v", again)
	}
}

func TestLiquidate_FromVenueReport(t *testing.T) {
	agg, st := newTestAggregator(t)
	ctx := context.Background()

	seedLeg(t, st, "leg-d", "acct-drift", model.VenueDrift, model.DirectionLong, model.OrderFilled, 100, 10)
	seedLeg(t, st, "leg-h", "acct-hyper", model.VenueHyperliquid, model.DirectionShort, model.OrderFilled, 100, 10)
	p, _ := agg.OpenDeltaNeutral(ctx, "user-1", "leg-d", "leg-h", "hedge")

	got, changed, err := agg.Liquidate(ctx, p.ID)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if !changed || got.State != model.StateLiquidated || !got.HedgeBroken {
		t.Fatalf("liquidate result: changed=%v state=%s hedgeBroken=%v",
			changed, got.State, got.HedgeBroken)
	}

	// Leg orders keep their own terminal statuses.
	for _, legID := range []string{"leg-d", "leg-h"} {
		o, _ := st.GetOrder(ctx, legID)
		if o.Status != model.OrderFilled {
			t.Fatalf("leg %s status = %s, want filled", legID, o.Status)
		}
	}

	// Replay is a no-op.
	_, changed, err = agg.Liquidate(ctx, p.ID)
	if err != nil {
		t.Fatalf("repeat liquidate: %v", err)
	}
	if changed {
		t.Fatal("liquidating a terminal position must not change it")
	}

	seedLeg(t, st, "solo-leg", "acct-drift", model.VenueDrift, model.DirectionLong, model.OrderFilled, 10, 10)
	solo, _ := agg.OpenSingle(ctx, "user-1", "solo-leg", "solo")
	liq, _, err := agg.Liquidate(ctx, solo.ID)
	if err != nil {
		t.Fatalf("liquidate single: %v", err)
	}
	if liq.HedgeBroken {
		t.Fatal("single-leg liquidation must not set hedgeBroken")
	}
}

func TestExposure_BalancedPair(t *testing.T) {
	agg, st := newTestAggregator(t)
	ctx := context.Background()

	seedLeg(t, st, "leg-d", "acct-drift", model.VenueDrift, model.DirectionLong, model.OrderFilled, 100, 10)
	seedLeg(t, st, "leg-h", "acct-hyper", model.VenueHyperliquid, model.DirectionShort, model.OrderFilled, 100, 10.1)
	p, _ := agg.OpenDeltaNeutral(ctx, "user-1", "leg-d", "leg-h", "hedge")

	exp, err := agg.Exposure(ctx, p.ID)
	if err != nil {
		t.Fatalf("exposure: %v", err)
	}
	if !exp.NetSize.IsZero() {
		t.Fatalf("net size = %s, want 0", exp.NetSize)
	}
	if !exp.NetNotional.Equal(d(-10)) {
		t.Fatalf("net notional = %s, want -10", exp.NetNotional)
	}
	if !exp.GrossNotional.Equal(d(2010)) {
		t.Fatalf("gross notional = %s, want 2010", exp.GrossNotional)
	}
	if exp.Hedge.Status != hedge.StatusBalanced {
		t.Fatalf("hedge status = %s, want balanced", exp.Hedge.Status)
	}
}
