package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/deltadesk/position-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedAccount(t *testing.T, s Store, id string, venue model.Venue) *model.DexAccount {
	t.Helper()
	a := &model.DexAccount{
		ID:        id,
		UserID:    "user-1",
		Venue:     venue,
		Address:   "addr-" + id,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return a
}

func seedOrder(t *testing.T, s Store, id, accountID string, status model.OrderStatus) *model.Order {
	t.Helper()
	o := &model.Order{
		ID:              id,
		DexAccountID:    accountID,
		Venue:           model.VenueDrift,
		ClientOrderID:   "cl-" + id,
		MarketIndex:     0,
		Direction:       model.DirectionLong,
		OrderType:       model.OrderTypeMarket,
		BaseAssetAmount: d(100),
		FilledAmount:    d(0),
		Status:          status,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	if err := s.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return o
}

// --- Optimistic concurrency ---

func TestUpdateOrder_BumpsVersion(t *testing.T) {
	s := NewMemoryStore()
	seedAccount(t, s, "acc-1", model.VenueDrift)
	o := seedOrder(t, s, "ord-1", "acc-1", model.OrderPending)

	o.Status = model.OrderOpen
	if err := s.UpdateOrder(context.Background(), o); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Version != 1 {
		t.Errorf("expected caller version bumped to 1, got %d", o.Version)
	}

	stored, err := s.GetOrder(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Version != 1 || stored.Status != model.OrderOpen {
		t.Errorf("expected stored version=1 status=open, got version=%d status=%s",
			stored.Version, stored.Status)
	}
}

func TestUpdateOrder_StaleVersionRejected(t *testing.T) {
	s := NewMemoryStore()
	seedAccount(t, s, "acc-1", model.VenueDrift)
	seedOrder(t, s, "ord-1", "acc-1", model.OrderPending)

	ctx := context.Background()
	a, _ := s.GetOrder(ctx, "ord-1")
	b, _ := s.GetOrder(ctx, "ord-1")

	a.Status = model.OrderOpen
	if err := s.UpdateOrder(ctx, a); err != nil {
		t.Fatalf("first writer should win: %v", err)
	}

	b.Status = model.OrderCancelled
	err := s.UpdateOrder(ctx, b)
	if !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict for stale writer, got %v", err)
	}

	// The losing write must not have landed.
	stored, _ := s.GetOrder(ctx, "ord-1")
	if stored.Status != model.OrderOpen {
		t.Errorf("stale write leaked: status %s", stored.Status)
	}
}

func TestUpdatePosition_StaleVersionRejected(t *testing.T) {
	s := NewMemoryStore()
	p := &model.Position{
		ID:          "pos-1",
		UserID:      "user-1",
		Kind:        model.PositionSingle,
		LegOrderIDs: []string{"ord-1"},
		State:       model.StateOpening,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	ctx := context.Background()
	if err := s.CreatePosition(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	a, _ := s.GetPosition(ctx, "pos-1")
	b, _ := s.GetPosition(ctx, "pos-1")

	a.State = model.StateOpen
	if err := s.UpdatePosition(ctx, a); err != nil {
		t.Fatalf("first writer: %v", err)
	}
	b.State = model.StateLiquidated
	if err := s.UpdatePosition(ctx, b); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}
}

// --- Uniqueness ---

func TestCreateAccount_DuplicateVenueAddress(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a := seedAccount(t, s, "acc-1", model.VenueHyperliquid)
	dup := &model.DexAccount{
		ID:      "acc-2",
		UserID:  "user-2",
		Venue:   a.Venue,
		Address: a.Address,
	}
	if err := s.CreateAccount(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate for same (venue, address), got %v", err)
	}
}

func TestInsertTransaction_DuplicateSignature(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	tx := &model.Transaction{
		ID:                  "tx-1",
		DexAccountID:        "acc-1",
		Direction:           model.TransferDeposit,
		Amount:              d(500),
		TokenSymbol:         "USDC",
		ExternalTxSignature: "sig-abc",
		Status:              model.TxConfirmed,
		CreatedAt:           time.Now().UTC(),
	}
	if err := s.InsertTransaction(ctx, tx); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	dup := *tx
	dup.ID = "tx-2"
	if err := s.InsertTransaction(ctx, &dup); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate for repeated signature, got %v", err)
	}

	// Same signature on a different account is allowed.
	other := *tx
	other.ID = "tx-3"
	other.DexAccountID = "acc-2"
	if err := s.InsertTransaction(ctx, &other); err != nil {
		t.Errorf("same signature on another account should insert: %v", err)
	}
}

// --- Copy isolation ---

func TestGetOrder_ReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	seedAccount(t, s, "acc-1", model.VenueDrift)
	seedOrder(t, s, "ord-1", "acc-1", model.OrderPending)

	ctx := context.Background()
	o, _ := s.GetOrder(ctx, "ord-1")
	o.Status = model.OrderFilled

	stored, _ := s.GetOrder(ctx, "ord-1")
	if stored.Status != model.OrderPending {
		t.Errorf("mutation through returned copy leaked into store: %s", stored.Status)
	}
}

func TestGetPosition_DeepCopyIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := &model.Position{
		ID:          "pos-1",
		UserID:      "user-1",
		Kind:        model.PositionDeltaNeutral,
		LegOrderIDs: []string{"ord-1", "ord-2"},
		State:       model.StateOpening,
		Metadata:    map[string]string{"strategy": "basis"},
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.CreatePosition(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, _ := s.GetPosition(ctx, "pos-1")
	got.LegOrderIDs[0] = "tampered"
	got.Metadata["strategy"] = "tampered"

	stored, _ := s.GetPosition(ctx, "pos-1")
	if stored.LegOrderIDs[0] != "ord-1" {
		t.Errorf("leg mutation leaked: %v", stored.LegOrderIDs)
	}
	if stored.Metadata["strategy"] != "basis" {
		t.Errorf("metadata mutation leaked: %v", stored.Metadata)
	}
}

// --- Lookups and filters ---

func TestGetOrderByExternalID(t *testing.T) {
	s := NewMemoryStore()
	seedAccount(t, s, "acc-1", model.VenueDrift)
	o := seedOrder(t, s, "ord-1", "acc-1", model.OrderOpen)

	ctx := context.Background()
	o.ExternalOrderID = "ext-42"
	if err := s.UpdateOrder(ctx, o); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetOrderByExternalID(ctx, "acc-1", "ext-42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "ord-1" {
		t.Errorf("expected ord-1, got %s", got.ID)
	}

	if _, err := s.GetOrderByExternalID(ctx, "acc-1", "ext-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	// Orders with empty external ids must never match an empty query.
	seedOrder(t, s, "ord-2", "acc-1", model.OrderPending)
	if _, err := s.GetOrderByExternalID(ctx, "acc-1", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty external id should not match, got %v", err)
	}
}

func TestListOrdersByAccount_Filters(t *testing.T) {
	s := NewMemoryStore()
	seedAccount(t, s, "acc-1", model.VenueDrift)
	seedOrder(t, s, "ord-1", "acc-1", model.OrderOpen)
	seedOrder(t, s, "ord-2", "acc-1", model.OrderFilled)
	seedOrder(t, s, "ord-3", "acc-1", model.OrderOpen)
	seedOrder(t, s, "ord-4", "acc-2", model.OrderOpen)

	ctx := context.Background()
	open, err := s.ListOrdersByAccount(ctx, "acc-1", OrderFilter{Status: model.OrderOpen})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 2 {
		t.Errorf("expected 2 open orders for acc-1, got %d", len(open))
	}

	all, _ := s.ListOrdersByAccount(ctx, "acc-1", OrderFilter{})
	if len(all) != 3 {
		t.Errorf("expected 3 orders for acc-1, got %d", len(all))
	}
}

func TestListLivePositions_ExcludesTerminal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	states := map[string]model.PositionState{
		"pos-1": model.StateOpening,
		"pos-2": model.StateOpen,
		"pos-3": model.StateClosed,
		"pos-4": model.StateLiquidated,
	}
	for id, st := range states {
		p := &model.Position{
			ID: id, UserID: "user-1", Kind: model.PositionSingle,
			LegOrderIDs: []string{"ord-" + id}, State: st,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.CreatePosition(ctx, p); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	live, err := s.ListLivePositions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(live) != 2 {
		t.Errorf("expected 2 live positions, got %d", len(live))
	}
	for _, p := range live {
		if p.State.Terminal() {
			t.Errorf("terminal position %s in live set", p.ID)
		}
	}
}

func TestGetPositionByLegOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := &model.Position{
		ID: "pos-1", UserID: "user-1", Kind: model.PositionDeltaNeutral,
		LegOrderIDs: []string{"ord-a", "ord-b"}, State: model.StateOpening,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreatePosition(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetPositionByLegOrder(ctx, "ord-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "pos-1" {
		t.Errorf("expected pos-1, got %s", got.ID)
	}
	if _, err := s.GetPositionByLegOrder(ctx, "ord-z"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListSnapshots_OrderedByCaptureTime(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, offset := range []int{2, 0, 1} {
		snap := &model.PositionSnapshot{
			ID:         "snap-" + string(rune('a'+i)),
			PositionID: "pos-1",
			CapturedAt: base.Add(time.Duration(offset) * time.Hour),
			MarkPrice:  d(100),
		}
		if err := s.InsertSnapshot(ctx, snap); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	snaps, err := s.ListSnapshots(ctx, "pos-1", SnapshotFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(snaps))
	}
	for i := 1; i < len(snaps); i++ {
		if snaps[i-1].CapturedAt.After(snaps[i].CapturedAt) {
			t.Errorf("snapshots out of order at %d", i)
		}
	}

	windowed, _ := s.ListSnapshots(ctx, "pos-1", SnapshotFilter{From: base.Add(30 * time.Minute)})
	if len(windowed) != 2 {
		t.Errorf("expected 2 snapshots after window start, got %d", len(windowed))
	}
}

func TestListTransactions_DirectionFilter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i, dir := range []model.TransferDirection{
		model.TransferDeposit, model.TransferWithdrawal, model.TransferDeposit,
	} {
		tx := &model.Transaction{
			ID:                  "tx-" + string(rune('a'+i)),
			DexAccountID:        "acc-1",
			Direction:           dir,
			Amount:              d(100),
			TokenSymbol:         "USDC",
			ExternalTxSignature: "sig-" + string(rune('a'+i)),
			Status:              model.TxConfirmed,
			CreatedAt:           time.Now().UTC().Add(time.Duration(i) * time.Minute),
		}
		if err := s.InsertTransaction(ctx, tx); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	deposits, err := s.ListTransactions(ctx, "acc-1", TransactionFilter{Direction: model.TransferDeposit})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(deposits) != 2 {
		t.Errorf("expected 2 deposits, got %d", len(deposits))
	}
}
