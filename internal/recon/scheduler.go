// Package recon drives the periodic reconciliation of local state against
// venue-reported truth. Each tick it walks every linked account, fetches
// orders, fills, positions and transfers from the account's venue, and
// folds them into the ledgers.
//
// Isolation rules: one failing account never aborts the others; at most
// one pass runs per account at a time, with overlapping ticks skipping the
// busy account; cross-account concurrency is bounded by a worker
// semaphore. Transient venue failures retry with exponential backoff
// inside the pass and otherwise degrade the account's health until the
// next tick.
package recon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/deltadesk/position-engine/internal/metrics"
	"github.com/deltadesk/position-engine/internal/model"
	"github.com/deltadesk/position-engine/internal/order"
	"github.com/deltadesk/position-engine/internal/position"
	"github.com/deltadesk/position-engine/internal/snapshot"
	"github.com/deltadesk/position-engine/internal/store"
	"github.com/deltadesk/position-engine/internal/transfer"
	"github.com/deltadesk/position-engine/internal/venue"
)

// Events receives state changes produced by reconciliation. The WebSocket
// hub implements it; tests use NopEvents.
type Events interface {
	OrderUpdated(o model.Order)
	PositionUpdated(p model.Position)
	SnapshotRecorded(s model.PositionSnapshot)
}

// NopEvents discards all events.
type NopEvents struct{}

func (NopEvents) OrderUpdated(model.Order)                {}
func (NopEvents) PositionUpdated(model.Position)          {}
func (NopEvents) SnapshotRecorded(model.PositionSnapshot) {}

// Account health statuses reported through the health endpoint.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthStale    = "stale"
)

// AccountHealth is the per-account reconciliation status.
type AccountHealth struct {
	AccountID           string      `json:"account_id"`
	Venue               model.Venue `json:"venue"`
	Status              string      `json:"status"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LastSuccess         time.Time   `json:"last_success"`
	LastError           string      `json:"last_error,omitempty"`
}

// Config tunes the scheduler. Zero values fall back to defaults.
type Config struct {
	// Interval between ticks.
	Interval time.Duration
	// Workers bounds concurrent account passes.
	Workers int
	// MaxAttempts bounds venue fetch attempts per pass, including the
	// first.
	MaxAttempts int
	// Backoff paces the retries between attempts.
	Backoff Backoff
	// FillLookback is the fills window for an account with no prior
	// successful pass.
	FillLookback time.Duration
	// AccountTimeout bounds one account pass end to end.
	AccountTimeout time.Duration
	// ShutdownGrace bounds the wait for in-flight passes on stop.
	ShutdownGrace time.Duration
	// StaleAfter is the age of the last success beyond which an account
	// reports stale.
	StaleAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff.Base <= 0 {
		c.Backoff.Base = 500 * time.Millisecond
	}
	if c.Backoff.Max <= 0 {
		c.Backoff.Max = 5 * time.Second
	}
	if c.FillLookback <= 0 {
		c.FillLookback = 24 * time.Hour
	}
	if c.AccountTimeout <= 0 {
		c.AccountTimeout = 30 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 3 * c.Interval
	}
	return c
}

// Scheduler reconciles linked accounts on a fixed cadence.
type Scheduler struct {
	cfg       Config
	store     store.Store
	venues    *venue.Registry
	orders    *order.Ledger
	positions *position.Aggregator
	snapshots *snapshot.Recorder
	transfers *transfer.Ledger
	events    Events

	sem chan struct{}
	wg  sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	health   map[string]*AccountHealth
}

// NewScheduler wires the reconciliation loop. A nil events sink is
// replaced with NopEvents.
func NewScheduler(cfg Config, st store.Store, venues *venue.Registry,
	orders *order.Ledger, positions *position.Aggregator,
	snapshots *snapshot.Recorder, transfers *transfer.Ledger, events Events) *Scheduler {
	cfg = cfg.withDefaults()
	if events == nil {
		events = NopEvents{}
	}
	return &Scheduler{
		cfg:       cfg,
		store:     st,
		venues:    venues,
		orders:    orders,
		positions: positions,
		snapshots: snapshots,
		transfers: transfers,
		events:    events,
		sem:       make(chan struct{}, cfg.Workers),
		inFlight:  make(map[string]struct{}),
		health:    make(map[string]*AccountHealth),
	}
}

// Start runs the tick loop until ctx is cancelled, then waits up to the
// shutdown grace for in-flight passes before returning.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	slog.Info("reconciliation scheduler started",
		"interval", s.cfg.Interval, "workers", s.cfg.Workers)
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) drain() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("reconciliation scheduler stopped")
	case <-time.After(s.cfg.ShutdownGrace):
		slog.Warn("reconciliation scheduler stopped with passes still in flight",
			"grace", s.cfg.ShutdownGrace)
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	metrics.ReconTicks.Inc()

	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		slog.Error("list accounts for reconciliation", "err", err)
		return
	}

	for i := range accounts {
		acct := accounts[i]
		if !s.tryAcquire(acct.ID) {
			metrics.ReconSkips.Inc()
			slog.Debug("reconciliation skipped: pass in flight", "account_id", acct.ID)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.release(acct.ID)
			s.sem <- struct{}{}
			defer func() { <-s.sem }()
			s.reconcileAccount(ctx, acct)
		}()
	}
}

func (s *Scheduler) tryAcquire(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[accountID]; busy {
		return false
	}
	s.inFlight[accountID] = struct{}{}
	return true
}

func (s *Scheduler) release(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, accountID)
}

func (s *Scheduler) reconcileAccount(ctx context.Context, acct model.DexAccount) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("reconciliation panic",
				"account_id", acct.ID, "panic", r, "stack", string(debug.Stack()))
			s.recordFailure(acct, fmt.Errorf("panic: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.AccountTimeout)
	defer cancel()

	start := time.Now()
	err := s.runPass(ctx, acct)
	metrics.ReconAccountDuration.WithLabelValues(string(acct.Venue)).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ReconAccountFailures.WithLabelValues(string(acct.Venue)).Inc()
		s.recordFailure(acct, err)
		slog.Error("account reconciliation failed",
			"account_id", acct.ID, "venue", acct.Venue, "err", err)
		return
	}
	s.recordSuccess(acct)
}

func (s *Scheduler) runPass(ctx context.Context, acct model.DexAccount) error {
	client, err := s.venues.For(acct.Venue)
	if err != nil {
		return err
	}
	since := s.fillsSince(acct.ID)

	// All venue state is fetched before any store write.
	var venueOrders []model.VenueOrder
	if err := s.retryTransient(ctx, "list orders", acct.ID, func() error {
		var ferr error
		venueOrders, ferr = client.ListOrders(ctx, acct.Address)
		return ferr
	}); err != nil {
		return fmt.Errorf("list orders: %w", err)
	}

	var venueFills []model.VenueFill
	if err := s.retryTransient(ctx, "list fills", acct.ID, func() error {
		var ferr error
		venueFills, ferr = client.ListFills(ctx, acct.Address, since)
		return ferr
	}); err != nil {
		return fmt.Errorf("list fills: %w", err)
	}

	var venuePositions []model.VenuePosition
	if err := s.retryTransient(ctx, "list positions", acct.ID, func() error {
		var ferr error
		venuePositions, ferr = client.ListPositions(ctx, acct.Address)
		return ferr
	}); err != nil {
		return fmt.Errorf("list positions: %w", err)
	}

	var venueTransfers []model.VenueTransfer
	if err := s.retryTransient(ctx, "list transfers", acct.ID, func() error {
		var ferr error
		venueTransfers, ferr = client.ListTransfers(ctx, acct.Address, since)
		return ferr
	}); err != nil {
		return fmt.Errorf("list transfers: %w", err)
	}

	touched := make(map[string]struct{})

	for _, vo := range venueOrders {
		o, changed, err := s.orders.ReconcileFromVenue(ctx, acct.ID, vo)
		if err != nil {
			slog.Warn("order merge failed", "account_id", acct.ID,
				"external_order_id", vo.ExternalOrderID, "err", err)
			continue
		}
		if changed {
			metrics.OrdersReconciled.WithLabelValues(string(acct.Venue)).Inc()
			s.events.OrderUpdated(*o)
			s.markTouched(ctx, touched, o.ID)
		}
	}

	s.applyFills(ctx, acct, venueFills, touched)

	for id := range touched {
		p, changed, err := s.positions.Refresh(ctx, id)
		if err != nil {
			slog.Warn("position refresh failed", "position_id", id, "err", err)
			continue
		}
		if !changed {
			continue
		}
		s.events.PositionUpdated(*p)
		if p.State == model.StateLiquidated {
			metrics.PositionsLiquidated.WithLabelValues(string(p.Kind)).Inc()
		}
	}

	s.sweepPositions(ctx, acct, venuePositions)

	for _, vt := range venueTransfers {
		_, created, err := s.transfers.Record(ctx, transfer.RecordRequest{
			DexAccountID:        acct.ID,
			Direction:           vt.Direction,
			MarketIndex:         vt.MarketIndex,
			Amount:              vt.Amount,
			TokenSymbol:         vt.TokenSymbol,
			ExternalTxSignature: vt.ExternalTxSignature,
			Status:              vt.Status,
			OccurredAt:          vt.OccurredAt,
		})
		if err != nil {
			slog.Warn("transfer ingestion failed", "account_id", acct.ID,
				"tx_signature", vt.ExternalTxSignature, "err", err)
			continue
		}
		if created {
			metrics.TransfersIngested.WithLabelValues(string(acct.Venue)).Inc()
		}
	}
	return nil
}

// markTouched records the position owning orderID, if any, for refresh.
func (s *Scheduler) markTouched(ctx context.Context, touched map[string]struct{}, orderID string) {
	p, err := s.store.GetPositionByLegOrder(ctx, orderID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("position lookup for reconciled order failed",
				"order_id", orderID, "err", err)
		}
		return
	}
	touched[p.ID] = struct{}{}
}

// applyFills folds venue executions into local orders as cumulative
// shortfall: the batch total per order minus what the ledger already
// carries. Replaying the same window is a no-op, so the fills feed needs
// no separate bookkeeping.
func (s *Scheduler) applyFills(ctx context.Context, acct model.DexAccount, fills []model.VenueFill, touched map[string]struct{}) {
	type batch struct {
		amount   decimal.Decimal
		notional decimal.Decimal
	}
	byOrder := make(map[string]*batch)
	for _, f := range fills {
		if f.ExternalOrderID == "" || !f.Amount.GreaterThan(decimal.Zero) {
			continue
		}
		b := byOrder[f.ExternalOrderID]
		if b == nil {
			b = &batch{}
			byOrder[f.ExternalOrderID] = b
		}
		b.amount = b.amount.Add(f.Amount)
		b.notional = b.notional.Add(f.Amount.Mul(f.Price))
	}

	for extID, b := range byOrder {
		o, err := s.store.GetOrderByExternalID(ctx, acct.ID, extID)
		if err != nil {
			// Unknown orders surface through the order listing instead.
			if !errors.Is(err, store.ErrNotFound) {
				slog.Warn("order lookup for fills failed",
					"account_id", acct.ID, "external_order_id", extID, "err", err)
			}
			continue
		}
		if o.Status.Terminal() || !b.amount.GreaterThan(o.FilledAmount) {
			continue
		}

		delta := b.amount.Sub(o.FilledAmount)
		// Back out the unapplied tail's average from the batch totals;
		// if the local prefix does not line up, fall back to the batch
		// average.
		price := b.notional.Sub(o.FilledAmount.Mul(o.AvgFillPrice)).Div(delta)
		if !price.GreaterThan(decimal.Zero) {
			price = b.notional.Div(b.amount)
		}

		updated, err := s.orders.ApplyFill(ctx, o.ID, delta, price)
		if err != nil {
			if errors.Is(err, order.ErrStaleApply) {
				continue
			}
			slog.Warn("fill application failed", "order_id", o.ID,
				"delta", delta, "err", err)
			continue
		}
		metrics.FillsApplied.WithLabelValues(string(acct.Venue)).Inc()
		s.events.OrderUpdated(*updated)
		s.markTouched(ctx, touched, o.ID)
	}
}

// sweepPositions walks live positions carrying a leg on this account:
// venue-reported liquidations sink them, and open positions anchored here
// (first leg on this account) get a valuation snapshot at the venue mark.
func (s *Scheduler) sweepPositions(ctx context.Context, acct model.DexAccount, venuePositions []model.VenuePosition) {
	marks := make(map[int]decimal.Decimal)
	liquidated := make(map[int]bool)
	for _, vp := range venuePositions {
		if vp.MarkPrice.GreaterThan(decimal.Zero) {
			marks[vp.MarketIndex] = vp.MarkPrice
		}
		if vp.Liquidated {
			liquidated[vp.MarketIndex] = true
		}
	}
	if len(marks) == 0 && len(liquidated) == 0 {
		return
	}

	live, err := s.store.ListLivePositions(ctx)
	if err != nil {
		slog.Warn("list live positions failed", "account_id", acct.ID, "err", err)
		return
	}

	for i := range live {
		p := &live[i]

		var sank bool
		var mark decimal.Decimal
		var anchored, haveMark bool
		for j, legID := range p.LegOrderIDs {
			leg, err := s.store.GetOrder(ctx, legID)
			if err != nil {
				slog.Warn("leg lookup failed", "position_id", p.ID,
					"order_id", legID, "err", err)
				continue
			}
			if leg.DexAccountID != acct.ID {
				continue
			}
			if liquidated[leg.MarketIndex] && leg.FilledAmount.GreaterThan(decimal.Zero) {
				sank = true
			}
			if j == 0 {
				anchored = true
				if m, ok := marks[leg.MarketIndex]; ok {
					mark = m
					haveMark = true
				}
			}
		}

		if sank {
			p2, changed, err := s.positions.Liquidate(ctx, p.ID)
			if err != nil {
				slog.Warn("position liquidation failed", "position_id", p.ID, "err", err)
				continue
			}
			if changed {
				metrics.PositionsLiquidated.WithLabelValues(string(p2.Kind)).Inc()
				s.events.PositionUpdated(*p2)
			}
			continue
		}

		if !anchored || !haveMark || p.State != model.StateOpen {
			continue
		}
		snap, err := s.snapshots.Record(ctx, p.ID, mark)
		if err != nil {
			if !errors.Is(err, snapshot.ErrPositionNotOpen) {
				slog.Warn("snapshot failed", "position_id", p.ID, "err", err)
			}
			continue
		}
		metrics.SnapshotsRecorded.Inc()
		s.events.SnapshotRecorded(*snap)
	}
}

// retryTransient runs fn, retrying with backoff while the failure is a
// transient venue outage. Permanent errors return immediately.
func (s *Scheduler) retryTransient(ctx context.Context, op, accountID string, fn func() error) error {
	var err error
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := s.cfg.Backoff.Delay(attempt - 1)
			slog.Warn("venue fetch retrying", "op", op, "account_id", accountID,
				"attempt", attempt, "delay", delay, "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		err = fn()
		if err == nil || !errors.Is(err, venue.ErrUnavailable) {
			return err
		}
	}
	return err
}

func (s *Scheduler) fillsSince(accountID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.health[accountID]; ok && !h.LastSuccess.IsZero() {
		// Overlap one interval; shortfall application makes replays safe.
		return h.LastSuccess.Add(-s.cfg.Interval)
	}
	return time.Now().Add(-s.cfg.FillLookback)
}

func (s *Scheduler) recordSuccess(acct model.DexAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.ensureHealthLocked(acct)
	h.ConsecutiveFailures = 0
	h.LastError = ""
	h.LastSuccess = time.Now().UTC()
}

func (s *Scheduler) recordFailure(acct model.DexAccount, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.ensureHealthLocked(acct)
	h.ConsecutiveFailures++
	h.LastError = err.Error()
}

func (s *Scheduler) ensureHealthLocked(acct model.DexAccount) *AccountHealth {
	h, ok := s.health[acct.ID]
	if !ok {
		h = &AccountHealth{AccountID: acct.ID, Venue: acct.Venue}
		s.health[acct.ID] = h
	}
	return h
}

// HealthReport returns per-account reconciliation health, sorted by
// account id. Status derives from the failure streak and the age of the
// last success.
func (s *Scheduler) HealthReport() []AccountHealth {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	out := make([]AccountHealth, 0, len(s.health))
	for _, h := range s.health {
		c := *h
		switch {
		case h.LastSuccess.IsZero() || now.Sub(h.LastSuccess) > s.cfg.StaleAfter:
			c.Status = HealthStale
		case h.ConsecutiveFailures > 0:
			c.Status = HealthDegraded
		default:
			c.Status = HealthHealthy
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}
