// Package api provides the HTTP handlers for linking venue accounts,
// managing orders and positions, recording transfers, and streaming state
// changes over WebSocket.
//
// All monetary values use shopspring/decimal, never float64 for money.
// Callers are identified by the X-User-Id header set by the fronting
// gateway; resources owned by other users read as absent.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/deltadesk/position-engine/internal/market"
	"github.com/deltadesk/position-engine/internal/metrics"
	"github.com/deltadesk/position-engine/internal/model"
	"github.com/deltadesk/position-engine/internal/order"
	"github.com/deltadesk/position-engine/internal/position"
	"github.com/deltadesk/position-engine/internal/recon"
	"github.com/deltadesk/position-engine/internal/snapshot"
	"github.com/deltadesk/position-engine/internal/store"
	"github.com/deltadesk/position-engine/internal/transfer"
	"github.com/deltadesk/position-engine/internal/venue"
)

// Service bundles the ledgers behind the HTTP surface. Writes go through
// the ledgers, never the store directly, so every invariant check runs on
// the API path too.
type Service struct {
	store     store.Store
	orders    *order.Ledger
	positions *position.Aggregator
	transfers *transfer.Ledger
	snapshots *snapshot.Recorder
	venues    *venue.Registry
	markets   *market.Registry
	sched     *recon.Scheduler
	hub       *Hub
}

// NewService creates the HTTP service.
// Pass nil for hub if WebSocket broadcasting is not needed, and nil for
// sched if reconciliation health is not exposed.
func NewService(st store.Store, orders *order.Ledger, positions *position.Aggregator,
	transfers *transfer.Ledger, snapshots *snapshot.Recorder,
	venues *venue.Registry, markets *market.Registry, sched *recon.Scheduler, hub *Hub) *Service {
	return &Service{
		store:     st,
		orders:    orders,
		positions: positions,
		transfers: transfers,
		snapshots: snapshots,
		venues:    venues,
		markets:   markets,
		sched:     sched,
		hub:       hub,
	}
}

// Routes mounts every versioned endpoint on r. The caller mounts this
// under /api/v1.
func (s *Service) Routes(r chi.Router) {
	// WebSocket endpoint for real-time state updates.
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	// Market reference data.
	r.Get("/markets", s.ListMarkets)

	// Account linking.
	r.Post("/accounts", s.LinkAccount)
	r.Get("/accounts", s.ListAccounts)

	// Order management.
	r.Post("/orders", s.SubmitOrder)
	r.Get("/orders", s.ListOrders)
	r.Get("/orders/{orderID}", s.GetOrder)
	r.Delete("/orders/{orderID}", s.CancelOrder)

	// Position lifecycle.
	r.Post("/positions/single", s.OpenSingle)
	r.Post("/positions/delta-neutral", s.OpenDeltaNeutral)
	r.Get("/positions", s.ListPositions)
	r.Get("/positions/{positionID}", s.GetPosition)
	r.Post("/positions/{positionID}/close", s.ClosePosition)
	r.Get("/positions/{positionID}/snapshots", s.ListSnapshots)

	// Venue passthrough.
	r.Get("/fills", s.ListFills)

	// Transfers.
	r.Post("/transfers/deposit", s.RecordDeposit)
	r.Post("/transfers/withdrawal", s.RecordWithdrawal)
	r.Get("/transfers", s.ListTransfers)
}

// --- Request/Response types ---

// LinkAccountRequest is the JSON body for POST /accounts.
type LinkAccountRequest struct {
	Venue   model.Venue `json:"venue"`
	Address string      `json:"address"`
}

// SubmitOrderRequest is the JSON body for POST /orders.
type SubmitOrderRequest struct {
	DexAccountID     string                 `json:"dex_account_id"`
	MarketIndex      int                    `json:"market_index"`
	Direction        model.Direction        `json:"direction"`
	OrderType        model.OrderType        `json:"order_type"`
	BaseAssetAmount  decimal.Decimal        `json:"base_asset_amount"`
	Price            decimal.Decimal        `json:"price"`
	TriggerPrice     decimal.Decimal        `json:"trigger_price"`
	TriggerCondition model.TriggerCondition `json:"trigger_condition"`
}

// OpenSingleRequest is the JSON body for POST /positions/single.
type OpenSingleRequest struct {
	OrderID string `json:"order_id"`
	Name    string `json:"name"`
}

// OpenPairRequest is the JSON body for POST /positions/delta-neutral.
// The legs must sit on different venues in opposite directions.
type OpenPairRequest struct {
	FirstOrderID  string `json:"first_order_id"`
	SecondOrderID string `json:"second_order_id"`
	Name          string `json:"name"`
}

// TransferRequest is the JSON body for POST /transfers/{deposit,withdrawal}.
type TransferRequest struct {
	DexAccountID        string          `json:"dex_account_id"`
	MarketIndex         int             `json:"market_index"`
	Amount              decimal.Decimal `json:"amount"`
	TokenSymbol         string          `json:"token_symbol"`
	ExternalTxSignature string          `json:"tx_signature"`
	Status              string          `json:"status"`
	OccurredAt          time.Time       `json:"occurred_at"`
}

// PositionDetail is the position plus its live exposure summary.
type PositionDetail struct {
	model.Position
	Exposure *position.Exposure `json:"exposure"`
}

// HealthResponse reports service liveness and per-account reconciliation
// freshness.
type HealthResponse struct {
	Status   string                `json:"status"`
	Service  string                `json:"service"`
	Accounts []recon.AccountHealth `json:"accounts"`
}

// --- HTTP Handlers ---

// ListMarkets handles GET /api/v1/markets
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.markets.All())
}

// LinkAccount handles POST /api/v1/accounts
func (s *Service) LinkAccount(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	var req LinkAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Venue.Valid() {
		writeError(w, "venue must be drift or hyperliquid", http.StatusBadRequest)
		return
	}
	if req.Address == "" {
		writeError(w, "address is required", http.StatusBadRequest)
		return
	}

	acct := &model.DexAccount{
		ID:        uuid.New().String(),
		UserID:    uid,
		Venue:     req.Venue,
		Address:   req.Address,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateAccount(r.Context(), acct); err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	slog.Info("account linked",
		"id", acct.ID,
		"user", uid,
		"venue", acct.Venue,
		"address", acct.Address,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(acct)
}

// ListAccounts handles GET /api/v1/accounts
func (s *Service) ListAccounts(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	accounts, err := s.store.ListAccountsByUser(r.Context(), uid)
	if err != nil {
		writeError(w, "failed to list accounts", http.StatusInternalServerError)
		return
	}
	if accounts == nil {
		accounts = []model.DexAccount{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(accounts)
}

// SubmitOrder handles POST /api/v1/orders
func (s *Service) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if _, err := s.authorizeAccount(ctx, uid, req.DexAccountID); err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	o, err := s.orders.Submit(ctx, order.SubmitRequest{
		DexAccountID:     req.DexAccountID,
		MarketIndex:      req.MarketIndex,
		Direction:        req.Direction,
		OrderType:        req.OrderType,
		BaseAssetAmount:  req.BaseAssetAmount,
		Price:            req.Price,
		TriggerPrice:     req.TriggerPrice,
		TriggerCondition: req.TriggerCondition,
	})
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	metrics.OrdersSubmitted.WithLabelValues(string(o.Venue)).Inc()
	s.publishOrder(*o)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(o)
}

// GetOrder handles GET /api/v1/orders/{orderID}
func (s *Service) GetOrder(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	o, err := s.authorizeOrder(r.Context(), uid, chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, "order not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(o)
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}
// Only pending or open orders can be cancelled.
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	o, err := s.authorizeOrder(ctx, uid, chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, "order not found", http.StatusNotFound)
		return
	}

	cancelled, err := s.orders.Cancel(ctx, o.ID)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}
	s.publishOrder(*cancelled)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cancelled)
}

// ListOrders handles GET /api/v1/orders?account_id=<id>
// Optional filters: status, from, to (RFC3339).
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	accountID := q.Get("account_id")
	if accountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if _, err := s.authorizeAccount(ctx, uid, accountID); err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	f := store.OrderFilter{Status: model.OrderStatus(q.Get("status"))}
	var err error
	if f.From, err = parseTimeParam(q, "from"); err != nil {
		writeError(w, "invalid from timestamp", http.StatusBadRequest)
		return
	}
	if f.To, err = parseTimeParam(q, "to"); err != nil {
		writeError(w, "invalid to timestamp", http.StatusBadRequest)
		return
	}

	orders, err := s.orders.ListByAccount(ctx, accountID, f)
	if err != nil {
		writeError(w, "failed to list orders", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(orders)
}

// OpenSingle handles POST /api/v1/positions/single
func (s *Service) OpenSingle(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	var req OpenSingleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	p, err := s.positions.OpenSingle(r.Context(), uid, req.OrderID, req.Name)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}
	s.publishPosition(*p)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(p)
}

// OpenDeltaNeutral handles POST /api/v1/positions/delta-neutral
func (s *Service) OpenDeltaNeutral(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	var req OpenPairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	p, err := s.positions.OpenDeltaNeutral(r.Context(), uid, req.FirstOrderID, req.SecondOrderID, req.Name)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}
	s.publishPosition(*p)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(p)
}

// ListPositions handles GET /api/v1/positions
// Optional filters: state, kind.
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := store.PositionFilter{
		State: model.PositionState(q.Get("state")),
		Kind:  model.PositionKind(q.Get("kind")),
	}

	positions, err := s.positions.List(r.Context(), uid, f)
	if err != nil {
		writeError(w, "failed to list positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(positions)
}

// GetPosition handles GET /api/v1/positions/{positionID}
// Returns the position together with its current exposure summary.
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	p, err := s.authorizePosition(ctx, uid, chi.URLParam(r, "positionID"))
	if err != nil {
		writeError(w, "position not found", http.StatusNotFound)
		return
	}

	exp, err := s.positions.Exposure(ctx, p.ID)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(PositionDetail{Position: *p, Exposure: exp})
}

// ClosePosition handles POST /api/v1/positions/{positionID}/close
// Closing an already closed position is a no-op.
func (s *Service) ClosePosition(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	p, err := s.authorizePosition(ctx, uid, chi.URLParam(r, "positionID"))
	if err != nil {
		writeError(w, "position not found", http.StatusNotFound)
		return
	}

	closed, err := s.positions.Close(ctx, p.ID)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}
	s.publishPosition(*closed)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(closed)
}

// ListSnapshots handles GET /api/v1/positions/{positionID}/snapshots
// Optional filters: from, to (RFC3339).
func (s *Service) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	p, err := s.authorizePosition(ctx, uid, chi.URLParam(r, "positionID"))
	if err != nil {
		writeError(w, "position not found", http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	var f store.SnapshotFilter
	if f.From, err = parseTimeParam(q, "from"); err != nil {
		writeError(w, "invalid from timestamp", http.StatusBadRequest)
		return
	}
	if f.To, err = parseTimeParam(q, "to"); err != nil {
		writeError(w, "invalid to timestamp", http.StatusBadRequest)
		return
	}

	snaps, err := s.snapshots.History(ctx, p.ID, f)
	if err != nil {
		writeError(w, "failed to list snapshots", http.StatusInternalServerError)
		return
	}
	if snaps == nil {
		snaps = []model.PositionSnapshot{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snaps)
}

// ListFills handles GET /api/v1/fills?account_id=<id>
// Proxies the venue's execution feed on demand; fills are not persisted.
// Optional filter: since (RFC3339).
func (s *Service) ListFills(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	accountID := q.Get("account_id")
	if accountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	acct, err := s.authorizeAccount(ctx, uid, accountID)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	since, err := parseTimeParam(q, "since")
	if err != nil {
		writeError(w, "invalid since timestamp", http.StatusBadRequest)
		return
	}

	client, err := s.venues.For(acct.Venue)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}
	fills, err := client.ListFills(ctx, acct.Address, since)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}
	if fills == nil {
		fills = []model.VenueFill{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(fills)
}

// RecordDeposit handles POST /api/v1/transfers/deposit
func (s *Service) RecordDeposit(w http.ResponseWriter, r *http.Request) {
	s.recordTransfer(w, r, model.TransferDeposit)
}

// RecordWithdrawal handles POST /api/v1/transfers/withdrawal
func (s *Service) RecordWithdrawal(w http.ResponseWriter, r *http.Request) {
	s.recordTransfer(w, r, model.TransferWithdrawal)
}

// recordTransfer records a manual transfer. Replaying a known transaction
// signature returns the stored row with 200 instead of 201.
func (s *Service) recordTransfer(w http.ResponseWriter, r *http.Request, direction model.TransferDirection) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	acct, err := s.authorizeAccount(ctx, uid, req.DexAccountID)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	tx, created, err := s.transfers.Record(ctx, transfer.RecordRequest{
		DexAccountID:        req.DexAccountID,
		Direction:           direction,
		MarketIndex:         req.MarketIndex,
		Amount:              req.Amount,
		TokenSymbol:         req.TokenSymbol,
		ExternalTxSignature: req.ExternalTxSignature,
		Status:              req.Status,
		OccurredAt:          req.OccurredAt,
	})
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	status := http.StatusOK
	if created {
		metrics.TransfersIngested.WithLabelValues(string(acct.Venue)).Inc()
		status = http.StatusCreated
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(tx)
}

// ListTransfers handles GET /api/v1/transfers?account_id=<id>
// Optional filters: direction, from, to (RFC3339).
func (s *Service) ListTransfers(w http.ResponseWriter, r *http.Request) {
	uid, ok := callerID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	accountID := q.Get("account_id")
	if accountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if _, err := s.authorizeAccount(ctx, uid, accountID); err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	f := store.TransactionFilter{Direction: model.TransferDirection(q.Get("direction"))}
	var err error
	if f.From, err = parseTimeParam(q, "from"); err != nil {
		writeError(w, "invalid from timestamp", http.StatusBadRequest)
		return
	}
	if f.To, err = parseTimeParam(q, "to"); err != nil {
		writeError(w, "invalid to timestamp", http.StatusBadRequest)
		return
	}

	txs, err := s.transfers.History(ctx, accountID, f)
	if err != nil {
		writeError(w, "failed to list transfers", http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txs)
}

// Health handles GET /health
// Reports degraded when any account's reconciliation is failing or stale.
func (s *Service) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Service:  "position-engine",
		Accounts: []recon.AccountHealth{},
	}
	if s.sched != nil {
		resp.Accounts = s.sched.HealthReport()
	}
	for _, a := range resp.Accounts {
		if a.Status != recon.HealthHealthy {
			resp.Status = "degraded"
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- Helpers ---

// callerID extracts the authenticated user from the X-User-Id header.
func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid := r.Header.Get("X-User-Id")
	if uid == "" {
		writeError(w, "missing X-User-Id header", http.StatusUnauthorized)
		return "", false
	}
	return uid, true
}

// authorizeAccount loads an account and verifies the caller owns it.
func (s *Service) authorizeAccount(ctx context.Context, uid, accountID string) (*model.DexAccount, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.UserID != uid {
		return nil, store.ErrNotFound
	}
	return acct, nil
}

// authorizeOrder loads an order and verifies the caller owns its account.
func (s *Service) authorizeOrder(ctx context.Context, uid, orderID string) (*model.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	acct, err := s.store.GetAccount(ctx, o.DexAccountID)
	if err != nil {
		return nil, err
	}
	if acct.UserID != uid {
		return nil, store.ErrNotFound
	}
	return o, nil
}

// authorizePosition loads a position and verifies the caller owns it.
func (s *Service) authorizePosition(ctx context.Context, uid, positionID string) (*model.Position, error) {
	p, err := s.positions.Get(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if p.UserID != uid {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (s *Service) publishOrder(o model.Order) {
	if s.hub != nil {
		s.hub.OrderUpdated(o)
	}
}

func (s *Service) publishPosition(p model.Position) {
	if s.hub != nil {
		s.hub.PositionUpdated(p)
	}
}

// parseTimeParam reads an optional RFC3339 query parameter.
func parseTimeParam(q url.Values, key string) (time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

// errStatus maps domain errors onto HTTP statuses.
func errStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, order.ErrInvalidOrder),
		errors.Is(err, position.ErrInvalidPairing),
		errors.Is(err, transfer.ErrInvalidTransfer),
		errors.Is(err, snapshot.ErrInvalidMark):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, position.ErrNotClosable),
		errors.Is(err, snapshot.ErrPositionNotOpen):
		return http.StatusConflict
	case errors.Is(err, store.ErrRetryExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, venue.ErrUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
