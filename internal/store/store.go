// Package store defines the persistence interface for the position engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/deltadesk/position-engine/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when an insert violates a uniqueness rule:
	// account (venue, address), order external id, or transaction
	// (account, signature).
	ErrDuplicate = errors.New("store: duplicate")

	// ErrVersionConflict is returned when an optimistic update carries a
	// version that no longer matches the stored row. Callers re-read and
	// retry.
	ErrVersionConflict = errors.New("store: version conflict")

	// ErrRetryExhausted is returned by read-modify-write helpers after the
	// bounded number of version-conflict retries is used up.
	ErrRetryExhausted = errors.New("store: optimistic retries exhausted")
)

// OrderFilter narrows order listings. Zero values mean "any".
type OrderFilter struct {
	Status model.OrderStatus
	Venue  model.Venue
	From   time.Time
	To     time.Time
}

// PositionFilter narrows position listings. Zero values mean "any".
type PositionFilter struct {
	State model.PositionState
	Kind  model.PositionKind
}

// TransactionFilter narrows transfer history. Zero values mean "any".
type TransactionFilter struct {
	Direction model.TransferDirection
	From      time.Time
	To        time.Time
}

// SnapshotFilter narrows snapshot history. Zero values mean "any".
type SnapshotFilter struct {
	From time.Time
	To   time.Time
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- DexAccount operations ---

	// CreateAccount persists a newly linked venue account.
	CreateAccount(ctx context.Context, a *model.DexAccount) error

	// GetAccount retrieves an account by its ID.
	GetAccount(ctx context.Context, id string) (*model.DexAccount, error)

	// ListAccountsByUser returns all venue accounts linked by one user.
	ListAccountsByUser(ctx context.Context, userID string) ([]model.DexAccount, error)

	// ListAccounts returns every linked account. The reconciliation
	// scheduler iterates this set each tick.
	ListAccounts(ctx context.Context) ([]model.DexAccount, error)

	// --- Order operations ---

	// CreateOrder persists a new order record.
	CreateOrder(ctx context.Context, o *model.Order) error

	// GetOrder retrieves an order by its ID.
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// GetOrderByExternalID retrieves an order by its venue-assigned id
	// within one account.
	GetOrderByExternalID(ctx context.Context, accountID, externalOrderID string) (*model.Order, error)

	// GetOrderByClientID retrieves an order by its client order id within
	// one account.
	GetOrderByClientID(ctx context.Context, accountID, clientOrderID string) (*model.Order, error)

	// UpdateOrder writes an order conditioned on o.Version matching the
	// stored row. On success the stored version increments and o.Version
	// is updated to match; on mismatch ErrVersionConflict is returned.
	UpdateOrder(ctx context.Context, o *model.Order) error

	// ListOrdersByAccount returns an account's orders, newest first.
	ListOrdersByAccount(ctx context.Context, accountID string, f OrderFilter) ([]model.Order, error)

	// --- Position operations ---

	// CreatePosition persists a new position.
	CreatePosition(ctx context.Context, p *model.Position) error

	// GetPosition retrieves a position by its ID.
	GetPosition(ctx context.Context, id string) (*model.Position, error)

	// GetPositionByLegOrder finds the position owning the given order as a
	// leg, if any.
	GetPositionByLegOrder(ctx context.Context, orderID string) (*model.Position, error)

	// UpdatePosition writes a position conditioned on p.Version, with the
	// same semantics as UpdateOrder.
	UpdatePosition(ctx context.Context, p *model.Position) error

	// ListPositionsByUser returns one user's positions, newest first.
	ListPositionsByUser(ctx context.Context, userID string, f PositionFilter) ([]model.Position, error)

	// ListLivePositions returns every position not yet terminal. The
	// scheduler refreshes and snapshots this set.
	ListLivePositions(ctx context.Context) ([]model.Position, error)

	// --- Immutable snapshots ---

	// InsertSnapshot appends an immutable valuation capture.
	InsertSnapshot(ctx context.Context, s *model.PositionSnapshot) error

	// ListSnapshots returns a position's snapshots ordered by capture time.
	ListSnapshots(ctx context.Context, positionID string, f SnapshotFilter) ([]model.PositionSnapshot, error)

	// --- Transactions ---

	// InsertTransaction appends a transfer record. Returns ErrDuplicate if
	// the (account, signature) pair already exists.
	InsertTransaction(ctx context.Context, t *model.Transaction) error

	// GetTransactionBySignature retrieves a transfer by its dedup key.
	GetTransactionBySignature(ctx context.Context, accountID, signature string) (*model.Transaction, error)

	// ListTransactions returns an account's transfers, newest first.
	ListTransactions(ctx context.Context, accountID string, f TransactionFilter) ([]model.Transaction, error)
}
