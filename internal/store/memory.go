package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/deltadesk/position-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence). Version
// semantics match the PostgreSQL implementation so optimistic-retry paths
// behave identically under test.
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]*model.DexAccount
	orders       map[string]*model.Order
	positions    map[string]*model.Position
	snapshots    []model.PositionSnapshot
	transactions []model.Transaction
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*model.DexAccount),
		orders:    make(map[string]*model.Order),
		positions: make(map[string]*model.Position),
	}
}

// clonePosition deep-copies the slice and map fields so callers can never
// mutate stored state through a returned value.
func clonePosition(p *model.Position) *model.Position {
	cp := *p
	cp.LegOrderIDs = append([]string(nil), p.LegOrderIDs...)
	if p.Metadata != nil {
		cp.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		cp.ClosedAt = &t
	}
	return &cp
}

// --- DexAccount operations ---

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.DexAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if existing.Venue == a.Venue && existing.Address == a.Address {
			return fmt.Errorf("create account %s/%s: %w", a.Venue, a.Address, ErrDuplicate)
		}
	}

	// Store a copy to avoid external mutation.
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.DexAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("get account %s: %w", id, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListAccountsByUser(_ context.Context, userID string) ([]model.DexAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.DexAccount
	for _, a := range s.accounts {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	sortAccounts(out)
	return out, nil
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]model.DexAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.DexAccount, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, *a)
	}
	sortAccounts(out)
	return out, nil
}

func sortAccounts(accounts []model.DexAccount) {
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
}

// --- Order operations ---

func (s *MemoryStore) CreateOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("create order %s: %w", o.ID, ErrDuplicate)
	}
	if o.ExternalOrderID != "" {
		for _, existing := range s.orders {
			if existing.DexAccountID == o.DexAccountID && existing.ExternalOrderID == o.ExternalOrderID {
				return fmt.Errorf("create order %s: external id %s: %w", o.ID, o.ExternalOrderID, ErrDuplicate)
			}
		}
	}

	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("get order %s: %w", id, ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) GetOrderByExternalID(_ context.Context, accountID, externalOrderID string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.orders {
		if o.DexAccountID == accountID && o.ExternalOrderID != "" && o.ExternalOrderID == externalOrderID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("get order by external id %s: %w", externalOrderID, ErrNotFound)
}

func (s *MemoryStore) GetOrderByClientID(_ context.Context, accountID, clientOrderID string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.orders {
		if o.DexAccountID == accountID && o.ClientOrderID != "" && o.ClientOrderID == clientOrderID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("get order by client id %s: %w", clientOrderID, ErrNotFound)
}

func (s *MemoryStore) UpdateOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.orders[o.ID]
	if !ok {
		return fmt.Errorf("update order %s: %w", o.ID, ErrNotFound)
	}
	if existing.Version != o.Version {
		return fmt.Errorf("update order %s at version %d: %w", o.ID, o.Version, ErrVersionConflict)
	}

	cp := *o
	cp.Version++
	s.orders[o.ID] = &cp
	o.Version = cp.Version
	return nil
}

func (s *MemoryStore) ListOrdersByAccount(_ context.Context, accountID string, f OrderFilter) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Order
	for _, o := range s.orders {
		if o.DexAccountID != accountID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.Venue != "" && o.Venue != f.Venue {
			continue
		}
		if !f.From.IsZero() && o.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && o.CreatedAt.After(f.To) {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// --- Position operations ---

func (s *MemoryStore) CreatePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; ok {
		return fmt.Errorf("create position %s: %w", p.ID, ErrDuplicate)
	}
	s.positions[p.ID] = clonePosition(p)
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("get position %s: %w", id, ErrNotFound)
	}
	return clonePosition(p), nil
}

func (s *MemoryStore) GetPositionByLegOrder(_ context.Context, orderID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *model.Position
	for _, p := range s.positions {
		for _, leg := range p.LegOrderIDs {
			if leg == orderID {
				if newest == nil || p.CreatedAt.After(newest.CreatedAt) {
					newest = p
				}
			}
		}
	}
	if newest == nil {
		return nil, fmt.Errorf("get position by leg %s: %w", orderID, ErrNotFound)
	}
	return clonePosition(newest), nil
}

func (s *MemoryStore) UpdatePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.positions[p.ID]
	if !ok {
		return fmt.Errorf("update position %s: %w", p.ID, ErrNotFound)
	}
	if existing.Version != p.Version {
		return fmt.Errorf("update position %s at version %d: %w", p.ID, p.Version, ErrVersionConflict)
	}

	cp := clonePosition(p)
	cp.Version++
	s.positions[p.ID] = cp
	p.Version = cp.Version
	return nil
}

func (s *MemoryStore) ListPositionsByUser(_ context.Context, userID string, f PositionFilter) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for _, p := range s.positions {
		if p.UserID != userID {
			continue
		}
		if f.State != "" && p.State != f.State {
			continue
		}
		if f.Kind != "" && p.Kind != f.Kind {
			continue
		}
		out = append(out, *clonePosition(p))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) ListLivePositions(_ context.Context) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for _, p := range s.positions {
		if !p.State.Terminal() {
			out = append(out, *clonePosition(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// --- Immutable snapshots ---

func (s *MemoryStore) InsertSnapshot(_ context.Context, snap *model.PositionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = append(s.snapshots, *snap)
	return nil
}

func (s *MemoryStore) ListSnapshots(_ context.Context, positionID string, f SnapshotFilter) ([]model.PositionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.PositionSnapshot
	for _, sn := range s.snapshots {
		if sn.PositionID != positionID {
			continue
		}
		if !f.From.IsZero() && sn.CapturedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && sn.CapturedAt.After(f.To) {
			continue
		}
		out = append(out, sn)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CapturedAt.Before(out[j].CapturedAt)
	})
	return out, nil
}

// --- Transactions ---

func (s *MemoryStore) InsertTransaction(_ context.Context, t *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.transactions {
		if existing.DexAccountID == t.DexAccountID && existing.ExternalTxSignature == t.ExternalTxSignature {
			return fmt.Errorf("insert transaction %s: %w", t.ExternalTxSignature, ErrDuplicate)
		}
	}
	s.transactions = append(s.transactions, *t)
	return nil
}

func (s *MemoryStore) GetTransactionBySignature(_ context.Context, accountID, signature string) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.transactions {
		if t.DexAccountID == accountID && t.ExternalTxSignature == signature {
			cp := t
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("get transaction %s: %w", signature, ErrNotFound)
}

func (s *MemoryStore) ListTransactions(_ context.Context, accountID string, f TransactionFilter) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Transaction
	for _, t := range s.transactions {
		if t.DexAccountID != accountID {
			continue
		}
		if f.Direction != "" && t.Direction != f.Direction {
			continue
		}
		if !f.From.IsZero() && t.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && t.CreatedAt.After(f.To) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
