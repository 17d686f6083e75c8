package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deltadesk/position-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Orders and positions are
// the hot entities: the reconciliation loop re-reads them every tick.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.DexAccount) error {
	if err := s.primary.CreateAccount(ctx, a); err != nil {
		return err
	}
	s.cacheSet(ctx, accountKey(a.ID), a)
	return nil
}

func (s *CachedStore) CreateOrder(ctx context.Context, o *model.Order) error {
	if err := s.primary.CreateOrder(ctx, o); err != nil {
		return err
	}
	s.cacheSet(ctx, orderKey(o.ID), o)
	return nil
}

func (s *CachedStore) UpdateOrder(ctx context.Context, o *model.Order) error {
	if err := s.primary.UpdateOrder(ctx, o); err != nil {
		return err
	}
	// Invalidate; next read re-populates with the stored row.
	s.rdb.Del(ctx, orderKey(o.ID))
	return nil
}

func (s *CachedStore) CreatePosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.CreatePosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, userPositionsKey(p.UserID))
	s.cacheSet(ctx, positionKey(p.ID), p)
	return nil
}

func (s *CachedStore) UpdatePosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.UpdatePosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(p.ID), userPositionsKey(p.UserID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.DexAccount, error) {
	var a model.DexAccount
	if s.cacheGet(ctx, accountKey(id), &a) {
		return &a, nil
	}

	got, err := s.primary.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, accountKey(id), got)
	return got, nil
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o model.Order
	if s.cacheGet(ctx, orderKey(id), &o) {
		return &o, nil
	}

	got, err := s.primary.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, orderKey(id), got)
	return got, nil
}

func (s *CachedStore) GetOrderByExternalID(ctx context.Context, accountID, externalOrderID string) (*model.Order, error) {
	// Try cache via external-id → order-id mapping.
	orderID, err := s.rdb.Get(ctx, extOrderKey(accountID, externalOrderID)).Result()
	if err == nil {
		return s.GetOrder(ctx, orderID)
	}

	o, err := s.primary.GetOrderByExternalID(ctx, accountID, externalOrderID)
	if err != nil {
		return nil, err
	}

	// Cache both the order and the mapping.
	s.cacheSet(ctx, orderKey(o.ID), o)
	s.rdb.Set(ctx, extOrderKey(accountID, externalOrderID), o.ID, s.ttl)
	return o, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	var p model.Position
	if s.cacheGet(ctx, positionKey(id), &p) {
		return &p, nil
	}

	got, err := s.primary.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, positionKey(id), got)
	return got, nil
}

func (s *CachedStore) ListPositionsByUser(ctx context.Context, userID string, f PositionFilter) ([]model.Position, error) {
	// Only the unfiltered listing is cached; filtered queries pass through.
	if f != (PositionFilter{}) {
		return s.primary.ListPositionsByUser(ctx, userID, f)
	}

	data, err := s.rdb.Get(ctx, userPositionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ListPositionsByUser(ctx, userID, f)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, userPositionsKey(userID), data, s.ttl)
	}
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAccountsByUser(ctx context.Context, userID string) ([]model.DexAccount, error) {
	return s.primary.ListAccountsByUser(ctx, userID)
}

func (s *CachedStore) ListAccounts(ctx context.Context) ([]model.DexAccount, error) {
	return s.primary.ListAccounts(ctx)
}

func (s *CachedStore) GetOrderByClientID(ctx context.Context, accountID, clientOrderID string) (*model.Order, error) {
	return s.primary.GetOrderByClientID(ctx, accountID, clientOrderID)
}

func (s *CachedStore) ListOrdersByAccount(ctx context.Context, accountID string, f OrderFilter) ([]model.Order, error) {
	return s.primary.ListOrdersByAccount(ctx, accountID, f)
}

func (s *CachedStore) GetPositionByLegOrder(ctx context.Context, orderID string) (*model.Position, error) {
	return s.primary.GetPositionByLegOrder(ctx, orderID)
}

func (s *CachedStore) ListLivePositions(ctx context.Context) ([]model.Position, error) {
	return s.primary.ListLivePositions(ctx)
}

func (s *CachedStore) InsertSnapshot(ctx context.Context, snap *model.PositionSnapshot) error {
	return s.primary.InsertSnapshot(ctx, snap)
}

func (s *CachedStore) ListSnapshots(ctx context.Context, positionID string, f SnapshotFilter) ([]model.PositionSnapshot, error) {
	return s.primary.ListSnapshots(ctx, positionID, f)
}

func (s *CachedStore) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	return s.primary.InsertTransaction(ctx, t)
}

func (s *CachedStore) GetTransactionBySignature(ctx context.Context, accountID, signature string) (*model.Transaction, error) {
	return s.primary.GetTransactionBySignature(ctx, accountID, signature)
}

func (s *CachedStore) ListTransactions(ctx context.Context, accountID string, f TransactionFilter) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, accountID, f)
}

// --- Cache helpers ---

func (s *CachedStore) cacheSet(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) cacheGet(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func orderKey(id string) string            { return fmt.Sprintf("order:%s", id) }
func positionKey(id string) string         { return fmt.Sprintf("position:%s", id) }
func accountKey(id string) string          { return fmt.Sprintf("account:%s", id) }
func userPositionsKey(uid string) string   { return fmt.Sprintf("positions:%s", uid) }
func extOrderKey(aid, ext string) string   { return fmt.Sprintf("extorder:%s:%s", aid, ext) }
