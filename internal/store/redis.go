package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/quickfold/quicktrade/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
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

func (s *CachedStore) CreateContract(ctx context.Context, c *model.Contract) error {
	if err := s.primary.CreateContract(ctx, c); err != nil {
		return err
	}
	s.cacheContract(ctx, c)
	return nil
}

func (s *CachedStore) UpdateContractState(ctx context.Context, id string, poolYes, poolNo, p, probability decimal.Decimal) error {
	if err := s.primary.UpdateContractState(ctx, id, poolYes, poolNo, p, probability); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.rdb.Del(ctx, contractKey(id))
	return nil
}

func (s *CachedStore) InsertBet(ctx context.Context, bet *model.Bet) error {
	if err := s.primary.InsertBet(ctx, bet); err != nil {
		return err
	}
	// Invalidate position caches touched by this trade.
	s.rdb.Del(ctx, positionsKey(bet.UserID), positionKey(bet.UserID, bet.ContractID))
	return nil
}

// Order writes pass straight through; the order book is never cached
// because trade matching must not see stale orders.

func (s *CachedStore) InsertLimitOrder(ctx context.Context, o *model.LimitOrder) error {
	return s.primary.InsertLimitOrder(ctx, o)
}

func (s *CachedStore) UpdateOrderFill(ctx context.Context, id string, amountFilled decimal.Decimal, isFilled bool) error {
	return s.primary.UpdateOrderFill(ctx, id, amountFilled, isFilled)
}

func (s *CachedStore) CancelOrders(ctx context.Context, ids []string) error {
	return s.primary.CancelOrders(ctx, ids)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, contractKey(id)).Bytes()
	if err == nil {
		var c model.Contract
		if json.Unmarshal(data, &c) == nil {
			return &c, nil
		}
	}

	// Cache miss: read from primary.
	c, err := s.primary.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheContract(ctx, c)
	return c, nil
}

func (s *CachedStore) GetContractBySlug(ctx context.Context, slug string) (*model.Contract, error) {
	// Try cache via slug→contractID mapping.
	contractID, err := s.rdb.Get(ctx, slugKey(slug)).Result()
	if err == nil {
		return s.GetContract(ctx, contractID)
	}

	// Cache miss.
	c, err := s.primary.GetContractBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	// Cache both the contract and the slug→ID mapping.
	s.cacheContract(ctx, c)
	s.rdb.Set(ctx, slugKey(slug), c.ID, s.ttl)
	return c, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, userID, contractID string) (*model.Position, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, positionKey(userID, contractID)).Bytes()
	if err == nil {
		var pos model.Position
		if json.Unmarshal(data, &pos) == nil {
			return &pos, nil
		}
	}

	// Cache miss.
	pos, err := s.primary.GetPosition(ctx, userID, contractID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(pos); err == nil {
		s.rdb.Set(ctx, positionKey(userID, contractID), data, s.ttl)
	}
	return pos, nil
}

func (s *CachedStore) GetUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	// Cache miss.
	positions, err := s.primary.GetUserPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(userID), data, s.ttl)
	}
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListContracts(ctx context.Context) ([]model.Contract, error) {
	return s.primary.ListContracts(ctx)
}

func (s *CachedStore) GetBetsByContract(ctx context.Context, contractID string) ([]model.Bet, error) {
	return s.primary.GetBetsByContract(ctx, contractID)
}

func (s *CachedStore) GetBetsByUser(ctx context.Context, userID string) ([]model.Bet, error) {
	return s.primary.GetBetsByUser(ctx, userID)
}

// Order books and balances feed directly into trade matching, which must
// never see stale data, so they always hit the primary.
func (s *CachedStore) GetUnfilledOrders(ctx context.Context, contractID string) ([]model.LimitOrder, error) {
	return s.primary.GetUnfilledOrders(ctx, contractID)
}

func (s *CachedStore) GetBalances(ctx context.Context, userIDs []string) (map[string]decimal.Decimal, error) {
	return s.primary.GetBalances(ctx, userIDs)
}

func (s *CachedStore) SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	return s.primary.SetBalance(ctx, userID, balance)
}

func (s *CachedStore) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) error {
	return s.primary.AdjustBalance(ctx, userID, delta)
}

// --- Cache helpers ---

func (s *CachedStore) cacheContract(ctx context.Context, c *model.Contract) {
	if data, err := json.Marshal(c); err == nil {
		s.rdb.Set(ctx, contractKey(c.ID), data, s.ttl)
	}
}

func contractKey(id string) string { return fmt.Sprintf("contract:%s", id) }
func slugKey(slug string) string { return fmt.Sprintf("slug:%s", slug) }
func positionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }

func positionKey(uid, cid string) string {
	return fmt.Sprintf("position:%s:%s", uid, cid)
}
