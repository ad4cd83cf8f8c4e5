package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/quickfold/quicktrade/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	contracts map[string]*model.Contract
	bets      []model.Bet
	orders    map[string]*model.LimitOrder
	balances  map[string]decimal.Decimal
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contracts: make(map[string]*model.Contract),
		orders:    make(map[string]*model.LimitOrder),
		balances:  make(map[string]decimal.Decimal),
	}
}

func (s *MemoryStore) CreateContract(_ context.Context, c *model.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.contracts {
		if existing.Slug == c.Slug {
			return fmt.Errorf("contract with slug %s already exists", c.Slug)
		}
	}

	// Store a copy to avoid external mutation.
	cp := *c
	s.contracts[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetContract(_ context.Context, id string) (*model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contracts[id]
	if !ok {
		return nil, fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetContractBySlug(_ context.Context, slug string) (*model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.contracts {
		if c.Slug == slug {
			cp := *c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("contract with slug %s: %w", slug, ErrNotFound)
}

func (s *MemoryStore) ListContracts(_ context.Context) ([]model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contracts := make([]model.Contract, 0, len(s.contracts))
	for _, c := range s.contracts {
		contracts = append(contracts, *c)
	}
	return contracts, nil
}

func (s *MemoryStore) UpdateContractState(_ context.Context, id string, poolYes, poolNo, p, probability decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contracts[id]
	if !ok {
		return fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	c.PoolYes = poolYes
	c.PoolNo = poolNo
	c.P = p
	c.Probability = probability
	return nil
}

func (s *MemoryStore) InsertBet(_ context.Context, bet *model.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bets = append(s.bets, *bet)
	return nil
}

func (s *MemoryStore) GetBetsByContract(_ context.Context, contractID string) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bet
	for _, b := range s.bets {
		if b.ContractID == contractID {
			result = append(result, b)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetBetsByUser(_ context.Context, userID string) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bet
	for _, b := range s.bets {
		if b.UserID == userID {
			result = append(result, b)
		}
	}
	return result, nil
}

// GetPosition aggregates ledger entries into one user's holdings on one
// contract. Sales carry negative shares, so plain summation yields the
// net holding.
func (s *MemoryStore) GetPosition(_ context.Context, userID, contractID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos := &model.Position{UserID: userID, ContractID: contractID}
	for _, b := range s.bets {
		if b.UserID != userID || b.ContractID != contractID {
			continue
		}
		switch b.Outcome {
		case model.OutcomeYes:
			pos.YesShares = pos.YesShares.Add(b.Shares)
		case model.OutcomeNo:
			pos.NoShares = pos.NoShares.Add(b.Shares)
		}
		pos.Invested = pos.Invested.Add(b.Amount)
	}
	return pos, nil
}

func (s *MemoryStore) GetUserPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := make(map[string]*model.Position)
	for _, b := range s.bets {
		if b.UserID != userID {
			continue
		}
		pos, ok := agg[b.ContractID]
		if !ok {
			pos = &model.Position{UserID: userID, ContractID: b.ContractID}
			agg[b.ContractID] = pos
		}
		switch b.Outcome {
		case model.OutcomeYes:
			pos.YesShares = pos.YesShares.Add(b.Shares)
		case model.OutcomeNo:
			pos.NoShares = pos.NoShares.Add(b.Shares)
		}
		pos.Invested = pos.Invested.Add(b.Amount)
	}

	positions := make([]model.Position, 0, len(agg))
	for _, pos := range agg {
		positions = append(positions, *pos)
	}
	return positions, nil
}

func (s *MemoryStore) InsertLimitOrder(_ context.Context, o *model.LimitOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUnfilledOrders(_ context.Context, contractID string) ([]model.LimitOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LimitOrder
	for _, o := range s.orders {
		if o.ContractID == contractID && !o.IsFilled && !o.IsCancelled {
			result = append(result, *o)
		}
	}
	return result, nil
}

func (s *MemoryStore) UpdateOrderFill(_ context.Context, id string, amountFilled decimal.Decimal, isFilled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	o.AmountFilled = amountFilled
	o.IsFilled = isFilled
	return nil
}

func (s *MemoryStore) CancelOrders(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if o, ok := s.orders[id]; ok {
			o.IsCancelled = true
		}
	}
	return nil
}

func (s *MemoryStore) GetBalances(_ context.Context, userIDs []string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balances := make(map[string]decimal.Decimal, len(userIDs))
	for _, id := range userIDs {
		if bal, ok := s.balances[id]; ok {
			balances[id] = bal
		}
	}
	return balances, nil
}

func (s *MemoryStore) SetBalance(_ context.Context, userID string, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.balances[userID] = balance
	return nil
}

func (s *MemoryStore) AdjustBalance(_ context.Context, userID string, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.balances[userID] = s.balances[userID].Add(delta)
	return nil
}
