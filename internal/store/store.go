// Package store defines the persistence interface for the quicktrade
// service. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/quickfold/quicktrade/internal/model"
)

// ErrNotFound is returned when a contract or order does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Contract operations ---

	// CreateContract persists a new contract snapshot.
	CreateContract(ctx context.Context, c *model.Contract) error

	// GetContract retrieves a contract by its ID.
	GetContract(ctx context.Context, id string) (*model.Contract, error)

	// GetContractBySlug retrieves a contract by its URL slug.
	GetContractBySlug(ctx context.Context, slug string) (*model.Contract, error)

	// ListContracts returns all contracts.
	ListContracts(ctx context.Context) ([]model.Contract, error)

	// UpdateContractState updates the pool and cached probability after a
	// trade.
	UpdateContractState(ctx context.Context, id string, poolYes, poolNo, p, probability decimal.Decimal) error

	// --- Immutable bet ledger ---

	// InsertBet appends an immutable trade record.
	InsertBet(ctx context.Context, bet *model.Bet) error

	// GetBetsByContract returns all bets for a contract.
	GetBetsByContract(ctx context.Context, contractID string) ([]model.Bet, error)

	// GetBetsByUser returns all bets for a user.
	GetBetsByUser(ctx context.Context, userID string) ([]model.Bet, error)

	// --- Derived positions ---

	// GetPosition aggregates the ledger into one user's holdings on one
	// contract. A user with no bets gets a zero position, not an error.
	GetPosition(ctx context.Context, userID, contractID string) (*model.Position, error)

	// GetUserPositions aggregates the ledger into positions per contract.
	GetUserPositions(ctx context.Context, userID string) ([]model.Position, error)

	// --- Resting limit orders ---

	// InsertLimitOrder persists a new resting order.
	InsertLimitOrder(ctx context.Context, o *model.LimitOrder) error

	// GetUnfilledOrders returns resting orders for a contract that are
	// neither filled nor cancelled.
	GetUnfilledOrders(ctx context.Context, contractID string) ([]model.LimitOrder, error)

	// UpdateOrderFill records a partial or complete fill of an order.
	UpdateOrderFill(ctx context.Context, id string, amountFilled decimal.Decimal, isFilled bool) error

	// CancelOrders marks orders as cancelled.
	CancelOrders(ctx context.Context, ids []string) error

	// --- Balances ---

	// GetBalances returns current balances for the given users. Users
	// without an account are absent from the map.
	GetBalances(ctx context.Context, userIDs []string) (map[string]decimal.Decimal, error)

	// SetBalance creates or replaces a user's balance.
	SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error

	// AdjustBalance applies a signed delta to a user's balance.
	AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) error
}
