// Package trade provides the optimistic quick-trade pipeline: an executor
// that settles bets and sales against the order book and pool, a submitter
// that runs the two-stage toast lifecycle, and the HTTP surface.
//
// All monetary values use shopspring/decimal, never float64 for money.
// Pool math crosses into float64 only inside the cpmm package.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quickfold/quicktrade/internal/contract"
	"github.com/quickfold/quicktrade/internal/cpmm"
	"github.com/quickfold/quicktrade/internal/limit"
	"github.com/quickfold/quicktrade/internal/metrics"
	"github.com/quickfold/quicktrade/internal/model"
	"github.com/quickfold/quicktrade/internal/store"
)

var (
	// ErrInsufficientBalance is surfaced verbatim to the user's error
	// toast, so the message matches the client copy.
	ErrInsufficientBalance = errors.New("Insufficient balance")

	// ErrInsufficientShares is returned when a sale exceeds the holding.
	ErrInsufficientShares = errors.New("trade: not enough shares to sell")

	// ErrMarketClosed is returned for trades on closed or resolved
	// markets.
	ErrMarketClosed = errors.New("trade: market is closed")

	// ErrUnsupportedMechanism is returned for markets whose mechanism the
	// executor cannot settle against.
	ErrUnsupportedMechanism = errors.New("trade: unsupported market mechanism")
)

// Executor settles quick trades. Implementations must be safe for
// concurrent use; the submitter dispatches exactly one call per accepted
// intent.
type Executor interface {
	// PlaceBet buys amount of the given outcome at market.
	PlaceBet(ctx context.Context, userID, contractID, outcome string, amount decimal.Decimal) (*model.BetReceipt, error)

	// SellShares sells held shares of the given outcome.
	SellShares(ctx context.Context, userID, contractID, outcome string, shares decimal.Decimal) (*model.SaleReceipt, error)
}

// LocalExecutor settles trades against the store in-process. A mutex
// serializes execution (single-instance); for horizontal scaling, replace
// with distributed locking or database-level optimistic concurrency.
type LocalExecutor struct {
	store store.Store
	guard *limit.Guard
	fees  cpmm.FeeRates
	hub   *WSHub // optional, nil disables broadcasts
	mu    sync.Mutex
}

// NewLocalExecutor creates an executor over the given store. Pass nil for
// hub if WebSocket broadcasting is not needed.
func NewLocalExecutor(st store.Store, guard *limit.Guard, fees cpmm.FeeRates, hub *WSHub) *LocalExecutor {
	return &LocalExecutor{
		store: st,
		guard: guard,
		fees:  fees,
		hub:   hub,
	}
}

// loadBook fetches the contract's unfilled orders and the balances of
// their makers.
func (e *LocalExecutor) loadBook(ctx context.Context, contractID string) ([]cpmm.LimitOrder, map[string]float64, []model.LimitOrder, error) {
	modelOrders, err := e.store.GetUnfilledOrders(ctx, contractID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load orders: %w", err)
	}

	makerIDs := make([]string, 0, len(modelOrders))
	seen := make(map[string]bool, len(modelOrders))
	for _, o := range modelOrders {
		if !seen[o.UserID] {
			seen[o.UserID] = true
			makerIDs = append(makerIDs, o.UserID)
		}
	}

	decBalances, err := e.store.GetBalances(ctx, makerIDs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load maker balances: %w", err)
	}

	orders := make([]cpmm.LimitOrder, 0, len(modelOrders))
	for _, o := range modelOrders {
		orders = append(orders, cpmm.LimitOrder{
			ID:        o.ID,
			UserID:    o.UserID,
			Outcome:   o.Outcome,
			LimitProb: o.LimitProb.InexactFloat64(),
			Amount:    o.OrderAmount.InexactFloat64(),
			Filled:    o.AmountFilled.InexactFloat64(),
			CreatedAt: o.CreatedAt,
		})
	}
	balances := make(map[string]float64, len(decBalances))
	for id, bal := range decBalances {
		balances[id] = bal.InexactFloat64()
	}
	return orders, balances, modelOrders, nil
}

// tradeable rejects trades on resolved, closed, or non-CPMM markets.
func tradeable(c *model.Contract) error {
	if c.IsResolved() {
		return ErrMarketClosed
	}
	if !c.CloseTime.IsZero() && time.Now().After(c.CloseTime) {
		return ErrMarketClosed
	}
	if c.Mechanism != model.MechanismCpmm1 {
		return ErrUnsupportedMechanism
	}
	return nil
}

// PlaceBet executes a market buy of the outcome, walking the pool and any
// crossed resting orders, then persists the resulting fills atomically
// under the trade lock.
func (e *LocalExecutor) PlaceBet(ctx context.Context, userID, contractID, outcome string, amount decimal.Decimal) (*model.BetReceipt, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("trade: amount must be positive, got %s", amount)
	}
	if outcome != model.OutcomeYes && outcome != model.OutcomeNo {
		return nil, fmt.Errorf("trade: invalid outcome %q", outcome)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, fmt.Errorf("trade: market not found: %w", err)
	}
	if err := tradeable(c); err != nil {
		return nil, err
	}

	if err := e.guard.Allow(userID); err != nil {
		metrics.GuardRejections.WithLabelValues("rate_limit").Inc()
		return nil, err
	}

	pos, err := e.store.GetPosition(ctx, userID, contractID)
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}
	if err := e.guard.CheckSpend(pos, amount); err != nil {
		metrics.GuardRejections.WithLabelValues("exposure").Inc()
		return nil, err
	}

	balances, err := e.store.GetBalances(ctx, []string{userID})
	if err != nil {
		return nil, fmt.Errorf("load balance: %w", err)
	}
	if balances[userID].LessThan(amount) {
		return nil, ErrInsufficientBalance
	}

	orders, makerBalances, modelOrders, err := e.loadBook(ctx, contractID)
	if err != nil {
		return nil, err
	}

	state := contract.CpmmState(c)
	probBefore := decimal.NewFromFloat(state.Prob())

	res, err := cpmm.ComputeFills(state, outcome, amount.InexactFloat64(), nil, orders, makerBalances, e.fees)
	if err != nil {
		return nil, err
	}
	probAfter := decimal.NewFromFloat(res.State.Prob())
	shares := decimal.NewFromFloat(res.TakerShares())

	bet := &model.Bet{
		ID:         uuid.New().String(),
		UserID:     userID,
		ContractID: contractID,
		Outcome:    outcome,
		Amount:     amount,
		Shares:     shares,
		ProbBefore: probBefore,
		ProbAfter:  probAfter,
		CreatedAt:  time.Now().UTC(),
	}

	if err := e.settleFills(ctx, c, bet, res.Makers, res.OrdersToCancel, modelOrders, res.State); err != nil {
		return nil, err
	}
	if err := e.store.AdjustBalance(ctx, userID, amount.Neg()); err != nil {
		return nil, fmt.Errorf("debit balance: %w", err)
	}

	slog.Info("bet placed",
		"bet_id", bet.ID,
		"user", userID,
		"contract", contractID,
		"outcome", outcome,
		"amount", amount.String(),
		"shares", shares.String(),
		"prob_after", probAfter.String(),
	)

	e.broadcast(c, "trade_executed", probAfter)

	return &model.BetReceipt{
		BetID:      bet.ID,
		ContractID: contractID,
		Outcome:    outcome,
		Amount:     amount,
		Shares:     shares,
		ProbAfter:  probAfter,
	}, nil
}

// SellShares sells held shares of an outcome by buying the opposite
// outcome until the two cancel, crediting the proceeds.
func (e *LocalExecutor) SellShares(ctx context.Context, userID, contractID, outcome string, shares decimal.Decimal) (*model.SaleReceipt, error) {
	if !shares.IsPositive() {
		return nil, fmt.Errorf("trade: shares must be positive, got %s", shares)
	}
	if outcome != model.OutcomeYes && outcome != model.OutcomeNo {
		return nil, fmt.Errorf("trade: invalid outcome %q", outcome)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, fmt.Errorf("trade: market not found: %w", err)
	}
	if err := tradeable(c); err != nil {
		return nil, err
	}

	if err := e.guard.Allow(userID); err != nil {
		metrics.GuardRejections.WithLabelValues("rate_limit").Inc()
		return nil, err
	}

	pos, err := e.store.GetPosition(ctx, userID, contractID)
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}
	if pos.Shares(outcome).LessThan(shares) {
		return nil, ErrInsufficientShares
	}

	orders, makerBalances, modelOrders, err := e.loadBook(ctx, contractID)
	if err != nil {
		return nil, err
	}

	state := contract.CpmmState(c)
	probBefore := decimal.NewFromFloat(state.Prob())

	sale, err := cpmm.Sale(state, shares.InexactFloat64(), outcome, orders, makerBalances, e.fees)
	if err != nil {
		return nil, err
	}
	probAfter := decimal.NewFromFloat(sale.State.Prob())
	saleValue := decimal.NewFromFloat(sale.SaleValue)

	bet := &model.Bet{
		ID:         uuid.New().String(),
		UserID:     userID,
		ContractID: contractID,
		Outcome:    outcome,
		Amount:     saleValue.Neg(),
		Shares:     shares.Neg(),
		ProbBefore: probBefore,
		ProbAfter:  probAfter,
		IsSale:     true,
		CreatedAt:  time.Now().UTC(),
	}

	if err := e.settleFills(ctx, c, bet, sale.Makers, sale.OrdersToCancel, modelOrders, sale.State); err != nil {
		return nil, err
	}
	if err := e.store.AdjustBalance(ctx, userID, saleValue); err != nil {
		return nil, fmt.Errorf("credit balance: %w", err)
	}

	slog.Info("shares sold",
		"bet_id", bet.ID,
		"user", userID,
		"contract", contractID,
		"outcome", outcome,
		"shares", shares.String(),
		"sale_value", saleValue.String(),
		"prob_after", probAfter.String(),
	)

	e.broadcast(c, "shares_sold", probAfter)

	return &model.SaleReceipt{
		BetID:      bet.ID,
		ContractID: contractID,
		Outcome:    outcome,
		SharesSold: shares,
		SaleValue:  saleValue,
		ProbAfter:  probAfter,
	}, nil
}

// settleFills persists one executed trade: the taker's ledger entry, the
// maker-side order fills and ledger entries, any balance-exhausted order
// cancellations, and the new pool state.
func (e *LocalExecutor) settleFills(ctx context.Context, c *model.Contract, bet *model.Bet, makers []cpmm.Maker, cancel []string, modelOrders []model.LimitOrder, newState cpmm.State) error {
	if err := e.store.InsertBet(ctx, bet); err != nil {
		return fmt.Errorf("record trade: %w", err)
	}

	byID := make(map[string]*model.LimitOrder, len(modelOrders))
	for i := range modelOrders {
		byID[modelOrders[i].ID] = &modelOrders[i]
	}

	for _, m := range makers {
		order, ok := byID[m.Order.ID]
		if !ok {
			continue
		}
		fillAmount := decimal.NewFromFloat(m.Amount)
		filled := order.AmountFilled.Add(fillAmount)
		isFilled := filled.GreaterThanOrEqual(order.OrderAmount)

		if err := e.store.UpdateOrderFill(ctx, order.ID, filled, isFilled); err != nil {
			return fmt.Errorf("update order fill: %w", err)
		}
		if err := e.store.AdjustBalance(ctx, order.UserID, fillAmount.Neg()); err != nil {
			return fmt.Errorf("debit maker: %w", err)
		}

		// The maker's filled slice becomes a ledger entry of its own.
		makerBet := &model.Bet{
			ID:         uuid.New().String(),
			UserID:     order.UserID,
			ContractID: bet.ContractID,
			Outcome:    order.Outcome,
			Amount:     fillAmount,
			Shares:     decimal.NewFromFloat(m.Shares),
			ProbBefore: order.LimitProb,
			ProbAfter:  order.LimitProb,
			CreatedAt:  time.Now().UTC(),
		}
		if err := e.store.InsertBet(ctx, makerBet); err != nil {
			return fmt.Errorf("record maker fill: %w", err)
		}
	}

	if len(cancel) > 0 {
		if err := e.store.CancelOrders(ctx, cancel); err != nil {
			return fmt.Errorf("cancel orders: %w", err)
		}
		metrics.OrdersCancelled.Add(float64(len(cancel)))
	}

	poolYes := decimal.NewFromFloat(newState.Pool.Yes)
	poolNo := decimal.NewFromFloat(newState.Pool.No)
	p := decimal.NewFromFloat(newState.P)
	prob := decimal.NewFromFloat(newState.Prob())
	if err := e.store.UpdateContractState(ctx, c.ID, poolYes, poolNo, p, prob); err != nil {
		return fmt.Errorf("update market state: %w", err)
	}
	return nil
}

func (e *LocalExecutor) broadcast(c *model.Contract, msgType string, prob decimal.Decimal) {
	if e.hub == nil {
		return
	}
	e.hub.Broadcast(WSMessage{
		Type:        msgType,
		ContractID:  c.ID,
		Slug:        c.Slug,
		Probability: prob.String(),
	})
}
