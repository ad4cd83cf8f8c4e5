// Package preview implements the quick-trade preview estimator: a pure
// computation of the probability that would result from a hypothetical
// quick trade, with position reconciliation deciding whether the trade
// previews as a buy or as a sale of an opposite-side holding.
//
// Nothing in this package performs I/O or mutates a snapshot. Recoverable
// failures (unsupported direction/type, degenerate pool math) collapse to
// an empty result; unexpected errors propagate to the caller's error
// boundary instead of being swallowed.
package preview

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/quickfold/quicktrade/internal/contract"
	"github.com/quickfold/quicktrade/internal/cpmm"
	"github.com/quickfold/quicktrade/internal/model"
)

// probScale is the number of decimal places kept on computed probabilities
// and proceeds.
const probScale = 8

// largeMoveThreshold flags previews that would move the probability far
// enough to warrant a warning in the UI.
const largeMoveThreshold = 0.3

// Book is the resting-order context for one contract: the unfilled limit
// orders and the balances of their makers. Both are read-only snapshots
// fetched by the caller.
type Book struct {
	Orders   []model.LimitOrder
	Balances map[string]decimal.Decimal
}

// scoped returns the book restricted to one answer id ("" keeps all).
func (b Book) scoped(answerID string) Book {
	if answerID == "" {
		return b
	}
	scoped := Book{Balances: b.Balances}
	for _, o := range b.Orders {
		if o.AnswerID == answerID {
			scoped.Orders = append(scoped.Orders, o)
		}
	}
	return scoped
}

func (b Book) toCpmm() ([]cpmm.LimitOrder, map[string]float64) {
	orders := make([]cpmm.LimitOrder, 0, len(b.Orders))
	for _, o := range b.Orders {
		if o.IsFilled || o.IsCancelled {
			continue
		}
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
	balances := make(map[string]float64, len(b.Balances))
	for id, bal := range b.Balances {
		balances[id] = bal.InexactFloat64()
	}
	return orders, balances
}

// Kind discriminates the preview result variants.
type Kind int

const (
	// KindNone means no preview is available; the caller falls back to
	// the current, non-hypothetical probability.
	KindNone Kind = iota

	// KindBuy previews a purchase of the mapped outcome.
	KindBuy

	// KindSell previews a sale of an existing opposite-side holding.
	KindSell
)

// Result is the preview outcome. Collapsing the independently-optional
// probability/outcome/shares/proceeds into one discriminated value rules
// out invalid combinations (a sell outcome without proceeds, say).
type Result struct {
	Kind Kind

	// Probability is the YES probability after the hypothetical trade.
	Probability decimal.Decimal

	// Sell fields, set only when Kind == KindSell.
	SellOutcome string
	SharesSold  decimal.Decimal
	Proceeds    decimal.Decimal

	// LargeMove flags a preview that would move the probability by more
	// than the warning threshold.
	LargeMove bool
}

// None is the empty preview.
var None = Result{Kind: KindNone}

// Estimator computes quick-trade previews for a configured bet size. The
// bet size and fee schedule are injected so tests control them.
type Estimator struct {
	betSize decimal.Decimal
	fees    cpmm.FeeRates
}

// NewEstimator creates an estimator with the given fixed quick-bet amount.
func NewEstimator(betSize decimal.Decimal, fees cpmm.FeeRates) *Estimator {
	return &Estimator{betSize: betSize, fees: fees}
}

// BetSize returns the configured quick-bet amount.
func (e *Estimator) BetSize() decimal.Decimal {
	return e.betSize
}

// recoverable reports whether a preview error is one of the documented
// best-effort cases that suppress the preview rather than failing the
// caller.
func recoverable(err error) bool {
	return errors.Is(err, contract.ErrShortAnswer) ||
		errors.Is(err, contract.ErrNumericMarket) ||
		errors.Is(err, contract.ErrUnsupportedType) ||
		errors.Is(err, contract.ErrNoAnswers) ||
		errors.Is(err, cpmm.ErrDegeneratePool) ||
		errors.Is(err, cpmm.ErrProbBoundExceeded)
}

// Preview computes the probability that would result from a quick trade in
// the given direction. When the caller holds shares of the opposite
// outcome, the action previews as a sale of those shares instead of a buy.
//
// The computation is idempotent: identical inputs yield identical results.
func (e *Estimator) Preview(c *model.Contract, dir contract.Direction, pos *model.Position, book Book) (Result, error) {
	res, err := e.preview(c, dir, pos, book)
	if err != nil {
		if recoverable(err) {
			return None, nil
		}
		return None, err
	}
	return res, nil
}

func (e *Estimator) preview(c *model.Contract, dir contract.Direction, pos *model.Position, book Book) (Result, error) {
	outcome, err := contract.QuickOutcome(c, dir)
	if err != nil {
		return None, err
	}

	// Only the constant-product mechanism is simulatable; other
	// mechanisms get no preview.
	if c.Mechanism != model.MechanismCpmm1 || outcome.Kind != contract.OutcomeBinary {
		return None, nil
	}

	state := contract.CpmmState(c)
	if err := state.Validate(); err != nil {
		return None, err
	}
	probBefore := state.Prob()

	book = book.scoped(outcome.AnswerID)

	if pos != nil {
		opposite := model.OutcomeNo
		if dir == contract.Down {
			opposite = model.OutcomeYes
		}
		if pos.HasShares(opposite) {
			return e.previewSale(c, state, probBefore, opposite, pos, book)
		}
	}

	return e.previewBuy(state, probBefore, outcome.Binary, book)
}

// previewBuy simulates buying the fixed amount at current odds, walking any
// resting orders the purchase would cross.
func (e *Estimator) previewBuy(state cpmm.State, probBefore float64, outcome string, book Book) (Result, error) {
	orders, balances := book.toCpmm()
	res, err := cpmm.ComputeFills(state, outcome, e.betSize.InexactFloat64(), nil, orders, balances, e.fees)
	if err != nil {
		return None, err
	}
	probAfter := res.State.Prob()

	return Result{
		Kind:        KindBuy,
		Probability: decimal.NewFromFloat(probAfter).Round(probScale),
		LargeMove:   largeMove(probBefore, probAfter),
	}, nil
}

// previewSale computes the opposite-side sale preview: how many held shares
// a fixed-amount sale would liquidate, bounded by the holding and by what
// the fixed amount could buy back at the current price, and the probability
// after removing that liquidity.
func (e *Estimator) previewSale(c *model.Contract, state cpmm.State, probBefore float64, sellOutcome string, pos *model.Position, book Book) (Result, error) {
	prob, err := contract.CurrentProbability(c)
	if err != nil {
		return None, err
	}

	price := prob
	if sellOutcome == model.OutcomeNo {
		price = decimal.NewFromInt(1).Sub(prob)
	}
	if !price.IsPositive() {
		return None, cpmm.ErrDegeneratePool
	}

	held := pos.Shares(sellOutcome)
	maxShares := e.betSize.Div(price)
	shares := decimal.Min(held, maxShares)

	orders, balances := book.toCpmm()
	sale, err := cpmm.Sale(state, shares.InexactFloat64(), sellOutcome, orders, balances, e.fees)
	if err != nil {
		return None, err
	}
	probAfter := sale.State.Prob()

	return Result{
		Kind:        KindSell,
		Probability: decimal.NewFromFloat(probAfter).Round(probScale),
		SellOutcome: sellOutcome,
		SharesSold:  shares,
		Proceeds:    decimal.NewFromFloat(sale.SaleValue).Round(probScale),
		LargeMove:   largeMove(probBefore, probAfter),
	}, nil
}

func largeMove(before, after float64) bool {
	diff := after - before
	if diff < 0 {
		diff = -diff
	}
	return diff > largeMoveThreshold
}
