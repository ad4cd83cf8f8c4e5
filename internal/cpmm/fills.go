package cpmm

import (
	"errors"
	"math"
	"sort"
	"time"
)

// epsilon is the tolerance for share/amount comparisons accumulated over
// fill walks.
const epsilon = 1e-9

func floatEq(a, b float64) bool  { return math.Abs(a-b) < epsilon }
func floatGTE(a, b float64) bool { return a > b-epsilon }
func floatLTE(a, b float64) bool { return a < b+epsilon }

// LimitOrder is a resting order as seen by the fill walker. The caller
// scopes the set to one contract (and answer) and supplies maker balances
// separately.
type LimitOrder struct {
	ID        string
	UserID    string
	Outcome   string // "YES" or "NO"
	LimitProb float64
	Amount    float64 // total order amount
	Filled    float64 // amount already filled
	CreatedAt time.Time
}

// Taker is one fill from the taker's perspective: either against the pool
// (MatchedOrderID empty) or against a resting order.
type Taker struct {
	MatchedOrderID string
	Shares         float64
	Amount         float64
}

// Maker is the resting-order side of a crossed fill.
type Maker struct {
	Order  LimitOrder
	Shares float64
	Amount float64
}

// FillResult is the outcome of walking a market order through the pool and
// the resting order book.
type FillResult struct {
	Takers         []Taker
	Makers         []Maker
	State          State
	Fees           Fees
	OrdersToCancel []string // orders whose makers ran out of balance
}

// TakerShares returns the total shares acquired across all fills.
func (r FillResult) TakerShares() float64 {
	var total float64
	for _, t := range r.Takers {
		total += t.Shares
	}
	return total
}

// TakerAmount returns the total amount spent across all fills.
func (r FillResult) TakerAmount() float64 {
	var total float64
	for _, t := range r.Takers {
		total += t.Amount
	}
	return total
}

type fill struct {
	taker Taker
	maker *Maker // nil when filled from the pool
	state State  // post-fill state for pool fills
	fees  Fees
}

// computeFill produces the next fill for a market order: from the pool up
// to the next crossing order's price, or from that order itself once the
// pool price reaches it.
func computeFill(amount float64, outcome string, limitProb *float64, state State, matched *LimitOrder, makerBalance float64, hasBalance bool, rates FeeRates) (*fill, error) {
	prob := state.Prob()

	if limitProb != nil {
		lp := *limitProb
		reached := false
		if outcome == "YES" {
			matchedLP := 1.0
			if matched != nil {
				matchedLP = matched.LimitProb
			}
			reached = floatGTE(prob, lp) && matchedLP > lp
		} else {
			matchedLP := 0.0
			if matched != nil {
				matchedLP = matched.LimitProb
			}
			reached = floatLTE(prob, lp) && matchedLP < lp
		}
		if reached {
			// Taker's own limit reached; no fill.
			return nil, nil
		}
	}

	poolFill := matched == nil
	if !poolFill {
		if outcome == "YES" {
			poolFill = !floatGTE(prob, matched.LimitProb)
		} else {
			poolFill = !floatLTE(prob, matched.LimitProb)
		}
	}

	if poolFill {
		// Fill from the pool, bounded by the nearest limit price.
		var limit *float64
		if matched == nil {
			limit = limitProb
		} else {
			lp := matched.LimitProb
			if limitProb != nil {
				if outcome == "YES" {
					lp = math.Min(lp, *limitProb)
				} else {
					lp = math.Max(lp, *limitProb)
				}
			}
			limit = &lp
		}

		buyAmount := amount
		if limit != nil {
			buyAmount = math.Min(amount, AmountToProb(state, *limit, outcome))
		}

		shares, newState, fees, err := Purchase(state, buyAmount, outcome, rates)
		if err != nil {
			return nil, err
		}
		return &fill{
			taker: Taker{Shares: shares, Amount: buyAmount},
			state: newState,
			fees:  fees,
		}, nil
	}

	// Fill from the matched order, bounded by its remainder and its
	// maker's balance.
	amountRemaining := matched.Amount - matched.Filled
	amountToFill := amountRemaining
	if hasBalance {
		amountToFill = math.Min(amountRemaining, makerBalance)
	}

	lp := matched.LimitProb
	takerPrice, makerPrice := lp, 1-lp
	if outcome == "NO" {
		takerPrice, makerPrice = 1-lp, lp
	}

	shares := math.Min(amount/takerPrice, amountToFill/makerPrice)

	return &fill{
		taker: Taker{
			MatchedOrderID: matched.ID,
			Shares:         shares,
			Amount:         shares * takerPrice,
		},
		maker: &Maker{
			Order:  *matched,
			Shares: shares,
			Amount: shares * makerPrice,
		},
		state: state,
	}, nil
}

// ComputeFills walks a market order of the given outcome and amount
// through the pool and the opposing resting orders, in price-then-age
// priority, until the amount is exhausted or no further fill is possible.
// It never mutates its inputs; balances are copied before debiting.
func ComputeFills(state State, outcome string, amount float64, limitProb *float64, orders []LimitOrder, balances map[string]float64, rates FeeRates) (FillResult, error) {
	if math.IsNaN(amount) || amount < 0 {
		return FillResult{}, ErrInvalidAmount
	}
	if limitProb != nil && math.IsNaN(*limitProb) {
		return FillResult{}, ErrInvalidAmount
	}
	if err := state.Validate(); err != nil {
		return FillResult{}, err
	}

	// Only orders on the opposing outcome can cross. Sort by most
	// favorable limit price for the taker, then by age.
	sorted := make([]LimitOrder, 0, len(orders))
	for _, o := range orders {
		if o.Outcome != outcome {
			sorted = append(sorted, o)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.LimitProb != b.LimitProb {
			if outcome == "YES" {
				return a.LimitProb < b.LimitProb
			}
			return a.LimitProb > b.LimitProb
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	result := FillResult{State: state}
	remaining := amount

	balance := make(map[string]float64, len(balances))
	for k, v := range balances {
		balance[k] = v
	}

	i := 0
	for {
		var matched *LimitOrder
		makerBalance, hasBalance := 0.0, false
		if i < len(sorted) {
			matched = &sorted[i]
			makerBalance, hasBalance = balance[matched.UserID]
		}

		f, err := computeFill(remaining, outcome, limitProb, result.State, matched, makerBalance, hasBalance, rates)
		if err != nil {
			return FillResult{}, err
		}
		if f == nil {
			break
		}

		if f.maker == nil {
			// Matched against the pool.
			result.State = f.state
			result.Fees = result.Fees.add(f.fees)
			result.Takers = append(result.Takers, f.taker)
		} else {
			// Matched against a resting order.
			i++
			userID := f.maker.Order.UserID
			if floatGTE(f.maker.Amount, 0) && hasBalance {
				balance[userID] = makerBalance - f.maker.Amount
			}
			if b, ok := balance[userID]; ok && floatEq(b, 0) {
				// Maker is out of balance; their order can no
				// longer be honored.
				result.OrdersToCancel = append(result.OrdersToCancel, f.maker.Order.ID)
			}
			if floatEq(f.maker.Amount, 0) {
				continue
			}
			result.Takers = append(result.Takers, f.taker)
			result.Makers = append(result.Makers, *f.maker)
		}

		remaining -= f.taker.Amount
		if floatEq(remaining, 0) {
			break
		}
	}

	return result, nil
}

// SaleResult is the outcome of simulating a share sale.
type SaleResult struct {
	SaleValue      float64 // proceeds to the seller
	BuyAmount      float64 // equivalent opposite-outcome buy amount
	SharesSold     float64
	Makers         []Maker
	State          State
	Fees           Fees
	OrdersToCancel []string
}

// amountToBuyShares searches for the market-order amount that acquires
// exactly the given share count, crossing resting orders along the way.
// Share price is at most 1, so the amount is bounded by the share count.
func amountToBuyShares(state State, shares float64, outcome string, orders []LimitOrder, balances map[string]float64, rates FeeRates) (float64, error) {
	var walkErr error
	amount := bisect(0, shares, func(amount float64) float64 {
		res, err := ComputeFills(state, outcome, amount, nil, orders, balances, rates)
		if err != nil {
			if errors.Is(err, ErrProbBoundExceeded) {
				// This trial amount pushed the price past a bound;
				// steer the search toward smaller amounts.
				return 1
			}
			walkErr = err
			return 0
		}
		return res.TakerShares() - shares
	})
	if walkErr != nil {
		return 0, walkErr
	}
	return amount, nil
}

// Sale simulates selling shares of an outcome by buying the opposite
// outcome until the bought shares cancel the sold ones, consulting the
// resting order book for any crossed orders. Returns the proceeds and the
// post-sale state.
func Sale(state State, shares float64, outcome string, orders []LimitOrder, balances map[string]float64, rates FeeRates) (SaleResult, error) {
	if math.Round(shares) < 0 || math.IsNaN(shares) {
		return SaleResult{}, ErrNonPositiveShares
	}
	if err := state.Validate(); err != nil {
		return SaleResult{}, err
	}

	opposite := "NO"
	if outcome == "NO" {
		opposite = "YES"
	}

	buyAmount, err := amountToBuyShares(state, shares, opposite, orders, balances, rates)
	if err != nil {
		return SaleResult{}, err
	}

	res, err := ComputeFills(state, opposite, buyAmount, nil, orders, balances, rates)
	if err != nil {
		return SaleResult{}, err
	}

	// Bought opposite shares combine with the held shares, redeeming both
	// for currency. The proceeds are the redeemed value minus what the
	// opposite purchase cost.
	var saleValue float64
	for _, t := range res.Takers {
		saleValue += t.Shares - t.Amount
	}

	return SaleResult{
		SaleValue:      saleValue,
		BuyAmount:      buyAmount,
		SharesSold:     res.TakerShares(),
		Makers:         res.Makers,
		State:          res.State,
		Fees:           res.Fees,
		OrdersToCancel: res.OrdersToCancel,
	}, nil
}

// ProbabilityAfterSale returns the YES probability that would result from
// selling shares of an outcome.
func ProbabilityAfterSale(state State, shares float64, outcome string, orders []LimitOrder, balances map[string]float64, rates FeeRates) (float64, error) {
	res, err := Sale(state, shares, outcome, orders, balances, rates)
	if err != nil {
		return 0, err
	}
	return res.State.Prob(), nil
}
