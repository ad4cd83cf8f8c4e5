// Package cpmm implements the constant-product market maker used by binary
// and pseudo-numeric markets, including trade simulation against resting
// limit orders.
//
// The maker holds a pool of YES and NO shares weighted by a parameter p,
// maintaining the invariant
//
//	yes^p * no^(1-p) = k
//
// All functions are pure: state is passed in and returned, never stored.
// Inputs and outputs are float64 because probabilities and share counts are
// not money; callers holding decimal amounts convert at this boundary.
package cpmm

import (
	"errors"
	"math"
)

var (
	// ErrDegeneratePool is returned when a pool or p value cannot price
	// trades (empty side, p outside (0,1), NaN).
	ErrDegeneratePool = errors.New("cpmm: degenerate pool state")

	// ErrInvalidAmount is returned for NaN or negative bet amounts.
	ErrInvalidAmount = errors.New("cpmm: invalid bet amount")

	// ErrNonPositiveShares is returned when a sale is requested for a
	// non-positive share count.
	ErrNonPositiveShares = errors.New("cpmm: cannot sell non-positive shares")

	// ErrProbBoundExceeded is returned when a trade would move the
	// marginal price outside [MinProb, MaxProb].
	ErrProbBoundExceeded = errors.New("cpmm: trade crosses probability bounds")
)

// Probability bounds for tradeable markets. Trades may not move the price
// outside them, and limit orders must rest inside them.
const (
	MinProb = 0.01
	MaxProb = 0.99
)

// Pool holds the maker's YES and NO share counts.
type Pool struct {
	Yes float64
	No  float64
}

// State is a full CPMM snapshot: the pool plus the p weighting parameter.
type State struct {
	Pool Pool
	P    float64
}

// Validate checks that the state can price trades.
func (s State) Validate() error {
	if s.Pool.Yes <= 0 || s.Pool.No <= 0 || s.P <= 0 || s.P >= 1 ||
		math.IsNaN(s.Pool.Yes) || math.IsNaN(s.Pool.No) || math.IsNaN(s.P) {
		return ErrDegeneratePool
	}
	return nil
}

// Probability returns the YES probability implied by the pool:
//
//	prob = p*no / ((1-p)*yes + p*no)
func Probability(pool Pool, p float64) float64 {
	return (p * pool.No) / ((1-p)*pool.Yes + p*pool.No)
}

// Prob returns the state's YES probability.
func (s State) Prob() float64 {
	return Probability(s.Pool, s.P)
}

// Liquidity returns the pool's constant-product invariant k.
func Liquidity(pool Pool, p float64) float64 {
	return math.Pow(pool.Yes, p) * math.Pow(pool.No, 1-p)
}

// Shares returns the share count bought for a bet amount, before fees.
// Derived by solving the pool invariant for s:
//
//	YES: (yes + bet - s)^p     * (no + bet)^(1-p) = k
//	NO:  (yes + bet)^p * (no + bet - s)^(1-p)     = k
func Shares(pool Pool, p, bet float64, outcome string) float64 {
	if bet == 0 {
		return 0
	}
	y, n := pool.Yes, pool.No
	k := Liquidity(pool, p)

	if outcome == "YES" {
		return y + bet - math.Pow(k*math.Pow(bet+n, p-1), 1/p)
	}
	return n + bet - math.Pow(k*math.Pow(bet+y, -p), 1/(1-p))
}

// FeeRates is the fee schedule applied to purchases, as fractions of the
// bet amount scaled by the bet's losing-side probability.
type FeeRates struct {
	Liquidity float64
	Platform  float64
	Creator   float64
}

// NoFees is the zero fee schedule used by preview computations.
var NoFees = FeeRates{}

// Fees is the fee amounts charged on one purchase.
type Fees struct {
	Liquidity float64
	Platform  float64
	Creator   float64
}

// Total returns the sum of all fee components.
func (f Fees) Total() float64 {
	return f.Liquidity + f.Platform + f.Creator
}

func (f Fees) add(other Fees) Fees {
	return Fees{
		Liquidity: f.Liquidity + other.Liquidity,
		Platform:  f.Platform + other.Platform,
		Creator:   f.Creator + other.Creator,
	}
}

// computeFees charges fees proportional to the bet times the probability
// of the outcome being bet against, approximated at the post-bet price.
func computeFees(state State, bet float64, outcome string, rates FeeRates) (remaining float64, fees Fees) {
	prob := probabilityAfterBetBeforeFees(state, outcome, bet)
	betP := prob
	if outcome == "YES" {
		betP = 1 - prob
	}
	fees = Fees{
		Liquidity: rates.Liquidity * betP * bet,
		Platform:  rates.Platform * betP * bet,
		Creator:   rates.Creator * betP * bet,
	}
	return bet - fees.Total(), fees
}

func probabilityAfterBetBeforeFees(state State, outcome string, bet float64) float64 {
	shares := Shares(state.Pool, state.P, bet, outcome)
	y, n := state.Pool.Yes, state.Pool.No

	var newY, newN float64
	if outcome == "YES" {
		newY, newN = y-shares+bet, n+bet
	} else {
		newY, newN = y+bet, n-shares+bet
	}
	return Probability(Pool{Yes: newY, No: newN}, state.P)
}

// Purchase simulates buying outcome shares for a bet amount. Returns the
// shares bought, the post-trade state, and the fees charged.
func Purchase(state State, bet float64, outcome string, rates FeeRates) (shares float64, newState State, fees Fees, err error) {
	if err := state.Validate(); err != nil {
		return 0, state, Fees{}, err
	}
	if math.IsNaN(bet) || bet < 0 {
		return 0, state, Fees{}, ErrInvalidAmount
	}

	remaining, fees := computeFees(state, bet, outcome, rates)
	shares = Shares(state.Pool, state.P, remaining, outcome)

	y, n := state.Pool.Yes, state.Pool.No
	fee := fees.Liquidity

	var newY, newN float64
	if outcome == "YES" {
		newY, newN = y-shares+remaining+fee, n+remaining+fee
	} else {
		newY, newN = y+remaining+fee, n-shares+remaining+fee
	}

	// The liquidity fee is folded back into the pool, adjusting p so the
	// probability is unchanged by the subsidy.
	newPool, newP := addLiquidity(Pool{Yes: newY, No: newN}, state.P, fee)

	out := State{Pool: newPool, P: newP}
	if prob := out.Prob(); prob > MaxProb+epsilon || prob < MinProb-epsilon {
		return 0, state, Fees{}, ErrProbBoundExceeded
	}
	return shares, out, fees, nil
}

// OutcomeProbabilityAfterBet returns the probability of the given outcome
// after a hypothetical purchase. For NO this is the complement of the YES
// probability.
func OutcomeProbabilityAfterBet(state State, outcome string, bet float64, rates FeeRates) (float64, error) {
	_, newState, _, err := Purchase(state, bet, outcome, rates)
	if err != nil {
		return 0, err
	}
	p := Probability(newState.Pool, state.P)
	if outcome == "NO" {
		return 1 - p, nil
	}
	return p, nil
}

// AmountToProb returns the bet amount that moves the marginal price to
// prob, in closed form from the pool invariant. Returns +Inf for
// unreachable targets (prob outside (0,1)).
func AmountToProb(state State, prob float64, outcome string) float64 {
	if prob <= 0 || prob >= 1 || math.IsNaN(prob) {
		return math.Inf(1)
	}
	if outcome == "NO" {
		prob = 1 - prob
	}

	y, n, p := state.Pool.Yes, state.Pool.No, state.P
	k := Liquidity(state.Pool, p)

	if outcome == "YES" {
		r := (p * (prob - 1)) / ((p - 1) * prob)
		return math.Pow(r, -p) * (k - n*math.Pow(r, p))
	}
	r := ((1 - p) * (prob - 1)) / (-p * prob)
	return math.Pow(r, p-1) * (k - y*math.Pow(r, 1-p))
}

// addLiquidity folds amount into both pool sides, solving for the p that
// preserves the current probability.
func addLiquidity(pool Pool, p, amount float64) (Pool, float64) {
	if amount == 0 {
		return pool, p
	}
	prob := Probability(pool, p)
	y, n := pool.Yes, pool.No

	newP := (prob * (amount + y)) / (amount - n*(prob-1) + prob*y)
	return Pool{Yes: y + amount, No: n + amount}, newP
}

// bisect finds a zero of f in [lo, hi] assuming f is increasing. The fill
// search functions are monotonic in amount, so plain bisection converges.
func bisect(lo, hi float64, f func(float64) float64) float64 {
	for i := 0; i < 100; i++ {
		mid := (lo + hi) / 2
		if f(mid) < 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}
