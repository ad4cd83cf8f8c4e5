package cpmm

import (
	"errors"
	"math"
	"testing"
)

func balanced() State {
	return State{Pool: Pool{Yes: 100, No: 100}, P: 0.5}
}

// --- Probability tests ---

func TestProbability_BalancedPool(t *testing.T) {
	prob := balanced().Prob()
	if math.Abs(prob-0.5) > 1e-12 {
		t.Errorf("expected 0.5 for balanced pool, got %v", prob)
	}
}

func TestProbability_SkewedPool(t *testing.T) {
	// Fewer YES shares in the pool means more were bought: higher prob.
	state := State{Pool: Pool{Yes: 50, No: 100}, P: 0.5}
	if prob := state.Prob(); prob <= 0.5 {
		t.Errorf("expected prob > 0.5 for YES-depleted pool, got %v", prob)
	}

	state = State{Pool: Pool{Yes: 100, No: 50}, P: 0.5}
	if prob := state.Prob(); prob >= 0.5 {
		t.Errorf("expected prob < 0.5 for NO-depleted pool, got %v", prob)
	}
}

func TestProbability_WeightedP(t *testing.T) {
	state := State{Pool: Pool{Yes: 100, No: 100}, P: 0.7}
	if prob := state.Prob(); math.Abs(prob-0.7) > 1e-12 {
		t.Errorf("expected prob = p for equal pools, got %v", prob)
	}
}

func TestValidate_DegenerateStates(t *testing.T) {
	bad := []State{
		{Pool: Pool{Yes: 0, No: 100}, P: 0.5},
		{Pool: Pool{Yes: 100, No: -1}, P: 0.5},
		{Pool: Pool{Yes: 100, No: 100}, P: 0},
		{Pool: Pool{Yes: 100, No: 100}, P: 1},
		{Pool: Pool{Yes: math.NaN(), No: 100}, P: 0.5},
	}
	for i, s := range bad {
		if err := s.Validate(); err != ErrDegeneratePool {
			t.Errorf("case %d: expected ErrDegeneratePool, got %v", i, err)
		}
	}
}

// --- Purchase tests ---

func TestPurchase_SharesExceedBet(t *testing.T) {
	shares, _, _, err := Purchase(balanced(), 10, "YES", NoFees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A YES buy at prob 0.5 pays roughly 0.5 per share.
	if shares <= 10 {
		t.Errorf("expected more shares than amount spent at even odds, got %v", shares)
	}
	if shares >= 20 {
		t.Errorf("shares bought should be bounded by bet/prob, got %v", shares)
	}
}

func TestPurchase_MovesProbabilityToward(t *testing.T) {
	state := balanced()

	_, after, _, err := Purchase(state, 10, "YES", NoFees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after.Prob() <= state.Prob() {
		t.Errorf("YES buy should raise prob: before=%v after=%v", state.Prob(), after.Prob())
	}

	_, after, _, err = Purchase(state, 10, "NO", NoFees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after.Prob() >= state.Prob() {
		t.Errorf("NO buy should lower prob: before=%v after=%v", state.Prob(), after.Prob())
	}
}

func TestPurchase_PreservesInvariant(t *testing.T) {
	state := balanced()
	k := Liquidity(state.Pool, state.P)

	_, after, _, err := Purchase(state, 25, "YES", NoFees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	k2 := Liquidity(after.Pool, after.P)
	if math.Abs(k-k2) > 1e-6 {
		t.Errorf("invariant drifted: k=%v k'=%v", k, k2)
	}
}

func TestPurchase_ZeroBet(t *testing.T) {
	shares, after, fees, err := Purchase(balanced(), 0, "YES", NoFees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shares != 0 {
		t.Errorf("expected zero shares, got %v", shares)
	}
	if fees.Total() != 0 {
		t.Errorf("expected zero fees, got %v", fees.Total())
	}
	if after.Prob() != balanced().Prob() {
		t.Errorf("zero bet should not move prob")
	}
}

func TestPurchase_InvalidAmount(t *testing.T) {
	if _, _, _, err := Purchase(balanced(), -5, "YES", NoFees); err != ErrInvalidAmount {
		t.Errorf("expected ErrInvalidAmount for negative bet, got %v", err)
	}
	if _, _, _, err := Purchase(balanced(), math.NaN(), "YES", NoFees); err != ErrInvalidAmount {
		t.Errorf("expected ErrInvalidAmount for NaN bet, got %v", err)
	}
}

func TestPurchase_DegeneratePool(t *testing.T) {
	state := State{Pool: Pool{Yes: 0, No: 100}, P: 0.5}
	if _, _, _, err := Purchase(state, 10, "YES", NoFees); err != ErrDegeneratePool {
		t.Errorf("expected ErrDegeneratePool, got %v", err)
	}
}

func TestPurchase_FeesReduceShares(t *testing.T) {
	rates := FeeRates{Liquidity: 0.02, Platform: 0.01, Creator: 0.01}

	noFeeShares, _, _, _ := Purchase(balanced(), 10, "YES", NoFees)
	feeShares, _, fees, err := Purchase(balanced(), 10, "YES", rates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fees.Total() <= 0 {
		t.Error("expected positive fees")
	}
	if feeShares >= noFeeShares {
		t.Errorf("fees should reduce shares bought: %v >= %v", feeShares, noFeeShares)
	}
}

// --- AmountToProb tests ---

func TestAmountToProb_RoundTrip(t *testing.T) {
	state := balanced()
	target := 0.6

	amount := AmountToProb(state, target, "YES")
	if amount <= 0 || math.IsInf(amount, 0) {
		t.Fatalf("expected finite positive amount, got %v", amount)
	}

	_, after, _, err := Purchase(state, amount, "YES", NoFees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(after.Prob()-target) > 1e-9 {
		t.Errorf("expected prob %v after spending %v, got %v", target, amount, after.Prob())
	}
}

func TestAmountToProb_NoOutcome(t *testing.T) {
	state := balanced()
	// Moving YES prob down to 0.4 via a NO buy.
	amount := AmountToProb(state, 0.4, "NO")
	if amount <= 0 || math.IsInf(amount, 0) {
		t.Fatalf("expected finite positive amount, got %v", amount)
	}

	_, after, _, err := Purchase(state, amount, "NO", NoFees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(after.Prob()-0.4) > 1e-9 {
		t.Errorf("expected prob 0.4, got %v", after.Prob())
	}
}

func TestAmountToProb_UnreachableTarget(t *testing.T) {
	if v := AmountToProb(balanced(), 0, "YES"); !math.IsInf(v, 1) {
		t.Errorf("expected +Inf for prob 0, got %v", v)
	}
	if v := AmountToProb(balanced(), 1, "YES"); !math.IsInf(v, 1) {
		t.Errorf("expected +Inf for prob 1, got %v", v)
	}
}

// --- addLiquidity tests ---

func TestAddLiquidity_PreservesProbability(t *testing.T) {
	state := State{Pool: Pool{Yes: 80, No: 120}, P: 0.55}
	before := state.Prob()

	pool, p := addLiquidity(state.Pool, state.P, 10)
	after := Probability(pool, p)
	if math.Abs(before-after) > 1e-12 {
		t.Errorf("liquidity subsidy moved prob: %v -> %v", before, after)
	}
	if pool.Yes != 90 || pool.No != 130 {
		t.Errorf("expected both sides grown by amount, got %+v", pool)
	}
}

// --- probability bound tests ---

func TestPurchase_RejectsTradesPastBounds(t *testing.T) {
	if _, _, _, err := Purchase(balanced(), 100000, "YES", NoFees); !errors.Is(err, ErrProbBoundExceeded) {
		t.Errorf("huge YES buy should cross MaxProb, got %v", err)
	}
	if _, _, _, err := Purchase(balanced(), 100000, "NO", NoFees); !errors.Is(err, ErrProbBoundExceeded) {
		t.Errorf("huge NO buy should cross MinProb, got %v", err)
	}
}

func TestPurchase_AllowsTradesInsideBounds(t *testing.T) {
	// The exact amount that lands on 0.9 stays well inside MaxProb.
	amount := AmountToProb(balanced(), 0.9, "YES")
	_, after, _, err := Purchase(balanced(), amount, "YES", NoFees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(after.Prob()-0.9) > 1e-9 {
		t.Errorf("expected prob 0.9, got %v", after.Prob())
	}
}

func TestSale_SettlesNearLowerBound(t *testing.T) {
	// Selling YES pushes the price toward MinProb; a sale that lands
	// inside the bounds must still settle.
	state := State{Pool: Pool{Yes: 1000, No: 20.4}, P: 0.5}
	res, err := Sale(state, 50, "YES", nil, nil, NoFees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State.Prob() < MinProb {
		t.Errorf("sale settled past MinProb: %v", res.State.Prob())
	}
	if res.SaleValue <= 0 {
		t.Errorf("expected positive proceeds, got %v", res.SaleValue)
	}
}
