package cpmm

import (
	"math"
	"testing"
	"time"
)

func orderAt(id, userID, outcome string, limitProb, amount float64, age time.Duration) LimitOrder {
	return LimitOrder{
		ID:        id,
		UserID:    userID,
		Outcome:   outcome,
		LimitProb: limitProb,
		Amount:    amount,
		CreatedAt: time.Now().Add(-age),
	}
}

// --- ComputeFills tests ---

func TestComputeFills_EmptyBook(t *testing.T) {
	state := balanced()
	res, err := ComputeFills(state, "YES", 10, nil, nil, nil, NoFees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// With no orders the walk reduces to one pool purchase.
	shares, after, _, _ := Purchase(state, 10, "YES", NoFees)
	if math.Abs(res.TakerShares()-shares) > 1e-9 {
		t.Errorf("expected %v shares, got %v", shares, res.TakerShares())
	}
	if math.Abs(res.State.Prob()-after.Prob()) > 1e-9 {
		t.Errorf("expected prob %v, got %v", after.Prob(), res.State.Prob())
	}
	if len(res.Makers) != 0 {
		t.Errorf("expected no maker fills, got %d", len(res.Makers))
	}
	if math.Abs(res.TakerAmount()-10) > 1e-9 {
		t.Errorf("market order should spend the full amount, got %v", res.TakerAmount())
	}
}

func TestComputeFills_CrossesRestingOrder(t *testing.T) {
	state := balanced()

	// A NO order resting at 0.55 opposes a YES taker once the pool price
	// climbs to 0.55.
	orders := []LimitOrder{orderAt("o1", "maker", "NO", 0.55, 100, time.Minute)}
	balances := map[string]float64{"maker": 1000}

	res, err := ComputeFills(state, "YES", 50, nil, orders, balances, NoFees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Makers) == 0 {
		t.Fatal("expected the resting order to be crossed")
	}
	if res.Makers[0].Order.ID != "o1" {
		t.Errorf("expected fill against o1, got %s", res.Makers[0].Order.ID)
	}

	// Order fills at a fixed price do not move the pool, so the final
	// probability is no higher than an unassisted pool buy's.
	unassisted, _ := ComputeFills(state, "YES", 50, nil, nil, nil, NoFees)
	if res.State.Prob() > unassisted.State.Prob()+1e-9 {
		t.Errorf("crossed order should absorb price impact: %v > %v",
			res.State.Prob(), unassisted.State.Prob())
	}
}

func TestComputeFills_OrderPriceBoundsPool(t *testing.T) {
	state := balanced()
	orders := []LimitOrder{orderAt("o1", "maker", "NO", 0.55, 1e6, time.Minute)}
	balances := map[string]float64{"maker": 1e9}

	res, err := ComputeFills(state, "YES", 200, nil, orders, balances, NoFees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A deep enough order pins the price at its limit.
	if res.State.Prob() > 0.55+1e-6 {
		t.Errorf("pool price should stop at the resting limit, got %v", res.State.Prob())
	}
}

func TestComputeFills_ZeroBalanceMakerCancelled(t *testing.T) {
	state := balanced()
	orders := []LimitOrder{orderAt("o1", "broke", "NO", 0.55, 100, time.Minute)}
	balances := map[string]float64{"broke": 0}

	res, err := ComputeFills(state, "YES", 50, nil, orders, balances, NoFees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false
	for _, id := range res.OrdersToCancel {
		if id == "o1" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected o1 in OrdersToCancel, got %v", res.OrdersToCancel)
	}
	for _, m := range res.Makers {
		if m.Order.ID == "o1" && m.Amount > 0 {
			t.Error("zero-balance maker should not be filled")
		}
	}
}

func TestComputeFills_SortsByPriceThenAge(t *testing.T) {
	state := balanced()

	// o2 offers the better price for a YES taker (lower NO limit crossed
	// first); o3 ties o1 on price but is older.
	orders := []LimitOrder{
		orderAt("o1", "m1", "NO", 0.60, 20, time.Minute),
		orderAt("o2", "m2", "NO", 0.55, 20, time.Minute),
		orderAt("o3", "m3", "NO", 0.60, 20, time.Hour),
	}
	balances := map[string]float64{"m1": 1000, "m2": 1000, "m3": 1000}

	res, err := ComputeFills(state, "YES", 120, nil, orders, balances, NoFees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Makers) < 3 {
		t.Fatalf("expected all three orders crossed, got %d", len(res.Makers))
	}
	if res.Makers[0].Order.ID != "o2" {
		t.Errorf("best-priced order should fill first, got %s", res.Makers[0].Order.ID)
	}
	if res.Makers[1].Order.ID != "o3" {
		t.Errorf("older order should win the price tie, got %s", res.Makers[1].Order.ID)
	}
}

func TestComputeFills_TakerLimitStopsWalk(t *testing.T) {
	state := balanced()
	limit := 0.55

	res, err := ComputeFills(state, "YES", 1e6, &limit, nil, nil, NoFees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State.Prob() > limit+1e-6 {
		t.Errorf("taker limit should cap the walk at %v, got %v", limit, res.State.Prob())
	}
	if res.TakerAmount() >= 1e6 {
		t.Error("limited order should leave unspent amount")
	}
}

// --- Sale tests ---

func TestSale_ProceedsBelowShareValue(t *testing.T) {
	state := balanced()
	res, err := Sale(state, 10, "YES", nil, nil, NoFees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SaleValue <= 0 {
		t.Errorf("expected positive proceeds, got %v", res.SaleValue)
	}
	// Selling pushes the price down, so proceeds land below the pre-sale
	// marginal value of the shares.
	if res.SaleValue >= 10*state.Prob() {
		t.Errorf("proceeds %v should be below marginal value %v", res.SaleValue, 10*state.Prob())
	}
}

func TestSale_MovesProbabilityDown(t *testing.T) {
	state := balanced()

	res, err := Sale(state, 10, "YES", nil, nil, NoFees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State.Prob() >= state.Prob() {
		t.Errorf("selling YES should lower prob: %v -> %v", state.Prob(), res.State.Prob())
	}

	res, err = Sale(state, 10, "NO", nil, nil, NoFees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State.Prob() <= state.Prob() {
		t.Errorf("selling NO should raise prob: %v -> %v", state.Prob(), res.State.Prob())
	}
}

func TestSale_BuyThenSellRoundTrip(t *testing.T) {
	state := balanced()

	shares, mid, _, err := Purchase(state, 10, "YES", NoFees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := Sale(mid, shares, "YES", nil, nil, NoFees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Without fees a buy immediately unwound restores the pool.
	if math.Abs(res.State.Prob()-state.Prob()) > 1e-6 {
		t.Errorf("round trip should restore prob: %v vs %v", state.Prob(), res.State.Prob())
	}
	if math.Abs(res.SaleValue-10) > 1e-6 {
		t.Errorf("round trip proceeds should match the bet: %v", res.SaleValue)
	}
}

func TestSale_ZeroShares(t *testing.T) {
	res, err := Sale(balanced(), 0, "YES", nil, nil, NoFees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SaleValue != 0 {
		t.Errorf("expected zero proceeds, got %v", res.SaleValue)
	}
}

func TestSale_NaNShares(t *testing.T) {
	if _, err := Sale(balanced(), math.NaN(), "YES", nil, nil, NoFees); err != ErrNonPositiveShares {
		t.Errorf("expected ErrNonPositiveShares, got %v", err)
	}
}
