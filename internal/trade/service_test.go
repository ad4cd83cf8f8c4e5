package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/quickfold/quicktrade/internal/model"
	"github.com/quickfold/quicktrade/internal/trade"
)

func newTestRouter(t *testing.T) (chi.Router, *env) {
	t.Helper()
	e := newEnv(t, nil)
	svc := trade.NewService(e.store, e.est, e.submitter, nil)
	return svc.Routes(), e
}

func doJSON(t *testing.T, r chi.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestCreateContract(t *testing.T) {
	r, _ := newTestRouter(t)

	rr := doJSON(t, r, http.MethodPost, "/contracts", map[string]interface{}{
		"slug":     "will-it-rain",
		"question": "Will it rain tomorrow?",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var c model.Contract
	decode(t, rr, &c)
	if c.ID == "" {
		t.Error("expected a generated contract id")
	}
	if c.OutcomeType != model.OutcomeTypeBinary || c.Mechanism != model.MechanismCpmm1 {
		t.Errorf("expected binary cpmm defaults, got %s/%s", c.OutcomeType, c.Mechanism)
	}
	if !c.PoolYes.Equal(d(100)) || !c.PoolNo.Equal(d(100)) {
		t.Errorf("expected default 100/100 pool, got %s/%s", c.PoolYes, c.PoolNo)
	}
	if !c.Probability.Equal(d(0.5)) {
		t.Errorf("balanced pool should start at 0.5, got %s", c.Probability)
	}
}

func TestCreateContract_Validation(t *testing.T) {
	r, _ := newTestRouter(t)

	cases := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing question", map[string]interface{}{"slug": "x"}},
		{"missing slug", map[string]interface{}{"question": "x?"}},
		{"negative pool", map[string]interface{}{
			"slug": "x", "question": "x?", "pool_yes": -5, "pool_no": 100,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doJSON(t, r, http.MethodPost, "/contracts", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rr.Code)
			}
		})
	}
}

func TestCreateContract_DuplicateSlug(t *testing.T) {
	r, _ := newTestRouter(t)

	body := map[string]interface{}{"slug": "dup", "question": "Dup?"}
	if rr := doJSON(t, r, http.MethodPost, "/contracts", body); rr.Code != http.StatusCreated {
		t.Fatalf("first create failed: %d", rr.Code)
	}
	if rr := doJSON(t, r, http.MethodPost, "/contracts", body); rr.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate slug, got %d", rr.Code)
	}
}

func TestGetContract_ByIDAndSlug(t *testing.T) {
	r, e := newTestRouter(t)
	c := e.seedContract(t)

	for _, key := range []string{c.ID, c.Slug} {
		rr := doJSON(t, r, http.MethodGet, "/contracts/"+key, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("lookup by %q: expected 200, got %d", key, rr.Code)
		}
		var got model.Contract
		decode(t, rr, &got)
		if got.ID != c.ID {
			t.Errorf("lookup by %q returned contract %s", key, got.ID)
		}
	}

	if rr := doJSON(t, r, http.MethodGet, "/contracts/nope", nil); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown contract, got %d", rr.Code)
	}
}

func TestGetProb(t *testing.T) {
	r, e := newTestRouter(t)
	c := e.seedContract(t)

	rr := doJSON(t, r, http.MethodGet, "/contracts/"+c.ID+"/prob", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got map[string]decimal.Decimal
	decode(t, rr, &got)
	if !got["probability"].Equal(d(0.5)) {
		t.Errorf("expected probability 0.5, got %s", got["probability"])
	}
}

func TestPreviewEndpoint(t *testing.T) {
	r, e := newTestRouter(t)
	c := e.seedContract(t)

	rr := doJSON(t, r, http.MethodGet, "/contracts/"+c.ID+"/preview?direction=UP", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var res trade.PreviewResponse
	decode(t, rr, &res)
	if res.Kind != "buy" {
		t.Fatalf("expected a buy preview, got %q", res.Kind)
	}
	if res.Probability == nil || !res.Probability.GreaterThan(d(0.5)) {
		t.Errorf("UP preview should raise the probability, got %v", res.Probability)
	}

	// With a position of opposite shares the preview flips to a sale.
	e.store.InsertBet(context.Background(), &model.Bet{
		ID: "seed", UserID: "u1", ContractID: c.ID,
		Outcome: model.OutcomeNo, Amount: d(3), Shares: d(5),
		CreatedAt: time.Now().UTC(),
	})
	rr = doJSON(t, r, http.MethodGet, "/contracts/"+c.ID+"/preview?direction=UP&user_id=u1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	decode(t, rr, &res)
	if res.Kind != "sell" {
		t.Fatalf("expected a sell preview for opposite holder, got %q", res.Kind)
	}
	if res.SellOutcome != model.OutcomeNo {
		t.Errorf("expected NO shares sold, got %s", res.SellOutcome)
	}
	if res.SharesSold == nil || !res.SharesSold.Equal(d(5)) {
		t.Errorf("expected all 5 shares in the preview, got %v", res.SharesSold)
	}

	// Bad or missing direction is a client error.
	rr = doJSON(t, r, http.MethodGet, "/contracts/"+c.ID+"/preview?direction=sideways", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad direction, got %d", rr.Code)
	}
}

func TestQuickTradeEndpoint(t *testing.T) {
	r, e := newTestRouter(t)
	c := e.seedContract(t)
	e.store.SetBalance(context.Background(), "u1", d(1000))

	rr := doJSON(t, r, http.MethodPost, "/quick-trade", trade.QuickTradeRequest{
		UserID: "u1", ContractID: c.ID, Direction: "UP",
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var res trade.QuickTradeResponse
	decode(t, rr, &res)
	if res.ToastID == "" {
		t.Error("expected a toast id in the acknowledgement")
	}

	// Await settlement through the store rather than the ticket; the HTTP
	// layer deliberately does not expose it.
	deadline := time.Now().Add(5 * time.Second)
	for {
		bets, _ := e.store.GetBetsByContract(context.Background(), c.ID)
		if len(bets) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("trade did not settle in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestQuickTradeEndpoint_Errors(t *testing.T) {
	r, e := newTestRouter(t)
	c := e.seedContract(t)

	cases := []struct {
		name string
		body trade.QuickTradeRequest
		want int
	}{
		{"missing user", trade.QuickTradeRequest{ContractID: c.ID, Direction: "UP"}, http.StatusBadRequest},
		{"missing contract", trade.QuickTradeRequest{UserID: "u1", Direction: "UP"}, http.StatusBadRequest},
		{"bad direction", trade.QuickTradeRequest{UserID: "u1", ContractID: c.ID, Direction: "NORTH"}, http.StatusBadRequest},
		{"unknown contract", trade.QuickTradeRequest{UserID: "u1", ContractID: "nope", Direction: "UP"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doJSON(t, r, http.MethodPost, "/quick-trade", tc.body)
			if rr.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestCreateOrderEndpoint(t *testing.T) {
	r, e := newTestRouter(t)
	c := e.seedContract(t)

	rr := doJSON(t, r, http.MethodPost, "/orders", trade.CreateOrderRequest{
		UserID: "maker", ContractID: c.ID,
		Outcome: model.OutcomeYes, LimitProb: d(0.55), Amount: d(100),
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var order model.LimitOrder
	decode(t, rr, &order)
	if order.ID == "" || order.IsFilled || order.IsCancelled {
		t.Errorf("unexpected order state %+v", order)
	}

	rr = doJSON(t, r, http.MethodGet, "/contracts/"+c.ID+"/orders", nil)
	var orders []model.LimitOrder
	decode(t, rr, &orders)
	if len(orders) != 1 || orders[0].ID != order.ID {
		t.Errorf("expected the resting order listed, got %+v", orders)
	}

	// The probability bounds themselves are valid resting prices.
	for _, lp := range []float64{0.01, 0.99} {
		rr := doJSON(t, r, http.MethodPost, "/orders", trade.CreateOrderRequest{
			UserID: "maker", ContractID: c.ID,
			Outcome: model.OutcomeYes, LimitProb: d(lp), Amount: d(10),
		})
		if rr.Code != http.StatusCreated {
			t.Errorf("order at %v should be accepted, got %d", lp, rr.Code)
		}
	}
}

func TestCreateOrderEndpoint_Validation(t *testing.T) {
	r, e := newTestRouter(t)
	c := e.seedContract(t)

	cases := []struct {
		name string
		body trade.CreateOrderRequest
		want int
	}{
		{"bad outcome", trade.CreateOrderRequest{
			UserID: "m", ContractID: c.ID, Outcome: "MAYBE", LimitProb: d(0.5), Amount: d(10),
		}, http.StatusBadRequest},
		{"zero amount", trade.CreateOrderRequest{
			UserID: "m", ContractID: c.ID, Outcome: model.OutcomeYes, LimitProb: d(0.5),
		}, http.StatusBadRequest},
		{"limit prob at 1", trade.CreateOrderRequest{
			UserID: "m", ContractID: c.ID, Outcome: model.OutcomeYes, LimitProb: d(1), Amount: d(10),
		}, http.StatusBadRequest},
		{"limit prob above max", trade.CreateOrderRequest{
			UserID: "m", ContractID: c.ID, Outcome: model.OutcomeYes, LimitProb: d(0.995), Amount: d(10),
		}, http.StatusBadRequest},
		{"limit prob below min", trade.CreateOrderRequest{
			UserID: "m", ContractID: c.ID, Outcome: model.OutcomeYes, LimitProb: d(0.005), Amount: d(10),
		}, http.StatusBadRequest},
		{"unknown contract", trade.CreateOrderRequest{
			UserID: "m", ContractID: "nope", Outcome: model.OutcomeYes, LimitProb: d(0.5), Amount: d(10),
		}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doJSON(t, r, http.MethodPost, "/orders", tc.body)
			if rr.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestPortfolioEndpoint(t *testing.T) {
	r, e := newTestRouter(t)
	c := e.seedContract(t)
	ctx := context.Background()
	e.store.SetBalance(ctx, "u1", d(500))
	e.store.InsertBet(ctx, &model.Bet{
		ID: "b1", UserID: "u1", ContractID: c.ID,
		Outcome: model.OutcomeYes, Amount: d(10), Shares: d(19),
		CreatedAt: time.Now().UTC(),
	})

	rr := doJSON(t, r, http.MethodGet, "/portfolio/u1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var res trade.PortfolioResponse
	decode(t, rr, &res)
	if !res.Balance.Equal(d(500)) {
		t.Errorf("expected balance 500, got %s", res.Balance)
	}
	if len(res.Positions) != 1 || !res.Positions[0].YesShares.Equal(d(19)) {
		t.Errorf("expected one position with 19 YES shares, got %+v", res.Positions)
	}
	if !res.TotalInvested.Equal(d(10)) {
		t.Errorf("expected total invested 10, got %s", res.TotalInvested)
	}
}

func TestSetBalanceEndpoint(t *testing.T) {
	r, e := newTestRouter(t)

	rr := doJSON(t, r, http.MethodPut, "/users/u1/balance", map[string]interface{}{
		"balance": 250,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	balances, _ := e.store.GetBalances(context.Background(), []string{"u1"})
	if !balances["u1"].Equal(d(250)) {
		t.Errorf("expected balance 250, got %s", balances["u1"])
	}

	rr = doJSON(t, r, http.MethodPut, "/users/u1/balance", map[string]interface{}{
		"balance": -5,
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative balance, got %d", rr.Code)
	}
}

func TestUserBetsEndpoint(t *testing.T) {
	r, e := newTestRouter(t)
	c := e.seedContract(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		e.store.InsertBet(ctx, &model.Bet{
			ID: fmt.Sprintf("b%d", i), UserID: "u1", ContractID: c.ID,
			Outcome: model.OutcomeYes, Amount: d(10), Shares: d(18),
			CreatedAt: time.Now().UTC(),
		})
	}

	rr := doJSON(t, r, http.MethodGet, "/users/u1/bets", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var bets []model.Bet
	decode(t, rr, &bets)
	if len(bets) != 3 {
		t.Errorf("expected 3 bets, got %d", len(bets))
	}

	rr = doJSON(t, r, http.MethodGet, "/users/nobody/bets", nil)
	var none []model.Bet
	decode(t, rr, &none)
	if len(none) != 0 {
		t.Errorf("expected empty list, got %+v", none)
	}
}
