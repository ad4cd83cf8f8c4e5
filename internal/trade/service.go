package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quickfold/quicktrade/internal/contract"
	"github.com/quickfold/quicktrade/internal/cpmm"
	"github.com/quickfold/quicktrade/internal/metrics"
	"github.com/quickfold/quicktrade/internal/model"
	"github.com/quickfold/quicktrade/internal/preview"
	"github.com/quickfold/quicktrade/internal/store"
)

// Service exposes the quick-trade flow over HTTP: contract snapshots,
// hover previews, quick-trade submission, resting orders, and portfolios.
type Service struct {
	store     store.Store
	est       *preview.Estimator
	submitter *Submitter
	hub       *WSHub // optional
}

// NewService creates the HTTP service.
func NewService(st store.Store, est *preview.Estimator, submitter *Submitter, hub *WSHub) *Service {
	return &Service{
		store:     st,
		est:       est,
		submitter: submitter,
		hub:       hub,
	}
}

// Routes mounts all handlers on a fresh router subtree.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/contracts", s.CreateContract)
	r.Get("/contracts", s.ListContracts)
	r.Get("/contracts/{contractID}", s.GetContract)
	r.Get("/contracts/{contractID}/prob", s.GetProb)
	r.Get("/contracts/{contractID}/preview", s.PreviewTrade)
	r.Get("/contracts/{contractID}/bets", s.GetContractBets)
	r.Get("/contracts/{contractID}/orders", s.GetOrders)

	r.Post("/quick-trade", s.QuickTrade)
	r.Post("/orders", s.CreateOrder)

	r.Get("/users/{userID}/bets", s.GetUserBets)
	r.Get("/portfolio/{userID}", s.GetPortfolio)
	r.Put("/users/{userID}/balance", s.SetBalance)

	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
	return r
}

// --- Request/Response types ---

// CreateContractRequest is the JSON body for contract creation. Pool and p
// default to a balanced 100/100 pool at p=0.5 when omitted.
type CreateContractRequest struct {
	Slug        string          `json:"slug"`
	Question    string          `json:"question"`
	CreatorID   string          `json:"creator_id"`
	OutcomeType string          `json:"outcome_type"`
	Mechanism   string          `json:"mechanism"`
	PoolYes     decimal.Decimal `json:"pool_yes"`
	PoolNo      decimal.Decimal `json:"pool_no"`
	P           decimal.Decimal `json:"p"`
	Answers     []model.Answer  `json:"answers,omitempty"`
	CloseTime   time.Time       `json:"close_time"`
}

// QuickTradeRequest is the JSON body for POST /quick-trade.
type QuickTradeRequest struct {
	UserID     string `json:"user_id"`
	ContractID string `json:"contract_id"`
	Direction  string `json:"direction"` // "UP" or "DOWN"
}

// QuickTradeResponse acknowledges an accepted quick trade. Settlement is
// asynchronous; the toast lifecycle carries the outcome.
type QuickTradeResponse struct {
	ToastID string `json:"toast_id"`
	Message string `json:"message"`
}

// PreviewResponse is the JSON shape of a hover preview.
type PreviewResponse struct {
	Kind        string           `json:"kind"` // "none", "buy", or "sell"
	Probability *decimal.Decimal `json:"probability,omitempty"`
	SellOutcome string           `json:"sell_outcome,omitempty"`
	SharesSold  *decimal.Decimal `json:"shares_sold,omitempty"`
	Proceeds    *decimal.Decimal `json:"proceeds,omitempty"`
	LargeMove   bool             `json:"large_move,omitempty"`
}

// CreateOrderRequest is the JSON body for creating a resting limit order.
type CreateOrderRequest struct {
	UserID     string          `json:"user_id"`
	ContractID string          `json:"contract_id"`
	AnswerID   string          `json:"answer_id,omitempty"`
	Outcome    string          `json:"outcome"`
	LimitProb  decimal.Decimal `json:"limit_prob"`
	Amount     decimal.Decimal `json:"amount"`
}

// PortfolioResponse aggregates a user's positions with current values.
type PortfolioResponse struct {
	UserID        string           `json:"user_id"`
	Balance       decimal.Decimal  `json:"balance"`
	Positions     []model.Position `json:"positions"`
	TotalInvested decimal.Decimal  `json:"total_invested"`
}

// --- HTTP Handlers ---

// CreateContract handles POST /api/v1/contracts
func (s *Service) CreateContract(w http.ResponseWriter, r *http.Request) {
	var req CreateContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		writeError(w, "question is required", http.StatusBadRequest)
		return
	}
	if req.Slug == "" {
		writeError(w, "slug is required", http.StatusBadRequest)
		return
	}

	outcomeType := req.OutcomeType
	if outcomeType == "" {
		outcomeType = model.OutcomeTypeBinary
	}
	mechanism := req.Mechanism
	if mechanism == "" {
		mechanism = model.MechanismCpmm1
	}

	poolYes, poolNo, p := req.PoolYes, req.PoolNo, req.P
	if poolYes.IsZero() && poolNo.IsZero() {
		poolYes = decimal.NewFromInt(100)
		poolNo = decimal.NewFromInt(100)
	}
	if p.IsZero() {
		p = decimal.NewFromFloat(0.5)
	}
	if !poolYes.IsPositive() || !poolNo.IsPositive() {
		writeError(w, "pool shares must be positive", http.StatusBadRequest)
		return
	}

	c := &model.Contract{
		ID:          uuid.New().String(),
		Slug:        req.Slug,
		Question:    req.Question,
		CreatorID:   req.CreatorID,
		OutcomeType: outcomeType,
		Mechanism:   mechanism,
		PoolYes:     poolYes,
		PoolNo:      poolNo,
		P:           p,
		Answers:     req.Answers,
		CloseTime:   req.CloseTime,
		CreatedAt:   time.Now().UTC(),
	}

	if mechanism == model.MechanismCpmm1 {
		state := contract.CpmmState(c)
		if err := state.Validate(); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.Probability = decimal.NewFromFloat(state.Prob())
	}

	if err := s.store.CreateContract(r.Context(), c); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("contract created",
		"id", c.ID,
		"slug", c.Slug,
		"outcome_type", c.OutcomeType,
		"probability", c.Probability.String(),
	)

	writeJSON(w, http.StatusCreated, c)
}

// GetContract handles GET /api/v1/contracts/{contractID}. The path value
// may be a contract id or a slug.
func (s *Service) GetContract(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "contractID")

	c, err := s.store.GetContract(r.Context(), key)
	if err != nil {
		c, err = s.store.GetContractBySlug(r.Context(), key)
	}
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// ListContracts handles GET /api/v1/contracts
func (s *Service) ListContracts(w http.ResponseWriter, r *http.Request) {
	contracts, err := s.store.ListContracts(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if contracts == nil {
		contracts = []model.Contract{}
	}

	writeJSON(w, http.StatusOK, contracts)
}

// GetProb handles GET /api/v1/contracts/{contractID}/prob
func (s *Service) GetProb(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetContract(r.Context(), chi.URLParam(r, "contractID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	prob, err := contract.CurrentProbability(c)
	if err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"probability": prob})
}

// PreviewTrade handles GET /api/v1/contracts/{contractID}/preview.
// Query parameters: direction (UP|DOWN, required), user_id (optional; with
// it the preview reconciles against the user's position).
func (s *Service) PreviewTrade(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetContract(r.Context(), chi.URLParam(r, "contractID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	dir, err := contract.ParseDirection(r.URL.Query().Get("direction"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var pos *model.Position
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		pos, err = s.store.GetPosition(r.Context(), userID, c.ID)
		if err != nil {
			writeError(w, "failed to load position", http.StatusInternalServerError)
			return
		}
	}

	book, err := s.loadBook(r, c.ID)
	if err != nil {
		writeError(w, "failed to load order book", http.StatusInternalServerError)
		return
	}

	res, err := s.est.Preview(c, dir, pos, book)
	if err != nil {
		writeError(w, "preview failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toPreviewResponse(res))
}

func toPreviewResponse(res preview.Result) PreviewResponse {
	switch res.Kind {
	case preview.KindBuy:
		metrics.PreviewsTotal.WithLabelValues("buy").Inc()
		return PreviewResponse{
			Kind:        "buy",
			Probability: &res.Probability,
			LargeMove:   res.LargeMove,
		}
	case preview.KindSell:
		metrics.PreviewsTotal.WithLabelValues("sell").Inc()
		return PreviewResponse{
			Kind:        "sell",
			Probability: &res.Probability,
			SellOutcome: res.SellOutcome,
			SharesSold:  &res.SharesSold,
			Proceeds:    &res.Proceeds,
			LargeMove:   res.LargeMove,
		}
	default:
		metrics.PreviewsTotal.WithLabelValues("none").Inc()
		metrics.PreviewsSuppressed.Inc()
		return PreviewResponse{Kind: "none"}
	}
}

func (s *Service) loadBook(r *http.Request, contractID string) (preview.Book, error) {
	orders, err := s.store.GetUnfilledOrders(r.Context(), contractID)
	if err != nil {
		return preview.Book{}, err
	}
	makerIDs := make([]string, 0, len(orders))
	seen := make(map[string]bool, len(orders))
	for _, o := range orders {
		if !seen[o.UserID] {
			seen[o.UserID] = true
			makerIDs = append(makerIDs, o.UserID)
		}
	}
	balances, err := s.store.GetBalances(r.Context(), makerIDs)
	if err != nil {
		return preview.Book{}, err
	}
	return preview.Book{Orders: orders, Balances: balances}, nil
}

// QuickTrade handles POST /api/v1/quick-trade. Returns 202 Accepted once
// the loading toast is up; settlement is asynchronous.
func (s *Service) QuickTrade(w http.ResponseWriter, r *http.Request) {
	var req QuickTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.ContractID == "" {
		writeError(w, "contract_id is required", http.StatusBadRequest)
		return
	}
	dir, err := contract.ParseDirection(req.Direction)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ticket, err := s.submitter.Submit(r.Context(), Intent{
		UserID:     req.UserID,
		ContractID: req.ContractID,
		Direction:  dir,
	})
	if err != nil {
		status := http.StatusUnprocessableEntity
		switch {
		case errors.Is(err, ErrPending):
			status = http.StatusConflict
		case errors.Is(err, store.ErrNotFound):
			status = http.StatusNotFound
		}
		writeError(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusAccepted, QuickTradeResponse{ToastID: ticket.ToastID})
}

// CreateOrder handles POST /api/v1/orders
func (s *Service) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.ContractID == "" {
		writeError(w, "user_id and contract_id are required", http.StatusBadRequest)
		return
	}
	if req.Outcome != model.OutcomeYes && req.Outcome != model.OutcomeNo {
		writeError(w, "outcome must be YES or NO", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	minProb := decimal.NewFromFloat(cpmm.MinProb)
	maxProb := decimal.NewFromFloat(cpmm.MaxProb)
	if req.LimitProb.LessThan(minProb) || req.LimitProb.GreaterThan(maxProb) {
		writeError(w, "limit_prob must be between 0.01 and 0.99", http.StatusBadRequest)
		return
	}

	if _, err := s.store.GetContract(r.Context(), req.ContractID); err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	order := &model.LimitOrder{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		ContractID:  req.ContractID,
		AnswerID:    req.AnswerID,
		Outcome:     req.Outcome,
		LimitProb:   req.LimitProb,
		OrderAmount: req.Amount,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.InsertLimitOrder(r.Context(), order); err != nil {
		writeError(w, "failed to create order", http.StatusInternalServerError)
		return
	}

	slog.Info("limit order created",
		"order_id", order.ID,
		"user", order.UserID,
		"contract", order.ContractID,
		"outcome", order.Outcome,
		"limit_prob", order.LimitProb.String(),
		"amount", order.OrderAmount.String(),
	)

	writeJSON(w, http.StatusCreated, order)
}

// GetOrders handles GET /api/v1/contracts/{contractID}/orders
func (s *Service) GetOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.GetUnfilledOrders(r.Context(), chi.URLParam(r, "contractID"))
	if err != nil {
		writeError(w, "failed to list orders", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []model.LimitOrder{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetContractBets handles GET /api/v1/contracts/{contractID}/bets
func (s *Service) GetContractBets(w http.ResponseWriter, r *http.Request) {
	bets, err := s.store.GetBetsByContract(r.Context(), chi.URLParam(r, "contractID"))
	if err != nil {
		writeError(w, "failed to list bets", http.StatusInternalServerError)
		return
	}
	if bets == nil {
		bets = []model.Bet{}
	}
	writeJSON(w, http.StatusOK, bets)
}

// GetUserBets handles GET /api/v1/users/{userID}/bets
func (s *Service) GetUserBets(w http.ResponseWriter, r *http.Request) {
	bets, err := s.store.GetBetsByUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "failed to list bets", http.StatusInternalServerError)
		return
	}
	if bets == nil {
		bets = []model.Bet{}
	}
	writeJSON(w, http.StatusOK, bets)
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	positions, err := s.store.GetUserPositions(ctx, userID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	balances, err := s.store.GetBalances(ctx, []string{userID})
	if err != nil {
		writeError(w, "failed to load balance", http.StatusInternalServerError)
		return
	}

	totalInvested := decimal.Zero
	for _, p := range positions {
		totalInvested = totalInvested.Add(p.Invested)
	}

	writeJSON(w, http.StatusOK, PortfolioResponse{
		UserID:        userID,
		Balance:       balances[userID],
		Positions:     positions,
		TotalInvested: totalInvested,
	})
}

// SetBalance handles PUT /api/v1/users/{userID}/balance
func (s *Service) SetBalance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Balance decimal.Decimal `json:"balance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Balance.IsNegative() {
		writeError(w, "balance must be non-negative", http.StatusBadRequest)
		return
	}

	userID := chi.URLParam(r, "userID")
	if err := s.store.SetBalance(r.Context(), userID, req.Balance); err != nil {
		writeError(w, "failed to set balance", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"user_id": userID,
		"balance": req.Balance.String(),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
