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

	"github.com/quickfold/quicktrade/internal/analytics"
	"github.com/quickfold/quicktrade/internal/contract"
	"github.com/quickfold/quicktrade/internal/metrics"
	"github.com/quickfold/quicktrade/internal/model"
	"github.com/quickfold/quicktrade/internal/preview"
	"github.com/quickfold/quicktrade/internal/store"
)

// ErrPending is returned when a user already has an unsettled quick trade
// on the same contract. Exactly one trade per (user, contract) may be in
// flight; the UI disables the buttons but the server enforces it too.
var ErrPending = errors.New("trade: quick trade already pending")

// ErrAnswerBetsUnsupported is returned when an intent maps to a specific
// free-response answer; settlement only covers binary YES/NO markets.
var ErrAnswerBetsUnsupported = errors.New("trade: quick trading answers is not supported")

// Notifier receives the toast lifecycle of a quick trade. The loading
// notification fires synchronously at submit time; exactly one of Success
// or Error follows when the trade settles.
type Notifier interface {
	Loading(toastID, message string)
	Success(toastID, message string)
	Error(toastID, message string)
}

// SlogNotifier logs the toast lifecycle.
type SlogNotifier struct{}

func (SlogNotifier) Loading(toastID, message string) {
	slog.Info("toast loading", "toast_id", toastID, "message", message)
}

func (SlogNotifier) Success(toastID, message string) {
	slog.Info("toast success", "toast_id", toastID, "message", message)
}

func (SlogNotifier) Error(toastID, message string) {
	slog.Warn("toast error", "toast_id", toastID, "message", message)
}

// Intent is one quick-trade gesture: a user, a contract, and a direction.
type Intent struct {
	UserID     string
	ContractID string
	Direction  contract.Direction
}

// Ticket is the synchronous result of an accepted submit. Done closes when
// the trade settles; after that, exactly one of BetReceipt/SaleReceipt is
// set on success, or Err on failure.
type Ticket struct {
	ToastID string
	Done    chan struct{}

	BetReceipt  *model.BetReceipt
	SaleReceipt *model.SaleReceipt
	Err         error
}

// dispatch is the settled plan for one intent: exactly one of the buy or
// sale fields is populated before the async stage runs.
type dispatch struct {
	sell       bool
	outcome    string          // outcome to buy, or held outcome to sell
	shares     decimal.Decimal // shares to sell, zero for buys
	saleAmount decimal.Decimal // estimated proceeds, for the toast only
}

// Submitter runs the optimistic quick-trade pipeline. Submit performs the
// synchronous stage (reconcile the position, reserve the pending slot,
// show the loading toast, track analytics) and settles the trade on a
// goroutine. The pending slot is released on every settle path, so a
// failed trade never leaves the pair stuck.
type Submitter struct {
	store    store.Store
	exec     Executor
	est      *preview.Estimator
	notifier Notifier
	rec      *analytics.Recorder

	mu      sync.Mutex
	pending map[string]bool // keyed by userID + "|" + contractID
}

// NewSubmitter creates a submitter. The estimator supplies the fixed bet
// size and the sale reconciliation used for toast amounts.
func NewSubmitter(st store.Store, exec Executor, est *preview.Estimator, notifier Notifier, rec *analytics.Recorder) *Submitter {
	return &Submitter{
		store:    st,
		exec:     exec,
		est:      est,
		notifier: notifier,
		rec:      rec,
		pending:  make(map[string]bool),
	}
}

func pendingKey(userID, contractID string) string {
	return userID + "|" + contractID
}

// Pending reports whether a quick trade is in flight for the pair.
func (s *Submitter) Pending(userID, contractID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[pendingKey(userID, contractID)]
}

func (s *Submitter) acquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[key] {
		return false
	}
	s.pending[key] = true
	return true
}

func (s *Submitter) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, key)
}

// Submit runs the synchronous stage of a quick trade and schedules the
// settle. It returns once the loading toast is up; callers that need the
// outcome wait on the ticket's Done channel.
func (s *Submitter) Submit(ctx context.Context, intent Intent) (*Ticket, error) {
	c, err := s.store.GetContract(ctx, intent.ContractID)
	if err != nil {
		return nil, fmt.Errorf("trade: market not found: %w", err)
	}

	d, err := s.plan(ctx, c, intent)
	if err != nil {
		return nil, err
	}

	key := pendingKey(intent.UserID, intent.ContractID)
	if !s.acquire(key) {
		return nil, ErrPending
	}

	ticket := &Ticket{
		ToastID: uuid.New().String(),
		Done:    make(chan struct{}),
	}

	// Same message for loading and success; errors replace it with the
	// failure reason verbatim.
	shortQ := questionPrefix(c.Question)
	var message string
	if d.sell {
		message = fmt.Sprintf("%s sold of %q...", formatMoney(d.saleAmount), shortQ)
	} else {
		message = fmt.Sprintf("%s on %q...", formatMoney(s.est.BetSize()), shortQ)
	}

	s.notifier.Loading(ticket.ToastID, message)
	s.rec.Track("quick bet", intent.UserID, c.ID, c.Slug, string(intent.Direction))

	go s.settle(c, intent, d, ticket, message)

	return ticket, nil
}

// plan reconciles the intent against the user's position: holding shares
// of the opposite outcome turns the gesture into a sale of those shares,
// otherwise it is a buy of the mapped outcome.
func (s *Submitter) plan(ctx context.Context, c *model.Contract, intent Intent) (dispatch, error) {
	outcome, err := contract.QuickOutcome(c, intent.Direction)
	if err != nil {
		return dispatch{}, err
	}
	if outcome.Kind != contract.OutcomeBinary {
		// The executor settles binary YES/NO outcomes only; reject here
		// rather than after the loading toast is already up.
		return dispatch{}, ErrAnswerBetsUnsupported
	}

	if c.Mechanism == model.MechanismCpmm1 {
		pos, err := s.store.GetPosition(ctx, intent.UserID, intent.ContractID)
		if err != nil {
			return dispatch{}, fmt.Errorf("load position: %w", err)
		}

		held := model.OutcomeNo
		if intent.Direction == contract.Down {
			held = model.OutcomeYes
		}
		if pos.HasShares(held) {
			res, err := s.est.Preview(c, intent.Direction, pos, s.book(ctx, c.ID))
			if err != nil {
				return dispatch{}, err
			}
			if res.Kind == preview.KindSell {
				return dispatch{
					sell:       true,
					outcome:    res.SellOutcome,
					shares:     res.SharesSold,
					saleAmount: res.Proceeds,
				}, nil
			}
		}
	}

	return dispatch{outcome: outcome.Token()}, nil
}

// book fetches the preview order-book snapshot; failures degrade to an
// empty book rather than blocking the trade.
func (s *Submitter) book(ctx context.Context, contractID string) preview.Book {
	orders, err := s.store.GetUnfilledOrders(ctx, contractID)
	if err != nil {
		return preview.Book{}
	}
	makerIDs := make([]string, 0, len(orders))
	seen := make(map[string]bool, len(orders))
	for _, o := range orders {
		if !seen[o.UserID] {
			seen[o.UserID] = true
			makerIDs = append(makerIDs, o.UserID)
		}
	}
	balances, err := s.store.GetBalances(ctx, makerIDs)
	if err != nil {
		return preview.Book{}
	}
	return preview.Book{Orders: orders, Balances: balances}
}

// settle runs the async stage: dispatch exactly one executor call, then
// resolve the toast. The pending slot releases on every path.
func (s *Submitter) settle(c *model.Contract, intent Intent, d dispatch, ticket *Ticket, message string) {
	key := pendingKey(intent.UserID, intent.ContractID)
	defer close(ticket.Done)
	defer s.release(key)

	// Settlement outlives the HTTP request that scheduled it.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	kind := "buy"
	if d.sell {
		kind = "sell"
	}

	var err error
	if d.sell {
		ticket.SaleReceipt, err = s.exec.SellShares(ctx, intent.UserID, intent.ContractID, d.outcome, d.shares)
	} else {
		ticket.BetReceipt, err = s.exec.PlaceBet(ctx, intent.UserID, intent.ContractID, d.outcome, s.est.BetSize())
	}
	metrics.TradeLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if err != nil {
		ticket.Err = err
		metrics.TradeFailures.WithLabelValues(kind).Inc()
		s.notifier.Error(ticket.ToastID, err.Error())
		slog.Warn("quick trade failed",
			"user", intent.UserID,
			"contract", intent.ContractID,
			"direction", intent.Direction,
			"err", err,
		)
		return
	}

	metrics.QuickTradesTotal.WithLabelValues(string(intent.Direction), kind).Inc()
	s.notifier.Success(ticket.ToastID, message)
}

// questionPrefix returns the leading part of the question for toasts.
func questionPrefix(q string) string {
	runes := []rune(q)
	if len(runes) > 20 {
		runes = runes[:20]
	}
	return string(runes)
}

// formatMoney renders a currency amount for display, e.g. "M$10".
func formatMoney(amount decimal.Decimal) string {
	return "M$" + amount.Round(0).String()
}
