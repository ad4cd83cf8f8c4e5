// Package limit enforces per-user quick-trade limits: a token-bucket rate
// limit on submissions and a cap on net spend per contract. Checked before
// dispatch; never consulted by the preview path.
package limit

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/quickfold/quicktrade/internal/model"
)

var (
	// ErrRateLimited is returned when a user submits quick trades faster
	// than the configured rate.
	ErrRateLimited = errors.New("limit: too many quick trades, slow down")

	// ErrExposureExceeded is returned when a trade would push a user's
	// net spend on one contract past the cap.
	ErrExposureExceeded = errors.New("limit: contract spend limit exceeded")
)

// Guard tracks per-user limiters. Safe for concurrent use.
type Guard struct {
	// MaxSpend is the maximum cumulative invested amount per user per
	// contract. Zero disables the check.
	MaxSpend decimal.Decimal

	perSecond rate.Limit
	burst     int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewGuard creates a guard allowing perSecond quick trades per user with
// the given burst, and capping per-contract spend at maxSpend.
func NewGuard(maxSpend decimal.Decimal, perSecond float64, burst int) *Guard {
	if burst < 1 {
		burst = 1
	}
	return &Guard{
		MaxSpend:  maxSpend,
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Allow consumes one token from the user's rate limiter.
func (g *Guard) Allow(userID string) error {
	g.mu.Lock()
	lim, ok := g.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(g.perSecond, g.burst)
		g.limiters[userID] = lim
	}
	g.mu.Unlock()

	if !lim.Allow() {
		return ErrRateLimited
	}
	return nil
}

// CheckSpend validates that adding amount to the user's existing invested
// total on this contract stays within the cap. A sale (negative or zero
// amount) always passes.
func (g *Guard) CheckSpend(pos *model.Position, amount decimal.Decimal) error {
	if g.MaxSpend.IsZero() || !amount.IsPositive() {
		return nil
	}
	invested := decimal.Zero
	if pos != nil {
		invested = pos.Invested
	}
	if invested.Add(amount).GreaterThan(g.MaxSpend) {
		return ErrExposureExceeded
	}
	return nil
}
