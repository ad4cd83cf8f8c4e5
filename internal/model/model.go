// Package model defines the core domain types shared across the quicktrade
// service. All monetary values use shopspring/decimal, never float64 for
// money. Pool shares and probabilities cross into float64 only inside the
// cpmm package.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome type tags carried by a contract.
const (
	OutcomeTypeBinary         = "BINARY"
	OutcomeTypePseudoNumeric  = "PSEUDO_NUMERIC"
	OutcomeTypeFreeResponse   = "FREE_RESPONSE"
	OutcomeTypeNumeric        = "NUMERIC"
	OutcomeTypeMultipleChoice = "MULTIPLE_CHOICE"
	OutcomeTypeStonk          = "STONK"
)

// Mechanism tags. Only the constant-product AMM is executable here; other
// mechanisms are carried so snapshots round-trip, but previews on them are
// suppressed.
const (
	MechanismCpmm1 = "cpmm-1"
	MechanismDpm2  = "dpm-2"
)

// Binary outcome tokens.
const (
	OutcomeYes = "YES"
	OutcomeNo  = "NO"
)

// Answer is a single free-response answer with its current probability.
type Answer struct {
	ID          string          `json:"id" db:"id"`
	Text        string          `json:"text" db:"text"`
	Probability decimal.Decimal `json:"probability" db:"probability"`
}

// Contract is a snapshot of one market. Resolution is a terminal, one-way
// mutation performed elsewhere; this service only ever reads it.
type Contract struct {
	ID          string `json:"id" db:"id"`
	Slug        string `json:"slug" db:"slug"`
	Question    string `json:"question" db:"question"`
	CreatorID   string `json:"creator_id" db:"creator_id"`
	OutcomeType string `json:"outcome_type" db:"outcome_type"`
	Mechanism   string `json:"mechanism" db:"mechanism"`

	// CPMM state: pool share counts and the p weighting parameter.
	PoolYes decimal.Decimal `json:"pool_yes" db:"pool_yes"`
	PoolNo  decimal.Decimal `json:"pool_no" db:"pool_no"`
	P       decimal.Decimal `json:"p" db:"p"`

	// Probability is the cached current YES probability, updated after
	// each executed trade.
	Probability decimal.Decimal `json:"probability" db:"probability"`

	Resolution            string           `json:"resolution,omitempty" db:"resolution"`
	ResolutionProbability *decimal.Decimal `json:"resolution_probability,omitempty" db:"resolution_probability"`

	Answers []Answer `json:"answers,omitempty"`

	CloseTime time.Time `json:"close_time" db:"close_time"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// IsResolved reports whether the contract has reached its terminal state.
func (c *Contract) IsResolved() bool {
	return c.Resolution != ""
}

// Bet is an immutable ledger record of an executed quick trade or sale.
// Once created, these are never modified or deleted.
type Bet struct {
	ID         string          `json:"id" db:"id"`
	UserID     string          `json:"user_id" db:"user_id"`
	ContractID string          `json:"contract_id" db:"contract_id"`
	Outcome    string          `json:"outcome" db:"outcome"` // "YES", "NO", or an answer id
	Amount     decimal.Decimal `json:"amount" db:"amount"`   // signed: +buy, -sale proceeds
	Shares     decimal.Decimal `json:"shares" db:"shares"`   // signed: +bought, -sold
	ProbBefore decimal.Decimal `json:"prob_before" db:"prob_before"`
	ProbAfter  decimal.Decimal `json:"prob_after" db:"prob_after"`
	IsSale     bool            `json:"is_sale" db:"is_sale"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// LimitOrder is a resting unfilled bet: an order at a fixed probability
// waiting to be crossed by market trades.
type LimitOrder struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	ContractID   string          `json:"contract_id" db:"contract_id"`
	AnswerID     string          `json:"answer_id,omitempty" db:"answer_id"`
	Outcome      string          `json:"outcome" db:"outcome"` // "YES" or "NO"
	LimitProb    decimal.Decimal `json:"limit_prob" db:"limit_prob"`
	OrderAmount  decimal.Decimal `json:"order_amount" db:"order_amount"`
	AmountFilled decimal.Decimal `json:"amount_filled" db:"amount_filled"`
	IsFilled     bool            `json:"is_filled" db:"is_filled"`
	IsCancelled  bool            `json:"is_cancelled" db:"is_cancelled"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Remaining returns the unfilled portion of the order.
func (o *LimitOrder) Remaining() decimal.Decimal {
	return o.OrderAmount.Sub(o.AmountFilled)
}

// Position is a user's aggregate share holdings in one contract, derived
// from the bet ledger. The in-process copy is a read-only projection;
// only executed trades change it.
type Position struct {
	UserID     string          `json:"user_id"`
	ContractID string          `json:"contract_id"`
	YesShares  decimal.Decimal `json:"yes_shares"`
	NoShares   decimal.Decimal `json:"no_shares"`
	Invested   decimal.Decimal `json:"invested"` // net cash outflow
}

// HasShares reports whether the position holds shares of the given binary
// outcome.
func (p *Position) HasShares(outcome string) bool {
	if outcome == OutcomeYes {
		return p.YesShares.IsPositive()
	}
	return p.NoShares.IsPositive()
}

// Shares returns the held share count for a binary outcome.
func (p *Position) Shares(outcome string) decimal.Decimal {
	if outcome == OutcomeYes {
		return p.YesShares
	}
	return p.NoShares
}

// BetReceipt is returned by the trade executor after a successful purchase.
type BetReceipt struct {
	BetID      string          `json:"bet_id"`
	ContractID string          `json:"contract_id"`
	Outcome    string          `json:"outcome"`
	Amount     decimal.Decimal `json:"amount"`
	Shares     decimal.Decimal `json:"shares"`
	ProbAfter  decimal.Decimal `json:"prob_after"`
}

// SaleReceipt is returned by the trade executor after a successful sale.
type SaleReceipt struct {
	BetID      string          `json:"bet_id"`
	ContractID string          `json:"contract_id"`
	Outcome    string          `json:"outcome"`
	SharesSold decimal.Decimal `json:"shares_sold"`
	SaleValue  decimal.Decimal `json:"sale_value"`
	ProbAfter  decimal.Decimal `json:"prob_after"`
}
