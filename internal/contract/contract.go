// Package contract provides pure helpers over contract snapshots: mapping a
// quick-trade direction to a concrete outcome, and computing the current
// probability with resolution awareness.
package contract

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quickfold/quicktrade/internal/cpmm"
	"github.com/quickfold/quicktrade/internal/model"
)

var (
	// ErrShortAnswer is returned when a DOWN quick trade is requested on a
	// free-response market. Shorting individual answers is unsupported.
	ErrShortAnswer = errors.New("contract: can't bet against free response answers")

	// ErrNumericMarket is returned for quick trades on distributional
	// numeric markets, which are unsupported in either direction.
	ErrNumericMarket = errors.New("contract: can't quick bet on numeric markets")

	// ErrUnsupportedType is returned for outcome types the quick-trade
	// flow does not handle.
	ErrUnsupportedType = errors.New("contract: unsupported outcome type")

	// ErrNoAnswers is returned when a free-response market has no answers
	// to bet on yet.
	ErrNoAnswers = errors.New("contract: market has no answers")
)

// Direction is the user's quick-trade gesture: toward YES/higher or toward
// NO/lower.
type Direction string

const (
	Up   Direction = "UP"
	Down Direction = "DOWN"
)

// ParseDirection validates a direction string from the wire.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Up, Down:
		return Direction(s), nil
	}
	return "", fmt.Errorf("contract: invalid direction %q (expected UP or DOWN)", s)
}

// OutcomeKind tags the variant held by an Outcome.
type OutcomeKind int

const (
	// OutcomeBinary is a YES/NO token on a binary or pseudo-numeric
	// market.
	OutcomeBinary OutcomeKind = iota

	// OutcomeAnswer is a free-response answer id.
	OutcomeAnswer
)

// Outcome is the concrete outcome a direction maps to. It is a tagged
// variant rather than a raw string so an answer id can never be confused
// with a YES/NO token.
type Outcome struct {
	Kind     OutcomeKind
	Binary   string // "YES" or "NO" when Kind == OutcomeBinary
	AnswerID string // answer id when Kind == OutcomeAnswer
}

// Token returns the wire representation of the outcome.
func (o Outcome) Token() string {
	if o.Kind == OutcomeAnswer {
		return o.AnswerID
	}
	return o.Binary
}

// QuickOutcome maps a direction to a concrete outcome for the contract's
// type. Unsupported combinations fail fast rather than guessing:
//
//	binary, pseudo-numeric: UP→YES, DOWN→NO
//	free-response:          UP→leading answer, DOWN→error
//	numeric:                error in either direction
func QuickOutcome(c *model.Contract, direction Direction) (Outcome, error) {
	switch c.OutcomeType {
	case model.OutcomeTypeBinary, model.OutcomeTypePseudoNumeric, model.OutcomeTypeStonk:
		if direction == Up {
			return Outcome{Kind: OutcomeBinary, Binary: model.OutcomeYes}, nil
		}
		return Outcome{Kind: OutcomeBinary, Binary: model.OutcomeNo}, nil

	case model.OutcomeTypeFreeResponse:
		if direction == Down {
			return Outcome{}, ErrShortAnswer
		}
		top := TopAnswer(c)
		if top == nil {
			return Outcome{}, ErrNoAnswers
		}
		return Outcome{Kind: OutcomeAnswer, AnswerID: top.ID}, nil

	case model.OutcomeTypeNumeric:
		return Outcome{}, ErrNumericMarket

	default:
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnsupportedType, c.OutcomeType)
	}
}

// TopAnswer returns the free-response answer with the highest probability,
// or nil if there are none.
func TopAnswer(c *model.Contract) *model.Answer {
	var top *model.Answer
	for i := range c.Answers {
		a := &c.Answers[i]
		if top == nil || a.Probability.GreaterThan(top.Probability) {
			top = a
		}
	}
	return top
}

// CpmmState converts the contract's pool snapshot for the math package.
func CpmmState(c *model.Contract) cpmm.State {
	return cpmm.State{
		Pool: cpmm.Pool{
			Yes: c.PoolYes.InexactFloat64(),
			No:  c.PoolNo.InexactFloat64(),
		},
		P: c.P.InexactFloat64(),
	}
}

// CurrentProbability returns the contract's effective probability in [0,1]:
// the resolution probability when present, 1 when resolved to a discrete
// outcome, and otherwise the mechanism's live probability.
func CurrentProbability(c *model.Contract) (decimal.Decimal, error) {
	if c.ResolutionProbability != nil {
		return *c.ResolutionProbability, nil
	}
	if c.IsResolved() {
		return decimal.NewFromInt(1), nil
	}

	switch c.OutcomeType {
	case model.OutcomeTypeBinary, model.OutcomeTypePseudoNumeric, model.OutcomeTypeStonk:
		state := CpmmState(c)
		if err := state.Validate(); err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromFloat(state.Prob()), nil

	case model.OutcomeTypeFreeResponse, model.OutcomeTypeMultipleChoice:
		top := TopAnswer(c)
		if top == nil {
			return decimal.Zero, ErrNoAnswers
		}
		return top.Probability, nil

	default:
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnsupportedType, c.OutcomeType)
	}
}
