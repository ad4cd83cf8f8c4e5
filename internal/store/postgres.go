package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quickfold/quicktrade/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// answers are stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const contractColumns = `id, slug, question, creator_id, outcome_type, mechanism,
	pool_yes::TEXT, pool_no::TEXT, p::TEXT, probability::TEXT,
	COALESCE(resolution, ''), resolution_probability::TEXT, answers,
	close_time, created_at`

func (s *PostgresStore) CreateContract(ctx context.Context, c *model.Contract) error {
	answers, err := json.Marshal(c.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	var resProb *string
	if c.ResolutionProbability != nil {
		v := c.ResolutionProbability.String()
		resProb = &v
	}
	var resolution *string
	if c.Resolution != "" {
		resolution = &c.Resolution
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO contracts (id, slug, question, creator_id, outcome_type, mechanism,
		        pool_yes, pool_no, p, probability, resolution, resolution_probability,
		        answers, close_time, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6,
		        $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11, $12::NUMERIC,
		        $13, $14, $15)`,
		c.ID, c.Slug, c.Question, c.CreatorID, c.OutcomeType, c.Mechanism,
		c.PoolYes.String(), c.PoolNo.String(), c.P.String(), c.Probability.String(),
		resolution, resProb, answers, c.CloseTime, c.CreatedAt,
	)
	return err
}

type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanContract(row pgxRow) (*model.Contract, error) {
	var c model.Contract
	var poolYes, poolNo, p, probability string
	var resProb *string
	var answers []byte

	if err := row.Scan(&c.ID, &c.Slug, &c.Question, &c.CreatorID, &c.OutcomeType, &c.Mechanism,
		&poolYes, &poolNo, &p, &probability,
		&c.Resolution, &resProb, &answers,
		&c.CloseTime, &c.CreatedAt); err != nil {
		return nil, err
	}

	c.PoolYes, _ = decimal.NewFromString(poolYes)
	c.PoolNo, _ = decimal.NewFromString(poolNo)
	c.P, _ = decimal.NewFromString(p)
	c.Probability, _ = decimal.NewFromString(probability)
	if resProb != nil {
		v, _ := decimal.NewFromString(*resProb)
		c.ResolutionProbability = &v
	}
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &c.Answers); err != nil {
			return nil, fmt.Errorf("unmarshal answers: %w", err)
		}
	}
	return &c, nil
}

func (s *PostgresStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id)
	c, err := scanContract(row)
	if err != nil {
		return nil, fmt.Errorf("get contract %s: %w", id, err)
	}
	return c, nil
}

func (s *PostgresStore) GetContractBySlug(ctx context.Context, slug string) (*model.Contract, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE slug = $1`, slug)
	c, err := scanContract(row)
	if err != nil {
		return nil, fmt.Errorf("get contract by slug %s: %w", slug, err)
	}
	return c, nil
}

func (s *PostgresStore) ListContracts(ctx context.Context) ([]model.Contract, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+contractColumns+` FROM contracts ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contracts []model.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, *c)
	}
	return contracts, rows.Err()
}

func (s *PostgresStore) UpdateContractState(ctx context.Context, id string, poolYes, poolNo, p, probability decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE contracts
		 SET pool_yes = $2::NUMERIC, pool_no = $3::NUMERIC,
		     p = $4::NUMERIC, probability = $5::NUMERIC
		 WHERE id = $1`,
		id, poolYes.String(), poolNo.String(), p.String(), probability.String(),
	)
	return err
}

func (s *PostgresStore) InsertBet(ctx context.Context, b *model.Bet) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bets (id, user_id, contract_id, outcome, amount, shares,
		        prob_before, prob_after, is_sale, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
		b.ID, b.UserID, b.ContractID, b.Outcome,
		b.Amount.String(), b.Shares.String(),
		b.ProbBefore.String(), b.ProbAfter.String(),
		b.IsSale, b.CreatedAt,
	)
	return err
}

const betColumns = `id, user_id, contract_id, outcome,
	amount::TEXT, shares::TEXT, prob_before::TEXT, prob_after::TEXT,
	is_sale, created_at`

func (s *PostgresStore) GetBetsByContract(ctx context.Context, contractID string) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betColumns+` FROM bets WHERE contract_id = $1 ORDER BY created_at`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBets(rows)
}

func (s *PostgresStore) GetBetsByUser(ctx context.Context, userID string) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betColumns+` FROM bets WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBets(rows)
}

// pgxRows matches the subset of pgx.Rows used by the scan helpers.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanBets(rows pgxRows) ([]model.Bet, error) {
	var bets []model.Bet
	for rows.Next() {
		var b model.Bet
		var amount, shares, probBefore, probAfter string

		if err := rows.Scan(&b.ID, &b.UserID, &b.ContractID, &b.Outcome,
			&amount, &shares, &probBefore, &probAfter,
			&b.IsSale, &b.CreatedAt); err != nil {
			return nil, err
		}

		b.Amount, _ = decimal.NewFromString(amount)
		b.Shares, _ = decimal.NewFromString(shares)
		b.ProbBefore, _ = decimal.NewFromString(probBefore)
		b.ProbAfter, _ = decimal.NewFromString(probAfter)

		bets = append(bets, b)
	}
	return bets, rows.Err()
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID, contractID string) (*model.Position, error) {
	var yesShares, noShares, invested string

	err := s.pool.QueryRow(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN outcome = 'YES' THEN shares ELSE 0 END), 0)::TEXT,
			COALESCE(SUM(CASE WHEN outcome = 'NO'  THEN shares ELSE 0 END), 0)::TEXT,
			COALESCE(SUM(amount), 0)::TEXT
		 FROM bets WHERE user_id = $1 AND contract_id = $2`,
		userID, contractID).
		Scan(&yesShares, &noShares, &invested)
	if err != nil {
		return nil, err
	}

	pos := &model.Position{UserID: userID, ContractID: contractID}
	pos.YesShares, _ = decimal.NewFromString(yesShares)
	pos.NoShares, _ = decimal.NewFromString(noShares)
	pos.Invested, _ = decimal.NewFromString(invested)
	return pos, nil
}

func (s *PostgresStore) GetUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT
			contract_id,
			COALESCE(SUM(CASE WHEN outcome = 'YES' THEN shares ELSE 0 END), 0)::TEXT,
			COALESCE(SUM(CASE WHEN outcome = 'NO'  THEN shares ELSE 0 END), 0)::TEXT,
			COALESCE(SUM(amount), 0)::TEXT
		 FROM bets WHERE user_id = $1
		 GROUP BY contract_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var yesShares, noShares, invested string

		if err := rows.Scan(&p.ContractID, &yesShares, &noShares, &invested); err != nil {
			return nil, err
		}

		p.UserID = userID
		p.YesShares, _ = decimal.NewFromString(yesShares)
		p.NoShares, _ = decimal.NewFromString(noShares)
		p.Invested, _ = decimal.NewFromString(invested)

		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) InsertLimitOrder(ctx context.Context, o *model.LimitOrder) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO limit_orders (id, user_id, contract_id, answer_id, outcome,
		        limit_prob, order_amount, amount_filled, is_filled, is_cancelled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11)`,
		o.ID, o.UserID, o.ContractID, o.AnswerID, o.Outcome,
		o.LimitProb.String(), o.OrderAmount.String(), o.AmountFilled.String(),
		o.IsFilled, o.IsCancelled, o.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetUnfilledOrders(ctx context.Context, contractID string) ([]model.LimitOrder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, contract_id, COALESCE(answer_id, ''), outcome,
		        limit_prob::TEXT, order_amount::TEXT, amount_filled::TEXT,
		        is_filled, is_cancelled, created_at
		 FROM limit_orders
		 WHERE contract_id = $1 AND NOT is_filled AND NOT is_cancelled
		 ORDER BY created_at`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.LimitOrder
	for rows.Next() {
		var o model.LimitOrder
		var limitProb, orderAmount, amountFilled string

		if err := rows.Scan(&o.ID, &o.UserID, &o.ContractID, &o.AnswerID, &o.Outcome,
			&limitProb, &orderAmount, &amountFilled,
			&o.IsFilled, &o.IsCancelled, &o.CreatedAt); err != nil {
			return nil, err
		}

		o.LimitProb, _ = decimal.NewFromString(limitProb)
		o.OrderAmount, _ = decimal.NewFromString(orderAmount)
		o.AmountFilled, _ = decimal.NewFromString(amountFilled)

		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) UpdateOrderFill(ctx context.Context, id string, amountFilled decimal.Decimal, isFilled bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE limit_orders SET amount_filled = $2::NUMERIC, is_filled = $3 WHERE id = $1`,
		id, amountFilled.String(), isFilled,
	)
	return err
}

func (s *PostgresStore) CancelOrders(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE limit_orders SET is_cancelled = TRUE WHERE id = ANY($1)`, ids)
	return err
}

func (s *PostgresStore) GetBalances(ctx context.Context, userIDs []string) (map[string]decimal.Decimal, error) {
	if len(userIDs) == 0 {
		return map[string]decimal.Decimal{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, balance::TEXT FROM balances WHERE user_id = ANY($1)`, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	balances := make(map[string]decimal.Decimal, len(userIDs))
	for rows.Next() {
		var userID, balance string
		if err := rows.Scan(&userID, &balance); err != nil {
			return nil, err
		}
		bal, _ := decimal.NewFromString(balance)
		balances[userID] = bal
	}
	return balances, rows.Err()
}

func (s *PostgresStore) SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO balances (user_id, balance) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (user_id) DO UPDATE SET balance = EXCLUDED.balance`,
		userID, balance.String(),
	)
	return err
}

func (s *PostgresStore) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO balances (user_id, balance) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (user_id) DO UPDATE SET balance = balances.balance + EXCLUDED.balance`,
		userID, delta.String(),
	)
	return err
}
