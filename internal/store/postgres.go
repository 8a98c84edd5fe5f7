package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/predyx/market-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Conditional updates (balance adjustment, event resolution, trade
// transitions) are single guarded statements, so concurrent requests
// serialize on row locks instead of racing read-then-write.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, balance, role, active, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6)`,
		u.ID, u.Username, u.Balance.String(), u.Role, u.Active, u.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	var balance string

	err := s.pool.QueryRow(ctx,
		`SELECT id, username, balance::TEXT, role, active, created_at
		 FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &balance, &u.Role, &u.Active, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}

	u.Balance, _ = decimal.NewFromString(balance)
	return &u, nil
}

func (s *PostgresStore) SetUserActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, ErrUserNotFound)
	}
	return nil
}

func (s *PostgresStore) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance string
	err := s.pool.QueryRow(ctx,
		`UPDATE users
		 SET balance = balance + $2::NUMERIC
		 WHERE id = $1 AND balance + $2::NUMERIC >= 0
		 RETURNING balance::TEXT`,
		userID, delta.String()).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		// Guarded update matched nothing: missing user or overdraft.
		if _, gerr := s.GetUser(ctx, userID); gerr != nil {
			return decimal.Zero, gerr
		}
		return decimal.Zero, fmt.Errorf("user %s: %w", userID, ErrInsufficientBalance)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("adjust balance for %s: %w", userID, err)
	}

	newBalance, _ := decimal.NewFromString(balance)
	return newBalance, nil
}

// --- Events ---

func (s *PostgresStore) CreateEvent(ctx context.Context, e *model.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO events (id, title, description, category, status, end_time, volume, winning_option_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, NULL, $8)`,
		e.ID, e.Title, e.Description, e.Category, e.Status, e.EndTime,
		e.Volume.String(), e.CreatedAt,
	)
	if err != nil {
		return err
	}

	for _, opt := range e.Options {
		_, err = tx.Exec(ctx,
			`INSERT INTO options (id, event_id, label, seed_probability, probability, volume, is_correct)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, FALSE)`,
			opt.ID, e.ID, opt.Label,
			opt.SeedProbability.String(), opt.Probability.String(), opt.Volume.String(),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	var e model.Event
	var volume string
	var winning *string

	err := s.pool.QueryRow(ctx,
		`SELECT id, title, description, category, status, end_time,
		        volume::TEXT, winning_option_id, resolved_at, created_at
		 FROM events WHERE id = $1`, id).
		Scan(&e.ID, &e.Title, &e.Description, &e.Category, &e.Status, &e.EndTime,
			&volume, &winning, &e.ResolvedAt, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, ErrEventNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}

	e.Volume, _ = decimal.NewFromString(volume)
	if winning != nil {
		e.WinningOptionID = *winning
	}

	opts, err := s.eventOptions(ctx, id)
	if err != nil {
		return nil, err
	}
	e.Options = opts
	return &e, nil
}

func (s *PostgresStore) eventOptions(ctx context.Context, eventID string) ([]model.Option, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, event_id, label,
		        seed_probability::TEXT, probability::TEXT, volume::TEXT, is_correct
		 FROM options WHERE event_id = $1 ORDER BY id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var options []model.Option
	for rows.Next() {
		var o model.Option
		var seed, prob, vol string
		if err := rows.Scan(&o.ID, &o.EventID, &o.Label, &seed, &prob, &vol, &o.IsCorrect); err != nil {
			return nil, err
		}
		o.SeedProbability, _ = decimal.NewFromString(seed)
		o.Probability, _ = decimal.NewFromString(prob)
		o.Volume, _ = decimal.NewFromString(vol)
		options = append(options, o)
	}
	return options, rows.Err()
}

func (s *PostgresStore) ListEvents(ctx context.Context, status string) ([]model.Event, error) {
	query := `SELECT id, title, description, category, status, end_time,
	                 volume::TEXT, winning_option_id, resolved_at, created_at
	          FROM events`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		var volume string
		var winning *string
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.Category, &e.Status,
			&e.EndTime, &volume, &winning, &e.ResolvedAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Volume, _ = decimal.NewFromString(volume)
		if winning != nil {
			e.WinningOptionID = *winning
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range events {
		opts, err := s.eventOptions(ctx, events[i].ID)
		if err != nil {
			return nil, err
		}
		events[i].Options = opts
	}
	return events, nil
}

func (s *PostgresStore) ActivateEvent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET status = $2 WHERE id = $1 AND status IN ($2, $3)`,
		id, model.EventActive, model.EventUpcoming)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.classifyEventConflict(ctx, id)
	}
	return nil
}

func (s *PostgresStore) ResolveEvent(ctx context.Context, id, winningOptionID string, at time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Status-guarded CAS: of two concurrent settlements exactly one
	// matches the non-terminal row.
	tag, err := tx.Exec(ctx,
		`UPDATE events
		 SET status = $2, winning_option_id = $3, resolved_at = $4
		 WHERE id = $1 AND status IN ($5, $6)`,
		id, model.EventResolved, winningOptionID, at,
		model.EventUpcoming, model.EventActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.classifyEventConflict(ctx, id)
	}

	_, err = tx.Exec(ctx,
		`UPDATE options SET is_correct = (id = $2) WHERE event_id = $1`,
		id, winningOptionID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) CancelEvent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET status = $2 WHERE id = $1 AND status IN ($3, $4)`,
		id, model.EventCancelled, model.EventUpcoming, model.EventActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.classifyEventConflict(ctx, id)
	}
	return nil
}

// classifyEventConflict maps a failed status-guarded update to the right
// sentinel by reading the current row.
func (s *PostgresStore) classifyEventConflict(ctx context.Context, id string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM events WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("event %s: %w", id, ErrEventNotFound)
	}
	if err != nil {
		return err
	}
	if status == model.EventResolved {
		return fmt.Errorf("event %s: %w", id, ErrAlreadyResolved)
	}
	return fmt.Errorf("event %s is %s: %w", id, status, ErrEventFinal)
}

func (s *PostgresStore) ApplyVolume(ctx context.Context, eventID, optionID string, delta decimal.Decimal, probabilities map[string]decimal.Decimal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE events SET volume = volume + $2::NUMERIC WHERE id = $1`,
		eventID, delta.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %s: %w", eventID, ErrEventNotFound)
	}

	_, err = tx.Exec(ctx,
		`UPDATE options SET volume = volume + $3::NUMERIC WHERE event_id = $1 AND id = $2`,
		eventID, optionID, delta.String())
	if err != nil {
		return err
	}

	for id, p := range probabilities {
		_, err = tx.Exec(ctx,
			`UPDATE options SET probability = $3::NUMERIC WHERE event_id = $1 AND id = $2`,
			eventID, id, p.String())
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// --- Trades ---

func (s *PostgresStore) CreateTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, user_id, event_id, option_id, amount, probability, potential_payout, status, settled_amount, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9::NUMERIC, $10)`,
		t.ID, t.UserID, t.EventID, t.OptionID,
		t.Amount.String(), t.Probability.String(), t.PotentialPayout.String(),
		t.Status, t.SettledAmount.String(), t.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, user_id, event_id, option_id,
		        amount::TEXT, probability::TEXT, potential_payout::TEXT,
		        status, settled_amount::TEXT, created_at, settled_at
		 FROM trades WHERE id = $1`, id)

	t, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("trade %s: %w", id, ErrTradeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get trade %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) ListTradesByEvent(ctx context.Context, eventID, status string) ([]model.Trade, error) {
	query := `SELECT id, user_id, event_id, option_id,
	                 amount::TEXT, probability::TEXT, potential_payout::TEXT,
	                 status, settled_amount::TEXT, created_at, settled_at
	          FROM trades WHERE event_id = $1`
	args := []any{eventID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) ListTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, event_id, option_id,
		        amount::TEXT, probability::TEXT, potential_payout::TEXT,
		        status, settled_amount::TEXT, created_at, settled_at
		 FROM trades WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) TransitionTrade(ctx context.Context, tradeID, from, to string, settledAmount decimal.Decimal, at *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trades
		 SET status = $3, settled_amount = $4::NUMERIC, settled_at = $5
		 WHERE id = $1 AND status = $2`,
		tradeID, from, to, settledAmount.String(), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := s.GetTrade(ctx, tradeID); gerr != nil {
			return gerr
		}
		return fmt.Errorf("trade %s: %w", tradeID, ErrTradeConflict)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*model.Stats, error) {
	var stats model.Stats
	var volume string

	err := s.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM events),
			(SELECT COUNT(*) FROM events WHERE status IN ($1, $2)),
			(SELECT COUNT(*) FROM trades),
			(SELECT COALESCE(SUM(amount), 0)::TEXT FROM trades WHERE status <> $3)`,
		model.EventUpcoming, model.EventActive, model.TradeCancelled).
		Scan(&stats.TotalUsers, &stats.TotalEvents, &stats.ActiveEvents,
			&stats.TotalTrades, &volume)
	if err != nil {
		return nil, err
	}

	stats.TotalVolume, _ = decimal.NewFromString(volume)
	return &stats, nil
}

// --- Row scanning helpers ---

type pgxRow interface {
	Scan(dest ...any) error
}

func scanTrade(row pgxRow) (*model.Trade, error) {
	var t model.Trade
	var amount, prob, payout, settled string

	if err := row.Scan(&t.ID, &t.UserID, &t.EventID, &t.OptionID,
		&amount, &prob, &payout, &t.Status, &settled,
		&t.CreatedAt, &t.SettledAt); err != nil {
		return nil, err
	}

	t.Amount, _ = decimal.NewFromString(amount)
	t.Probability, _ = decimal.NewFromString(prob)
	t.PotentialPayout, _ = decimal.NewFromString(payout)
	t.SettledAmount, _ = decimal.NewFromString(settled)
	return &t, nil
}

func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}
