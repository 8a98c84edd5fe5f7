// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predyx/market-engine/internal/model"
)

// Sentinel errors shared by every implementation. Callers match with
// errors.Is; implementations wrap these with context.
var (
	ErrUserNotFound        = errors.New("store: user not found")
	ErrEventNotFound       = errors.New("store: event not found")
	ErrTradeNotFound       = errors.New("store: trade not found")
	ErrDuplicate           = errors.New("store: record already exists")
	ErrInsufficientBalance = errors.New("store: insufficient balance")
	ErrAlreadyResolved     = errors.New("store: event already resolved")
	ErrEventFinal          = errors.New("store: event is in a terminal state")
	ErrTradeConflict       = errors.New("store: trade is not in the expected status")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. Every conditional update
// (balance adjustment, event resolution, trade transition) must be atomic:
// concurrent callers never observe lost updates or double transitions.
type Store interface {
	// --- Users ---

	// CreateUser persists a new user.
	CreateUser(ctx context.Context, u *model.User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// SetUserActive flips the active flag.
	SetUserActive(ctx context.Context, id string, active bool) error

	// AdjustBalance atomically adds delta (negative = debit) to the user's
	// balance and returns the new balance. A debit that would take the
	// balance below zero fails with ErrInsufficientBalance and mutates
	// nothing.
	AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error)

	// --- Events ---

	// CreateEvent persists an event with its options.
	CreateEvent(ctx context.Context, e *model.Event) error

	// GetEvent retrieves an event with options.
	GetEvent(ctx context.Context, id string) (*model.Event, error)

	// ListEvents returns events, optionally filtered by status ("" = all).
	ListEvents(ctx context.Context, status string) ([]model.Event, error)

	// ActivateEvent transitions upcoming → active. Safe to call when the
	// event is already active.
	ActivateEvent(ctx context.Context, id string) error

	// ResolveEvent atomically transitions the event to resolved, records
	// the winning option and resolution time, and marks the winning option
	// correct. Fails with ErrAlreadyResolved if the event is resolved, or
	// ErrEventFinal if it is cancelled.
	ResolveEvent(ctx context.Context, id, winningOptionID string, at time.Time) error

	// CancelEvent atomically transitions the event to cancelled. Fails
	// with ErrAlreadyResolved if resolved, ErrEventFinal if already
	// cancelled.
	CancelEvent(ctx context.Context, id string) error

	// ApplyVolume adjusts the event's aggregate volume and the traded
	// option's volume by delta (negative to reverse a cancellation) and
	// writes the recomputed probability for every option, as one atomic
	// update.
	ApplyVolume(ctx context.Context, eventID, optionID string, delta decimal.Decimal, probabilities map[string]decimal.Decimal) error

	// --- Trades ---

	// CreateTrade persists a new trade.
	CreateTrade(ctx context.Context, t *model.Trade) error

	// GetTrade retrieves a trade by ID.
	GetTrade(ctx context.Context, id string) (*model.Trade, error)

	// ListTradesByEvent returns an event's trades, optionally filtered by
	// status ("" = all).
	ListTradesByEvent(ctx context.Context, eventID, status string) ([]model.Trade, error)

	// ListTradesByUser returns a user's trades, newest first.
	ListTradesByUser(ctx context.Context, userID string) ([]model.Trade, error)

	// TransitionTrade compare-and-swaps a trade from one status to
	// another, recording the settled amount and settlement time. Fails
	// with ErrTradeConflict if the trade is not in the expected status.
	TransitionTrade(ctx context.Context, tradeID, from, to string, settledAmount decimal.Decimal, at *time.Time) error

	// Stats returns aggregate counts for the admin dashboard.
	Stats(ctx context.Context) (*model.Stats, error)
}
