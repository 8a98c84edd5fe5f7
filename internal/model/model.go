// Package model defines the core domain types shared across the market engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role values carried by the auth collaborator.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Event lifecycle statuses.
const (
	EventUpcoming  = "upcoming"
	EventActive    = "active"
	EventResolved  = "resolved"
	EventCancelled = "cancelled"
)

// Trade lifecycle statuses.
const (
	TradePending   = "pending"
	TradeWon       = "won"
	TradeLost      = "lost"
	TradeCancelled = "cancelled"
)

// User holds a trader's account. Balance is mutated only through the
// ledger; deactivated users keep their history but cannot trade.
type User struct {
	ID        string          `json:"id" db:"id"`
	Username  string          `json:"username" db:"username"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	Role      string          `json:"role" db:"role"`
	Active    bool            `json:"active" db:"active"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Option is one possible outcome of an Event. Probability is the live
// house price, always strictly inside (0,1). SeedProbability is the
// admin-set price at creation; Volume is the cumulative stake on this
// option and feeds the pricing model. IsCorrect is written exactly once,
// by settlement.
type Option struct {
	ID              string          `json:"id" db:"id"`
	EventID         string          `json:"event_id" db:"event_id"`
	Label           string          `json:"label" db:"label"`
	SeedProbability decimal.Decimal `json:"seed_probability" db:"seed_probability"`
	Probability     decimal.Decimal `json:"probability" db:"probability"`
	Volume          decimal.Decimal `json:"volume" db:"volume"`
	IsCorrect       bool            `json:"is_correct" db:"is_correct"`
}

// Event is a tradeable proposition with 2+ mutually exclusive options.
// Once resolved, WinningOptionID is set and immutable. Volume only ever
// grows except when a cancellation subtracts its stake.
type Event struct {
	ID              string          `json:"id" db:"id"`
	Title           string          `json:"title" db:"title"`
	Description     string          `json:"description" db:"description"`
	Category        string          `json:"category" db:"category"`
	Status          string          `json:"status" db:"status"`
	EndTime         time.Time       `json:"end_time" db:"end_time"`
	Options         []Option        `json:"options"`
	Volume          decimal.Decimal `json:"volume" db:"volume"`
	WinningOptionID string          `json:"winning_option_id,omitempty" db:"winning_option_id"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Tradeable reports whether the event accepts new trades at the given
// instant. Resolved and cancelled events never trade again.
func (e *Event) Tradeable(now time.Time) bool {
	if e.Status != EventUpcoming && e.Status != EventActive {
		return false
	}
	return now.Before(e.EndTime)
}

// FindOption returns the option with the given ID, or nil if it does not
// belong to this event.
func (e *Event) FindOption(optionID string) *Option {
	for i := range e.Options {
		if e.Options[i].ID == optionID {
			return &e.Options[i]
		}
	}
	return nil
}

// Trade is a user's stake on one option of one event. Probability is the
// snapshot captured at placement time; PotentialPayout is derived from it
// and never recomputed, regardless of later price movement.
type Trade struct {
	ID              string          `json:"id" db:"id"`
	UserID          string          `json:"user_id" db:"user_id"`
	EventID         string          `json:"event_id" db:"event_id"`
	OptionID        string          `json:"option_id" db:"option_id"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	Probability     decimal.Decimal `json:"probability" db:"probability"`
	PotentialPayout decimal.Decimal `json:"potential_payout" db:"potential_payout"`
	Status          string          `json:"status" db:"status"`
	SettledAmount   decimal.Decimal `json:"settled_amount" db:"settled_amount"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	SettledAt       *time.Time      `json:"settled_at,omitempty" db:"settled_at"`
}

// SettlementResult summarizes one settlement run over an event.
type SettlementResult struct {
	EventID         string          `json:"event_id"`
	WinningOptionID string          `json:"winning_option_id"`
	SettledCount    int             `json:"settled_count"`
	TotalPayout     decimal.Decimal `json:"total_payout"`
}

// Stats is the admin dashboard aggregate.
type Stats struct {
	TotalUsers   int             `json:"total_users"`
	TotalEvents  int             `json:"total_events"`
	ActiveEvents int             `json:"active_events"`
	TotalTrades  int             `json:"total_trades"`
	TotalVolume  decimal.Decimal `json:"total_volume"`
}
