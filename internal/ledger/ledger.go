// Package ledger is the subsystem of record for user credit balances.
// No other component mutates a balance directly: trade placement debits
// through here, cancellation and settlement credit through here. The
// underlying store guarantees each adjustment is an atomic conditional
// update, so concurrent debits against the same user cannot both pass a
// stale balance check.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/predyx/market-engine/internal/metrics"
	"github.com/predyx/market-engine/internal/store"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrUserNotFound is returned for adjustments against unknown users.
	ErrUserNotFound = errors.New("ledger: user not found")

	// ErrInvalidAmount is returned for non-positive debit/credit amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
)

// Ledger applies balance mutations through the store's atomic adjustment.
type Ledger struct {
	store store.Store
}

// New creates a ledger over the given store.
func New(st store.Store) *Ledger {
	return &Ledger{store: st}
}

// Debit atomically subtracts amount from the user's balance and returns
// the new balance. Fails with ErrInsufficientBalance without mutating
// anything if the balance is too low.
func (l *Ledger) Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidAmount
	}

	balance, err := l.store.AdjustBalance(ctx, userID, amount.Neg())
	if err != nil {
		return decimal.Zero, mapStoreErr(err)
	}

	metrics.LedgerOps.WithLabelValues("debit").Inc()
	slog.Debug("ledger debit", "user", userID, "amount", amount.String(), "balance", balance.String())
	return balance, nil
}

// Credit atomically adds amount to the user's balance and returns the new
// balance. Fails with ErrUserNotFound if the user does not exist.
func (l *Ledger) Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidAmount
	}

	balance, err := l.store.AdjustBalance(ctx, userID, amount)
	if err != nil {
		return decimal.Zero, mapStoreErr(err)
	}

	metrics.LedgerOps.WithLabelValues("credit").Inc()
	slog.Debug("ledger credit", "user", userID, "amount", amount.String(), "balance", balance.String())
	return balance, nil
}

// Balance returns the user's current balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	u, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return decimal.Zero, mapStoreErr(err)
	}
	return u.Balance, nil
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrInsufficientBalance):
		return fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	case errors.Is(err, store.ErrUserNotFound):
		return fmt.Errorf("%w: %v", ErrUserNotFound, err)
	default:
		return err
	}
}
