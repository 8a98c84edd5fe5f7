// Package engine implements the trade and settlement engines: placing a
// trade at the current house price, escrowing the stake, cancelling open
// trades, and resolving an event to pay out winners exactly once.
//
// All monetary values use shopspring/decimal, never float64.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predyx/market-engine/internal/ledger"
	"github.com/predyx/market-engine/internal/market"
	"github.com/predyx/market-engine/internal/metrics"
	"github.com/predyx/market-engine/internal/model"
	"github.com/predyx/market-engine/internal/notify"
	"github.com/predyx/market-engine/internal/pricing"
	"github.com/predyx/market-engine/internal/store"
)

// Service coordinates the ledger, market, and store for trade placement
// and settlement. Per-event mutexes make settlement mutually exclusive
// with trading on the same event; per-user balance atomicity comes from
// the store's conditional updates.
type Service struct {
	store    store.Store
	ledger   *ledger.Ledger
	market   *market.Market
	notifier notify.Notifier
	locks    *eventLocks
	now      func() time.Time
}

// NewService creates the engine. Pass a no-op notifier (notify.Fanout{})
// if broadcasting is not needed.
func NewService(st store.Store, l *ledger.Ledger, m *market.Market, n notify.Notifier) *Service {
	if n == nil {
		n = notify.Fanout{}
	}
	return &Service{
		store:    st,
		ledger:   l,
		market:   m,
		notifier: n,
		locks:    newEventLocks(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PlaceTrade validates and records a trade against an event at its
// current price. The stake is debited atomically, the probability is
// snapshotted, and the potential payout is fixed at stake/probability
// regardless of later price movement.
func (s *Service) PlaceTrade(ctx context.Context, userID, eventID, optionID string, amount decimal.Decimal) (*model.Trade, error) {
	start := time.Now()
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	unlock := s.locks.acquire(eventID)
	defer unlock()

	// Status is re-read inside the critical section: a settlement that
	// committed before we got the lock is visible here.
	e, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !e.Tradeable(s.now()) {
		return nil, fmt.Errorf("event %s is %s: %w", eventID, e.Status, ErrEventNotTradeable)
	}

	opt := e.FindOption(optionID)
	if opt == nil {
		return nil, fmt.Errorf("event %s option %s: %w", eventID, optionID, ErrInvalidOption)
	}

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, fmt.Errorf("user %s: %w", userID, ErrUserInactive)
	}

	probability := opt.Probability
	payout := pricing.PotentialPayout(amount, probability)

	if _, err := s.ledger.Debit(ctx, userID, amount); err != nil {
		return nil, err
	}

	trade := &model.Trade{
		ID:              uuid.New().String(),
		UserID:          userID,
		EventID:         eventID,
		OptionID:        optionID,
		Amount:          amount,
		Probability:     probability,
		PotentialPayout: payout,
		Status:          model.TradePending,
		SettledAmount:   decimal.Zero,
		CreatedAt:       s.now(),
	}

	if err := s.store.CreateTrade(ctx, trade); err != nil {
		// Compensate the debit so the stake is not silently lost.
		if _, cerr := s.ledger.Credit(ctx, userID, amount); cerr != nil {
			slog.Error("failed to refund after trade persist failure",
				"user", userID, "amount", amount.String(), "err", cerr)
		}
		return nil, fmt.Errorf("persist trade: %w", err)
	}

	if e.Status == model.EventUpcoming {
		if err := s.market.Activate(ctx, eventID); err != nil {
			slog.Warn("event activation failed", "event", eventID, "err", err)
		}
	}

	options, volume, err := s.market.RecordVolume(ctx, e, optionID, amount)
	if err != nil {
		// The trade and debit are committed; price drift is corrected by
		// the next successful volume update.
		slog.Error("volume update failed after trade commit",
			"trade", trade.ID, "event", eventID, "err", err)
	} else {
		s.publishOdds(ctx, eventID, options, volume)
	}

	s.notifier.Publish(ctx, notify.TopicTrade(eventID), notify.TradeUpdate{
		TradeID: trade.ID,
		Status:  trade.Status,
	})

	metrics.TradesTotal.WithLabelValues("placed").Inc()
	metrics.TradeLatency.Observe(time.Since(start).Seconds())

	slog.Info("trade placed",
		"trade_id", trade.ID,
		"user", userID,
		"event", eventID,
		"option", optionID,
		"amount", amount.String(),
		"probability", probability.String(),
		"potential_payout", payout.String(),
	)
	return trade, nil
}

// CancelTrade refunds a pending trade and reverses its volume. Only the
// trade's owner may cancel, and only while the event is open and before
// its scheduled end time: after that boundary cancellation is rejected
// even if settlement has not run yet.
func (s *Service) CancelTrade(ctx context.Context, tradeID, userID string) (*model.Trade, error) {
	t, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		// Do not reveal other users' trades.
		return nil, fmt.Errorf("trade %s: %w", tradeID, store.ErrTradeNotFound)
	}

	unlock := s.locks.acquire(t.EventID)
	defer unlock()

	e, err := s.store.GetEvent(ctx, t.EventID)
	if err != nil {
		return nil, err
	}
	if t.Status != model.TradePending || !e.Tradeable(s.now()) {
		return nil, fmt.Errorf("trade %s: %w", tradeID, ErrNotCancellable)
	}

	if _, err := s.ledger.Credit(ctx, userID, t.Amount); err != nil {
		return nil, fmt.Errorf("refund stake: %w", err)
	}

	if err := s.store.TransitionTrade(ctx, tradeID, model.TradePending, model.TradeCancelled, decimal.Zero, nil); err != nil {
		if errors.Is(err, store.ErrTradeConflict) {
			// Another path settled the trade between our read and the CAS.
			// Take the refund back; the settled state stands.
			if _, derr := s.ledger.Debit(ctx, userID, t.Amount); derr != nil {
				slog.Error("failed to reverse refund after cancel conflict",
					"trade", tradeID, "err", derr)
			}
			return nil, fmt.Errorf("trade %s: %w", tradeID, ErrNotCancellable)
		}
		return nil, err
	}
	t.Status = model.TradeCancelled

	options, volume, err := s.market.ReverseVolume(ctx, e, t.OptionID, t.Amount)
	if err != nil {
		slog.Error("volume reversal failed after cancellation",
			"trade", tradeID, "event", t.EventID, "err", err)
	} else {
		s.publishOdds(ctx, t.EventID, options, volume)
	}

	s.notifier.Publish(ctx, notify.TopicTrade(t.EventID), notify.TradeUpdate{
		TradeID: t.ID,
		Status:  t.Status,
	})

	metrics.TradesTotal.WithLabelValues("cancelled").Inc()

	slog.Info("trade cancelled",
		"trade_id", tradeID,
		"user", userID,
		"event", t.EventID,
		"refund", t.Amount.String(),
	)
	return t, nil
}

// GetTrade returns a trade if it belongs to the requesting user.
func (s *Service) GetTrade(ctx context.Context, tradeID, userID string) (*model.Trade, error) {
	t, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, fmt.Errorf("trade %s: %w", tradeID, store.ErrTradeNotFound)
	}
	return t, nil
}

// ListUserTrades returns all of a user's trades, newest first.
func (s *Service) ListUserTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	return s.store.ListTradesByUser(ctx, userID)
}

func (s *Service) publishOdds(ctx context.Context, eventID string, options []model.Option, volume decimal.Decimal) {
	prices := make([]notify.OptionPrice, len(options))
	for i, opt := range options {
		prices[i] = notify.OptionPrice{ID: opt.ID, Probability: opt.Probability}
	}
	s.notifier.Publish(ctx, notify.TopicOdds(eventID), notify.OddsUpdate{
		EventID: eventID,
		Options: prices,
		Volume:  volume,
	})
}
