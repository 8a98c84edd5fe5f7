package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predyx/market-engine/internal/metrics"
	"github.com/predyx/market-engine/internal/model"
	"github.com/predyx/market-engine/internal/notify"
	"github.com/predyx/market-engine/internal/store"
)

// SettleEvent resolves an event to exactly one winning option and settles
// every pending trade against it exactly once. Winners are credited their
// snapshot-computed payout; losers settle to zero. The whole run holds
// the event lock, so no trade can be placed or cancelled while it is in
// progress.
//
// A second call on a fully settled event fails with ErrAlreadySettled and
// mutates nothing. If a previous run was interrupted by a transient
// failure, a repeat call with the same winning option resumes the still
// pending subset only; already-settled trades are never reprocessed.
func (s *Service) SettleEvent(ctx context.Context, eventID, winningOptionID string) (*model.SettlementResult, error) {
	unlock := s.locks.acquire(eventID)
	defer unlock()

	e, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if e.FindOption(winningOptionID) == nil {
		return nil, fmt.Errorf("event %s option %s: %w", eventID, winningOptionID, ErrInvalidOption)
	}

	now := s.now()
	switch e.Status {
	case model.EventResolved:
		resume, rerr := s.canResume(ctx, e, winningOptionID)
		if rerr != nil {
			return nil, rerr
		}
		if !resume {
			metrics.SettlementsTotal.WithLabelValues("rejected").Inc()
			return nil, fmt.Errorf("event %s: %w", eventID, ErrAlreadySettled)
		}
		slog.Info("resuming interrupted settlement", "event", eventID)
	case model.EventCancelled:
		return nil, fmt.Errorf("event %s: %w", eventID, ErrAlreadyCancelled)
	default:
		// Status-guarded transition: of two concurrent settlements exactly
		// one wins this update.
		if err := s.store.ResolveEvent(ctx, eventID, winningOptionID, now); err != nil {
			if errors.Is(err, store.ErrAlreadyResolved) {
				metrics.SettlementsTotal.WithLabelValues("rejected").Inc()
				return nil, fmt.Errorf("event %s: %w", eventID, ErrAlreadySettled)
			}
			if errors.Is(err, store.ErrEventFinal) {
				return nil, fmt.Errorf("event %s: %w", eventID, ErrAlreadyCancelled)
			}
			return nil, err
		}
	}

	result, failed := s.settlePendingTrades(ctx, eventID, winningOptionID, now)

	if failed > 0 {
		metrics.SettlementsTotal.WithLabelValues("incomplete").Inc()
		slog.Error("settlement left trades pending",
			"event", eventID, "failed", failed, "settled", result.SettledCount)
		return result, fmt.Errorf("event %s, %d trades still pending: %w",
			eventID, failed, ErrSettlementIncomplete)
	}

	// One notification per event, after every credit is committed.
	s.notifier.Publish(ctx, notify.TopicSettled(eventID), notify.Settled{
		EventID:         eventID,
		WinningOptionID: winningOptionID,
		TotalPayout:     result.TotalPayout,
	})

	metrics.SettlementsTotal.WithLabelValues("settled").Inc()
	payoutF, _ := result.TotalPayout.Float64()
	metrics.PayoutTotal.Add(payoutF)

	slog.Info("event settled",
		"event", eventID,
		"winning_option", winningOptionID,
		"settled_trades", result.SettledCount,
		"total_payout", result.TotalPayout.String(),
	)
	return result, nil
}

// canResume reports whether a settlement call against an already resolved
// event is the retry of an interrupted run: same winning option and at
// least one trade still pending.
func (s *Service) canResume(ctx context.Context, e *model.Event, winningOptionID string) (bool, error) {
	if e.WinningOptionID != winningOptionID {
		return false, nil
	}
	pending, err := s.store.ListTradesByEvent(ctx, e.ID, model.TradePending)
	if err != nil {
		return false, err
	}
	return len(pending) > 0, nil
}

// settlePendingTrades walks the pending set: winners are credited first
// and marked won only after the credit commits, so a crash or transient
// store failure leaves the trade pending and retryable rather than marked
// but unpaid. Losers settle to zero. Cancelled trades were never pending
// and are untouched.
func (s *Service) settlePendingTrades(ctx context.Context, eventID, winningOptionID string, at time.Time) (*model.SettlementResult, int) {
	result := &model.SettlementResult{
		EventID:         eventID,
		WinningOptionID: winningOptionID,
		TotalPayout:     decimal.Zero,
	}

	trades, err := s.store.ListTradesByEvent(ctx, eventID, model.TradePending)
	if err != nil {
		slog.Error("failed to list pending trades", "event", eventID, "err", err)
		return result, 1
	}

	failed := 0
	for _, t := range trades {
		if t.OptionID == winningOptionID {
			payout := t.PotentialPayout
			if err := s.creditWithRetry(ctx, t.UserID, payout); err != nil {
				slog.Error("payout credit failed, trade left pending",
					"trade", t.ID, "user", t.UserID, "err", err)
				failed++
				continue
			}
			if err := s.store.TransitionTrade(ctx, t.ID, model.TradePending, model.TradeWon, payout, &at); err != nil {
				slog.Error("failed to mark trade won after payout",
					"trade", t.ID, "err", err)
				failed++
				continue
			}
			result.TotalPayout = result.TotalPayout.Add(payout)
			metrics.TradesTotal.WithLabelValues("won").Inc()
		} else {
			if err := s.store.TransitionTrade(ctx, t.ID, model.TradePending, model.TradeLost, decimal.Zero, &at); err != nil {
				slog.Error("failed to mark trade lost", "trade", t.ID, "err", err)
				failed++
				continue
			}
			metrics.TradesTotal.WithLabelValues("lost").Inc()
		}
		result.SettledCount++
	}
	return result, failed
}

// creditWithRetry retries a failed payout credit once before giving up,
// per the transient-conflict policy. Business errors are not retried.
func (s *Service) creditWithRetry(ctx context.Context, userID string, amount decimal.Decimal) error {
	_, err := s.ledger.Credit(ctx, userID, amount)
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrUserNotFound) {
		return err
	}
	_, err = s.ledger.Credit(ctx, userID, amount)
	return err
}

// CancelEvent terminally cancels an event and refunds every pending
// trade. No settlement ever runs for a cancelled event.
func (s *Service) CancelEvent(ctx context.Context, eventID string) (int, error) {
	unlock := s.locks.acquire(eventID)
	defer unlock()

	if err := s.store.CancelEvent(ctx, eventID); err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyResolved):
			return 0, fmt.Errorf("event %s: %w", eventID, ErrAlreadySettled)
		case errors.Is(err, store.ErrEventFinal):
			// Already cancelled: resume only if an interrupted run left
			// refunds outstanding.
			pending, perr := s.store.ListTradesByEvent(ctx, eventID, model.TradePending)
			if perr != nil {
				return 0, perr
			}
			if len(pending) == 0 {
				return 0, fmt.Errorf("event %s: %w", eventID, ErrAlreadyCancelled)
			}
			slog.Info("resuming interrupted event cancellation", "event", eventID)
		default:
			return 0, err
		}
	}

	trades, err := s.store.ListTradesByEvent(ctx, eventID, model.TradePending)
	if err != nil {
		return 0, fmt.Errorf("event cancelled but refunds not started: %w", err)
	}

	refunded := 0
	for _, t := range trades {
		if err := s.creditWithRetry(ctx, t.UserID, t.Amount); err != nil {
			slog.Error("refund failed, trade left pending",
				"trade", t.ID, "user", t.UserID, "err", err)
			continue
		}
		if err := s.store.TransitionTrade(ctx, t.ID, model.TradePending, model.TradeCancelled, decimal.Zero, nil); err != nil {
			slog.Error("failed to mark trade cancelled after refund", "trade", t.ID, "err", err)
			continue
		}
		refunded++
		metrics.TradesTotal.WithLabelValues("cancelled").Inc()
	}

	s.notifier.Publish(ctx, notify.TopicCancelled(eventID), notify.Cancelled{
		EventID:       eventID,
		RefundedCount: refunded,
	})

	slog.Info("event cancelled", "event", eventID, "refunded_trades", refunded)

	if refunded < len(trades) {
		return refunded, fmt.Errorf("event %s, %d refunds outstanding: %w",
			eventID, len(trades)-refunded, ErrSettlementIncomplete)
	}
	return refunded, nil
}
