// Package notify defines the outbound notification boundary. The engine
// publishes a payload after each committed state change; delivery, retry,
// and fan-out are the transport's concern. Implementations include an
// in-process WebSocket hub, a Redis pub/sub publisher, and a Kafka
// producer.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/predyx/market-engine/internal/metrics"
)

// Topic name builders. One topic family per event.
func TopicOdds(eventID string) string      { return fmt.Sprintf("event:%s:odds-update", eventID) }
func TopicTrade(eventID string) string     { return fmt.Sprintf("event:%s:trade-update", eventID) }
func TopicSettled(eventID string) string   { return fmt.Sprintf("event:%s:settled", eventID) }
func TopicCancelled(eventID string) string { return fmt.Sprintf("event:%s:cancelled", eventID) }

// OptionPrice is one option's live price inside an odds update.
type OptionPrice struct {
	ID          string          `json:"id"`
	Probability decimal.Decimal `json:"probability"`
}

// OddsUpdate is published after a trade or cancellation moves prices.
type OddsUpdate struct {
	EventID string          `json:"eventId"`
	Options []OptionPrice   `json:"options"`
	Volume  decimal.Decimal `json:"volume"`
}

// TradeUpdate is published after a trade changes status.
type TradeUpdate struct {
	TradeID string `json:"tradeId"`
	Status  string `json:"status"`
}

// Settled is published exactly once per settled event: one message for
// the whole event, not one per trade.
type Settled struct {
	EventID         string          `json:"eventId"`
	WinningOptionID string          `json:"winningOptionId"`
	TotalPayout     decimal.Decimal `json:"totalPayout"`
}

// Cancelled is published exactly once per cancelled event.
type Cancelled struct {
	EventID       string `json:"eventId"`
	RefundedCount int    `json:"refundedCount"`
}

// Notifier delivers a payload to everyone subscribed to a topic. The
// engine only calls Publish after the corresponding mutation is durably
// committed; a failed publish is logged, never propagated back into the
// trade path.
type Notifier interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Fanout publishes to every wrapped notifier. Errors are logged and
// swallowed so one slow transport cannot fail the others.
type Fanout []Notifier

func (f Fanout) Publish(ctx context.Context, topic string, payload any) error {
	for _, n := range f {
		if err := n.Publish(ctx, topic, payload); err != nil {
			slog.Warn("notification publish failed", "topic", topic, "err", err)
		}
	}
	return nil
}

// count records a publish in metrics, labelled by payload kind.
func count(payload any) {
	switch payload.(type) {
	case OddsUpdate:
		metrics.NotificationsTotal.WithLabelValues("odds-update").Inc()
	case TradeUpdate:
		metrics.NotificationsTotal.WithLabelValues("trade-update").Inc()
	case Settled:
		metrics.NotificationsTotal.WithLabelValues("settled").Inc()
	case Cancelled:
		metrics.NotificationsTotal.WithLabelValues("cancelled").Inc()
	default:
		metrics.NotificationsTotal.WithLabelValues("other").Inc()
	}
}
