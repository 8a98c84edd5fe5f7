// Package market owns event option prices and aggregate traded volume.
// It is the only writer of option probabilities: every volume change runs
// through the pricing model and is persisted atomically with the volume
// adjustment. Event status itself is owned by the settlement engine.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predyx/market-engine/internal/model"
	"github.com/predyx/market-engine/internal/pricing"
	"github.com/predyx/market-engine/internal/store"
)

var (
	// ErrTooFewOptions is returned when an event has fewer than two options.
	ErrTooFewOptions = errors.New("market: event needs at least two options")

	// ErrEndTimeInPast is returned when an event's end time is not in the future.
	ErrEndTimeInPast = errors.New("market: event end time must be in the future")

	// ErrOptionNotFound is returned when an option does not belong to the event.
	ErrOptionNotFound = errors.New("market: option not found on event")
)

// Market recomputes prices as stake arrives and keeps the aggregate volume
// consistent with the set of live trades.
type Market struct {
	store store.Store
	model pricing.Model
}

// New creates a market service using the given pricing model.
func New(st store.Store, m pricing.Model) *Market {
	return &Market{store: st, model: m}
}

// OptionInput describes one outcome at event creation time.
type OptionInput struct {
	Label           string          `json:"label"`
	SeedProbability decimal.Decimal `json:"seed_probability"`
}

// CreateEvent validates and persists a new upcoming event. Every option
// starts priced at its seed probability with zero volume.
func (m *Market) CreateEvent(ctx context.Context, title, description, category string, endTime time.Time, options []OptionInput) (*model.Event, error) {
	if len(options) < 2 {
		return nil, ErrTooFewOptions
	}
	if !endTime.After(time.Now().UTC()) {
		return nil, ErrEndTimeInPast
	}

	e := &model.Event{
		ID:          uuid.New().String(),
		Title:       title,
		Description: description,
		Category:    category,
		Status:      model.EventUpcoming,
		EndTime:     endTime,
		Volume:      decimal.Zero,
		CreatedAt:   time.Now().UTC(),
	}
	for _, in := range options {
		if err := pricing.ValidateSeed(in.SeedProbability); err != nil {
			return nil, fmt.Errorf("option %q: %w", in.Label, err)
		}
		e.Options = append(e.Options, model.Option{
			ID:              uuid.New().String(),
			EventID:         e.ID,
			Label:           in.Label,
			SeedProbability: in.SeedProbability,
			Probability:     pricing.Clamp(in.SeedProbability),
			Volume:          decimal.Zero,
		})
	}

	if err := m.store.CreateEvent(ctx, e); err != nil {
		return nil, err
	}

	slog.Info("event created",
		"id", e.ID,
		"title", title,
		"options", len(e.Options),
		"end_time", endTime,
	)
	return e, nil
}

// Get returns the event with its current option prices and volume.
func (m *Market) Get(ctx context.Context, eventID string) (*model.Event, error) {
	return m.store.GetEvent(ctx, eventID)
}

// List returns events, optionally filtered by status.
func (m *Market) List(ctx context.Context, status string) ([]model.Event, error) {
	return m.store.ListEvents(ctx, status)
}

// Activate moves an upcoming event to active. Called on the first trade.
func (m *Market) Activate(ctx context.Context, eventID string) error {
	return m.store.ActivateEvent(ctx, eventID)
}

// RecordVolume adds a trade's stake to the event and the traded option,
// reprices every option through the pricing model, and persists the whole
// adjustment atomically. Returns the repriced options and new aggregate
// volume for the odds-update notification.
func (m *Market) RecordVolume(ctx context.Context, e *model.Event, optionID string, amount decimal.Decimal) ([]model.Option, decimal.Decimal, error) {
	return m.applyVolume(ctx, e, optionID, amount)
}

// ReverseVolume subtracts a cancelled trade's stake, the exact inverse of
// RecordVolume: the pricing model is a pure function of cumulative volume,
// so prices return to their pre-trade values.
func (m *Market) ReverseVolume(ctx context.Context, e *model.Event, optionID string, amount decimal.Decimal) ([]model.Option, decimal.Decimal, error) {
	return m.applyVolume(ctx, e, optionID, amount.Neg())
}

func (m *Market) applyVolume(ctx context.Context, e *model.Event, optionID string, delta decimal.Decimal) ([]model.Option, decimal.Decimal, error) {
	if e.FindOption(optionID) == nil {
		return nil, decimal.Zero, fmt.Errorf("event %s option %s: %w", e.ID, optionID, ErrOptionNotFound)
	}

	newTotal := e.Volume.Add(delta)
	updated := make([]model.Option, len(e.Options))
	probabilities := make(map[string]decimal.Decimal, len(e.Options))

	for i, opt := range e.Options {
		vol := opt.Volume
		if opt.ID == optionID {
			vol = vol.Add(delta)
		}
		p := m.model.Probability(opt.SeedProbability, vol, newTotal)
		probabilities[opt.ID] = p

		updated[i] = opt
		updated[i].Volume = vol
		updated[i].Probability = p
	}

	if err := m.store.ApplyVolume(ctx, e.ID, optionID, delta, probabilities); err != nil {
		return nil, decimal.Zero, err
	}
	return updated, newTotal, nil
}
