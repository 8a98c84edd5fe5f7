package market_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predyx/market-engine/internal/market"
	"github.com/predyx/market-engine/internal/model"
	"github.com/predyx/market-engine/internal/pricing"
	"github.com/predyx/market-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestMarket(t *testing.T) (*market.Market, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	pm, err := pricing.NewVolumeWeighted(d(500))
	if err != nil {
		t.Fatalf("pricing model: %v", err)
	}
	return market.New(ms, pm), ms
}

func binaryOptions() []market.OptionInput {
	return []market.OptionInput{
		{Label: "Yes", SeedProbability: d(0.6)},
		{Label: "No", SeedProbability: d(0.4)},
	}
}

func TestCreateEvent_Valid(t *testing.T) {
	m, _ := newTestMarket(t)

	e, err := m.CreateEvent(context.Background(), "Election winner", "who wins", "politics",
		time.Now().UTC().Add(24*time.Hour), binaryOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if e.Status != model.EventUpcoming {
		t.Errorf("expected status upcoming, got %s", e.Status)
	}
	if len(e.Options) != 2 {
		t.Fatalf("expected 2 options, got %d", len(e.Options))
	}
	if !e.Options[0].Probability.Equal(d(0.6)) {
		t.Errorf("option price should start at seed, got %s", e.Options[0].Probability)
	}
	if !e.Volume.IsZero() {
		t.Errorf("new event should have zero volume, got %s", e.Volume)
	}
}

func TestCreateEvent_TooFewOptions(t *testing.T) {
	m, _ := newTestMarket(t)

	_, err := m.CreateEvent(context.Background(), "solo", "", "other",
		time.Now().UTC().Add(time.Hour),
		[]market.OptionInput{{Label: "Only", SeedProbability: d(0.5)}})
	if !errors.Is(err, market.ErrTooFewOptions) {
		t.Errorf("expected ErrTooFewOptions, got %v", err)
	}
}

func TestCreateEvent_PastEndTime(t *testing.T) {
	m, _ := newTestMarket(t)

	_, err := m.CreateEvent(context.Background(), "late", "", "other",
		time.Now().UTC().Add(-time.Hour), binaryOptions())
	if !errors.Is(err, market.ErrEndTimeInPast) {
		t.Errorf("expected ErrEndTimeInPast, got %v", err)
	}
}

func TestCreateEvent_InvalidSeed(t *testing.T) {
	m, _ := newTestMarket(t)

	_, err := m.CreateEvent(context.Background(), "bad seed", "", "other",
		time.Now().UTC().Add(time.Hour),
		[]market.OptionInput{
			{Label: "A", SeedProbability: d(1.2)},
			{Label: "B", SeedProbability: d(0.4)},
		})
	if !errors.Is(err, pricing.ErrInvalidProbability) {
		t.Errorf("expected ErrInvalidProbability, got %v", err)
	}
}

func TestRecordVolume_MovesPrices(t *testing.T) {
	m, _ := newTestMarket(t)
	ctx := context.Background()

	e, _ := m.CreateEvent(ctx, "match", "", "sports",
		time.Now().UTC().Add(time.Hour), binaryOptions())
	staked := e.Options[0]

	options, total, err := m.RecordVolume(ctx, e, staked.ID, d(200))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !total.Equal(d(200)) {
		t.Errorf("expected total volume 200, got %s", total)
	}

	for _, opt := range options {
		if opt.ID == staked.ID {
			if opt.Probability.LessThanOrEqual(staked.Probability) {
				t.Errorf("staked option price should rise: %s -> %s",
					staked.Probability, opt.Probability)
			}
		} else if opt.Probability.GreaterThanOrEqual(d(0.4)) {
			t.Errorf("sibling price should fall, got %s", opt.Probability)
		}
		if opt.Probability.LessThan(pricing.MinProbability) ||
			opt.Probability.GreaterThan(pricing.MaxProbability) {
			t.Errorf("price out of bounds: %s", opt.Probability)
		}
	}

	// Persisted state matches the returned snapshot.
	stored, err := m.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if !stored.Volume.Equal(d(200)) {
		t.Errorf("stored volume should be 200, got %s", stored.Volume)
	}
	if !stored.FindOption(staked.ID).Probability.Equal(options[0].Probability) {
		t.Error("stored probability should match returned snapshot")
	}
}

func TestReverseVolume_RestoresPrices(t *testing.T) {
	m, _ := newTestMarket(t)
	ctx := context.Background()

	e, _ := m.CreateEvent(ctx, "match", "", "sports",
		time.Now().UTC().Add(time.Hour), binaryOptions())
	optionID := e.Options[0].ID
	before := e.Options[0].Probability

	if _, _, err := m.RecordVolume(ctx, e, optionID, d(200)); err != nil {
		t.Fatalf("record volume: %v", err)
	}

	during, _ := m.Get(ctx, e.ID)
	options, total, err := m.ReverseVolume(ctx, during, optionID, d(200))
	if err != nil {
		t.Fatalf("reverse volume: %v", err)
	}

	if !total.IsZero() {
		t.Errorf("expected volume back to 0, got %s", total)
	}
	for _, opt := range options {
		if opt.ID == optionID && !opt.Probability.Equal(before) {
			t.Errorf("price should be restored exactly: %s vs %s", before, opt.Probability)
		}
	}
}

func TestRecordVolume_UnknownOption(t *testing.T) {
	m, _ := newTestMarket(t)
	ctx := context.Background()

	e, _ := m.CreateEvent(ctx, "match", "", "sports",
		time.Now().UTC().Add(time.Hour), binaryOptions())

	_, _, err := m.RecordVolume(ctx, e, "no-such-option", d(10))
	if !errors.Is(err, market.ErrOptionNotFound) {
		t.Errorf("expected ErrOptionNotFound, got %v", err)
	}
}

func TestActivate_FirstTrade(t *testing.T) {
	m, _ := newTestMarket(t)
	ctx := context.Background()

	e, _ := m.CreateEvent(ctx, "match", "", "sports",
		time.Now().UTC().Add(time.Hour), binaryOptions())

	if err := m.Activate(ctx, e.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	got, _ := m.Get(ctx, e.ID)
	if got.Status != model.EventActive {
		t.Errorf("expected active, got %s", got.Status)
	}

	// Idempotent for an already-active event.
	if err := m.Activate(ctx, e.ID); err != nil {
		t.Errorf("second activate should be a no-op: %v", err)
	}
}
