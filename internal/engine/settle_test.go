package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/predyx/market-engine/internal/model"
	"github.com/predyx/market-engine/internal/pricing"
)

// The canonical lifecycle: 1000 staked down to 900 on a 0.25 option,
// settled as the winner for a 400 payout, ending at 1300. The loser's
// stake is gone at placement time and stays gone.
func TestSettleEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedUser(t, f, "alice", d(1000))
	seedUser(t, f, "bob", d(500))
	e := seedEvent(t, f)
	winOpt, loseOpt := e.Options[0].ID, e.Options[1].ID

	winner, err := f.svc.PlaceTrade(ctx, "alice", e.ID, winOpt, d(100))
	if err != nil {
		t.Fatalf("PlaceTrade alice: %v", err)
	}
	loser, err := f.svc.PlaceTrade(ctx, "bob", e.ID, loseOpt, d(50))
	if err != nil {
		t.Fatalf("PlaceTrade bob: %v", err)
	}
	if got := balance(t, f, "alice"); !got.Equal(d(900)) {
		t.Fatalf("alice pre-settlement balance = %s, want 900", got)
	}

	result, err := f.svc.SettleEvent(ctx, e.ID, winOpt)
	if err != nil {
		t.Fatalf("SettleEvent: %v", err)
	}
	if result.SettledCount != 2 {
		t.Errorf("settled count = %d, want 2", result.SettledCount)
	}
	if !result.TotalPayout.Equal(d(400)) {
		t.Errorf("total payout = %s, want 400", result.TotalPayout)
	}

	if got := balance(t, f, "alice"); !got.Equal(d(1300)) {
		t.Errorf("alice balance = %s, want 1300", got)
	}
	if got := balance(t, f, "bob"); !got.Equal(d(450)) {
		t.Errorf("bob balance = %s, want 450 (unchanged by settlement)", got)
	}

	w, _ := f.store.GetTrade(ctx, winner.ID)
	if w.Status != model.TradeWon || !w.SettledAmount.Equal(d(400)) {
		t.Errorf("winner = %s/%s, want won/400", w.Status, w.SettledAmount)
	}
	if w.SettledAt == nil {
		t.Error("winner SettledAt not set")
	}
	l, _ := f.store.GetTrade(ctx, loser.ID)
	if l.Status != model.TradeLost || !l.SettledAmount.IsZero() {
		t.Errorf("loser = %s/%s, want lost/0", l.Status, l.SettledAmount)
	}

	got, _ := f.store.GetEvent(ctx, e.ID)
	if got.Status != model.EventResolved {
		t.Errorf("event status = %s, want %s", got.Status, model.EventResolved)
	}
	if got.WinningOptionID != winOpt {
		t.Errorf("winning option = %s, want %s", got.WinningOptionID, winOpt)
	}
	if !got.FindOption(winOpt).IsCorrect || got.FindOption(loseOpt).IsCorrect {
		t.Error("is_correct flags not set per outcome")
	}
}

// Only the first settlement mutates anything; repeats are rejected with
// the same or a different winning option.
func TestSettleEventTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedUser(t, f, "alice", d(1000))
	e := seedEvent(t, f)
	winOpt, otherOpt := e.Options[0].ID, e.Options[1].ID

	if _, err := f.svc.PlaceTrade(ctx, "alice", e.ID, winOpt, d(100)); err != nil {
		t.Fatalf("PlaceTrade: %v", err)
	}
	if _, err := f.svc.SettleEvent(ctx, e.ID, winOpt); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	after := balance(t, f, "alice")

	if _, err := f.svc.SettleEvent(ctx, e.ID, winOpt); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("same option resettle: err = %v, want ErrAlreadySettled", err)
	}
	if _, err := f.svc.SettleEvent(ctx, e.ID, otherOpt); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("different option resettle: err = %v, want ErrAlreadySettled", err)
	}

	if got := balance(t, f, "alice"); !got.Equal(after) {
		t.Errorf("balance moved on resettle: %s != %s", got, after)
	}
	got, _ := f.store.GetEvent(ctx, e.ID)
	if got.WinningOptionID != winOpt {
		t.Errorf("winning option changed to %s", got.WinningOptionID)
	}
}

// Payout uses the probability captured when the trade was placed, not
// the probability at settlement time.
func TestSettleEventSnapshotPayout(t *testing.T) {
	vw, err := pricing.NewVolumeWeighted(d(100))
	if err != nil {
		t.Fatalf("NewVolumeWeighted: %v", err)
	}
	f := newFixtureWithModel(t, vw)
	ctx := context.Background()
	seedUser(t, f, "alice", d(1000))
	seedUser(t, f, "whale", d(100000))
	e := seedEvent(t, f)
	winOpt := e.Options[0].ID

	trade, err := f.svc.PlaceTrade(ctx, "alice", e.ID, winOpt, d(100))
	if err != nil {
		t.Fatalf("PlaceTrade alice: %v", err)
	}
	snapshot := trade.Probability

	// A big later stake on the same option drives its price up.
	if _, err := f.svc.PlaceTrade(ctx, "whale", e.ID, winOpt, d(50000)); err != nil {
		t.Fatalf("PlaceTrade whale: %v", err)
	}
	moved, _ := f.store.GetEvent(ctx, e.ID)
	if moved.FindOption(winOpt).Probability.Equal(snapshot) {
		t.Fatal("expected the whale stake to move the price")
	}

	if _, err := f.svc.SettleEvent(ctx, e.ID, winOpt); err != nil {
		t.Fatalf("SettleEvent: %v", err)
	}

	settled, _ := f.store.GetTrade(ctx, trade.ID)
	want := d(100).Div(snapshot).Round(pricing.PriceScale)
	if !settled.SettledAmount.Equal(want) {
		t.Errorf("settled amount = %s, want %s (stake / snapshot probability)",
			settled.SettledAmount, want)
	}
}

func TestNoTradingAfterResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedUser(t, f, "alice", d(1000))
	e := seedEvent(t, f)
	winOpt := e.Options[0].ID

	trade, err := f.svc.PlaceTrade(ctx, "alice", e.ID, winOpt, d(100))
	if err != nil {
		t.Fatalf("PlaceTrade: %v", err)
	}
	if _, err := f.svc.SettleEvent(ctx, e.ID, winOpt); err != nil {
		t.Fatalf("SettleEvent: %v", err)
	}

	if _, err := f.svc.PlaceTrade(ctx, "alice", e.ID, winOpt, d(10)); !errors.Is(err, ErrEventNotTradeable) {
		t.Errorf("place after settle: err = %v, want ErrEventNotTradeable", err)
	}
	if _, err := f.svc.CancelTrade(ctx, trade.ID, "alice"); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("cancel after settle: err = %v, want ErrNotCancellable", err)
	}
}

func TestSettleEventUnknownOption(t *testing.T) {
	f := newFixture(t)
	e := seedEvent(t, f)

	if _, err := f.svc.SettleEvent(context.Background(), e.ID, "nope"); !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("err = %v, want ErrInvalidOption", err)
	}
	got, _ := f.store.GetEvent(context.Background(), e.ID)
	if got.Status == model.EventResolved {
		t.Error("event resolved despite unknown winning option")
	}
}

// A payout that cannot be credited leaves its trade pending; a repeat
// call with the same winning option settles only the remainder.
func TestSettleEventResumesAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedUser(t, f, "alice", d(1000))
	e := seedEvent(t, f)
	winOpt := e.Options[0].ID

	good, err := f.svc.PlaceTrade(ctx, "alice", e.ID, winOpt, d(100))
	if err != nil {
		t.Fatalf("PlaceTrade: %v", err)
	}

	// A trade whose owner does not exist yet: its payout credit fails.
	orphan := &model.Trade{
		ID:              uuid.New().String(),
		UserID:          "carol",
		EventID:         e.ID,
		OptionID:        winOpt,
		Amount:          d(40),
		Probability:     d(0.25),
		PotentialPayout: d(160),
		Status:          model.TradePending,
		SettledAmount:   decimal.Zero,
		CreatedAt:       time.Now().UTC(),
	}
	if err := f.store.CreateTrade(ctx, orphan); err != nil {
		t.Fatalf("CreateTrade: %v", err)
	}

	result, err := f.svc.SettleEvent(ctx, e.ID, winOpt)
	if !errors.Is(err, ErrSettlementIncomplete) {
		t.Fatalf("err = %v, want ErrSettlementIncomplete", err)
	}
	if result.SettledCount != 1 {
		t.Errorf("settled count = %d, want 1", result.SettledCount)
	}
	g, _ := f.store.GetTrade(ctx, good.ID)
	if g.Status != model.TradeWon {
		t.Errorf("good trade = %s, want won", g.Status)
	}
	o, _ := f.store.GetTrade(ctx, orphan.ID)
	if o.Status != model.TradePending {
		t.Fatalf("orphan trade = %s, want still pending", o.Status)
	}

	// Retrying with a different option is not a resume.
	otherOpt := e.Options[1].ID
	if _, err := f.svc.SettleEvent(ctx, e.ID, otherOpt); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("different-option retry: err = %v, want ErrAlreadySettled", err)
	}

	seedUser(t, f, "carol", d(0))
	result, err = f.svc.SettleEvent(ctx, e.ID, winOpt)
	if err != nil {
		t.Fatalf("resume settle: %v", err)
	}
	if result.SettledCount != 1 {
		t.Errorf("resumed settled count = %d, want 1 (only the remainder)", result.SettledCount)
	}
	if got := balance(t, f, "carol"); !got.Equal(d(160)) {
		t.Errorf("carol balance = %s, want 160", got)
	}
	// Alice was paid exactly once across both runs.
	if got := balance(t, f, "alice"); !got.Equal(d(1300)) {
		t.Errorf("alice balance = %s, want 1300", got)
	}
}

// initialTotal + refunds + payouts - stakes == finalTotal, across a mixed
// sequence of placements, a cancellation, and a settlement.
func TestConservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	users := []string{"u1", "u2", "u3"}
	initial := decimal.Zero
	for _, u := range users {
		seedUser(t, f, u, d(1000))
		initial = initial.Add(d(1000))
	}
	e := seedEvent(t, f)
	winOpt, loseOpt := e.Options[0].ID, e.Options[1].ID

	stakes := decimal.Zero
	t1, err := f.svc.PlaceTrade(ctx, "u1", e.ID, winOpt, d(100))
	if err != nil {
		t.Fatalf("PlaceTrade u1: %v", err)
	}
	stakes = stakes.Add(t1.Amount)
	t2, err := f.svc.PlaceTrade(ctx, "u2", e.ID, loseOpt, d(200))
	if err != nil {
		t.Fatalf("PlaceTrade u2: %v", err)
	}
	stakes = stakes.Add(t2.Amount)
	t3, err := f.svc.PlaceTrade(ctx, "u3", e.ID, winOpt, d(300))
	if err != nil {
		t.Fatalf("PlaceTrade u3: %v", err)
	}
	stakes = stakes.Add(t3.Amount)

	refunds := decimal.Zero
	if _, err := f.svc.CancelTrade(ctx, t3.ID, "u3"); err != nil {
		t.Fatalf("CancelTrade: %v", err)
	}
	refunds = refunds.Add(t3.Amount)

	result, err := f.svc.SettleEvent(ctx, e.ID, winOpt)
	if err != nil {
		t.Fatalf("SettleEvent: %v", err)
	}

	final := decimal.Zero
	for _, u := range users {
		final = final.Add(balance(t, f, u))
	}
	want := initial.Add(refunds).Add(result.TotalPayout).Sub(stakes)
	if !final.Equal(want) {
		t.Errorf("final total = %s, want %s", final, want)
	}
}

// Of N racing settlements exactly one succeeds; the winner is credited
// exactly once.
func TestSettleEventConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedUser(t, f, "alice", d(1000))
	e := seedEvent(t, f)
	winOpt := e.Options[0].ID

	if _, err := f.svc.PlaceTrade(ctx, "alice", e.ID, winOpt, d(100)); err != nil {
		t.Fatalf("PlaceTrade: %v", err)
	}

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.SettleEvent(ctx, e.ID, winOpt)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrAlreadySettled):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("%d settlements succeeded, want exactly 1", succeeded)
	}
	if got := balance(t, f, "alice"); !got.Equal(d(1300)) {
		t.Errorf("balance = %s, want 1300 (credited once)", got)
	}
}

func TestCancelEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedUser(t, f, "alice", d(1000))
	seedUser(t, f, "bob", d(500))
	e := seedEvent(t, f)

	ta, err := f.svc.PlaceTrade(ctx, "alice", e.ID, e.Options[0].ID, d(100))
	if err != nil {
		t.Fatalf("PlaceTrade alice: %v", err)
	}
	tb, err := f.svc.PlaceTrade(ctx, "bob", e.ID, e.Options[1].ID, d(50))
	if err != nil {
		t.Fatalf("PlaceTrade bob: %v", err)
	}

	refunded, err := f.svc.CancelEvent(ctx, e.ID)
	if err != nil {
		t.Fatalf("CancelEvent: %v", err)
	}
	if refunded != 2 {
		t.Errorf("refunded = %d, want 2", refunded)
	}
	if got := balance(t, f, "alice"); !got.Equal(d(1000)) {
		t.Errorf("alice balance = %s, want 1000", got)
	}
	if got := balance(t, f, "bob"); !got.Equal(d(500)) {
		t.Errorf("bob balance = %s, want 500", got)
	}
	for _, id := range []string{ta.ID, tb.ID} {
		tr, _ := f.store.GetTrade(ctx, id)
		if tr.Status != model.TradeCancelled {
			t.Errorf("trade %s = %s, want cancelled", id, tr.Status)
		}
	}

	got, _ := f.store.GetEvent(ctx, e.ID)
	if got.Status != model.EventCancelled {
		t.Errorf("event status = %s, want %s", got.Status, model.EventCancelled)
	}

	if _, err := f.svc.CancelEvent(ctx, e.ID); !errors.Is(err, ErrAlreadyCancelled) {
		t.Errorf("second cancel: err = %v, want ErrAlreadyCancelled", err)
	}
	if _, err := f.svc.SettleEvent(ctx, e.ID, e.Options[0].ID); !errors.Is(err, ErrAlreadyCancelled) {
		t.Errorf("settle after cancel: err = %v, want ErrAlreadyCancelled", err)
	}
	if _, err := f.svc.PlaceTrade(ctx, "alice", e.ID, e.Options[0].ID, d(10)); !errors.Is(err, ErrEventNotTradeable) {
		t.Errorf("place after cancel: err = %v, want ErrEventNotTradeable", err)
	}
}

func TestCancelEventAfterSettle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedUser(t, f, "alice", d(1000))
	e := seedEvent(t, f)

	if _, err := f.svc.PlaceTrade(ctx, "alice", e.ID, e.Options[0].ID, d(100)); err != nil {
		t.Fatalf("PlaceTrade: %v", err)
	}
	if _, err := f.svc.SettleEvent(ctx, e.ID, e.Options[0].ID); err != nil {
		t.Fatalf("SettleEvent: %v", err)
	}
	if _, err := f.svc.CancelEvent(ctx, e.ID); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("err = %v, want ErrAlreadySettled", err)
	}
}
