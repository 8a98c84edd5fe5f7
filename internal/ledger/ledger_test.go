package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predyx/market-engine/internal/ledger"
	"github.com/predyx/market-engine/internal/model"
	"github.com/predyx/market-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedUser(t *testing.T, ms *store.MemoryStore, id string, balance float64) {
	t.Helper()
	err := ms.CreateUser(context.Background(), &model.User{
		ID:        id,
		Username:  id,
		Balance:   d(balance),
		Role:      model.RoleUser,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
}

func TestDebit_Success(t *testing.T) {
	ms := store.NewMemoryStore()
	seedUser(t, ms, "user1", 1000)
	l := ledger.New(ms)

	balance, err := l.Debit(context.Background(), "user1", d(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !balance.Equal(d(900)) {
		t.Errorf("expected balance 900, got %s", balance)
	}
}

func TestDebit_Insufficient(t *testing.T) {
	ms := store.NewMemoryStore()
	seedUser(t, ms, "user1", 50)
	l := ledger.New(ms)

	_, err := l.Debit(context.Background(), "user1", d(100))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// Failed debit must not mutate the balance.
	balance, _ := l.Balance(context.Background(), "user1")
	if !balance.Equal(d(50)) {
		t.Errorf("balance should be unchanged, got %s", balance)
	}
}

func TestDebit_ExactBalance(t *testing.T) {
	ms := store.NewMemoryStore()
	seedUser(t, ms, "user1", 100)
	l := ledger.New(ms)

	balance, err := l.Debit(context.Background(), "user1", d(100))
	if err != nil {
		t.Fatalf("debit to exactly zero should succeed: %v", err)
	}
	if !balance.IsZero() {
		t.Errorf("expected balance 0, got %s", balance)
	}
}

func TestDebit_NonPositiveAmount(t *testing.T) {
	ms := store.NewMemoryStore()
	seedUser(t, ms, "user1", 100)
	l := ledger.New(ms)

	for _, amount := range []decimal.Decimal{decimal.Zero, d(-10)} {
		if _, err := l.Debit(context.Background(), "user1", amount); !errors.Is(err, ledger.ErrInvalidAmount) {
			t.Errorf("expected ErrInvalidAmount for %s, got %v", amount, err)
		}
	}
}

func TestCredit_Success(t *testing.T) {
	ms := store.NewMemoryStore()
	seedUser(t, ms, "user1", 100)
	l := ledger.New(ms)

	balance, err := l.Credit(context.Background(), "user1", d(400))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !balance.Equal(d(500)) {
		t.Errorf("expected balance 500, got %s", balance)
	}
}

func TestCredit_UserNotFound(t *testing.T) {
	ms := store.NewMemoryStore()
	l := ledger.New(ms)

	_, err := l.Credit(context.Background(), "ghost", d(10))
	if !errors.Is(err, ledger.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

// Concurrent debits must not both pass the balance check against a stale
// read: with balance 100 and ten concurrent debits of 30, at most three
// can succeed.
func TestDebit_ConcurrentNoLostUpdates(t *testing.T) {
	ms := store.NewMemoryStore()
	seedUser(t, ms, "user1", 100)
	l := ledger.New(ms)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Debit(context.Background(), "user1", d(30)); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 3 {
		t.Errorf("expected exactly 3 successful debits of 30 from 100, got %d", succeeded)
	}
	balance, _ := l.Balance(context.Background(), "user1")
	if !balance.Equal(d(10)) {
		t.Errorf("expected final balance 10, got %s", balance)
	}
}
