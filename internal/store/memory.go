package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predyx/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence). All
// conditional updates run under a single mutex, which gives them the
// same atomicity the SQL implementation gets from row locks.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]*model.User
	events map[string]*model.Event
	trades map[string]*model.Trade
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]*model.User),
		events: make(map[string]*model.Event),
		trades: make(map[string]*model.Trade),
	}
}

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("user %s: %w", u.ID, ErrDuplicate)
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrUserNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) SetUserActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, ErrUserNotFound)
	}
	u.Active = active
	return nil
}

func (s *MemoryStore) AdjustBalance(_ context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return decimal.Zero, fmt.Errorf("user %s: %w", userID, ErrUserNotFound)
	}
	next := u.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, fmt.Errorf("user %s: %w", userID, ErrInsufficientBalance)
	}
	u.Balance = next
	return next, nil
}

// --- Events ---

func (s *MemoryStore) CreateEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[e.ID]; ok {
		return fmt.Errorf("event %s: %w", e.ID, ErrDuplicate)
	}
	s.events[e.ID] = copyEvent(e)
	return nil
}

func (s *MemoryStore) GetEvent(_ context.Context, id string) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, ErrEventNotFound)
	}
	return copyEvent(e), nil
}

func (s *MemoryStore) ListEvents(_ context.Context, status string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]model.Event, 0, len(s.events))
	for _, e := range s.events {
		if status != "" && e.Status != status {
			continue
		}
		events = append(events, *copyEvent(e))
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
	return events, nil
}

func (s *MemoryStore) ActivateEvent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[id]
	if !ok {
		return fmt.Errorf("event %s: %w", id, ErrEventNotFound)
	}
	if e.Status == model.EventUpcoming {
		e.Status = model.EventActive
	}
	return nil
}

func (s *MemoryStore) ResolveEvent(_ context.Context, id, winningOptionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[id]
	if !ok {
		return fmt.Errorf("event %s: %w", id, ErrEventNotFound)
	}
	switch e.Status {
	case model.EventResolved:
		return fmt.Errorf("event %s: %w", id, ErrAlreadyResolved)
	case model.EventCancelled:
		return fmt.Errorf("event %s: %w", id, ErrEventFinal)
	}

	e.Status = model.EventResolved
	e.WinningOptionID = winningOptionID
	resolvedAt := at
	e.ResolvedAt = &resolvedAt
	for i := range e.Options {
		e.Options[i].IsCorrect = e.Options[i].ID == winningOptionID
	}
	return nil
}

func (s *MemoryStore) CancelEvent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[id]
	if !ok {
		return fmt.Errorf("event %s: %w", id, ErrEventNotFound)
	}
	switch e.Status {
	case model.EventResolved:
		return fmt.Errorf("event %s: %w", id, ErrAlreadyResolved)
	case model.EventCancelled:
		return fmt.Errorf("event %s: %w", id, ErrEventFinal)
	}
	e.Status = model.EventCancelled
	return nil
}

func (s *MemoryStore) ApplyVolume(_ context.Context, eventID, optionID string, delta decimal.Decimal, probabilities map[string]decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID]
	if !ok {
		return fmt.Errorf("event %s: %w", eventID, ErrEventNotFound)
	}

	e.Volume = e.Volume.Add(delta)
	for i := range e.Options {
		opt := &e.Options[i]
		if opt.ID == optionID {
			opt.Volume = opt.Volume.Add(delta)
		}
		if p, ok := probabilities[opt.ID]; ok {
			opt.Probability = p
		}
	}
	return nil
}

// --- Trades ---

func (s *MemoryStore) CreateTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trades[t.ID]; ok {
		return fmt.Errorf("trade %s: %w", t.ID, ErrDuplicate)
	}
	cp := *t
	s.trades[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTrade(_ context.Context, id string) (*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trades[id]
	if !ok {
		return nil, fmt.Errorf("trade %s: %w", id, ErrTradeNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTradesByEvent(_ context.Context, eventID, status string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.EventID != eventID {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		result = append(result, *t)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) ListTradesByUser(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.UserID == userID {
			result = append(result, *t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) TransitionTrade(_ context.Context, tradeID, from, to string, settledAmount decimal.Decimal, at *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[tradeID]
	if !ok {
		return fmt.Errorf("trade %s: %w", tradeID, ErrTradeNotFound)
	}
	if t.Status != from {
		return fmt.Errorf("trade %s is %s, expected %s: %w", tradeID, t.Status, from, ErrTradeConflict)
	}
	t.Status = to
	t.SettledAmount = settledAmount
	if at != nil {
		settledAt := *at
		t.SettledAt = &settledAt
	}
	return nil
}

func (s *MemoryStore) Stats(_ context.Context) (*model.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &model.Stats{
		TotalUsers:  len(s.users),
		TotalEvents: len(s.events),
		TotalTrades: len(s.trades),
		TotalVolume: decimal.Zero,
	}
	for _, e := range s.events {
		if e.Status == model.EventUpcoming || e.Status == model.EventActive {
			stats.ActiveEvents++
		}
	}
	for _, t := range s.trades {
		if t.Status != model.TradeCancelled {
			stats.TotalVolume = stats.TotalVolume.Add(t.Amount)
		}
	}
	return stats, nil
}

// copyEvent deep-copies an event so callers cannot mutate stored state.
func copyEvent(e *model.Event) *model.Event {
	cp := *e
	cp.Options = make([]model.Option, len(e.Options))
	copy(cp.Options, e.Options)
	if e.ResolvedAt != nil {
		resolvedAt := *e.ResolvedAt
		cp.ResolvedAt = &resolvedAt
	}
	return &cp
}
