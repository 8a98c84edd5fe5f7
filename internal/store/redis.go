package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/predyx/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for events. Writes go to the primary store and invalidate the
// cache; reads check Redis first then fall back to the primary.
//
// Balances and trade statuses are never cached: they are the shared
// mutable resources the engine's conditional updates protect, and a stale
// read would defeat those guards. Event reads are allowed to be slightly
// stale snapshots.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Events (read-through) ---

func (s *CachedStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	data, err := s.rdb.Get(ctx, eventKey(id)).Bytes()
	if err == nil {
		var e model.Event
		if json.Unmarshal(data, &e) == nil {
			return &e, nil
		}
	}

	e, err := s.primary.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheEvent(ctx, e)
	return e, nil
}

func (s *CachedStore) CreateEvent(ctx context.Context, e *model.Event) error {
	if err := s.primary.CreateEvent(ctx, e); err != nil {
		return err
	}
	s.cacheEvent(ctx, e)
	return nil
}

// --- Event writes (invalidate) ---

func (s *CachedStore) ActivateEvent(ctx context.Context, id string) error {
	if err := s.primary.ActivateEvent(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, eventKey(id))
	return nil
}

func (s *CachedStore) ResolveEvent(ctx context.Context, id, winningOptionID string, at time.Time) error {
	if err := s.primary.ResolveEvent(ctx, id, winningOptionID, at); err != nil {
		return err
	}
	s.rdb.Del(ctx, eventKey(id))
	return nil
}

func (s *CachedStore) CancelEvent(ctx context.Context, id string) error {
	if err := s.primary.CancelEvent(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, eventKey(id))
	return nil
}

func (s *CachedStore) ApplyVolume(ctx context.Context, eventID, optionID string, delta decimal.Decimal, probabilities map[string]decimal.Decimal) error {
	if err := s.primary.ApplyVolume(ctx, eventID, optionID, delta, probabilities); err != nil {
		return err
	}
	// Invalidate; next read re-populates with fresh prices.
	s.rdb.Del(ctx, eventKey(eventID))
	return nil
}

// --- Passthrough (uncached: balances, trades, admin queries) ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.primary.GetUser(ctx, id)
}

func (s *CachedStore) SetUserActive(ctx context.Context, id string, active bool) error {
	return s.primary.SetUserActive(ctx, id, active)
}

func (s *CachedStore) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	return s.primary.AdjustBalance(ctx, userID, delta)
}

func (s *CachedStore) ListEvents(ctx context.Context, status string) ([]model.Event, error) {
	return s.primary.ListEvents(ctx, status)
}

func (s *CachedStore) CreateTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.CreateTrade(ctx, t)
}

func (s *CachedStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	return s.primary.GetTrade(ctx, id)
}

func (s *CachedStore) ListTradesByEvent(ctx context.Context, eventID, status string) ([]model.Trade, error) {
	return s.primary.ListTradesByEvent(ctx, eventID, status)
}

func (s *CachedStore) ListTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	return s.primary.ListTradesByUser(ctx, userID)
}

func (s *CachedStore) TransitionTrade(ctx context.Context, tradeID, from, to string, settledAmount decimal.Decimal, at *time.Time) error {
	return s.primary.TransitionTrade(ctx, tradeID, from, to, settledAmount, at)
}

func (s *CachedStore) Stats(ctx context.Context) (*model.Stats, error) {
	return s.primary.Stats(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheEvent(ctx context.Context, e *model.Event) {
	if data, err := json.Marshal(e); err == nil {
		s.rdb.Set(ctx, eventKey(e.ID), data, s.ttl)
	}
}

func eventKey(id string) string { return fmt.Sprintf("event:%s", id) }
