package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier publishes payloads to Redis pub/sub channels, one channel
// per topic. Downstream gateways subscribe with PSUBSCRIBE event:*.
type RedisNotifier struct {
	rdb *redis.Client
}

// NewRedisNotifier creates a Redis-backed notifier.
func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

func (n *RedisNotifier) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	count(payload)
	return n.rdb.Publish(ctx, topic, data).Err()
}
