package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisNamespace = "touchpoint:fired"

// Redis stores ledger markers as keys in Redis. Markers expire after TTL so
// that yearly keys do not accumulate forever; TTL must exceed the longest
// recurrence (one year).
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis wraps an existing client. A zero ttl keeps markers forever.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// DialRedis connects to a single Redis node.
func DialRedis(ctx context.Context, addr, password string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to reach redis at %s: %w", addr, err)
	}
	return NewRedis(rdb, 400*24*time.Hour), nil
}

func (r *Redis) key(entityID, occurrenceKey string) string {
	return redisNamespace + ":" + entityID + ":" + occurrenceKey
}

func (r *Redis) HasFired(ctx context.Context, entityID, occurrenceKey string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(entityID, occurrenceKey)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// MarkFired uses SET NX so the first mark time is preserved.
func (r *Redis) MarkFired(ctx context.Context, entityID, occurrenceKey string) error {
	stamp := time.Now().UTC().Format(time.RFC3339)
	if err := r.client.SetNX(ctx, r.key(entityID, occurrenceKey), stamp, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
