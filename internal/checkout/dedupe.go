package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers processed webhook event IDs so duplicate deliveries
// are acknowledged without being re-applied.
type Deduper interface {
	// Seen reports whether the event was already processed.
	Seen(ctx context.Context, eventID string) (bool, error)

	// Mark records the event as processed.
	Mark(ctx context.Context, eventID string) error
}

// RedisDeduper stores processed event IDs in Redis with a TTL. Processor
// retry windows are measured in days, so a bounded retention is enough.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisDeduper{
		client: client,
		ttl:    ttl,
		prefix: "webhook:event:",
	}
}

func (d *RedisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := d.client.Exists(ctx, d.prefix+eventID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDeduper) Mark(ctx context.Context, eventID string) error {
	return d.client.Set(ctx, d.prefix+eventID, 1, d.ttl).Err()
}

// MemoryDeduper is an in-process Deduper for tests.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]struct{})}
}

func (d *MemoryDeduper) Seen(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[eventID]
	return ok, nil
}

func (d *MemoryDeduper) Mark(_ context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[eventID] = struct{}{}
	return nil
}
