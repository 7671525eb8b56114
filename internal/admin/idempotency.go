package admin

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Result is the stored outcome of a completed override. Replaying the
// same idempotency key returns it without touching the processor again.
type Result struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Status         string    `json:"status"`
	PlanID         string    `json:"plan_id"`
	ReceiptID      string    `json:"receipt_id,omitempty"`
	Amount         string    `json:"amount,omitempty"`
}

// KeyStore persists override outcomes keyed by
// subscription+operation+admin-supplied idempotency key.
type KeyStore interface {
	// Get returns the stored result, or nil when the key is unused.
	Get(ctx context.Context, key string) (*Result, error)

	// Put stores the result for the key.
	Put(ctx context.Context, key string, res Result) error
}

// RedisKeyStore keeps override outcomes in Redis with a bounded
// retention; retried admin requests arrive within minutes, not weeks.
type RedisKeyStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisKeyStore(client *redis.Client, ttl time.Duration) *RedisKeyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisKeyStore{
		client: client,
		ttl:    ttl,
		prefix: "admin:override:",
	}
}

func (s *RedisKeyStore) Get(ctx context.Context, key string) (*Result, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *RedisKeyStore) Put(ctx context.Context, key string, res Result) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, raw, s.ttl).Err()
}

// MemoryKeyStore is an in-process KeyStore for tests.
type MemoryKeyStore struct {
	mu      sync.Mutex
	results map[string]Result
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{results: make(map[string]Result)}
}

func (s *MemoryKeyStore) Get(_ context.Context, key string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res, ok := s.results[key]; ok {
		return &res, nil
	}
	return nil, nil
}

func (s *MemoryKeyStore) Put(_ context.Context, key string, res Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[key] = res
	return nil
}
