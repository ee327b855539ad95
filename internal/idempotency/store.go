// Package idempotency remembers applied action outcomes so a repeated
// submission with the same idempotency key replays the first result instead
// of acting twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/cartable/model"
)

// DefaultTTL is used when a store is given a non-positive TTL.
const DefaultTTL = 24 * time.Hour

// Store provides deduplication for action submissions.
type Store interface {
	// Check looks up a previous outcome by key. A key recorded with a
	// different input hash yields a CONFLICT error.
	Check(ctx context.Context, key, inputHash string) (outcome *model.Outcome, found bool, err error)

	// Save records an outcome under key for ttl.
	Save(ctx context.Context, key, inputHash string, outcome model.Outcome, ttl time.Duration) error
}

type entry struct {
	InputHash string        `json:"input_hash"`
	Outcome   model.Outcome `json:"outcome"`
}

// Key builds the storage key for a subject's submission on an item.
func Key(subjectID, itemID, key string) string {
	return fmt.Sprintf("idem:%s:%s:%s", subjectID, itemID, key)
}

// HashAction hashes the parts of an action submission that must match for a
// replay to be valid.
func HashAction(actionID, comment string, expectedRevision int64) string {
	h := sha256.New()
	for _, part := range []string{actionID, comment, strconv.FormatInt(expectedRevision, 10)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func mismatch(key string) error {
	return model.NewConflictError(fmt.Sprintf("idempotency key %q already used with different input", key))
}

// --- MemoryStore ---

// MemoryStore is an in-memory Store with TTL support, for tests and
// single-instance deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	data      entry
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memEntry),
		now:     time.Now,
	}
}

// Check implements Store. Expired entries are dropped on read.
func (s *MemoryStore) Check(_ context.Context, key, inputHash string) (*model.Outcome, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if s.now().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	if e.data.InputHash != inputHash {
		return nil, true, mismatch(key)
	}
	out := e.data.Outcome
	return &out, true, nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, key, inputHash string, outcome model.Outcome, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memEntry{
		data:      entry{InputHash: inputHash, Outcome: outcome},
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// HealthCheck implements observability.HealthChecker.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

// Len returns the number of entries, expired ones included. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// --- RedisStore ---

// RedisStore keeps entries in Redis with native key expiry.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Check implements Store.
func (s *RedisStore) Check(ctx context.Context, key, inputHash string) (*model.Outcome, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("unmarshal idempotency entry %q: %w", key, err)
	}
	if e.InputHash != inputHash {
		return nil, true, mismatch(key)
	}
	return &e.Outcome, true, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, key, inputHash string, outcome model.Outcome, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	data, err := json.Marshal(entry{InputHash: inputHash, Outcome: outcome})
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// HealthCheck implements observability.HealthChecker.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
