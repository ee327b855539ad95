package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/cartable/model"
)

func appliedOutcome() model.Outcome {
	return model.Outcome{
		Kind: model.OutcomeApplied,
		Item: &model.CartableItem{
			ID:            "item-1",
			CurrentStepID: "verify",
			AssigneeRole:  "MANAGER",
			Status:        model.ItemStatusPending,
			Revision:      3,
		},
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisStore(client)
}

// conformance runs the behavior every Store must share.
func conformance(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("not found", func(t *testing.T) {
		s := newStore(t)
		out, found, err := s.Check(context.Background(), "idem:u:i:k", "h")
		if err != nil || found || out != nil {
			t.Errorf("Check = %v, %v, %v; want nil, false, nil", out, found, err)
		}
	})

	t.Run("save and replay", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Save(ctx, "k1", "h1", appliedOutcome(), time.Minute); err != nil {
			t.Fatalf("Save error: %v", err)
		}
		out, found, err := s.Check(ctx, "k1", "h1")
		if err != nil || !found {
			t.Fatalf("Check = found %v err %v", found, err)
		}
		if out.Kind != model.OutcomeApplied || out.Item == nil || out.Item.Revision != 3 || out.Item.AssigneeRole != "MANAGER" {
			t.Errorf("replayed outcome = %+v", out)
		}
	})

	t.Run("hash mismatch conflicts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_ = s.Save(ctx, "k1", "h1", appliedOutcome(), time.Minute)
		_, found, err := s.Check(ctx, "k1", "other")
		if !found {
			t.Error("found = false, want true")
		}
		if !model.IsCode(err, model.ErrConflict) {
			t.Errorf("err = %v, want CONFLICT", err)
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_ = s.Save(ctx, "k1", "h1", appliedOutcome(), time.Minute)
		second := appliedOutcome()
		second.Terminal = true
		_ = s.Save(ctx, "k1", "h2", second, time.Minute)
		out, _, err := s.Check(ctx, "k1", "h2")
		if err != nil || !out.Terminal {
			t.Errorf("Check after overwrite = %+v, %v", out, err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	conformance(t, func(*testing.T) Store { return NewMemoryStore() })
}

func TestRedisStore(t *testing.T) {
	conformance(t, func(t *testing.T) Store {
		_, s := newTestRedis(t)
		return s
	})
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_ = s.Save(ctx, "k1", "h1", appliedOutcome(), time.Minute)
	now = now.Add(2 * time.Minute)

	_, found, err := s.Check(ctx, "k1", "h1")
	if err != nil || found {
		t.Errorf("Check after expiry = found %v err %v, want miss", found, err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, expired entry should be removed on read", s.Len())
	}
}

func TestMemoryStore_defaultTTL(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_ = s.Save(context.Background(), "k1", "h1", appliedOutcome(), 0)
	now = now.Add(DefaultTTL - time.Second)
	if _, found, _ := s.Check(context.Background(), "k1", "h1"); !found {
		t.Error("entry saved with ttl 0 should live for DefaultTTL")
	}
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	mr, s := newTestRedis(t)
	ctx := context.Background()

	_ = s.Save(ctx, "k1", "h1", appliedOutcome(), time.Minute)
	mr.FastForward(2 * time.Minute)

	if _, found, _ := s.Check(ctx, "k1", "h1"); found {
		t.Error("entry should have expired")
	}
}

func TestRedisStore_HealthCheck(t *testing.T) {
	mr, s := newTestRedis(t)
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck error: %v", err)
	}
	mr.Close()
	if err := s.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck should fail once redis is gone")
	}
}

func TestKey(t *testing.T) {
	if got := Key("u-1", "item-9", "abc"); got != "idem:u-1:item-9:abc" {
		t.Errorf("Key() = %q", got)
	}
}

func TestHashAction(t *testing.T) {
	a := HashAction("approve", "ok", 0)
	if a != HashAction("approve", "ok", 0) {
		t.Error("hash should be deterministic")
	}
	if a == HashAction("reject", "ok", 0) || a == HashAction("approve", "", 0) || a == HashAction("approve", "ok", 4) {
		t.Error("hash should change with any part of the input")
	}
	if HashAction("ab", "c", 0) == HashAction("a", "bc", 0) {
		t.Error("parts should be separated")
	}
}
