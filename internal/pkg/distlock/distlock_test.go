package distlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func redisLockPair(t *testing.T, key string) (*RedisLock, *RedisLock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLock(client, key, time.Minute), NewRedisLock(client, key, time.Minute)
}

func TestRedisLockMutualExclusion(t *testing.T) {
	ctx := context.Background()
	a, b := redisLockPair(t, "activation-sweep")

	ok, err := a.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = b.Acquire(ctx)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("second holder acquired a held lock")
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = b.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestRedisLockReleaseRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	a, b := redisLockPair(t, "completion-audit")

	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("acquire failed")
	}
	// A non-owner release must not free the lock.
	if err := b.Release(ctx); err != nil {
		t.Fatalf("foreign release errored: %v", err)
	}
	if ok, _ := b.Acquire(ctx); ok {
		t.Fatal("lock was freed by a non-owner")
	}
}

func TestWithLockSkipsWhenHeld(t *testing.T) {
	ctx := context.Background()
	a, b := redisLockPair(t, "sweep")

	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("acquire failed")
	}

	ran := false
	ok, err := WithLock(ctx, b, func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if ok || ran {
		t.Fatal("WithLock ran despite the lock being held elsewhere")
	}
}

func TestWithLockRunsAndReleases(t *testing.T) {
	ctx := context.Background()
	a, b := redisLockPair(t, "sweep2")

	wantErr := errors.New("sweep failed")
	ok, err := WithLock(ctx, a, func(context.Context) error { return wantErr })
	if !ok || !errors.Is(err, wantErr) {
		t.Fatalf("WithLock: ok=%v err=%v", ok, err)
	}

	// The lock is released even when fn fails.
	if ok, _ := b.Acquire(ctx); !ok {
		t.Fatal("lock was not released after WithLock")
	}
}
