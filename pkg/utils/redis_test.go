package utils

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestSlotArgsValidated(t *testing.T) {
	ctx := context.Background()
	if _, err := AcquireSlot(ctx, nil, "k", 1, time.Second); err == nil {
		t.Fatalf("expected nil client error")
	}
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()
	if _, err := AcquireSlot(ctx, rdb, "", 1, time.Second); err == nil {
		t.Fatalf("expected key error")
	}
	if _, err := AcquireSlot(ctx, rdb, "k", 0, time.Second); err == nil {
		t.Fatalf("expected limit error")
	}
	if _, err := AcquireSlot(ctx, rdb, "k", 1, 0); err == nil {
		t.Fatalf("expected ttl error")
	}
	if err := ReleaseSlot(ctx, rdb, ""); err == nil {
		t.Fatalf("expected key error on release")
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected addr error")
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := OpenRedis(context.Background(), RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestAcquireSlot_EnforcesLimit(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	const key = "calls:inflight"

	for i := 0; i < 2; i++ {
		ok, err := AcquireSlot(ctx, rdb, key, 2, time.Minute)
		if err != nil || !ok {
			t.Fatalf("acquire %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := AcquireSlot(ctx, rdb, key, 2, time.Minute)
	if err != nil || ok {
		t.Fatalf("third acquire must be refused: ok=%v err=%v", ok, err)
	}
	if v, _ := mr.Get(key); v != "2" {
		t.Fatalf("refused acquire must not leave a slot behind, counter %q", v)
	}
	if ttl := mr.TTL(key); ttl <= 0 {
		t.Fatalf("expected counter ttl, got %v", ttl)
	}

	if err := ReleaseSlot(ctx, rdb, key); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = AcquireSlot(ctx, rdb, key, 2, time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestReleaseSlot_DeletesCounterAtZero(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	const key = "calls:inflight"

	if ok, err := AcquireSlot(ctx, rdb, key, 1, time.Minute); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	if err := ReleaseSlot(ctx, rdb, key); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists(key) {
		t.Fatalf("counter should be removed once every slot is back")
	}
}

func TestReleaseSlot_NeverNegativeAfterExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	const key = "calls:inflight"

	if ok, err := AcquireSlot(ctx, rdb, key, 2, time.Second); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	mr.FastForward(2 * time.Second)
	if mr.Exists(key) {
		t.Fatalf("counter should have expired")
	}

	// The slot taken before expiry is released late.
	if err := ReleaseSlot(ctx, rdb, key); err != nil {
		t.Fatalf("late release: %v", err)
	}
	if mr.Exists(key) {
		v, _ := mr.Get(key)
		t.Fatalf("late release left counter at %q", v)
	}

	// A negative counter would hand out more than limit slots.
	for i := 0; i < 2; i++ {
		if ok, err := AcquireSlot(ctx, rdb, key, 2, time.Minute); err != nil || !ok {
			t.Fatalf("acquire %d: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _ := AcquireSlot(ctx, rdb, key, 2, time.Minute); ok {
		t.Fatalf("limit exceeded after late release")
	}
}

func TestOpenRedis_FailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	if _, err := OpenRedis(context.Background(), RedisConfig{Addr: addr, DialTimeout: 100 * time.Millisecond, PingTimeout: 200 * time.Millisecond}); err == nil {
		t.Fatalf("expected ping error for closed server")
	}
}
