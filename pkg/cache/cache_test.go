package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type entry struct {
	JobID string  `json:"job_id"`
	Value float64 `json:"value"`
}

func TestMemoryCache_RoundTripStruct(t *testing.T) {
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()
	ctx := context.Background()

	if err := mc.Set(ctx, "a", entry{JobID: "abc123", Value: 1.5}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got entry
	if err := mc.Get(ctx, "a", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.JobID != "abc123" || got.Value != 1.5 {
		t.Fatalf("unexpected value: %+v", got)
	}
}

func TestMemoryCache_ExpiryAndEviction(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryCleanup(0))
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "gone", "x", time.Nanosecond)
	time.Sleep(2 * time.Millisecond)
	var s string
	if err := mc.Get(ctx, "gone", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss for expired key, got %v", err)
	}

	_ = mc.Set(ctx, "k1", "1", time.Minute)
	time.Sleep(time.Millisecond)
	_ = mc.Set(ctx, "k2", "2", time.Minute)
	time.Sleep(time.Millisecond)
	_ = mc.Set(ctx, "k3", "3", time.Minute)

	if ok, _ := mc.Exists(ctx, "k1"); ok {
		t.Fatalf("expected k1 to be evicted")
	}
	if ok, _ := mc.Exists(ctx, "k3"); !ok {
		t.Fatalf("expected k3 present")
	}
}

func TestRedisCache_PrefixAndMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rc := NewRedisCacheFromClient(client, "qg")
	ctx := context.Background()

	if err := rc.Set(ctx, "outcome:1", entry{JobID: "j1"}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists("qg:outcome:1") {
		t.Fatalf("expected prefixed key in redis, keys=%v", mr.Keys())
	}

	var got entry
	if err := rc.Get(ctx, "outcome:1", &got); err != nil || got.JobID != "j1" {
		t.Fatalf("get: %v %+v", err, got)
	}
	if err := rc.Get(ctx, "missing", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
	if err := rc.Delete(ctx, "outcome:1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := rc.Exists(ctx, "outcome:1"); ok {
		t.Fatalf("expected key deleted")
	}
	// shared client stays open
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("client closed by shared cache: %v", err)
	}
}

func TestLayeredCache_ReadsThroughRemote(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	remote := NewRedisCacheFromClient(client, "qg")
	ctx := context.Background()
	_ = remote.Set(ctx, "k", entry{JobID: "remote"}, time.Minute)

	lc := NewLayeredCache(remote, 10, time.Minute)
	defer lc.Close()

	var got entry
	if err := lc.Get(ctx, "k", &got); err != nil || got.JobID != "remote" {
		t.Fatalf("layered get: %v %+v", err, got)
	}

	mr.FlushAll()
	got = entry{}
	if err := lc.Get(ctx, "k", &got); err != nil || got.JobID != "remote" {
		t.Fatalf("expected L1 hit after remote flush: %v %+v", err, got)
	}
}

func TestLayeredCache_NoRemote(t *testing.T) {
	lc := NewLayeredCache(nil, 10, 0)
	defer lc.Close()
	ctx := context.Background()

	var s string
	if err := lc.Get(ctx, "x", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
	_ = lc.Set(ctx, "x", "v", time.Minute)
	if err := lc.Get(ctx, "x", &s); err != nil || s != "v" {
		t.Fatalf("get: %v %q", err, s)
	}
}
