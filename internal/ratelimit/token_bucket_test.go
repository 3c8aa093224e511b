package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestTokenBucketCapacity(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, 2, 1, time.Minute)

	allowed, _, err := bucket.AllowOperator(ctx, "op-1")
	if err != nil || !allowed {
		t.Fatalf("expected first token allowed, got allowed=%v err=%v", allowed, err)
	}
	allowed, _, _ = bucket.AllowOperator(ctx, "op-1")
	if !allowed {
		t.Fatalf("expected second token allowed")
	}
	allowed, _, _ = bucket.AllowOperator(ctx, "op-1")
	if allowed {
		t.Fatalf("expected third token to be rejected")
	}

	// Buckets are independent per operator.
	allowed, _, _ = bucket.AllowOperator(ctx, "op-2")
	if !allowed {
		t.Fatalf("expected fresh operator to have tokens")
	}

	// Refill cannot be tested against miniredis: the Lua script receives
	// time from Go's clock, not Redis's.
}
