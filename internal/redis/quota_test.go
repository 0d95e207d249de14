package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return &Client{rdb: rdb, logger: zap.NewNop()}, mr
}

func TestQuotaLedger_ConsumeWithinLimit(t *testing.T) {
	client, _ := setupTestClient(t)
	ledger := NewQuotaLedger(client, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := ledger.TryConsume(ctx, "user-1", "price_alert", "sms", 3)
		if err != nil {
			t.Fatalf("TryConsume %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("consume %d should be allowed", i)
		}
	}
}

func TestQuotaLedger_BurstCappedAtLimit(t *testing.T) {
	client, _ := setupTestClient(t)
	ledger := NewQuotaLedger(client, zap.NewNop())
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 20; i++ {
		ok, err := ledger.TryConsume(ctx, "user-1", "price_alert", "sms", 3)
		if err != nil {
			t.Fatalf("TryConsume %d: %v", i, err)
		}
		if ok {
			allowed++
		}
	}

	if allowed != 3 {
		t.Fatalf("20-call burst at limit 3 allowed %d", allowed)
	}

	usage, err := ledger.Usage(ctx, "user-1", "price_alert", "sms")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if usage != 3 {
		t.Errorf("denied calls must not increment the counter, usage = %d", usage)
	}
}

func TestQuotaLedger_ConcurrentBurst(t *testing.T) {
	client, _ := setupTestClient(t)
	ledger := NewQuotaLedger(client, zap.NewNop())
	ctx := context.Background()

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ledger.TryConsume(ctx, "user-1", "order_filled", "push", 10)
			if err != nil {
				t.Errorf("TryConsume: %v", err)
				return
			}
			if ok {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Fatalf("concurrent burst allowed %d, want exactly 10", allowed)
	}
}

func TestQuotaLedger_BucketsAreIndependent(t *testing.T) {
	client, _ := setupTestClient(t)
	ledger := NewQuotaLedger(client, zap.NewNop())
	ctx := context.Background()

	// Exhaust one (user, type, channel) bucket.
	for i := 0; i < 3; i++ {
		if _, err := ledger.TryConsume(ctx, "user-1", "price_alert", "sms", 3); err != nil {
			t.Fatal(err)
		}
	}
	if ok, _ := ledger.TryConsume(ctx, "user-1", "price_alert", "sms", 3); ok {
		t.Fatal("exhausted bucket should deny")
	}

	// Sibling buckets are untouched.
	tests := []struct {
		name                 string
		user, notifType, channel string
	}{
		{"different user", "user-2", "price_alert", "sms"},
		{"different type", "user-1", "order_filled", "sms"},
		{"different channel", "user-1", "price_alert", "email"},
	}
	for _, tt := range tests {
		ok, err := ledger.TryConsume(ctx, tt.user, tt.notifType, tt.channel, 3)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if !ok {
			t.Errorf("%s: should be allowed", tt.name)
		}
	}
}

func TestQuotaLedger_BucketExpires(t *testing.T) {
	client, mr := setupTestClient(t)
	ledger := NewQuotaLedger(client, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := ledger.TryConsume(ctx, "user-1", "price_alert", "sms", 3); err != nil {
			t.Fatal(err)
		}
	}
	if ok, _ := ledger.TryConsume(ctx, "user-1", "price_alert", "sms", 3); ok {
		t.Fatal("exhausted bucket should deny")
	}

	// The bucket carries a TTL; once it lapses the counter resets. The key
	// itself also rolls over hourly, but TTL expiry is what reclaims memory.
	mr.FastForward(quotaKeyTTL + time.Second)

	ok, err := ledger.TryConsume(ctx, "user-1", "price_alert", "sms", 3)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expired bucket should allow again")
	}
}

func TestQuotaKey_HourBucket(t *testing.T) {
	at := time.Date(2026, 8, 28, 14, 59, 59, 0, time.UTC)
	key := quotaKey("user-1", "price_alert", "sms", at)
	want := "quota:user-1:price_alert:sms:2026082814"
	if key != want {
		t.Errorf("quotaKey = %q, want %q", key, want)
	}

	// One second later is the next bucket.
	next := quotaKey("user-1", "price_alert", "sms", at.Add(time.Second))
	if next == key {
		t.Error("hour rollover should produce a new key")
	}
}

func TestQuotaLedger_UsageEmptyBucket(t *testing.T) {
	client, _ := setupTestClient(t)
	ledger := NewQuotaLedger(client, zap.NewNop())

	usage, err := ledger.Usage(context.Background(), "user-1", "price_alert", "sms")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if usage != 0 {
		t.Errorf("empty bucket usage = %d, want 0", usage)
	}
}
