package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestIdempotency_CheckMissingKey(t *testing.T) {
	client, _ := setupTestClient(t)
	svc := NewIdempotencyService(client, zap.NewNop())

	result, err := svc.Check(context.Background(), "alerts", "key-1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result for unknown key, got %+v", result)
	}
}

func TestIdempotency_StoreThenCheck(t *testing.T) {
	client, _ := setupTestClient(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	stored := &IdempotencyResult{
		QueueItemID: "0c9f2f6a-9a1e-4a57-8f2e-1f7b62a1d001",
		StatusCode:  201,
	}
	if err := svc.Store(ctx, "alerts", "key-1", stored); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if stored.CreatedAt == 0 {
		t.Error("Store should stamp CreatedAt")
	}

	result, err := svc.Check(ctx, "alerts", "key-1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result == nil {
		t.Fatal("expected cached result")
	}
	if result.QueueItemID != stored.QueueItemID || result.StatusCode != 201 {
		t.Errorf("cached result mismatch: %+v", result)
	}
}

func TestIdempotency_ReserveBlocksSecondReserve(t *testing.T) {
	client, _ := setupTestClient(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	reserved, err := svc.Reserve(ctx, "alerts", "key-1")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if !reserved {
		t.Fatal("first reserve should succeed")
	}

	reserved, err = svc.Reserve(ctx, "alerts", "key-1")
	if err != nil {
		t.Fatalf("second Reserve: %v", err)
	}
	if reserved {
		t.Error("second reserve on same key should fail")
	}
}

func TestIdempotency_CheckDuringProcessing(t *testing.T) {
	client, _ := setupTestClient(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, "alerts", "key-1"); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Check(ctx, "alerts", "key-1")
	if !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("expected ErrDuplicateRequest while processing, got %v", err)
	}
}

func TestIdempotency_CheckOrReserve(t *testing.T) {
	client, _ := setupTestClient(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	// Fresh key: reserved, no cached result.
	result, err := svc.CheckOrReserve(ctx, "alerts", "key-1")
	if err != nil {
		t.Fatalf("CheckOrReserve: %v", err)
	}
	if result != nil {
		t.Fatalf("fresh key should have no cached result, got %+v", result)
	}

	// Same key while in flight: duplicate.
	_, err = svc.CheckOrReserve(ctx, "alerts", "key-1")
	if !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}

	// After the result lands, the same key replays it.
	if err := svc.Store(ctx, "alerts", "key-1", &IdempotencyResult{QueueItemID: "abc", StatusCode: 201}); err != nil {
		t.Fatal(err)
	}
	result, err = svc.CheckOrReserve(ctx, "alerts", "key-1")
	if err != nil {
		t.Fatalf("CheckOrReserve after store: %v", err)
	}
	if result == nil || result.QueueItemID != "abc" {
		t.Errorf("expected cached result, got %+v", result)
	}
}

func TestIdempotency_ProducersAreScoped(t *testing.T) {
	client, _ := setupTestClient(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, "alerts", "key-1"); err != nil {
		t.Fatal(err)
	}

	reserved, err := svc.Reserve(ctx, "billing", "key-1")
	if err != nil {
		t.Fatal(err)
	}
	if !reserved {
		t.Error("same key under a different producer should reserve independently")
	}
}

func TestIdempotency_ProcessingLockExpires(t *testing.T) {
	client, mr := setupTestClient(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, "alerts", "key-1"); err != nil {
		t.Fatal(err)
	}

	mr.FastForward(processingTTL + time.Second)

	reserved, err := svc.Reserve(ctx, "alerts", "key-1")
	if err != nil {
		t.Fatal(err)
	}
	if !reserved {
		t.Error("lapsed processing lock should be reservable again")
	}
}
