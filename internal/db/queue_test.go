package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestEnqueue_Validation(t *testing.T) {
	store := NewQueueStore(nil, zap.NewNop())
	ctx := context.Background()

	t.Run("missing user_id", func(t *testing.T) {
		err := store.Enqueue(ctx, &QueueItem{Type: "order_filled"})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("missing type", func(t *testing.T) {
		err := store.Enqueue(ctx, &QueueItem{UserID: uuid.New()})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})
}

func TestSortClaimOrder(t *testing.T) {
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	item := func(priority int, createdOffset time.Duration) *QueueItem {
		return &QueueItem{
			ID:        uuid.New(),
			Priority:  priority,
			CreatedAt: base.Add(createdOffset),
		}
	}

	oldHigh := item(5, 0)
	newHigh := item(5, time.Minute)
	low := item(1, -time.Hour)
	mid := item(3, 0)

	items := []*QueueItem{low, newHigh, mid, oldHigh}
	sortClaimOrder(items)

	want := []*QueueItem{oldHigh, newHigh, mid, low}
	for i := range want {
		if items[i] != want[i] {
			t.Fatalf("position %d: got priority %d created %v",
				i, items[i].Priority, items[i].CreatedAt)
		}
	}
}
