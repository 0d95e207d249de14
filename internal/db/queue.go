package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrValidation marks a malformed enqueue payload, rejected at intake.
var ErrValidation = errors.New("validation failed")

// ErrAlreadyFinal is returned when finalizing an item that is no longer in
// the processing state. Finalize is guarded so double-completion is a no-op
// at the row level; callers can treat this as informational.
var ErrAlreadyFinal = errors.New("queue item is not in processing state")

// ErrNotFound is returned when a queue item does not exist.
var ErrNotFound = errors.New("queue item not found")

const queueItemColumns = `
	id, user_id, priority, status, scheduled_for,
	type, category, title, message, action_ref, data,
	error_message, created_at, processed_at`

// QueueStore is the durable backlog of pending notification intents.
type QueueStore struct {
	db     *DB
	logger *zap.Logger
}

// NewQueueStore creates a queue store backed by the given pool.
func NewQueueStore(db *DB, logger *zap.Logger) *QueueStore {
	return &QueueStore{
		db:     db,
		logger: logger,
	}
}

// Enqueue appends a pending queue item and returns with item.ID and
// item.CreatedAt populated. ScheduledFor defaults to now when unset, so a
// caller-supplied future time delays the item's eligibility for claiming.
func (s *QueueStore) Enqueue(ctx context.Context, item *QueueItem) error {
	if item.UserID == uuid.Nil {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if item.Type == "" {
		return fmt.Errorf("%w: payload type is required", ErrValidation)
	}

	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	item.Status = QueuePending
	if item.ScheduledFor.IsZero() {
		item.ScheduledFor = time.Now()
	}

	query := `
		INSERT INTO queue_items (
			id, user_id, priority, status, scheduled_for,
			type, category, title, message, action_ref, data
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
		RETURNING created_at
	`

	err := s.db.Pool().QueryRow(
		ctx,
		query,
		item.ID,
		item.UserID,
		item.Priority,
		item.Status,
		item.ScheduledFor,
		item.Type,
		item.Category,
		item.Title,
		item.Message,
		item.ActionRef,
		item.Data,
	).Scan(&item.CreatedAt)

	if err != nil {
		s.logger.Error("failed to enqueue item",
			zap.Error(err),
			zap.String("queue_item_id", item.ID.String()),
		)
		return fmt.Errorf("insert queue item: %w", err)
	}

	s.logger.Info("queue item enqueued",
		zap.String("queue_item_id", item.ID.String()),
		zap.String("user_id", item.UserID.String()),
		zap.String("type", item.Type),
		zap.Int("priority", item.Priority),
	)

	return nil
}

// ClaimBatch atomically selects up to limit due pending items, ordered by
// priority descending then created_at ascending, and flips them to
// processing with processed_at stamped at claim time.
//
// Selection and the status flip are one statement; FOR UPDATE SKIP LOCKED
// makes overlapping invocations partition the backlog rather than block or
// double-claim a row. An empty backlog returns an empty slice, not an error.
func (s *QueueStore) ClaimBatch(ctx context.Context, limit int) ([]*QueueItem, error) {
	query := `
		UPDATE queue_items
		SET status = $1, processed_at = NOW()
		WHERE id IN (
			SELECT id FROM queue_items
			WHERE status = $2 AND scheduled_for <= NOW()
			ORDER BY priority DESC, created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + queueItemColumns

	rows, err := s.db.Pool().Query(ctx, query, QueueProcessing, QueuePending, limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	items, err := scanQueueItems(rows)
	if err != nil {
		return nil, err
	}

	// The UPDATE does not preserve subquery order.
	sortClaimOrder(items)

	if len(items) > 0 {
		s.logger.Debug("claimed queue items", zap.Int("count", len(items)))
	}

	return items, nil
}

// FinalizeCompleted transitions a processing item to completed.
func (s *QueueStore) FinalizeCompleted(ctx context.Context, id uuid.UUID) error {
	return s.finalize(ctx, id, QueueCompleted, nil)
}

// FinalizeFailed transitions a processing item to failed with the error
// message recorded for the observability surface.
func (s *QueueStore) FinalizeFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	return s.finalize(ctx, id, QueueFailed, &errMsg)
}

func (s *QueueStore) finalize(ctx context.Context, id uuid.UUID, status QueueStatus, errMsg *string) error {
	query := `
		UPDATE queue_items
		SET status = $1, error_message = $2
		WHERE id = $3 AND status = $4
	`

	result, err := s.db.Pool().Exec(ctx, query, status, errMsg, id, QueueProcessing)
	if err != nil {
		return fmt.Errorf("finalize queue item: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyFinal, id)
	}

	return nil
}

// Defer sends a processing item back to pending with a new scheduled_for and
// processed_at cleared. Used exclusively for quiet-hour deferral; it is not a
// failure and leaves error_message untouched.
func (s *QueueStore) Defer(ctx context.Context, id uuid.UUID, until time.Time) error {
	query := `
		UPDATE queue_items
		SET status = $1, scheduled_for = $2, processed_at = NULL
		WHERE id = $3 AND status = $4
	`

	result, err := s.db.Pool().Exec(ctx, query, QueuePending, until, id, QueueProcessing)
	if err != nil {
		return fmt.Errorf("defer queue item: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyFinal, id)
	}

	s.logger.Info("queue item deferred",
		zap.String("queue_item_id", id.String()),
		zap.Time("scheduled_for", until),
	)

	return nil
}

// ReclaimStale forces processing items whose claim is older than the timeout
// back to pending. This is the recovery path for invocations that crashed
// mid-batch, and the only retry mechanism in the pipeline.
func (s *QueueStore) ReclaimStale(ctx context.Context, timeout time.Duration) (int, error) {
	query := `
		UPDATE queue_items
		SET status = $1, processed_at = NULL
		WHERE status = $2 AND processed_at < NOW() - $3::interval
	`

	interval := fmt.Sprintf("%d seconds", int(timeout.Seconds()))
	result, err := s.db.Pool().Exec(ctx, query, QueuePending, QueueProcessing, interval)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale items: %w", err)
	}

	reclaimed := int(result.RowsAffected())
	if reclaimed > 0 {
		s.logger.Warn("reclaimed stale queue items",
			zap.Int("count", reclaimed),
			zap.Duration("timeout", timeout),
		)
	}

	return reclaimed, nil
}

// GetQueueItem retrieves a queue item by ID.
func (s *QueueStore) GetQueueItem(ctx context.Context, id uuid.UUID) (*QueueItem, error) {
	query := `SELECT ` + queueItemColumns + ` FROM queue_items WHERE id = $1`

	var item QueueItem
	err := s.db.Pool().QueryRow(ctx, query, id).Scan(
		&item.ID,
		&item.UserID,
		&item.Priority,
		&item.Status,
		&item.ScheduledFor,
		&item.Type,
		&item.Category,
		&item.Title,
		&item.Message,
		&item.ActionRef,
		&item.Data,
		&item.ErrorMessage,
		&item.CreatedAt,
		&item.ProcessedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("query queue item: %w", err)
	}

	return &item, nil
}

// CountByStatus returns the per-status breakdown of items created since the
// given time, derived by scanning queue_items rather than maintained state.
func (s *QueueStore) CountByStatus(ctx context.Context, since time.Time) (*StatusCounts, error) {
	query := `
		SELECT status, COUNT(*)
		FROM queue_items
		WHERE created_at >= $1
		GROUP BY status
	`

	rows, err := s.db.Pool().Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("count queue items: %w", err)
	}
	defer rows.Close()

	var counts StatusCounts
	for rows.Next() {
		var status QueueStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		switch status {
		case QueuePending:
			counts.Pending = n
		case QueueProcessing:
			counts.Processing = n
		case QueueCompleted:
			counts.Completed = n
		case QueueFailed:
			counts.Failed = n
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return &counts, nil
}

func scanQueueItems(rows pgx.Rows) ([]*QueueItem, error) {
	var items []*QueueItem
	for rows.Next() {
		var item QueueItem
		err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.Priority,
			&item.Status,
			&item.ScheduledFor,
			&item.Type,
			&item.Category,
			&item.Title,
			&item.Message,
			&item.ActionRef,
			&item.Data,
			&item.ErrorMessage,
			&item.CreatedAt,
			&item.ProcessedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return items, nil
}

// sortClaimOrder restores priority-desc, created_at-asc ordering.
func sortClaimOrder(items []*QueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}
