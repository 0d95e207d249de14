package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// DeliveryStore persists notification records and the per-channel delivery
// log that external transport providers consume.
type DeliveryStore struct {
	db     *DB
	logger *zap.Logger
}

// NewDeliveryStore creates a delivery store backed by the given pool.
func NewDeliveryStore(db *DB, logger *zap.Logger) *DeliveryStore {
	return &DeliveryStore{
		db:     db,
		logger: logger,
	}
}

// CreateNotification inserts the durable in-app notification record.
func (s *DeliveryStore) CreateNotification(ctx context.Context, notif *Notification) error {
	if notif.ID == uuid.Nil {
		notif.ID = uuid.New()
	}

	query := `
		INSERT INTO notifications (
			id, user_id, type, category, priority,
			title, message, action_ref, data
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		RETURNING created_at
	`

	err := s.db.Pool().QueryRow(
		ctx,
		query,
		notif.ID,
		notif.UserID,
		notif.Type,
		notif.Category,
		notif.Priority,
		notif.Title,
		notif.Message,
		notif.ActionRef,
		notif.Data,
	).Scan(&notif.CreatedAt)

	if err != nil {
		s.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("notification_id", notif.ID.String()),
		)
		return fmt.Errorf("insert notification: %w", err)
	}

	return nil
}

// CreateDelivery inserts a pending delivery log entry for one channel. The
// row is the hand-off contract: the transport provider for that channel later
// flips it to sent/delivered/failed.
func (s *DeliveryStore) CreateDelivery(ctx context.Context, entry *DeliveryLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Status == "" {
		entry.Status = DeliveryPending
	}

	query := `
		INSERT INTO delivery_log (
			id, notification_id, user_id, channel, status, sent_at, delivered_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		RETURNING created_at
	`

	err := s.db.Pool().QueryRow(
		ctx,
		query,
		entry.ID,
		entry.NotificationID,
		entry.UserID,
		entry.Channel,
		entry.Status,
		entry.SentAt,
		entry.DeliveredAt,
	).Scan(&entry.CreatedAt)

	if err != nil {
		s.logger.Error("failed to create delivery log entry",
			zap.Error(err),
			zap.String("notification_id", entry.NotificationID.String()),
			zap.String("channel", string(entry.Channel)),
		)
		return fmt.Errorf("insert delivery log entry: %w", err)
	}

	return nil
}

// CreateInAppDelivery inserts the self-delivered in_app entry: delivered
// immediately with sent_at == delivered_at.
func (s *DeliveryStore) CreateInAppDelivery(ctx context.Context, notificationID, userID uuid.UUID) (*DeliveryLogEntry, error) {
	now := time.Now()
	entry := &DeliveryLogEntry{
		NotificationID: notificationID,
		UserID:         userID,
		Channel:        ChannelInApp,
		Status:         DeliveryDelivered,
		SentAt:         &now,
		DeliveredAt:    &now,
	}

	if err := s.CreateDelivery(ctx, entry); err != nil {
		return nil, err
	}

	return entry, nil
}

// UpdateDeliveryStatus flips a delivery log entry's status. Called by
// transport adapters after a hand-off attempt; external providers performing
// the same update out of band is equally valid.
func (s *DeliveryStore) UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, status DeliveryStatus) error {
	query := `
		UPDATE delivery_log
		SET status = $1,
		    sent_at = CASE WHEN $1 IN ('sent', 'delivered') AND sent_at IS NULL THEN NOW() ELSE sent_at END,
		    delivered_at = CASE WHEN $1 = 'delivered' AND delivered_at IS NULL THEN NOW() ELSE delivered_at END
		WHERE id = $2
	`

	result, err := s.db.Pool().Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update delivery status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: delivery %s", ErrNotFound, id)
	}

	return nil
}

// ListNotificationsByUser retrieves a user's notifications, newest first.
func (s *DeliveryStore) ListNotificationsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, error) {
	query := `
		SELECT
			id, user_id, type, category, priority,
			title, message, action_ref, data, read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.Pool().Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		var notif Notification
		err := rows.Scan(
			&notif.ID,
			&notif.UserID,
			&notif.Type,
			&notif.Category,
			&notif.Priority,
			&notif.Title,
			&notif.Message,
			&notif.ActionRef,
			&notif.Data,
			&notif.Read,
			&notif.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, &notif)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return notifications, nil
}

// CountUnread returns the user's unread notification count.
func (s *DeliveryStore) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := s.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = FALSE`,
		userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// ChannelStatsSince returns the per-channel delivery outcome breakdown for
// entries created since the given time, derived by scanning delivery_log.
func (s *DeliveryStore) ChannelStatsSince(ctx context.Context, since time.Time) ([]*ChannelStats, error) {
	query := `
		SELECT channel, status, COUNT(*)
		FROM delivery_log
		WHERE created_at >= $1
		GROUP BY channel, status
		ORDER BY channel
	`

	rows, err := s.db.Pool().Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query channel stats: %w", err)
	}
	defer rows.Close()

	byChannel := make(map[Channel]*ChannelStats)
	for rows.Next() {
		var channel Channel
		var status DeliveryStatus
		var n int
		if err := rows.Scan(&channel, &status, &n); err != nil {
			return nil, fmt.Errorf("scan channel stats: %w", err)
		}

		stats, ok := byChannel[channel]
		if !ok {
			stats = &ChannelStats{Channel: channel}
			byChannel[channel] = stats
		}
		switch status {
		case DeliveryPending:
			stats.Pending = n
		case DeliverySent:
			stats.Sent = n
		case DeliveryDelivered:
			stats.Delivered = n
		case DeliveryFailed:
			stats.Failed = n
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	result := make([]*ChannelStats, 0, len(byChannel))
	for _, c := range Channels {
		if stats, ok := byChannel[c]; ok {
			result = append(result, stats)
		}
	}

	return result, nil
}

// QuotaUsage returns the number of delivery log rows created for a user on a
// channel within the current hour. It is a read surface for observability;
// enforcement lives in the rate limit ledger.
func (s *DeliveryStore) QuotaUsage(ctx context.Context, userID uuid.UUID, channel Channel) (int, error) {
	var n int
	err := s.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM delivery_log
		 WHERE user_id = $1 AND channel = $2 AND created_at >= date_trunc('hour', NOW())`,
		userID, channel,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("query quota usage: %w", err)
	}
	return n, nil
}

// GetDelivery retrieves a delivery log entry by ID.
func (s *DeliveryStore) GetDelivery(ctx context.Context, id uuid.UUID) (*DeliveryLogEntry, error) {
	query := `
		SELECT id, notification_id, user_id, channel, status, sent_at, delivered_at, created_at
		FROM delivery_log
		WHERE id = $1
	`

	var entry DeliveryLogEntry
	err := s.db.Pool().QueryRow(ctx, query, id).Scan(
		&entry.ID,
		&entry.NotificationID,
		&entry.UserID,
		&entry.Channel,
		&entry.Status,
		&entry.SentAt,
		&entry.DeliveredAt,
		&entry.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("%w: delivery %s", ErrNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("query delivery: %w", err)
	}

	return &entry, nil
}
