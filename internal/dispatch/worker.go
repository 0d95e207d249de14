package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coinpulse/herald/internal/db"
	"github.com/coinpulse/herald/internal/metrics"
)

// QueueStore is the backlog the worker claims from and finalizes into.
type QueueStore interface {
	ClaimBatch(ctx context.Context, limit int) ([]*db.QueueItem, error)
	FinalizeCompleted(ctx context.Context, id uuid.UUID) error
	FinalizeFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	Defer(ctx context.Context, id uuid.UUID, until time.Time) error
	ReclaimStale(ctx context.Context, timeout time.Duration) (int, error)
}

// PreferenceSource reads per-user channel enablement and quiet hours.
type PreferenceSource interface {
	GetPreference(ctx context.Context, userID uuid.UUID) (*db.Preference, error)
}

// DeliveryStore persists notification records and delivery log entries.
type DeliveryStore interface {
	CreateNotification(ctx context.Context, notif *db.Notification) error
	CreateDelivery(ctx context.Context, entry *db.DeliveryLogEntry) error
	CreateInAppDelivery(ctx context.Context, notificationID, userID uuid.UUID) (*db.DeliveryLogEntry, error)
	UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, status db.DeliveryStatus) error
}

// QuotaLedger answers whether one more send is allowed for a
// (user, type, channel) in the current hour, consuming quota when it is.
type QuotaLedger interface {
	TryConsume(ctx context.Context, userID, notifType, channel string, maxPerHour int) (bool, error)
}

// Config holds worker tuning. BatchSize is operational, not a correctness
// parameter: overlapping invocations partition the backlog via the claim's
// row locking, whatever the batch size.
type Config struct {
	PollInterval    time.Duration
	BatchSize       int
	ReclaimInterval time.Duration
	ReclaimTimeout  time.Duration

	// Per-channel hourly quotas. in_app is unthrottled and never consults
	// the ledger.
	PushPerHour  int
	EmailPerHour int
	SMSPerHour   int
}

func (c Config) withDefaults() Config {
	if c.PollInterval == 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize == 0 {
		c.BatchSize = 10
	}
	if c.ReclaimInterval == 0 {
		c.ReclaimInterval = 1 * time.Minute
	}
	if c.ReclaimTimeout == 0 {
		c.ReclaimTimeout = 5 * time.Minute
	}
	if c.PushPerHour == 0 {
		c.PushPerHour = 10
	}
	if c.EmailPerHour == 0 {
		c.EmailPerHour = 10
	}
	if c.SMSPerHour == 0 {
		c.SMSPerHour = 3
	}
	return c
}

func (c Config) quotaFor(channel db.Channel) int {
	switch channel {
	case db.ChannelPush:
		return c.PushPerHour
	case db.ChannelEmail:
		return c.EmailPerHour
	case db.ChannelSMS:
		return c.SMSPerHour
	}
	return 0
}

// Worker claims due queue items, evaluates quiet hours, creates the in-app
// notification, fans out to eligible channels subject to the quota ledger,
// and finalizes each item. Invocations may overlap freely; correctness rests
// on the claim and quota atomicity, not on sequencing.
type Worker struct {
	queue     QueueStore
	prefs     PreferenceSource
	delivery  DeliveryStore
	quota     QuotaLedger
	transport Transport
	config    Config
	logger    *zap.Logger
}

// New creates a worker. transport may be nil, in which case pending delivery
// rows are left for external providers to pick up.
func New(queue QueueStore, prefs PreferenceSource, delivery DeliveryStore, quota QuotaLedger, transport Transport, cfg Config, logger *zap.Logger) *Worker {
	return &Worker{
		queue:     queue,
		prefs:     prefs,
		delivery:  delivery,
		quota:     quota,
		transport: transport,
		config:    cfg.withDefaults(),
		logger:    logger,
	}
}

// Start runs the dispatch loop and the stale-claim reclaim sweep until the
// context is cancelled.
func (w *Worker) Start(ctx context.Context) {
	dispatch := time.NewTicker(w.config.PollInterval)
	defer dispatch.Stop()

	reclaim := time.NewTicker(w.config.ReclaimInterval)
	defer reclaim.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("dispatch worker stopping")
			return
		case <-dispatch.C:
			w.RunOnce(ctx)
		case <-reclaim.C:
			n, err := w.queue.ReclaimStale(ctx, w.config.ReclaimTimeout)
			if err != nil {
				w.logger.Error("reclaim sweep failed", zap.Error(err))
			} else if n > 0 {
				metrics.RecordItemsReclaimed(n)
			}
		}
	}
}

// RunOnce claims one batch and processes every item in it. Safe to call from
// concurrent invocations racing over the same backlog.
func (w *Worker) RunOnce(ctx context.Context) {
	items, err := w.queue.ClaimBatch(ctx, w.config.BatchSize)
	if err != nil {
		w.logger.Error("failed to claim batch", zap.Error(err))
		return
	}
	if len(items) == 0 {
		return
	}

	w.logger.Debug("processing claimed batch", zap.Int("count", len(items)))

	for _, item := range items {
		w.processItem(ctx, item)
	}
}

// processItem handles a single claimed item. A failure here is isolated: the
// item is finalized failed and the caller moves on to the next one.
func (w *Worker) processItem(ctx context.Context, item *db.QueueItem) {
	pref, err := w.prefs.GetPreference(ctx, item.UserID)
	if err != nil {
		// Store failure before any side effects: leave the item in
		// processing for the reclaim sweep rather than burning it.
		w.logger.Error("failed to load preference",
			zap.Error(err),
			zap.String("queue_item_id", item.ID.String()),
		)
		return
	}

	inQuiet, windowEnd, err := quietWindow(pref, time.Now())
	if err != nil {
		// A malformed window must not suppress delivery; proceed as if no
		// quiet hours were set.
		w.logger.Warn("ignoring unusable quiet hours",
			zap.Error(err),
			zap.String("user_id", item.UserID.String()),
		)
		inQuiet = false
	}
	if inQuiet {
		if err := w.queue.Defer(ctx, item.ID, windowEnd); err != nil {
			w.logger.Error("failed to defer queue item",
				zap.Error(err),
				zap.String("queue_item_id", item.ID.String()),
			)
			return
		}
		metrics.RecordItemDeferred()
		w.logger.Info("queue item deferred for quiet hours",
			zap.String("queue_item_id", item.ID.String()),
			zap.Time("resume_at", windowEnd),
		)
		return
	}

	if err := w.deliverItem(ctx, item, pref); err != nil {
		w.failItem(ctx, item, err)
		return
	}

	if err := w.queue.FinalizeCompleted(ctx, item.ID); err != nil {
		w.logger.Error("failed to finalize queue item",
			zap.Error(err),
			zap.String("queue_item_id", item.ID.String()),
		)
		return
	}

	metrics.RecordItemProcessed(string(db.QueueCompleted))
	metrics.RecordDispatchLatency(time.Since(item.CreatedAt))
}

// deliverItem creates the notification record and fans out to eligible
// channels. Returned errors finalize the item as failed.
func (w *Worker) deliverItem(ctx context.Context, item *db.QueueItem, pref *db.Preference) error {
	// Intake validates this, but the backlog is durable and shared; a
	// malformed row must fail alone instead of poisoning the batch.
	if item.Type == "" {
		return fmt.Errorf("queue item %s has no payload type", item.ID)
	}

	notif := &db.Notification{
		ID:        uuid.New(),
		UserID:    item.UserID,
		Type:      item.Type,
		Category:  item.Category,
		Priority:  item.Priority,
		Title:     item.Title,
		Message:   item.Message,
		ActionRef: item.ActionRef,
		Data:      item.Data,
	}

	if err := w.delivery.CreateNotification(ctx, notif); err != nil {
		return err
	}

	// in_app is self-delivered and never consults the ledger.
	if _, err := w.delivery.CreateInAppDelivery(ctx, notif.ID, notif.UserID); err != nil {
		return err
	}
	metrics.RecordDeliveryCreated(string(db.ChannelInApp))

	for _, channel := range []db.Channel{db.ChannelPush, db.ChannelEmail, db.ChannelSMS} {
		if !pref.ChannelEnabled(channel) {
			continue
		}

		allowed, err := w.quota.TryConsume(ctx, item.UserID.String(), item.Type, string(channel), w.config.quotaFor(channel))
		if err != nil {
			return err
		}
		if !allowed {
			// Quota exhaustion is an expected outcome, not a failure.
			metrics.RecordQuotaSkip(string(channel))
			w.logger.Debug("channel skipped, quota exhausted",
				zap.String("queue_item_id", item.ID.String()),
				zap.String("channel", string(channel)),
			)
			continue
		}

		entry := &db.DeliveryLogEntry{
			NotificationID: notif.ID,
			UserID:         notif.UserID,
			Channel:        channel,
			Status:         db.DeliveryPending,
		}
		if err := w.delivery.CreateDelivery(ctx, entry); err != nil {
			return err
		}
		metrics.RecordDeliveryCreated(string(channel))

		w.handOff(ctx, entry, notif)
	}

	return nil
}

// handOff offers the pending delivery to the configured transport. Hand-off
// problems only mark the delivery row, never the queue item: the row stays
// the contract for the external provider either way.
func (w *Worker) handOff(ctx context.Context, entry *db.DeliveryLogEntry, notif *db.Notification) {
	if w.transport == nil || !w.transport.SupportsChannel(entry.Channel) {
		return
	}

	if err := w.transport.Deliver(ctx, entry, notif); err != nil {
		w.logger.Warn("transport hand-off failed",
			zap.Error(err),
			zap.String("delivery_id", entry.ID.String()),
			zap.String("channel", string(entry.Channel)),
		)
		if uerr := w.delivery.UpdateDeliveryStatus(ctx, entry.ID, db.DeliveryFailed); uerr != nil {
			w.logger.Error("failed to mark delivery failed", zap.Error(uerr))
		}
		metrics.RecordHandOff(string(entry.Channel), "failed")
		return
	}

	if err := w.delivery.UpdateDeliveryStatus(ctx, entry.ID, db.DeliverySent); err != nil {
		w.logger.Error("failed to mark delivery sent", zap.Error(err))
	}
	metrics.RecordHandOff(string(entry.Channel), "sent")
}

func (w *Worker) failItem(ctx context.Context, item *db.QueueItem, cause error) {
	w.logger.Error("queue item processing failed",
		zap.Error(cause),
		zap.String("queue_item_id", item.ID.String()),
		zap.String("user_id", item.UserID.String()),
	)

	if err := w.queue.FinalizeFailed(ctx, item.ID, cause.Error()); err != nil {
		w.logger.Error("failed to finalize failed item",
			zap.Error(err),
			zap.String("queue_item_id", item.ID.String()),
		)
		return
	}

	metrics.RecordItemProcessed(string(db.QueueFailed))
}
