package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coinpulse/herald/internal/db"
	"github.com/coinpulse/herald/internal/metrics"
	"github.com/coinpulse/herald/internal/redis"
)

// QueueIntake is the queue store surface the gateway needs.
type QueueIntake interface {
	Enqueue(ctx context.Context, item *db.QueueItem) error
	GetQueueItem(ctx context.Context, id uuid.UUID) (*db.QueueItem, error)
	CountByStatus(ctx context.Context, since time.Time) (*db.StatusCounts, error)
}

// NotificationReader is the read surface for notifications, delivery stats,
// and per-user quota utilization.
type NotificationReader interface {
	ListNotificationsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*db.Notification, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	ChannelStatsSince(ctx context.Context, since time.Time) ([]*db.ChannelStats, error)
	QuotaUsage(ctx context.Context, userID uuid.UUID, channel db.Channel) (int, error)
	GetDelivery(ctx context.Context, id uuid.UUID) (*db.DeliveryLogEntry, error)
}

// EnqueueRequest represents the incoming enqueue body.
type EnqueueRequest struct {
	UserID       string          `json:"user_id"`
	Type         string          `json:"type"`
	Category     string          `json:"category"`
	Priority     int             `json:"priority"`
	Title        string          `json:"title"`
	Message      string          `json:"message"`
	ActionRef    *string         `json:"action_ref,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
}

// EnqueueResponse is returned after a successful enqueue.
type EnqueueResponse struct {
	ID string `json:"id"`
}

// ErrorResponse represents an error in problem+json format.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for the intake gateway.
type Handler struct {
	logger      *zap.Logger
	queue       QueueIntake
	reader      NotificationReader
	idempotency *redis.IdempotencyService // nil if Redis not configured
}

// NewHandler creates a new gateway handler. idempotency may be nil.
func NewHandler(logger *zap.Logger, queue QueueIntake, reader NotificationReader, idempotency *redis.IdempotencyService) *Handler {
	return &Handler{
		logger:      logger,
		queue:       queue,
		reader:      reader,
		idempotency: idempotency,
	}
}

// Enqueue handles POST /v1/queue.
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idempotencyKey := r.Header.Get("Idempotency-Key")
	producer := r.Header.Get("X-Producer-ID")
	if producer == "" {
		producer = "default"
	}

	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.UserID == "" || req.Type == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "user_id and type are required")
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	if len(req.Data) > 0 && !json.Valid(req.Data) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid data", "data must be valid JSON")
		return
	}

	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, producer, idempotencyKey)
		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another request with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		} else if cached != nil {
			resp := EnqueueResponse{ID: cached.QueueItemID}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_ = json.NewEncoder(w).Encode(resp)
			return
		}
	}

	item := &db.QueueItem{
		UserID:    userID,
		Priority:  req.Priority,
		Type:      req.Type,
		Category:  req.Category,
		Title:     req.Title,
		Message:   req.Message,
		ActionRef: req.ActionRef,
		Data:      req.Data,
	}
	if req.ScheduledFor != nil {
		item.ScheduledFor = *req.ScheduledFor
	}

	if err := h.queue.Enqueue(ctx, item); err != nil {
		if errors.Is(err, db.ErrValidation) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Validation failed", err.Error())
			return
		}
		h.logger.Error("failed to enqueue item",
			zap.Error(err),
			zap.String("user_id", req.UserID),
			zap.String("type", req.Type),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to enqueue item", "")
		return
	}

	metrics.RecordItemEnqueued(item.Type)

	if idempotencyKey != "" && h.idempotency != nil {
		result := &redis.IdempotencyResult{
			QueueItemID: item.ID.String(),
			StatusCode:  http.StatusCreated,
		}
		if err := h.idempotency.Store(ctx, producer, idempotencyKey, result); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(EnqueueResponse{ID: item.ID.String()})
}

// GetQueueItem handles GET /v1/queue/{id}.
func (h *Handler) GetQueueItem(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid id", "id must be a valid UUID")
		return
	}

	item, err := h.queue.GetQueueItem(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Queue item not found", "")
			return
		}
		h.logger.Error("failed to get queue item", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get queue item", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(item)
}

// NotificationsResponse wraps a user's notification list.
type NotificationsResponse struct {
	Notifications []*db.Notification `json:"notifications"`
	UnreadCount   int                `json:"unread_count"`
}

// ListNotifications handles GET /v1/notifications?user_id=...
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	notifications, err := h.reader.ListNotificationsByUser(r.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list notifications", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list notifications", "")
		return
	}

	unread, err := h.reader.CountUnread(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to count unread", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to count unread", "")
		return
	}

	if notifications == nil {
		notifications = []*db.Notification{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(NotificationsResponse{
		Notifications: notifications,
		UnreadCount:   unread,
	})
}

// StatsResponse is the outcome accounting read surface.
type StatsResponse struct {
	WindowHours int                `json:"window_hours"`
	Queue       *db.StatusCounts   `json:"queue"`
	Channels    []*db.ChannelStats `json:"channels"`
}

// Stats handles GET /v1/stats?window_hours=24. Counts are derived by
// scanning queue_items and delivery_log, never separately maintained state.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	window := queryInt(r, "window_hours", 24)
	since := time.Now().Add(-time.Duration(window) * time.Hour)

	queueCounts, err := h.queue.CountByStatus(r.Context(), since)
	if err != nil {
		h.logger.Error("failed to count queue items", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to compute stats", "")
		return
	}

	channels, err := h.reader.ChannelStatsSince(r.Context(), since)
	if err != nil {
		h.logger.Error("failed to compute channel stats", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to compute stats", "")
		return
	}

	if channels == nil {
		channels = []*db.ChannelStats{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(StatsResponse{
		WindowHours: window,
		Queue:       queueCounts,
		Channels:    channels,
	})
}

// ChannelQuota is one channel's delivery count for the current hour.
type ChannelQuota struct {
	Channel db.Channel `json:"channel"`
	Used    int        `json:"used"`
}

// QuotaResponse reports a user's current-hour quota utilization per channel.
type QuotaResponse struct {
	UserID   string         `json:"user_id"`
	Channels []ChannelQuota `json:"channels"`
}

// QuotaUsage handles GET /v1/quota?user_id=...&channel=... Counts come from
// scanning delivery_log for the current hour; enforcement stays in the quota
// ledger, this is the audit view of what it let through. Without a channel
// parameter, every throttled channel is reported.
func (h *Handler) QuotaUsage(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	channels := []db.Channel{db.ChannelPush, db.ChannelEmail, db.ChannelSMS}
	if raw := r.URL.Query().Get("channel"); raw != "" {
		channel := db.Channel(raw)
		if !channel.Valid() {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel", "channel must be one of in_app, push, email, sms")
			return
		}
		channels = []db.Channel{channel}
	}

	resp := QuotaResponse{
		UserID:   userID.String(),
		Channels: make([]ChannelQuota, 0, len(channels)),
	}
	for _, channel := range channels {
		used, err := h.reader.QuotaUsage(r.Context(), userID, channel)
		if err != nil {
			h.logger.Error("failed to query quota usage",
				zap.Error(err),
				zap.String("channel", string(channel)),
			)
			h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to query quota usage", "")
			return
		}
		resp.Channels = append(resp.Channels, ChannelQuota{Channel: channel, Used: used})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// GetDelivery handles GET /v1/deliveries/{id}. External transport providers
// use it to read back the hand-off contract for a delivery they were given.
func (h *Handler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid id", "id must be a valid UUID")
		return
	}

	entry, err := h.reader.GetDelivery(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Delivery not found", "")
			return
		}
		h.logger.Error("failed to get delivery", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get delivery", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entry)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func queryInt(r *http.Request, name string, def int) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
