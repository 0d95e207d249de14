package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/coinpulse/herald/internal/db"
)

// Transport is the outbound port for handing a pending delivery to a channel
// provider. Implementations: Email (SES), SMS (SNS), push relay (SQS).
// The pipeline does not wait for the provider's final outcome; a successful
// Deliver only means the hand-off was accepted.
type Transport interface {
	Deliver(ctx context.Context, entry *db.DeliveryLogEntry, notif *db.Notification) error
	SupportsChannel(channel db.Channel) bool
}

// TransportRouter routes a delivery to the first transport that supports its
// channel.
type TransportRouter struct {
	transports []Transport
	logger     *zap.Logger
}

// NewTransportRouter creates a router over the given transports.
func NewTransportRouter(logger *zap.Logger, transports ...Transport) *TransportRouter {
	return &TransportRouter{
		transports: transports,
		logger:     logger,
	}
}

// Deliver routes the delivery to the matching transport.
func (r *TransportRouter) Deliver(ctx context.Context, entry *db.DeliveryLogEntry, notif *db.Notification) error {
	for _, t := range r.transports {
		if t.SupportsChannel(entry.Channel) {
			r.logger.Debug("routing delivery to transport",
				zap.String("channel", string(entry.Channel)),
				zap.String("delivery_id", entry.ID.String()),
			)
			return t.Deliver(ctx, entry, notif)
		}
	}

	return fmt.Errorf("no transport for channel: %s", entry.Channel)
}

// SupportsChannel checks if any underlying transport supports the channel.
func (r *TransportRouter) SupportsChannel(channel db.Channel) bool {
	for _, t := range r.transports {
		if t.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// LogTransport logs deliveries instead of handing them off. Used in
// development and tests; it accepts every channel.
type LogTransport struct {
	logger *zap.Logger
}

// NewLogTransport creates a logging transport.
func NewLogTransport(logger *zap.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Deliver(ctx context.Context, entry *db.DeliveryLogEntry, notif *db.Notification) error {
	t.logger.Info("delivery hand-off (development mode)",
		zap.String("delivery_id", entry.ID.String()),
		zap.String("channel", string(entry.Channel)),
		zap.String("user_id", entry.UserID.String()),
		zap.String("title", notif.Title),
	)
	return nil
}

func (t *LogTransport) SupportsChannel(channel db.Channel) bool {
	return channel.Valid()
}

// dataField extracts a required string field from the notification's
// structured data. Transports use it for channel addresses (recipient email,
// phone number) that producers attach at enqueue time.
func dataField(notif *db.Notification, field string) (string, error) {
	if len(notif.Data) == 0 {
		return "", fmt.Errorf("notification %s has no data, %q required", notif.ID, field)
	}

	var data map[string]any
	if err := json.Unmarshal(notif.Data, &data); err != nil {
		return "", fmt.Errorf("invalid notification data: %w", err)
	}

	value, ok := data[field].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("notification %s data missing %q", notif.ID, field)
	}

	return value, nil
}
