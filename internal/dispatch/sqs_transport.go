package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/coinpulse/herald/internal/db"
)

// SQSTransport hands push deliveries to the push relay queue. The relay
// workers that hold the device tokens consume the queue and flip the
// delivery log row when the platform acknowledges.
type SQSTransport struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

type SQSConfig struct {
	Region   string
	QueueURL string
}

// pushJob is the message published to the relay queue.
type pushJob struct {
	DeliveryID     string          `json:"delivery_id"`
	NotificationID string          `json:"notification_id"`
	UserID         string          `json:"user_id"`
	Title          string          `json:"title"`
	Message        string          `json:"message"`
	ActionRef      *string         `json:"action_ref,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	EnqueuedAt     int64           `json:"enqueued_at"`
}

// NewSQSTransport creates the push relay adapter.
func NewSQSTransport(ctx context.Context, cfg SQSConfig, logger *zap.Logger) (*SQSTransport, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("push relay transport initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &SQSTransport{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// Deliver publishes a push job for the delivery.
func (t *SQSTransport) Deliver(ctx context.Context, entry *db.DeliveryLogEntry, notif *db.Notification) error {
	if entry.Channel != db.ChannelPush {
		return fmt.Errorf("sqs transport only supports push, got: %s", entry.Channel)
	}

	job := pushJob{
		DeliveryID:     entry.ID.String(),
		NotificationID: notif.ID.String(),
		UserID:         notif.UserID.String(),
		Title:          notif.Title,
		Message:        notif.Message,
		ActionRef:      notif.ActionRef,
		Data:           notif.Data,
		EnqueuedAt:     time.Now().UnixNano(),
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal push job: %w", err)
	}

	result, err := t.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(t.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sqs send failed: %w", err)
	}

	t.logger.Info("push job handed to relay queue",
		zap.String("delivery_id", entry.ID.String()),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

// SupportsChannel reports whether this transport serves the channel.
func (t *SQSTransport) SupportsChannel(channel db.Channel) bool {
	return channel == db.ChannelPush
}
