package dispatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/coinpulse/herald/internal/db"
)

// SNSTransport hands SMS deliveries to AWS SNS.
type SNSTransport struct {
	client *sns.Client
	logger *zap.Logger
}

type SNSConfig struct {
	Region string
}

// NewSNSTransport creates the SMS transport adapter.
func NewSNSTransport(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSTransport, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return &SNSTransport{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// Deliver publishes the notification message to the user's phone number
// ("phone" key in the notification's structured data).
func (t *SNSTransport) Deliver(ctx context.Context, entry *db.DeliveryLogEntry, notif *db.Notification) error {
	if entry.Channel != db.ChannelSMS {
		return fmt.Errorf("sns transport only supports sms, got: %s", entry.Channel)
	}

	phone, err := dataField(notif, "phone")
	if err != nil {
		return err
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(phone),
		Message:     aws.String(fmt.Sprintf("%s: %s", notif.Title, notif.Message)),
	}

	result, err := t.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	t.logger.Info("sms handed to SNS",
		zap.String("delivery_id", entry.ID.String()),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

// SupportsChannel reports whether this transport serves the channel.
func (t *SNSTransport) SupportsChannel(channel db.Channel) bool {
	return channel == db.ChannelSMS
}
