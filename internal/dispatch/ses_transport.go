package dispatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/coinpulse/herald/internal/db"
)

// SESTransport hands email deliveries to AWS SES.
type SESTransport struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
}

// NewSESTransport creates the email transport adapter.
func NewSESTransport(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESTransport, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}

	return &SESTransport{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Deliver sends the notification as an email. The recipient address comes
// from the notification's structured data ("email" key); the title and
// message become subject and body.
func (t *SESTransport) Deliver(ctx context.Context, entry *db.DeliveryLogEntry, notif *db.Notification) error {
	if entry.Channel != db.ChannelEmail {
		return fmt.Errorf("ses transport only supports email, got: %s", entry.Channel)
	}

	to, err := dataField(notif, "email")
	if err != nil {
		return err
	}

	input := &ses.SendEmailInput{
		Source: aws.String(t.from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(notif.Title),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(notif.Message),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	t.logger.Info("email handed to SES",
		zap.String("delivery_id", entry.ID.String()),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

// SupportsChannel reports whether this transport serves the channel.
func (t *SESTransport) SupportsChannel(channel db.Channel) bool {
	return channel == db.ChannelEmail
}
