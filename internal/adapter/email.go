package adapter

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/store"
)

// Email delivers notifications over AWS SES. The recipient address is
// resolved from the user directory at send time.
type Email struct {
	client    *ses.Client
	directory Directory
	from      string
	logger    *zap.Logger
}

// EmailConfig holds SES settings.
type EmailConfig struct {
	Region    string
	FromEmail string
}

// NewEmail creates the email adapter.
func NewEmail(ctx context.Context, cfg EmailConfig, directory Directory, logger *zap.Logger) (*Email, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config for SES: %w", err)
	}
	return &Email{
		client:    ses.NewFromConfig(awsCfg),
		directory: directory,
		from:      cfg.FromEmail,
		logger:    logger,
	}, nil
}

// Send emails the notification to the recipient's address on file. A
// recipient without an address is a permanent failure.
func (e *Email) Send(ctx context.Context, n *store.Notification) error {
	user, err := e.directory.GetUser(ctx, n.RecipientID)
	if err != nil {
		if err == store.ErrNotFound {
			return Permanent("recipient no longer exists", err)
		}
		return fmt.Errorf("resolve recipient: %w", err)
	}
	if user.Email == "" {
		return Permanent("recipient has no email address", nil)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(e.from),
		Destination: &types.Destination{
			ToAddresses: []string{user.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(n.Title),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(n.Message),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := e.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	e.logger.Info("email delivered via SES",
		zap.Int64("id", n.ID),
		zap.String("to", user.Email),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

func (e *Email) Channel() store.Channel { return store.ChannelEmail }
