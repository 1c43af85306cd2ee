package adapter

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/store"
)

// SMS delivers notifications as text messages via AWS SNS direct
// publish.
type SMS struct {
	client    *sns.Client
	directory Directory
	logger    *zap.Logger
}

// SMSConfig holds SNS settings for SMS delivery.
type SMSConfig struct {
	Region string
}

// NewSMS creates the SMS adapter.
func NewSMS(ctx context.Context, cfg SMSConfig, directory Directory, logger *zap.Logger) (*SMS, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config for SNS: %w", err)
	}
	return &SMS{
		client:    sns.NewFromConfig(awsCfg),
		directory: directory,
		logger:    logger,
	}, nil
}

// Send texts the notification to the recipient's phone number on file.
func (s *SMS) Send(ctx context.Context, n *store.Notification) error {
	user, err := s.directory.GetUser(ctx, n.RecipientID)
	if err != nil {
		if err == store.ErrNotFound {
			return Permanent("recipient no longer exists", err)
		}
		return fmt.Errorf("resolve recipient: %w", err)
	}
	if user.Phone == "" {
		return Permanent("recipient has no phone number", nil)
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(user.Phone),
		Message:     aws.String(n.Title + "\n" + n.Message),
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("sms delivered via SNS",
		zap.Int64("id", n.ID),
		zap.String("phone_number", user.Phone),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

func (s *SMS) Channel() store.Channel { return store.ChannelSMS }
