package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/store"
)

// Push delivers notifications to a mobile push topic via AWS SNS.
// Device routing happens downstream: the topic fans out to the
// recipient's registered platform endpoints filtered on the user_id
// message attribute.
type Push struct {
	client   *sns.Client
	topicARN string
	logger   *zap.Logger
}

// PushConfig holds SNS settings for push delivery.
type PushConfig struct {
	Region   string
	TopicARN string
}

// pushPayload is the message body published to the topic.
type pushPayload struct {
	NotificationID int64  `json:"notification_id"`
	Title          string `json:"title"`
	Message        string `json:"message"`
}

// NewPush creates the push adapter.
func NewPush(ctx context.Context, cfg PushConfig, logger *zap.Logger) (*Push, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config for SNS: %w", err)
	}
	return &Push{
		client:   sns.NewFromConfig(awsCfg),
		topicARN: cfg.TopicARN,
		logger:   logger,
	}, nil
}

// Send publishes the notification to the push topic.
func (p *Push) Send(ctx context.Context, n *store.Notification) error {
	if p.topicARN == "" {
		return Permanent("push topic not configured", nil)
	}

	body, err := json.Marshal(pushPayload{
		NotificationID: n.ID,
		Title:          n.Title,
		Message:        n.Message,
	})
	if err != nil {
		return Permanent("encode push payload", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"user_id": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.FormatInt(n.RecipientID, 10)),
			},
		},
	}

	result, err := p.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	p.logger.Info("push delivered via SNS",
		zap.Int64("id", n.ID),
		zap.Int64("recipient_id", n.RecipientID),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

func (p *Push) Channel() store.Channel { return store.ChannelPush }
