package client

import (
	"context"
	"encoding/json"
	"fmt"
	"paypal-billing-service/internal/config"
	"strconv"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the subset of the SQS client used here, so tests can fake it.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// DeadLetterMessage is what operators receive when a webhook gives up.
type DeadLetterMessage struct {
	DeadLetterID string          `json:"deadLetterId"`
	WebhookID    string          `json:"webhookId"`
	EventType    string          `json:"eventType"`
	RetryCount   int             `json:"retryCount"`
	LastError    string          `json:"lastError"`
	Webhook      json.RawMessage `json:"webhook"`
}

type DeadLetterPublisher interface {
	Publish(ctx context.Context, msg *DeadLetterMessage) error
}

type sqsDeadLetterPublisher struct {
	sqs      SQSAPI
	queueURL string
}

func NewSQSDeadLetterPublisher(sqsClient SQSAPI, queueURL string) DeadLetterPublisher {
	return &sqsDeadLetterPublisher{sqs: sqsClient, queueURL: queueURL}
}

// InitDeadLetterPublisher returns nil when no queue is configured.
func InitDeadLetterPublisher(ctx context.Context, cfg *config.DeadLetter) (DeadLetterPublisher, error) {
	if cfg.QueueURL == "" {
		return nil, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSQSDeadLetterPublisher(sqs.NewFromConfig(awsCfg), cfg.QueueURL), nil
}

func (p *sqsDeadLetterPublisher) Publish(ctx context.Context, msg *DeadLetterMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	_, err = p.sqs.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    sdkaws.String(p.queueURL),
		MessageBody: sdkaws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"eventType": {
				DataType:    sdkaws.String("String"),
				StringValue: sdkaws.String(msg.EventType),
			},
			"retryCount": {
				DataType:    sdkaws.String("Number"),
				StringValue: sdkaws.String(strconv.Itoa(msg.RetryCount)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
