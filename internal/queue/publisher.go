// Package queue provides the SQS-based producer for credit allocation
// jobs. Webhook handling publishes a job per subscription grant instead
// of allocating inline when a queue is configured, so slow downstream
// work never delays the webhook acknowledgement.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"stripehome/internal/config"
	"stripehome/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// CreditPublisher sends credit allocation jobs to the configured SQS
// queue. It implements billing.AllocationPublisher.
type CreditPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewCreditPublisher creates a new CreditPublisher with the given SQS
// client and configuration. It reads the queue URL from the AWSConfig.
func NewCreditPublisher(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *CreditPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &CreditPublisher{
		client:   client,
		queueURL: awsCfg.CreditQueueURL,
		logger:   logger,
	}
}

// PublishAllocation serializes the allocation message to JSON and
// dispatches it. The event type rides along as a message attribute so
// consumers can filter without parsing the body.
func (p *CreditPublisher) PublishAllocation(ctx context.Context, msg types.CreditAllocationMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal allocation message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.EventType),
			},
		},
	}

	_, err = p.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("queue: failed to send allocation message to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "credit allocation message sent",
		"queue_url", p.queueURL,
		"allocation_id", msg.AllocationID,
		"user_id", msg.UserID,
		"subscription_id", msg.SubscriptionID,
		"amount", msg.Amount,
		"event_type", msg.EventType,
		"trace_id", msg.TraceID,
	)

	return nil
}
