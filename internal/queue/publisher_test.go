package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stripehome/internal/config"
	"stripehome/internal/types"
)

type captureSender struct {
	input *sqs.SendMessageInput
	err   error
}

func (s *captureSender) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	s.input = params
	if s.err != nil {
		return nil, s.err
	}
	return &sqs.SendMessageOutput{}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreditPublisher_PublishAllocation(t *testing.T) {
	sender := &captureSender{}
	pub := NewCreditPublisher(sender, config.AWSConfig{
		CreditQueueURL: "https://sqs.us-east-1.amazonaws.com/123/credit-allocations",
	}, testLogger())

	msg := types.CreditAllocationMessage{
		AllocationID:   "alloc_1",
		UserID:         "user_1",
		SubscriptionID: "sub_123",
		Amount:         400,
		Description:    "Additional credits for upgrading to Premium Plan",
		EventType:      "customer.subscription.updated",
		TraceID:        "trace_abc",
	}

	err := pub.PublishAllocation(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, sender.input)

	assert.Equal(t, "https://sqs.us-east-1.amazonaws.com/123/credit-allocations", *sender.input.QueueUrl)

	var sent types.CreditAllocationMessage
	require.NoError(t, json.Unmarshal([]byte(*sender.input.MessageBody), &sent))
	assert.Equal(t, msg, sent)

	attr, ok := sender.input.MessageAttributes["event_type"]
	require.True(t, ok)
	assert.Equal(t, "customer.subscription.updated", *attr.StringValue)
}

func TestCreditPublisher_SendFailure(t *testing.T) {
	sender := &captureSender{err: errors.New("access denied")}
	pub := NewCreditPublisher(sender, config.AWSConfig{CreditQueueURL: "https://sqs/queue"}, testLogger())

	err := pub.PublishAllocation(context.Background(), types.CreditAllocationMessage{AllocationID: "alloc_1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send allocation message")
}
