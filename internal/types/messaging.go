package types

import "github.com/google/uuid"

// CreditAllocationMessage is the SQS payload published when a subscription
// lifecycle event earns credits. Webhook handlers enqueue these instead of
// allocating inline so a slow database never delays the 200 back to Stripe.
// JSON tags are snake_case to match the webhook-side producers.
type CreditAllocationMessage struct {
	// Core Identity
	AllocationID   string `json:"allocation_id"`
	UserID         string `json:"user_id"`
	SubscriptionID string `json:"subscription_id"`

	// Grant
	Amount      int    `json:"amount"`
	Description string `json:"description"`

	// Source event, e.g. "customer.subscription.created".
	EventType string `json:"event_type"`
	TestMode  bool   `json:"test_mode"`

	// Retry State: carries retry count across the publish-consume cycle.
	// Incremented by consumers on transient failures before re-publishing.
	RetryCount int `json:"retry_count"`

	// Observability
	TraceID string `json:"trace_id"`
}

// NewCreditAllocationMessage builds a queue message from an allocation
// request with a fresh allocation ID and the caller's trace ID.
func NewCreditAllocationMessage(req CreditAllocationRequest, traceID string) CreditAllocationMessage {
	return CreditAllocationMessage{
		AllocationID:   uuid.NewString(),
		UserID:         req.UserID,
		SubscriptionID: req.SubscriptionID,
		Amount:         req.Amount,
		Description:    req.Description,
		TraceID:        traceID,
	}
}
