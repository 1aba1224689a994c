package external

import (
	"context"

	"stripehome/internal/types"
)

// BillingService abstracts interactions with the payment provider (Stripe).
// Implementations translate between domain types and vendor-specific APIs.
type BillingService interface {
	// EnsureCustomer retrieves or creates a Stripe customer for the given user.
	// Returns the Stripe customer ID. Uses search-first logic to prevent duplicates.
	EnsureCustomer(ctx context.Context, userID string, email string) (string, error)

	// CreateCheckoutSession generates a Stripe Checkout URL for the user to
	// enter payment info. The user ID is set as client_reference_id for
	// webhook correlation.
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (checkoutURL string, sessionID string, err error)

	// CreateProduct creates a product and one price per pricing plan. The
	// first created price becomes the product's default price.
	CreateProduct(ctx context.Context, req types.ProductCreateRequest) (*types.ProductCreateResponse, error)

	// CreatePaymentIntent creates an async-capture payment intent.
	CreatePaymentIntent(ctx context.Context, customerID string, req types.PaymentIntentCreateRequest) (*types.PaymentIntentCreateResponse, error)

	// ListResources lists provider resources of the given kind with
	// cursor-based pagination. The cursor maps to Stripe's starting_after.
	ListResources(ctx context.Context, kind ResourceKind, limit int, cursor string) ([]map[string]any, types.PageInfo, error)
}

// CheckoutSessionParams carries everything needed to open a hosted checkout.
type CheckoutSessionParams struct {
	CustomerID        string
	PriceID           string
	ClientReferenceID string
	Metadata          map[string]string
	URLs              types.RedirectURLs
}

// CustomerLookup provides the minimal data access needed by StripeClient to
// resolve a user into a Stripe customer ID and persist the link. This avoids
// pulling in the full customer repository interface.
type CustomerLookup interface {
	// GetCustomerID returns the Stripe customer ID linked to the user.
	// Returns ("", nil) if the user has no linked customer yet.
	GetCustomerID(ctx context.Context, userID string) (string, error)

	// LinkCustomer records the user to Stripe customer association.
	LinkCustomer(ctx context.Context, userID string, customerID string, livemode bool) error
}

// WebhookVerifier abstracts Stripe webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the provided signature header
	// and signing secret. Returns nil on success, an error on failure.
	Verify(payload []byte, header string, secret string) error
}

// Stripe event type constants prevent magic strings in webhook handlers.
const (
	EventStripeCheckoutCompleted = "checkout.session.completed"
	EventStripeSubCreated        = "customer.subscription.created"
	EventStripeSubUpdated        = "customer.subscription.updated"
	EventStripeSubDeleted        = "customer.subscription.deleted"
	EventStripeInvoicePaid       = "invoice.paid"
	EventStripePaymentFailed     = "invoice.payment_failed"
)
