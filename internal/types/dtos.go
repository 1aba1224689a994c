package types

import "time"

// CheckoutSessionRequest is the caller-supplied portion of a checkout session.
// All fields are optional; missing URLs fall back to the configured base URL
// and a missing customer triggers get-or-create against the user's email.
type CheckoutSessionRequest struct {
	SuccessURL string `json:"success_url,omitempty" validate:"omitempty,url"`
	CancelURL  string `json:"cancel_url,omitempty" validate:"omitempty,url"`
	CustomerID string `json:"customer_id,omitempty"`
}

// CheckoutSessionResponse carries the hosted checkout URL back to the client.
type CheckoutSessionResponse struct {
	CheckoutURL string `json:"checkout_url"`
}

// ProductPricePlan describes one price to create alongside a product.
// UnitAmount is in the currency's smallest unit.
type ProductPricePlan struct {
	UnitAmount    int64             `json:"unit_amount" validate:"required,gt=0"`
	Currency      string            `json:"currency" validate:"required,len=3"`
	Interval      string            `json:"interval,omitempty" validate:"omitempty,oneof=day week month year"`
	IntervalCount int               `json:"interval_count,omitempty" validate:"omitempty,min=1"`
	UsageType     string            `json:"usage_type,omitempty" validate:"omitempty,oneof=licensed metered"`
	Active        *bool             `json:"active,omitempty"`
	Nickname      string            `json:"nickname,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Recurring reports whether this price bills on an interval.
func (p ProductPricePlan) Recurring() bool {
	return p.Interval != ""
}

// ProductCreateRequest creates a Stripe product with zero or more prices.
// Credit fields and the tier land in product metadata so webhook processing
// can recover them without a local lookup.
type ProductCreateRequest struct {
	Name                string             `json:"name" validate:"required,max=250"`
	Active              *bool              `json:"active,omitempty"`
	Description         string             `json:"description,omitempty"`
	ID                  string             `json:"id,omitempty"`
	StatementDescriptor string             `json:"statement_descriptor,omitempty" validate:"omitempty,max=22"`
	UnitLabel           string             `json:"unit_label,omitempty"`
	URL                 string             `json:"url,omitempty" validate:"omitempty,url"`
	Metadata            map[string]string  `json:"metadata,omitempty"`
	InitialCredits      int                `json:"initial_credits,omitempty" validate:"omitempty,min=0"`
	MonthlyCredits      int                `json:"monthly_credits,omitempty" validate:"omitempty,min=0"`
	SubscriptionTier    string             `json:"subscription_tier,omitempty"`
	Images              []string           `json:"images,omitempty" validate:"omitempty,max=8,dive,url"`
	TaxCode             string             `json:"tax_code,omitempty"`
	PricingPlans        []ProductPricePlan `json:"pricing_plans,omitempty" validate:"omitempty,dive"`
}

// ProductCreateResponse returns the created product and its prices as the
// provider reported them.
type ProductCreateResponse struct {
	Product map[string]any   `json:"product"`
	Prices  []map[string]any `json:"prices"`
}

// PaymentIntentCreateRequest creates a payment intent with asynchronous
// capture. Amount is in the currency's smallest unit and must be positive.
type PaymentIntentCreateRequest struct {
	Amount             int64    `json:"amount" validate:"required,gt=0"`
	Currency           string   `json:"currency" validate:"required,len=3"`
	PaymentMethod      string   `json:"payment_method" validate:"required"`
	PaymentMethodTypes []string `json:"payment_method_types,omitempty"`
	Confirm            *bool    `json:"confirm,omitempty"`
}

// PaymentIntentCreateResponse is the trimmed provider response for a payment
// intent. With async capture, LatestCharge settlement details may lag the
// intent itself.
type PaymentIntentCreateResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	CaptureMethod string `json:"capture_method"`
	ClientSecret  string `json:"client_secret,omitempty"`
	LatestCharge  string `json:"latest_charge,omitempty"`
}

// RedirectURLs guide the user back from Stripe-hosted checkout.
type RedirectURLs struct {
	Success string
	Cancel  string
}

// CreditAllocationRequest asks for a credit balance change for a user,
// recorded against the subscription that earned it. A negative Amount debits.
type CreditAllocationRequest struct {
	UserID         string `json:"user_id" validate:"required"`
	Amount         int    `json:"amount"`
	Description    string `json:"description" validate:"required"`
	SubscriptionID string `json:"subscription_id" validate:"required"`
}

// CreditAllocationResult records a completed allocation.
type CreditAllocationResult struct {
	UserID         string         `json:"user_id"`
	Amount         int            `json:"amount"`
	Description    string         `json:"description"`
	SubscriptionID string         `json:"subscription_id"`
	AllocatedAt    time.Time      `json:"allocated_at"`
	Status         string         `json:"status"`
	Details        map[string]any `json:"details,omitempty"`
}

// PlanMappingRequest maps a provider plan name onto an internal tier.
type PlanMappingRequest struct {
	PlanName string `json:"plan_name" validate:"required"`
}

// PlanMappingResult is the resolved tier for a plan name.
type PlanMappingResult struct {
	PlanName         string `json:"plan_name"`
	SubscriptionTier string `json:"subscription_tier"`
}

// SubscriptionChangeRequest describes a user moving between plans.
type SubscriptionChangeRequest struct {
	UserID         string `json:"user_id" validate:"required"`
	OldPlanName    string `json:"old_plan_name" validate:"required"`
	NewPlanName    string `json:"new_plan_name" validate:"required"`
	SubscriptionID string `json:"subscription_id" validate:"required"`
}

// SubscriptionChangeResult records the outcome of a plan change, including
// any credit adjustment that was applied.
type SubscriptionChangeResult struct {
	UserID         string         `json:"user_id"`
	OldPlanName    string         `json:"old_plan_name"`
	NewPlanName    string         `json:"new_plan_name"`
	SubscriptionID string         `json:"subscription_id"`
	Status         string         `json:"status"`
	Details        map[string]any `json:"details,omitempty"`
}
