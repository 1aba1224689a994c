package types

import (
	"fmt"
	"time"
)

// SubscriptionStatus mirrors the status values Stripe reports for a
// subscription. Stored as-is; unknown values from newer API versions pass
// through untouched.
type SubscriptionStatus string

const (
	SubscriptionActive            SubscriptionStatus = "active"
	SubscriptionPastDue           SubscriptionStatus = "past_due"
	SubscriptionUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionCanceled          SubscriptionStatus = "canceled"
	SubscriptionIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionTrialing          SubscriptionStatus = "trialing"
)

// IsBillable reports whether a subscription in this status should receive
// credit allocations.
func (s SubscriptionStatus) IsBillable() bool {
	return s == SubscriptionActive || s == SubscriptionTrialing
}

// Customer links an application user to a Stripe customer record.
type Customer struct {
	UserID     string    `json:"user_id"`
	CustomerID string    `json:"customer_id"`
	Livemode   bool      `json:"livemode"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DashboardURL returns the Stripe dashboard link for this customer,
// routing to the test-mode dashboard when the record is not live.
func (c Customer) DashboardURL() string {
	if c.Livemode {
		return fmt.Sprintf("https://dashboard.stripe.com/customers/%s", c.CustomerID)
	}
	return fmt.Sprintf("https://dashboard.stripe.com/test/customers/%s", c.CustomerID)
}

// Plan is the local projection of a Stripe recurring price. Amounts are in
// the currency's smallest unit (cents for USD).
type Plan struct {
	PlanID         string       `json:"plan_id"`
	Name           string       `json:"name"`
	Amount         int64        `json:"amount"`
	Currency       string       `json:"currency"`
	Interval       string       `json:"interval"`
	InitialCredits int          `json:"initial_credits"`
	MonthlyCredits int          `json:"monthly_credits"`
	Features       PlanFeatures `json:"features"`
	Active         bool         `json:"active"`
	Livemode       bool         `json:"livemode"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Subscription is the local projection of a Stripe subscription.
type Subscription struct {
	UserID             string             `json:"user_id"`
	SubscriptionID     string             `json:"subscription_id"`
	Status             SubscriptionStatus `json:"status"`
	PlanID             string             `json:"plan_id"`
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
	Livemode           bool               `json:"livemode"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// DashboardURL returns the Stripe dashboard link for this subscription.
func (s Subscription) DashboardURL() string {
	if s.Livemode {
		return fmt.Sprintf("https://dashboard.stripe.com/subscriptions/%s", s.SubscriptionID)
	}
	return fmt.Sprintf("https://dashboard.stripe.com/test/subscriptions/%s", s.SubscriptionID)
}
