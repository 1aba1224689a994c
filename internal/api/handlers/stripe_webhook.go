package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"stripehome/internal/core"
	"stripehome/internal/external"
	"stripehome/internal/types"
)

// maxWebhookBodySize is the maximum allowed size of a Stripe webhook payload
// (64 KB). Stripe payloads are small; the limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// CreditAllocator is the billing service surface the webhook handler needs
// for credit grants and plan-change adjustments.
type CreditAllocator interface {
	AllocateSubscriptionCredits(ctx context.Context, req types.CreditAllocationRequest) (*types.CreditAllocationResult, error)
	HandleSubscriptionChange(ctx context.Context, req types.SubscriptionChangeRequest) (*types.SubscriptionChangeResult, error)
}

// SubscriptionSync applies webhook events to the local subscription
// projection. Implementations must tolerate out-of-order delivery.
type SubscriptionSync interface {
	ApplyEvent(ctx context.Context, sub *types.Subscription, eventTime time.Time) (bool, error)
}

// CustomerLinker resolves and records user-to-customer links during webhook
// processing.
type CustomerLinker interface {
	LinkCustomer(ctx context.Context, userID string, customerID string, livemode bool) error
	GetUserID(ctx context.Context, customerID string) (string, error)
}

// PlanResolver looks up locally recorded plans by Stripe price id.
type PlanResolver interface {
	GetPlan(ctx context.Context, planID string) (*types.Plan, error)
}

// StripeWebhookHandler handles asynchronous events from Stripe. It is NOT
// behind the identity middleware -- Stripe calls it directly. Security comes
// from verifying the Stripe-Signature header against the signing secret.
type StripeWebhookHandler struct {
	verifier  external.WebhookVerifier
	credits   CreditAllocator
	subs      SubscriptionSync
	customers CustomerLinker
	plans     PlanResolver
	secret    string
	logger    *slog.Logger
}

// NewStripeWebhookHandler creates a new StripeWebhookHandler with the
// provided dependencies.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	credits CreditAllocator,
	subs SubscriptionSync,
	customers CustomerLinker,
	plans PlanResolver,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier:  verifier,
		credits:   credits,
		subs:      subs,
		customers: customers,
		plans:     plans,
		secret:    secret,
		logger:    logger,
	}
}

// RegisterRoutes mounts the Stripe webhook endpoint. Kept separate from the
// billing routes because webhook routes skip the identity middleware.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle processes incoming Stripe webhook events.
//
// Signature verification failures are rejected. Once verified, the event is
// always acknowledged with 200: processing errors are logged for
// investigation instead of returned, so Stripe does not retry events whose
// failures are on our side.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		core.Error(w, r, types.NewProviderError(types.ErrCodeProviderSignature, nil))
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewProviderError(types.ErrCodeProviderSignature, err))
		return
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to parse webhook event JSON", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"invalid webhook event JSON",
			err,
		))
		return
	}

	h.logger.InfoContext(r.Context(), "processing stripe webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
		"livemode", event.Livemode,
	)

	if err := h.routeEvent(r.Context(), &event); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
	}

	w.WriteHeader(http.StatusOK)
}

// routeEvent dispatches the webhook event by type. Unrecognized types are
// acknowledged without action.
func (h *StripeWebhookHandler) routeEvent(ctx context.Context, event *stripeWebhookEvent) error {
	switch event.Type {
	case external.EventStripeCheckoutCompleted:
		return h.handleCheckoutCompleted(ctx, event)

	case external.EventStripeSubCreated:
		return h.handleSubscriptionCreated(ctx, event)

	case external.EventStripeSubUpdated:
		return h.handleSubscriptionUpdated(ctx, event)

	case external.EventStripeSubDeleted:
		return h.handleSubscriptionDeleted(ctx, event)

	case external.EventStripeInvoicePaid:
		return h.handleInvoicePaid(ctx, event)

	case external.EventStripePaymentFailed:
		return h.handlePaymentFailed(ctx, event)

	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", event.Type,
		)
		return nil
	}
}

// handleCheckoutCompleted records the user-to-customer link confirmed by a
// completed checkout. The user id comes from client_reference_id, which our
// checkout creation always sets.
func (h *StripeWebhookHandler) handleCheckoutCompleted(ctx context.Context, event *stripeWebhookEvent) error {
	var session stripeCheckoutSessionObj
	if err := event.unmarshalObject(&session); err != nil {
		return fmt.Errorf("checkout.session.completed: %w", err)
	}

	userID := session.ClientReferenceID
	if userID == "" {
		userID = session.Metadata["user_id"]
	}
	if userID == "" || session.Customer == "" {
		return fmt.Errorf("checkout.session.completed: missing user or customer in event %s", event.ID)
	}

	h.logger.InfoContext(ctx, "checkout completed",
		"event_id", event.ID,
		"user_id", userID,
		"customer_id", session.Customer,
		"subscription_id", session.Subscription,
	)

	return h.customers.LinkCustomer(ctx, userID, session.Customer, event.Livemode)
}

// handleSubscriptionCreated syncs the new subscription locally and grants
// the plan's initial credits.
func (h *StripeWebhookHandler) handleSubscriptionCreated(ctx context.Context, event *stripeWebhookEvent) error {
	sub, obj, err := h.subscriptionFromEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("customer.subscription.created: %w", err)
	}

	if _, err := h.subs.ApplyEvent(ctx, sub, event.eventTimestamp()); err != nil {
		return fmt.Errorf("customer.subscription.created: %w", err)
	}

	credits, planName := h.resolveInitialCredits(ctx, obj)
	if credits <= 0 {
		h.logger.InfoContext(ctx, "no initial credits for subscription",
			"subscription_id", sub.SubscriptionID,
			"plan_id", sub.PlanID,
		)
		return nil
	}

	_, err = h.credits.AllocateSubscriptionCredits(ctx, types.CreditAllocationRequest{
		UserID:         sub.UserID,
		Amount:         credits,
		Description:    fmt.Sprintf("Initial credits for subscribing to %s", planName),
		SubscriptionID: sub.SubscriptionID,
	})
	if err != nil {
		return fmt.Errorf("customer.subscription.created: allocate initial credits: %w", err)
	}
	return nil
}

// handleSubscriptionUpdated syncs state and, when the price changed, runs
// the plan-change credit adjustment.
func (h *StripeWebhookHandler) handleSubscriptionUpdated(ctx context.Context, event *stripeWebhookEvent) error {
	sub, obj, err := h.subscriptionFromEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("customer.subscription.updated: %w", err)
	}

	if _, err := h.subs.ApplyEvent(ctx, sub, event.eventTimestamp()); err != nil {
		return fmt.Errorf("customer.subscription.updated: %w", err)
	}

	oldPriceID := event.previousPriceID()
	if oldPriceID == "" || oldPriceID == sub.PlanID {
		return nil
	}

	change := types.SubscriptionChangeRequest{
		UserID:         sub.UserID,
		OldPlanName:    h.planName(ctx, oldPriceID, ""),
		NewPlanName:    h.planName(ctx, sub.PlanID, obj.priceNickname()),
		SubscriptionID: sub.SubscriptionID,
	}

	result, err := h.credits.HandleSubscriptionChange(ctx, change)
	if err != nil {
		return fmt.Errorf("customer.subscription.updated: plan change: %w", err)
	}

	h.logger.InfoContext(ctx, "subscription plan change processed",
		"subscription_id", sub.SubscriptionID,
		"old_plan", change.OldPlanName,
		"new_plan", change.NewPlanName,
		"credit_adjustment", result.Details["credit_adjustment"],
		"subscription_tier", result.Details["subscription_tier"],
	)
	return nil
}

// handleSubscriptionDeleted syncs the terminal subscription state.
func (h *StripeWebhookHandler) handleSubscriptionDeleted(ctx context.Context, event *stripeWebhookEvent) error {
	sub, _, err := h.subscriptionFromEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("customer.subscription.deleted: %w", err)
	}
	if sub.Status == "" {
		sub.Status = types.SubscriptionCanceled
	}

	if _, err := h.subs.ApplyEvent(ctx, sub, event.eventTimestamp()); err != nil {
		return fmt.Errorf("customer.subscription.deleted: %w", err)
	}
	return nil
}

// handleInvoicePaid acknowledges renewal payments. Recurring credit grants
// ride on subscription events, so this is observability only.
func (h *StripeWebhookHandler) handleInvoicePaid(ctx context.Context, event *stripeWebhookEvent) error {
	var invoice stripeInvoiceObj
	if err := event.unmarshalObject(&invoice); err != nil {
		return fmt.Errorf("invoice.paid: %w", err)
	}

	h.logger.InfoContext(ctx, "invoice paid",
		"event_id", event.ID,
		"customer_id", invoice.Customer,
		"subscription_id", invoice.Subscription,
		"amount_paid", invoice.AmountPaid,
	)
	return nil
}

// handlePaymentFailed logs the dunning signal at warn level.
func (h *StripeWebhookHandler) handlePaymentFailed(ctx context.Context, event *stripeWebhookEvent) error {
	var invoice stripeInvoiceObj
	if err := event.unmarshalObject(&invoice); err != nil {
		return fmt.Errorf("invoice.payment_failed: %w", err)
	}

	h.logger.WarnContext(ctx, "invoice payment failed",
		"event_id", event.ID,
		"customer_id", invoice.Customer,
		"subscription_id", invoice.Subscription,
		"attempt_count", invoice.AttemptCount,
	)
	return nil
}

// subscriptionFromEvent parses the subscription object and resolves the
// owning user through the customer link.
func (h *StripeWebhookHandler) subscriptionFromEvent(ctx context.Context, event *stripeWebhookEvent) (*types.Subscription, *stripeSubscriptionObj, error) {
	var obj stripeSubscriptionObj
	if err := event.unmarshalObject(&obj); err != nil {
		return nil, nil, err
	}
	if obj.ID == "" {
		return nil, nil, fmt.Errorf("missing subscription id in event %s", event.ID)
	}

	userID := obj.Metadata["user_id"]
	if userID == "" {
		resolved, err := h.customers.GetUserID(ctx, obj.Customer)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve user for customer %s: %w", obj.Customer, err)
		}
		userID = resolved
	}

	sub := &types.Subscription{
		SubscriptionID:     obj.ID,
		UserID:             userID,
		Status:             types.SubscriptionStatus(obj.Status),
		PlanID:             obj.priceID(),
		CurrentPeriodStart: time.Unix(obj.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:   time.Unix(obj.CurrentPeriodEnd, 0).UTC(),
		CancelAtPeriodEnd:  obj.CancelAtPeriodEnd,
		Livemode:           obj.Livemode,
	}
	return sub, &obj, nil
}

// resolveInitialCredits determines the initial credit grant for a new
// subscription. Price metadata wins (product creation stamps credit hints
// there); the local plan record is the fallback.
func (h *StripeWebhookHandler) resolveInitialCredits(ctx context.Context, obj *stripeSubscriptionObj) (int, string) {
	priceID := obj.priceID()
	planName := obj.priceNickname()

	if raw := obj.priceMetadata()["initial_credits"]; raw != "" {
		if credits, err := strconv.Atoi(raw); err == nil {
			return credits, h.planName(ctx, priceID, planName)
		}
	}

	if h.plans != nil && priceID != "" {
		if plan, err := h.plans.GetPlan(ctx, priceID); err == nil {
			return plan.InitialCredits, plan.Name
		}
	}
	return 0, h.planName(ctx, priceID, planName)
}

// planName resolves a display name for a price id, preferring the local
// plan record, then the price nickname, then the raw id.
func (h *StripeWebhookHandler) planName(ctx context.Context, priceID, nickname string) string {
	if h.plans != nil && priceID != "" {
		if plan, err := h.plans.GetPlan(ctx, priceID); err == nil && plan.Name != "" {
			return plan.Name
		}
	}
	if nickname != "" {
		return nickname
	}
	return priceID
}

// ---------------------------------------------------------------------------
// Stripe event parsing
// ---------------------------------------------------------------------------

// stripeWebhookEvent is a minimal representation of a Stripe webhook event
// tailored to the fields needed for routing and processing. The full
// stripe.Event type is deliberately not used here; it keeps the handler's
// test payloads small and its parsing explicit.
type stripeWebhookEvent struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Created  int64           `json:"created"`
	Livemode bool            `json:"livemode"`
	Data     stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object             json.RawMessage `json:"object"`
	PreviousAttributes json.RawMessage `json:"previous_attributes"`
}

func (e *stripeWebhookEvent) eventTimestamp() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

func (e *stripeWebhookEvent) unmarshalObject(dst any) error {
	if len(e.Data.Object) == 0 {
		return fmt.Errorf("event %s has no data object", e.ID)
	}
	return json.Unmarshal(e.Data.Object, dst)
}

// previousPriceID extracts the prior price id from previous_attributes on a
// subscription update, or "" when the update did not change the price.
func (e *stripeWebhookEvent) previousPriceID() string {
	if len(e.Data.PreviousAttributes) == 0 {
		return ""
	}
	var prev struct {
		Items stripeSubItems `json:"items"`
		Plan  struct {
			ID string `json:"id"`
		} `json:"plan"`
	}
	if err := json.Unmarshal(e.Data.PreviousAttributes, &prev); err != nil {
		return ""
	}
	if len(prev.Items.Data) > 0 && prev.Items.Data[0].Price.ID != "" {
		return prev.Items.Data[0].Price.ID
	}
	return prev.Plan.ID
}

// stripeCheckoutSessionObj holds the minimal fields from a
// checkout.session.completed data object.
type stripeCheckoutSessionObj struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

// stripeSubscriptionObj holds the minimal fields from a subscription event's
// data object.
type stripeSubscriptionObj struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	Livemode           bool              `json:"livemode"`
	Metadata           map[string]string `json:"metadata"`
	Items              stripeSubItems    `json:"items"`
}

type stripeSubItems struct {
	Data []stripeSubItem `json:"data"`
}

type stripeSubItem struct {
	Price stripeSubPrice `json:"price"`
}

type stripeSubPrice struct {
	ID       string            `json:"id"`
	Nickname string            `json:"nickname"`
	Metadata map[string]string `json:"metadata"`
}

func (o *stripeSubscriptionObj) priceID() string {
	if len(o.Items.Data) == 0 {
		return ""
	}
	return o.Items.Data[0].Price.ID
}

func (o *stripeSubscriptionObj) priceNickname() string {
	if len(o.Items.Data) == 0 {
		return ""
	}
	return o.Items.Data[0].Price.Nickname
}

func (o *stripeSubscriptionObj) priceMetadata() map[string]string {
	if len(o.Items.Data) == 0 {
		return nil
	}
	return o.Items.Data[0].Price.Metadata
}

// stripeInvoiceObj holds the minimal fields from an invoice event's data
// object.
type stripeInvoiceObj struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	AmountPaid   int64  `json:"amount_paid"`
	AttemptCount int    `json:"attempt_count"`
}
