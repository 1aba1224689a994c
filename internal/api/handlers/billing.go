package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"stripehome/internal/config"
	"stripehome/internal/core"
	"stripehome/internal/external"
	"stripehome/internal/types"
)

// PlanStore is the subset of the plan repository the billing handler needs:
// price lookup for checkout and local recording of recurring prices created
// alongside products.
type PlanStore interface {
	GetPlan(ctx context.Context, planID string) (*types.Plan, error)
	Upsert(ctx context.Context, plan *types.Plan) error
}

// BillingHandler handles synchronous billing actions initiated by the user:
// checkout sessions, product creation, and payment intents. All provider
// calls route through the error guard so failures classify, count, and log
// uniformly.
type BillingHandler struct {
	billing   external.BillingService
	guard     *external.ErrorGuard
	plans     PlanStore
	customers external.CustomerLookup
	validator *core.Validator
	baseURL   string
	livemode  bool
	logger    *slog.Logger
}

// NewBillingHandler creates a new BillingHandler with the provided
// dependencies.
func NewBillingHandler(
	billing external.BillingService,
	guard *external.ErrorGuard,
	plans PlanStore,
	customers external.CustomerLookup,
	cfg *config.Config,
	v *core.Validator,
	l *slog.Logger,
) *BillingHandler {
	if l == nil {
		l = slog.Default()
	}

	baseURL := ""
	livemode := false
	if cfg != nil {
		baseURL = cfg.Server.BaseURL
		livemode = cfg.Stripe.Livemode()
	}

	return &BillingHandler{
		billing:   billing,
		guard:     guard,
		plans:     plans,
		customers: customers,
		validator: v,
		baseURL:   baseURL,
		livemode:  livemode,
		logger:    l,
	}
}

// RegisterRoutes mounts the billing endpoints. All routes require an
// authenticated user resolved from gateway identity headers.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(RequireUser)
		r.Post("/billing/checkout/{plan_id}", h.CreateCheckoutSession)
		r.Post("/billing/products", h.CreateProduct)
		r.Post("/billing/payment-intents", h.CreatePaymentIntent)
	})
}

// checkoutResult bundles the two values the provider returns for a checkout
// session so the call can pass through the guard.
type checkoutResult struct {
	url       string
	sessionID string
}

// CreateCheckoutSession handles POST /v1/billing/checkout/{plan_id}.
//
// The plan id in the path is the Stripe price id recorded by product
// creation. The body is optional; redirect URLs default to the configured
// base URL and a missing customer id triggers get-or-create against the
// acting user's email.
func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req types.CheckoutSessionRequest
	if r.ContentLength != 0 {
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
		if err := h.validator.ValidateStruct(req); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthRequired, "authenticated user required", nil))
		return
	}

	planID := chi.URLParam(r, "plan_id")
	plan, err := h.plans.GetPlan(r.Context(), planID)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeProviderNotFound {
			core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundPlan, "plan not found", nil))
			return
		}
		core.Error(w, r, err)
		return
	}

	customerID := req.CustomerID
	if customerID == "" {
		customerID, err = external.Guard(r.Context(), h.guard, "customer.ensure",
			func(ctx context.Context) (string, error) {
				return h.billing.EnsureCustomer(ctx, actor.ID, actor.Email)
			})
		if err != nil {
			core.Error(w, r, err)
			return
		}
	}

	urls := types.RedirectURLs{
		Success: req.SuccessURL,
		Cancel:  req.CancelURL,
	}
	if urls.Success == "" {
		urls.Success = h.baseURL + "/subscription/success?session_id={CHECKOUT_SESSION_ID}"
	}
	if urls.Cancel == "" {
		urls.Cancel = h.baseURL + "/subscription/cancel"
	}

	params := external.CheckoutSessionParams{
		CustomerID:        customerID,
		PriceID:           plan.PlanID,
		ClientReferenceID: actor.ID,
		Metadata: map[string]string{
			"plan_id":   plan.PlanID,
			"plan_name": plan.Name,
			"user_id":   actor.ID,
		},
		URLs: urls,
	}

	result, err := external.Guard(r.Context(), h.guard, "checkout.session.create",
		func(ctx context.Context) (checkoutResult, error) {
			url, sessionID, err := h.billing.CreateCheckoutSession(ctx, params)
			return checkoutResult{url: url, sessionID: sessionID}, err
		})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "checkout session created",
		"user_id", actor.ID,
		"plan_id", plan.PlanID,
		"session_id", result.sessionID,
	)

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: types.CheckoutSessionResponse{CheckoutURL: result.url},
	})
}

// CreateProduct handles POST /v1/billing/products.
//
// Creates the product and its prices at the provider, then records each
// recurring price as a local plan row so checkout and credit resolution can
// work without a provider round trip. Local recording is best-effort: the
// provider-side creation already succeeded, so a storage hiccup logs a
// warning instead of failing the request.
func (h *BillingHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req types.ProductCreateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	resp, err := external.Guard(r.Context(), h.guard, "product.create",
		func(ctx context.Context) (*types.ProductCreateResponse, error) {
			return h.billing.CreateProduct(ctx, req)
		})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.recordPlans(r.Context(), req, resp)

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: resp})
}

// recordPlans persists recurring prices from a product creation response as
// local plan rows. Prices come back in request order, so the two slices
// index together.
func (h *BillingHandler) recordPlans(ctx context.Context, req types.ProductCreateRequest, resp *types.ProductCreateResponse) {
	if h.plans == nil {
		return
	}
	for i, pricing := range req.PricingPlans {
		if !pricing.Recurring() || i >= len(resp.Prices) {
			continue
		}
		priceID, _ := resp.Prices[i]["id"].(string)
		if priceID == "" {
			continue
		}

		name := pricing.Nickname
		if name == "" {
			name = req.Name
		}

		plan := &types.Plan{
			PlanID:         priceID,
			Name:           name,
			Amount:         pricing.UnitAmount,
			Currency:       pricing.Currency,
			Interval:       pricing.Interval,
			InitialCredits: req.InitialCredits,
			MonthlyCredits: req.MonthlyCredits,
			Active:         pricing.Active == nil || *pricing.Active,
			Livemode:       h.livemode,
		}
		if err := h.plans.Upsert(ctx, plan); err != nil {
			h.logger.WarnContext(ctx, "failed to record plan locally",
				"plan_id", priceID,
				"product", req.Name,
				"error", err,
			)
		}
	}
}

// CreatePaymentIntent handles POST /v1/billing/payment-intents.
//
// Creates an async-capture payment intent. When the acting user has a
// linked customer, the intent is attached to it.
func (h *BillingHandler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req types.PaymentIntentCreateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthRequired, "authenticated user required", nil))
		return
	}

	customerID := ""
	if h.customers != nil {
		var err error
		customerID, err = h.customers.GetCustomerID(r.Context(), actor.ID)
		if err != nil {
			h.logger.WarnContext(r.Context(), "customer link lookup failed; creating intent without customer",
				"user_id", actor.ID,
				"error", err,
			)
			customerID = ""
		}
	}

	resp, err := external.Guard(r.Context(), h.guard, "payment_intent.create",
		func(ctx context.Context) (*types.PaymentIntentCreateResponse, error) {
			return h.billing.CreatePaymentIntent(ctx, customerID, req)
		})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: resp})
}
