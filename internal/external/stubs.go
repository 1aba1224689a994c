package external

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stripehome/internal/types"
)

// Stub implementations allow the application to boot in local/test mode
// without requiring real provider credentials. They log all actions and
// return predictable, safe default values.

// StubBillingService implements BillingService by logging calls and returning
// test-safe defaults. Used when config.IsTestMode is true or APP_ENV=local.
type StubBillingService struct {
	logger *slog.Logger
}

// NewStubBillingService creates a new StubBillingService.
func NewStubBillingService(logger *slog.Logger) *StubBillingService {
	return &StubBillingService{logger: logger}
}

func (s *StubBillingService) EnsureCustomer(ctx context.Context, userID string, email string) (string, error) {
	s.logger.InfoContext(ctx, "stub: EnsureCustomer called",
		"user_id", userID,
		"email", email,
	)
	return fmt.Sprintf("cus_stub_%s", userID), nil
}

func (s *StubBillingService) CreateCheckoutSession(ctx context.Context, p CheckoutSessionParams) (string, string, error) {
	s.logger.InfoContext(ctx, "stub: CreateCheckoutSession called",
		"customer_id", p.CustomerID,
		"price_id", p.PriceID,
	)
	return "https://checkout.stub.local/session", fmt.Sprintf("cs_stub_%s", p.ClientReferenceID), nil
}

func (s *StubBillingService) CreateProduct(ctx context.Context, req types.ProductCreateRequest) (*types.ProductCreateResponse, error) {
	s.logger.InfoContext(ctx, "stub: CreateProduct called",
		"name", req.Name,
		"pricing_plans", len(req.PricingPlans),
	)

	product := map[string]any{
		"id":   "prod_stub_1",
		"name": req.Name,
	}
	prices := make([]map[string]any, 0, len(req.PricingPlans))
	for i, plan := range req.PricingPlans {
		prices = append(prices, map[string]any{
			"id":          fmt.Sprintf("price_stub_%d", i+1),
			"product":     "prod_stub_1",
			"unit_amount": plan.UnitAmount,
			"currency":    plan.Currency,
		})
	}
	if len(prices) > 0 {
		product["default_price"] = prices[0]["id"]
	}

	return &types.ProductCreateResponse{Product: product, Prices: prices}, nil
}

func (s *StubBillingService) CreatePaymentIntent(ctx context.Context, customerID string, req types.PaymentIntentCreateRequest) (*types.PaymentIntentCreateResponse, error) {
	s.logger.InfoContext(ctx, "stub: CreatePaymentIntent called",
		"customer_id", customerID,
		"amount", req.Amount,
	)
	return &types.PaymentIntentCreateResponse{
		ID:            "pi_stub_1",
		Status:        "processing",
		CaptureMethod: "automatic_async",
		ClientSecret:  "pi_stub_1_secret",
	}, nil
}

func (s *StubBillingService) ListResources(ctx context.Context, kind ResourceKind, limit int, cursor string) ([]map[string]any, types.PageInfo, error) {
	s.logger.InfoContext(ctx, "stub: ListResources called",
		"kind", string(kind),
		"limit", limit,
	)
	if _, _, err := ResolveResourceKind(string(kind)); err != nil {
		return nil, types.PageInfo{}, err
	}
	return []map[string]any{}, types.PageInfo{}, nil
}

// StubCustomerLookup implements CustomerLookup with an in-memory map.
// Used in tests and by the stub registry.
type StubCustomerLookup struct {
	links map[string]string
}

// NewStubCustomerLookup creates an empty in-memory lookup.
func NewStubCustomerLookup() *StubCustomerLookup {
	return &StubCustomerLookup{links: make(map[string]string)}
}

func (s *StubCustomerLookup) GetCustomerID(ctx context.Context, userID string) (string, error) {
	return s.links[userID], nil
}

func (s *StubCustomerLookup) LinkCustomer(ctx context.Context, userID string, customerID string, livemode bool) error {
	s.links[userID] = customerID
	return nil
}

// StubWebhookVerifier implements WebhookVerifier by always succeeding.
// Used when config.IsTestMode is true or APP_ENV=local.
type StubWebhookVerifier struct {
	logger *slog.Logger
}

// NewStubWebhookVerifier creates a new StubWebhookVerifier.
func NewStubWebhookVerifier(logger *slog.Logger) *StubWebhookVerifier {
	return &StubWebhookVerifier{logger: logger}
}

func (s *StubWebhookVerifier) Verify(payload []byte, header string, secret string) error {
	s.logger.Info("stub: Stripe webhook Verify called",
		"payload_len", len(payload),
	)
	return nil
}

// StubClock implements types.Clock with a fixed instant for deterministic tests.
type StubClock struct {
	Instant time.Time
}

func (c StubClock) Now() time.Time {
	return c.Instant
}

// ---------------------------------------------------------------------------
// Interface Compliance
// ---------------------------------------------------------------------------

var _ BillingService = (*StubBillingService)(nil)
var _ CustomerLookup = (*StubCustomerLookup)(nil)
var _ WebhookVerifier = (*StubWebhookVerifier)(nil)
var _ types.Clock = StubClock{}
