package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stripehome/internal/types"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // Override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient implements BillingService by making direct HTTP calls to the
// Stripe REST API through BaseClient. This routes all requests through the
// platform's resilience infrastructure (circuit breaker, retries, error
// mapping) and makes testing with httptest straightforward.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	livemode  bool
	customers CustomerLookup
	logger    *slog.Logger
}

// NewStripeClient creates a new StripeClient. The httpClient timeout should be
// set to 20 seconds as specified in the architecture.
func NewStripeClient(
	httpClient *http.Client,
	customers CustomerLookup,
	cfg StripeClientConfig,
) *StripeClient {
	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"StripeHome/1.0",
		WithSleepFunc(time.Sleep),
	)

	return NewStripeClientWithBase(base, customers, cfg)
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured BaseClient.
// This is useful for testing when you want to control the BaseClient configuration.
func NewStripeClientWithBase(
	base *BaseClient,
	customers CustomerLookup,
	cfg StripeClientConfig,
) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		livemode:  !types.IsTestKey(cfg.SecretKey),
		customers: customers,
		logger:    logger,
	}
}

// Livemode reports whether this client operates against live Stripe data.
// Derived from the secret key prefix; every record created through a test
// key carries livemode=false.
func (s *StripeClient) Livemode() bool {
	return s.livemode
}

// EnsureCustomer retrieves or creates a Stripe customer for the given user.
// Uses search-first logic to prevent duplicates:
//  1. Return the locally linked customer ID if one exists
//  2. Query the Stripe Search API for a metadata['user_id'] match
//  3. If not found, create a new customer with user_id metadata
//  4. Persist the link locally
func (s *StripeClient) EnsureCustomer(ctx context.Context, userID string, email string) (string, error) {
	if customerID, err := s.customers.GetCustomerID(ctx, userID); err == nil && customerID != "" {
		return customerID, nil
	}

	searchQuery := fmt.Sprintf("metadata['user_id']:'%s'", userID)
	params := url.Values{}
	params.Set("query", searchQuery)

	searchResp, err := s.doGet(ctx, "/v1/customers/search", params)
	if err != nil {
		return "", s.wrapProviderError(err)
	}
	defer searchResp.Body.Close()

	if searchResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(searchResp)
	}

	var searchResult stripeCustomerList
	if err := json.NewDecoder(searchResp.Body).Decode(&searchResult); err != nil {
		return "", types.NewProviderError(types.ErrCodeProviderAPI, err)
	}

	if len(searchResult.Data) > 0 {
		customerID := searchResult.Data[0].ID
		s.linkCustomer(ctx, userID, customerID)
		return customerID, nil
	}

	createParams := url.Values{}
	createParams.Set("email", email)
	createParams.Set("metadata[user_id]", userID)

	createResp, err := s.doPost(ctx, "/v1/customers", createParams)
	if err != nil {
		return "", s.wrapProviderError(err)
	}
	defer createResp.Body.Close()

	if createResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(createResp)
	}

	var customer stripeCustomer
	if err := json.NewDecoder(createResp.Body).Decode(&customer); err != nil {
		return "", types.NewProviderError(types.ErrCodeProviderAPI, err)
	}

	s.linkCustomer(ctx, userID, customer.ID)
	return customer.ID, nil
}

// linkCustomer persists the user to customer association. Failures here do
// not fail the provider call; the link is re-attempted on the next lookup.
func (s *StripeClient) linkCustomer(ctx context.Context, userID, customerID string) {
	if err := s.customers.LinkCustomer(ctx, userID, customerID, s.livemode); err != nil {
		s.logger.WarnContext(ctx, "failed to persist customer link",
			"user_id", userID,
			"customer_id", customerID,
			"error", err,
		)
	}
}

// CreateCheckoutSession generates a Stripe Checkout Session URL in
// subscription mode, with promotion codes allowed and billing address
// collection required.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, p CheckoutSessionParams) (string, string, error) {
	params := url.Values{}
	params.Set("customer", p.CustomerID)
	params.Set("mode", "subscription")
	params.Set("allow_promotion_codes", "true")
	params.Set("billing_address_collection", "required")
	params.Set("client_reference_id", p.ClientReferenceID)
	params.Set("success_url", p.URLs.Success)
	params.Set("cancel_url", p.URLs.Cancel)
	params.Set("line_items[0][price]", p.PriceID)
	params.Set("line_items[0][quantity]", "1")
	for k, v := range p.Metadata {
		params.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return "", "", s.wrapProviderError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", s.handleErrorResponse(resp)
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", "", types.NewProviderError(types.ErrCodeProviderAPI, err)
	}

	return session.URL, session.ID, nil
}

// CreateProduct creates a product, then one price per pricing plan
// sequentially. The first created price is set as the product's default
// price. Credit grant hints and the subscription tier are merged into the
// product metadata so webhook processing can recover them without a local
// lookup.
func (s *StripeClient) CreateProduct(ctx context.Context, req types.ProductCreateRequest) (*types.ProductCreateResponse, error) {
	params := url.Values{}
	params.Set("name", req.Name)
	if req.ID != "" {
		params.Set("id", req.ID)
	}
	if req.Active != nil {
		params.Set("active", strconv.FormatBool(*req.Active))
	}
	if req.Description != "" {
		params.Set("description", req.Description)
	}
	if req.StatementDescriptor != "" {
		params.Set("statement_descriptor", req.StatementDescriptor)
	}
	if req.UnitLabel != "" {
		params.Set("unit_label", req.UnitLabel)
	}
	if req.URL != "" {
		params.Set("url", req.URL)
	}
	if req.TaxCode != "" {
		params.Set("tax_code", req.TaxCode)
	}
	for i, img := range req.Images {
		params.Set(fmt.Sprintf("images[%d]", i), img)
	}
	for k, v := range req.Metadata {
		params.Set(fmt.Sprintf("metadata[%s]", k), v)
	}
	params.Set("metadata[initial_credits]", strconv.Itoa(req.InitialCredits))
	params.Set("metadata[monthly_credits]", strconv.Itoa(req.MonthlyCredits))
	if req.SubscriptionTier != "" {
		params.Set("metadata[subscription_tier]", req.SubscriptionTier)
	}

	product, err := s.postForObject(ctx, "/v1/products", params)
	if err != nil {
		return nil, err
	}

	productID, _ := product["id"].(string)
	prices := make([]map[string]any, 0, len(req.PricingPlans))

	for i, plan := range req.PricingPlans {
		price, err := s.createPrice(ctx, productID, plan)
		if err != nil {
			return nil, err
		}
		prices = append(prices, price)

		if i == 0 {
			if priceID, ok := price["id"].(string); ok {
				updateParams := url.Values{}
				updateParams.Set("default_price", priceID)
				updated, err := s.postForObject(ctx, "/v1/products/"+productID, updateParams)
				if err != nil {
					return nil, err
				}
				product = updated
			}
		}
	}

	return &types.ProductCreateResponse{Product: product, Prices: prices}, nil
}

// createPrice creates one price attached to the product.
func (s *StripeClient) createPrice(ctx context.Context, productID string, plan types.ProductPricePlan) (map[string]any, error) {
	params := url.Values{}
	params.Set("product", productID)
	params.Set("unit_amount", strconv.FormatInt(plan.UnitAmount, 10))
	params.Set("currency", strings.ToLower(plan.Currency))
	if plan.Nickname != "" {
		params.Set("nickname", plan.Nickname)
	}
	if plan.Active != nil {
		params.Set("active", strconv.FormatBool(*plan.Active))
	}
	if plan.Recurring() {
		params.Set("recurring[interval]", plan.Interval)
		if plan.IntervalCount > 0 {
			params.Set("recurring[interval_count]", strconv.Itoa(plan.IntervalCount))
		}
		if plan.UsageType != "" {
			params.Set("recurring[usage_type]", plan.UsageType)
		}
	}
	for k, v := range plan.Metadata {
		params.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	return s.postForObject(ctx, "/v1/prices", params)
}

// CreatePaymentIntent creates a payment intent with asynchronous capture.
// Settlement details on the latest charge may lag the intent itself.
func (s *StripeClient) CreatePaymentIntent(ctx context.Context, customerID string, req types.PaymentIntentCreateRequest) (*types.PaymentIntentCreateResponse, error) {
	params := url.Values{}
	params.Set("amount", strconv.FormatInt(req.Amount, 10))
	params.Set("currency", strings.ToLower(req.Currency))
	params.Set("payment_method", req.PaymentMethod)
	params.Set("capture_method", "automatic_async")
	if customerID != "" {
		params.Set("customer", customerID)
	}
	if req.Confirm != nil {
		params.Set("confirm", strconv.FormatBool(*req.Confirm))
	}
	for i, pmt := range req.PaymentMethodTypes {
		params.Set(fmt.Sprintf("payment_method_types[%d]", i), pmt)
	}

	resp, err := s.doPost(ctx, "/v1/payment_intents", params)
	if err != nil {
		return nil, s.wrapProviderError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp)
	}

	var intent stripePaymentIntent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, types.NewProviderError(types.ErrCodeProviderAPI, err)
	}

	return &types.PaymentIntentCreateResponse{
		ID:            intent.ID,
		Status:        intent.Status,
		CaptureMethod: intent.CaptureMethod,
		ClientSecret:  intent.ClientSecret,
		LatestCharge:  intent.LatestCharge,
	}, nil
}

// ListResources lists provider resources of the given kind. The cursor maps
// to Stripe's starting_after parameter; objects come back as raw maps since
// each kind has its own shape.
func (s *StripeClient) ListResources(ctx context.Context, kind ResourceKind, limit int, cursor string) ([]map[string]any, types.PageInfo, error) {
	path, ok := resourcePaths[kind]
	if !ok {
		_, _, err := ResolveResourceKind(string(kind))
		return nil, types.PageInfo{}, err
	}

	if limit <= 0 {
		limit = 20
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		params.Set("starting_after", cursor)
	}

	resp, err := s.doGet(ctx, path, params)
	if err != nil {
		return nil, types.PageInfo{}, s.wrapProviderError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.PageInfo{}, s.handleErrorResponse(resp)
	}

	var list stripeObjectList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, types.PageInfo{}, types.NewProviderError(types.ErrCodeProviderAPI, err)
	}

	pageInfo := types.PageInfo{HasMore: list.HasMore}
	if list.HasMore && len(list.Data) > 0 {
		if id, ok := list.Data[len(list.Data)-1]["id"].(string); ok {
			pageInfo.NextCursor = id
		}
	}

	return list.Data, pageInfo, nil
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

// postForObject performs a POST and decodes the response as a raw object map.
func (s *StripeClient) postForObject(ctx context.Context, path string, params url.Values) (map[string]any, error) {
	resp, err := s.doPost(ctx, path, params)
	if err != nil {
		return nil, s.wrapProviderError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp)
	}

	var obj map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return nil, types.NewProviderError(types.ErrCodeProviderAPI, err)
	}
	return obj, nil
}

// doGet performs an authenticated GET request to the Stripe API.
func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// doPost performs an authenticated POST request with a form-encoded body.
// Every POST carries a fresh Idempotency-Key so transport-level retries
// cannot double-create provider objects.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	body := params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// setAuthHeaders sets the Stripe API authentication and version headers.
func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

// stripeErrorResponse represents the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
}

// handleErrorResponse reads a Stripe error response and maps it into the
// provider error taxonomy.
func (s *StripeClient) handleErrorResponse(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewProviderError(
			types.ErrCodeProviderAPI,
			fmt.Errorf("status %d with unreadable body: %w", resp.StatusCode, readErr),
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewProviderError(
			types.ErrCodeProviderAPI,
			fmt.Errorf("status %d with non-JSON error body: %w", resp.StatusCode, jsonErr),
		)
	}

	return mapProviderError(resp.StatusCode, &stripeErr.Error)
}

// mapProviderError translates a decoded Stripe error body into the taxonomy.
// Status takes priority for auth, permission, throttling, and not-found;
// the body's error type disambiguates the rest.
func mapProviderError(statusCode int, e *stripeErrorBody) *types.AppError {
	if e.Type == "card_error" || e.DeclineCode != "" {
		return types.NewProviderError(
			types.ErrCodeProviderCard,
			fmt.Errorf("card error: %s", e.Message),
		).WithDetails(map[string]any{
			"decline_code": e.DeclineCode,
			"stripe_code":  e.Code,
		})
	}

	switch statusCode {
	case http.StatusUnauthorized:
		return types.NewProviderError(types.ErrCodeProviderAuth, fmt.Errorf("authentication failed: %s", e.Message))
	case http.StatusForbidden:
		return types.NewProviderError(types.ErrCodeProviderPermission, fmt.Errorf("permission denied: %s", e.Message))
	case http.StatusTooManyRequests:
		return types.NewProviderError(types.ErrCodeProviderRateLimited, fmt.Errorf("rate limited: %s", e.Message))
	case http.StatusNotFound:
		return types.NewProviderError(types.ErrCodeProviderNotFound, fmt.Errorf("resource not found: %s", e.Message))
	case http.StatusConflict:
		return types.NewProviderError(types.ErrCodeProviderIdempotency, fmt.Errorf("idempotency conflict: %s", e.Message))
	}

	if statusCode >= 500 {
		return types.NewProviderError(types.ErrCodeProviderAPI, fmt.Errorf("server error %d: %s", statusCode, e.Message))
	}

	switch e.Type {
	case "idempotency_error":
		return types.NewProviderError(types.ErrCodeProviderIdempotency, fmt.Errorf("idempotency error: %s", e.Message))
	case "invalid_request_error":
		return types.NewProviderError(types.ErrCodeProviderInvalid, fmt.Errorf("invalid request (%s): %s", e.Param, e.Message))
	case "api_error":
		return types.NewProviderError(types.ErrCodeProviderAPI, fmt.Errorf("API error: %s", e.Message))
	}

	return types.NewProviderError(types.ErrCodeProvider, fmt.Errorf("provider error %d: %s", statusCode, e.Message))
}

// wrapProviderError passes through AppErrors from BaseClient (circuit breaker,
// retries exhausted) and classifies anything else as a connection failure.
func (s *StripeClient) wrapProviderError(err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewProviderError(types.ErrCodeProviderConnection, err)
}

// ---------------------------------------------------------------------------
// Stripe Response Types (for JSON deserialization)
// ---------------------------------------------------------------------------

type stripeCustomer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"metadata"`
}

type stripeCustomerList struct {
	Data    []stripeCustomer `json:"data"`
	HasMore bool             `json:"has_more"`
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripePaymentIntent struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	CaptureMethod string `json:"capture_method"`
	ClientSecret  string `json:"client_secret"`
	LatestCharge  string `json:"latest_charge"`
}

type stripeObjectList struct {
	Data    []map[string]any `json:"data"`
	HasMore bool             `json:"has_more"`
}

// ---------------------------------------------------------------------------
// Webhook Verification
// ---------------------------------------------------------------------------

// StripeVerifier implements WebhookVerifier using stripe-go's webhook
// signature verification. This provides HMAC-SHA256 signature checking
// with timestamp tolerance.
type StripeVerifier struct{}

// Verify validates a Stripe webhook payload against the signature header
// and signing secret. Uses stripe-go's ValidatePayload which checks both
// the HMAC signature and the timestamp tolerance.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return stripe.ValidatePayload(payload, header, secret)
}

var (
	_ BillingService  = (*StripeClient)(nil)
	_ WebhookVerifier = (*StripeVerifier)(nil)
)
