package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stripehome/internal/types"
)

// newTestStripeClient builds a StripeClient against the given fake server.
func newTestStripeClient(t *testing.T, serverURL string, lookup CustomerLookup) *StripeClient {
	t.Helper()
	if lookup == nil {
		lookup = NewStubCustomerLookup()
	}
	base := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"stripe-test",
		RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: 10 * time.Millisecond},
		"StripeHome-Test/1.0",
		WithSleepFunc(noopSleep),
	)
	return NewStripeClientWithBase(base, lookup, StripeClientConfig{
		SecretKey: "sk_test_abc123",
		BaseURL:   serverURL,
		Logger:    discardLogger(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func TestEnsureCustomer_LocalLinkShortCircuits(t *testing.T) {
	var called bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	lookup := NewStubCustomerLookup()
	lookup.LinkCustomer(context.Background(), "user-1", "cus_existing", false)

	client := newTestStripeClient(t, server.URL, lookup)

	got, err := client.EnsureCustomer(context.Background(), "user-1", "u@example.com")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if got != "cus_existing" {
		t.Errorf("expected locally linked customer, got %s", got)
	}
	if called {
		t.Error("no provider call expected when the link already exists")
	}
}

func TestEnsureCustomer_SearchHit(t *testing.T) {
	var searchQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/customers/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		searchQuery = r.URL.Query().Get("query")
		writeJSON(w, http.StatusOK, `{"data":[{"id":"cus_found","email":"u@example.com"}],"has_more":false}`)
	}))
	defer server.Close()

	lookup := NewStubCustomerLookup()
	client := newTestStripeClient(t, server.URL, lookup)

	got, err := client.EnsureCustomer(context.Background(), "user-42", "u@example.com")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if got != "cus_found" {
		t.Errorf("expected cus_found, got %s", got)
	}
	if want := "metadata['user_id']:'user-42'"; searchQuery != want {
		t.Errorf("expected search query %q, got %q", want, searchQuery)
	}

	// The link must be persisted for the next call.
	linked, _ := lookup.GetCustomerID(context.Background(), "user-42")
	if linked != "cus_found" {
		t.Errorf("expected link persisted, got %q", linked)
	}
}

func TestEnsureCustomer_SearchMissCreates(t *testing.T) {
	var createdEmail, createdUserID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/customers/search":
			writeJSON(w, http.StatusOK, `{"data":[],"has_more":false}`)
		case "/v1/customers":
			r.ParseForm()
			createdEmail = r.PostForm.Get("email")
			createdUserID = r.PostForm.Get("metadata[user_id]")
			if r.Header.Get("Idempotency-Key") == "" {
				t.Error("expected Idempotency-Key on create")
			}
			writeJSON(w, http.StatusOK, `{"id":"cus_new","email":"u@example.com"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestStripeClient(t, server.URL, nil)

	got, err := client.EnsureCustomer(context.Background(), "user-9", "u@example.com")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if got != "cus_new" {
		t.Errorf("expected cus_new, got %s", got)
	}
	if createdEmail != "u@example.com" || createdUserID != "user-9" {
		t.Errorf("create params wrong: email=%q user_id=%q", createdEmail, createdUserID)
	}
}

func TestCreateCheckoutSession_Params(t *testing.T) {
	var form map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk_test_abc123" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if r.Header.Get("Stripe-Version") == "" {
			t.Error("expected Stripe-Version header")
		}
		r.ParseForm()
		form = r.PostForm
		writeJSON(w, http.StatusOK, `{"id":"cs_1","url":"https://checkout.stripe.com/c/cs_1"}`)
	}))
	defer server.Close()

	client := newTestStripeClient(t, server.URL, nil)

	checkoutURL, sessionID, err := client.CreateCheckoutSession(context.Background(), CheckoutSessionParams{
		CustomerID:        "cus_1",
		PriceID:           "price_1",
		ClientReferenceID: "user-1",
		Metadata:          map[string]string{"plan_id": "price_1", "plan_name": "Premium Plan"},
		URLs: types.RedirectURLs{
			Success: "https://app.example.com/subscription/success?session_id={CHECKOUT_SESSION_ID}",
			Cancel:  "https://app.example.com/subscription/cancel",
		},
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if checkoutURL != "https://checkout.stripe.com/c/cs_1" || sessionID != "cs_1" {
		t.Errorf("unexpected result: %s / %s", checkoutURL, sessionID)
	}

	expect := map[string]string{
		"customer":                   "cus_1",
		"mode":                       "subscription",
		"allow_promotion_codes":      "true",
		"billing_address_collection": "required",
		"client_reference_id":        "user-1",
		"line_items[0][price]":       "price_1",
		"line_items[0][quantity]":    "1",
		"metadata[plan_name]":        "Premium Plan",
	}
	for k, want := range expect {
		if got := formValue(form, k); got != want {
			t.Errorf("param %s: expected %q, got %q", k, want, got)
		}
	}
}

func formValue(form map[string][]string, key string) string {
	if v, ok := form[key]; ok && len(v) > 0 {
		return v[0]
	}
	return ""
}

func TestCreateProduct_TwoPlans_FirstIsDefaultPrice(t *testing.T) {
	var pricesCreated int
	var defaultPriceSet string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		switch {
		case r.URL.Path == "/v1/products" && r.Method == http.MethodPost:
			if got := r.PostForm.Get("metadata[initial_credits]"); got != "500" {
				t.Errorf("expected initial_credits metadata 500, got %q", got)
			}
			writeJSON(w, http.StatusOK, `{"id":"prod_1","name":"Premium"}`)
		case r.URL.Path == "/v1/prices":
			pricesCreated++
			writeJSON(w, http.StatusOK, fmt.Sprintf(`{"id":"price_%d","product":"prod_1"}`, pricesCreated))
		case r.URL.Path == "/v1/products/prod_1":
			defaultPriceSet = r.PostForm.Get("default_price")
			writeJSON(w, http.StatusOK, `{"id":"prod_1","name":"Premium","default_price":"price_1"}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestStripeClient(t, server.URL, nil)

	resp, err := client.CreateProduct(context.Background(), types.ProductCreateRequest{
		Name:           "Premium",
		InitialCredits: 500,
		MonthlyCredits: 100,
		PricingPlans: []types.ProductPricePlan{
			{UnitAmount: 2900, Currency: "usd", Interval: "month"},
			{UnitAmount: 29000, Currency: "usd", Interval: "year"},
		},
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if pricesCreated != 2 {
		t.Errorf("expected 2 prices created, got %d", pricesCreated)
	}
	if len(resp.Prices) != 2 {
		t.Fatalf("expected 2 prices in response, got %d", len(resp.Prices))
	}
	if defaultPriceSet != "price_1" {
		t.Errorf("expected first price as default_price, got %q", defaultPriceSet)
	}
	if got := resp.Product["default_price"]; got != "price_1" {
		t.Errorf("expected updated product in response, default_price=%v", got)
	}
}

func TestCreateProduct_NoPlans(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/products" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, `{"id":"prod_only","name":"Bare"}`)
	}))
	defer server.Close()

	client := newTestStripeClient(t, server.URL, nil)

	resp, err := client.CreateProduct(context.Background(), types.ProductCreateRequest{Name: "Bare"})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if len(resp.Prices) != 0 {
		t.Errorf("expected no prices, got %d", len(resp.Prices))
	}
}

func TestCreatePaymentIntent_AsyncCapture(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if got := r.PostForm.Get("capture_method"); got != "automatic_async" {
			t.Errorf("expected capture_method automatic_async, got %q", got)
		}
		if got := r.PostForm.Get("amount"); got != "5000" {
			t.Errorf("expected amount 5000, got %q", got)
		}
		writeJSON(w, http.StatusOK, `{
			"id":"pi_1","status":"processing","capture_method":"automatic_async",
			"client_secret":"pi_1_secret","latest_charge":"ch_1"
		}`)
	}))
	defer server.Close()

	client := newTestStripeClient(t, server.URL, nil)

	confirm := true
	resp, err := client.CreatePaymentIntent(context.Background(), "cus_1", types.PaymentIntentCreateRequest{
		Amount:        5000,
		Currency:      "USD",
		PaymentMethod: "pm_card_visa",
		Confirm:       &confirm,
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if resp.ID != "pi_1" || resp.CaptureMethod != "automatic_async" || resp.LatestCharge != "ch_1" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestListResources_Pagination(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/charges" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "2" {
			t.Errorf("expected limit 2, got %q", got)
		}
		if got := r.URL.Query().Get("starting_after"); got != "ch_0" {
			t.Errorf("expected starting_after ch_0, got %q", got)
		}
		writeJSON(w, http.StatusOK, `{"data":[{"id":"ch_1"},{"id":"ch_2"}],"has_more":true}`)
	}))
	defer server.Close()

	client := newTestStripeClient(t, server.URL, nil)

	items, page, err := client.ListResources(context.Background(), ResourceCharge, 2, "ch_0")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if !page.HasMore || page.NextCursor != "ch_2" {
		t.Errorf("unexpected page info: %+v", page)
	}
}

func TestListResources_UnknownKind(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no provider call expected for unknown kind")
	}))
	defer server.Close()

	client := newTestStripeClient(t, server.URL, nil)

	_, _, err := client.ListResources(context.Background(), ResourceKind("mysteries"), 10, "")
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeProviderInvalid {
		t.Errorf("expected %s, got %s", types.ErrCodeProviderInvalid, appErr.Code)
	}
}

func TestHandleErrorResponse_Mapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode types.ErrorCode
	}{
		{
			name:     "card declined",
			status:   http.StatusPaymentRequired,
			body:     `{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"Your card has insufficient funds."}}`,
			wantCode: types.ErrCodeProviderCard,
		},
		{
			name:     "bad api key",
			status:   http.StatusUnauthorized,
			body:     `{"error":{"type":"invalid_request_error","message":"Invalid API Key provided"}}`,
			wantCode: types.ErrCodeProviderAuth,
		},
		{
			name:     "restricted key",
			status:   http.StatusForbidden,
			body:     `{"error":{"type":"invalid_request_error","message":"This API key does not have access"}}`,
			wantCode: types.ErrCodeProviderPermission,
		},
		{
			name:     "missing resource",
			status:   http.StatusNotFound,
			body:     `{"error":{"type":"invalid_request_error","message":"No such customer: cus_x"}}`,
			wantCode: types.ErrCodeProviderNotFound,
		},
		{
			name:     "idempotency conflict",
			status:   http.StatusConflict,
			body:     `{"error":{"type":"idempotency_error","message":"Keys for idempotent requests can only be used with the same parameters"}}`,
			wantCode: types.ErrCodeProviderIdempotency,
		},
		{
			name:     "invalid parameter",
			status:   http.StatusBadRequest,
			body:     `{"error":{"type":"invalid_request_error","param":"amount","message":"Invalid integer"}}`,
			wantCode: types.ErrCodeProviderInvalid,
		},
		{
			name:     "unclassified provider failure",
			status:   http.StatusBadRequest,
			body:     `{"error":{"type":"","message":"something odd"}}`,
			wantCode: types.ErrCodeProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			}))
			defer server.Close()

			client := newTestStripeClient(t, server.URL, nil)

			_, err := client.CreatePaymentIntent(context.Background(), "", types.PaymentIntentCreateRequest{
				Amount:        100,
				Currency:      "usd",
				PaymentMethod: "pm_1",
			})
			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("expected *types.AppError, got %T (%v)", err, err)
			}
			if appErr.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, appErr.Code)
			}
			// Provider messages never leak into the client-facing message.
			if appErr.Message != appErr.Code.SafeMessage() {
				t.Errorf("client message %q must equal the fixed safe message %q", appErr.Message, appErr.Code.SafeMessage())
			}
		})
	}
}

func TestCardError_CarriesDeclineDetails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusPaymentRequired,
			`{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"declined"}}`)
	}))
	defer server.Close()

	client := newTestStripeClient(t, server.URL, nil)

	_, err := client.CreatePaymentIntent(context.Background(), "", types.PaymentIntentCreateRequest{
		Amount:        100,
		Currency:      "usd",
		PaymentMethod: "pm_1",
	})
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Details["decline_code"] != "insufficient_funds" {
		t.Errorf("expected decline_code detail, got %v", appErr.Details)
	}
}

func TestStripeVerifier_RejectsBadSignature(t *testing.T) {
	v := &StripeVerifier{}
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)

	if err := v.Verify(payload, "t=123,v1=deadbeef", "whsec_test"); err == nil {
		t.Error("expected signature verification to fail")
	}
}

func TestLivemode_FromKeyPrefix(t *testing.T) {
	test := NewStripeClientWithBase(nil, NewStubCustomerLookup(), StripeClientConfig{SecretKey: "sk_test_x", Logger: discardLogger()})
	if test.Livemode() {
		t.Error("sk_test_ key must not be livemode")
	}

	live := NewStripeClientWithBase(nil, NewStubCustomerLookup(), StripeClientConfig{SecretKey: "sk_live_x", Logger: discardLogger()})
	if !live.Livemode() {
		t.Error("sk_live_ key must be livemode")
	}
}

func TestStubBillingService_ProductDefaults(t *testing.T) {
	stub := NewStubBillingService(discardLogger())

	resp, err := stub.CreateProduct(context.Background(), types.ProductCreateRequest{
		Name: "Test",
		PricingPlans: []types.ProductPricePlan{
			{UnitAmount: 100, Currency: "usd"},
			{UnitAmount: 200, Currency: "usd"},
		},
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if len(resp.Prices) != 2 {
		t.Fatalf("expected 2 stub prices, got %d", len(resp.Prices))
	}
	if resp.Product["default_price"] != resp.Prices[0]["id"] {
		t.Error("stub must mirror the first-price-as-default behavior")
	}

	// Stub output must round-trip as JSON for handler tests.
	if _, err := json.Marshal(resp); err != nil {
		t.Errorf("stub response not serializable: %v", err)
	}
}

func TestResolveResourceKind(t *testing.T) {
	kind, path, err := ResolveResourceKind("payment_intent")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if kind != ResourcePaymentIntent || path != "/v1/payment_intents" {
		t.Errorf("unexpected resolution: %s %s", kind, path)
	}

	if _, _, err := ResolveResourceKind("mysteries"); err == nil {
		t.Error("expected unknown kind rejection")
	}

	kinds := ResourceKinds()
	if len(kinds) != len(resourcePaths) {
		t.Errorf("ResourceKinds must enumerate all registered kinds: %d vs %d", len(kinds), len(resourcePaths))
	}
	for _, k := range kinds {
		if !strings.HasPrefix(resourcePaths[k], "/v1/") {
			t.Errorf("kind %s has malformed path %q", k, resourcePaths[k])
		}
	}
}
