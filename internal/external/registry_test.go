package external

import (
	"context"
	"testing"

	"stripehome/internal/config"
	"stripehome/internal/types"
)

func testConfig(env string, testMode bool) *config.Config {
	cfg := &config.Config{
		Environment: env,
		IsTestMode:  testMode,
	}
	cfg.Stripe.SecretKey = types.SecretString("sk_test_registry")
	cfg.Stripe.WebhookSecret = types.SecretString("whsec_registry")
	return cfg
}

func TestNewClientRegistry_StubModeWhenTestMode(t *testing.T) {
	reg, err := NewClientRegistry(testConfig("prod", true), discardLogger())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if _, ok := reg.Billing.(*StubBillingService); !ok {
		t.Errorf("expected StubBillingService in test mode, got %T", reg.Billing)
	}
	if _, ok := reg.StripeVerifier.(*StubWebhookVerifier); !ok {
		t.Errorf("expected StubWebhookVerifier in test mode, got %T", reg.StripeVerifier)
	}
	if reg.Guard == nil {
		t.Error("expected guard to be constructed in stub mode")
	}
}

func TestNewClientRegistry_StubModeWhenLocal(t *testing.T) {
	reg, err := NewClientRegistry(testConfig("local", false), discardLogger())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if _, ok := reg.Billing.(*StubBillingService); !ok {
		t.Errorf("expected StubBillingService in local env, got %T", reg.Billing)
	}
}

func TestNewClientRegistry_ProductionMode(t *testing.T) {
	reg, err := NewClientRegistry(
		testConfig("prod", false),
		discardLogger(),
		WithCustomerLookup(NewStubCustomerLookup()),
		WithCallRecorder(NoopMetrics{}),
	)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	client, ok := reg.Billing.(*StripeClient)
	if !ok {
		t.Fatalf("expected *StripeClient in production mode, got %T", reg.Billing)
	}
	if client.Livemode() {
		t.Error("sk_test_ key must produce a non-livemode client even in prod env")
	}
	if _, ok := reg.StripeVerifier.(*StripeVerifier); !ok {
		t.Errorf("expected real StripeVerifier, got %T", reg.StripeVerifier)
	}
}

func TestStubRegistry_BillingRoundTrip(t *testing.T) {
	reg, _ := NewClientRegistry(testConfig("local", true), discardLogger())

	customerID, err := reg.Billing.EnsureCustomer(context.Background(), "user-1", "u@example.com")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if customerID == "" {
		t.Error("stub must return a synthetic customer id")
	}

	if err := reg.StripeVerifier.Verify([]byte("{}"), "sig", "secret"); err != nil {
		t.Errorf("stub verifier must accept any payload: %v", err)
	}
}
