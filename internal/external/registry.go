package external

import (
	"log/slog"
	"net/http"
	"time"

	"stripehome/internal/config"
)

// ClientRegistry holds all external service client interfaces. It is the
// single point of access for the rest of the application to interact with the
// payment provider. Construction happens once at bootstrap; the registry is
// immutable afterwards.
type ClientRegistry struct {
	Billing BillingService
	Guard   *ErrorGuard

	// Verifiers
	StripeVerifier WebhookVerifier
}

// RegistryOption is a functional option for configuring a ClientRegistry.
// Options allow callers to inject dependencies that are not available from
// config alone (e.g., database-backed lookup services needed by real clients).
type RegistryOption func(*registryConfig)

// registryConfig holds optional dependencies used when building real clients.
type registryConfig struct {
	customerLookup CustomerLookup
	metrics        CallRecorder
}

// WithCustomerLookup provides the CustomerLookup implementation required by
// the real StripeClient. This is a no-op in test/local mode where stubs are
// used instead.
func WithCustomerLookup(lookup CustomerLookup) RegistryOption {
	return func(rc *registryConfig) {
		rc.customerLookup = lookup
	}
}

// WithCallRecorder provides the telemetry backend wired into the ErrorGuard.
func WithCallRecorder(metrics CallRecorder) RegistryOption {
	return func(rc *registryConfig) {
		rc.metrics = metrics
	}
}

// NewClientRegistry initializes all external service clients.
// If cfg.IsTestMode is true or cfg.Environment is "local", the registry is
// populated with stub implementations that log actions without requiring real
// credentials. Otherwise, real client implementations are initialized with
// strict timeouts.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger, opts ...RegistryOption) (*ClientRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rc := &registryConfig{}
	for _, opt := range opts {
		opt(rc)
	}

	useStubs := cfg.IsTestMode || cfg.Environment == "local"

	if useStubs {
		logger.Info("initializing external clients in STUB mode",
			"is_test_mode", cfg.IsTestMode,
			"environment", cfg.Environment,
		)
		return newStubRegistry(logger, rc), nil
	}

	logger.Info("initializing external clients in PRODUCTION mode",
		"environment", cfg.Environment,
		"livemode", cfg.Stripe.Livemode(),
	)
	return newProductionRegistry(cfg, logger, rc)
}

// newStubRegistry creates a ClientRegistry populated with stub
// implementations. This allows the application to boot locally without any
// provider credentials.
func newStubRegistry(logger *slog.Logger, rc *registryConfig) *ClientRegistry {
	stubLogger := logger.With("mode", "stub")

	return &ClientRegistry{
		Billing:        NewStubBillingService(stubLogger),
		Guard:          NewErrorGuard(stubLogger, rc.metrics),
		StripeVerifier: NewStubWebhookVerifier(stubLogger),
	}
}

// newProductionRegistry creates a ClientRegistry with real client
// implementations configured with strict timeouts and resilience patterns.
func newProductionRegistry(cfg *config.Config, logger *slog.Logger, rc *registryConfig) (*ClientRegistry, error) {
	reg := &ClientRegistry{}

	// Stripe calls budget 20 seconds end to end.
	stripeHTTPClient := &http.Client{Timeout: 20 * time.Second}
	reg.Billing = NewStripeClient(stripeHTTPClient, rc.customerLookup, StripeClientConfig{
		SecretKey: cfg.Stripe.SecretKey.Unmask(),
		Logger:    logger.With("client", "stripe"),
	})

	reg.Guard = NewErrorGuard(logger, rc.metrics)
	reg.StripeVerifier = &StripeVerifier{}

	return reg, nil
}
