// Package main is the entry point for the stripehome API server.
//
// It loads configuration, connects the PostgreSQL pool, initializes the
// external client registry (Stripe or stubs, depending on environment),
// wires the billing handlers onto the core chassis, and serves HTTP with
// graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"stripehome/internal/api/handlers"
	"stripehome/internal/billing"
	"stripehome/internal/config"
	"stripehome/internal/core"
	"stripehome/internal/db"
	"stripehome/internal/external"
	"stripehome/internal/queue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	// For non-local environments, secrets referenced via *_SSM_PARAM variables
	// are resolved from SSM Parameter Store during config loading.
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}

	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("stripehome API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"livemode", cfg.Stripe.Livemode(),
	)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// Database pool and repositories.
	pool, err := newDBPool(startupCtx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	srv.OnShutdown(func() error {
		pool.Close()
		return nil
	})
	srv.HealthProbes = append(srv.HealthProbes, dbProbe{pool: pool})

	customerRepo := db.NewCustomerRepository(pool)
	planRepo := db.NewPlanRepository(pool)
	subscriptionRepo := db.NewSubscriptionRepository(pool, logger)

	// AWS SDK config is only needed for CloudWatch metrics and SQS credit
	// allocation; skip loading it when neither is in use.
	var awsCfg aws.Config
	needsAWS := cfg.Observability.MetricsBackend == "cloudwatch" || cfg.AWS.CreditQueueURL != ""
	if needsAWS {
		awsCfg, err = newAWSConfig(startupCtx, cfg.AWS)
		if err != nil {
			return fmt.Errorf("loading AWS config: %w", err)
		}
	}

	// Metrics backend selection. The Prometheus and CloudWatch collectors
	// serve double duty as the chassis request recorder and the provider-call
	// recorder inside the error guard.
	var callRecorder external.CallRecorder
	switch cfg.Observability.MetricsBackend {
	case "prometheus":
		prom := external.NewPrometheusMetrics()
		callRecorder = prom
		srv.Metrics = prom
		srv.MetricsHandler = prom.Handler()
	case "cloudwatch":
		cw := external.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), logger)
		callRecorder = cw
		srv.Metrics = cw
	default:
		noop := external.NoopMetrics{}
		callRecorder = noop
		srv.Metrics = noop
	}

	// External clients: real Stripe in deployed environments, stubs locally.
	registry, err := external.NewClientRegistry(cfg, logger,
		external.WithCustomerLookup(customerRepo),
		external.WithCallRecorder(callRecorder),
	)
	if err != nil {
		return fmt.Errorf("initializing external clients: %w", err)
	}

	// Credit allocations are enqueued to SQS when a queue is configured;
	// otherwise they complete inline.
	var publisher billing.AllocationPublisher
	if cfg.AWS.CreditQueueURL != "" {
		sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		publisher = queue.NewCreditPublisher(sqsClient, cfg.AWS, logger)
	}

	billingSvc := billing.NewService(planRepo, publisher, nil, logger)

	// Handler wiring.
	billingHandler := handlers.NewBillingHandler(
		registry.Billing,
		registry.Guard,
		planRepo,
		customerRepo,
		cfg,
		srv.Validator,
		logger,
	)
	resourceHandler := handlers.NewResourceHandler(registry.Billing, registry.Guard, logger)
	webhookHandler := handlers.NewStripeWebhookHandler(
		registry.StripeVerifier,
		billingSvc,
		subscriptionRepo,
		customerRepo,
		planRepo,
		cfg.Stripe.WebhookSecret.Unmask(),
		logger,
	)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		billingHandler.RegisterRoutes,
		resourceHandler.RegisterRoutes,
		webhookHandler.RegisterRoutes,
	)

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// newDBPool builds a pgx connection pool from the database configuration and
// verifies connectivity with a ping before the server starts accepting
// requests.
func newDBPool(ctx context.Context, dbCfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dbCfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	poolCfg.MaxConns = int32(dbCfg.MaxConns)
	poolCfg.MinConns = int32(dbCfg.MinConns)
	poolCfg.MaxConnLifetime = dbCfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = dbCfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, dbCfg.AcquireTimeout+3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// newAWSConfig loads the AWS SDK configuration with the service region and,
// when set, the LocalStack endpoint override.
func newAWSConfig(ctx context.Context, awsCfg config.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if awsCfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(awsCfg.Region))
	}
	if awsCfg.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(awsCfg.EndpointURL))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// dbProbe reports database health for the /health endpoint.
type dbProbe struct {
	pool *pgxpool.Pool
}

func (p dbProbe) Name() string { return "database" }

func (p dbProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to capture server errors from ListenAndServe.
	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with a 10-second deadline.
	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Shutdown server resources (DB pool, queue publisher).
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
