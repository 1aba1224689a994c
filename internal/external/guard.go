package external

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"stripehome/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stripe/stripe-go/v82"
)

// CallRecorder records provider call outcomes for telemetry. Implementations
// back onto Prometheus or CloudWatch; a no-op recorder is used in tests.
type CallRecorder interface {
	// RecordCall increments the per-endpoint call counter with the outcome
	// status ("success" or "error").
	RecordCall(endpoint, status string)

	// RecordError increments the error counter for the given error_type label.
	RecordError(errorType string)
}

// ErrorGuard classifies failures raised by guarded operations into the closed
// provider error taxonomy, records telemetry, and logs the underlying cause at
// the severity assigned to the resulting code. Every provider and storage call
// in the service runs under a guard so that no raw vendor or driver error
// escapes to a handler.
type ErrorGuard struct {
	logger  *slog.Logger
	metrics CallRecorder
}

// NewErrorGuard creates an ErrorGuard. A nil metrics recorder disables
// telemetry and a nil logger disables logging; classification itself never
// depends on either.
func NewErrorGuard(logger *slog.Logger, metrics CallRecorder) *ErrorGuard {
	return &ErrorGuard{logger: logger, metrics: metrics}
}

// Guard executes fn and classifies any failure into an AppError carrying a
// provider taxonomy code. On success the result is returned unchanged with no
// telemetry or logging; on failure it increments the call and error counters
// and logs the original cause (which is never serialized to clients).
//
// endpoint is the logical operation name used as the telemetry label, for
// example "checkout.sessions.create" or "db.plans.get".
func Guard[T any](ctx context.Context, g *ErrorGuard, endpoint string, fn func(context.Context) (T, error)) (T, error) {
	result, err := fn(ctx)
	if err == nil {
		return result, nil
	}

	appErr := g.Classify(err)
	if g.metrics != nil {
		g.metrics.RecordCall(endpoint, "error")
		g.metrics.RecordError(appErr.Code.MetricLabel())
	}

	if g.logger != nil {
		level := appErr.Code.LogLevel()
		var preNormalized *types.AppError
		if errors.As(err, &preNormalized) {
			// Errors already carrying an application code were raised
			// deliberately upstream; they are expected failures, not
			// operational ones.
			level = slog.LevelWarn
		}

		attrs := []slog.Attr{
			slog.String("endpoint", endpoint),
			slog.String("error_code", string(appErr.Code)),
			slog.String("error", err.Error()),
		}
		if actor, ok := types.GetActor(ctx); ok {
			attrs = append(attrs, slog.String("user_id", actor.ID))
		}
		g.logger.LogAttrs(ctx, level, "guarded operation failed", attrs...)
	}

	var zero T
	return zero, appErr
}

// Classify translates an arbitrary error into an AppError with a provider
// taxonomy code. Classification order:
//
//  1. An existing *types.AppError passes through unchanged.
//  2. Stripe SDK errors map by HTTP status and error type.
//  3. Deadline and timeout errors map to provider_timeout.
//  4. Postgres errors map to integrity, query, or not_found codes.
//  5. Network-level errors map to provider_connection_error.
//  6. Anything else maps to storage_error.
func (g *ErrorGuard) Classify(err error) *types.AppError {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return types.NewProviderError(classifyStripeError(stripeErr), err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewProviderError(types.ErrCodeProviderTimeout, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return types.NewProviderError(types.ErrCodeProviderNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return types.NewProviderError(classifyPostgresError(pgErr), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return types.NewProviderError(types.ErrCodeProviderTimeout, err)
		}
		return types.NewProviderError(types.ErrCodeProviderConnection, err)
	}

	return types.NewProviderError(types.ErrCodeStorage, err)
}

// classifyStripeError maps a decoded Stripe SDK error onto the taxonomy.
// Status takes priority over type: a 401 is an auth failure regardless of how
// the SDK categorized the body.
func classifyStripeError(e *stripe.Error) types.ErrorCode {
	switch e.HTTPStatusCode {
	case http.StatusUnauthorized:
		return types.ErrCodeProviderAuth
	case http.StatusForbidden:
		return types.ErrCodeProviderPermission
	case http.StatusTooManyRequests:
		return types.ErrCodeProviderRateLimited
	case http.StatusNotFound:
		return types.ErrCodeProviderNotFound
	}

	switch e.Type {
	case stripe.ErrorTypeCard:
		return types.ErrCodeProviderCard
	case stripe.ErrorTypeIdempotency:
		return types.ErrCodeProviderIdempotency
	case stripe.ErrorTypeInvalidRequest:
		return types.ErrCodeProviderInvalid
	case stripe.ErrorTypeAPI:
		return types.ErrCodeProviderAPI
	}

	return types.ErrCodeProvider
}

// classifyPostgresError maps driver-level Postgres failures. Unique and
// foreign-key violations (class 23) are integrity errors; syntax and access
// rule violations (class 42) are query errors; everything else is a generic
// storage failure.
func classifyPostgresError(e *pgconn.PgError) types.ErrorCode {
	if len(e.Code) < 2 {
		return types.ErrCodeStorage
	}
	switch e.Code[:2] {
	case "23":
		return types.ErrCodeProviderIntegrity
	case "42":
		return types.ErrCodeProviderQuery
	}
	return types.ErrCodeStorage
}
