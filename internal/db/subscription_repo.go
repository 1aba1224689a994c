package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"stripehome/internal/types"
)

// SubscriptionRepository synchronizes local subscription state from
// Stripe webhook events.
//
// Key invariant: ApplyEvent uses optimistic locking via last_event_at
// so out-of-order webhook deliveries cannot regress state. Stripe does
// not guarantee delivery order; an older customer.subscription.updated
// arriving after a newer one must be a silent no-op.
type SubscriptionRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepository creates a new SubscriptionRepository backed
// by the given database connection (pool or transaction).
func NewSubscriptionRepository(db DBTX, logger *slog.Logger) *SubscriptionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepository{db: db, logger: logger}
}

// ApplyEvent inserts or updates the subscription projection from a
// webhook event. eventTime is the provider's event creation timestamp,
// not the receipt time.
//
// The UPDATE arm only applies when eventTime is newer than the stored
// last_event_at; a stale event affects zero rows and is logged and
// ignored. Returns true when state was written, false for a stale
// no-op.
func (r *SubscriptionRepository) ApplyEvent(ctx context.Context, sub *types.Subscription, eventTime time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO billing_subscriptions
		 (subscription_id, user_id, status, plan_id,
		  current_period_start, current_period_end, cancel_at_period_end,
		  livemode, last_event_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		 ON CONFLICT (subscription_id) DO UPDATE
		 SET status = EXCLUDED.status,
		     plan_id = EXCLUDED.plan_id,
		     current_period_start = EXCLUDED.current_period_start,
		     current_period_end = EXCLUDED.current_period_end,
		     cancel_at_period_end = EXCLUDED.cancel_at_period_end,
		     last_event_at = EXCLUDED.last_event_at,
		     updated_at = NOW()
		 WHERE billing_subscriptions.last_event_at < EXCLUDED.last_event_at`,
		sub.SubscriptionID,
		sub.UserID,
		sub.Status,
		nilIfEmpty(sub.PlanID),
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd,
		sub.Livemode,
		eventTime,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeStorage, "failed to apply subscription event", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.Info("stale subscription event ignored",
			slog.String("subscription_id", sub.SubscriptionID),
			slog.Time("event_time", eventTime),
		)
		return false, nil
	}
	return true, nil
}

// GetSubscription retrieves a subscription projection by its Stripe id.
func (r *SubscriptionRepository) GetSubscription(ctx context.Context, subscriptionID string) (*types.Subscription, error) {
	var s types.Subscription
	var planID *string
	err := r.db.QueryRow(ctx,
		`SELECT subscription_id, user_id, status, plan_id,
		        current_period_start, current_period_end, cancel_at_period_end,
		        livemode, created_at, updated_at
		 FROM billing_subscriptions WHERE subscription_id = $1`,
		subscriptionID,
	).Scan(
		&s.SubscriptionID,
		&s.UserID,
		&s.Status,
		&planID,
		&s.CurrentPeriodStart,
		&s.CurrentPeriodEnd,
		&s.CancelAtPeriodEnd,
		&s.Livemode,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeProviderNotFound, "subscription not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeStorage, "failed to retrieve subscription", err)
	}
	if planID != nil {
		s.PlanID = *planID
	}
	return &s, nil
}

// GetBillableForUser returns the user's current billable subscription
// (active or trialing), or provider_not_found when none exists.
func (r *SubscriptionRepository) GetBillableForUser(ctx context.Context, userID string) (*types.Subscription, error) {
	var s types.Subscription
	var planID *string
	err := r.db.QueryRow(ctx,
		`SELECT subscription_id, user_id, status, plan_id,
		        current_period_start, current_period_end, cancel_at_period_end,
		        livemode, created_at, updated_at
		 FROM billing_subscriptions
		 WHERE user_id = $1 AND status IN ('active', 'trialing')
		 ORDER BY updated_at DESC LIMIT 1`,
		userID,
	).Scan(
		&s.SubscriptionID,
		&s.UserID,
		&s.Status,
		&planID,
		&s.CurrentPeriodStart,
		&s.CurrentPeriodEnd,
		&s.CancelAtPeriodEnd,
		&s.Livemode,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeProviderNotFound, "no billable subscription for user", nil)
		}
		return nil, types.NewAppError(types.ErrCodeStorage, "failed to retrieve subscription for user", err)
	}
	if planID != nil {
		s.PlanID = *planID
	}
	return &s, nil
}
