package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"stripehome/internal/types"
)

// PlanRepository manages the billing_plans table, the local projection
// of Stripe recurring prices. Rows are written when product creation
// registers recurring prices and read back by checkout (price lookup)
// and by subscription-change handling (initial credit deltas).
type PlanRepository struct {
	db DBTX
}

// NewPlanRepository creates a new PlanRepository backed by the given
// database connection (pool or transaction).
func NewPlanRepository(db DBTX) *PlanRepository {
	return &PlanRepository{db: db}
}

// planColumns is the standard column set for plan queries. Kept in one
// place so scanPlan stays in sync with every query.
const planColumns = `plan_id, name, amount, currency, interval, initial_credits,
	monthly_credits, features, active, livemode, created_at, updated_at`

func scanPlan(row pgx.Row) (*types.Plan, error) {
	var p types.Plan
	err := row.Scan(
		&p.PlanID,
		&p.Name,
		&p.Amount,
		&p.Currency,
		&p.Interval,
		&p.InitialCredits,
		&p.MonthlyCredits,
		&p.Features,
		&p.Active,
		&p.Livemode,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Upsert records a plan, replacing any previous projection of the same
// Stripe price. Product creation calls this once per recurring price,
// so re-running a creation request converges instead of failing.
func (r *PlanRepository) Upsert(ctx context.Context, plan *types.Plan) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO billing_plans
		 (`+planColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		 ON CONFLICT (plan_id) DO UPDATE
		 SET name = EXCLUDED.name,
		     amount = EXCLUDED.amount,
		     currency = EXCLUDED.currency,
		     interval = EXCLUDED.interval,
		     initial_credits = EXCLUDED.initial_credits,
		     monthly_credits = EXCLUDED.monthly_credits,
		     features = EXCLUDED.features,
		     active = EXCLUDED.active,
		     livemode = EXCLUDED.livemode,
		     updated_at = NOW()`,
		plan.PlanID,
		plan.Name,
		plan.Amount,
		plan.Currency,
		plan.Interval,
		plan.InitialCredits,
		plan.MonthlyCredits,
		plan.Features,
		plan.Active,
		plan.Livemode,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeStorage, "failed to upsert plan", err)
	}
	return nil
}

// GetPlan retrieves a plan by its Stripe price id.
// Returns a provider_not_found error when no such plan is recorded.
func (r *PlanRepository) GetPlan(ctx context.Context, planID string) (*types.Plan, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+planColumns+` FROM billing_plans WHERE plan_id = $1`,
		planID,
	)
	p, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeProviderNotFound, "plan not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeStorage, "failed to retrieve plan", err)
	}
	return p, nil
}

// GetPlanByName retrieves a plan by its display name. Subscription
// change handling uses this to resolve initial credit amounts; callers
// fall back to zero credits when the plan is unknown, so not-found is
// an expected outcome here.
func (r *PlanRepository) GetPlanByName(ctx context.Context, name string) (*types.Plan, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+planColumns+`
		 FROM billing_plans WHERE name = $1 AND active
		 ORDER BY updated_at DESC LIMIT 1`,
		name,
	)
	p, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeProviderNotFound, "plan not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeStorage, "failed to retrieve plan by name", err)
	}
	return p, nil
}

// ListPlans returns all recorded plans, optionally filtered to active
// ones, newest first.
func (r *PlanRepository) ListPlans(ctx context.Context, activeOnly bool) ([]types.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM billing_plans`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeStorage, "failed to list plans", err)
	}
	defer rows.Close()

	var plans []types.Plan
	for rows.Next() {
		var p types.Plan
		err := rows.Scan(
			&p.PlanID,
			&p.Name,
			&p.Amount,
			&p.Currency,
			&p.Interval,
			&p.InitialCredits,
			&p.MonthlyCredits,
			&p.Features,
			&p.Active,
			&p.Livemode,
			&p.CreatedAt,
			&p.UpdatedAt,
		)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeStorage, "failed to scan plan row", err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeStorage, "failed to iterate plan rows", err)
	}
	return plans, nil
}
