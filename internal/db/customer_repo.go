package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"stripehome/internal/types"
)

// CustomerRepository manages the billing_customers table, which links
// application users to Stripe customer records. It backs the
// get-or-create customer flow: checkout first consults the local link,
// then falls back to a provider-side metadata search, and persists
// whatever it resolves.
//
// A user has at most one customer per mode; livemode links and
// test-mode links never mix because the secret key selects the mode at
// boot.
type CustomerRepository struct {
	db DBTX
}

// NewCustomerRepository creates a new CustomerRepository backed by the
// given database connection (pool or transaction).
func NewCustomerRepository(db DBTX) *CustomerRepository {
	return &CustomerRepository{db: db}
}

// GetCustomerID returns the Stripe customer id linked to the user, or
// ("", nil) when the user has no link yet. Callers treat the empty
// result as "not linked", not as an error, so the provider-side search
// can take over.
func (r *CustomerRepository) GetCustomerID(ctx context.Context, userID string) (string, error) {
	var customerID string
	err := r.db.QueryRow(ctx,
		`SELECT customer_id FROM billing_customers WHERE user_id = $1`,
		userID,
	).Scan(&customerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", types.NewAppError(types.ErrCodeStorage, "failed to look up customer link", err)
	}
	return customerID, nil
}

// LinkCustomer records (or refreshes) the user's Stripe customer link.
// Idempotent: re-linking the same user overwrites the previous link,
// which covers the case where a customer was recreated in the Stripe
// dashboard.
func (r *CustomerRepository) LinkCustomer(ctx context.Context, userID, customerID string, livemode bool) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO billing_customers (user_id, customer_id, livemode, created_at, updated_at)
		 VALUES ($1, $2, $3, NOW(), NOW())
		 ON CONFLICT (user_id) DO UPDATE
		 SET customer_id = EXCLUDED.customer_id,
		     livemode = EXCLUDED.livemode,
		     updated_at = NOW()`,
		userID,
		customerID,
		livemode,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeProviderIntegrity, "customer already linked to another user", err)
		}
		return types.NewAppError(types.ErrCodeStorage, "failed to link customer", err)
	}
	return nil
}

// GetCustomer retrieves the full customer link record for a user.
func (r *CustomerRepository) GetCustomer(ctx context.Context, userID string) (*types.Customer, error) {
	var c types.Customer
	err := r.db.QueryRow(ctx,
		`SELECT user_id, customer_id, livemode, created_at, updated_at
		 FROM billing_customers WHERE user_id = $1`,
		userID,
	).Scan(&c.UserID, &c.CustomerID, &c.Livemode, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeProviderNotFound, "customer link not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeStorage, "failed to retrieve customer link", err)
	}
	return &c, nil
}

// GetUserID performs the reverse lookup: given a Stripe customer id,
// return the linked application user. Webhook handlers use this to
// attribute provider events to users.
func (r *CustomerRepository) GetUserID(ctx context.Context, customerID string) (string, error) {
	var userID string
	err := r.db.QueryRow(ctx,
		`SELECT user_id FROM billing_customers WHERE customer_id = $1`,
		customerID,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", types.NewAppError(types.ErrCodeProviderNotFound, "no user linked to customer", nil)
		}
		return "", types.NewAppError(types.ErrCodeStorage, "failed to look up customer link", err)
	}
	return userID, nil
}
