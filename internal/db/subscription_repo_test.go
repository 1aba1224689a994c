package db

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"stripehome/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubscriptionRepository_ApplyEvent_Applied(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, discardLogger())
	ctx := context.Background()

	sub := &types.Subscription{
		SubscriptionID:     "sub_123",
		UserID:             "user_1",
		Status:             types.SubscriptionActive,
		PlanID:             "price_premium",
		CurrentPeriodStart: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:   time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	}

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	applied, err := repo.ApplyEvent(ctx, sub, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, applied)
	db.AssertExpectations(t)
}

func TestSubscriptionRepository_ApplyEvent_StaleEventIgnored(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, discardLogger())
	ctx := context.Background()

	sub := &types.Subscription{
		SubscriptionID: "sub_123",
		UserID:         "user_1",
		Status:         types.SubscriptionCanceled,
	}

	// Zero rows affected means the stored last_event_at is newer; the
	// out-of-order delivery must be a silent no-op, not an error.
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	applied, err := repo.ApplyEvent(ctx, sub, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestSubscriptionRepository_ApplyEvent_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, discardLogger())
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	_, err := repo.ApplyEvent(ctx, &types.Subscription{SubscriptionID: "sub_123"}, time.Now())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeStorage, appErr.Code)
}

func TestSubscriptionRepository_GetSubscription_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, discardLogger())
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "sub_123"
			*dest[1].(*string) = "user_1"
			*dest[2].(*types.SubscriptionStatus) = types.SubscriptionActive
			planID := "price_premium"
			*dest[3].(**string) = &planID
			*dest[4].(*time.Time) = now
			*dest[5].(*time.Time) = now.AddDate(0, 1, 0)
			*dest[6].(*bool) = false
			*dest[7].(*bool) = false
			*dest[8].(*time.Time) = now
			*dest[9].(*time.Time) = now
			return nil
		},
	}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"sub_123"}).Return(row)

	s, err := repo.GetSubscription(ctx, "sub_123")
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionActive, s.Status)
	assert.Equal(t, "price_premium", s.PlanID)
	assert.True(t, s.Status.IsBillable())
}

func TestSubscriptionRepository_GetSubscription_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepository(db, discardLogger())
	ctx := context.Background()

	row := &mockRow{scanErr: pgx.ErrNoRows}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	_, err := repo.GetSubscription(ctx, "sub_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeProviderNotFound, appErr.Code)
}
