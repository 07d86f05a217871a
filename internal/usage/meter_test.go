package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalzero/core/internal/config"
	"github.com/signalzero/core/internal/domain"
	"github.com/signalzero/core/internal/store"
)

func testConfig() config.Config {
	return config.Config{
		Usage: config.UsageConfig{
			Limits: map[string]int{
				"PUBLIC": 0, "FREE": 3, "PRO": 100, "BUSINESS": 1000, "ENTERPRISE": -1,
			},
		},
	}
}

func TestReserveDeniesPublicTier(t *testing.T) {
	m := New(store.New(nil), testConfig(), nil)
	userID := uuid.New()

	err := m.Reserve(context.Background(), &userID, domain.TierPublic)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrQuotaExceeded))
}

func TestReserveDeniesAnonymous(t *testing.T) {
	m := New(store.New(nil), testConfig(), nil)

	err := m.Reserve(context.Background(), nil, domain.TierFree)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrQuotaExceeded))
}

func TestReserveEnforcesFreeTierLimit(t *testing.T) {
	m := New(store.New(nil), testConfig(), nil)
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Reserve(context.Background(), &userID, domain.TierFree))
	}

	err := m.Reserve(context.Background(), &userID, domain.TierFree)
	require.Error(t, err)
	var detail *domain.QuotaExceededDetail
	require.True(t, errors.As(err, &detail))
	assert.Equal(t, 0, detail.Remaining)
	assert.False(t, detail.ResetAt.IsZero())
}

func TestReserveUnboundedForEnterprise(t *testing.T) {
	m := New(store.New(nil), testConfig(), nil)
	userID := uuid.New()

	for i := 0; i < 50; i++ {
		require.NoError(t, m.Reserve(context.Background(), &userID, domain.TierEnterprise))
	}
}

func TestReleaseGivesBackAReservation(t *testing.T) {
	m := New(store.New(nil), testConfig(), nil)
	m.now = func() time.Time { return time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC) }
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Reserve(context.Background(), &userID, domain.TierFree))
	}
	require.NoError(t, m.Release(context.Background(), &userID))
	require.NoError(t, m.Reserve(context.Background(), &userID, domain.TierFree))
}
