package service

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quotehive/quotehive/internal/platformconfig/domain"
)

func newTestService(t *testing.T) domain.Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:platformconfig_"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Setting{}))

	return New(Params{DB: db, Log: zap.NewNop()})
}

func TestDefaultsWhenUnset(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assert.Equal(t, 0.18, svc.FeeRate(ctx))
	assert.Equal(t, 72, svc.QuoteExpiryHours(ctx))
	assert.Equal(t, 5, svc.MaxQuotesPerRequest(ctx))
	assert.Equal(t, int64(1000), svc.PayoutMinimumPence(ctx))
}

func TestSetOverridesValue(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	setting, err := svc.Set(ctx, domain.KeyPlatformFeeRate, "0.25")
	require.NoError(t, err)
	assert.Equal(t, "0.25", setting.Value)
	assert.Equal(t, 0.25, svc.FeeRate(ctx))

	// Upsert replaces.
	_, err = svc.Set(ctx, domain.KeyPlatformFeeRate, "0.10")
	require.NoError(t, err)
	assert.Equal(t, 0.10, svc.FeeRate(ctx))
}

func TestSetRejectsUnknownKey(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Set(context.Background(), "no_such_key", "1")
	assert.ErrorIs(t, err, domain.ErrUnknownKey)
}

func TestSetValidatesValues(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		key   string
		value string
	}{
		{domain.KeyPlatformFeeRate, "1.5"},
		{domain.KeyPlatformFeeRate, "-0.1"},
		{domain.KeyPlatformFeeRate, "abc"},
		{domain.KeyQuoteExpiryHours, "0"},
		{domain.KeyMaxQuotesPerRequest, "-1"},
		{domain.KeyPayoutMinimumPence, "-5"},
	}
	for _, tt := range tests {
		_, err := svc.Set(ctx, tt.key, tt.value)
		assert.ErrorIs(t, err, domain.ErrInvalidValue, "key %s value %s", tt.key, tt.value)
	}
}

func TestListIncludesUntouchedDefaults(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Set(ctx, domain.KeyQuoteExpiryHours, "48")
	require.NoError(t, err)

	settings, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, settings, len(domain.Defaults))

	byKey := make(map[string]string, len(settings))
	for _, s := range settings {
		byKey[s.Key] = s.Value
	}
	assert.Equal(t, "48", byKey[domain.KeyQuoteExpiryHours])
	assert.Equal(t, domain.Defaults[domain.KeyPlatformFeeRate], byKey[domain.KeyPlatformFeeRate])
}

func TestMalformedStoredValueFallsBack(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Written directly, bypassing validation.
	impl := svc.(*Service)
	require.NoError(t, impl.db.Create(&domain.Setting{Key: domain.KeyPlatformFeeRate, Value: "garbage"}).Error)

	assert.Equal(t, 0.18, svc.FeeRate(ctx))
}
