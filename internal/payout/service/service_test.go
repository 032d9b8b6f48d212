package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	identitydomain "github.com/quotehive/quotehive/internal/identity/domain"
	ledgerdomain "github.com/quotehive/quotehive/internal/ledger/domain"
	ledgerservice "github.com/quotehive/quotehive/internal/ledger/service"
	paymentdomain "github.com/quotehive/quotehive/internal/payment/domain"
	platformdomain "github.com/quotehive/quotehive/internal/platformconfig/domain"
	"github.com/quotehive/quotehive/internal/payout/domain"
	providerdomain "github.com/quotehive/quotehive/internal/provider/domain"
	providerrepo "github.com/quotehive/quotehive/internal/provider/repository"
)

type fakeGateway struct {
	failDestinations map[string]error
	transfers        int
	idempotencyKeys  []string
}

func (g *fakeGateway) CreateTransfer(_ context.Context, params paymentdomain.TransferParams) (string, error) {
	if err := g.failDestinations[params.Destination]; err != nil {
		return "", err
	}
	g.transfers++
	g.idempotencyKeys = append(g.idempotencyKeys, params.IdempotencyKey)
	return fmt.Sprintf("tr_%d", g.transfers), nil
}

func (g *fakeGateway) CreateCheckoutSession(context.Context, paymentdomain.CheckoutSessionParams) (*paymentdomain.CheckoutSession, error) {
	return nil, errors.New("not implemented")
}

func (g *fakeGateway) CreateRefund(context.Context, string, int64, string) (string, error) {
	return "", errors.New("not implemented")
}

func (g *fakeGateway) GetRefundStatus(context.Context, string) (string, error) {
	return "", errors.New("not implemented")
}

func (g *fakeGateway) CreateConnectedAccount(context.Context, string) (string, error) {
	return "", errors.New("not implemented")
}

func (g *fakeGateway) CreateAccountLink(context.Context, paymentdomain.AccountLinkParams) (string, error) {
	return "", errors.New("not implemented")
}

type stubPlatform struct{ minimum int64 }

func (s stubPlatform) FeeRate(context.Context) float64          { return 0.18 }
func (s stubPlatform) QuoteExpiryHours(context.Context) int     { return 72 }
func (s stubPlatform) MaxQuotesPerRequest(context.Context) int  { return 5 }
func (s stubPlatform) PayoutMinimumPence(context.Context) int64 { return s.minimum }
func (s stubPlatform) List(context.Context) ([]platformdomain.Setting, error) { return nil, nil }
func (s stubPlatform) Set(context.Context, string, string) (platformdomain.Setting, error) {
	return platformdomain.Setting{}, nil
}

type stubIdentity struct{}

func (stubIdentity) Signup(context.Context, identitydomain.SignupRequest) (identitydomain.AuthResult, error) {
	return identitydomain.AuthResult{}, nil
}
func (stubIdentity) Login(context.Context, identitydomain.LoginRequest) (identitydomain.AuthResult, error) {
	return identitydomain.AuthResult{}, nil
}
func (stubIdentity) Logout(context.Context, string) error { return nil }
func (stubIdentity) Resolve(context.Context, string) (*identitydomain.User, error) {
	return nil, nil
}
func (stubIdentity) GetUser(context.Context, snowflake.ID) (*identitydomain.User, error) {
	return nil, nil
}
func (stubIdentity) ListUsers(context.Context, identitydomain.Role) ([]identitydomain.User, error) {
	return nil, nil
}

type fixture struct {
	svc     domain.Service
	repo    providerdomain.Repository
	gateway *fakeGateway
	db      *gorm.DB
	genID   *snowflake.Node
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:payout_"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Payout{},
		&providerdomain.Provider{}, &providerdomain.Category{},
		&ledgerdomain.Entry{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	repo := providerrepo.New(node)
	gateway := &fakeGateway{failDestinations: map[string]error{}}
	ledger := ledgerservice.NewService(ledgerservice.Params{DB: db, Log: zap.NewNop(), GenID: node})
	svc := New(Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Gateway:      gateway,
		ProviderRepo: repo,
		Ledger:       ledger,
		Platform:     stubPlatform{minimum: 1000},
		Identity:     stubIdentity{},
	})
	return fixture{svc: svc, repo: repo, gateway: gateway, db: db, genID: node}
}

func (f fixture) addProvider(t *testing.T, balance int64, accountID string, payoutsEnabled bool) providerdomain.Provider {
	t.Helper()
	now := time.Now().UTC()
	provider := providerdomain.Provider{
		ID:               f.genID.Generate(),
		UserID:           f.genID.Generate(),
		BusinessName:     "Test Trades",
		Status:           providerdomain.StatusActive,
		StripeAccountID:  accountID,
		PayoutsEnabled:   payoutsEnabled,
		AvailableBalance: balance,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, f.db.Create(&provider).Error)
	return provider
}

func TestPayProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	provider := f.addProvider(t, 5000, "acct_1", true)

	payout, err := f.svc.PayProvider(ctx, provider.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusProcessing, payout.Status)
	assert.Equal(t, int64(5000), payout.Amount)
	assert.Equal(t, "tr_1", payout.StripeTransferID)
	require.Len(t, f.gateway.idempotencyKeys, 1)
	assert.Equal(t, "payout:"+payout.ID.String(), f.gateway.idempotencyKeys[0])

	got, err := f.repo.FindByID(ctx, f.db, provider.ID)
	require.NoError(t, err)
	assert.Zero(t, got.AvailableBalance)

	var entries []ledgerdomain.Entry
	require.NoError(t, f.db.Where("provider_id = ?", provider.ID).Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, ledgerdomain.EntryPayout, entries[0].EntryType)
	assert.Equal(t, int64(-5000), entries[0].Amount)

	// Drained providers have nothing left to pay.
	_, err = f.svc.PayProvider(ctx, provider.ID)
	assert.ErrorIs(t, err, domain.ErrBelowMinimum)
}

func TestPayProviderEligibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	noAccount := f.addProvider(t, 5000, "", true)
	disabled := f.addProvider(t, 5000, "acct_2", false)
	broke := f.addProvider(t, 500, "acct_3", true)

	suspended := f.addProvider(t, 5000, "acct_4", true)
	require.NoError(t, f.db.Model(&providerdomain.Provider{}).
		Where("id = ?", suspended.ID).
		Update("status", providerdomain.StatusSuspended).Error)

	_, err := f.svc.PayProvider(ctx, f.genID.Generate())
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)

	_, err = f.svc.PayProvider(ctx, noAccount.ID)
	assert.ErrorIs(t, err, domain.ErrProviderNotEligible)

	_, err = f.svc.PayProvider(ctx, disabled.ID)
	assert.ErrorIs(t, err, domain.ErrProviderNotEligible)

	_, err = f.svc.PayProvider(ctx, suspended.ID)
	assert.ErrorIs(t, err, domain.ErrProviderNotEligible)

	_, err = f.svc.PayProvider(ctx, broke.ID)
	assert.ErrorIs(t, err, domain.ErrBelowMinimum)

	assert.Zero(t, f.gateway.transfers)
}

func TestPayProviderGatewayFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	provider := f.addProvider(t, 5000, "acct_1", true)
	f.gateway.failDestinations["acct_1"] = errors.New("stripe unavailable")

	_, err := f.svc.PayProvider(ctx, provider.ID)
	require.Error(t, err)

	// The intent is marked failed; the balance stays put for a retry.
	var payout domain.Payout
	require.NoError(t, f.db.First(&payout, "provider_id = ?", provider.ID).Error)
	assert.Equal(t, domain.StatusFailed, payout.Status)
	assert.Equal(t, "stripe unavailable", payout.FailureReason)

	got, err := f.repo.FindByID(ctx, f.db, provider.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got.AvailableBalance)
}

func TestPayProviderReusesOpenIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	provider := f.addProvider(t, 5000, "acct_1", true)

	// An earlier run crashed after writing the intent.
	now := time.Now().UTC()
	stale := domain.Payout{
		ID:         f.genID.Generate(),
		ProviderID: provider.ID,
		Amount:     5000,
		Status:     domain.StatusPending,
		CreatedAt:  now.Add(-time.Hour),
		UpdatedAt:  now.Add(-time.Hour),
	}
	require.NoError(t, f.db.Create(&stale).Error)

	payout, err := f.svc.PayProvider(ctx, provider.ID)
	require.NoError(t, err)
	assert.Equal(t, stale.ID, payout.ID)
	assert.Equal(t, "payout:"+stale.ID.String(), f.gateway.idempotencyKeys[0])

	var count int64
	require.NoError(t, f.db.Model(&domain.Payout{}).Where("provider_id = ?", provider.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRunBatchIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addProvider(t, 3000, "acct_good", true)
	f.addProvider(t, 2000, "acct_bad", true)
	f.addProvider(t, 500, "acct_small", true) // under the minimum, not a candidate
	f.gateway.failDestinations["acct_bad"] = errors.New("account closed")

	result, err := f.svc.RunBatch(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Candidates)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, int64(3000), result.TotalPaid)
}

func TestMarkPaidByTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	provider := f.addProvider(t, 5000, "acct_1", true)

	payout, err := f.svc.PayProvider(ctx, provider.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkPaidByTransfer(ctx, payout.StripeTransferID))
	var got domain.Payout
	require.NoError(t, f.db.First(&got, "id = ?", payout.ID).Error)
	assert.Equal(t, domain.StatusPaid, got.Status)
	assert.NotNil(t, got.PaidAt)

	// Re-delivery and unknown transfers are quiet no-ops.
	require.NoError(t, f.svc.MarkPaidByTransfer(ctx, payout.StripeTransferID))
	require.NoError(t, f.svc.MarkPaidByTransfer(ctx, "tr_unknown"))
}

func TestMarkFailedByTransferRestoresBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	provider := f.addProvider(t, 5000, "acct_1", true)

	payout, err := f.svc.PayProvider(ctx, provider.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkFailedByTransfer(ctx, payout.StripeTransferID, "account closed"))

	var got domain.Payout
	require.NoError(t, f.db.First(&got, "id = ?", payout.ID).Error)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "account closed", got.FailureReason)

	p, err := f.repo.FindByID(ctx, f.db, provider.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), p.AvailableBalance)

	var adjustment ledgerdomain.Entry
	require.NoError(t, f.db.First(&adjustment,
		"provider_id = ? AND entry_type = ?", provider.ID, ledgerdomain.EntryAdjustment).Error)
	assert.Equal(t, int64(5000), adjustment.Amount)

	require.NoError(t, f.svc.MarkFailedByTransfer(ctx, "tr_unknown", "whatever"))
}

func TestListFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	provider := f.addProvider(t, 5000, "acct_1", true)

	payout, err := f.svc.PayProvider(ctx, provider.ID)
	require.NoError(t, err)

	processing, err := f.svc.List(ctx, domain.StatusProcessing, 10)
	require.NoError(t, err)
	require.Len(t, processing, 1)
	assert.Equal(t, payout.ID, processing[0].ID)

	paid, err := f.svc.List(ctx, domain.StatusPaid, 10)
	require.NoError(t, err)
	assert.Empty(t, paid)

	mine, err := f.svc.ListForProvider(ctx, provider.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}
