package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	platformdomain "github.com/quotehive/quotehive/internal/platformconfig/domain"
	providerdomain "github.com/quotehive/quotehive/internal/provider/domain"
	providerrepo "github.com/quotehive/quotehive/internal/provider/repository"
	"github.com/quotehive/quotehive/internal/quote/domain"
	requestdomain "github.com/quotehive/quotehive/internal/quoterequest/domain"
)

type stubPlatform struct {
	maxQuotes   int
	expiryHours int
}

func (s stubPlatform) FeeRate(context.Context) float64       { return 0.18 }
func (s stubPlatform) QuoteExpiryHours(context.Context) int  { return s.expiryHours }
func (s stubPlatform) MaxQuotesPerRequest(context.Context) int { return s.maxQuotes }
func (s stubPlatform) PayoutMinimumPence(context.Context) int64 { return 1000 }
func (s stubPlatform) List(context.Context) ([]platformdomain.Setting, error) { return nil, nil }
func (s stubPlatform) Set(context.Context, string, string) (platformdomain.Setting, error) {
	return platformdomain.Setting{}, nil
}

type fixture struct {
	svc   domain.Service
	repo  providerdomain.Repository
	db    *gorm.DB
	genID *snowflake.Node
}

func newFixture(t *testing.T, platform platformdomain.Service) fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:quote_"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Quote{},
		&requestdomain.QuoteRequest{}, &requestdomain.Invitation{},
		&providerdomain.Provider{}, &providerdomain.Category{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	repo := providerrepo.New(node)
	svc := New(Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Platform:     platform,
		ProviderRepo: repo,
	})
	return fixture{svc: svc, repo: repo, db: db, genID: node}
}

func (f fixture) addProvider(t *testing.T, status providerdomain.Status) providerdomain.Provider {
	t.Helper()
	now := time.Now().UTC()
	provider := providerdomain.Provider{
		ID:           f.genID.Generate(),
		UserID:       f.genID.Generate(),
		BusinessName: "Test Trades",
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, f.db.Create(&provider).Error)
	return provider
}

func (f fixture) addRequest(t *testing.T, status requestdomain.Status) requestdomain.QuoteRequest {
	t.Helper()
	now := time.Now().UTC()
	request := requestdomain.QuoteRequest{
		ID:         f.genID.Generate(),
		CustomerID: f.genID.Generate(),
		Category:   "plumbing",
		Title:      "Leaking tap",
		Postcode:   "SW1A 1AA",
		Status:     status,
		ExpiresAt:  now.Add(24 * time.Hour),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, f.db.Create(&request).Error)
	return request
}

func (f fixture) invite(t *testing.T, requestID, providerID snowflake.ID) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.db.Create(&requestdomain.Invitation{
		ID:         f.genID.Generate(),
		RequestID:  requestID,
		ProviderID: providerID,
		Status:     requestdomain.InvitationInvited,
		CreatedAt:  now,
		UpdatedAt:  now,
	}).Error)
}

const quoteMessage = "I can fix this within the week, parts included."

func TestSubmit(t *testing.T) {
	f := newFixture(t, stubPlatform{maxQuotes: 5, expiryHours: 72})
	ctx := context.Background()

	provider := f.addProvider(t, providerdomain.StatusActive)
	request := f.addRequest(t, requestdomain.StatusOpen)
	f.invite(t, request.ID, provider.ID)

	quote, err := f.svc.Submit(ctx, domain.SubmitRequest{
		RequestID:  request.ID,
		ProviderID: provider.ID,
		Price:      15000,
		Message:    "  Can start Monday morning, parts included.  ",
		Duration:   "2 hours",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusSent, quote.Status)
	assert.Equal(t, "Can start Monday morning, parts included.", quote.Message)
	assert.Equal(t, 120, quote.DurationMinutes)
	assert.WithinDuration(t, time.Now().UTC().Add(72*time.Hour), quote.ExpiresAt, time.Minute)

	// Submitting marks the invitation quoted and claims a slot.
	var invitation requestdomain.Invitation
	require.NoError(t, f.db.First(&invitation, "request_id = ? AND provider_id = ?", request.ID, provider.ID).Error)
	assert.Equal(t, requestdomain.InvitationQuoted, invitation.Status)

	var got requestdomain.QuoteRequest
	require.NoError(t, f.db.First(&got, "id = ?", request.ID).Error)
	assert.Equal(t, int64(1), got.QuoteCount)
	assert.Equal(t, requestdomain.StatusQuotesReceived, got.Status)

	p, err := f.repo.FindByID(ctx, f.db, provider.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.RespondedCount)
}

func TestSubmitValidUntil(t *testing.T) {
	f := newFixture(t, stubPlatform{maxQuotes: 5, expiryHours: 72})
	ctx := context.Background()

	request := f.addRequest(t, requestdomain.StatusOpen)
	now := time.Now().UTC()

	// An earlier window shortens the expiry.
	shortener := f.addProvider(t, providerdomain.StatusActive)
	f.invite(t, request.ID, shortener.ID)
	soon := now.Add(24 * time.Hour)
	quote, err := f.svc.Submit(ctx, domain.SubmitRequest{
		RequestID: request.ID, ProviderID: shortener.ID,
		Price: 1000, Message: quoteMessage, ValidUntil: &soon,
	})
	require.NoError(t, err)
	assert.WithinDuration(t, soon, quote.ExpiresAt, time.Second)

	// A later one is capped at the configured expiry.
	optimist := f.addProvider(t, providerdomain.StatusActive)
	f.invite(t, request.ID, optimist.ID)
	far := now.Add(30 * 24 * time.Hour)
	quote, err = f.svc.Submit(ctx, domain.SubmitRequest{
		RequestID: request.ID, ProviderID: optimist.ID,
		Price: 1000, Message: quoteMessage, ValidUntil: &far,
	})
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(72*time.Hour), quote.ExpiresAt, time.Minute)

	// A window already in the past is rejected.
	late := f.addProvider(t, providerdomain.StatusActive)
	f.invite(t, request.ID, late.ID)
	past := now.Add(-time.Hour)
	_, err = f.svc.Submit(ctx, domain.SubmitRequest{
		RequestID: request.ID, ProviderID: late.ID,
		Price: 1000, Message: quoteMessage, ValidUntil: &past,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidValidUntil)
}

func TestSubmitRejections(t *testing.T) {
	f := newFixture(t, stubPlatform{maxQuotes: 5, expiryHours: 72})
	ctx := context.Background()

	provider := f.addProvider(t, providerdomain.StatusActive)
	suspended := f.addProvider(t, providerdomain.StatusSuspended)
	request := f.addRequest(t, requestdomain.StatusOpen)
	closed := f.addRequest(t, requestdomain.StatusClosed)
	f.invite(t, request.ID, provider.ID)
	f.invite(t, request.ID, suspended.ID)
	f.invite(t, closed.ID, provider.ID)

	uninvited := f.addProvider(t, providerdomain.StatusActive)

	tests := []struct {
		name    string
		req     domain.SubmitRequest
		wantErr error
	}{
		{"price below floor", domain.SubmitRequest{RequestID: request.ID, ProviderID: provider.ID, Price: 499, Message: quoteMessage}, domain.ErrPriceTooLow},
		{"terse message", domain.SubmitRequest{RequestID: request.ID, ProviderID: provider.ID, Price: 1000, Message: "can do"}, domain.ErrMessageTooShort},
		{"unknown provider", domain.SubmitRequest{RequestID: request.ID, ProviderID: f.genID.Generate(), Price: 1000, Message: quoteMessage}, domain.ErrNotInvited},
		{"suspended provider", domain.SubmitRequest{RequestID: request.ID, ProviderID: suspended.ID, Price: 1000, Message: quoteMessage}, domain.ErrProviderNotActive},
		{"unknown request", domain.SubmitRequest{RequestID: f.genID.Generate(), ProviderID: provider.ID, Price: 1000, Message: quoteMessage}, domain.ErrRequestNotFound},
		{"closed request", domain.SubmitRequest{RequestID: closed.ID, ProviderID: provider.ID, Price: 1000, Message: quoteMessage}, domain.ErrRequestNotOpen},
		{"not invited", domain.SubmitRequest{RequestID: request.ID, ProviderID: uninvited.ID, Price: 1000, Message: quoteMessage}, domain.ErrNotInvited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Submit(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSubmitExpiredRequest(t *testing.T) {
	f := newFixture(t, stubPlatform{maxQuotes: 5, expiryHours: 72})
	ctx := context.Background()

	provider := f.addProvider(t, providerdomain.StatusActive)
	request := f.addRequest(t, requestdomain.StatusOpen)
	f.invite(t, request.ID, provider.ID)
	require.NoError(t, f.db.Model(&requestdomain.QuoteRequest{}).
		Where("id = ?", request.ID).
		Update("expires_at", time.Now().UTC().Add(-time.Minute)).Error)

	_, err := f.svc.Submit(ctx, domain.SubmitRequest{RequestID: request.ID, ProviderID: provider.ID, Price: 1000, Message: quoteMessage})
	assert.ErrorIs(t, err, domain.ErrRequestNotOpen)
}

func TestSubmitQuoteCap(t *testing.T) {
	f := newFixture(t, stubPlatform{maxQuotes: 2, expiryHours: 72})
	ctx := context.Background()

	request := f.addRequest(t, requestdomain.StatusOpen)
	for i := 0; i < 2; i++ {
		provider := f.addProvider(t, providerdomain.StatusActive)
		f.invite(t, request.ID, provider.ID)
		_, err := f.svc.Submit(ctx, domain.SubmitRequest{RequestID: request.ID, ProviderID: provider.ID, Price: 1000, Message: quoteMessage})
		require.NoError(t, err)
	}

	latecomer := f.addProvider(t, providerdomain.StatusActive)
	f.invite(t, request.ID, latecomer.ID)
	_, err := f.svc.Submit(ctx, domain.SubmitRequest{RequestID: request.ID, ProviderID: latecomer.ID, Price: 1000, Message: quoteMessage})
	assert.ErrorIs(t, err, domain.ErrQuoteLimit)

	// The failed claim rolled back, leaving the count at the cap.
	var got requestdomain.QuoteRequest
	require.NoError(t, f.db.First(&got, "id = ?", request.ID).Error)
	assert.Equal(t, int64(2), got.QuoteCount)
}

func TestSubmitTwiceSameRequest(t *testing.T) {
	f := newFixture(t, stubPlatform{maxQuotes: 5, expiryHours: 72})
	ctx := context.Background()

	provider := f.addProvider(t, providerdomain.StatusActive)
	request := f.addRequest(t, requestdomain.StatusOpen)
	f.invite(t, request.ID, provider.ID)

	_, err := f.svc.Submit(ctx, domain.SubmitRequest{RequestID: request.ID, ProviderID: provider.ID, Price: 1000, Message: quoteMessage})
	require.NoError(t, err)

	// The invitation is already QUOTED, so the guard fires first.
	_, err = f.svc.Submit(ctx, domain.SubmitRequest{RequestID: request.ID, ProviderID: provider.ID, Price: 2000, Message: quoteMessage})
	assert.ErrorIs(t, err, domain.ErrNotInvited)
}

func TestMarkViewedAndDecline(t *testing.T) {
	f := newFixture(t, stubPlatform{maxQuotes: 5, expiryHours: 72})
	ctx := context.Background()

	provider := f.addProvider(t, providerdomain.StatusActive)
	request := f.addRequest(t, requestdomain.StatusOpen)
	f.invite(t, request.ID, provider.ID)

	quote, err := f.svc.Submit(ctx, domain.SubmitRequest{RequestID: request.ID, ProviderID: provider.ID, Price: 1000, Message: quoteMessage})
	require.NoError(t, err)

	stranger := f.genID.Generate()
	assert.ErrorIs(t, f.svc.MarkViewed(ctx, quote.ID, stranger), domain.ErrNotOwner)
	assert.ErrorIs(t, f.svc.Decline(ctx, quote.ID, stranger), domain.ErrNotOwner)

	require.NoError(t, f.svc.MarkViewed(ctx, quote.ID, request.CustomerID))
	got, err := f.svc.Get(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusViewed, got.Status)

	// Viewing again is a no-op.
	require.NoError(t, f.svc.MarkViewed(ctx, quote.ID, request.CustomerID))

	require.NoError(t, f.svc.Decline(ctx, quote.ID, request.CustomerID))
	got, err = f.svc.Get(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeclined, got.Status)

	assert.ErrorIs(t, f.svc.Decline(ctx, quote.ID, request.CustomerID), domain.ErrNotPending)
	assert.ErrorIs(t, f.svc.Decline(ctx, f.genID.Generate(), request.CustomerID), domain.ErrNotFound)
}

func TestListForRequestOrdersByPrice(t *testing.T) {
	f := newFixture(t, stubPlatform{maxQuotes: 5, expiryHours: 72})
	ctx := context.Background()

	request := f.addRequest(t, requestdomain.StatusOpen)
	prices := []int64{30000, 10000, 20000}
	for _, price := range prices {
		provider := f.addProvider(t, providerdomain.StatusActive)
		f.invite(t, request.ID, provider.ID)
		_, err := f.svc.Submit(ctx, domain.SubmitRequest{RequestID: request.ID, ProviderID: provider.ID, Price: price, Message: quoteMessage})
		require.NoError(t, err)
	}

	quotes, err := f.svc.ListForRequest(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, quotes, 3)
	assert.Equal(t, int64(10000), quotes[0].Price)
	assert.Equal(t, int64(20000), quotes[1].Price)
	assert.Equal(t, int64(30000), quotes[2].Price)
}

func TestExpireDue(t *testing.T) {
	f := newFixture(t, stubPlatform{maxQuotes: 5, expiryHours: 72})
	ctx := context.Background()

	provider := f.addProvider(t, providerdomain.StatusActive)
	request := f.addRequest(t, requestdomain.StatusOpen)
	f.invite(t, request.ID, provider.ID)

	quote, err := f.svc.Submit(ctx, domain.SubmitRequest{RequestID: request.ID, ProviderID: provider.ID, Price: 1000, Message: quoteMessage})
	require.NoError(t, err)

	other := f.addProvider(t, providerdomain.StatusActive)
	f.invite(t, request.ID, other.ID)
	boundary, err := f.svc.Submit(ctx, domain.SubmitRequest{RequestID: request.ID, ProviderID: other.ID, Price: 1200, Message: quoteMessage})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, f.db.Model(&domain.Quote{}).
		Where("id = ?", quote.ID).
		Update("expires_at", now.Add(-time.Minute)).Error)
	require.NoError(t, f.db.Model(&domain.Quote{}).
		Where("id = ?", boundary.ID).
		Update("expires_at", now).Error)

	expired, err := f.svc.ExpireDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	got, err := f.svc.Get(ctx, quote.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, got.Status)

	// A quote expiring exactly at the cutoff survives the sweep.
	onCutoff, err := f.svc.Get(ctx, boundary.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, onCutoff.Status)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 60},
		{"2 hours", 120},
		{"1 hour", 60},
		{"3 days", 1440},
		{"45 minutes", 45},
		{"90 min", 90},
		{"2", 120},
		{"soonish", 60},
		{"-1 hours", 60},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, domain.ParseDuration(tt.in), "input %q", tt.in)
	}
}
