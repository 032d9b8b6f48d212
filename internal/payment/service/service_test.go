package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"

	bookingdomain "github.com/quotehive/quotehive/internal/booking/domain"
	bookingservice "github.com/quotehive/quotehive/internal/booking/service"
	"github.com/quotehive/quotehive/internal/config"
	identitydomain "github.com/quotehive/quotehive/internal/identity/domain"
	ledgerdomain "github.com/quotehive/quotehive/internal/ledger/domain"
	ledgerservice "github.com/quotehive/quotehive/internal/ledger/service"
	"github.com/quotehive/quotehive/internal/payment/domain"
	platformdomain "github.com/quotehive/quotehive/internal/platformconfig/domain"
	providerdomain "github.com/quotehive/quotehive/internal/provider/domain"
	providerrepo "github.com/quotehive/quotehive/internal/provider/repository"
	quotedomain "github.com/quotehive/quotehive/internal/quote/domain"
	requestdomain "github.com/quotehive/quotehive/internal/quoterequest/domain"
)

const webhookSecret = "whsec_test"

type fakeGateway struct {
	sessions        int
	refunds         int
	checkoutParams  []domain.CheckoutSessionParams
	refundKeys      []string
	refundStatuses  map[string]string
	refundErr       error
	accountsCreated int
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, params domain.CheckoutSessionParams) (*domain.CheckoutSession, error) {
	g.sessions++
	g.checkoutParams = append(g.checkoutParams, params)
	id := fmt.Sprintf("cs_%d", g.sessions)
	return &domain.CheckoutSession{ID: id, URL: "https://checkout.stripe.test/" + id}, nil
}

func (g *fakeGateway) CreateRefund(_ context.Context, _ string, _ int64, idempotencyKey string) (string, error) {
	if g.refundErr != nil {
		return "", g.refundErr
	}
	g.refunds++
	g.refundKeys = append(g.refundKeys, idempotencyKey)
	return fmt.Sprintf("re_%d", g.refunds), nil
}

func (g *fakeGateway) GetRefundStatus(_ context.Context, refundID string) (string, error) {
	if status, ok := g.refundStatuses[refundID]; ok {
		return status, nil
	}
	return "pending", nil
}

func (g *fakeGateway) CreateTransfer(context.Context, domain.TransferParams) (string, error) {
	return "", errors.New("not implemented")
}

func (g *fakeGateway) CreateConnectedAccount(context.Context, string) (string, error) {
	g.accountsCreated++
	return fmt.Sprintf("acct_%d", g.accountsCreated), nil
}

func (g *fakeGateway) CreateAccountLink(_ context.Context, params domain.AccountLinkParams) (string, error) {
	return "https://connect.stripe.test/" + params.AccountID, nil
}

type stubPlatform struct{}

func (stubPlatform) FeeRate(context.Context) float64          { return 0.18 }
func (stubPlatform) QuoteExpiryHours(context.Context) int     { return 72 }
func (stubPlatform) MaxQuotesPerRequest(context.Context) int  { return 5 }
func (stubPlatform) PayoutMinimumPence(context.Context) int64 { return 1000 }
func (stubPlatform) List(context.Context) ([]platformdomain.Setting, error) { return nil, nil }
func (stubPlatform) Set(context.Context, string, string) (platformdomain.Setting, error) {
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
func (stubIdentity) Resolve(context.Context, string) (*identitydomain.User, error) { return nil, nil }
func (stubIdentity) GetUser(context.Context, snowflake.ID) (*identitydomain.User, error) {
	return &identitydomain.User{Email: "customer@example.com"}, nil
}
func (stubIdentity) ListUsers(context.Context, identitydomain.Role) ([]identitydomain.User, error) {
	return nil, nil
}

type fixture struct {
	svc     domain.Service
	booking bookingdomain.Service
	repo    providerdomain.Repository
	gateway *fakeGateway
	db      *gorm.DB
	genID   *snowflake.Node
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:payment_"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.EventRecord{}, &domain.Refund{},
		&bookingdomain.Booking{},
		&quotedomain.Quote{},
		&requestdomain.QuoteRequest{},
		&providerdomain.Provider{}, &providerdomain.Category{},
		&ledgerdomain.Entry{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	repo := providerrepo.New(node)
	ledger := ledgerservice.NewService(ledgerservice.Params{DB: db, Log: zap.NewNop(), GenID: node})
	booking := bookingservice.New(bookingservice.Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Platform:     stubPlatform{},
		ProviderRepo: repo,
		Ledger:       ledger,
	})
	gateway := &fakeGateway{refundStatuses: map[string]string{}}
	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Cfg: config.Config{
			StripeWebhookSecret: webhookSecret,
			CheckoutSuccessURL:  "http://localhost:3000/bookings/{BOOKING_ID}/paid",
			CheckoutCancelURL:   "http://localhost:3000/bookings/{BOOKING_ID}",
		},
		Gateway:      gateway,
		Booking:      booking,
		Identity:     stubIdentity{},
		ProviderRepo: repo,
		Ledger:       ledger,
	})
	return fixture{svc: svc, booking: booking, repo: repo, gateway: gateway, db: db, genID: node}
}

type scenario struct {
	provider providerdomain.Provider
	booking  bookingdomain.Booking
}

// acceptedBooking seeds a provider with a connected account and a booking
// the provider has accepted, ready for checkout.
func (f fixture) acceptedBooking(t *testing.T, accountID string, payoutsEnabled bool) scenario {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	provider := providerdomain.Provider{
		ID:              f.genID.Generate(),
		UserID:          f.genID.Generate(),
		BusinessName:    "Test Trades",
		Status:          providerdomain.StatusActive,
		StripeAccountID: accountID,
		PayoutsEnabled:  payoutsEnabled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, f.db.Create(&provider).Error)

	request := requestdomain.QuoteRequest{
		ID:         f.genID.Generate(),
		CustomerID: f.genID.Generate(),
		Category:   "plumbing",
		Title:      "Leaking tap",
		Postcode:   "SW1A 1AA",
		Status:     requestdomain.StatusQuotesReceived,
		ExpiresAt:  now.Add(24 * time.Hour),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, f.db.Create(&request).Error)

	quote := quotedomain.Quote{
		ID:         f.genID.Generate(),
		RequestID:  request.ID,
		ProviderID: provider.ID,
		Price:      10000,
		Status:     quotedomain.StatusSent,
		ExpiresAt:  now.Add(72 * time.Hour),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, f.db.Create(&quote).Error)

	booking, err := f.booking.Create(ctx, bookingdomain.CreateRequest{
		CustomerID: request.CustomerID,
		QuoteID:    quote.ID,
	})
	require.NoError(t, err)
	require.NoError(t, f.booking.Accept(ctx, booking.ID, provider.ID))
	booking.Status = bookingdomain.StatusAccepted

	return scenario{provider: provider, booking: *booking}
}

// signedEvent builds a webhook delivery that passes signature verification.
func signedEvent(eventID, eventType, objectJSON string) ([]byte, string) {
	payload := []byte(fmt.Sprintf(`{"id":%q,"type":%q,"api_version":%q,"data":{"object":%s}}`,
		eventID, eventType, stripe.APIVersion, objectJSON))
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, webhookSecret)
	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig))
	return payload, header
}

func TestProcessEventRejectsBadSignature(t *testing.T) {
	f := newFixture(t)

	payload, _ := signedEvent("evt_1", "checkout.session.completed", `{}`)
	err := f.svc.ProcessEvent(context.Background(), payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestProcessEventDeduplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload, header := signedEvent("evt_1", "some.unhandled.event", `{}`)
	require.NoError(t, f.svc.ProcessEvent(ctx, payload, header))

	err := f.svc.ProcessEvent(ctx, payload, header)
	assert.ErrorIs(t, err, domain.ErrEventAlreadyProcessed)

	var count int64
	require.NoError(t, f.db.Model(&domain.EventRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestProcessEventRetriesFailedDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// First delivery arrives before the booking exists; dispatch fails and
	// the resulting 500 tells the processor to retry.
	sc := f.acceptedBooking(t, "acct_1", true)
	object := fmt.Sprintf(`{"id":"cs_1","payment_intent":"pi_123","metadata":{"booking_id":%q}}`, f.genID.Generate().String())
	payload, header := signedEvent("evt_1", "checkout.session.completed", object)
	require.Error(t, f.svc.ProcessEvent(ctx, payload, header))

	// Point the session at the real booking and redeliver under the same
	// event id: an unprocessed record runs the handler again.
	object = fmt.Sprintf(`{"id":"cs_1","payment_intent":"pi_123","metadata":{"booking_id":%q}}`, sc.booking.ID.String())
	payload, header = signedEvent("evt_1", "checkout.session.completed", object)
	require.NoError(t, f.svc.ProcessEvent(ctx, payload, header))

	got, err := f.booking.Get(ctx, sc.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.StatusPaid, got.Status)

	// Once processed, further redeliveries are acknowledged as duplicates.
	err = f.svc.ProcessEvent(ctx, payload, header)
	assert.ErrorIs(t, err, domain.ErrEventAlreadyProcessed)

	var count int64
	require.NoError(t, f.db.Model(&domain.EventRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestStartCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.acceptedBooking(t, "acct_1", true)

	result, err := f.svc.StartCheckout(ctx, sc.booking.ID, sc.booking.CustomerID)
	require.NoError(t, err)
	assert.False(t, result.AutoConfirmed)
	assert.Equal(t, "cs_1", result.SessionID)
	assert.NotEmpty(t, result.CheckoutURL)

	require.Len(t, f.gateway.checkoutParams, 1)
	params := f.gateway.checkoutParams[0]
	assert.Equal(t, int64(10000), params.Amount)
	assert.Equal(t, int64(1800), params.ApplicationFee)
	assert.Equal(t, "acct_1", params.Destination)
	assert.Equal(t, "customer@example.com", params.CustomerEmail)
	assert.Equal(t, "http://localhost:3000/bookings/"+sc.booking.ID.String()+"/paid", params.SuccessURL)

	// The session is attached for webhook correlation.
	got, err := f.booking.GetBySessionID(ctx, "cs_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sc.booking.ID, got.ID)
}

func TestStartCheckoutAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.acceptedBooking(t, "acct_1", true)

	_, err := f.svc.StartCheckout(ctx, sc.booking.ID, f.genID.Generate())
	assert.ErrorIs(t, err, bookingdomain.ErrNotOwner)

	_, err = f.svc.StartCheckout(ctx, f.genID.Generate(), sc.booking.CustomerID)
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestStartCheckoutAutoConfirmsWithoutAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.acceptedBooking(t, "", false)

	result, err := f.svc.StartCheckout(ctx, sc.booking.ID, sc.booking.CustomerID)
	require.NoError(t, err)
	assert.True(t, result.AutoConfirmed)
	assert.Empty(t, result.SessionID)
	assert.Zero(t, f.gateway.sessions)

	got, err := f.booking.Get(ctx, sc.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.StatusConfirmed, got.Status)

	// A confirmed booking is no longer payable online.
	_, err = f.svc.StartCheckout(ctx, sc.booking.ID, sc.booking.CustomerID)
	assert.ErrorIs(t, err, domain.ErrBookingNotPayable)
}

func TestCheckoutCompletedMarksBookingPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.acceptedBooking(t, "acct_1", true)

	object := fmt.Sprintf(`{"id":"cs_1","payment_intent":"pi_123","metadata":{"booking_id":%q}}`, sc.booking.ID.String())
	payload, header := signedEvent("evt_1", "checkout.session.completed", object)
	require.NoError(t, f.svc.ProcessEvent(ctx, payload, header))

	got, err := f.booking.Get(ctx, sc.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.StatusPaid, got.Status)
	assert.Equal(t, "pi_123", got.PaymentIntentID)

	// The same completion under a fresh delivery id settles quietly.
	payload, header = signedEvent("evt_2", "checkout.session.completed", object)
	require.NoError(t, f.svc.ProcessEvent(ctx, payload, header))
}

func TestCheckoutCompletedFallsBackToSessionLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.acceptedBooking(t, "acct_1", true)

	_, err := f.svc.StartCheckout(ctx, sc.booking.ID, sc.booking.CustomerID)
	require.NoError(t, err)

	// No metadata; the session id carries the correlation.
	payload, header := signedEvent("evt_1", "checkout.session.completed",
		`{"id":"cs_1","payment_intent":"pi_456","metadata":{}}`)
	require.NoError(t, f.svc.ProcessEvent(ctx, payload, header))

	got, err := f.booking.Get(ctx, sc.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.StatusPaid, got.Status)
}

func TestPaymentIntentEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.acceptedBooking(t, "acct_1", true)

	// A failed attempt leaves the booking payable.
	payload, header := signedEvent("evt_1", "payment_intent.payment_failed",
		`{"id":"pi_123","last_payment_error":{"message":"card_declined"}}`)
	require.NoError(t, f.svc.ProcessEvent(ctx, payload, header))

	got, err := f.booking.Get(ctx, sc.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.PaymentPending, got.PaymentStatus)

	// Success with booking metadata settles without a checkout session.
	object := fmt.Sprintf(`{"id":"pi_123","metadata":{"booking_id":%q}}`, sc.booking.ID.String())
	payload, header = signedEvent("evt_2", "payment_intent.succeeded", object)
	require.NoError(t, f.svc.ProcessEvent(ctx, payload, header))

	got, err = f.booking.Get(ctx, sc.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.StatusPaid, got.Status)
	assert.Equal(t, "pi_123", got.PaymentIntentID)

	// Without metadata the event is acknowledged and nothing moves.
	payload, header = signedEvent("evt_3", "payment_intent.succeeded", `{"id":"pi_999"}`)
	require.NoError(t, f.svc.ProcessEvent(ctx, payload, header))
}

func (f fixture) payBooking(t *testing.T, sc scenario) {
	t.Helper()
	require.NoError(t, f.booking.MarkPaid(context.Background(), sc.booking.ID, "pi_123"))
}

func TestCreateRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.acceptedBooking(t, "acct_1", true)
	f.payBooking(t, sc)

	refund, err := f.svc.CreateRefund(ctx, domain.CreateRefundRequest{
		BookingID:   sc.booking.ID,
		Amount:      4000,
		Reason:      "partial no-show",
		RequestedBy: f.genID.Generate(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RefundSubmitted, refund.Status)
	assert.Equal(t, "re_1", refund.StripeRefundID)
	require.Len(t, f.gateway.refundKeys, 1)
	assert.Equal(t, "refund:"+refund.ID.String(), f.gateway.refundKeys[0])

	// The booking itself only changes at settlement.
	got, err := f.booking.Get(ctx, sc.booking.ID)
	require.NoError(t, err)
	assert.Zero(t, got.RefundedAmount)
	assert.Equal(t, bookingdomain.PaymentPaid, got.PaymentStatus)
}

func TestCreateRefundRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.acceptedBooking(t, "acct_1", true)

	_, err := f.svc.CreateRefund(ctx, domain.CreateRefundRequest{BookingID: sc.booking.ID, Amount: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.svc.CreateRefund(ctx, domain.CreateRefundRequest{BookingID: f.genID.Generate(), Amount: 100})
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)

	// Unpaid bookings carry no payment reference to refund against.
	_, err = f.svc.CreateRefund(ctx, domain.CreateRefundRequest{BookingID: sc.booking.ID, Amount: 100})
	assert.ErrorIs(t, err, domain.ErrNoPaymentReference)

	f.payBooking(t, sc)
	_, err = f.svc.CreateRefund(ctx, domain.CreateRefundRequest{BookingID: sc.booking.ID, Amount: 99999})
	assert.ErrorIs(t, err, bookingdomain.ErrRefundExceedsPaid)
}

func TestCreateRefundGatewayFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.acceptedBooking(t, "acct_1", true)
	f.payBooking(t, sc)
	f.gateway.refundErr = errors.New("stripe unavailable")

	_, err := f.svc.CreateRefund(ctx, domain.CreateRefundRequest{BookingID: sc.booking.ID, Amount: 1000})
	require.Error(t, err)

	var refund domain.Refund
	require.NoError(t, f.db.First(&refund, "booking_id = ?", sc.booking.ID).Error)
	assert.Equal(t, domain.RefundFailed, refund.Status)
	assert.Equal(t, "stripe unavailable", refund.FailureReason)
}

func TestChargeRefundedSettles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.acceptedBooking(t, "acct_1", true)
	f.payBooking(t, sc)

	refund, err := f.svc.CreateRefund(ctx, domain.CreateRefundRequest{BookingID: sc.booking.ID, Amount: 4000})
	require.NoError(t, err)

	object := fmt.Sprintf(`{"id":"ch_1","refunds":{"data":[{"id":%q}]}}`, refund.StripeRefundID)
	payload, header := signedEvent("evt_1", "charge.refunded", object)
	require.NoError(t, f.svc.ProcessEvent(ctx, payload, header))

	var settled domain.Refund
	require.NoError(t, f.db.First(&settled, "id = ?", refund.ID).Error)
	assert.Equal(t, domain.RefundSettled, settled.Status)

	got, err := f.booking.Get(ctx, sc.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), got.RefundedAmount)
	assert.Equal(t, bookingdomain.PaymentPartiallyRefunded, got.PaymentStatus)

	// Re-delivered settlement does not double-apply.
	payload, header = signedEvent("evt_2", "charge.refunded", object)
	require.NoError(t, f.svc.ProcessEvent(ctx, payload, header))
	got, err = f.booking.Get(ctx, sc.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), got.RefundedAmount)
}

func TestChargeRefundedAdoptsExternalRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.acceptedBooking(t, "acct_1", true)
	f.payBooking(t, sc)

	// A refund issued straight from the processor dashboard has no local
	// intent row; the webhook creates and settles one.
	object := `{"id":"ch_1","payment_intent":"pi_123","refunds":{"data":[{"id":"re_ext_1","amount":2500}]}}`
	payload, header := signedEvent("evt_1", "charge.refunded", object)
	require.NoError(t, f.svc.ProcessEvent(ctx, payload, header))

	var adopted domain.Refund
	require.NoError(t, f.db.First(&adopted, "stripe_refund_id = ?", "re_ext_1").Error)
	assert.Equal(t, sc.booking.ID, adopted.BookingID)
	assert.Equal(t, int64(2500), adopted.Amount)
	assert.Equal(t, domain.RefundSettled, adopted.Status)

	got, err := f.booking.Get(ctx, sc.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), got.RefundedAmount)
	assert.Equal(t, bookingdomain.PaymentPartiallyRefunded, got.PaymentStatus)

	// A refund for a payment intent we never saw is logged and acked.
	object = `{"id":"ch_2","payment_intent":"pi_unknown","refunds":{"data":[{"id":"re_ext_2","amount":100}]}}`
	payload, header = signedEvent("evt_2", "charge.refunded", object)
	require.NoError(t, f.svc.ProcessEvent(ctx, payload, header))

	var count int64
	require.NoError(t, f.db.Model(&domain.Refund{}).Where("stripe_refund_id = ?", "re_ext_2").Count(&count).Error)
	assert.Zero(t, count)
}

func TestRefundAfterCompletionDebitsProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.acceptedBooking(t, "acct_1", true)
	f.payBooking(t, sc)
	require.NoError(t, f.booking.Complete(ctx, sc.booking.ID, sc.booking.CustomerID))

	provider, err := f.repo.FindByID(ctx, f.db, sc.provider.ID)
	require.NoError(t, err)
	require.Equal(t, int64(8200), provider.AvailableBalance)

	refund, err := f.svc.CreateRefund(ctx, domain.CreateRefundRequest{BookingID: sc.booking.ID, Amount: 10000})
	require.NoError(t, err)

	object := fmt.Sprintf(`{"id":"ch_1","refunds":{"data":[{"id":%q}]}}`, refund.StripeRefundID)
	payload, header := signedEvent("evt_1", "charge.refunded", object)
	require.NoError(t, f.svc.ProcessEvent(ctx, payload, header))

	// The provider gives back the earnings share of the refund.
	provider, err = f.repo.FindByID(ctx, f.db, sc.provider.ID)
	require.NoError(t, err)
	assert.Zero(t, provider.AvailableBalance)

	var debit ledgerdomain.Entry
	require.NoError(t, f.db.First(&debit,
		"provider_id = ? AND entry_type = ?", sc.provider.ID, ledgerdomain.EntryRefundDebit).Error)
	assert.Equal(t, int64(-8200), debit.Amount)

	got, err := f.booking.Get(ctx, sc.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, bookingdomain.PaymentRefunded, got.PaymentStatus)
}

func TestAccountUpdatedTogglesPayouts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.acceptedBooking(t, "acct_1", false)

	payload, header := signedEvent("evt_1", "account.updated",
		`{"id":"acct_1","payouts_enabled":true}`)
	require.NoError(t, f.svc.ProcessEvent(ctx, payload, header))

	provider, err := f.repo.FindByID(ctx, f.db, sc.provider.ID)
	require.NoError(t, err)
	assert.True(t, provider.PayoutsEnabled)

	// Unknown accounts are acknowledged without error.
	payload, header = signedEvent("evt_2", "account.updated",
		`{"id":"acct_unknown","payouts_enabled":true}`)
	require.NoError(t, f.svc.ProcessEvent(ctx, payload, header))
}

func TestStartOnboarding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.acceptedBooking(t, "", false)

	result, err := f.svc.StartOnboarding(ctx, sc.provider.UserID, "http://localhost/refresh", "http://localhost/return")
	require.NoError(t, err)
	assert.Equal(t, "acct_1", result.AccountID)
	assert.Equal(t, "https://connect.stripe.test/acct_1", result.OnboardingURL)

	provider, err := f.repo.FindByID(ctx, f.db, sc.provider.ID)
	require.NoError(t, err)
	assert.Equal(t, "acct_1", provider.StripeAccountID)

	// A second call reuses the account instead of creating another.
	again, err := f.svc.StartOnboarding(ctx, sc.provider.UserID, "http://localhost/refresh", "http://localhost/return")
	require.NoError(t, err)
	assert.Equal(t, "acct_1", again.AccountID)
	assert.Equal(t, 1, f.gateway.accountsCreated)

	_, err = f.svc.StartOnboarding(ctx, f.genID.Generate(), "r", "r")
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestReconcileIntents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sc := f.acceptedBooking(t, "acct_1", true)
	f.payBooking(t, sc)

	succeeded, err := f.svc.CreateRefund(ctx, domain.CreateRefundRequest{BookingID: sc.booking.ID, Amount: 2000})
	require.NoError(t, err)
	failed, err := f.svc.CreateRefund(ctx, domain.CreateRefundRequest{BookingID: sc.booking.ID, Amount: 1000})
	require.NoError(t, err)

	// Both submitted long enough ago that the webhook is presumed lost.
	stale := time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, f.db.Model(&domain.Refund{}).
		Where("id IN ?", []snowflake.ID{succeeded.ID, failed.ID}).
		Update("updated_at", stale).Error)

	f.gateway.refundStatuses[succeeded.StripeRefundID] = "succeeded"
	f.gateway.refundStatuses[failed.StripeRefundID] = "failed"

	resolved, err := f.svc.ReconcileIntents(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, resolved)

	var r1, r2 domain.Refund
	require.NoError(t, f.db.First(&r1, "id = ?", succeeded.ID).Error)
	require.NoError(t, f.db.First(&r2, "id = ?", failed.ID).Error)
	assert.Equal(t, domain.RefundSettled, r1.Status)
	assert.Equal(t, domain.RefundFailed, r2.Status)

	got, err := f.booking.Get(ctx, sc.booking.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), got.RefundedAmount)

	// Nothing left to reconcile.
	resolved, err = f.svc.ReconcileIntents(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, resolved)
}
