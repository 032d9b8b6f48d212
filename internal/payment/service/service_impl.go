package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	bookingdomain "github.com/quotehive/quotehive/internal/booking/domain"
	"github.com/quotehive/quotehive/internal/config"
	identitydomain "github.com/quotehive/quotehive/internal/identity/domain"
	ledgerdomain "github.com/quotehive/quotehive/internal/ledger/domain"
	"github.com/quotehive/quotehive/internal/observability/metrics"
	"github.com/quotehive/quotehive/internal/payment/domain"
	payoutdomain "github.com/quotehive/quotehive/internal/payout/domain"
	providerdomain "github.com/quotehive/quotehive/internal/provider/domain"
	pkgdb "github.com/quotehive/quotehive/pkg/db"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Cfg          config.Config
	Gateway      domain.Gateway
	Booking      bookingdomain.Service
	Identity     identitydomain.Service
	ProviderRepo providerdomain.Repository
	Ledger       ledgerdomain.Service
	Payouts      payoutdomain.Service `optional:"true"`
	Metrics      *metrics.Metrics     `optional:"true"`
}

type service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	cfg          config.Config
	gateway      domain.Gateway
	booking      bookingdomain.Service
	identity     identitydomain.Service
	providerRepo providerdomain.Repository
	ledger       ledgerdomain.Service
	payouts      payoutdomain.Service
	metrics      *metrics.Metrics
}

func New(p Params) domain.Service {
	return &service{
		db:           p.DB,
		log:          p.Log.Named("payment.service"),
		genID:        p.GenID,
		cfg:          p.Cfg,
		gateway:      p.Gateway,
		booking:      p.Booking,
		identity:     p.Identity,
		providerRepo: p.ProviderRepo,
		ledger:       p.Ledger,
		payouts:      p.Payouts,
		metrics:      p.Metrics,
	}
}

func (s *service) StartCheckout(ctx context.Context, bookingID, customerID snowflake.ID) (*domain.StartCheckoutResult, error) {
	booking, err := s.booking.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, domain.ErrBookingNotFound
	}
	if booking.CustomerID != customerID {
		return nil, bookingdomain.ErrNotOwner
	}
	if booking.Status != bookingdomain.StatusAccepted || booking.PaymentStatus != bookingdomain.PaymentPending {
		return nil, domain.ErrBookingNotPayable
	}

	provider, err := s.providerRepo.FindByID(ctx, s.db, booking.ProviderID)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, domain.ErrProviderNotFound
	}

	// In-person payment fallback: no connected account means no online
	// checkout, the booking confirms directly.
	if provider.StripeAccountID == "" || !provider.PayoutsEnabled {
		if err := s.booking.AutoConfirm(ctx, bookingID); err != nil {
			return nil, err
		}
		s.log.Info("booking auto-confirmed without online payment",
			zap.Int64("booking_id", bookingID.Int64()),
		)
		return &domain.StartCheckoutResult{AutoConfirmed: true}, nil
	}

	customer, err := s.identity.GetUser(ctx, customerID)
	if err != nil {
		return nil, err
	}
	email := ""
	if customer != nil {
		email = customer.Email
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, domain.CheckoutSessionParams{
		BookingID:      booking.ID,
		Amount:         booking.Subtotal,
		Currency:       "gbp",
		ApplicationFee: booking.PlatformFee,
		Destination:    provider.StripeAccountID,
		Description:    "Booking with " + provider.BusinessName,
		CustomerEmail:  email,
		SuccessURL:     bookingURL(s.cfg.CheckoutSuccessURL, booking.ID),
		CancelURL:      bookingURL(s.cfg.CheckoutCancelURL, booking.ID),
	})
	if err != nil {
		return nil, err
	}
	if err := s.booking.AttachSession(ctx, booking.ID, session.ID); err != nil {
		return nil, err
	}

	s.log.Info("checkout session created",
		zap.Int64("booking_id", booking.ID.Int64()),
		zap.String("session_id", session.ID),
		zap.Int64("amount", booking.Subtotal),
		zap.Int64("application_fee", booking.PlatformFee),
	)
	return &domain.StartCheckoutResult{SessionID: session.ID, CheckoutURL: session.URL}, nil
}

func bookingURL(template string, id snowflake.ID) string {
	return strings.ReplaceAll(template, "{BOOKING_ID}", id.String())
}

func (s *service) CreateRefund(ctx context.Context, req domain.CreateRefundRequest) (*domain.Refund, error) {
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	booking, err := s.booking.Get(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, domain.ErrBookingNotFound
	}
	if booking.PaymentIntentID == "" {
		return nil, domain.ErrNoPaymentReference
	}
	if booking.RefundedAmount+req.Amount > booking.Subtotal {
		return nil, bookingdomain.ErrRefundExceedsPaid
	}

	now := time.Now().UTC()
	refund := domain.Refund{
		ID:          s.genID.Generate(),
		BookingID:   req.BookingID,
		Amount:      req.Amount,
		Reason:      strings.TrimSpace(req.Reason),
		Status:      domain.RefundRequested,
		RequestedBy: req.RequestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&refund).Error; err != nil {
		return nil, err
	}

	// External call outside any local transaction. The refund id doubles
	// as the idempotency key, so a crash-and-retry cannot double-refund.
	stripeRefundID, err := s.gateway.CreateRefund(ctx, booking.PaymentIntentID, req.Amount, "refund:"+refund.ID.String())
	if err != nil {
		_ = s.db.WithContext(ctx).Model(&domain.Refund{}).
			Where("id = ?", refund.ID).
			Updates(map[string]any{
				"status":         domain.RefundFailed,
				"failure_reason": err.Error(),
				"updated_at":     time.Now().UTC(),
			}).Error
		return nil, err
	}

	refund.Status = domain.RefundSubmitted
	refund.StripeRefundID = stripeRefundID
	refund.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(&domain.Refund{}).
		Where("id = ?", refund.ID).
		Updates(map[string]any{
			"status":           domain.RefundSubmitted,
			"stripe_refund_id": stripeRefundID,
			"updated_at":       refund.UpdatedAt,
		}).Error; err != nil {
		return nil, err
	}

	s.log.Info("refund submitted",
		zap.Int64("refund_id", refund.ID.Int64()),
		zap.Int64("booking_id", req.BookingID.Int64()),
		zap.Int64("amount", req.Amount),
		zap.String("stripe_refund_id", stripeRefundID),
	)
	return &refund, nil
}

func (s *service) ListRefunds(ctx context.Context, bookingID snowflake.ID) ([]domain.Refund, error) {
	var refunds []domain.Refund
	err := s.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("created_at DESC").
		Find(&refunds).Error
	if err != nil {
		return nil, err
	}
	return refunds, nil
}

func (s *service) StartOnboarding(ctx context.Context, providerUserID snowflake.ID, refreshURL, returnURL string) (*domain.OnboardingResult, error) {
	provider, err := s.providerRepo.FindByUserID(ctx, s.db, providerUserID)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, domain.ErrProviderNotFound
	}

	accountID := provider.StripeAccountID
	if accountID == "" {
		user, err := s.identity.GetUser(ctx, providerUserID)
		if err != nil {
			return nil, err
		}
		email := ""
		if user != nil {
			email = user.Email
		}
		accountID, err = s.gateway.CreateConnectedAccount(ctx, email)
		if err != nil {
			return nil, err
		}
		if err := s.providerRepo.SetStripeAccount(ctx, s.db, provider.ID, accountID); err != nil {
			return nil, err
		}
	}

	url, err := s.gateway.CreateAccountLink(ctx, domain.AccountLinkParams{
		AccountID:  accountID,
		RefreshURL: refreshURL,
		ReturnURL:  returnURL,
	})
	if err != nil {
		return nil, err
	}
	return &domain.OnboardingResult{AccountID: accountID, OnboardingURL: url}, nil
}

func (s *service) ProcessEvent(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEvent(payload, signature, s.cfg.StripeWebhookSecret)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	record := domain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        "stripe",
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		Payload:         payload,
		ReceivedAt:      time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return s.redeliverEvent(ctx, event.ID, string(event.Type), event.Data.Raw)
		}
		return err
	}

	if err := s.dispatch(ctx, string(event.Type), event.Data.Raw); err != nil {
		s.recordWebhookOutcome(string(event.Type), "failed")
		return err
	}
	s.recordWebhookOutcome(string(event.Type), "processed")
	return s.markProcessed(ctx, record.ID)
}

// redeliverEvent handles an event id we have already stored. A processed
// event is acked so the upstream stops retrying; one whose dispatch failed
// on an earlier delivery is run again.
func (s *service) redeliverEvent(ctx context.Context, eventID, eventType string, data []byte) error {
	var existing domain.EventRecord
	err := s.db.WithContext(ctx).
		First(&existing, "provider = ? AND provider_event_id = ?", "stripe", eventID).Error
	if err != nil {
		return err
	}
	if existing.ProcessedAt != nil {
		s.log.Info("webhook event already processed",
			zap.String("event_id", eventID),
			zap.String("event_type", eventType),
		)
		s.recordWebhookOutcome(eventType, "duplicate")
		return domain.ErrEventAlreadyProcessed
	}

	if err := s.dispatch(ctx, eventType, data); err != nil {
		s.recordWebhookOutcome(eventType, "failed")
		return err
	}
	s.recordWebhookOutcome(eventType, "processed")
	return s.markProcessed(ctx, existing.ID)
}

func (s *service) recordWebhookOutcome(eventType, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordWebhookEvent(eventType, outcome)
	}
}

func (s *service) markProcessed(ctx context.Context, recordID snowflake.ID) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&domain.EventRecord{}).
		Where("id = ?", recordID).
		Update("processed_at", now).Error
}

type checkoutSessionObject struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	Metadata      map[string]string `json:"metadata"`
}

type paymentIntentObject struct {
	ID             string            `json:"id"`
	Metadata       map[string]string `json:"metadata"`
	LastPaymentErr *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type chargeObject struct {
	ID            string `json:"id"`
	PaymentIntent string `json:"payment_intent"`
	Refunds       struct {
		Data []struct {
			ID     string `json:"id"`
			Amount int64  `json:"amount"`
		} `json:"data"`
	} `json:"refunds"`
}

type accountObject struct {
	ID             string `json:"id"`
	PayoutsEnabled bool   `json:"payouts_enabled"`
}

type subscriptionObject struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Customer string            `json:"customer"`
	Metadata map[string]string `json:"metadata"`
}

type invoiceObject struct {
	Subscription string `json:"subscription"`
}

type payoutObject struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	FailureMessage string            `json:"failure_message"`
	Metadata       map[string]string `json:"metadata"`
}

func (s *service) dispatch(ctx context.Context, eventType string, raw json.RawMessage) error {
	switch eventType {
	case "checkout.session.completed":
		return s.handleCheckoutCompleted(ctx, raw)
	case "charge.refunded":
		return s.handleChargeRefunded(ctx, raw)
	case "account.updated":
		return s.handleAccountUpdated(ctx, raw)
	case "payment_intent.succeeded":
		return s.handlePaymentIntentSucceeded(ctx, raw)
	case "payment_intent.payment_failed":
		return s.handlePaymentIntentFailed(ctx, raw)
	case "customer.subscription.created", "customer.subscription.updated":
		return s.handleSubscriptionChanged(ctx, raw)
	case "customer.subscription.deleted":
		return s.handleSubscriptionDeleted(ctx, raw)
	case "invoice.payment_succeeded":
		return s.handleInvoicePayment(ctx, raw, true)
	case "invoice.payment_failed":
		return s.handleInvoicePayment(ctx, raw, false)
	case "payout.paid":
		return s.handlePayoutEvent(ctx, raw, true)
	case "payout.failed":
		return s.handlePayoutEvent(ctx, raw, false)
	default:
		// Acknowledge so the processor stops retrying.
		s.log.Info("ignoring webhook event", zap.String("event_type", eventType))
		return nil
	}
}

func (s *service) handleCheckoutCompleted(ctx context.Context, raw json.RawMessage) error {
	var session checkoutSessionObject
	if err := json.Unmarshal(raw, &session); err != nil {
		return err
	}

	bookingID, err := bookingIDFromMetadata(session.Metadata)
	if err != nil {
		booking, lookupErr := s.booking.GetBySessionID(ctx, session.ID)
		if lookupErr != nil {
			return lookupErr
		}
		if booking == nil {
			s.log.Warn("checkout completion for unknown booking", zap.String("session_id", session.ID))
			return nil
		}
		bookingID = booking.ID
	}

	if err := s.booking.MarkPaid(ctx, bookingID, session.PaymentIntent); err != nil {
		if errors.Is(err, bookingdomain.ErrInvalidTransition) {
			// Re-delivered after the booking already settled.
			return nil
		}
		return err
	}
	return nil
}

// handlePaymentIntentSucceeded is a belt-and-braces path for intents
// created outside hosted checkout; checkout.session.completed remains
// the primary paid signal.
func (s *service) handlePaymentIntentSucceeded(ctx context.Context, raw json.RawMessage) error {
	var intent paymentIntentObject
	if err := json.Unmarshal(raw, &intent); err != nil {
		return err
	}
	bookingID, err := bookingIDFromMetadata(intent.Metadata)
	if err != nil {
		s.log.Info("payment intent without booking metadata", zap.String("payment_intent_id", intent.ID))
		return nil
	}
	if err := s.booking.MarkPaid(ctx, bookingID, intent.ID); err != nil {
		if errors.Is(err, bookingdomain.ErrInvalidTransition) {
			return nil
		}
		return err
	}
	return nil
}

func (s *service) handlePaymentIntentFailed(ctx context.Context, raw json.RawMessage) error {
	var intent paymentIntentObject
	if err := json.Unmarshal(raw, &intent); err != nil {
		return err
	}
	reason := ""
	if intent.LastPaymentErr != nil {
		reason = intent.LastPaymentErr.Message
	}
	// The booking stays payable; the customer can restart checkout.
	s.log.Warn("payment attempt failed",
		zap.String("payment_intent_id", intent.ID),
		zap.String("reason", reason),
	)
	return nil
}

func (s *service) handleChargeRefunded(ctx context.Context, raw json.RawMessage) error {
	var charge chargeObject
	if err := json.Unmarshal(raw, &charge); err != nil {
		return err
	}
	for _, refund := range charge.Refunds.Data {
		if err := s.adoptExternalRefund(ctx, charge.PaymentIntent, refund.ID, refund.Amount); err != nil {
			return err
		}
		if err := s.settleRefund(ctx, refund.ID); err != nil {
			return err
		}
	}
	return nil
}

// adoptExternalRefund records a refund issued directly at the processor
// (dashboard or API) so settlement can run through the normal intent flow.
func (s *service) adoptExternalRefund(ctx context.Context, paymentIntentID, stripeRefundID string, amount int64) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.Refund{}).
		Where("stripe_refund_id = ?", stripeRefundID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	var booking bookingdomain.Booking
	err = s.db.WithContext(ctx).
		First(&booking, "payment_intent_id = ?", paymentIntentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Warn("external refund for unknown payment intent",
			zap.String("stripe_refund_id", stripeRefundID),
			zap.String("payment_intent_id", paymentIntentID),
		)
		return nil
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	refund := domain.Refund{
		ID:             s.genID.Generate(),
		BookingID:      booking.ID,
		Amount:         amount,
		Reason:         "issued at the payment processor",
		Status:         domain.RefundSubmitted,
		StripeRefundID: stripeRefundID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(&refund).Error; err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil
		}
		return err
	}
	s.log.Info("adopted external refund",
		zap.Int64("refund_id", refund.ID.Int64()),
		zap.Int64("booking_id", booking.ID.Int64()),
		zap.Int64("amount", amount),
	)
	return nil
}

// settleRefund is the commit half of the refund intent flow: the booking,
// refund row, provider balance and ledger all move in one transaction.
func (s *service) settleRefund(ctx context.Context, stripeRefundID string) error {
	var refund domain.Refund
	err := s.db.WithContext(ctx).
		First(&refund, "stripe_refund_id = ?", stripeRefundID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Warn("refund settlement for unknown refund", zap.String("stripe_refund_id", stripeRefundID))
		return nil
	}
	if err != nil {
		return err
	}
	if refund.Status == domain.RefundSettled {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed := tx.Model(&domain.Refund{}).
			Where("id = ?", refund.ID).
			Where("status = ?", domain.RefundSubmitted).
			Updates(map[string]any{"status": domain.RefundSettled, "updated_at": time.Now().UTC()})
		if claimed.Error != nil {
			return claimed.Error
		}
		if claimed.RowsAffected == 0 {
			return nil // concurrent settlement won
		}

		var booking bookingdomain.Booking
		if err := tx.WithContext(ctx).First(&booking, "id = ?", refund.BookingID).Error; err != nil {
			return err
		}
		if _, err := s.booking.ApplyRefundTx(ctx, tx, refund.BookingID, refund.Amount); err != nil {
			return err
		}

		// The provider's balance only carries this money once the booking
		// completed; before that the refund is purely the platform's.
		if booking.Status == bookingdomain.StatusCompleted {
			_, earnings := bookingdomain.SplitFee(refund.Amount, booking.FeeRate)
			if earnings > 0 {
				if err := s.debitProvider(ctx, tx, &booking, earnings); err != nil {
					return err
				}
			}
		}

		s.log.Info("refund settled",
			zap.Int64("refund_id", refund.ID.Int64()),
			zap.Int64("booking_id", refund.BookingID.Int64()),
			zap.Int64("amount", refund.Amount),
		)
		return nil
	})
}

func (s *service) debitProvider(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking, amount int64) error {
	if err := s.providerRepo.DebitBalance(ctx, tx, booking.ProviderID, amount); err != nil {
		if !errors.Is(err, providerdomain.ErrInsufficientBalance) {
			return err
		}
		s.log.Warn("refund debit exceeds provider balance, zeroing",
			zap.Int64("provider_id", booking.ProviderID.Int64()),
			zap.Int64("amount", amount),
		)
		if err := s.providerRepo.ZeroBalance(ctx, tx, booking.ProviderID); err != nil {
			return err
		}
	}
	bookingID := booking.ID
	_, err := s.ledger.Append(ctx, tx, ledgerdomain.AppendRequest{
		ProviderID:  booking.ProviderID,
		EntryType:   ledgerdomain.EntryRefundDebit,
		Amount:      -amount,
		BookingID:   &bookingID,
		Description: "Refund against booking " + booking.ID.String(),
	})
	return err
}

func (s *service) handleAccountUpdated(ctx context.Context, raw json.RawMessage) error {
	var account accountObject
	if err := json.Unmarshal(raw, &account); err != nil {
		return err
	}
	provider, err := s.providerRepo.FindByStripeAccount(ctx, s.db, account.ID)
	if err != nil {
		return err
	}
	if provider == nil {
		s.log.Warn("account update for unknown provider", zap.String("account_id", account.ID))
		return nil
	}
	if provider.PayoutsEnabled == account.PayoutsEnabled {
		return nil
	}
	if err := s.providerRepo.SetPayoutsEnabled(ctx, s.db, provider.ID, account.PayoutsEnabled); err != nil {
		return err
	}
	s.log.Info("provider payout capability changed",
		zap.Int64("provider_id", provider.ID.Int64()),
		zap.Bool("payouts_enabled", account.PayoutsEnabled),
	)
	return nil
}

func (s *service) handleSubscriptionChanged(ctx context.Context, raw json.RawMessage) error {
	var sub subscriptionObject
	if err := json.Unmarshal(raw, &sub); err != nil {
		return err
	}
	provider, err := s.providerForSubscription(ctx, sub)
	if err != nil || provider == nil {
		return err
	}

	status := providerdomain.PremiumActive
	switch sub.Status {
	case "past_due", "unpaid":
		status = providerdomain.PremiumPastDue
	case "canceled", "incomplete_expired":
		status = providerdomain.PremiumCanceled
	}
	return s.providerRepo.SetPremium(ctx, s.db, provider.ID, status, sub.Customer, sub.ID)
}

func (s *service) handleSubscriptionDeleted(ctx context.Context, raw json.RawMessage) error {
	var sub subscriptionObject
	if err := json.Unmarshal(raw, &sub); err != nil {
		return err
	}
	provider, err := s.providerForSubscription(ctx, sub)
	if err != nil || provider == nil {
		return err
	}
	return s.providerRepo.SetPremium(ctx, s.db, provider.ID, providerdomain.PremiumCanceled, sub.Customer, sub.ID)
}

func (s *service) providerForSubscription(ctx context.Context, sub subscriptionObject) (*providerdomain.Provider, error) {
	if raw, ok := sub.Metadata["provider_id"]; ok {
		if id, err := snowflake.ParseString(raw); err == nil {
			return s.providerRepo.FindByID(ctx, s.db, id)
		}
	}
	provider, err := s.providerRepo.FindBySubscription(ctx, s.db, sub.ID)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		s.log.Warn("subscription event for unknown provider", zap.String("subscription_id", sub.ID))
	}
	return provider, nil
}

func (s *service) handleInvoicePayment(ctx context.Context, raw json.RawMessage, succeeded bool) error {
	var invoice invoiceObject
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return err
	}
	if invoice.Subscription == "" {
		return nil
	}
	provider, err := s.providerRepo.FindBySubscription(ctx, s.db, invoice.Subscription)
	if err != nil || provider == nil {
		return err
	}
	status := providerdomain.PremiumActive
	if !succeeded {
		status = providerdomain.PremiumPastDue
	}
	return s.providerRepo.SetPremium(ctx, s.db, provider.ID, status, provider.StripeCustomerID, invoice.Subscription)
}

func (s *service) handlePayoutEvent(ctx context.Context, raw json.RawMessage, paid bool) error {
	if s.payouts == nil {
		return nil
	}
	var payout payoutObject
	if err := json.Unmarshal(raw, &payout); err != nil {
		return err
	}
	transferID := payout.Metadata["transfer_id"]
	if transferID == "" {
		s.log.Info("payout event without transfer reference", zap.String("payout_id", payout.ID))
		return nil
	}
	if paid {
		return s.payouts.MarkPaidByTransfer(ctx, transferID)
	}
	reason := payout.FailureMessage
	if reason == "" {
		reason = payout.Status
	}
	return s.payouts.MarkFailedByTransfer(ctx, transferID, reason)
}

// ReconcileIntents closes the gap when a refund webhook never arrives:
// SUBMITTED refunds older than the window are checked against the
// processor directly.
func (s *service) ReconcileIntents(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	var stale []domain.Refund
	err := s.db.WithContext(ctx).
		Where("status = ?", domain.RefundSubmitted).
		Where("updated_at <= ?", cutoff).
		Order("updated_at ASC").
		Limit(100).
		Find(&stale).Error
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, refund := range stale {
		status, err := s.gateway.GetRefundStatus(ctx, refund.StripeRefundID)
		if err != nil {
			s.log.Warn("refund status lookup failed",
				zap.Int64("refund_id", refund.ID.Int64()),
				zap.Error(err),
			)
			continue
		}
		switch status {
		case "succeeded":
			if err := s.settleRefund(ctx, refund.StripeRefundID); err != nil {
				s.log.Error("stale refund settlement failed",
					zap.Int64("refund_id", refund.ID.Int64()),
					zap.Error(err),
				)
				continue
			}
			resolved++
		case "failed", "canceled":
			if err := s.db.WithContext(ctx).Model(&domain.Refund{}).
				Where("id = ?", refund.ID).
				Where("status = ?", domain.RefundSubmitted).
				Updates(map[string]any{
					"status":         domain.RefundFailed,
					"failure_reason": "processor reported " + status,
					"updated_at":     time.Now().UTC(),
				}).Error; err != nil {
				return resolved, err
			}
			resolved++
		}
	}
	if resolved > 0 {
		s.log.Info("reconciled stale refunds", zap.Int("resolved", resolved))
	}
	return resolved, nil
}

func bookingIDFromMetadata(metadata map[string]string) (snowflake.ID, error) {
	raw, ok := metadata["booking_id"]
	if !ok || raw == "" {
		return 0, fmt.Errorf("missing booking_id metadata")
	}
	return snowflake.ParseString(raw)
}
