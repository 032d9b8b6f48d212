package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventRecord is the webhook idempotency and audit log. Every verified
// event is persisted before dispatch; the unique index on
// (provider, provider_event_id) rejects re-deliveries.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:1"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:2"`
	EventType       string         `json:"event_type" gorm:"type:text;not null;index"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

type RefundStatus string

const (
	RefundRequested RefundStatus = "REQUESTED"
	RefundSubmitted RefundStatus = "SUBMITTED"
	RefundSettled   RefundStatus = "SETTLED"
	RefundFailed    RefundStatus = "FAILED"
)

// Refund is an intent row: REQUESTED before the external call, SUBMITTED
// once the processor accepted it, SETTLED when the webhook confirms. The
// booking and ledger only change at settlement.
type Refund struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	BookingID snowflake.ID `json:"booking_id" gorm:"not null;index"`
	Amount    int64        `json:"amount" gorm:"not null"`
	Reason    string       `json:"reason" gorm:"type:text"`

	Status         RefundStatus `json:"status" gorm:"type:text;not null;index"`
	StripeRefundID string       `json:"-" gorm:"type:text;index"`
	FailureReason  string       `json:"failure_reason,omitempty" gorm:"type:text"`
	RequestedBy    snowflake.ID `json:"requested_by" gorm:"not null"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Refund) TableName() string { return "refunds" }

// CheckoutSessionParams describe one destination-charge checkout: the
// customer pays Amount, ApplicationFee stays with the platform, the rest
// transfers to the connected account.
type CheckoutSessionParams struct {
	BookingID      snowflake.ID
	Amount         int64
	Currency       string
	ApplicationFee int64
	Destination    string
	Description    string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type TransferParams struct {
	Amount         int64
	Currency       string
	Destination    string
	IdempotencyKey string
	Metadata       map[string]string
}

type AccountLinkParams struct {
	AccountID  string
	RefreshURL string
	ReturnURL  string
}

// Gateway abstracts the payment processor. The stripe adapter is the only
// production implementation; tests substitute fakes.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error)
	CreateRefund(ctx context.Context, paymentIntentID string, amount int64, idempotencyKey string) (string, error)
	GetRefundStatus(ctx context.Context, refundID string) (string, error)
	CreateTransfer(ctx context.Context, params TransferParams) (string, error)
	CreateConnectedAccount(ctx context.Context, email string) (string, error)
	CreateAccountLink(ctx context.Context, params AccountLinkParams) (string, error)
}

type StartCheckoutResult struct {
	// AutoConfirmed is set when the provider has no payout destination and
	// the booking skipped online payment.
	AutoConfirmed bool   `json:"auto_confirmed"`
	SessionID     string `json:"session_id,omitempty"`
	CheckoutURL   string `json:"checkout_url,omitempty"`
}

type CreateRefundRequest struct {
	BookingID   snowflake.ID
	Amount      int64
	Reason      string
	RequestedBy snowflake.ID
}

type OnboardingResult struct {
	AccountID     string `json:"account_id"`
	OnboardingURL string `json:"onboarding_url"`
}

type Service interface {
	StartCheckout(ctx context.Context, bookingID, customerID snowflake.ID) (*StartCheckoutResult, error)

	// CreateRefund runs the intent flow: record REQUESTED, call the
	// processor, record SUBMITTED. Settlement happens on the webhook.
	CreateRefund(ctx context.Context, req CreateRefundRequest) (*Refund, error)
	ListRefunds(ctx context.Context, bookingID snowflake.ID) ([]Refund, error)

	// StartOnboarding creates (or reuses) the provider's connected account
	// and returns a hosted onboarding link.
	StartOnboarding(ctx context.Context, providerUserID snowflake.ID, refreshURL, returnURL string) (*OnboardingResult, error)

	// ProcessEvent verifies, persists and dispatches one webhook delivery.
	ProcessEvent(ctx context.Context, payload []byte, signature string) error

	// ReconcileIntents resolves SUBMITTED refunds whose webhook never
	// arrived, querying the processor directly.
	ReconcileIntents(ctx context.Context, olderThan time.Duration) (int, error)
}

var (
	ErrBookingNotFound       = errors.New("booking_not_found")
	ErrBookingNotPayable     = errors.New("booking_not_payable")
	ErrNoPaymentReference    = errors.New("booking_has_no_payment_reference")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrRefundNotFound        = errors.New("refund_not_found")
)
