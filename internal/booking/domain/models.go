package domain

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/quotehive/quotehive/pkg/db/pagination"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusConfirmed Status = "CONFIRMED" // in-person payment fallback
	StatusPaid      Status = "PAID"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusDeclined  Status = "DECLINED"
)

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "PENDING"
	PaymentPaid              PaymentStatus = "PAID"
	PaymentRefunded          PaymentStatus = "REFUNDED"
	PaymentPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

// Booking is the engagement materialized from an accepted quote. At most
// one booking exists per quote, enforced by a unique index.
type Booking struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	QuoteID    snowflake.ID `json:"quote_id" gorm:"not null;uniqueIndex:ux_bookings_quote"`
	RequestID  snowflake.ID `json:"request_id" gorm:"not null;index"`
	CustomerID snowflake.ID `json:"customer_id" gorm:"not null;index"`
	ProviderID snowflake.ID `json:"provider_id" gorm:"not null;index"`

	ScheduledDate   *time.Time `json:"scheduled_date,omitempty"`
	DurationMinutes int        `json:"duration_minutes" gorm:"not null"`
	Address         string     `json:"address" gorm:"type:text;not null"`

	// All amounts in pence. Subtotal = PlatformFee + ProviderEarnings.
	Subtotal         int64   `json:"subtotal" gorm:"not null"`
	FeeRate          float64 `json:"fee_rate" gorm:"not null"`
	PlatformFee      int64   `json:"platform_fee" gorm:"not null"`
	ProviderEarnings int64   `json:"provider_earnings" gorm:"not null"`
	RefundedAmount   int64   `json:"refunded_amount" gorm:"not null;default:0"`

	Status        Status        `json:"status" gorm:"type:text;not null;index"`
	PaymentStatus PaymentStatus `json:"payment_status" gorm:"type:text;not null;index"`

	StripeSessionID string `json:"-" gorm:"type:text;index"`
	PaymentIntentID string `json:"-" gorm:"type:text;index"`

	PaidAt      *time.Time `json:"paid_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"not null"`
}

func (Booking) TableName() string { return "bookings" }

// SplitFee divides a subtotal at the given rate. The fee rounds half up;
// earnings take the remainder so the split always sums to the subtotal.
func SplitFee(subtotal int64, rate float64) (fee, earnings int64) {
	fee = int64(math.Round(float64(subtotal) * rate))
	if fee < 0 {
		fee = 0
	}
	if fee > subtotal {
		fee = subtotal
	}
	return fee, subtotal - fee
}

type CreateRequest struct {
	CustomerID    snowflake.ID
	QuoteID       snowflake.ID
	ScheduledDate *time.Time
}

type ListRequest struct {
	UserID     snowflake.ID
	Role       string // "customer" or "provider"
	Status     Status
	Pagination pagination.Pagination
}

type Service interface {
	// Create converts a pending quote into a PENDING booking, declining
	// the request's other open quotes.
	Create(ctx context.Context, req CreateRequest) (*Booking, error)

	Get(ctx context.Context, id snowflake.ID) (*Booking, error)
	GetBySessionID(ctx context.Context, sessionID string) (*Booking, error)
	List(ctx context.Context, req ListRequest) ([]Booking, *pagination.PageInfo, error)

	Accept(ctx context.Context, id, providerID snowflake.ID) error
	Decline(ctx context.Context, id, providerID snowflake.ID) error
	Cancel(ctx context.Context, id, userID snowflake.ID) error

	// Complete finishes a PAID or CONFIRMED booking. When the platform
	// collected the payment, it credits the provider's balance and writes
	// a ledger entry in the same transaction.
	Complete(ctx context.Context, id, userID snowflake.ID) error

	// AttachSession records the checkout session created for the booking.
	AttachSession(ctx context.Context, id snowflake.ID, sessionID string) error

	// AutoConfirm moves an ACCEPTED booking with no online payment path
	// straight to CONFIRMED.
	AutoConfirm(ctx context.Context, id snowflake.ID) error

	// MarkPaid settles the booking from a verified checkout completion.
	// Idempotent under webhook re-delivery.
	MarkPaid(ctx context.Context, id snowflake.ID, paymentIntentID string) error

	// ApplyRefundTx records a refund against the booking inside the
	// caller's transaction and returns the resulting payment status.
	ApplyRefundTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, amount int64) (PaymentStatus, error)
}

var (
	ErrNotFound          = errors.New("booking_not_found")
	ErrQuoteNotFound     = errors.New("quote_not_found")
	ErrQuoteNotPending   = errors.New("quote_not_pending")
	ErrQuoteExpired      = errors.New("quote_expired")
	ErrAlreadyBooked     = errors.New("quote_already_booked")
	ErrNotOwner          = errors.New("booking_not_owner")
	ErrInvalidTransition = errors.New("invalid_booking_transition")
	ErrInvalidAmount     = errors.New("invalid_refund_amount")
	ErrRefundExceedsPaid = errors.New("refund_exceeds_paid_amount")
	ErrNotRefundable     = errors.New("booking_not_refundable")
)
