package domain

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusSent     Status = "SENT"
	StatusViewed   Status = "VIEWED"
	StatusAccepted Status = "ACCEPTED"
	StatusDeclined Status = "DECLINED"
	StatusExpired  Status = "EXPIRED"
	StatusBooked   Status = "BOOKED"
)

// MinPrice is the floor for a quote, in pence.
const MinPrice int64 = 500

// MinMessageLength keeps quotes descriptive enough to act on.
const MinMessageLength = 20

// Quote is a provider's priced offer on a request. One per
// (request, provider), enforced by a unique index.
type Quote struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	RequestID  snowflake.ID `json:"request_id" gorm:"not null;uniqueIndex:ux_quotes_request_provider,priority:1"`
	ProviderID snowflake.ID `json:"provider_id" gorm:"not null;uniqueIndex:ux_quotes_request_provider,priority:2;index"`

	Price           int64      `json:"price" gorm:"not null"`
	Message         string     `json:"message" gorm:"type:text"`
	DurationMinutes int        `json:"duration_minutes" gorm:"not null"`
	AvailableDate   *time.Time `json:"available_date,omitempty"`

	Status    Status    `json:"status" gorm:"type:text;not null;index"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null;index"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Quote) TableName() string { return "quotes" }

// Pending reports whether the customer can still act on the quote.
func (q Quote) Pending() bool {
	return q.Status == StatusSent || q.Status == StatusViewed
}

type SubmitRequest struct {
	RequestID     snowflake.ID
	ProviderID    snowflake.ID
	Price         int64
	Message       string
	Duration      string
	AvailableDate *time.Time

	// ValidUntil shortens the quote's life below the configured expiry.
	ValidUntil *time.Time
}

type Service interface {
	Submit(ctx context.Context, req SubmitRequest) (*Quote, error)
	Get(ctx context.Context, id snowflake.ID) (*Quote, error)
	ListForRequest(ctx context.Context, requestID snowflake.ID) ([]Quote, error)
	ListForProvider(ctx context.Context, providerID snowflake.ID) ([]Quote, error)

	// MarkViewed moves SENT to VIEWED when the request owner opens the quote.
	MarkViewed(ctx context.Context, id, customerID snowflake.ID) error
	Decline(ctx context.Context, id, customerID snowflake.ID) error

	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

// ParseDuration turns a free-text estimate like "2 hours" or "3 days"
// into minutes. Unrecognised input falls back to one hour.
func ParseDuration(s string) int {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 60
	}

	fields := strings.Fields(s)
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return 60
	}
	switch {
	case strings.Contains(s, "day"):
		return n * 480
	case strings.Contains(s, "hour"):
		return n * 60
	case strings.Contains(s, "minute") || strings.Contains(s, "min"):
		return n
	default:
		return n * 60
	}
}

var (
	ErrNotFound          = errors.New("quote_not_found")
	ErrRequestNotFound   = errors.New("quote_request_not_found")
	ErrRequestNotOpen    = errors.New("quote_request_not_open")
	ErrNotInvited        = errors.New("provider_not_invited")
	ErrAlreadyQuoted     = errors.New("quote_already_submitted")
	ErrQuoteLimit        = errors.New("quote_limit_reached")
	ErrPriceTooLow       = errors.New("quote_price_too_low")
	ErrMessageTooShort   = errors.New("quote_message_too_short")
	ErrInvalidValidUntil = errors.New("quote_valid_until_past")
	ErrNotPending        = errors.New("quote_not_pending")
	ErrNotOwner          = errors.New("quote_not_owner")
	ErrProviderNotActive = errors.New("provider_not_active")
)
