package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/quotehive/quotehive/pkg/db/pagination"
)

type Status string

const (
	StatusOpen           Status = "OPEN"
	StatusQuotesReceived Status = "QUOTES_RECEIVED"
	StatusExpired        Status = "EXPIRED"
	StatusClosed         Status = "CLOSED"
	StatusBooked         Status = "BOOKED"
)

type InvitationStatus string

const (
	InvitationInvited  InvitationStatus = "INVITED"
	InvitationViewed   InvitationStatus = "VIEWED"
	InvitationQuoted   InvitationStatus = "QUOTED"
	InvitationDeclined InvitationStatus = "DECLINED"
)

// QuoteRequest is a customer's ask for quotes on one job.
type QuoteRequest struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	CustomerID  snowflake.ID `json:"customer_id" gorm:"not null;index"`
	Category    string       `json:"category" gorm:"type:text;not null;index"`
	Title       string       `json:"title" gorm:"type:text;not null"`
	Description string       `json:"description" gorm:"type:text"`

	Postcode  string  `json:"postcode" gorm:"type:text;not null"`
	Latitude  float64 `json:"latitude" gorm:"not null"`
	Longitude float64 `json:"longitude" gorm:"not null"`
	City      string  `json:"city" gorm:"type:text"`

	PreferredDate  *time.Time `json:"preferred_date,omitempty"`
	FlexibleTiming bool       `json:"flexible_timing" gorm:"not null;default:false"`
	BudgetMin      *int64     `json:"budget_min,omitempty"`
	BudgetMax      *int64     `json:"budget_max,omitempty"`

	Status       Status    `json:"status" gorm:"type:text;not null;index"`
	QuoteCount   int64     `json:"quote_count" gorm:"not null;default:0"`
	InvitedCount int64     `json:"invited_count" gorm:"not null;default:0"`
	ExpiresAt    time.Time `json:"expires_at" gorm:"not null;index"`
	CreatedAt    time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"not null"`
}

func (QuoteRequest) TableName() string { return "quote_requests" }

// Open reports whether the request still accepts quotes.
func (r QuoteRequest) Open() bool {
	return r.Status == StatusOpen || r.Status == StatusQuotesReceived
}

// Invitation links a matched provider to a request. One row per
// (request, provider), enforced by a unique index.
type Invitation struct {
	ID            snowflake.ID     `json:"id" gorm:"primaryKey"`
	RequestID     snowflake.ID     `json:"request_id" gorm:"not null;uniqueIndex:ux_invitations_request_provider,priority:1"`
	ProviderID    snowflake.ID     `json:"provider_id" gorm:"not null;uniqueIndex:ux_invitations_request_provider,priority:2;index"`
	DistanceMiles float64          `json:"distance_miles" gorm:"not null"`
	Status        InvitationStatus `json:"status" gorm:"type:text;not null"`
	CreatedAt     time.Time        `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time        `json:"updated_at" gorm:"not null"`
}

func (Invitation) TableName() string { return "request_invitations" }

type CreateRequest struct {
	CustomerID     snowflake.ID
	Category       string
	Title          string
	Description    string
	Postcode       string
	PreferredDate  *time.Time
	FlexibleTiming bool
	BudgetMin      *int64
	BudgetMax      *int64
}

type ListRequest struct {
	CustomerID snowflake.ID
	Status     Status
	Pagination pagination.Pagination
}

// InvitedRequest pairs a request with the provider's invitation row.
type InvitedRequest struct {
	Request    QuoteRequest `json:"request"`
	Invitation Invitation   `json:"invitation"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*QuoteRequest, error)

	// Match fans invitations out to eligible providers. Safe to retry:
	// the unique index makes duplicate invitations no-ops.
	Match(ctx context.Context, requestID snowflake.ID) (int, error)

	Get(ctx context.Context, id snowflake.ID) (*QuoteRequest, error)
	ListForCustomer(ctx context.Context, req ListRequest) ([]QuoteRequest, *pagination.PageInfo, error)
	ListInvitedForProvider(ctx context.Context, providerID snowflake.ID, page pagination.Pagination) ([]InvitedRequest, *pagination.PageInfo, error)
	Invitations(ctx context.Context, requestID snowflake.ID) ([]Invitation, error)
	InvitationFor(ctx context.Context, requestID, providerID snowflake.ID) (*Invitation, error)

	Close(ctx context.Context, id, customerID snowflake.ID) error
	DeclineInvitation(ctx context.Context, requestID, providerID snowflake.ID) error
	MarkInvitationViewed(ctx context.Context, requestID, providerID snowflake.ID) error

	// ExpireDue transitions requests past their deadline to EXPIRED and
	// returns how many rows moved.
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

var (
	ErrNotFound           = errors.New("quote_request_not_found")
	ErrInvalidCategory    = errors.New("invalid_category")
	ErrInvalidTitle       = errors.New("invalid_title")
	ErrInvalidDescription = errors.New("invalid_description")
	ErrInvalidPostcode    = errors.New("invalid_postcode")
	ErrInvalidBudget      = errors.New("invalid_budget")
	ErrNotOpen            = errors.New("quote_request_not_open")
	ErrNotOwner           = errors.New("quote_request_not_owner")
	ErrInvitationNotFound = errors.New("invitation_not_found")
)
