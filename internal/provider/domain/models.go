package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
)

type PremiumStatus string

const (
	PremiumNone     PremiumStatus = "NONE"
	PremiumActive   PremiumStatus = "ACTIVE"
	PremiumPastDue  PremiumStatus = "PAST_DUE"
	PremiumCanceled PremiumStatus = "CANCELED"
)

// Provider is the tradesperson profile attached to a PROVIDER user.
type Provider struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID       snowflake.ID `json:"user_id" gorm:"not null;uniqueIndex:ux_providers_user"`
	BusinessName string       `json:"business_name" gorm:"type:text;not null"`
	Description  string       `json:"description" gorm:"type:text"`
	Status       Status       `json:"status" gorm:"type:text;not null;index"`

	Postcode           string   `json:"postcode" gorm:"type:text"`
	Latitude           *float64 `json:"latitude"`
	Longitude          *float64 `json:"longitude"`
	ServiceRadiusMiles float64  `json:"service_radius_miles" gorm:"not null;default:10"`

	StripeAccountID  string `json:"stripe_account_id" gorm:"type:text;index"`
	PayoutsEnabled   bool   `json:"payouts_enabled" gorm:"not null;default:false"`
	AvailableBalance int64  `json:"available_balance" gorm:"not null;default:0"`

	RatingSum     int64   `json:"-" gorm:"not null;default:0"`
	RatingCount   int64   `json:"rating_count" gorm:"not null;default:0"`
	AverageRating float64 `json:"average_rating" gorm:"not null;default:0"`

	InvitedCount   int64 `json:"invited_count" gorm:"not null;default:0"`
	RespondedCount int64 `json:"responded_count" gorm:"not null;default:0"`

	PremiumStatus        PremiumStatus `json:"premium_status" gorm:"type:text;not null;default:NONE"`
	StripeCustomerID     string        `json:"-" gorm:"type:text"`
	StripeSubscriptionID string        `json:"-" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Provider) TableName() string { return "providers" }

// ResponseRate is responded invitations over received invitations.
func (p Provider) ResponseRate() float64 {
	if p.InvitedCount == 0 {
		return 0
	}
	return float64(p.RespondedCount) / float64(p.InvitedCount)
}

// Category rows let matching filter providers by offered trade.
type Category struct {
	ID         snowflake.ID `json:"-" gorm:"primaryKey"`
	ProviderID snowflake.ID `json:"-" gorm:"not null;uniqueIndex:ux_provider_categories,priority:1"`
	Category   string       `json:"category" gorm:"type:text;not null;uniqueIndex:ux_provider_categories,priority:2"`
}

func (Category) TableName() string { return "provider_categories" }

type CreateProfileRequest struct {
	UserID             snowflake.ID
	BusinessName       string
	Description        string
	Categories         []string
	Postcode           string
	ServiceRadiusMiles float64
}

type UpdateProfileRequest struct {
	BusinessName       *string
	Description        *string
	Categories         []string
	Postcode           *string
	ServiceRadiusMiles *float64
}

type Profile struct {
	Provider
	Categories []string `json:"categories"`
}

type Service interface {
	CreateProfile(ctx context.Context, req CreateProfileRequest) (Profile, error)
	UpdateProfile(ctx context.Context, userID snowflake.ID, req UpdateProfileRequest) (Profile, error)
	GetByUserID(ctx context.Context, userID snowflake.ID) (*Profile, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Profile, error)
	ListCategories(ctx context.Context) ([]string, error)
	Activate(ctx context.Context, id snowflake.ID) error
	Suspend(ctx context.Context, id snowflake.ID) error
}

// Repository exposes the storage operations other feature services run
// inside their own transactions.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, provider *Provider, categories []string) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Provider, error)
	FindByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Provider, error)
	FindByStripeAccount(ctx context.Context, db *gorm.DB, accountID string) (*Provider, error)
	FindBySubscription(ctx context.Context, db *gorm.DB, subscriptionID string) (*Provider, error)
	Categories(ctx context.Context, db *gorm.DB, providerID snowflake.ID) ([]string, error)
	DistinctCategories(ctx context.Context, db *gorm.DB) ([]string, error)
	ReplaceCategories(ctx context.Context, db *gorm.DB, providerID snowflake.ID, categories []string) error

	// ListMatchCandidates returns ACTIVE providers offering the category,
	// ranked by average rating then response rate, capped at limit.
	ListMatchCandidates(ctx context.Context, db *gorm.DB, category string, limit int) ([]Provider, error)

	// ListPayoutCandidates returns providers eligible for the payout sweep.
	ListPayoutCandidates(ctx context.Context, db *gorm.DB, minimumBalance int64) ([]Provider, error)

	CreditBalance(ctx context.Context, db *gorm.DB, providerID snowflake.ID, amount int64) error
	DebitBalance(ctx context.Context, db *gorm.DB, providerID snowflake.ID, amount int64) error
	ZeroBalance(ctx context.Context, db *gorm.DB, providerID snowflake.ID) error

	ApplyRating(ctx context.Context, db *gorm.DB, providerID snowflake.ID, sumDelta, countDelta int64) error
	IncrementInvited(ctx context.Context, db *gorm.DB, providerIDs []snowflake.ID) error
	IncrementResponded(ctx context.Context, db *gorm.DB, providerID snowflake.ID) error

	SetStripeAccount(ctx context.Context, db *gorm.DB, providerID snowflake.ID, accountID string) error
	SetPayoutsEnabled(ctx context.Context, db *gorm.DB, providerID snowflake.ID, enabled bool) error
	SetPremium(ctx context.Context, db *gorm.DB, providerID snowflake.ID, status PremiumStatus, customerID, subscriptionID string) error
}

var (
	ErrNotFound            = errors.New("provider_not_found")
	ErrProfileExists       = errors.New("provider_profile_exists")
	ErrInvalidBusinessName = errors.New("invalid_business_name")
	ErrInvalidCategories   = errors.New("invalid_categories")
	ErrInvalidPostcode     = errors.New("invalid_postcode")
	ErrInvalidRadius       = errors.New("invalid_service_radius")
	ErrNotActive           = errors.New("provider_not_active")
	ErrInsufficientBalance = errors.New("insufficient_balance")
)
