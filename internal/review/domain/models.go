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
	StatusPublished Status = "PUBLISHED"
	StatusHidden    Status = "HIDDEN"
)

// Review is a customer's post-completion rating of a provider. One per
// booking, enforced by a unique index.
type Review struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	BookingID  snowflake.ID `json:"booking_id" gorm:"not null;uniqueIndex:ux_reviews_booking"`
	ProviderID snowflake.ID `json:"provider_id" gorm:"not null;index"`
	CustomerID snowflake.ID `json:"customer_id" gorm:"not null;index"`

	OverallRating     int  `json:"overall_rating" gorm:"not null"`
	QualityRating     int  `json:"quality_rating" gorm:"not null"`
	PunctualityRating int  `json:"punctuality_rating" gorm:"not null"`
	WouldRecommend    bool `json:"would_recommend" gorm:"not null"`

	Comment string `json:"comment" gorm:"type:text"`
	Status  Status `json:"status" gorm:"type:text;not null;index"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Review) TableName() string { return "reviews" }

type CreateRequest struct {
	CustomerID        snowflake.ID
	BookingID         snowflake.ID
	OverallRating     int
	QualityRating     int
	PunctualityRating int
	// WouldRecommend defaults to OverallRating >= 4 when nil.
	WouldRecommend *bool
	Comment        string
}

type ListRequest struct {
	ProviderID snowflake.ID
	Pagination pagination.Pagination
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Review, error)
	Get(ctx context.Context, id snowflake.ID) (*Review, error)
	ListForProvider(ctx context.Context, req ListRequest) ([]Review, *pagination.PageInfo, error)

	// Hide and Publish are the moderation actions; both adjust the
	// provider's rating aggregate incrementally.
	Hide(ctx context.Context, id snowflake.ID) error
	Publish(ctx context.Context, id snowflake.ID) error
}

var (
	ErrNotFound            = errors.New("review_not_found")
	ErrBookingNotFound     = errors.New("booking_not_found")
	ErrBookingNotCompleted = errors.New("booking_not_completed")
	ErrNotOwner            = errors.New("review_not_owner")
	ErrAlreadyReviewed     = errors.New("booking_already_reviewed")
	ErrInvalidRating       = errors.New("invalid_rating")
)
