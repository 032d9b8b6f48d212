package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusPaid       Status = "PAID"
	StatusFailed     Status = "FAILED"
)

// Payout is a disbursement intent: PENDING before the transfer call,
// PROCESSING once the processor accepted it, PAID when settlement
// confirms. A FAILED payout leaves the balance untouched so the next
// sweep retries it.
type Payout struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	ProviderID snowflake.ID `json:"provider_id" gorm:"not null;index"`
	Amount     int64        `json:"amount" gorm:"not null"`

	Status           Status `json:"status" gorm:"type:text;not null;index"`
	StripeTransferID string `json:"-" gorm:"type:text;index"`
	FailureReason    string `json:"failure_reason,omitempty" gorm:"type:text"`

	PaidAt    *time.Time `json:"paid_at,omitempty"`
	CreatedAt time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"not null"`
}

func (Payout) TableName() string { return "payouts" }

// BatchResult reports one sweep run.
type BatchResult struct {
	Candidates int   `json:"candidates"`
	Succeeded  int   `json:"succeeded"`
	Failed     int   `json:"failed"`
	TotalPaid  int64 `json:"total_paid"`
}

type Service interface {
	// RunBatch sweeps every eligible provider. A single provider's
	// failure never aborts the batch.
	RunBatch(ctx context.Context) (BatchResult, error)

	// PayProvider runs the payout flow for one provider, used by the
	// batch and by admin-triggered payouts.
	PayProvider(ctx context.Context, providerID snowflake.ID) (*Payout, error)

	ListForProvider(ctx context.Context, providerID snowflake.ID) ([]Payout, error)
	List(ctx context.Context, status Status, limit int) ([]Payout, error)

	MarkPaidByTransfer(ctx context.Context, transferID string) error
	MarkFailedByTransfer(ctx context.Context, transferID, reason string) error
}

var (
	ErrProviderNotFound    = errors.New("provider_not_found")
	ErrProviderNotEligible = errors.New("provider_not_eligible")
	ErrBelowMinimum        = errors.New("balance_below_payout_minimum")
	ErrPayoutNotFound      = errors.New("payout_not_found")
)
