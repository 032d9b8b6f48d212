package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/quotehive/quotehive/pkg/db/pagination"
)

type EntryType string

const (
	EntryBookingEarning EntryType = "BOOKING_EARNING"
	EntryPayout         EntryType = "PAYOUT"
	EntryRefundDebit    EntryType = "REFUND_DEBIT"
	EntryAdjustment     EntryType = "ADJUSTMENT"
)

// Entry is an immutable ledger line for a provider balance. Amount is
// signed pence; BalanceAfter is the provider balance once the entry applied.
type Entry struct {
	ID           snowflake.ID  `json:"id" gorm:"primaryKey"`
	ProviderID   snowflake.ID  `json:"provider_id" gorm:"not null;index:ix_ledger_provider,priority:1"`
	EntryType    EntryType     `json:"entry_type" gorm:"type:text;not null"`
	Amount       int64         `json:"amount" gorm:"not null"`
	BalanceAfter int64         `json:"balance_after" gorm:"not null"`
	BookingID    *snowflake.ID `json:"booking_id,omitempty"`
	PayoutID     *snowflake.ID `json:"payout_id,omitempty"`
	Description  string        `json:"description" gorm:"type:text"`
	CreatedAt    time.Time     `json:"created_at" gorm:"not null;index:ix_ledger_provider,priority:2"`
}

func (Entry) TableName() string { return "ledger_entries" }

type AppendRequest struct {
	ProviderID  snowflake.ID
	EntryType   EntryType
	Amount      int64
	BookingID   *snowflake.ID
	PayoutID    *snowflake.ID
	Description string
}

type ListRequest struct {
	ProviderID snowflake.ID
	Pagination pagination.Pagination
}

type Service interface {
	// Append writes an entry inside tx, reading the provider balance after
	// the caller's mutation so BalanceAfter reflects it.
	Append(ctx context.Context, tx *gorm.DB, req AppendRequest) (*Entry, error)
	List(ctx context.Context, req ListRequest) ([]Entry, *pagination.PageInfo, error)
}

var (
	ErrInvalidEntryType = errors.New("invalid_entry_type")
	ErrProviderNotFound = errors.New("provider_not_found")
)
