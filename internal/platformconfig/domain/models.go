package domain

import (
	"context"
	"errors"
	"time"
)

// Setting is a runtime-tunable platform value.
type Setting struct {
	Key       string    `json:"key" gorm:"primaryKey;type:text"`
	Value     string    `json:"value" gorm:"type:text;not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Setting) TableName() string { return "platform_settings" }

const (
	KeyPlatformFeeRate     = "platform_fee_rate"
	KeyQuoteExpiryHours    = "quote_expiry_hours"
	KeyMaxQuotesPerRequest = "max_quotes_per_request"
	KeyPayoutMinimumPence  = "payout_minimum_pence"
)

// Defaults applied when a key has never been written.
var Defaults = map[string]string{
	KeyPlatformFeeRate:     "0.18",
	KeyQuoteExpiryHours:    "72",
	KeyMaxQuotesPerRequest: "5",
	KeyPayoutMinimumPence:  "1000",
}

type Service interface {
	FeeRate(ctx context.Context) float64
	QuoteExpiryHours(ctx context.Context) int
	MaxQuotesPerRequest(ctx context.Context) int
	PayoutMinimumPence(ctx context.Context) int64

	List(ctx context.Context) ([]Setting, error)
	Set(ctx context.Context, key, value string) (Setting, error)
}

var (
	ErrUnknownKey   = errors.New("unknown_setting_key")
	ErrInvalidValue = errors.New("invalid_setting_value")
)
