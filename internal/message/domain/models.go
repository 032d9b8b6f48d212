package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/quotehive/quotehive/pkg/db/pagination"
)

// Thread is the single conversation attached to one booking, enforced by
// a unique index. Unread counters are tracked per side.
type Thread struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	BookingID      snowflake.ID `json:"booking_id" gorm:"not null;uniqueIndex:ux_threads_booking"`
	CustomerID     snowflake.ID `json:"customer_id" gorm:"not null;index"`
	ProviderUserID snowflake.ID `json:"provider_user_id" gorm:"not null;index"`

	CustomerUnread int64 `json:"customer_unread" gorm:"not null;default:0"`
	ProviderUnread int64 `json:"provider_unread" gorm:"not null;default:0"`

	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time  `json:"updated_at" gorm:"not null"`
}

func (Thread) TableName() string { return "message_threads" }

// Participant reports whether the user belongs to the thread.
func (t Thread) Participant(userID snowflake.ID) bool {
	return t.CustomerID == userID || t.ProviderUserID == userID
}

type Message struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	ThreadID  snowflake.ID `json:"thread_id" gorm:"not null;index:ix_messages_thread,priority:1"`
	SenderID  snowflake.ID `json:"sender_id" gorm:"not null"`
	Body      string       `json:"body" gorm:"type:text;not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null;index:ix_messages_thread,priority:2"`
}

func (Message) TableName() string { return "messages" }

type ListMessagesRequest struct {
	ThreadID   snowflake.ID
	UserID     snowflake.ID
	Pagination pagination.Pagination
}

type Service interface {
	// GetOrCreateForBooking returns the booking's thread, creating it on
	// first use. Only the booking's participants may open it.
	GetOrCreateForBooking(ctx context.Context, bookingID, userID snowflake.ID) (*Thread, error)

	Send(ctx context.Context, threadID, senderID snowflake.ID, body string) (*Message, error)
	ListThreads(ctx context.Context, userID snowflake.ID) ([]Thread, error)

	// ListMessages returns a page and clears the reader's unread counter.
	ListMessages(ctx context.Context, req ListMessagesRequest) ([]Message, *pagination.PageInfo, error)
}

var (
	ErrBookingNotFound = errors.New("booking_not_found")
	ErrThreadNotFound  = errors.New("thread_not_found")
	ErrNotParticipant  = errors.New("not_thread_participant")
	ErrEmptyMessage    = errors.New("empty_message")
)
