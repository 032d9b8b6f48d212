package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"

	"github.com/quotehive/quotehive/pkg/db/pagination"
)

// Notification is one inbox row. Rows are never deleted; read
// acknowledgement is the only mutation.
type Notification struct {
	ID     snowflake.ID      `json:"id" gorm:"primaryKey"`
	UserID snowflake.ID      `json:"user_id" gorm:"not null;index:ix_notifications_user,priority:1"`
	Kind   string            `json:"kind" gorm:"type:text;not null"`
	Title  string            `json:"title" gorm:"type:text;not null"`
	Body   string            `json:"body" gorm:"type:text"`
	Data   datatypes.JSONMap `json:"data" gorm:"type:jsonb"`

	Read      bool       `json:"read" gorm:"not null;default:false"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at" gorm:"not null;index:ix_notifications_user,priority:2"`
}

func (Notification) TableName() string { return "notifications" }

type DeliverRequest struct {
	UserID snowflake.ID
	Kind   string
	Title  string
	Body   string
	Data   map[string]string
}

type ListRequest struct {
	UserID     snowflake.ID
	UnreadOnly bool
	Pagination pagination.Pagination
}

type Service interface {
	// Deliver persists the inbox row and publishes it to live
	// subscribers. Called from the background worker.
	Deliver(ctx context.Context, req DeliverRequest) (*Notification, error)

	List(ctx context.Context, req ListRequest) ([]Notification, *pagination.PageInfo, error)
	UnreadCount(ctx context.Context, userID snowflake.ID) (int64, error)
	MarkRead(ctx context.Context, id, userID snowflake.ID) error
	MarkAllRead(ctx context.Context, userID snowflake.ID) (int64, error)

	// Subscribe streams live notifications for a user until ctx ends.
	Subscribe(ctx context.Context, userID snowflake.ID) (<-chan Notification, error)
}

var (
	ErrNotFound    = errors.New("notification_not_found")
	ErrInvalidKind = errors.New("invalid_notification_kind")
)
