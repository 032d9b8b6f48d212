package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/quotehive/quotehive/internal/notification/domain"
	"github.com/quotehive/quotehive/internal/notification/hub"
	"github.com/quotehive/quotehive/pkg/db/pagination"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Hub   *hub.Hub `optional:"true"`
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	hub   *hub.Hub
}

func New(p Params) domain.Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("notification.service"),
		genID: p.GenID,
		hub:   p.Hub,
	}
}

func (s *service) Deliver(ctx context.Context, req domain.DeliverRequest) (*domain.Notification, error) {
	kind := strings.TrimSpace(req.Kind)
	if kind == "" {
		return nil, domain.ErrInvalidKind
	}

	data := datatypes.JSONMap{}
	for k, v := range req.Data {
		data[k] = v
	}
	notification := domain.Notification{
		ID:        s.genID.Generate(),
		UserID:    req.UserID,
		Kind:      kind,
		Title:     req.Title,
		Body:      req.Body,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		return nil, err
	}

	if s.hub != nil {
		s.hub.Publish(ctx, req.UserID.Int64(), notification)
	}

	s.log.Debug("notification delivered",
		zap.Int64("user_id", req.UserID.Int64()),
		zap.String("kind", kind),
	)
	return &notification, nil
}

func (s *service) List(ctx context.Context, req domain.ListRequest) ([]domain.Notification, *pagination.PageInfo, error) {
	page := req.Pagination.Normalize()

	query := s.db.WithContext(ctx).
		Where("user_id = ?", req.UserID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(page.PageSize + 1)
	if req.UnreadOnly {
		query = query.Where("read = ?", false)
	}
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, nil, err
		}
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var notifications []domain.Notification
	if err := query.Find(&notifications).Error; err != nil {
		return nil, nil, err
	}
	notifications, info := pagination.BuildCursorPageInfo(notifications, page.PageSize, func(n domain.Notification) pagination.Cursor {
		return pagination.Cursor{ID: n.ID.Int64(), CreatedAt: n.CreatedAt}
	})
	return notifications, info, nil
}

func (s *service) UnreadCount(ctx context.Context, userID snowflake.ID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&count).Error
	return count, err
}

func (s *service) MarkRead(ctx context.Context, id, userID snowflake.ID) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&domain.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Where("read = ?", false).
		Updates(map[string]any{"read": true, "read_at": now})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Either unknown or already read; distinguish for the caller.
		var count int64
		if err := s.db.WithContext(ctx).Model(&domain.Notification{}).
			Where("id = ? AND user_id = ?", id, userID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrNotFound
		}
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context, userID snowflake.ID) (int64, error) {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&domain.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Updates(map[string]any{"read": true, "read_at": now})
	return result.RowsAffected, result.Error
}

func (s *service) Subscribe(ctx context.Context, userID snowflake.ID) (<-chan domain.Notification, error) {
	if s.hub == nil {
		// No pub/sub backend wired; the caller falls back to polling.
		ch := make(chan domain.Notification)
		close(ch)
		return ch, nil
	}
	raw, err := s.hub.Subscribe(ctx, userID.Int64())
	if err != nil {
		return nil, err
	}

	out := make(chan domain.Notification, 16)
	go func() {
		defer close(out)
		for payload := range raw {
			var notification domain.Notification
			if err := json.Unmarshal(payload, &notification); err != nil {
				s.log.Warn("dropping malformed live notification", zap.Error(err))
				continue
			}
			select {
			case out <- notification:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
