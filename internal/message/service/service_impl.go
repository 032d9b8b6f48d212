package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	bookingdomain "github.com/quotehive/quotehive/internal/booking/domain"
	"github.com/quotehive/quotehive/internal/message/domain"
	providerdomain "github.com/quotehive/quotehive/internal/provider/domain"
	"github.com/quotehive/quotehive/internal/tasks"
	pkgdb "github.com/quotehive/quotehive/pkg/db"
	"github.com/quotehive/quotehive/pkg/db/pagination"
)

const maxMessageLength = 4000

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	ProviderRepo providerdomain.Repository
	Enqueuer     *tasks.Enqueuer `optional:"true"`
}

type service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	providerRepo providerdomain.Repository
	enqueuer     *tasks.Enqueuer
}

func New(p Params) domain.Service {
	return &service{
		db:           p.DB,
		log:          p.Log.Named("message.service"),
		genID:        p.GenID,
		providerRepo: p.ProviderRepo,
		enqueuer:     p.Enqueuer,
	}
}

func (s *service) GetOrCreateForBooking(ctx context.Context, bookingID, userID snowflake.ID) (*domain.Thread, error) {
	var thread domain.Thread
	err := s.db.WithContext(ctx).First(&thread, "booking_id = ?", bookingID).Error
	if err == nil {
		if !thread.Participant(userID) {
			return nil, domain.ErrNotParticipant
		}
		return &thread, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var booking bookingdomain.Booking
	if err := s.db.WithContext(ctx).First(&booking, "id = ?", bookingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrBookingNotFound
		}
		return nil, err
	}
	provider, err := s.providerRepo.FindByID(ctx, s.db, booking.ProviderID)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, domain.ErrBookingNotFound
	}
	if userID != booking.CustomerID && userID != provider.UserID {
		return nil, domain.ErrNotParticipant
	}

	now := time.Now().UTC()
	thread = domain.Thread{
		ID:             s.genID.Generate(),
		BookingID:      bookingID,
		CustomerID:     booking.CustomerID,
		ProviderUserID: provider.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(&thread).Error; err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			// Lost a concurrent create; use the winner's row.
			if err := s.db.WithContext(ctx).First(&thread, "booking_id = ?", bookingID).Error; err != nil {
				return nil, err
			}
			return &thread, nil
		}
		return nil, err
	}
	return &thread, nil
}

func (s *service) Send(ctx context.Context, threadID, senderID snowflake.ID, body string) (*domain.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" || len(body) > maxMessageLength {
		return nil, domain.ErrEmptyMessage
	}

	var thread domain.Thread
	if err := s.db.WithContext(ctx).First(&thread, "id = ?", threadID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrThreadNotFound
		}
		return nil, err
	}
	if !thread.Participant(senderID) {
		return nil, domain.ErrNotParticipant
	}

	now := time.Now().UTC()
	message := domain.Message{
		ID:        s.genID.Generate(),
		ThreadID:  threadID,
		SenderID:  senderID,
		Body:      body,
		CreatedAt: now,
	}

	unreadColumn := "provider_unread"
	recipient := thread.ProviderUserID
	if senderID == thread.ProviderUserID {
		unreadColumn = "customer_unread"
		recipient = thread.CustomerID
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&message).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Thread{}).
			Where("id = ?", threadID).
			Updates(map[string]any{
				unreadColumn:      gorm.Expr(unreadColumn+" + 1"),
				"last_message_at": now,
				"updated_at":      now,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	if s.enqueuer != nil {
		preview := body
		if len(preview) > 80 {
			preview = preview[:80] + "…"
		}
		s.enqueuer.NotifyUser(ctx, tasks.NotificationDeliverPayload{
			UserID: recipient.Int64(),
			Kind:   "message_received",
			Title:  "New message",
			Body:   preview,
			Data: map[string]string{
				"thread_id":  threadID.String(),
				"booking_id": thread.BookingID.String(),
			},
		})
	}
	return &message, nil
}

func (s *service) ListThreads(ctx context.Context, userID snowflake.ID) ([]domain.Thread, error) {
	var threads []domain.Thread
	err := s.db.WithContext(ctx).
		Where("customer_id = ? OR provider_user_id = ?", userID, userID).
		Order("COALESCE(last_message_at, created_at) DESC").
		Find(&threads).Error
	if err != nil {
		return nil, err
	}
	return threads, nil
}

func (s *service) ListMessages(ctx context.Context, req domain.ListMessagesRequest) ([]domain.Message, *pagination.PageInfo, error) {
	var thread domain.Thread
	if err := s.db.WithContext(ctx).First(&thread, "id = ?", req.ThreadID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, domain.ErrThreadNotFound
		}
		return nil, nil, err
	}
	if !thread.Participant(req.UserID) {
		return nil, nil, domain.ErrNotParticipant
	}

	page := req.Pagination.Normalize()
	query := s.db.WithContext(ctx).
		Where("thread_id = ?", req.ThreadID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(page.PageSize + 1)
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, nil, err
		}
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var messages []domain.Message
	if err := query.Find(&messages).Error; err != nil {
		return nil, nil, err
	}
	messages, info := pagination.BuildCursorPageInfo(messages, page.PageSize, func(m domain.Message) pagination.Cursor {
		return pagination.Cursor{ID: m.ID.Int64(), CreatedAt: m.CreatedAt}
	})

	// Reading the thread clears the reader's counter.
	unreadColumn := "customer_unread"
	if req.UserID == thread.ProviderUserID {
		unreadColumn = "provider_unread"
	}
	if err := s.db.WithContext(ctx).Model(&domain.Thread{}).
		Where("id = ?", req.ThreadID).
		Update(unreadColumn, 0).Error; err != nil {
		s.log.Warn("failed to clear unread counter",
			zap.Int64("thread_id", req.ThreadID.Int64()),
			zap.Error(err),
		)
	}
	return messages, info, nil
}
