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
	providerdomain "github.com/quotehive/quotehive/internal/provider/domain"
	"github.com/quotehive/quotehive/internal/review/domain"
	"github.com/quotehive/quotehive/internal/tasks"
	pkgdb "github.com/quotehive/quotehive/pkg/db"
	"github.com/quotehive/quotehive/pkg/db/pagination"
)

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
		log:          p.Log.Named("review.service"),
		genID:        p.GenID,
		providerRepo: p.ProviderRepo,
		enqueuer:     p.Enqueuer,
	}
}

func validRating(r int) bool { return r >= 1 && r <= 5 }

func (s *service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Review, error) {
	if !validRating(req.OverallRating) || !validRating(req.QualityRating) || !validRating(req.PunctualityRating) {
		return nil, domain.ErrInvalidRating
	}

	var booking bookingdomain.Booking
	if err := s.db.WithContext(ctx).First(&booking, "id = ?", req.BookingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrBookingNotFound
		}
		return nil, err
	}
	if booking.CustomerID != req.CustomerID {
		return nil, domain.ErrNotOwner
	}
	if booking.Status != bookingdomain.StatusCompleted {
		return nil, domain.ErrBookingNotCompleted
	}

	recommend := req.OverallRating >= 4
	if req.WouldRecommend != nil {
		recommend = *req.WouldRecommend
	}

	now := time.Now().UTC()
	review := domain.Review{
		ID:                s.genID.Generate(),
		BookingID:         req.BookingID,
		ProviderID:        booking.ProviderID,
		CustomerID:        req.CustomerID,
		OverallRating:     req.OverallRating,
		QualityRating:     req.QualityRating,
		PunctualityRating: req.PunctualityRating,
		WouldRecommend:    recommend,
		Comment:           strings.TrimSpace(req.Comment),
		Status:            domain.StatusPublished,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&review).Error; err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return domain.ErrAlreadyReviewed
			}
			return err
		}
		return s.providerRepo.ApplyRating(ctx, tx, booking.ProviderID, int64(req.OverallRating), 1)
	})
	if err != nil {
		return nil, err
	}

	if s.enqueuer != nil {
		provider, err := s.providerRepo.FindByID(ctx, s.db, booking.ProviderID)
		if err == nil && provider != nil {
			s.enqueuer.NotifyUser(ctx, tasks.NotificationDeliverPayload{
				UserID: provider.UserID.Int64(),
				Kind:   "review_received",
				Title:  "You received a new review",
				Body:   "A customer left you a " + strings.Repeat("★", req.OverallRating) + " review.",
				Data:   map[string]string{"review_id": review.ID.String()},
			})
		}
	}

	s.log.Info("review created",
		zap.Int64("review_id", review.ID.Int64()),
		zap.Int64("provider_id", booking.ProviderID.Int64()),
		zap.Int("overall_rating", req.OverallRating),
	)
	return &review, nil
}

func (s *service) Get(ctx context.Context, id snowflake.ID) (*domain.Review, error) {
	var review domain.Review
	err := s.db.WithContext(ctx).First(&review, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &review, nil
}

func (s *service) ListForProvider(ctx context.Context, req domain.ListRequest) ([]domain.Review, *pagination.PageInfo, error) {
	page := req.Pagination.Normalize()

	query := s.db.WithContext(ctx).
		Where("provider_id = ?", req.ProviderID).
		Where("status = ?", domain.StatusPublished).
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

	var reviews []domain.Review
	if err := query.Find(&reviews).Error; err != nil {
		return nil, nil, err
	}
	reviews, info := pagination.BuildCursorPageInfo(reviews, page.PageSize, func(r domain.Review) pagination.Cursor {
		return pagination.Cursor{ID: r.ID.Int64(), CreatedAt: r.CreatedAt}
	})
	return reviews, info, nil
}

func (s *service) Hide(ctx context.Context, id snowflake.ID) error {
	return s.moderate(ctx, id, domain.StatusPublished, domain.StatusHidden, -1)
}

func (s *service) Publish(ctx context.Context, id snowflake.ID) error {
	return s.moderate(ctx, id, domain.StatusHidden, domain.StatusPublished, 1)
}

// moderate flips a review's visibility and applies the signed rating
// delta to the provider aggregate in the same transaction.
func (s *service) moderate(ctx context.Context, id snowflake.ID, from, to domain.Status, sign int64) error {
	review, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if review == nil {
		return domain.ErrNotFound
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.Review{}).
			Where("id = ?", id).
			Where("status = ?", from).
			Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil // already in target state
		}
		return s.providerRepo.ApplyRating(ctx, tx, review.ProviderID, sign*int64(review.OverallRating), sign)
	})
}
