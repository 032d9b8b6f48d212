package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	platformdomain "github.com/quotehive/quotehive/internal/platformconfig/domain"
	providerdomain "github.com/quotehive/quotehive/internal/provider/domain"
	"github.com/quotehive/quotehive/internal/quote/domain"
	requestdomain "github.com/quotehive/quotehive/internal/quoterequest/domain"
	"github.com/quotehive/quotehive/internal/tasks"
	pkgdb "github.com/quotehive/quotehive/pkg/db"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Platform     platformdomain.Service
	ProviderRepo providerdomain.Repository
	Enqueuer     *tasks.Enqueuer `optional:"true"`
}

type service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	platform     platformdomain.Service
	providerRepo providerdomain.Repository
	enqueuer     *tasks.Enqueuer
}

func New(p Params) domain.Service {
	return &service{
		db:           p.DB,
		log:          p.Log.Named("quote.service"),
		genID:        p.GenID,
		platform:     p.Platform,
		providerRepo: p.ProviderRepo,
		enqueuer:     p.Enqueuer,
	}
}

func (s *service) Submit(ctx context.Context, req domain.SubmitRequest) (*domain.Quote, error) {
	if req.Price < domain.MinPrice {
		return nil, domain.ErrPriceTooLow
	}
	message := strings.TrimSpace(req.Message)
	if len(message) < domain.MinMessageLength {
		return nil, domain.ErrMessageTooShort
	}

	provider, err := s.providerRepo.FindByID(ctx, s.db, req.ProviderID)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, domain.ErrNotInvited
	}
	if provider.Status != providerdomain.StatusActive {
		return nil, domain.ErrProviderNotActive
	}

	var request requestdomain.QuoteRequest
	if err := s.db.WithContext(ctx).First(&request, "id = ?", req.RequestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRequestNotFound
		}
		return nil, err
	}
	if !request.Open() || time.Now().UTC().After(request.ExpiresAt) {
		return nil, domain.ErrRequestNotOpen
	}

	maxQuotes := s.platform.MaxQuotesPerRequest(ctx)
	expiryHours := s.platform.QuoteExpiryHours(ctx)

	now := time.Now().UTC()
	expiresAt := now.Add(time.Duration(expiryHours) * time.Hour)
	if req.ValidUntil != nil {
		if !req.ValidUntil.After(now) {
			return nil, domain.ErrInvalidValidUntil
		}
		// A provider may shorten the window, never extend past the cap.
		if req.ValidUntil.Before(expiresAt) {
			expiresAt = req.ValidUntil.UTC()
		}
	}

	quote := domain.Quote{
		ID:              s.genID.Generate(),
		RequestID:       req.RequestID,
		ProviderID:      req.ProviderID,
		Price:           req.Price,
		Message:         message,
		DurationMinutes: domain.ParseDuration(req.Duration),
		AvailableDate:   req.AvailableDate,
		Status:          domain.StatusSent,
		ExpiresAt:       expiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invitation := tx.Model(&requestdomain.Invitation{}).
			Where("request_id = ? AND provider_id = ?", req.RequestID, req.ProviderID).
			Where("status IN ?", []requestdomain.InvitationStatus{
				requestdomain.InvitationInvited,
				requestdomain.InvitationViewed,
			}).
			Updates(map[string]any{"status": requestdomain.InvitationQuoted, "updated_at": now})
		if invitation.Error != nil {
			return invitation.Error
		}
		if invitation.RowsAffected == 0 {
			return domain.ErrNotInvited
		}

		// Claim a quote slot; the guard in the WHERE clause makes the
		// cap safe under concurrent submissions.
		slot := tx.Model(&requestdomain.QuoteRequest{}).
			Where("id = ?", req.RequestID).
			Where("quote_count < ?", maxQuotes).
			Updates(map[string]any{
				"quote_count": gorm.Expr("quote_count + 1"),
				"status":      requestdomain.StatusQuotesReceived,
				"updated_at":  now,
			})
		if slot.Error != nil {
			return slot.Error
		}
		if slot.RowsAffected == 0 {
			return domain.ErrQuoteLimit
		}

		if err := tx.Create(&quote).Error; err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return domain.ErrAlreadyQuoted
			}
			return err
		}

		return s.providerRepo.IncrementResponded(ctx, tx, req.ProviderID)
	})
	if err != nil {
		return nil, err
	}

	if s.enqueuer != nil {
		s.enqueuer.NotifyUser(ctx, tasks.NotificationDeliverPayload{
			UserID: request.CustomerID.Int64(),
			Kind:   "quote_received",
			Title:  "New quote for " + request.Title,
			Body:   fmt.Sprintf("%s quoted £%.2f.", provider.BusinessName, float64(quote.Price)/100),
			Data: map[string]string{
				"request_id": request.ID.String(),
				"quote_id":   quote.ID.String(),
			},
		})
	}

	s.log.Info("quote submitted",
		zap.Int64("quote_id", quote.ID.Int64()),
		zap.Int64("request_id", req.RequestID.Int64()),
		zap.Int64("provider_id", req.ProviderID.Int64()),
		zap.Int64("price", quote.Price),
	)
	return &quote, nil
}

func (s *service) Get(ctx context.Context, id snowflake.ID) (*domain.Quote, error) {
	var quote domain.Quote
	err := s.db.WithContext(ctx).First(&quote, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &quote, nil
}

func (s *service) ListForRequest(ctx context.Context, requestID snowflake.ID) ([]domain.Quote, error) {
	var quotes []domain.Quote
	err := s.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("price ASC").
		Find(&quotes).Error
	if err != nil {
		return nil, err
	}
	return quotes, nil
}

func (s *service) ListForProvider(ctx context.Context, providerID snowflake.ID) ([]domain.Quote, error) {
	var quotes []domain.Quote
	err := s.db.WithContext(ctx).
		Where("provider_id = ?", providerID).
		Order("created_at DESC").
		Find(&quotes).Error
	if err != nil {
		return nil, err
	}
	return quotes, nil
}

func (s *service) MarkViewed(ctx context.Context, id, customerID snowflake.ID) error {
	quote, request, err := s.getWithRequest(ctx, id)
	if err != nil {
		return err
	}
	if request.CustomerID != customerID {
		return domain.ErrNotOwner
	}
	if quote.Status != domain.StatusSent {
		return nil
	}
	return s.db.WithContext(ctx).Model(&domain.Quote{}).
		Where("id = ? AND status = ?", id, domain.StatusSent).
		Updates(map[string]any{"status": domain.StatusViewed, "updated_at": time.Now().UTC()}).Error
}

func (s *service) Decline(ctx context.Context, id, customerID snowflake.ID) error {
	quote, request, err := s.getWithRequest(ctx, id)
	if err != nil {
		return err
	}
	if request.CustomerID != customerID {
		return domain.ErrNotOwner
	}
	if !quote.Pending() {
		return domain.ErrNotPending
	}
	result := s.db.WithContext(ctx).Model(&domain.Quote{}).
		Where("id = ?", id).
		Where("status IN ?", []domain.Status{domain.StatusSent, domain.StatusViewed}).
		Updates(map[string]any{"status": domain.StatusDeclined, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotPending
	}
	return nil
}

func (s *service) getWithRequest(ctx context.Context, id snowflake.ID) (*domain.Quote, *requestdomain.QuoteRequest, error) {
	quote, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if quote == nil {
		return nil, nil, domain.ErrNotFound
	}
	var request requestdomain.QuoteRequest
	if err := s.db.WithContext(ctx).First(&request, "id = ?", quote.RequestID).Error; err != nil {
		return nil, nil, err
	}
	return quote, &request, nil
}

func (s *service) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&domain.Quote{}).
		Where("status IN ?", []domain.Status{domain.StatusSent, domain.StatusViewed}).
		Where("expires_at < ?", now).
		Updates(map[string]any{"status": domain.StatusExpired, "updated_at": now})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
