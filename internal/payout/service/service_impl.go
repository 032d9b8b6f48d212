package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	identitydomain "github.com/quotehive/quotehive/internal/identity/domain"
	ledgerdomain "github.com/quotehive/quotehive/internal/ledger/domain"
	paymentdomain "github.com/quotehive/quotehive/internal/payment/domain"
	platformdomain "github.com/quotehive/quotehive/internal/platformconfig/domain"
	"github.com/quotehive/quotehive/internal/payout/domain"
	providerdomain "github.com/quotehive/quotehive/internal/provider/domain"
	"github.com/quotehive/quotehive/internal/tasks"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Gateway      paymentdomain.Gateway
	ProviderRepo providerdomain.Repository
	Ledger       ledgerdomain.Service
	Platform     platformdomain.Service
	Identity     identitydomain.Service
	Enqueuer     *tasks.Enqueuer `optional:"true"`
}

type service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	gateway      paymentdomain.Gateway
	providerRepo providerdomain.Repository
	ledger       ledgerdomain.Service
	platform     platformdomain.Service
	identity     identitydomain.Service
	enqueuer     *tasks.Enqueuer
}

func New(p Params) domain.Service {
	return &service{
		db:           p.DB,
		log:          p.Log.Named("payout.service"),
		genID:        p.GenID,
		gateway:      p.Gateway,
		providerRepo: p.ProviderRepo,
		ledger:       p.Ledger,
		platform:     p.Platform,
		identity:     p.Identity,
		enqueuer:     p.Enqueuer,
	}
}

func (s *service) RunBatch(ctx context.Context) (domain.BatchResult, error) {
	minimum := s.platform.PayoutMinimumPence(ctx)
	candidates, err := s.providerRepo.ListPayoutCandidates(ctx, s.db, minimum)
	if err != nil {
		return domain.BatchResult{}, err
	}

	result := domain.BatchResult{Candidates: len(candidates)}
	for _, provider := range candidates {
		payout, err := s.PayProvider(ctx, provider.ID)
		if err != nil {
			result.Failed++
			s.log.Error("payout failed",
				zap.Int64("provider_id", provider.ID.Int64()),
				zap.Error(err),
			)
			continue
		}
		result.Succeeded++
		result.TotalPaid += payout.Amount
	}

	s.log.Info("payout batch finished",
		zap.Int("candidates", result.Candidates),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int64("total_paid", result.TotalPaid),
	)
	return result, nil
}

func (s *service) PayProvider(ctx context.Context, providerID snowflake.ID) (*domain.Payout, error) {
	provider, err := s.providerRepo.FindByID(ctx, s.db, providerID)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, domain.ErrProviderNotFound
	}
	if provider.Status != providerdomain.StatusActive || !provider.PayoutsEnabled || provider.StripeAccountID == "" {
		return nil, domain.ErrProviderNotEligible
	}
	minimum := s.platform.PayoutMinimumPence(ctx)
	if provider.AvailableBalance < minimum || provider.AvailableBalance <= 0 {
		return nil, domain.ErrBelowMinimum
	}

	// Reuse an open intent from a crashed earlier run; its id keeps the
	// transfer idempotent.
	payout, err := s.openPayout(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if payout == nil {
		now := time.Now().UTC()
		payout = &domain.Payout{
			ID:         s.genID.Generate(),
			ProviderID: providerID,
			Amount:     provider.AvailableBalance,
			Status:     domain.StatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.db.WithContext(ctx).Create(payout).Error; err != nil {
			return nil, err
		}
	}

	transferID, err := s.gateway.CreateTransfer(ctx, paymentdomain.TransferParams{
		Amount:         payout.Amount,
		Currency:       "gbp",
		Destination:    provider.StripeAccountID,
		IdempotencyKey: "payout:" + payout.ID.String(),
		Metadata: map[string]string{
			"payout_id":   payout.ID.String(),
			"provider_id": providerID.String(),
		},
	})
	if err != nil {
		markErr := s.db.WithContext(ctx).Model(&domain.Payout{}).
			Where("id = ?", payout.ID).
			Updates(map[string]any{
				"status":         domain.StatusFailed,
				"failure_reason": err.Error(),
				"updated_at":     time.Now().UTC(),
			}).Error
		if markErr != nil {
			s.log.Error("failed to mark payout failed", zap.Int64("payout_id", payout.ID.Int64()), zap.Error(markErr))
		}
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.Payout{}).
			Where("id = ?", payout.ID).
			Updates(map[string]any{
				"status":             domain.StatusProcessing,
				"stripe_transfer_id": transferID,
				"updated_at":         time.Now().UTC(),
			}).Error; err != nil {
			return err
		}
		if err := s.providerRepo.DebitBalance(ctx, tx, providerID, payout.Amount); err != nil {
			return err
		}
		payoutID := payout.ID
		_, err := s.ledger.Append(ctx, tx, ledgerdomain.AppendRequest{
			ProviderID:  providerID,
			EntryType:   ledgerdomain.EntryPayout,
			Amount:      -payout.Amount,
			PayoutID:    &payoutID,
			Description: "Payout to connected account",
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	payout.Status = domain.StatusProcessing
	payout.StripeTransferID = transferID

	s.notify(ctx, provider, payout)

	s.log.Info("payout processing",
		zap.Int64("payout_id", payout.ID.Int64()),
		zap.Int64("provider_id", providerID.Int64()),
		zap.Int64("amount", payout.Amount),
		zap.String("transfer_id", transferID),
	)
	return payout, nil
}

func (s *service) openPayout(ctx context.Context, providerID snowflake.ID) (*domain.Payout, error) {
	var payout domain.Payout
	err := s.db.WithContext(ctx).
		Where("provider_id = ?", providerID).
		Where("status = ?", domain.StatusPending).
		Order("created_at ASC").
		First(&payout).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

func (s *service) notify(ctx context.Context, provider *providerdomain.Provider, payout *domain.Payout) {
	if s.enqueuer == nil {
		return
	}
	s.enqueuer.NotifyUser(ctx, tasks.NotificationDeliverPayload{
		UserID: provider.UserID.Int64(),
		Kind:   "payout_sent",
		Title:  "Payout on its way",
		Body:   fmt.Sprintf("£%.2f is being transferred to your account.", float64(payout.Amount)/100),
		Data:   map[string]string{"payout_id": payout.ID.String()},
	})
	user, err := s.identity.GetUser(ctx, provider.UserID)
	if err != nil || user == nil {
		return
	}
	s.enqueuer.SendEmail(ctx, tasks.EmailSendPayload{
		To:      user.Email,
		Subject: "Your payout is on its way",
		Body: fmt.Sprintf("Hi %s,\n\nWe've sent £%.2f to your connected account. It usually arrives within 2 business days.\n",
			user.Name, float64(payout.Amount)/100),
	})
}

func (s *service) ListForProvider(ctx context.Context, providerID snowflake.ID) ([]domain.Payout, error) {
	var payouts []domain.Payout
	err := s.db.WithContext(ctx).
		Where("provider_id = ?", providerID).
		Order("created_at DESC").
		Find(&payouts).Error
	if err != nil {
		return nil, err
	}
	return payouts, nil
}

func (s *service) List(ctx context.Context, status domain.Status, limit int) ([]domain.Payout, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var payouts []domain.Payout
	if err := query.Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

func (s *service) MarkPaidByTransfer(ctx context.Context, transferID string) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&domain.Payout{}).
		Where("stripe_transfer_id = ?", transferID).
		Where("status = ?", domain.StatusProcessing).
		Updates(map[string]any{"status": domain.StatusPaid, "paid_at": now, "updated_at": now})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Already settled or unknown; re-deliveries end up here.
		s.log.Info("payout settlement with no open payout", zap.String("transfer_id", transferID))
	}
	return nil
}

func (s *service) MarkFailedByTransfer(ctx context.Context, transferID, reason string) error {
	var payout domain.Payout
	err := s.db.WithContext(ctx).
		First(&payout, "stripe_transfer_id = ? AND status = ?", transferID, domain.StatusProcessing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Info("payout failure with no open payout", zap.String("transfer_id", transferID))
		return nil
	}
	if err != nil {
		return err
	}

	// The transfer bounced after we debited the balance; put the money
	// back so the next sweep retries.
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed := tx.Model(&domain.Payout{}).
			Where("id = ?", payout.ID).
			Where("status = ?", domain.StatusProcessing).
			Updates(map[string]any{
				"status":         domain.StatusFailed,
				"failure_reason": reason,
				"updated_at":     time.Now().UTC(),
			})
		if claimed.Error != nil {
			return claimed.Error
		}
		if claimed.RowsAffected == 0 {
			return nil
		}
		if err := s.providerRepo.CreditBalance(ctx, tx, payout.ProviderID, payout.Amount); err != nil {
			return err
		}
		payoutID := payout.ID
		_, err := s.ledger.Append(ctx, tx, ledgerdomain.AppendRequest{
			ProviderID:  payout.ProviderID,
			EntryType:   ledgerdomain.EntryAdjustment,
			Amount:      payout.Amount,
			PayoutID:    &payoutID,
			Description: "Payout returned: " + reason,
		})
		return err
	})
}
