package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/quotehive/quotehive/internal/provider/domain"
)

type repository struct {
	genID *snowflake.Node
}

func New(genID *snowflake.Node) domain.Repository {
	return &repository{genID: genID}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, provider *domain.Provider, categories []string) error {
	if err := db.WithContext(ctx).Create(provider).Error; err != nil {
		return err
	}
	return r.insertCategories(ctx, db, provider.ID, categories)
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Provider, error) {
	var provider domain.Provider
	err := db.WithContext(ctx).First(&provider, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &provider, nil
}

func (r *repository) FindByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.Provider, error) {
	return r.findOne(ctx, db, "user_id = ?", userID)
}

func (r *repository) FindByStripeAccount(ctx context.Context, db *gorm.DB, accountID string) (*domain.Provider, error) {
	return r.findOne(ctx, db, "stripe_account_id = ?", accountID)
}

func (r *repository) FindBySubscription(ctx context.Context, db *gorm.DB, subscriptionID string) (*domain.Provider, error) {
	return r.findOne(ctx, db, "stripe_subscription_id = ?", subscriptionID)
}

func (r *repository) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Provider, error) {
	var provider domain.Provider
	err := db.WithContext(ctx).First(&provider, append([]any{query}, args...)...).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &provider, nil
}

func (r *repository) Categories(ctx context.Context, db *gorm.DB, providerID snowflake.ID) ([]string, error) {
	var categories []string
	err := db.WithContext(ctx).
		Model(&domain.Category{}).
		Where("provider_id = ?", providerID).
		Order("category ASC").
		Pluck("category", &categories).Error
	if err != nil {
		return nil, err
	}
	return categories, nil
}

func (r *repository) DistinctCategories(ctx context.Context, db *gorm.DB) ([]string, error) {
	var categories []string
	err := db.WithContext(ctx).
		Model(&domain.Category{}).
		Distinct().
		Joins("JOIN providers ON providers.id = provider_categories.provider_id").
		Where("providers.status = ?", domain.StatusActive).
		Order("provider_categories.category ASC").
		Pluck("provider_categories.category", &categories).Error
	if err != nil {
		return nil, err
	}
	return categories, nil
}

func (r *repository) ReplaceCategories(ctx context.Context, db *gorm.DB, providerID snowflake.ID, categories []string) error {
	if err := db.WithContext(ctx).
		Where("provider_id = ?", providerID).
		Delete(&domain.Category{}).Error; err != nil {
		return err
	}
	return r.insertCategories(ctx, db, providerID, categories)
}

func (r *repository) insertCategories(ctx context.Context, db *gorm.DB, providerID snowflake.ID, categories []string) error {
	for _, category := range categories {
		row := domain.Category{
			ID:         r.genID.Generate(),
			ProviderID: providerID,
			Category:   category,
		}
		if err := db.WithContext(ctx).Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) ListMatchCandidates(ctx context.Context, db *gorm.DB, category string, limit int) ([]domain.Provider, error) {
	var providers []domain.Provider
	err := db.WithContext(ctx).
		Joins("JOIN provider_categories pc ON pc.provider_id = providers.id").
		Where("pc.category = ?", category).
		Where("providers.status = ?", domain.StatusActive).
		Order("providers.average_rating DESC").
		Order("CASE WHEN providers.invited_count = 0 THEN 0 ELSE CAST(providers.responded_count AS REAL) / providers.invited_count END DESC").
		Order("providers.id ASC").
		Limit(limit).
		Find(&providers).Error
	if err != nil {
		return nil, err
	}
	return providers, nil
}

func (r *repository) ListPayoutCandidates(ctx context.Context, db *gorm.DB, minimumBalance int64) ([]domain.Provider, error) {
	var providers []domain.Provider
	err := db.WithContext(ctx).
		Where("status = ?", domain.StatusActive).
		Where("payouts_enabled = ?", true).
		Where("stripe_account_id <> ''").
		Where("available_balance >= ?", minimumBalance).
		Order("id ASC").
		Find(&providers).Error
	if err != nil {
		return nil, err
	}
	return providers, nil
}

func (r *repository) CreditBalance(ctx context.Context, db *gorm.DB, providerID snowflake.ID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("credit amount must be non-negative, got %d", amount)
	}
	return checkAffected(db.WithContext(ctx).Model(&domain.Provider{}).
		Where("id = ?", providerID).
		Update("available_balance", gorm.Expr("available_balance + ?", amount)))
}

func (r *repository) DebitBalance(ctx context.Context, db *gorm.DB, providerID snowflake.ID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("debit amount must be non-negative, got %d", amount)
	}
	result := db.WithContext(ctx).Model(&domain.Provider{}).
		Where("id = ?", providerID).
		Where("available_balance >= ?", amount).
		Update("available_balance", gorm.Expr("available_balance - ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrInsufficientBalance
	}
	return nil
}

func (r *repository) ZeroBalance(ctx context.Context, db *gorm.DB, providerID snowflake.ID) error {
	return checkAffected(db.WithContext(ctx).Model(&domain.Provider{}).
		Where("id = ?", providerID).
		Update("available_balance", 0))
}

func (r *repository) ApplyRating(ctx context.Context, db *gorm.DB, providerID snowflake.ID, sumDelta, countDelta int64) error {
	return checkAffected(db.WithContext(ctx).Model(&domain.Provider{}).
		Where("id = ?", providerID).
		Updates(map[string]any{
			"rating_sum":   gorm.Expr("rating_sum + ?", sumDelta),
			"rating_count": gorm.Expr("rating_count + ?", countDelta),
			"average_rating": gorm.Expr(
				"CASE WHEN rating_count + ? = 0 THEN 0 ELSE CAST(rating_sum + ? AS REAL) / (rating_count + ?) END",
				countDelta, sumDelta, countDelta,
			),
		}))
}

func (r *repository) IncrementInvited(ctx context.Context, db *gorm.DB, providerIDs []snowflake.ID) error {
	if len(providerIDs) == 0 {
		return nil
	}
	return db.WithContext(ctx).Model(&domain.Provider{}).
		Where("id IN ?", providerIDs).
		Update("invited_count", gorm.Expr("invited_count + 1")).Error
}

func (r *repository) IncrementResponded(ctx context.Context, db *gorm.DB, providerID snowflake.ID) error {
	return checkAffected(db.WithContext(ctx).Model(&domain.Provider{}).
		Where("id = ?", providerID).
		Update("responded_count", gorm.Expr("responded_count + 1")))
}

func (r *repository) SetStripeAccount(ctx context.Context, db *gorm.DB, providerID snowflake.ID, accountID string) error {
	return checkAffected(db.WithContext(ctx).Model(&domain.Provider{}).
		Where("id = ?", providerID).
		Update("stripe_account_id", accountID))
}

func (r *repository) SetPayoutsEnabled(ctx context.Context, db *gorm.DB, providerID snowflake.ID, enabled bool) error {
	return checkAffected(db.WithContext(ctx).Model(&domain.Provider{}).
		Where("id = ?", providerID).
		Update("payouts_enabled", enabled))
}

func (r *repository) SetPremium(ctx context.Context, db *gorm.DB, providerID snowflake.ID, status domain.PremiumStatus, customerID, subscriptionID string) error {
	return checkAffected(db.WithContext(ctx).Model(&domain.Provider{}).
		Where("id = ?", providerID).
		Updates(map[string]any{
			"premium_status":         status,
			"stripe_customer_id":     customerID,
			"stripe_subscription_id": subscriptionID,
		}))
}

func checkAffected(result *gorm.DB) error {
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
