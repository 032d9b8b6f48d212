package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/quotehive/quotehive/internal/platformconfig/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func New(p Params) domain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("platformconfig.service"),
	}
}

func (s *Service) FeeRate(ctx context.Context) float64 {
	raw := s.get(ctx, domain.KeyPlatformFeeRate)
	rate, err := strconv.ParseFloat(raw, 64)
	if err != nil || rate < 0 || rate >= 1 {
		return 0.18
	}
	return rate
}

func (s *Service) QuoteExpiryHours(ctx context.Context) int {
	raw := s.get(ctx, domain.KeyQuoteExpiryHours)
	hours, err := strconv.Atoi(raw)
	if err != nil || hours <= 0 {
		return 72
	}
	return hours
}

func (s *Service) MaxQuotesPerRequest(ctx context.Context) int {
	raw := s.get(ctx, domain.KeyMaxQuotesPerRequest)
	max, err := strconv.Atoi(raw)
	if err != nil || max <= 0 {
		return 5
	}
	return max
}

func (s *Service) PayoutMinimumPence(ctx context.Context) int64 {
	raw := s.get(ctx, domain.KeyPayoutMinimumPence)
	min, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || min < 0 {
		return 1000
	}
	return min
}

func (s *Service) List(ctx context.Context) ([]domain.Setting, error) {
	var rows []domain.Setting
	if err := s.db.WithContext(ctx).Order("key asc").Find(&rows).Error; err != nil {
		return nil, err
	}

	present := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		present[row.Key] = struct{}{}
	}
	for key, value := range domain.Defaults {
		if _, ok := present[key]; !ok {
			rows = append(rows, domain.Setting{Key: key, Value: value})
		}
	}
	return rows, nil
}

func (s *Service) Set(ctx context.Context, key, value string) (domain.Setting, error) {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if _, ok := domain.Defaults[key]; !ok {
		return domain.Setting{}, domain.ErrUnknownKey
	}
	if err := validateValue(key, value); err != nil {
		return domain.Setting{}, err
	}

	setting := domain.Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error
	if err != nil {
		return domain.Setting{}, err
	}

	s.log.Info("platform setting updated", zap.String("key", key), zap.String("value", value))
	return setting, nil
}

func validateValue(key, value string) error {
	switch key {
	case domain.KeyPlatformFeeRate:
		rate, err := strconv.ParseFloat(value, 64)
		if err != nil || rate < 0 || rate >= 1 {
			return domain.ErrInvalidValue
		}
	case domain.KeyQuoteExpiryHours, domain.KeyMaxQuotesPerRequest:
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return domain.ErrInvalidValue
		}
	case domain.KeyPayoutMinimumPence:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n < 0 {
			return domain.ErrInvalidValue
		}
	}
	return nil
}

func (s *Service) get(ctx context.Context, key string) string {
	var setting domain.Setting
	err := s.db.WithContext(ctx).First(&setting, "key = ?", key).Error
	if err != nil {
		return domain.Defaults[key]
	}
	return setting.Value
}
