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

	"github.com/quotehive/quotehive/internal/geo"
	"github.com/quotehive/quotehive/internal/provider/domain"
	pkgdb "github.com/quotehive/quotehive/pkg/db"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Geocoder geo.Geocoder
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	geocoder geo.Geocoder
}

func New(p Params) domain.Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("provider.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		geocoder: p.Geocoder,
	}
}

func (s *service) CreateProfile(ctx context.Context, req domain.CreateProfileRequest) (domain.Profile, error) {
	name := strings.TrimSpace(req.BusinessName)
	if name == "" {
		return domain.Profile{}, domain.ErrInvalidBusinessName
	}
	categories, err := normalizeCategories(req.Categories)
	if err != nil {
		return domain.Profile{}, err
	}
	radius := req.ServiceRadiusMiles
	if radius == 0 {
		radius = 10
	}
	if radius < 1 || radius > 100 {
		return domain.Profile{}, domain.ErrInvalidRadius
	}

	now := time.Now().UTC()
	provider := domain.Provider{
		ID:                 s.genID.Generate(),
		UserID:             req.UserID,
		BusinessName:       name,
		Description:        strings.TrimSpace(req.Description),
		Status:             domain.StatusActive,
		ServiceRadiusMiles: radius,
		PremiumStatus:      domain.PremiumNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if req.Postcode != "" {
		loc, err := s.locate(ctx, req.Postcode)
		if err != nil {
			return domain.Profile{}, err
		}
		provider.Postcode = loc.Postcode
		provider.Latitude = &loc.Latitude
		provider.Longitude = &loc.Longitude
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.Insert(ctx, tx, &provider, categories)
	})
	if err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return domain.Profile{}, domain.ErrProfileExists
		}
		return domain.Profile{}, err
	}

	s.log.Info("provider profile created",
		zap.Int64("provider_id", provider.ID.Int64()),
		zap.Int64("user_id", provider.UserID.Int64()),
		zap.Strings("categories", categories),
	)
	return domain.Profile{Provider: provider, Categories: categories}, nil
}

func (s *service) UpdateProfile(ctx context.Context, userID snowflake.ID, req domain.UpdateProfileRequest) (domain.Profile, error) {
	provider, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return domain.Profile{}, err
	}
	if provider == nil {
		return domain.Profile{}, domain.ErrNotFound
	}

	if req.BusinessName != nil {
		name := strings.TrimSpace(*req.BusinessName)
		if name == "" {
			return domain.Profile{}, domain.ErrInvalidBusinessName
		}
		provider.BusinessName = name
	}
	if req.Description != nil {
		provider.Description = strings.TrimSpace(*req.Description)
	}
	if req.ServiceRadiusMiles != nil {
		if *req.ServiceRadiusMiles < 1 || *req.ServiceRadiusMiles > 100 {
			return domain.Profile{}, domain.ErrInvalidRadius
		}
		provider.ServiceRadiusMiles = *req.ServiceRadiusMiles
	}
	if req.Postcode != nil {
		loc, err := s.locate(ctx, *req.Postcode)
		if err != nil {
			return domain.Profile{}, err
		}
		provider.Postcode = loc.Postcode
		provider.Latitude = &loc.Latitude
		provider.Longitude = &loc.Longitude
	}

	var categories []string
	if req.Categories != nil {
		categories, err = normalizeCategories(req.Categories)
		if err != nil {
			return domain.Profile{}, err
		}
	}

	provider.UpdatedAt = time.Now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(provider).Error; err != nil {
			return err
		}
		if categories != nil {
			return s.repo.ReplaceCategories(ctx, tx, provider.ID, categories)
		}
		return nil
	})
	if err != nil {
		return domain.Profile{}, err
	}
	if categories == nil {
		categories, err = s.repo.Categories(ctx, s.db, provider.ID)
		if err != nil {
			return domain.Profile{}, err
		}
	}
	return domain.Profile{Provider: *provider, Categories: categories}, nil
}

func (s *service) GetByUserID(ctx context.Context, userID snowflake.ID) (*domain.Profile, error) {
	provider, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil || provider == nil {
		return nil, err
	}
	return s.withCategories(ctx, provider)
}

func (s *service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Profile, error) {
	provider, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil || provider == nil {
		return nil, err
	}
	return s.withCategories(ctx, provider)
}

// ListCategories returns the trades currently offered by at least one
// active provider, lowercased and sorted.
func (s *service) ListCategories(ctx context.Context) ([]string, error) {
	return s.repo.DistinctCategories(ctx, s.db)
}

func (s *service) Activate(ctx context.Context, id snowflake.ID) error {
	return s.setStatus(ctx, id, domain.StatusActive)
}

func (s *service) Suspend(ctx context.Context, id snowflake.ID) error {
	return s.setStatus(ctx, id, domain.StatusSuspended)
}

func (s *service) setStatus(ctx context.Context, id snowflake.ID, status domain.Status) error {
	result := s.db.WithContext(ctx).Model(&domain.Provider{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	s.log.Info("provider status changed",
		zap.Int64("provider_id", id.Int64()),
		zap.String("status", string(status)),
	)
	return nil
}

func (s *service) withCategories(ctx context.Context, provider *domain.Provider) (*domain.Profile, error) {
	categories, err := s.repo.Categories(ctx, s.db, provider.ID)
	if err != nil {
		return nil, err
	}
	return &domain.Profile{Provider: *provider, Categories: categories}, nil
}

func (s *service) locate(ctx context.Context, postcode string) (geo.Location, error) {
	if !geo.ValidPostcode(postcode) {
		return geo.Location{}, domain.ErrInvalidPostcode
	}
	loc, err := s.geocoder.Lookup(ctx, postcode)
	if err != nil {
		if errors.Is(err, geo.ErrPostcodeNotFound) {
			return geo.Location{}, domain.ErrInvalidPostcode
		}
		return geo.Location{}, err
	}
	return *loc, nil
}

func normalizeCategories(in []string) ([]string, error) {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, domain.ErrInvalidCategories
	}
	return out, nil
}
