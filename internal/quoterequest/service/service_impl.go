package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quotehive/quotehive/internal/geo"
	platformdomain "github.com/quotehive/quotehive/internal/platformconfig/domain"
	providerdomain "github.com/quotehive/quotehive/internal/provider/domain"
	"github.com/quotehive/quotehive/internal/quoterequest/domain"
	"github.com/quotehive/quotehive/internal/tasks"
	"github.com/quotehive/quotehive/pkg/db/pagination"
)

const (
	// minDescriptionLength keeps job postings actionable for providers.
	minDescriptionLength = 20

	// matchCandidateLimit caps the ranked pool pulled per category before
	// the distance filter runs.
	matchCandidateLimit = 50

	// maxInvitations caps how many providers one request reaches.
	maxInvitations = 20
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Geocoder     geo.Geocoder
	Platform     platformdomain.Service
	ProviderRepo providerdomain.Repository
	Enqueuer     *tasks.Enqueuer `optional:"true"`
}

type service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	geocoder     geo.Geocoder
	platform     platformdomain.Service
	providerRepo providerdomain.Repository
	enqueuer     *tasks.Enqueuer
}

func New(p Params) domain.Service {
	return &service{
		db:           p.DB,
		log:          p.Log.Named("quoterequest.service"),
		genID:        p.GenID,
		geocoder:     p.Geocoder,
		platform:     p.Platform,
		providerRepo: p.ProviderRepo,
		enqueuer:     p.Enqueuer,
	}
}

func (s *service) Create(ctx context.Context, req domain.CreateRequest) (*domain.QuoteRequest, error) {
	category := strings.ToLower(strings.TrimSpace(req.Category))
	if category == "" {
		return nil, domain.ErrInvalidCategory
	}
	title := strings.TrimSpace(req.Title)
	if title == "" || len(title) > 200 {
		return nil, domain.ErrInvalidTitle
	}
	description := strings.TrimSpace(req.Description)
	if len(description) < minDescriptionLength {
		return nil, domain.ErrInvalidDescription
	}
	if req.BudgetMin != nil && *req.BudgetMin < 0 {
		return nil, domain.ErrInvalidBudget
	}
	if req.BudgetMin != nil && req.BudgetMax != nil && *req.BudgetMax < *req.BudgetMin {
		return nil, domain.ErrInvalidBudget
	}
	if !geo.ValidPostcode(req.Postcode) {
		return nil, domain.ErrInvalidPostcode
	}

	loc, err := s.geocoder.Lookup(ctx, req.Postcode)
	if err != nil {
		if errors.Is(err, geo.ErrPostcodeNotFound) {
			return nil, domain.ErrInvalidPostcode
		}
		// Geocoder outage: accept the request without coordinates so
		// intake never depends on the lookup API. Matching falls back
		// to category-only fan-out.
		s.log.Warn("geocode lookup failed, accepting request without coordinates",
			zap.String("postcode", req.Postcode),
			zap.Error(err),
		)
		loc = &geo.Location{Postcode: geo.NormalizePostcode(req.Postcode)}
	}

	now := time.Now().UTC()
	request := domain.QuoteRequest{
		ID:             s.genID.Generate(),
		CustomerID:     req.CustomerID,
		Category:       category,
		Title:          title,
		Description:    description,
		Postcode:       loc.Postcode,
		Latitude:       loc.Latitude,
		Longitude:      loc.Longitude,
		City:           loc.City,
		PreferredDate:  req.PreferredDate,
		FlexibleTiming: req.FlexibleTiming,
		BudgetMin:      req.BudgetMin,
		BudgetMax:      req.BudgetMax,
		Status:         domain.StatusOpen,
		ExpiresAt:      now.Add(time.Duration(s.platform.QuoteExpiryHours(ctx)) * time.Hour),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(&request).Error; err != nil {
		return nil, err
	}

	s.log.Info("quote request created",
		zap.Int64("request_id", request.ID.Int64()),
		zap.Int64("customer_id", request.CustomerID.Int64()),
		zap.String("category", category),
		zap.String("postcode", request.Postcode),
	)

	if s.enqueuer != nil {
		if err := s.enqueuer.MatchRequest(ctx, tasks.RequestMatchPayload{RequestID: request.ID.Int64()}); err != nil {
			s.log.Warn("match enqueue failed, matching inline", zap.Error(err))
			if _, err := s.Match(ctx, request.ID); err != nil {
				s.log.Error("inline matching failed", zap.Int64("request_id", request.ID.Int64()), zap.Error(err))
			}
		}
	} else {
		if _, err := s.Match(ctx, request.ID); err != nil {
			s.log.Error("matching failed", zap.Int64("request_id", request.ID.Int64()), zap.Error(err))
		}
	}

	return &request, nil
}

type candidate struct {
	provider providerdomain.Provider
	distance float64
}

func (s *service) Match(ctx context.Context, requestID snowflake.ID) (int, error) {
	request, err := s.Get(ctx, requestID)
	if err != nil {
		return 0, err
	}
	if request == nil {
		return 0, domain.ErrNotFound
	}
	if !request.Open() {
		return 0, nil
	}

	pool, err := s.providerRepo.ListMatchCandidates(ctx, s.db, request.Category, matchCandidateLimit)
	if err != nil {
		return 0, err
	}

	// A request that was accepted during a geocoder outage carries no
	// coordinates; fan out on category alone rather than inviting no one.
	hasCoords := request.Latitude != 0 || request.Longitude != 0

	candidates := make([]candidate, 0, len(pool))
	for _, p := range pool {
		if p.UserID == request.CustomerID {
			continue
		}
		distance := 0.0
		if hasCoords {
			if p.Latitude == nil || p.Longitude == nil {
				continue
			}
			distance = geo.Haversine(request.Latitude, request.Longitude, *p.Latitude, *p.Longitude)
			if distance > p.ServiceRadiusMiles {
				continue
			}
		}
		candidates = append(candidates, candidate{provider: p, distance: distance})
	}

	// The pool arrives rating-ranked; re-sort after the distance filter so
	// ties break on proximity.
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.provider.AverageRating != b.provider.AverageRating {
			return a.provider.AverageRating > b.provider.AverageRating
		}
		if a.provider.ResponseRate() != b.provider.ResponseRate() {
			return a.provider.ResponseRate() > b.provider.ResponseRate()
		}
		return a.distance < b.distance
	})
	// Invite twice the quote cap so enough providers see the request
	// without flooding the whole trade.
	inviteLimit := s.platform.MaxQuotesPerRequest(ctx) * 2
	if inviteLimit <= 0 || inviteLimit > maxInvitations {
		inviteLimit = maxInvitations
	}
	if len(candidates) > inviteLimit {
		candidates = candidates[:inviteLimit]
	}

	invited := make([]snowflake.ID, 0, len(candidates))
	now := time.Now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range candidates {
			invitation := domain.Invitation{
				ID:            s.genID.Generate(),
				RequestID:     request.ID,
				ProviderID:    c.provider.ID,
				DistanceMiles: c.distance,
				Status:        domain.InvitationInvited,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&invitation)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				continue // retry or concurrent match already invited
			}
			invited = append(invited, c.provider.ID)
		}
		if len(invited) > 0 {
			if err := s.providerRepo.IncrementInvited(ctx, tx, invited); err != nil {
				return err
			}
			return tx.Model(&domain.QuoteRequest{}).
				Where("id = ?", request.ID).
				Updates(map[string]any{
					"invited_count": gorm.Expr("invited_count + ?", len(invited)),
					"updated_at":    now,
				}).Error
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if s.enqueuer != nil {
		for _, c := range candidates {
			if !contains(invited, c.provider.ID) {
				continue
			}
			s.enqueuer.NotifyUser(ctx, tasks.NotificationDeliverPayload{
				UserID: c.provider.UserID.Int64(),
				Kind:   "request_invitation",
				Title:  "New job near you: " + request.Title,
				Body:   fmt.Sprintf("A customer in %s is looking for %s quotes, %.1f miles from you.", request.City, request.Category, c.distance),
				Data: map[string]string{
					"request_id": request.ID.String(),
				},
			})
		}
	}

	s.log.Info("request matched",
		zap.Int64("request_id", request.ID.Int64()),
		zap.Int("candidates", len(candidates)),
		zap.Int("invited", len(invited)),
	)
	return len(invited), nil
}

func contains(ids []snowflake.ID, id snowflake.ID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func (s *service) Get(ctx context.Context, id snowflake.ID) (*domain.QuoteRequest, error) {
	var request domain.QuoteRequest
	err := s.db.WithContext(ctx).First(&request, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (s *service) ListForCustomer(ctx context.Context, req domain.ListRequest) ([]domain.QuoteRequest, *pagination.PageInfo, error) {
	page := req.Pagination.Normalize()

	query := s.db.WithContext(ctx).
		Where("customer_id = ?", req.CustomerID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(page.PageSize + 1)
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, nil, err
		}
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var requests []domain.QuoteRequest
	if err := query.Find(&requests).Error; err != nil {
		return nil, nil, err
	}
	requests, info := pagination.BuildCursorPageInfo(requests, page.PageSize, func(r domain.QuoteRequest) pagination.Cursor {
		return pagination.Cursor{ID: r.ID.Int64(), CreatedAt: r.CreatedAt}
	})
	return requests, info, nil
}

func (s *service) ListInvitedForProvider(ctx context.Context, providerID snowflake.ID, page pagination.Pagination) ([]domain.InvitedRequest, *pagination.PageInfo, error) {
	page = page.Normalize()

	query := s.db.WithContext(ctx).
		Where("provider_id = ?", providerID).
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

	var invitations []domain.Invitation
	if err := query.Find(&invitations).Error; err != nil {
		return nil, nil, err
	}
	invitations, info := pagination.BuildCursorPageInfo(invitations, page.PageSize, func(i domain.Invitation) pagination.Cursor {
		return pagination.Cursor{ID: i.ID.Int64(), CreatedAt: i.CreatedAt}
	})

	out := make([]domain.InvitedRequest, 0, len(invitations))
	for _, invitation := range invitations {
		request, err := s.Get(ctx, invitation.RequestID)
		if err != nil {
			return nil, nil, err
		}
		if request == nil {
			continue
		}
		out = append(out, domain.InvitedRequest{Request: *request, Invitation: invitation})
	}
	return out, info, nil
}

func (s *service) Invitations(ctx context.Context, requestID snowflake.ID) ([]domain.Invitation, error) {
	var invitations []domain.Invitation
	err := s.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("distance_miles ASC").
		Find(&invitations).Error
	if err != nil {
		return nil, err
	}
	return invitations, nil
}

func (s *service) InvitationFor(ctx context.Context, requestID, providerID snowflake.ID) (*domain.Invitation, error) {
	var invitation domain.Invitation
	err := s.db.WithContext(ctx).
		First(&invitation, "request_id = ? AND provider_id = ?", requestID, providerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invitation, nil
}

func (s *service) Close(ctx context.Context, id, customerID snowflake.ID) error {
	request, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if request == nil {
		return domain.ErrNotFound
	}
	if request.CustomerID != customerID {
		return domain.ErrNotOwner
	}
	if !request.Open() {
		return domain.ErrNotOpen
	}
	return s.db.WithContext(ctx).Model(&domain.QuoteRequest{}).
		Where("id = ?", id).
		Where("status IN ?", []domain.Status{domain.StatusOpen, domain.StatusQuotesReceived}).
		Updates(map[string]any{"status": domain.StatusClosed, "updated_at": time.Now().UTC()}).Error
}

func (s *service) DeclineInvitation(ctx context.Context, requestID, providerID snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.Invitation{}).
			Where("request_id = ? AND provider_id = ?", requestID, providerID).
			Where("status IN ?", []domain.InvitationStatus{domain.InvitationInvited, domain.InvitationViewed}).
			Updates(map[string]any{"status": domain.InvitationDeclined, "updated_at": time.Now().UTC()})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrInvitationNotFound
		}
		return s.providerRepo.IncrementResponded(ctx, tx, providerID)
	})
}

func (s *service) MarkInvitationViewed(ctx context.Context, requestID, providerID snowflake.ID) error {
	result := s.db.WithContext(ctx).Model(&domain.Invitation{}).
		Where("request_id = ? AND provider_id = ?", requestID, providerID).
		Where("status = ?", domain.InvitationInvited).
		Updates(map[string]any{"status": domain.InvitationViewed, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	// Already viewed, quoted or declined is fine.
	return nil
}

func (s *service) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&domain.QuoteRequest{}).
		Where("status IN ?", []domain.Status{domain.StatusOpen, domain.StatusQuotesReceived}).
		Where("expires_at < ?", now).
		Updates(map[string]any{"status": domain.StatusExpired, "updated_at": now})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
