package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	identitydomain "github.com/quotehive/quotehive/internal/identity/domain"
	ledgerdomain "github.com/quotehive/quotehive/internal/ledger/domain"
	providerdomain "github.com/quotehive/quotehive/internal/provider/domain"
	"github.com/quotehive/quotehive/pkg/db/pagination"
)

type CreateProviderProfileRequest struct {
	BusinessName       string   `json:"business_name"`
	Description        string   `json:"description"`
	Categories         []string `json:"categories"`
	Postcode           string   `json:"postcode"`
	ServiceRadiusMiles float64  `json:"service_radius_miles"`
}

type UpdateProviderProfileRequest struct {
	BusinessName       *string  `json:"business_name"`
	Description        *string  `json:"description"`
	Categories         []string `json:"categories"`
	Postcode           *string  `json:"postcode"`
	ServiceRadiusMiles *float64 `json:"service_radius_miles"`
}

func (s *Server) CreateProviderProfile(c *gin.Context) {
	var req CreateProviderProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	user := currentUser(c)
	profile, err := s.providerSvc.CreateProfile(c.Request.Context(), providerdomain.CreateProfileRequest{
		UserID:             user.ID,
		BusinessName:       req.BusinessName,
		Description:        req.Description,
		Categories:         req.Categories,
		Postcode:           req.Postcode,
		ServiceRadiusMiles: req.ServiceRadiusMiles,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, profile)
}

func (s *Server) GetOwnProviderProfile(c *gin.Context) {
	user := currentUser(c)
	profile, err := s.providerSvc.GetByUserID(c.Request.Context(), user.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if profile == nil {
		AbortWithError(c, providerdomain.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (s *Server) UpdateProviderProfile(c *gin.Context) {
	var req UpdateProviderProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	user := currentUser(c)
	profile, err := s.providerSvc.UpdateProfile(c.Request.Context(), user.ID, providerdomain.UpdateProfileRequest{
		BusinessName:       req.BusinessName,
		Description:        req.Description,
		Categories:         req.Categories,
		Postcode:           req.Postcode,
		ServiceRadiusMiles: req.ServiceRadiusMiles,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, profile)
}

// GetProviderProfile is the public directory view. Non-active
// providers stay hidden from anyone but admins.
// ListCategories is unauthenticated so the request form can be rendered
// before signup.
func (s *Server) ListCategories(c *gin.Context) {
	categories, err := s.providerSvc.ListCategories(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if categories == nil {
		categories = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (s *Server) GetProviderProfile(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	profile, err := s.providerSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if profile == nil {
		AbortWithError(c, providerdomain.ErrNotFound)
		return
	}

	user := currentUser(c)
	admin := user != nil && user.Role == identitydomain.RoleAdmin
	owner := user != nil && profile.UserID == user.ID
	if profile.Status != providerdomain.StatusActive && !admin && !owner {
		AbortWithError(c, providerdomain.ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, profile)
}

func (s *Server) GetProviderBalance(c *gin.Context) {
	profile, err := s.currentProvider(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if profile == nil {
		AbortWithError(c, providerdomain.ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"available_balance": profile.AvailableBalance,
		"payouts_enabled":   profile.PayoutsEnabled,
		"currency":          "gbp",
	})
}

func (s *Server) ListProviderLedger(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	profile, err := s.currentProvider(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if profile == nil {
		AbortWithError(c, providerdomain.ErrNotFound)
		return
	}

	entries, pageInfo, err := s.ledgerSvc.List(c.Request.Context(), ledgerdomain.ListRequest{
		ProviderID: profile.ID,
		Pagination: page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries":   entries,
		"page_info": pageInfo,
	})
}

func (s *Server) ListProviderPayouts(c *gin.Context) {
	profile, err := s.currentProvider(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if profile == nil {
		AbortWithError(c, providerdomain.ErrNotFound)
		return
	}

	payouts, err := s.payoutSvc.ListForProvider(c.Request.Context(), profile.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payouts": payouts})
}
