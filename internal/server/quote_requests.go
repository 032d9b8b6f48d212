package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	identitydomain "github.com/quotehive/quotehive/internal/identity/domain"
	quoterequestdomain "github.com/quotehive/quotehive/internal/quoterequest/domain"
	"github.com/quotehive/quotehive/pkg/db/pagination"
)

type CreateQuoteRequestRequest struct {
	Category       string `json:"category"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Postcode       string `json:"postcode"`
	PreferredDate  string `json:"preferred_date"`
	FlexibleTiming bool   `json:"flexible_timing"`
	BudgetMin      *int64 `json:"budget_min"`
	BudgetMax      *int64 `json:"budget_max"`
}

func (s *Server) CreateQuoteRequest(c *gin.Context) {
	var req CreateQuoteRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	preferredDate, err := parseOptionalTime(req.PreferredDate, false)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	user := currentUser(c)
	request, err := s.quoteRequestSvc.Create(c.Request.Context(), quoterequestdomain.CreateRequest{
		CustomerID:     user.ID,
		Category:       strings.TrimSpace(req.Category),
		Title:          strings.TrimSpace(req.Title),
		Description:    strings.TrimSpace(req.Description),
		Postcode:       strings.TrimSpace(req.Postcode),
		PreferredDate:  preferredDate,
		FlexibleTiming: req.FlexibleTiming,
		BudgetMin:      req.BudgetMin,
		BudgetMax:      req.BudgetMax,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, request)
}

func (s *Server) ListQuoteRequests(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	user := currentUser(c)
	requests, pageInfo, err := s.quoteRequestSvc.ListForCustomer(c.Request.Context(), quoterequestdomain.ListRequest{
		CustomerID: user.ID,
		Status:     quoterequestdomain.Status(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
		Pagination: page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"quote_requests": requests,
		"page_info":      pageInfo,
	})
}

func (s *Server) GetQuoteRequest(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	request, err := s.quoteRequestSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.authorizeRequestAccess(c, request); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, request)
}

func (s *Server) CloseQuoteRequest(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	user := currentUser(c)
	if err := s.quoteRequestSvc.Close(c.Request.Context(), id, user.ID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

func (s *Server) MarkInvitationViewed(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	profile, err := s.currentProvider(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if profile == nil {
		AbortWithError(c, ErrForbidden)
		return
	}

	if err := s.quoteRequestSvc.MarkInvitationViewed(c.Request.Context(), id, profile.ID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "viewed"})
}

func (s *Server) DeclineInvitation(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	profile, err := s.currentProvider(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if profile == nil {
		AbortWithError(c, ErrForbidden)
		return
	}

	if err := s.quoteRequestSvc.DeclineInvitation(c.Request.Context(), id, profile.ID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "declined"})
}

func (s *Server) ListInvitedRequests(c *gin.Context) {
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
		c.JSON(http.StatusOK, gin.H{
			"requests":  []quoterequestdomain.InvitedRequest{},
			"page_info": &pagination.PageInfo{},
		})
		return
	}

	requests, pageInfo, err := s.quoteRequestSvc.ListInvitedForProvider(c.Request.Context(), profile.ID, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"requests":  requests,
		"page_info": pageInfo,
	})
}

// authorizeRequestAccess lets the owning customer, an invited provider,
// or an admin read a request.
func (s *Server) authorizeRequestAccess(c *gin.Context, request *quoterequestdomain.QuoteRequest) error {
	user := currentUser(c)
	if user == nil {
		return ErrUnauthorized
	}
	switch {
	case user.Role == identitydomain.RoleAdmin:
		return nil
	case request.CustomerID == user.ID:
		return nil
	}

	profile, err := s.currentProvider(c)
	if err != nil || profile == nil {
		return ErrForbidden
	}
	invitation, err := s.quoteRequestSvc.InvitationFor(c.Request.Context(), request.ID, profile.ID)
	if err != nil || invitation == nil {
		return ErrForbidden
	}
	return nil
}
