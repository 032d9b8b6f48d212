package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	quotedomain "github.com/quotehive/quotehive/internal/quote/domain"
)

type SubmitQuoteRequest struct {
	RequestID     string `json:"request_id"`
	Price         int64  `json:"price"`
	Message       string `json:"message"`
	Duration      string `json:"duration"`
	AvailableDate string `json:"available_date"`
	ValidUntil    string `json:"valid_until"`
}

func (s *Server) SubmitQuote(c *gin.Context) {
	var req SubmitQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	requestID, err := snowflake.ParseString(strings.TrimSpace(req.RequestID))
	if err != nil || requestID == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}
	availableDate, err := parseOptionalTime(req.AvailableDate, false)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	validUntil, err := parseOptionalTime(req.ValidUntil, true)
	if err != nil {
		AbortWithError(c, invalidRequestError())
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

	quote, err := s.quoteSvc.Submit(c.Request.Context(), quotedomain.SubmitRequest{
		RequestID:     requestID,
		ProviderID:    profile.ID,
		Price:         req.Price,
		Message:       strings.TrimSpace(req.Message),
		Duration:      req.Duration,
		AvailableDate: availableDate,
		ValidUntil:    validUntil,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, quote)
}

func (s *Server) GetQuote(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	quote, err := s.quoteSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, quote)
}

func (s *Server) ListQuotesForRequest(c *gin.Context) {
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

	quotes, err := s.quoteSvc.ListForRequest(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"quotes": quotes})
}

func (s *Server) ListOwnQuotes(c *gin.Context) {
	profile, err := s.currentProvider(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if profile == nil {
		c.JSON(http.StatusOK, gin.H{"quotes": []quotedomain.Quote{}})
		return
	}

	quotes, err := s.quoteSvc.ListForProvider(c.Request.Context(), profile.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"quotes": quotes})
}

func (s *Server) MarkQuoteViewed(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	user := currentUser(c)
	if err := s.quoteSvc.MarkViewed(c.Request.Context(), id, user.ID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "viewed"})
}

func (s *Server) DeclineQuote(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	user := currentUser(c)
	if err := s.quoteSvc.Decline(c.Request.Context(), id, user.ID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "declined"})
}
