package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	identitydomain "github.com/quotehive/quotehive/internal/identity/domain"
	paymentdomain "github.com/quotehive/quotehive/internal/payment/domain"
	payoutdomain "github.com/quotehive/quotehive/internal/payout/domain"
)

type UpdateSettingRequest struct {
	Value string `json:"value"`
}

type AdminRefundRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (s *Server) ListUsers(c *gin.Context) {
	role := identitydomain.Role(strings.ToUpper(strings.TrimSpace(c.Query("role"))))
	switch role {
	case "", identitydomain.RoleCustomer, identitydomain.RoleProvider, identitydomain.RoleAdmin:
	default:
		AbortWithError(c, invalidRequestError())
		return
	}

	users, err := s.identitySvc.ListUsers(c.Request.Context(), role)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (s *Server) ListSettings(c *gin.Context) {
	settings, err := s.platformSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

func (s *Server) UpdateSetting(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req UpdateSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	setting, err := s.platformSvc.Set(c.Request.Context(), key, req.Value)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, setting)
}

func (s *Server) ActivateProvider(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.providerSvc.Activate(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ACTIVE"})
}

func (s *Server) SuspendProvider(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.providerSvc.Suspend(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "SUSPENDED"})
}

// PayProvider triggers an immediate payout outside the weekly sweep.
func (s *Server) PayProvider(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	payout, err := s.payoutSvc.PayProvider(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payout)
}

func (s *Server) CreateRefund(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req AdminRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	user := currentUser(c)
	refund, err := s.paymentSvc.CreateRefund(c.Request.Context(), paymentdomain.CreateRefundRequest{
		BookingID:   id,
		Amount:      req.Amount,
		Reason:      req.Reason,
		RequestedBy: user.ID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, refund)
}

func (s *Server) ListPayouts(c *gin.Context) {
	status := payoutdomain.Status(strings.ToUpper(strings.TrimSpace(c.Query("status"))))

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			AbortWithError(c, invalidRequestError())
			return
		}
		limit = parsed
	}

	payouts, err := s.payoutSvc.List(c.Request.Context(), status, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payouts": payouts})
}

func (s *Server) RunPayoutBatch(c *gin.Context) {
	result, err := s.payoutSvc.RunBatch(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) HideReview(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.reviewSvc.Hide(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "HIDDEN"})
}

func (s *Server) PublishReview(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.reviewSvc.Publish(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "PUBLISHED"})
}
