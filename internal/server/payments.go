package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	paymentdomain "github.com/quotehive/quotehive/internal/payment/domain"
)

type StartOnboardingRequest struct {
	RefreshURL string `json:"refresh_url"`
	ReturnURL  string `json:"return_url"`
}

func (s *Server) StartOnboarding(c *gin.Context) {
	var req StartOnboardingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.RefreshURL = strings.TrimSpace(req.RefreshURL)
	req.ReturnURL = strings.TrimSpace(req.ReturnURL)
	if req.RefreshURL == "" || req.ReturnURL == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	user := currentUser(c)
	result, err := s.paymentSvc.StartOnboarding(c.Request.Context(), user.ID, req.RefreshURL, req.ReturnURL)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleStripeWebhook is unauthenticated: the signature header is the
// credential. Replays of an already processed event are acked with 200
// so the sender stops retrying.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable payload"})
		return
	}

	err = s.paymentSvc.ProcessEvent(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	switch {
	case err == nil, errors.Is(err, paymentdomain.ErrEventAlreadyProcessed):
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
	default:
		AbortWithError(c, err)
	}
}
