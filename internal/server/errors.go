package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	bookingdomain "github.com/quotehive/quotehive/internal/booking/domain"
	identitydomain "github.com/quotehive/quotehive/internal/identity/domain"
	messagedomain "github.com/quotehive/quotehive/internal/message/domain"
	notificationdomain "github.com/quotehive/quotehive/internal/notification/domain"
	paymentdomain "github.com/quotehive/quotehive/internal/payment/domain"
	payoutdomain "github.com/quotehive/quotehive/internal/payout/domain"
	platformdomain "github.com/quotehive/quotehive/internal/platformconfig/domain"
	providerdomain "github.com/quotehive/quotehive/internal/provider/domain"
	quotedomain "github.com/quotehive/quotehive/internal/quote/domain"
	quoterequestdomain "github.com/quotehive/quotehive/internal/quoterequest/domain"
	reviewdomain "github.com/quotehive/quotehive/internal/review/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case isUnauthorizedError(err):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isForbiddenError(err):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, identitydomain.ErrInvalidEmail),
		errors.Is(err, identitydomain.ErrInvalidPassword),
		errors.Is(err, identitydomain.ErrInvalidName),
		errors.Is(err, identitydomain.ErrInvalidRole),
		errors.Is(err, providerdomain.ErrInvalidBusinessName),
		errors.Is(err, providerdomain.ErrInvalidCategories),
		errors.Is(err, providerdomain.ErrInvalidPostcode),
		errors.Is(err, providerdomain.ErrInvalidRadius),
		errors.Is(err, quoterequestdomain.ErrInvalidCategory),
		errors.Is(err, quoterequestdomain.ErrInvalidTitle),
		errors.Is(err, quoterequestdomain.ErrInvalidDescription),
		errors.Is(err, quoterequestdomain.ErrInvalidPostcode),
		errors.Is(err, quoterequestdomain.ErrInvalidBudget),
		errors.Is(err, quotedomain.ErrPriceTooLow),
		errors.Is(err, quotedomain.ErrMessageTooShort),
		errors.Is(err, quotedomain.ErrInvalidValidUntil),
		errors.Is(err, bookingdomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrInvalidAmount),
		errors.Is(err, reviewdomain.ErrInvalidRating),
		errors.Is(err, messagedomain.ErrEmptyMessage),
		errors.Is(err, platformdomain.ErrUnknownKey),
		errors.Is(err, platformdomain.ErrInvalidValue):
		return true
	default:
		return false
	}
}

func isUnauthorizedError(err error) bool {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, identitydomain.ErrInvalidCredentials),
		errors.Is(err, identitydomain.ErrSessionExpired):
		return true
	default:
		return false
	}
}

func isForbiddenError(err error) bool {
	switch {
	case errors.Is(err, ErrForbidden),
		errors.Is(err, quoterequestdomain.ErrNotOwner),
		errors.Is(err, quotedomain.ErrNotInvited),
		errors.Is(err, quotedomain.ErrNotOwner),
		errors.Is(err, bookingdomain.ErrNotOwner),
		errors.Is(err, reviewdomain.ErrNotOwner),
		errors.Is(err, messagedomain.ErrNotParticipant):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, identitydomain.ErrUserNotFound),
		errors.Is(err, providerdomain.ErrNotFound),
		errors.Is(err, quoterequestdomain.ErrNotFound),
		errors.Is(err, quoterequestdomain.ErrInvitationNotFound),
		errors.Is(err, quotedomain.ErrNotFound),
		errors.Is(err, quotedomain.ErrRequestNotFound),
		errors.Is(err, bookingdomain.ErrNotFound),
		errors.Is(err, bookingdomain.ErrQuoteNotFound),
		errors.Is(err, paymentdomain.ErrBookingNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, paymentdomain.ErrRefundNotFound),
		errors.Is(err, payoutdomain.ErrProviderNotFound),
		errors.Is(err, payoutdomain.ErrPayoutNotFound),
		errors.Is(err, reviewdomain.ErrNotFound),
		errors.Is(err, reviewdomain.ErrBookingNotFound),
		errors.Is(err, messagedomain.ErrBookingNotFound),
		errors.Is(err, messagedomain.ErrThreadNotFound),
		errors.Is(err, notificationdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// Conflicts cover state-machine violations and uniqueness collisions;
// the body carries the sentinel code so clients can branch on it.
func isConflictError(err error) bool {
	switch {
	case errors.Is(err, identitydomain.ErrEmailTaken),
		errors.Is(err, providerdomain.ErrProfileExists),
		errors.Is(err, providerdomain.ErrNotActive),
		errors.Is(err, providerdomain.ErrInsufficientBalance),
		errors.Is(err, quoterequestdomain.ErrNotOpen),
		errors.Is(err, quotedomain.ErrRequestNotOpen),
		errors.Is(err, quotedomain.ErrAlreadyQuoted),
		errors.Is(err, quotedomain.ErrQuoteLimit),
		errors.Is(err, quotedomain.ErrNotPending),
		errors.Is(err, quotedomain.ErrProviderNotActive),
		errors.Is(err, bookingdomain.ErrQuoteNotPending),
		errors.Is(err, bookingdomain.ErrQuoteExpired),
		errors.Is(err, bookingdomain.ErrAlreadyBooked),
		errors.Is(err, bookingdomain.ErrInvalidTransition),
		errors.Is(err, bookingdomain.ErrRefundExceedsPaid),
		errors.Is(err, bookingdomain.ErrNotRefundable),
		errors.Is(err, paymentdomain.ErrBookingNotPayable),
		errors.Is(err, paymentdomain.ErrNoPaymentReference),
		errors.Is(err, payoutdomain.ErrProviderNotEligible),
		errors.Is(err, payoutdomain.ErrBelowMinimum),
		errors.Is(err, reviewdomain.ErrBookingNotCompleted),
		errors.Is(err, reviewdomain.ErrAlreadyReviewed):
		return true
	default:
		return false
	}
}

func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "server_error", payload.Type
	case status >= http.StatusBadRequest:
		return "client_error", payload.Type
	default:
		return "", ""
	}
}

func invalidRequestError() error {
	return ErrInvalidRequest
}

func sanitizeRole(role string) identitydomain.Role {
	return identitydomain.Role(strings.ToUpper(strings.TrimSpace(role)))
}
