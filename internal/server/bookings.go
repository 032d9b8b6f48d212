package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	bookingdomain "github.com/quotehive/quotehive/internal/booking/domain"
	identitydomain "github.com/quotehive/quotehive/internal/identity/domain"
	"github.com/quotehive/quotehive/pkg/db/pagination"
)

type CreateBookingRequest struct {
	QuoteID       string `json:"quote_id"`
	ScheduledDate string `json:"scheduled_date"`
}

func (s *Server) CreateBooking(c *gin.Context) {
	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	quoteID, err := snowflake.ParseString(strings.TrimSpace(req.QuoteID))
	if err != nil || quoteID == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}
	scheduledDate, err := parseOptionalTime(req.ScheduledDate, false)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	user := currentUser(c)
	booking, err := s.bookingSvc.Create(c.Request.Context(), bookingdomain.CreateRequest{
		CustomerID:    user.ID,
		QuoteID:       quoteID,
		ScheduledDate: scheduledDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, booking)
}

func (s *Server) ListBookings(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	user := currentUser(c)
	req := bookingdomain.ListRequest{
		UserID:     user.ID,
		Role:       "customer",
		Status:     bookingdomain.Status(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
		Pagination: page,
	}
	if user.Role == identitydomain.RoleProvider {
		profile, err := s.currentProvider(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if profile == nil {
			c.JSON(http.StatusOK, gin.H{
				"bookings":  []bookingdomain.Booking{},
				"page_info": &pagination.PageInfo{},
			})
			return
		}
		req.Role = "provider"
		req.UserID = profile.ID
	}

	bookings, pageInfo, err := s.bookingSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bookings":  bookings,
		"page_info": pageInfo,
	})
}

func (s *Server) GetBooking(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	booking, err := s.bookingSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorizeBookingAccess(c, booking); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

func (s *Server) AcceptBooking(c *gin.Context) {
	s.providerBookingAction(c, s.bookingSvc.Accept)
}

func (s *Server) DeclineBooking(c *gin.Context) {
	s.providerBookingAction(c, s.bookingSvc.Decline)
}

func (s *Server) CancelBooking(c *gin.Context) {
	s.actorBookingAction(c, s.bookingSvc.Cancel)
}

func (s *Server) CompleteBooking(c *gin.Context) {
	s.actorBookingAction(c, s.bookingSvc.Complete)
}

func (s *Server) StartCheckout(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	user := currentUser(c)
	result, err := s.paymentSvc.StartCheckout(c.Request.Context(), id, user.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) ListBookingRefunds(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	booking, err := s.bookingSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorizeBookingAccess(c, booking); err != nil {
		AbortWithError(c, err)
		return
	}

	refunds, err := s.paymentSvc.ListRefunds(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refunds": refunds})
}

func (s *Server) providerBookingAction(c *gin.Context, action func(ctx context.Context, id, providerID snowflake.ID) error) {
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

	if err := action(c.Request.Context(), id, profile.ID); err != nil {
		AbortWithError(c, err)
		return
	}

	booking, err := s.bookingSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

func (s *Server) actorBookingAction(c *gin.Context, action func(ctx context.Context, id, userID snowflake.ID) error) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	actor, err := s.actorID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := action(c.Request.Context(), id, actor); err != nil {
		AbortWithError(c, err)
		return
	}

	booking, err := s.bookingSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// actorID resolves the ID booking operations compare against: the user
// ID for customers, the provider profile ID for providers.
func (s *Server) actorID(c *gin.Context) (snowflake.ID, error) {
	user := currentUser(c)
	if user == nil {
		return 0, ErrUnauthorized
	}
	if user.Role != identitydomain.RoleProvider {
		return user.ID, nil
	}
	profile, err := s.currentProvider(c)
	if err != nil {
		return 0, err
	}
	if profile == nil {
		return 0, ErrForbidden
	}
	return profile.ID, nil
}

func (s *Server) authorizeBookingAccess(c *gin.Context, booking *bookingdomain.Booking) error {
	user := currentUser(c)
	if user == nil {
		return ErrUnauthorized
	}
	if user.Role == identitydomain.RoleAdmin || booking.CustomerID == user.ID {
		return nil
	}
	profile, err := s.currentProvider(c)
	if err != nil || profile == nil || booking.ProviderID != profile.ID {
		return ErrForbidden
	}
	return nil
}
