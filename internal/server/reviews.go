package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	reviewdomain "github.com/quotehive/quotehive/internal/review/domain"
	"github.com/quotehive/quotehive/pkg/db/pagination"
)

type CreateReviewRequest struct {
	BookingID         string `json:"booking_id"`
	OverallRating     int    `json:"overall_rating"`
	QualityRating     int    `json:"quality_rating"`
	PunctualityRating int    `json:"punctuality_rating"`
	WouldRecommend    *bool  `json:"would_recommend"`
	Comment           string `json:"comment"`
}

func (s *Server) CreateReview(c *gin.Context) {
	var req CreateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	bookingID, err := snowflake.ParseString(strings.TrimSpace(req.BookingID))
	if err != nil || bookingID == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	user := currentUser(c)
	review, err := s.reviewSvc.Create(c.Request.Context(), reviewdomain.CreateRequest{
		CustomerID:        user.ID,
		BookingID:         bookingID,
		OverallRating:     req.OverallRating,
		QualityRating:     req.QualityRating,
		PunctualityRating: req.PunctualityRating,
		WouldRecommend:    req.WouldRecommend,
		Comment:           req.Comment,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, review)
}

func (s *Server) GetReview(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	review, err := s.reviewSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, review)
}

// ListProviderReviews returns the provider's published reviews, newest
// first.
func (s *Server) ListProviderReviews(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	reviews, pageInfo, err := s.reviewSvc.ListForProvider(c.Request.Context(), reviewdomain.ListRequest{
		ProviderID: id,
		Pagination: page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reviews":   reviews,
		"page_info": pageInfo,
	})
}
