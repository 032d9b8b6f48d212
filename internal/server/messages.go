package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	messagedomain "github.com/quotehive/quotehive/internal/message/domain"
	"github.com/quotehive/quotehive/pkg/db/pagination"
)

type SendMessageRequest struct {
	Body string `json:"body"`
}

// GetBookingThread opens the booking's conversation, creating it on
// first use.
func (s *Server) GetBookingThread(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	user := currentUser(c)
	thread, err := s.messageSvc.GetOrCreateForBooking(c.Request.Context(), id, user.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, thread)
}

func (s *Server) ListThreads(c *gin.Context) {
	user := currentUser(c)
	threads, err := s.messageSvc.ListThreads(c.Request.Context(), user.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"threads": threads})
}

func (s *Server) ListMessages(c *gin.Context) {
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

	user := currentUser(c)
	messages, pageInfo, err := s.messageSvc.ListMessages(c.Request.Context(), messagedomain.ListMessagesRequest{
		ThreadID:   id,
		UserID:     user.ID,
		Pagination: page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages":  messages,
		"page_info": pageInfo,
	})
}

func (s *Server) SendMessage(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	user := currentUser(c)
	message, err := s.messageSvc.Send(c.Request.Context(), id, user.ID, req.Body)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, message)
}
