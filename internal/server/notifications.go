package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	notificationdomain "github.com/quotehive/quotehive/internal/notification/domain"
	"github.com/quotehive/quotehive/pkg/db/pagination"
)

func (s *Server) ListNotifications(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	user := currentUser(c)
	notifications, pageInfo, err := s.notificationSvc.List(c.Request.Context(), notificationdomain.ListRequest{
		UserID:     user.ID,
		UnreadOnly: c.Query("unread_only") == "true",
		Pagination: page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"notifications": notifications,
		"page_info":     pageInfo,
	})
}

func (s *Server) UnreadNotificationCount(c *gin.Context) {
	user := currentUser(c)
	count, err := s.notificationSvc.UnreadCount(c.Request.Context(), user.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

func (s *Server) MarkNotificationRead(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	user := currentUser(c)
	if err := s.notificationSvc.MarkRead(c.Request.Context(), id, user.ID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"read": true})
}

func (s *Server) MarkAllNotificationsRead(c *gin.Context) {
	user := currentUser(c)
	updated, err := s.notificationSvc.MarkAllRead(c.Request.Context(), user.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// StreamNotifications pushes the user's live notifications over SSE.
func (s *Server) StreamNotifications(c *gin.Context) {
	user := currentUser(c)

	events, err := s.notificationSvc.Subscribe(c.Request.Context(), user.ID)
	if err != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	writer := c.Writer
	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}
	flusher.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case notification, open := <-events:
			if !open {
				return
			}
			if err := writeNotificationEvent(writer, notification); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeNotificationEvent(w io.Writer, notification notificationdomain.Notification) error {
	data, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
