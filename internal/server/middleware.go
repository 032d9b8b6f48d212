package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	identitydomain "github.com/quotehive/quotehive/internal/identity/domain"
	providerdomain "github.com/quotehive/quotehive/internal/provider/domain"
)

const (
	sessionCookieName = "qh_session"
	contextUserKey    = "current_user"
)

func sessionToken(c *gin.Context) string {
	if header := strings.TrimSpace(c.GetHeader("Authorization")); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	token, err := c.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(token)
}

func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c)
		if token == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		user, err := s.identitySvc.Resolve(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextUserKey, user)
		c.Next()
	}
}

func (s *Server) RequireRole(roles ...identitydomain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		for _, role := range roles {
			if user.Role == role {
				c.Next()
				return
			}
		}
		AbortWithError(c, ErrForbidden)
	}
}

// AuthRateLimit throttles credential endpoints per client IP. Limiter
// errors fail open; locking out every login on a redis outage is worse
// than skipping the check.
func (s *Server) AuthRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.authLimiter == nil || !s.authLimiter.Enabled() {
			c.Next()
			return
		}

		result, err := s.authLimiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil || result == nil {
			c.Next()
			return
		}
		if !result.Allowed {
			if result.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{
				Error: errorPayload{
					Type:    "rate_limited",
					Message: "too many attempts, slow down",
				},
			})
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *identitydomain.User {
	value, ok := c.Get(contextUserKey)
	if !ok {
		return nil
	}
	user, ok := value.(*identitydomain.User)
	if !ok {
		return nil
	}
	return user
}

// currentProvider resolves the caller's provider profile. Routes behind
// RequireRole(RoleProvider) still need this because a PROVIDER user may
// not have created a profile yet.
func (s *Server) currentProvider(c *gin.Context) (*providerdomain.Profile, error) {
	user := currentUser(c)
	if user == nil {
		return nil, ErrUnauthorized
	}
	profile, err := s.providerSvc.GetByUserID(c.Request.Context(), user.ID)
	if err != nil {
		return nil, err
	}
	return profile, nil
}

func pathID(c *gin.Context) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.Param("id"))
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, ErrInvalidRequest
	}
	return id, nil
}
