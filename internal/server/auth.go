package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	identitydomain "github.com/quotehive/quotehive/internal/identity/domain"
)

type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	role := sanitizeRole(req.Role)
	if role == "" {
		role = identitydomain.RoleCustomer
	}
	if role == identitydomain.RoleAdmin {
		// Admin accounts are provisioned out of band.
		AbortWithError(c, identitydomain.ErrInvalidRole)
		return
	}

	result, err := s.identitySvc.Signup(c.Request.Context(), identitydomain.SignupRequest{
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
		Name:     strings.TrimSpace(req.Name),
		Phone:    strings.TrimSpace(req.Phone),
		Role:     role,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.setSessionCookie(c, result.Token)
	c.JSON(http.StatusCreated, result)
}

func (s *Server) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.identitySvc.Login(c.Request.Context(), identitydomain.LoginRequest{
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.setSessionCookie(c, result.Token)
	c.JSON(http.StatusOK, result)
}

func (s *Server) Logout(c *gin.Context) {
	token := sessionToken(c)
	if token != "" {
		if err := s.identitySvc.Logout(c.Request.Context(), token); err != nil {
			AbortWithError(c, err)
			return
		}
	}
	s.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Me(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) setSessionCookie(c *gin.Context, token string) {
	secure := s.cfg.Environment == "production"
	c.SetCookie(sessionCookieName, token, s.cfg.SessionTTLHours*3600, "/", "", secure, true)
}

func (s *Server) clearSessionCookie(c *gin.Context) {
	secure := s.cfg.Environment == "production"
	c.SetCookie(sessionCookieName, "", -1, "/", "", secure, true)
}
