package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleProvider Role = "PROVIDER"
	RoleAdmin    Role = "ADMIN"
)

type User struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	Email        string       `json:"email" gorm:"type:text;not null;uniqueIndex:ux_users_email"`
	PasswordHash string       `json:"-" gorm:"type:text;not null"`
	Name         string       `json:"name" gorm:"type:text;not null"`
	Phone        string       `json:"phone" gorm:"type:text"`
	Role         Role         `json:"role" gorm:"type:text;not null"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time    `json:"updated_at" gorm:"not null"`
}

func (User) TableName() string { return "users" }

// Session is a server-side login session resolved by opaque token.
type Session struct {
	Token     string       `json:"-" gorm:"primaryKey;type:text"`
	UserID    snowflake.ID `json:"user_id" gorm:"not null;index"`
	ExpiresAt time.Time    `json:"expires_at" gorm:"not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
}

func (Session) TableName() string { return "sessions" }

type SignupRequest struct {
	Email    string
	Password string
	Name     string
	Phone    string
	Role     Role
}

type LoginRequest struct {
	Email    string
	Password string
}

type AuthResult struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

type Service interface {
	Signup(ctx context.Context, req SignupRequest) (AuthResult, error)
	Login(ctx context.Context, req LoginRequest) (AuthResult, error)
	Logout(ctx context.Context, token string) error
	Resolve(ctx context.Context, token string) (*User, error)
	GetUser(ctx context.Context, id snowflake.ID) (*User, error)
	ListUsers(ctx context.Context, role Role) ([]User, error)
}

var (
	ErrInvalidEmail       = errors.New("invalid_email")
	ErrInvalidPassword    = errors.New("invalid_password")
	ErrInvalidName        = errors.New("invalid_name")
	ErrInvalidRole        = errors.New("invalid_role")
	ErrEmailTaken         = errors.New("email_taken")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrSessionExpired     = errors.New("session_expired")
	ErrUserNotFound       = errors.New("user_not_found")
)
