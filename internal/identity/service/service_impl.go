package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/quotehive/quotehive/internal/config"
	"github.com/quotehive/quotehive/internal/identity/domain"
	pkgdb "github.com/quotehive/quotehive/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Cfg   config.Config
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	sessionTTL time.Duration
}

func New(p Params) domain.Service {
	ttl := time.Duration(p.Cfg.SessionTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("identity.service"),
		genID:      p.GenID,
		sessionTTL: ttl,
	}
}

func (s *Service) Signup(ctx context.Context, req domain.SignupRequest) (domain.AuthResult, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.AuthResult{}, domain.ErrInvalidEmail
	}
	if len(req.Password) < 8 {
		return domain.AuthResult{}, domain.ErrInvalidPassword
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.AuthResult{}, domain.ErrInvalidName
	}
	switch req.Role {
	case domain.RoleCustomer, domain.RoleProvider:
	default:
		// Admin accounts are provisioned out of band.
		return domain.AuthResult{}, domain.ErrInvalidRole
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.AuthResult{}, err
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:           s.genID.Generate(),
		Email:        email,
		PasswordHash: string(hash),
		Name:         name,
		Phone:        strings.TrimSpace(req.Phone),
		Role:         req.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return domain.AuthResult{}, domain.ErrEmailTaken
		}
		return domain.AuthResult{}, err
	}

	token, err := s.createSession(ctx, user.ID)
	if err != nil {
		return domain.AuthResult{}, err
	}

	s.log.Info("user signed up",
		zap.String("user_id", user.ID.String()),
		zap.String("role", string(user.Role)),
	)
	return domain.AuthResult{User: user, Token: token}, nil
}

func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (domain.AuthResult, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var user domain.User
	err := s.db.WithContext(ctx).First(&user, "email = ?", email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.AuthResult{}, domain.ErrInvalidCredentials
		}
		return domain.AuthResult{}, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return domain.AuthResult{}, domain.ErrInvalidCredentials
	}

	token, err := s.createSession(ctx, user.ID)
	if err != nil {
		return domain.AuthResult{}, err
	}
	return domain.AuthResult{User: user, Token: token}, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Delete(&domain.Session{}, "token = ?", token).Error
}

func (s *Service) Resolve(ctx context.Context, token string) (*domain.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ErrSessionExpired
	}

	var session domain.Session
	err := s.db.WithContext(ctx).First(&session, "token = ?", token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSessionExpired
		}
		return nil, err
	}
	if session.ExpiresAt.Before(time.Now().UTC()) {
		_ = s.db.WithContext(ctx).Delete(&domain.Session{}, "token = ?", token).Error
		return nil, domain.ErrSessionExpired
	}

	var user domain.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", session.UserID).Error; err != nil {
		return nil, domain.ErrSessionExpired
	}
	return &user, nil
}

func (s *Service) GetUser(ctx context.Context, id snowflake.ID) (*domain.User, error) {
	var user domain.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Service) ListUsers(ctx context.Context, role domain.Role) ([]domain.User, error) {
	var users []domain.User
	stmt := s.db.WithContext(ctx).Model(&domain.User{})
	if role != "" {
		stmt = stmt.Where("role = ?", role)
	}
	if err := stmt.Order("created_at desc").Limit(200).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Service) createSession(ctx context.Context, userID snowflake.ID) (string, error) {
	now := time.Now().UTC()
	session := domain.Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		ExpiresAt: now.Add(s.sessionTTL),
		CreatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return "", err
	}
	return session.Token, nil
}
