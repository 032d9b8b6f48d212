package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	identitydomain "github.com/quotehive/quotehive/internal/identity/domain"
	platformdomain "github.com/quotehive/quotehive/internal/platformconfig/domain"
)

const defaultAdminName = "Platform Admin"

// EnsureAdmin bootstraps the first ADMIN account. Signup never issues
// the ADMIN role, so a fresh install needs this once. No-op when the
// email already exists or credentials are not configured.
func EnsureAdmin(db *gorm.DB, genID *snowflake.Node, email, password string) error {
	if db == nil || genID == nil {
		return errors.New("seed requires a database handle and id generator")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing identitydomain.User
		err := tx.Where("email = ?", email).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		admin := identitydomain.User{
			ID:           genID.Generate(),
			Email:        email,
			PasswordHash: string(hash),
			Name:         defaultAdminName,
			Role:         identitydomain.RoleAdmin,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return tx.Create(&admin).Error
	})
}

// EnsureSettings writes the default platform settings for keys never
// touched by an admin, making the effective values visible in the
// settings listing.
func EnsureSettings(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed requires a database handle")
	}

	ctx := context.Background()
	now := time.Now().UTC()
	for key, value := range platformdomain.Defaults {
		setting := platformdomain.Setting{Key: key, Value: value, UpdatedAt: now}
		err := db.WithContext(ctx).
			Where(platformdomain.Setting{Key: key}).
			Attrs(setting).
			FirstOrCreate(&setting).Error
		if err != nil {
			return err
		}
	}
	return nil
}
