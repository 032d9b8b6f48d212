package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"

	"github.com/quotehive/quotehive/pkg/db"
)

func TestDBConfigMapping(t *testing.T) {
	cfg := Config{
		DBType:            "postgres",
		DBHost:            "db.internal",
		DBPort:            "5433",
		DBName:            "quotehive",
		DBUser:            "app",
		DBPassword:        "secret",
		DBSSLMode:         "require",
		DBMaxIdleConn:     3,
		DBMaxOpenConn:     30,
		DBConnMaxLifetime: 900,
	}

	got := DBConfig(cfg)
	assert.Equal(t, "postgres", got.Type)
	assert.Equal(t, "db.internal", got.Host)
	assert.Equal(t, "5433", got.Port)
	assert.Equal(t, "quotehive", got.Name)
	assert.Equal(t, "app", got.User)
	assert.Equal(t, "secret", got.Password)
	assert.Equal(t, "require", got.SSLMode)
	assert.Equal(t, 3, got.MaxIdleConn)
	assert.Equal(t, 30, got.MaxOpenConn)
	assert.Equal(t, 15*time.Minute, got.ConnMaxLifetime)
}

func TestModuleProvidesDBConfig(t *testing.T) {
	// The db package constructors depend on db.Config; the config module
	// must supply it for the application graph to resolve.
	err := fx.ValidateApp(
		Module,
		fx.Invoke(func(db.Config) {}),
		fx.NopLogger,
	)
	require.NoError(t, err)
}
