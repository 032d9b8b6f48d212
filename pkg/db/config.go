package db

import "time"

// Config carries the connection settings for Open. Type selects the
// dialect: "postgres" for deployments, "sqlite" for local development.
type Config struct {
	Type     string
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string

	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}
