package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/quotehive/quotehive/internal/config"
)

const keyAuthAttempt = "auth:attempt:%s"

// AuthLimiter throttles credential endpoints per client address. When
// rate limiting is disabled every request passes.
type AuthLimiter struct {
	enabled bool
	bucket  *TokenBucket
	rate    float64
	burst   int
}

type AuthLimiterParams struct {
	fx.In

	Cfg   config.Config
	Redis *redis.Client `optional:"true"`
}

func NewAuthLimiter(p AuthLimiterParams) *AuthLimiter {
	if !p.Cfg.RateLimitEnabled || p.Redis == nil {
		return &AuthLimiter{}
	}
	return &AuthLimiter{
		enabled: true,
		bucket:  NewTokenBucket(p.Redis),
		rate:    p.Cfg.AuthRatePerSec,
		burst:   p.Cfg.AuthBurst,
	}
}

func (l *AuthLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow reports whether another attempt from addr may proceed. Redis
// outages fail open: blocking all logins is worse than skipping a check.
func (l *AuthLimiter) Allow(ctx context.Context, addr string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyAuthAttempt, addr), l.rate, l.burst)
}
