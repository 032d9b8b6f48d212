package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Locker hands out best-effort distributed leases so background sweeps
// run on one instance at a time. Losing redis loses the guarantee, not
// correctness: every job the lock guards is idempotent.
type Locker struct {
	client  *redis.Client
	release *redis.Script
}

// Lease is lock ownership for one key. Release is safe to call on a
// lease that already expired; it never deletes another owner's lock.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

var errNoLockClient = errors.New("lock client not configured")

// releaseScript deletes the key only while the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client, release: releaseScript}
}

// Acquire takes the lease for key, or returns (nil, nil) when another
// holder has it. The lease expires on its own after ttl so a crashed
// holder cannot wedge the sweep.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, errNoLockClient
	}
	if key == "" || ttl <= 0 {
		return nil, errors.New("lock key and ttl are required")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Lease{locker: l, key: key, token: token}, nil
}

func (le *Lease) Release(ctx context.Context) error {
	if le == nil || le.locker == nil {
		return nil
	}
	return le.locker.release.Run(ctx, le.locker.client, []string{le.key}, le.token).Err()
}
