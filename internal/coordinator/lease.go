package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLeasePrefix = "graphchat:lease:"

// Lease is a cross-process mutual-exclusion primitive. Acquire returns ErrBusy
// when another holder owns key. Tokens prevent one holder from renewing or
// releasing another's lease.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Renew(ctx context.Context, key, token string, ttl time.Duration) error
	Release(ctx context.Context, key, token string) error
}

// errLeaseLost is returned by Renew when the token no longer owns the key.
var errLeaseLost = errors.New("coordinator: lease no longer held")

// RedisLease implements Lease with SET NX PX and token-checked Lua scripts.
type RedisLease struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLease returns a RedisLease. An empty prefix uses "graphchat:lease:".
func NewRedisLease(client redis.UniversalClient, prefix string) (*RedisLease, error) {
	if client == nil {
		return nil, errors.New("coordinator: redis client is required")
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultLeasePrefix
	}
	return &RedisLease{client: client, prefix: prefix}, nil
}

// Acquire sets key to a fresh random token if it is not already set.
func (l *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("coordinator: redis setnx: %w", err)
	}
	if !ok {
		return "", ErrBusy
	}
	return token, nil
}

// Renew extends the TTL if token still owns key.
func (l *RedisLease) Renew(ctx context.Context, key, token string, ttl time.Duration) error {
	n, err := renewScript.Run(ctx, l.client, []string{l.prefix + key}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("coordinator: redis renew: %w", err)
	}
	if n != 1 {
		return errLeaseLost
	}
	return nil
}

// Release deletes key if token still owns it. It runs on its own short
// timeout so a cancelled caller context cannot strand the lease until TTL.
func (l *RedisLease) Release(_ context.Context, key, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := releaseScript.Run(ctx, l.client, []string{l.prefix + key}, token).Int(); err != nil {
		return fmt.Errorf("coordinator: redis release: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (l *RedisLease) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

var renewScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == ARGV[1] then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)
