package redis

import (
	"context"
	"errors"
	"fmt"

	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	types "github.com/yungbote/microlearn-backend/internal/domain/learning"
	"github.com/yungbote/microlearn-backend/internal/platform/logger"
)

// ErrLockUnavailable signals the lock backend itself is down; callers fall
// back to a best-effort in-process guard.
var ErrLockUnavailable = errors.New("lock backend unavailable")

// LockClient is the cross-process advisory lock guarding path synthesis.
// One holder proceeds; everyone else gets held=false and should answer
// with a retry hint instead of blocking.
type LockClient interface {
	Acquire(ctx context.Context, key types.SubjectKey, ttl time.Duration) (held bool, token string, err error)
	Release(ctx context.Context, key types.SubjectKey, token string) error
}

type lockClient struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewLockClient(log *logger.Logger, rdb *goredis.Client) LockClient {
	return &lockClient{log: log.With("service", "RedisLock"), rdb: rdb}
}

func lockKeyFor(key types.SubjectKey) string {
	// uuid hex + length-prefixed subject; subjects may contain any rune.
	return fmt.Sprintf("lock:pathgen:%s:%d:%s", key.UserID, len(key.Subject), key.Subject)
}

func (c *lockClient) Acquire(ctx context.Context, key types.SubjectKey, ttl time.Duration) (bool, string, error) {
	if c == nil || c.rdb == nil {
		return false, "", ErrLockUnavailable
	}
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, lockKeyFor(key), token, ttl).Result()
	if err != nil {
		return false, "", fmt.Errorf("%w: %v", ErrLockUnavailable, err)
	}
	if !ok {
		return false, "", nil
	}
	return true, token, nil
}

// releaseScript deletes the lock only when the caller still owns it.
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0
`)

func (c *lockClient) Release(ctx context.Context, key types.SubjectKey, token string) error {
	if c == nil || c.rdb == nil {
		return ErrLockUnavailable
	}
	return releaseScript.Run(ctx, c.rdb, []string{lockKeyFor(key)}, token).Err()
}
