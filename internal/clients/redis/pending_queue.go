package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	types "github.com/yungbote/microlearn-backend/internal/domain/learning"
	"github.com/yungbote/microlearn-backend/internal/platform/logger"
)

// PendingQueue is the bounded FIFO of pre-generated lessons per
// (user, subject), backed by a redis list. The queue only masks generation
// latency; consumers re-validate every entry against current state.
type PendingQueue interface {
	// Enqueue refuses to grow past maxDepth and reports whether it added.
	Enqueue(ctx context.Context, key types.SubjectKey, lesson types.PendingLesson, maxDepth int) (bool, error)
	// Dequeue pops the oldest entry; ok=false on empty queue.
	Dequeue(ctx context.Context, key types.SubjectKey) (types.PendingLesson, bool, error)
	Depth(ctx context.Context, key types.SubjectKey) (int, error)
}

type pendingQueue struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewPendingQueue(log *logger.Logger, rdb *goredis.Client) PendingQueue {
	return &pendingQueue{log: log.With("service", "RedisPendingQueue"), rdb: rdb}
}

func queueKeyFor(key types.SubjectKey) string {
	return fmt.Sprintf("pending:%s:%d:%s", key.UserID, len(key.Subject), key.Subject)
}

// enqueueScript pushes only while the list is below the depth bound.
var enqueueScript = goredis.NewScript(`
if redis.call("llen", KEYS[1]) >= tonumber(ARGV[2]) then
  return 0
end
redis.call("lpush", KEYS[1], ARGV[1])
return 1
`)

func (q *pendingQueue) Enqueue(ctx context.Context, key types.SubjectKey, lesson types.PendingLesson, maxDepth int) (bool, error) {
	if q == nil || q.rdb == nil {
		return false, errors.New("pending queue unavailable")
	}
	if maxDepth <= 0 {
		maxDepth = types.PendingQueueMaxDepth
	}
	raw, err := json.Marshal(lesson)
	if err != nil {
		return false, err
	}
	n, err := enqueueScript.Run(ctx, q.rdb, []string{queueKeyFor(key)}, raw, maxDepth).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (q *pendingQueue) Dequeue(ctx context.Context, key types.SubjectKey) (types.PendingLesson, bool, error) {
	var out types.PendingLesson
	if q == nil || q.rdb == nil {
		return out, false, errors.New("pending queue unavailable")
	}
	raw, err := q.rdb.RPop(ctx, queueKeyFor(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		// A corrupt entry is dropped, not requeued.
		q.log.Warn("Dropping undecodable pending lesson", "error", err)
		return out, false, nil
	}
	return out, true, nil
}

func (q *pendingQueue) Depth(ctx context.Context, key types.SubjectKey) (int, error) {
	if q == nil || q.rdb == nil {
		return 0, errors.New("pending queue unavailable")
	}
	n, err := q.rdb.LLen(ctx, queueKeyFor(key)).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
