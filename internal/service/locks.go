package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fable-server/internal/models"
)

// StoryLocker serializes generation per story. The lock is the fast-fail
// layer; the unique (story_id, position) index in the segment table is the
// backstop should a lock ever expire mid-generation.
type StoryLocker interface {
	// Acquire takes the per-story lock and returns a release token.
	// Returns models.ErrConcurrencyConflict when the lock is already held.
	Acquire(ctx context.Context, storyID uuid.UUID) (token string, err error)
	// Release frees the lock only if token still owns it.
	Release(ctx context.Context, storyID uuid.UUID, token string)
}

// releaseScript deletes the lock key only when it still holds our token, so a
// slow request can never release a lock re-acquired by a newer one.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisStoryLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStoryLocker creates a StoryLocker backed by Redis SET NX with the
// given TTL. The TTL bounds lock leakage if a process dies while generating.
func NewRedisStoryLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) StoryLocker {
	return &redisStoryLocker{client: client, ttl: ttl, logger: logger.Named("RedisStoryLocker")}
}

func lockKey(storyID uuid.UUID) string {
	return "story_lock:" + storyID.String()
}

func (l *redisStoryLocker) Acquire(ctx context.Context, storyID uuid.UUID) (string, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey(storyID), token, l.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to acquire story lock for '%s': %w", storyID, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: story '%s'", models.ErrConcurrencyConflict, storyID)
	}
	return token, nil
}

func (l *redisStoryLocker) Release(ctx context.Context, storyID uuid.UUID, token string) {
	if err := releaseScript.Run(ctx, l.client, []string{lockKey(storyID)}, token).Err(); err != nil {
		l.logger.Warn("Failed to release story lock",
			zap.Stringer("storyID", storyID),
			zap.Error(err))
	}
}
