package feed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// cursorTTL is the inactivity window after which a consumer's position is
	// forgotten; the next poll starts fresh at the tip. The window is keyed to
	// polls, not deliveries: an active consumer on a quiet feed must never
	// lose its position.
	cursorTTL = 24 * time.Hour

	livenessTTL = 3 * time.Hour
)

// RedisCursorStore keeps feed cursors and liveness flags in redis with TTLs.
type RedisCursorStore struct {
	rdb *redis.Client
}

func NewRedisCursorStore(rdb *redis.Client) *RedisCursorStore {
	return &RedisCursorStore{rdb: rdb}
}

func (s *RedisCursorStore) Cursor(ctx context.Context, queueID string) (int32, bool, error) {
	raw, err := s.rdb.Get(ctx, cursorKey(queueID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get cursor from redis: %w", err)
	}

	killmailID, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt cursor for queue %q: %w", queueID, err)
	}

	return int32(killmailID), true, nil
}

func (s *RedisCursorStore) SetCursor(ctx context.Context, queueID string, killmailID int32) error {
	if err := s.rdb.Set(ctx, cursorKey(queueID), int64(killmailID), cursorTTL).Err(); err != nil {
		return fmt.Errorf("failed to store cursor to redis: %w", err)
	}

	return nil
}

func (s *RedisCursorStore) Touch(ctx context.Context, queueID string) error {
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, livenessKey(queueID), "1", livenessTTL)
	pipe.Expire(ctx, cursorKey(queueID), cursorTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to refresh liveness in redis: %w", err)
	}

	return nil
}

func cursorKey(queueID string) string {
	return fmt.Sprintf("feed:cursor:%s", queueID)
}

func livenessKey(queueID string) string {
	return fmt.Sprintf("feed:live:%s", queueID)
}
