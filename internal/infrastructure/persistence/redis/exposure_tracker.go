package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skillforge/mastery-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPOSURE TRACKER
// One sorted set per student: members are item IDs, scores the
// millisecond timestamp of the last exposure. Selection reads the
// scores for its candidate batch to break ties toward the item shown
// least recently.
// ══════════════════════════════════════════════════════════════════════════════

// ExposureTracker implements item.ExposureTracker on Redis.
type ExposureTracker struct {
	cache *Cache
}

// NewExposureTracker creates an exposure tracker over the shared
// Redis client.
func NewExposureTracker(cache *Cache) *ExposureTracker {
	return &ExposureTracker{cache: cache}
}

// RecordExposure notes that the student was shown the item. Re-showing
// an item moves its score forward; the whole set expires after the
// exposure window so inactive students cost nothing.
func (t *ExposureTracker) RecordExposure(ctx context.Context, studentID shared.StudentID, itemID shared.ItemID, at time.Time) error {
	if studentID.IsEmpty() {
		return shared.ErrInvalidStudentID
	}
	if itemID.IsEmpty() {
		return shared.ErrInvalidItemID
	}

	key := ExposureKey(string(studentID))
	pipe := t.cache.Client().Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: string(itemID),
	})
	pipe.Expire(ctx, key, TTLExposureWindow)
	_, err := pipe.Exec(ctx)
	return err
}

// LastExposure returns when the student last saw the item, or the zero
// time if never.
func (t *ExposureTracker) LastExposure(ctx context.Context, studentID shared.StudentID, itemID shared.ItemID) (time.Time, error) {
	score, err := t.cache.Client().ZScore(ctx, ExposureKey(string(studentID)), string(itemID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return time.UnixMilli(int64(score)).UTC(), nil
}

// LastExposures returns exposure times for a batch of items in a
// single round trip. Items never shown map to the zero time.
func (t *ExposureTracker) LastExposures(ctx context.Context, studentID shared.StudentID, itemIDs []shared.ItemID) (map[shared.ItemID]time.Time, error) {
	result := make(map[shared.ItemID]time.Time, len(itemIDs))
	if len(itemIDs) == 0 {
		return result, nil
	}

	key := ExposureKey(string(studentID))
	pipe := t.cache.Client().Pipeline()
	cmds := make([]*redis.FloatCmd, len(itemIDs))
	for i, id := range itemIDs {
		cmds[i] = pipe.ZScore(ctx, key, string(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	for i, cmd := range cmds {
		score, err := cmd.Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				result[itemIDs[i]] = time.Time{}
				continue
			}
			return nil, err
		}
		result[itemIDs[i]] = time.UnixMilli(int64(score)).UTC()
	}
	return result, nil
}
