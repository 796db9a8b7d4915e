package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RecheckEntry queues a calculation whose output artifact could not be
// read yet: the job left the scheduler but its report is missing or
// truncated, so a later re-check decides the verdict.
type RecheckEntry struct {
	CalcID    string    `json:"calc_id"`
	JobID     string    `json:"job_id"`
	Reason    string    `json:"reason"`
	QueuedAt  time.Time `json:"queued_at"`
	NotBefore time.Time `json:"not_before"`
}

// RecheckQueue is a Redis-backed queue of pending re-checks, scored by the
// earliest time the re-check may run.
type RecheckQueue struct {
	rdb *redis.Client
}

// NewRecheckQueue creates a queue on an existing client.
func NewRecheckQueue(client *Client) *RecheckQueue {
	return &RecheckQueue{rdb: client.rdb}
}

const (
	queueKey  = "calcwatch:recheck"
	entryTTL  = 48 * time.Hour
	entryKeyF = "calcwatch:recheck:%s"
)

func entryKey(calcID string) string {
	return fmt.Sprintf(entryKeyF, calcID)
}

// Add queues a re-check that becomes due after delay. Re-adding the same
// calculation just pushes its due time back.
func (q *RecheckQueue) Add(ctx context.Context, e RecheckEntry, delay time.Duration) error {
	e.QueuedAt = time.Now()
	e.NotBefore = e.QueuedAt.Add(delay)

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal recheck entry: %w", err)
	}
	if err := q.rdb.Set(ctx, entryKey(e.CalcID), data, entryTTL).Err(); err != nil {
		return fmt.Errorf("failed to store recheck entry: %w", err)
	}
	if err := q.rdb.ZAdd(ctx, queueKey, redis.Z{
		Score:  float64(e.NotBefore.Unix()),
		Member: e.CalcID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to queue recheck: %w", err)
	}
	return nil
}

// Due returns up to limit entries whose re-check time has passed.
func (q *RecheckQueue) Due(ctx context.Context, limit int) ([]RecheckEntry, error) {
	ids, err := q.rdb.ZRangeByScore(ctx, queueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", time.Now().Unix()),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore failed: %w", err)
	}

	var out []RecheckEntry
	for _, id := range ids {
		data, err := q.rdb.Get(ctx, entryKey(id)).Bytes()
		if err == redis.Nil {
			// Entry expired but id still queued; drop it.
			q.rdb.ZRem(ctx, queueKey, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load recheck entry: %w", err)
		}
		var e RecheckEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recheck entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Remove drops a resolved entry.
func (q *RecheckQueue) Remove(ctx context.Context, calcID string) error {
	if err := q.rdb.ZRem(ctx, queueKey, calcID).Err(); err != nil {
		return fmt.Errorf("failed to remove from queue: %w", err)
	}
	return q.rdb.Del(ctx, entryKey(calcID)).Err()
}
