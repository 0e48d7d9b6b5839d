package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/cirrus/internal/digest"
)

const (
	digestItemsKeyPrefix = "digest:items:"
	digestUsersKey       = "digest:users"
)

// DigestQueue is a Redis-backed digest.Queue. Each user's pending items live
// in one list, and a set tracks which users have anything pending so the
// batch job can discover them without scanning keys. Drain and Clear are two
// separate round trips: a crash between them re-delivers the batch, which is
// the documented at-least-once behavior.
type DigestQueue struct {
	client *Client
	logger *zap.Logger
	now    func() time.Time
}

// NewDigestQueue creates a digest queue on top of an existing Redis client.
func NewDigestQueue(client *Client, logger *zap.Logger) *DigestQueue {
	return &DigestQueue{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (q *DigestQueue) SetClock(now func() time.Time) {
	q.now = now
}

func itemsKey(userID string) string {
	return digestItemsKeyPrefix + userID
}

func (q *DigestQueue) Enqueue(ctx context.Context, userID, categoryID, title, body string, data json.RawMessage) (*digest.Item, error) {
	item := &digest.Item{
		ID:         uuid.New().String(),
		UserID:     userID,
		CategoryID: categoryID,
		Title:      title,
		Body:       body,
		Data:       data,
		CreatedAt:  q.now(),
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("marshal digest item: %w", err)
	}

	pipe := q.client.rdb.Pipeline()
	pipe.RPush(ctx, itemsKey(userID), payload)
	pipe.SAdd(ctx, digestUsersKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("enqueue digest item: %w", err)
	}

	q.logger.Debug("digest item enqueued",
		zap.String("user_id", userID),
		zap.String("category_id", categoryID),
		zap.String("item_id", item.ID),
	)

	return item, nil
}

func (q *DigestQueue) Drain(ctx context.Context, userID string) (map[string][]*digest.Item, error) {
	raw, err := q.client.rdb.LRange(ctx, itemsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("drain digest queue: %w", err)
	}

	grouped := make(map[string][]*digest.Item)
	for _, entry := range raw {
		var item digest.Item
		if err := json.Unmarshal([]byte(entry), &item); err != nil {
			q.logger.Warn("skipping malformed digest item", zap.Error(err), zap.String("user_id", userID))
			continue
		}
		grouped[item.CategoryID] = append(grouped[item.CategoryID], &item)
	}
	return grouped, nil
}

func (q *DigestQueue) Clear(ctx context.Context, userID string) error {
	pipe := q.client.rdb.Pipeline()
	pipe.Del(ctx, itemsKey(userID))
	pipe.SRem(ctx, digestUsersKey, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("clear digest queue: %w", err)
	}
	return nil
}

func (q *DigestQueue) Users(ctx context.Context) ([]string, error) {
	users, err := q.client.rdb.SMembers(ctx, digestUsersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list digest users: %w", err)
	}
	return users, nil
}
