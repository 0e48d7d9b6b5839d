// Package digest accumulates notifications that were diverted from instant
// delivery, keyed by user and category, until a batch job flushes them.
package digest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Item is one suppressed notification awaiting batched delivery.
type Item struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	CategoryID string          `json:"category_id"`
	Title      string          `json:"title"`
	Body       string          `json:"body"`
	Data       json.RawMessage `json:"data,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Batch is one user's drained queue, grouped by category, ready to send.
type Batch struct {
	UserID      string             `json:"user_id"`
	Items       map[string][]*Item `json:"items"` // category id -> items
	Total       int                `json:"total"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// Queue stores digest items per user. Drain does not clear: the sending job
// drains, sends, then clears, accepting an at-least-once delivery risk if it
// crashes between send and clear. The queue itself enforces no atomicity
// across the two calls.
type Queue interface {
	// Enqueue appends a new item with a generated id and timestamp.
	Enqueue(ctx context.Context, userID, categoryID, title, body string, data json.RawMessage) (*Item, error)

	// Drain returns the user's pending items grouped by category id.
	Drain(ctx context.Context, userID string) (map[string][]*Item, error)

	// Clear removes all of the user's items across every category.
	Clear(ctx context.Context, userID string) error

	// Users lists users with at least one pending item, for the batch job.
	Users(ctx context.Context) ([]string, error)
}

// MemoryQueue is an in-process Queue for tests and single-node dev runs.
type MemoryQueue struct {
	mu    sync.Mutex
	items map[string][]*Item // user id -> items in arrival order
	now   func() time.Time
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		items: make(map[string][]*Item),
		now:   time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.now = now
}

func (q *MemoryQueue) Enqueue(ctx context.Context, userID, categoryID, title, body string, data json.RawMessage) (*Item, error) {
	item := &Item{
		ID:         uuid.New().String(),
		UserID:     userID,
		CategoryID: categoryID,
		Title:      title,
		Body:       body,
		Data:       data,
		CreatedAt:  q.now(),
	}

	q.mu.Lock()
	q.items[userID] = append(q.items[userID], item)
	q.mu.Unlock()

	return item, nil
}

func (q *MemoryQueue) Drain(ctx context.Context, userID string) (map[string][]*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	grouped := make(map[string][]*Item)
	for _, item := range q.items[userID] {
		cp := *item
		grouped[item.CategoryID] = append(grouped[item.CategoryID], &cp)
	}
	return grouped, nil
}

func (q *MemoryQueue) Clear(ctx context.Context, userID string) error {
	q.mu.Lock()
	delete(q.items, userID)
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Users(ctx context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	users := make([]string, 0, len(q.items))
	for userID, items := range q.items {
		if len(items) > 0 {
			users = append(users, userID)
		}
	}
	return users, nil
}

// NewBatch groups drained items into a sendable batch.
func NewBatch(userID string, grouped map[string][]*Item, now time.Time) *Batch {
	total := 0
	for _, items := range grouped {
		total += len(items)
	}
	return &Batch{
		UserID:      userID,
		Items:       grouped,
		Total:       total,
		GeneratedAt: now,
	}
}
