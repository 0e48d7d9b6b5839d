// Package worker runs the periodic digest flush: drain each due user's
// queue, send the batch, then clear.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/cirrus/internal/digest"
	"github.com/lalithlochan/cirrus/internal/metrics"
	"github.com/lalithlochan/cirrus/internal/prefs"
)

// Store is the slice of the preference store the worker needs.
type Store interface {
	Get(ctx context.Context, userID string) (*prefs.Preferences, error)
}

// DigestSender delivers an assembled batch (email, hand-off queue, or log).
type DigestSender interface {
	Send(ctx context.Context, batch *digest.Batch) error
}

// Config holds worker settings.
type Config struct {
	PollInterval time.Duration
}

// Worker flushes pending digests on a fixed tick. Delivery is at-least-once:
// a crash between send and clear re-delivers the batch on the next run, and
// the last-sent bookkeeping is process-local, so a restart inside a digest
// period may flush newly queued items early rather than late.
type Worker struct {
	store  Store
	queue  digest.Queue
	sender DigestSender
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// New creates a digest worker.
func New(store Store, queue digest.Queue, sender DigestSender, cfg Config, logger *zap.Logger) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Minute
	}

	return &Worker{
		store:    store,
		queue:    queue,
		sender:   sender,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

// SetClock overrides the time source, for tests.
func (w *Worker) SetClock(now func() time.Time) {
	w.now = now
}

// Start runs the flush loop until the context is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("digest worker stopping")
			return
		case <-ticker.C:
			w.FlushDue(ctx)
		}
	}
}

// FlushDue flushes every user whose digest schedule has come due since the
// last successful flush.
func (w *Worker) FlushDue(ctx context.Context) {
	users, err := w.queue.Users(ctx)
	if err != nil {
		w.logger.Error("failed to list pending digest users", zap.Error(err))
		return
	}

	for _, userID := range users {
		if err := w.flushUser(ctx, userID); err != nil {
			w.logger.Error("digest flush failed",
				zap.Error(err),
				zap.String("user_id", userID),
			)
			metrics.RecordDigestFlush("failed")
		}
	}
}

func (w *Worker) flushUser(ctx context.Context, userID string) error {
	p, err := w.store.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !p.Digest.Enabled {
		return nil
	}

	due, ok := lastOccurrence(p.Digest, w.now())
	if !ok {
		return nil
	}

	w.mu.Lock()
	sent := w.lastSent[userID]
	w.mu.Unlock()
	if !sent.Before(due) {
		return nil
	}

	grouped, err := w.queue.Drain(ctx, userID)
	if err != nil {
		return err
	}
	if len(grouped) == 0 {
		return nil
	}

	batch := digest.NewBatch(userID, grouped, w.now())
	if err := w.sender.Send(ctx, batch); err != nil {
		return err
	}

	// Clear only after a confirmed send: at-least-once, never lost.
	if err := w.queue.Clear(ctx, userID); err != nil {
		return err
	}

	w.mu.Lock()
	w.lastSent[userID] = w.now()
	w.mu.Unlock()

	metrics.RecordDigestFlush("sent")
	w.logger.Info("digest flushed",
		zap.String("user_id", userID),
		zap.Int("items", batch.Total),
		zap.Int("categories", len(batch.Items)),
	)

	return nil
}

// lastOccurrence computes the most recent scheduled digest time at or before
// now in the user's timezone. Returns false when the settings cannot yield a
// schedule (bad time string).
func lastOccurrence(ds prefs.DigestSettings, now time.Time) (time.Time, bool) {
	loc, err := time.LoadLocation(ds.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	mins, err := prefs.ParseClock(ds.TimeOfDay)
	if err != nil {
		return time.Time{}, false
	}

	candidate := time.Date(local.Year(), local.Month(), local.Day(), mins/60, mins%60, 0, 0, loc)

	switch ds.Frequency {
	case prefs.FrequencyWeekly:
		dow := 1 // default Monday
		if ds.DayOfWeek != nil {
			dow = *ds.DayOfWeek
		}
		back := (int(local.Weekday()) - dow + 7) % 7
		candidate = candidate.AddDate(0, 0, -back)
		if candidate.After(local) {
			candidate = candidate.AddDate(0, 0, -7)
		}
	default: // daily
		if candidate.After(local) {
			candidate = candidate.AddDate(0, 0, -1)
		}
	}

	return candidate, true
}
