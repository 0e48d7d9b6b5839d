// Package decision evaluates whether a notification should be delivered,
// suppressed, or deferred to the user's digest.
package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/cirrus/internal/metrics"
	"github.com/lalithlochan/cirrus/internal/prefs"
)

// Decision is the outcome of one evaluation.
type Decision string

const (
	Deliver  Decision = "deliver"
	Suppress Decision = "suppress"
	Digest   Decision = "digest"
)

// Result carries the decision, a reason string for observability, and — when
// suppression is due to quiet hours — the moment the current quiet window
// ends, so callers can schedule a deferred retry.
type Result struct {
	Decision     Decision   `json:"decision"`
	Reason       string     `json:"reason"`
	NextActiveAt *time.Time `json:"next_active_at,omitempty"`
}

// PreferenceReader is the slice of the preference store the engine needs.
type PreferenceReader interface {
	Get(ctx context.Context, userID string) (*prefs.Preferences, error)
}

// Engine applies the delivery rule cascade. It is read-only: diverting to the
// digest is signalled to the caller, never performed here.
type Engine struct {
	store  PreferenceReader
	now    func() time.Time
	logger *zap.Logger
}

// New creates an engine reading from the given store.
func New(store PreferenceReader, logger *zap.Logger) *Engine {
	return &Engine{
		store:  store,
		now:    time.Now,
		logger: logger,
	}
}

// SetClock overrides the time source, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Evaluate runs the rule cascade for one (user, category, channel, urgency)
// tuple, short-circuiting on the first applicable rule:
//
//  1. no preference record        -> deliver (safe default for new users)
//  2. globally disabled           -> suppress
//  3. channel globally disabled   -> suppress
//  4. category disabled / channel off for category -> suppress;
//     digest-eligible non-instant -> digest (quiet hours never apply)
//  5. inside quiet hours          -> deliver on urgent override, else suppress
//  6. otherwise                   -> deliver
func (e *Engine) Evaluate(ctx context.Context, userID, categoryID string, channel prefs.Channel, urgent bool) (Result, error) {
	res, err := e.evaluate(ctx, userID, categoryID, channel, urgent)
	if err != nil {
		return Result{}, err
	}

	metrics.RecordDecision(string(res.Decision), res.Reason)
	e.logger.Debug("delivery decision",
		zap.String("user_id", userID),
		zap.String("category_id", categoryID),
		zap.String("channel", string(channel)),
		zap.Bool("urgent", urgent),
		zap.String("decision", string(res.Decision)),
		zap.String("reason", res.Reason),
	)

	return res, nil
}

func (e *Engine) evaluate(ctx context.Context, userID, categoryID string, channel prefs.Channel, urgent bool) (Result, error) {
	p, err := e.store.Get(ctx, userID)
	if errors.Is(err, prefs.ErrNotFound) {
		return Result{Decision: Deliver, Reason: "no preferences, using defaults"}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load preferences: %w", err)
	}

	if !p.Enabled {
		return Result{Decision: Suppress, Reason: "globally disabled"}, nil
	}
	if !p.Channels.Enabled(channel) {
		return Result{Decision: Suppress, Reason: "channel globally disabled"}, nil
	}

	if cp, ok := p.Categories[categoryID]; ok {
		if !cp.Enabled {
			return Result{Decision: Suppress, Reason: "category disabled"}, nil
		}
		if !cp.Channels.Enabled(channel) {
			return Result{Decision: Suppress, Reason: "channel disabled for category"}, nil
		}
		// Digest diversion wins over quiet hours unconditionally: a deferred
		// notification is batched regardless of the current window.
		if cp.Digest && cp.Frequency != prefs.FrequencyInstant {
			return Result{Decision: Digest, Reason: "deferred to digest"}, nil
		}
	}

	if p.QuietHours.Enabled {
		if inside, next := quietAt(&p.QuietHours, e.now()); inside {
			if urgent && p.QuietHours.AllowUrgent {
				return Result{Decision: Deliver, Reason: "urgent override"}, nil
			}
			return Result{Decision: Suppress, Reason: "in quiet hours", NextActiveAt: next}, nil
		}
	}

	return Result{Decision: Deliver, Reason: "all checks passed"}, nil
}

// EvaluateChannels evaluates every delivery channel for one (user, category,
// urgency) tuple. Each channel's decision is independent and side-effect-free,
// so no atomicity across the four calls is required.
func (e *Engine) EvaluateChannels(ctx context.Context, userID, categoryID string, urgent bool) (map[prefs.Channel]Result, error) {
	out := make(map[prefs.Channel]Result, len(prefs.Channels))
	for _, ch := range prefs.Channels {
		res, err := e.Evaluate(ctx, userID, categoryID, ch, urgent)
		if err != nil {
			return nil, err
		}
		out[ch] = res
	}
	return out, nil
}

// quietAt reports whether now falls inside the schedule and, if so, when the
// current window ends. A range whose start is later than its end wraps past
// midnight: containment is then cur >= start || cur < end.
func quietAt(qh *prefs.QuietHours, now time.Time) (bool, *time.Time) {
	loc, err := time.LoadLocation(qh.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	day := int(local.Weekday()) // Sunday = 0
	cur := local.Hour()*60 + local.Minute()

	for _, r := range qh.Days[day].Ranges {
		start, err := prefs.ParseClock(r.Start)
		if err != nil {
			continue
		}
		end, err := prefs.ParseClock(r.End)
		if err != nil {
			continue
		}

		var inside bool
		if start <= end {
			inside = cur >= start && cur < end
		} else {
			inside = cur >= start || cur < end
		}
		if inside {
			return true, nextActive(qh.Days[day].Ranges, local)
		}
	}

	return false, nil
}

// nextActive is the end of the day's first range on the current local day,
// rolled to the same time tomorrow if already past.
func nextActive(ranges []prefs.TimeRange, local time.Time) *time.Time {
	if len(ranges) == 0 {
		return nil
	}
	end, err := prefs.ParseClock(ranges[0].End)
	if err != nil {
		return nil
	}

	candidate := time.Date(local.Year(), local.Month(), local.Day(), end/60, end%60, 0, 0, local.Location())
	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return &candidate
}
