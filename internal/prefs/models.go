// Package prefs holds per-user notification preference records and the
// stores that persist them.
package prefs

import (
	"fmt"
	"time"
)

// Channel identifies a delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in_app"
)

// Channels lists every delivery channel in a stable order.
var Channels = []Channel{ChannelEmail, ChannelPush, ChannelSMS, ChannelInApp}

// ValidChannel reports whether ch names a known delivery channel.
func ValidChannel(ch Channel) bool {
	switch ch {
	case ChannelEmail, ChannelPush, ChannelSMS, ChannelInApp:
		return true
	}
	return false
}

// ChannelSet is a fixed record of per-channel toggles. It serves both as the
// user's global toggle set and as a per-category override.
type ChannelSet struct {
	Email bool `json:"email"`
	Push  bool `json:"push"`
	SMS   bool `json:"sms"`
	InApp bool `json:"in_app"`
}

// Enabled reports whether the given channel is on in this set.
func (s ChannelSet) Enabled(ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return s.Email
	case ChannelPush:
		return s.Push
	case ChannelSMS:
		return s.SMS
	case ChannelInApp:
		return s.InApp
	}
	return false
}

// Frequency controls how often notifications for a category are delivered.
type Frequency string

const (
	FrequencyInstant Frequency = "instant"
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
)

// ValidFrequency reports whether f is a known delivery frequency.
func ValidFrequency(f Frequency) bool {
	switch f {
	case FrequencyInstant, FrequencyHourly, FrequencyDaily, FrequencyWeekly:
		return true
	}
	return false
}

// CategoryPreference is a user's per-category record. CategoryID always
// references an entry in the category registry.
type CategoryPreference struct {
	CategoryID string     `json:"category_id"`
	Enabled    bool       `json:"enabled"`
	Channels   ChannelSet `json:"channels"`
	Frequency  Frequency  `json:"frequency"`
	Digest     bool       `json:"digest"`
}

// TimeRange is a quiet-hours window in 24-hour local time. Start > End means
// the window wraps past midnight into the next calendar day.
type TimeRange struct {
	Start string `json:"start"` // "HH:MM"
	End   string `json:"end"`   // "HH:MM"
}

// DaySchedule holds the quiet-hour ranges for one weekday.
type DaySchedule struct {
	Ranges []TimeRange `json:"ranges"`
}

// QuietHours is the user's suppression schedule. Days is indexed by
// time.Weekday order: 0 = Sunday through 6 = Saturday.
type QuietHours struct {
	Enabled     bool           `json:"enabled"`
	Timezone    string         `json:"timezone"`
	Days        [7]DaySchedule `json:"days"`
	AllowUrgent bool           `json:"allow_urgent"`
}

// DigestSettings controls batched delivery of deferred notifications.
type DigestSettings struct {
	Enabled   bool      `json:"enabled"`
	Frequency Frequency `json:"frequency"` // daily or weekly
	DayOfWeek *int      `json:"day_of_week,omitempty"`
	TimeOfDay string    `json:"time_of_day"` // "HH:MM"
	Timezone  string    `json:"timezone"`
}

// Preferences is the aggregate preference record for one user. The
// unsubscribe token is generated once at creation and never changes.
type Preferences struct {
	UserID           string                         `json:"user_id"`
	Enabled          bool                           `json:"enabled"`
	Channels         ChannelSet                     `json:"channels"`
	Categories       map[string]*CategoryPreference `json:"categories"`
	QuietHours       QuietHours                     `json:"quiet_hours"`
	Digest           DigestSettings                 `json:"digest"`
	UnsubscribeToken string                         `json:"-"`
	Version          int64                          `json:"-"`
	CreatedAt        time.Time                      `json:"created_at"`
	UpdatedAt        time.Time                      `json:"updated_at"`
}

// Clone returns a deep copy so callers can hand records out without sharing
// mutable state with the store.
func (p *Preferences) Clone() *Preferences {
	cp := *p
	cp.Categories = make(map[string]*CategoryPreference, len(p.Categories))
	for id, c := range p.Categories {
		cc := *c
		cp.Categories[id] = &cc
	}
	for d := range p.QuietHours.Days {
		ranges := p.QuietHours.Days[d].Ranges
		if ranges != nil {
			cp.QuietHours.Days[d].Ranges = append([]TimeRange(nil), ranges...)
		}
	}
	if p.Digest.DayOfWeek != nil {
		dow := *p.Digest.DayOfWeek
		cp.Digest.DayOfWeek = &dow
	}
	return &cp
}

// ParseClock parses a "HH:MM" string into minutes since local midnight.
func ParseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("malformed time %q: want HH:MM", s)
	}
	if len(s) != 5 || s[2] != ':' || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("malformed time %q: want HH:MM", s)
	}
	return h*60 + m, nil
}
