package prefs

import (
	"fmt"
	"time"

	"github.com/lalithlochan/cirrus/internal/category"
)

// Partial updates carry optional fields: only non-nil fields change the
// stored record, so "unset" and "set to zero value" stay distinguishable.

// GlobalUpdate changes the user's top-level toggles.
type GlobalUpdate struct {
	Enabled  *bool       `json:"enabled,omitempty"`
	Channels *ChannelSet `json:"channels,omitempty"`
}

// CategoryUpdate changes one per-category record.
type CategoryUpdate struct {
	Enabled   *bool       `json:"enabled,omitempty"`
	Channels  *ChannelSet `json:"channels,omitempty"`
	Frequency *Frequency  `json:"frequency,omitempty"`
	Digest    *bool       `json:"digest,omitempty"`
}

// DayUpdate replaces the quiet-hour ranges for a single weekday (0 = Sunday).
type DayUpdate struct {
	Day    int         `json:"day"`
	Ranges []TimeRange `json:"ranges"`
}

// QuietHoursUpdate changes the suppression schedule.
type QuietHoursUpdate struct {
	Enabled     *bool       `json:"enabled,omitempty"`
	Timezone    *string     `json:"timezone,omitempty"`
	Days        []DayUpdate `json:"days,omitempty"`
	AllowUrgent *bool       `json:"allow_urgent,omitempty"`
}

// DigestUpdate changes the digest delivery settings.
type DigestUpdate struct {
	Enabled   *bool      `json:"enabled,omitempty"`
	Frequency *Frequency `json:"frequency,omitempty"`
	DayOfWeek *int       `json:"day_of_week,omitempty"`
	TimeOfDay *string    `json:"time_of_day,omitempty"`
	Timezone  *string    `json:"timezone,omitempty"`
}

// ApplyGlobal mutates p's top-level toggles in place. The Apply functions
// are shared by every Store backend so validation stays in one place.
func ApplyGlobal(p *Preferences, upd GlobalUpdate) {
	if upd.Enabled != nil {
		p.Enabled = *upd.Enabled
	}
	if upd.Channels != nil {
		p.Channels = *upd.Channels
	}
}

// ApplyCategory validates and applies one per-category update.
func ApplyCategory(p *Preferences, reg *category.Registry, categoryID string, upd CategoryUpdate) (*CategoryPreference, error) {
	cat, err := reg.Get(categoryID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCategoryNotFound, categoryID)
	}

	if upd.Enabled != nil && !*upd.Enabled && !cat.AllowDisable {
		return nil, fmt.Errorf("%w: %s", ErrMandatoryCategory, categoryID)
	}
	if upd.Frequency != nil && !ValidFrequency(*upd.Frequency) {
		return nil, &ValidationError{Field: "frequency", Msg: string(*upd.Frequency)}
	}

	cp, ok := p.Categories[categoryID]
	if !ok {
		// First write for this category: start from the catalog defaults.
		cp = &CategoryPreference{
			CategoryID: categoryID,
			Enabled:    cat.DefaultEnabled,
			Channels: ChannelSet{
				Email: cat.DefaultRouting.Email,
				Push:  cat.DefaultRouting.Push,
				SMS:   cat.DefaultRouting.SMS,
				InApp: cat.DefaultRouting.InApp,
			},
			Frequency: FrequencyInstant,
		}
		p.Categories[categoryID] = cp
	}

	if upd.Enabled != nil {
		cp.Enabled = *upd.Enabled
	}
	if upd.Channels != nil {
		cp.Channels = *upd.Channels
	}
	if upd.Frequency != nil {
		cp.Frequency = *upd.Frequency
	}
	if upd.Digest != nil {
		cp.Digest = *upd.Digest
	}

	return cp, nil
}

// ApplyQuietHours validates and applies a quiet-hours update.
func ApplyQuietHours(p *Preferences, upd QuietHoursUpdate) (*QuietHours, error) {
	if upd.Timezone != nil {
		if _, err := time.LoadLocation(*upd.Timezone); err != nil {
			return nil, &ValidationError{Field: "timezone", Msg: *upd.Timezone}
		}
	}

	seen := make(map[int]bool)
	for _, day := range upd.Days {
		if day.Day < 0 || day.Day > 6 {
			return nil, &ValidationError{Field: "day", Msg: fmt.Sprintf("day-of-week %d out of range 0-6", day.Day)}
		}
		if seen[day.Day] {
			return nil, &ValidationError{Field: "day", Msg: fmt.Sprintf("duplicate entry for day %d", day.Day)}
		}
		seen[day.Day] = true
		for _, r := range day.Ranges {
			if _, err := ParseClock(r.Start); err != nil {
				return nil, &ValidationError{Field: "start", Msg: err.Error()}
			}
			if _, err := ParseClock(r.End); err != nil {
				return nil, &ValidationError{Field: "end", Msg: err.Error()}
			}
		}
	}

	if upd.Enabled != nil {
		p.QuietHours.Enabled = *upd.Enabled
	}
	if upd.Timezone != nil {
		p.QuietHours.Timezone = *upd.Timezone
	}
	if upd.AllowUrgent != nil {
		p.QuietHours.AllowUrgent = *upd.AllowUrgent
	}
	for _, day := range upd.Days {
		p.QuietHours.Days[day.Day] = DaySchedule{Ranges: append([]TimeRange(nil), day.Ranges...)}
	}

	return &p.QuietHours, nil
}

// ApplyDigest validates and applies a digest-settings update.
func ApplyDigest(p *Preferences, upd DigestUpdate) (*DigestSettings, error) {
	if upd.Frequency != nil && *upd.Frequency != FrequencyDaily && *upd.Frequency != FrequencyWeekly {
		return nil, &ValidationError{Field: "frequency", Msg: "digest frequency must be daily or weekly"}
	}
	if upd.DayOfWeek != nil && (*upd.DayOfWeek < 0 || *upd.DayOfWeek > 6) {
		return nil, &ValidationError{Field: "day_of_week", Msg: fmt.Sprintf("day-of-week %d out of range 0-6", *upd.DayOfWeek)}
	}
	if upd.TimeOfDay != nil {
		if _, err := ParseClock(*upd.TimeOfDay); err != nil {
			return nil, &ValidationError{Field: "time_of_day", Msg: err.Error()}
		}
	}
	if upd.Timezone != nil {
		if _, err := time.LoadLocation(*upd.Timezone); err != nil {
			return nil, &ValidationError{Field: "timezone", Msg: *upd.Timezone}
		}
	}

	if upd.Enabled != nil {
		p.Digest.Enabled = *upd.Enabled
	}
	if upd.Frequency != nil {
		p.Digest.Frequency = *upd.Frequency
	}
	if upd.DayOfWeek != nil {
		dow := *upd.DayOfWeek
		p.Digest.DayOfWeek = &dow
	}
	if upd.TimeOfDay != nil {
		p.Digest.TimeOfDay = *upd.TimeOfDay
	}
	if upd.Timezone != nil {
		p.Digest.Timezone = *upd.Timezone
	}

	return &p.Digest, nil
}
