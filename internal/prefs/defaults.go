package prefs

import (
	"time"

	"github.com/lalithlochan/cirrus/internal/category"
)

// Defaults synthesizes a fresh preference record for a user who has never
// touched their settings: one category preference per registry entry copying
// the catalog defaults, an overnight quiet-hours schedule (disabled until the
// user opts in), a disabled digest, and a new unsubscribe token.
func Defaults(userID string, reg *category.Registry, now time.Time) (*Preferences, error) {
	token, err := NewUnsubscribeToken()
	if err != nil {
		return nil, err
	}

	cats := make(map[string]*CategoryPreference)
	for _, c := range reg.List() {
		cats[c.ID] = &CategoryPreference{
			CategoryID: c.ID,
			Enabled:    c.DefaultEnabled,
			Channels: ChannelSet{
				Email: c.DefaultRouting.Email,
				Push:  c.DefaultRouting.Push,
				SMS:   c.DefaultRouting.SMS,
				InApp: c.DefaultRouting.InApp,
			},
			Frequency: FrequencyInstant,
			Digest:    false,
		}
	}

	return &Preferences{
		UserID:           userID,
		Enabled:          true,
		Channels:         ChannelSet{Email: true, Push: true, SMS: true, InApp: true},
		Categories:       cats,
		QuietHours:       defaultQuietHours(),
		Digest:           defaultDigest(),
		UnsubscribeToken: token,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// defaultQuietHours is overnight on every day: 22:00-08:00, extended to
// 23:00-09:00 on Friday and Saturday nights.
func defaultQuietHours() QuietHours {
	qh := QuietHours{
		Enabled:     false,
		Timezone:    "UTC",
		AllowUrgent: true,
	}
	for d := 0; d < 7; d++ {
		r := TimeRange{Start: "22:00", End: "08:00"}
		if d == int(time.Friday) || d == int(time.Saturday) {
			r = TimeRange{Start: "23:00", End: "09:00"}
		}
		qh.Days[d] = DaySchedule{Ranges: []TimeRange{r}}
	}
	return qh
}

func defaultDigest() DigestSettings {
	return DigestSettings{
		Enabled:   false,
		Frequency: FrequencyDaily,
		TimeOfDay: "08:00",
		Timezone:  "UTC",
	}
}
