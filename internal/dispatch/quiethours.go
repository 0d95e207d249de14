package dispatch

import (
	"fmt"
	"time"

	"github.com/coinpulse/herald/internal/db"
)

// parseClock parses a local wall-clock "HH:MM" value into minutes since
// midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid quiet hours time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// quietWindow reports whether now falls inside the user's quiet-hours window
// [start, end) evaluated in the user's timezone, and if so, the instant the
// window ends. Windows may wrap midnight (e.g. 22:00-08:00). A preference
// without both bounds has no quiet hours; start == end is a zero-length
// window and never matches.
func quietWindow(pref *db.Preference, now time.Time) (bool, time.Time, error) {
	if pref.QuietHoursStart == nil || pref.QuietHoursEnd == nil {
		return false, time.Time{}, nil
	}

	startMin, err := parseClock(*pref.QuietHoursStart)
	if err != nil {
		return false, time.Time{}, err
	}
	endMin, err := parseClock(*pref.QuietHoursEnd)
	if err != nil {
		return false, time.Time{}, err
	}
	if startMin == endMin {
		return false, time.Time{}, nil
	}

	loc, err := time.LoadLocation(pref.Timezone)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("invalid timezone %q: %w", pref.Timezone, err)
	}

	local := now.In(loc)
	nowMin := local.Hour()*60 + local.Minute()

	endToday := time.Date(local.Year(), local.Month(), local.Day(), endMin/60, endMin%60, 0, 0, loc)

	if startMin < endMin {
		// Same-day window, e.g. 09:00-17:00.
		if nowMin >= startMin && nowMin < endMin {
			return true, endToday, nil
		}
		return false, time.Time{}, nil
	}

	// Window wraps midnight, e.g. 22:00-08:00.
	if nowMin >= startMin {
		return true, endToday.AddDate(0, 0, 1), nil
	}
	if nowMin < endMin {
		return true, endToday, nil
	}

	return false, time.Time{}, nil
}
