package dispatch

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/coinpulse/herald/internal/db"
)

func strPtr(s string) *string { return &s }

func prefWithWindow(start, end, tz string) *db.Preference {
	pref := db.DefaultPreference(uuid.New())
	pref.QuietHoursStart = &start
	pref.QuietHoursEnd = &end
	pref.Timezone = tz
	return pref
}

func TestQuietWindow(t *testing.T) {
	// Fixed reference instant: 2026-03-10 23:30 UTC.
	at := func(hour, min int) time.Time {
		return time.Date(2026, 3, 10, hour, min, 0, 0, time.UTC)
	}

	tests := []struct {
		name     string
		pref     *db.Preference
		now      time.Time
		want     bool
		wantEnds time.Time
	}{
		{
			name: "no window configured",
			pref: db.DefaultPreference(uuid.New()),
			now:  at(23, 30),
			want: false,
		},
		{
			name: "only start configured",
			pref: func() *db.Preference {
				p := db.DefaultPreference(uuid.New())
				p.QuietHoursStart = strPtr("22:00")
				return p
			}(),
			now:  at(23, 30),
			want: false,
		},
		{
			name: "zero-length window never matches",
			pref: prefWithWindow("08:00", "08:00", "UTC"),
			now:  at(8, 0),
			want: false,
		},
		{
			name:     "same-day window, inside",
			pref:     prefWithWindow("09:00", "17:00", "UTC"),
			now:      at(12, 0),
			want:     true,
			wantEnds: at(17, 0),
		},
		{
			name: "same-day window, before start",
			pref: prefWithWindow("09:00", "17:00", "UTC"),
			now:  at(8, 59),
			want: false,
		},
		{
			name: "same-day window, end is exclusive",
			pref: prefWithWindow("09:00", "17:00", "UTC"),
			now:  at(17, 0),
			want: false,
		},
		{
			name:     "same-day window, start is inclusive",
			pref:     prefWithWindow("09:00", "17:00", "UTC"),
			now:      at(9, 0),
			want:     true,
			wantEnds: at(17, 0),
		},
		{
			name:     "overnight window, evening segment defers to tomorrow",
			pref:     prefWithWindow("22:00", "08:00", "UTC"),
			now:      at(23, 30),
			want:     true,
			wantEnds: time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC),
		},
		{
			name:     "overnight window, morning segment defers to today",
			pref:     prefWithWindow("22:00", "08:00", "UTC"),
			now:      at(6, 0),
			want:     true,
			wantEnds: at(8, 0),
		},
		{
			name: "overnight window, daytime gap",
			pref: prefWithWindow("22:00", "08:00", "UTC"),
			now:  at(12, 0),
			want: false,
		},
		{
			name: "timezone shifts the window",
			// 23:30 UTC is 18:30 in New York (March, EDT): outside 22:00-08:00.
			pref: prefWithWindow("22:00", "08:00", "America/New_York"),
			now:  at(23, 30),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ends, err := quietWindow(tt.pref, tt.now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("quietWindow() = %v, want %v", got, tt.want)
			}
			if tt.want && !ends.Equal(tt.wantEnds) {
				t.Errorf("window ends at %v, want %v", ends, tt.wantEnds)
			}
		})
	}
}

func TestQuietWindow_Errors(t *testing.T) {
	t.Run("malformed clock value", func(t *testing.T) {
		_, _, err := quietWindow(prefWithWindow("25:99", "08:00", "UTC"), time.Now())
		if err == nil {
			t.Fatal("expected error for malformed clock value")
		}
		if !strings.Contains(err.Error(), "invalid quiet hours time") {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("unknown timezone", func(t *testing.T) {
		_, _, err := quietWindow(prefWithWindow("22:00", "08:00", "Mars/Olympus"), time.Now())
		if err == nil {
			t.Fatal("expected error for unknown timezone")
		}
		if !strings.Contains(err.Error(), "invalid timezone") {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"08:30", 510, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"garbage", 0, true},
	}

	for _, tt := range tests {
		got, err := parseClock(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseClock(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseClock(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseClock(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
