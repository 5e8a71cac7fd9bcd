package domain

import (
	"testing"
	"time"
)

// helper: build a time in given tz and return its UTC
func mustLocalUTC(t *testing.T, tz string, y int, m time.Month, d, hh, mm int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation(tz)
	if err != nil {
		t.Fatalf("load tz: %v", err)
	}
	lt := time.Date(y, m, d, hh, mm, 0, 0, loc)
	return lt.UTC()
}

func TestInWindow_NormalAndWrap(t *testing.T) {
	cases := []struct {
		name           string
		local, from, to int
		want           bool
	}{
		{"inside normal", 10 * 60, 9 * 60, 21 * 60, true},
		{"before normal", 8 * 60, 9 * 60, 21 * 60, false},
		{"end is exclusive", 21 * 60, 9 * 60, 21 * 60, false},
		{"wrap evening", 23 * 60, 22 * 60, 2 * 60, true},
		{"wrap morning", 60, 22 * 60, 2 * 60, true},
		{"wrap midday", 12 * 60, 22 * 60, 2 * 60, false},
		{"zero length", 12 * 60, 5 * 60, 5 * 60, false},
	}
	for _, tc := range cases {
		if got := InWindow(tc.local, tc.from, tc.to); got != tc.want {
			t.Fatalf("%s: want %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestInActiveWindow_UsesUserTimezone(t *testing.T) {
	// 08:30 in Moscow is 05:30 UTC: outside 09:00–21:00 Moscow time.
	now := mustLocalUTC(t, "Europe/Moscow", 2025, time.May, 5, 8, 30)
	if InActiveWindow(now, "Europe/Moscow", 9*60, 21*60) {
		t.Fatalf("want outside window")
	}
	// Same instant is inside a 05:00–06:00 UTC window.
	if !InActiveWindow(now, "UTC", 5*60, 6*60) {
		t.Fatalf("want inside window")
	}
}

func TestInActiveWindow_UnsetMeansAlways(t *testing.T) {
	now := mustLocalUTC(t, "UTC", 2025, time.May, 5, 3, 0)
	if !InActiveWindow(now, "UTC", 0, 0) {
		t.Fatalf("unset window must accept")
	}
}

func TestPreferencesAccepts(t *testing.T) {
	now := mustLocalUTC(t, "UTC", 2025, time.May, 1, 12, 0)
	buy := InsiderTrade{Company: "ACME", TransactionType: "Buy", TotalValue: 150_000}
	sell := InsiderTrade{Company: "ACME", TransactionType: "Sell", TotalValue: 50_000}

	p := DefaultPreferences()
	if !p.Accepts(buy, now) || !p.Accepts(sell, now) {
		t.Fatalf("defaults must accept everything")
	}

	p.NotifySells = false
	if p.Accepts(sell, now) {
		t.Fatalf("sells disabled")
	}

	p = DefaultPreferences()
	p.MinValue = 100_000
	if p.Accepts(sell, now) || !p.Accepts(buy, now) {
		t.Fatalf("min value filter broken")
	}

	p = DefaultPreferences()
	p.ActiveFromM, p.ActiveToM = 13*60, 14*60
	if p.Accepts(buy, now) {
		t.Fatalf("outside active hours")
	}
}
