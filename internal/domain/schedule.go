package domain

import "time"

// InWindow returns true if local time (minutes since midnight) is inside active window.
// Supports wrap-around windows like 22:00–02:00 (fromM > toM).
func InWindow(localM, fromM, toM int) bool {
	if fromM == toM {
		return false // zero-length window
	}
	if fromM < toM {
		return localM >= fromM && localM < toM
	}
	// wrap: [from..1440) U [0..to)
	return localM >= fromM || localM < toM
}

// InActiveWindow evaluates a user's active window at now in the user's timezone.
// An unset window (fromM == toM) means the user accepts alerts at any time.
// Unknown timezones fall back to UTC.
func InActiveWindow(now time.Time, tz string, fromM, toM int) bool {
	if fromM == toM {
		return true
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return InWindow(local.Hour()*60+local.Minute(), fromM, toM)
}
