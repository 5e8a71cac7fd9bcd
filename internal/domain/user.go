package domain

import "time"

// Preferences holds per-user alert filters.
type Preferences struct {
	NotifyBuys  bool
	NotifySells bool
	MinValue    float64 // minimum transaction total value, 0 = any
	TZ          string
	ActiveFromM int // minutes from midnight (0..1439)
	ActiveToM   int // minutes from midnight (0..1439); equal to ActiveFromM = always active
}

// DefaultPreferences returns the preferences assigned on first /start.
func DefaultPreferences() Preferences {
	return Preferences{
		NotifyBuys:  true,
		NotifySells: true,
		TZ:          "UTC",
	}
}

// Accepts reports whether an alert about t should reach a user with these
// preferences at the given moment.
func (p Preferences) Accepts(t InsiderTrade, now time.Time) bool {
	switch {
	case t.IsBuy() && !p.NotifyBuys:
		return false
	case t.IsSell() && !p.NotifySells:
		return false
	}
	if p.MinValue > 0 && t.TotalValue < p.MinValue {
		return false
	}
	return InActiveWindow(now, p.TZ, p.ActiveFromM, p.ActiveToM)
}

// User represents a chat subscriber. Users are deactivated, never deleted.
type User struct {
	ChatID     int64
	Username   string
	FirstName  string
	Subscribed bool
	IsAdmin    bool
	Prefs      Preferences
	CreatedAt  time.Time // UTC
	UpdatedAt  time.Time // UTC
}
