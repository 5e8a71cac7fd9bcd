package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmptyAmount   = errors.New("empty amount")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrTooLarge      = errors.New("amount too large")
)

// ParseAmountHuman parses amounts like "250000", "100k", "1.5m", "$2M".
// Constraints: 0 <= v <= 10bn.
func ParseAmountHuman(s string) (float64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "_", "")
	if s == "" {
		return 0, ErrEmptyAmount
	}

	mult := 1.0
	switch {
	case strings.HasSuffix(s, "k"):
		mult, s = 1e3, strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		mult, s = 1e6, strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "b"):
		mult, s = 1e9, strings.TrimSuffix(s, "b")
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 || math.IsNaN(v) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, s)
	}
	v *= mult
	if v > 1e10 {
		return 0, fmt.Errorf("%w: max 10b", ErrTooLarge)
	}
	return v, nil
}

// FormatAmount renders an amount compactly: 0 -> "any", 250000 -> "$250k", 1500000 -> "$1.5M".
func FormatAmount(v float64) string {
	switch {
	case v <= 0:
		return "any"
	case v >= 1e9:
		return "$" + strconv.FormatFloat(v/1e9, 'f', -1, 64) + "B"
	case v >= 1e6:
		return "$" + strconv.FormatFloat(v/1e6, 'f', -1, 64) + "M"
	case v >= 1e3:
		return "$" + strconv.FormatFloat(v/1e3, 'f', -1, 64) + "k"
	}
	return "$" + strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseActiveWindow parses "HH:MM–HH:MM" or "HH:MM-HH:MM" into minutes since midnight.
func ParseActiveWindow(s string) (fromM, toM int, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, errors.New("empty window")
	}
	sep := "–"
	if strings.Contains(s, "-") && !strings.Contains(s, "–") {
		sep = "-"
	}
	parts := strings.Split(s, sep)
	if len(parts) != 2 {
		return 0, 0, errors.New("expected format HH:MM–HH:MM")
	}
	fromM, err = parseHHMM(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("from: %w", err)
	}
	toM, err = parseHHMM(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("to: %w", err)
	}
	return fromM, toM, nil
}

func parseHHMM(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, errors.New("expected HH:MM")
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, errors.New("invalid hour")
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, errors.New("invalid minute")
	}
	return h*60 + m, nil
}

// ValidateTZ checks that the tz is a valid IANA location.
func ValidateTZ(tz string) (string, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(tz))
	if err != nil {
		return "", err
	}
	return loc.String(), nil
}

// FormatMinutes returns HH:MM for minutes since midnight (00:00..23:59).
func FormatMinutes(mins int) string {
	if mins < 0 {
		mins = 0
	}
	h := mins / 60
	m := mins % 60
	return fmt.Sprintf("%02d:%02d", h, m)
}

// FormatWindow renders an active window, or "always" when unset.
func FormatWindow(fromM, toM int) string {
	if fromM == toM {
		return "always"
	}
	return FormatMinutes(fromM) + "–" + FormatMinutes(toM)
}

// LocalizeTime formats t in user's timezone as YYYY-MM-DD HH:MM.
func LocalizeTime(t time.Time, tz string) (string, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", err
	}
	return t.In(loc).Format("2006-01-02 15:04"), nil
}
