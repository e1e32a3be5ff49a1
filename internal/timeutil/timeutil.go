// Package timeutil resolves a requested time-of-day into a concrete future
// timestamp. Both inbound formats (24-hour "HH:MM" and the display-style
// "10:00 AM - 12:00 PM" range) converge on one rollover rule so the two call
// paths cannot drift.
package timeutil

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidTimeFormat = errors.New("invalid time format")

// ParseClock parses a 24-hour "HH:MM" string into hour and minute.
func ParseClock(s string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, s)
	}
	min, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, s)
	}
	if hour < 0 || hour > 23 || min < 0 || min > 59 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, s)
	}
	return hour, min, nil
}

// ParseRangeStart parses the start of a display range such as
// "10:00 AM - 12:00 PM" into hour and minute.
func ParseRangeStart(s string) (int, int, error) {
	start := s
	if i := strings.Index(s, "-"); i >= 0 {
		start = s[:i]
	}
	t, err := time.Parse("3:04 PM", strings.TrimSpace(start))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, s)
	}
	return t.Hour(), t.Minute(), nil
}

// ResolveNext combines the time-of-day with now's date. When the candidate is
// at or before now it rolls forward exactly one day: a delivery requested for
// this very instant cannot be fulfilled now, so the boundary rolls over.
func ResolveNext(now time.Time, hour, min int) time.Time {
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// ResolveClock resolves a 24-hour "HH:MM" request against now.
func ResolveClock(now time.Time, s string) (time.Time, error) {
	hour, min, err := ParseClock(s)
	if err != nil {
		return time.Time{}, err
	}
	return ResolveNext(now, hour, min), nil
}

// ResolveRangeStart resolves the start of a display range against now.
func ResolveRangeStart(now time.Time, s string) (time.Time, error) {
	hour, min, err := ParseRangeStart(s)
	if err != nil {
		return time.Time{}, err
	}
	return ResolveNext(now, hour, min), nil
}
