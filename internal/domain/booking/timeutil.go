package booking

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	dateLayout = "2006-01-02"

	minutesPerDay = 24 * 60
)

var (
	datePattern    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timePattern    = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)
	clock12Pattern = regexp.MustCompile(`^(\d{1,2}):([0-5]\d)\s*([AaPp][Mm])$`)
	clock24Pattern = regexp.MustCompile(`^(\d{1,2}):([0-5]\d)$`)
)

// Clock is the wall-clock source used by everything that asks "what time is it".
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return ClockFunc(time.Now) }

// IsValidDate reports whether s is a YYYY-MM-DD string naming a real calendar day.
func IsValidDate(s string) bool {
	if !datePattern.MatchString(s) {
		return false
	}
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

// IsValidTime reports whether s is a canonical 24-hour HH:MM string.
func IsValidTime(s string) bool {
	return timePattern.MatchString(s)
}

// ParseClock converts "HH:MM" or "H:MM AM/PM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	if m := clock12Pattern.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		if h < 1 || h > 12 {
			return 0, fmt.Errorf("invalid hour in %q", s)
		}
		h %= 12
		if strings.EqualFold(m[3], "PM") {
			h += 12
		}
		return h*60 + min, nil
	}
	if m := clock24Pattern.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		if h > 23 {
			return 0, fmt.Errorf("invalid hour in %q", s)
		}
		return h*60 + min, nil
	}
	return 0, fmt.Errorf("unrecognized time %q", s)
}

// FormatClock renders minutes since midnight as HH:MM. Values wrap at midnight.
func FormatClock(minutes int) string {
	minutes = ((minutes % minutesPerDay) + minutesPerDay) % minutesPerDay
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// NormalizeTime returns the canonical 24-hour form of a time in either accepted shape.
func NormalizeTime(s string) (string, error) {
	m, err := ParseClock(s)
	if err != nil {
		return "", err
	}
	return FormatClock(m), nil
}

// To12Hour renders a time for display ("14:30" -> "2:30 PM"). Unparseable input
// is returned unchanged.
func To12Hour(s string) string {
	m, err := ParseClock(s)
	if err != nil {
		return s
	}
	h, min := m/60, m%60
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	h %= 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%d:%02d %s", h, min, suffix)
}

// WithinWorkingHours reports whether t falls in [startHour:00, endHour:00).
func WithinWorkingHours(t string, startHour, endHour int) bool {
	m, err := ParseClock(t)
	if err != nil {
		return false
	}
	return m >= startHour*60 && m < endHour*60
}

// SlotEndTime returns the HH:MM at which a slot starting at t ends.
func SlotEndTime(t string, durationMinutes int) (string, error) {
	m, err := ParseClock(t)
	if err != nil {
		return "", err
	}
	return FormatClock(m + durationMinutes), nil
}

// CombineDateTime resolves a date and a time string to an instant in loc.
func CombineDateTime(date, t string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	m, err := ParseClock(t)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), m/60, m%60, 0, 0, loc), nil
}

// DateOf returns the YYYY-MM-DD of instant t as observed in loc.
func DateOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dateLayout)
}
