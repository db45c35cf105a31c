// Package policy decides whether enforcement should currently be active.
// Everything here is pure: no I/O, no hidden state. The parent, the worker
// and the detached watchdog all evaluate the same functions so each can act
// on its own.
package policy

import (
	"strconv"
	"strings"
	"time"

	"github.com/eliteGoblin/focusd/stay_blocked/internal/domain"
)

const minutesPerDay = 24 * 60

// ParseMinutes converts "HH:MM" to minute-of-day in [0, 1440].
// "24:00" is accepted as the end of day.
func ParseMinutes(s string) (int, bool) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(m) != 2 || len(h) == 0 || len(h) > 2 {
		return 0, false
	}
	hours, err := strconv.Atoi(h)
	if err != nil || hours < 0 || hours > 24 {
		return 0, false
	}
	mins, err := strconv.Atoi(m)
	if err != nil || mins < 0 || mins > 59 {
		return 0, false
	}
	total := hours*60 + mins
	if total > minutesPerDay {
		return 0, false
	}
	return total, true
}

// IsScheduleActive reports whether now falls inside the window.
// Weekday and minute-of-day are read in now's location.
func IsScheduleActive(w domain.ScheduleWindow, now time.Time) bool {
	if len(w.Days) == 0 {
		return false
	}
	start, ok := ParseMinutes(w.StartTime)
	if !ok {
		return false
	}
	end, ok := ParseMinutes(w.EndTime)
	if !ok {
		return false
	}

	today := int(now.Weekday())
	minute := now.Hour()*60 + now.Minute()

	switch {
	case start == end:
		return hasDay(w.Days, today)
	case start < end:
		return hasDay(w.Days, today) && minute >= start && minute < end
	default:
		// Window spans midnight: the part after midnight belongs to yesterday's entry.
		yesterday := (today + 6) % 7
		return (hasDay(w.Days, today) && minute >= start) ||
			(hasDay(w.Days, yesterday) && minute < end)
	}
}

func hasDay(days []int, day int) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}
