// Package dateparse turns the date forms accepted on the command line into
// calendar days.
package dateparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Layout is the exact-date form, YYYY-MM-DD.
const Layout = "2006-01-02"

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Day resolves input against ref and returns that calendar day at midnight
// UTC.
//
// Accepted forms:
//   - Exact dates: "2026-03-02"
//   - Keywords: "today", "tomorrow", "next-week" (the next Monday),
//     "next-month" (the 1st of the next month)
//   - Offsets from ref: "+7d", "+2w", "+1m"
//   - Day names: "monday" is the next Monday after ref, never ref itself
func Day(input string, ref time.Time) (time.Time, error) {
	input = strings.TrimSpace(strings.ToLower(input))
	if input == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if t, err := time.Parse(Layout, input); err == nil {
		return t, nil
	}

	day := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
	switch input {
	case "today":
		return day, nil
	case "tomorrow":
		return day.AddDate(0, 0, 1), nil
	case "next-week":
		return nextWeekday(day, time.Monday), nil
	case "next-month":
		return time.Date(day.Year(), day.Month()+1, 1, 0, 0, 0, 0, time.UTC), nil
	}

	if strings.HasPrefix(input, "+") && len(input) >= 3 {
		unit := input[len(input)-1]
		n, err := strconv.Atoi(input[1 : len(input)-1])
		if err == nil && n >= 0 {
			switch unit {
			case 'd':
				return day.AddDate(0, 0, n), nil
			case 'w':
				return day.AddDate(0, 0, 7*n), nil
			case 'm':
				return day.AddDate(0, n, 0), nil
			}
			return time.Time{}, fmt.Errorf("unknown unit %q in %q (use d, w or m)", string(unit), input)
		}
	}

	if wd, ok := weekdays[input]; ok {
		return nextWeekday(day, wd), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q (want YYYY-MM-DD, today, +2w, monday, ...)", input)
}

// nextWeekday returns the first wd strictly after day.
func nextWeekday(day time.Time, wd time.Weekday) time.Time {
	ahead := (int(wd) - int(day.Weekday()) + 7) % 7
	if ahead == 0 {
		ahead = 7
	}
	return day.AddDate(0, 0, ahead)
}
