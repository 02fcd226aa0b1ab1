package handler

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// clockRe extracts an explicit clock time like "3pm", "15:30" or "9:05 am".
var clockRe = regexp.MustCompile(`(\d{1,2}):?(\d{0,2})?\s*(am|pm)?`)

// ParseNaturalTime resolves a natural-language time expression against now.
// Relative day keywords (today, tomorrow, next week, next month) pick the
// base date; an explicit clock time in the string is then overlaid onto that
// date. Strings without a keyword go through a general date parser first,
// falling back to today's date plus any clock time found.
func ParseNaturalTime(s string, now time.Time) time.Time {
	lower := strings.ToLower(s)

	var base time.Time
	switch {
	case strings.Contains(lower, "tomorrow"):
		base = now.AddDate(0, 0, 1)
	case strings.Contains(lower, "today"):
		base = now
	case strings.Contains(lower, "next week"):
		base = now.AddDate(0, 0, 7)
	case strings.Contains(lower, "next month"):
		base = now.AddDate(0, 0, 30)
	default:
		if t, err := dateparse.ParseIn(s, now.Location()); err == nil {
			return t
		}
		base = now
	}

	if h, m, ok := extractClockTime(lower); ok {
		return time.Date(base.Year(), base.Month(), base.Day(), h, m, 0, 0, base.Location())
	}
	return base
}

// extractClockTime pulls an hour/minute pair out of the string, applying
// am/pm conversion. Returns ok=false when no digits are present.
func extractClockTime(lower string) (hour, minute int, ok bool) {
	m := clockRe.FindStringSubmatch(lower)
	if m == nil {
		return 0, 0, false
	}

	hour, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	if m[2] != "" {
		minute, err = strconv.Atoi(m[2])
		if err != nil {
			return 0, 0, false
		}
	}

	switch m[3] {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}

	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}
