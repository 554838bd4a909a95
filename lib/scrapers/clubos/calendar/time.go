package calendar

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"gymassist-backend/lib/timezone"
)

var clockRegex = regexp.MustCompile(`(?i)^\s*(\d{1,2}):(\d{2})\s*(AM|PM)?\s*$`)

// parseClock anchors a portal time label like "8:00", "08:30" or "1:00 PM"
// onto the given date in the club's timezone. The portal mixes 12h and 24h
// labels across views.
func parseClock(label string, date time.Time) (time.Time, bool) {
	groups := clockRegex.FindStringSubmatch(label)
	if groups == nil {
		return time.Time{}, false
	}

	hour, err := strconv.Atoi(groups[1])
	if err != nil || hour > 23 {
		return time.Time{}, false
	}
	minute, err := strconv.Atoi(groups[2])
	if err != nil || minute > 59 {
		return time.Time{}, false
	}

	switch strings.ToUpper(groups[3]) {
	case "PM":
		if hour < 12 {
			hour += 12
		}
	case "AM":
		if hour == 12 {
			hour = 0
		}
	}

	day := timezone.StartOfDay(date)
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute), true
}

// parseTimeRange splits a "8:00 - 8:30" label. A missing end falls back to
// start plus the default slot length.
func parseTimeRange(label string, date time.Time, slot time.Duration) (start, end time.Time, ok bool) {
	parts := strings.SplitN(label, "-", 2)
	start, ok = parseClock(strings.TrimSpace(parts[0]), date)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	if len(parts) == 2 {
		if end, endOk := parseClock(strings.TrimSpace(parts[1]), date); endOk {
			return start, end, true
		}
	}
	return start, start.Add(slot), true
}

// parseEventTime accepts the timestamp shapes seen in embedded script JSON:
// RFC3339, "2006-01-02 15:04", bare clock labels.
func parseEventTime(value string, date time.Time) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.In(timezone.Location), true
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04", value, timezone.Location); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04", value, timezone.Location); err == nil {
		return t, true
	}
	return parseClock(value, date)
}
