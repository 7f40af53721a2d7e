package textutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Salutation returns the opening of a greeting for the hour of now.
// now must already be in the business time zone.
func Salutation(now time.Time) string {
	switch h := now.Hour(); {
	case h < 12:
		return "¡Buenos días"
	case h < 20:
		return "¡Buenas tardes"
	default:
		return "¡Buenas noches"
	}
}

// Clock returns the current time in a fixed location.
type Clock struct {
	loc *time.Location
}

// NewClock loads the named zone. An unknown zone falls back to UTC-4, the
// offset of America/La_Paz, which has no daylight saving.
func NewClock(zone string) *Clock {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		loc = time.FixedZone("BOT", -4*60*60)
	}
	return &Clock{loc: loc}
}

// Now returns the current time in the clock's zone.
func (c *Clock) Now() time.Time { return time.Now().In(c.loc) }

// TimeWindow is a delivery window as HH:MM strings. Empty fields mean unknown.
type TimeWindow struct {
	From string
	To   string
}

var timeRange = regexp.MustCompile(`(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\s*[-a–]\s*(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`)

// ParseTimeRange turns a free-text preference such as "2:30 a 3:30 pm" or
// "por la tarde" into a delivery window.
func ParseTimeRange(raw string) TimeWindow {
	t := NormalizeString(raw)
	if t == "" {
		return TimeWindow{}
	}
	if m := timeRange.FindStringSubmatch(t); m != nil {
		h1, _ := strconv.Atoi(m[1])
		min1, _ := strconv.Atoi(orZero(m[2]))
		h2, _ := strconv.Atoi(m[4])
		min2, _ := strconv.Atoi(orZero(m[5]))
		ap1, ap2 := m[3], m[6]
		// "2 a 4 pm": the first bound shares the second's meridiem when that
		// keeps the window ordered.
		if ap1 == "" && ap2 != "" && to24(h1, ap2)*60+min1 <= to24(h2, ap2)*60+min2 {
			ap1 = ap2
		}
		return TimeWindow{
			From: fmt.Sprintf("%02d:%02d", to24(h1, ap1), min1),
			To:   fmt.Sprintf("%02d:%02d", to24(h2, ap2), min2),
		}
	}
	switch {
	case strings.Contains(t, "manana"):
		return TimeWindow{From: "09:00", To: "12:00"}
	case strings.Contains(t, "tarde"):
		return TimeWindow{From: "14:00", To: "18:00"}
	case strings.Contains(t, "noche"):
		return TimeWindow{From: "18:00", To: "21:00"}
	}
	return TimeWindow{}
}

func to24(h int, ap string) int {
	switch {
	case ap == "pm" && h < 12:
		return h + 12
	case ap == "am" && h == 12:
		return 0
	}
	return h
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

