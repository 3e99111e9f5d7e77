// Package scheduler parses natural-language schedules and runs the
// heartbeat loop that fires due tasks through the agent.
package scheduler

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/steward/pkg/models"
)

// ErrUnparseableSchedule is returned when schedule text matches none of
// the accepted forms. Unknown input is never silently defaulted.
var ErrUnparseableSchedule = errors.New("unparseable schedule")

var (
	reInterval  = regexp.MustCompile(`^every\s+(\d+)\s+(second|minute|hour|day)s?$`)
	reEveryUnit = regexp.MustCompile(`^every\s+(second|minute|hour|day)$`)
	reDailyAt   = regexp.MustCompile(`^(?:daily|every\s+day)\s+at\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
	reIn        = regexp.MustCompile(`^in\s+(\d+)\s+(minute|minutes|min|mins|hour|hours|hr|hrs)$`)
)

// datetimeLayouts are tried in order for one-shot schedules. Layouts
// without a zone are interpreted in the given location.
var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Parse normalizes natural-language schedule text into a Schedule.
// Matching is case-insensitive. Bare datetimes are interpreted in loc
// (the user's local timezone). Returns ErrUnparseableSchedule for any
// text outside the grammar.
func Parse(text string, loc *time.Location) (models.Schedule, error) {
	if loc == nil {
		loc = time.Local
	}
	raw := strings.TrimSpace(text)
	normalized := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	if normalized == "" {
		return models.Schedule{}, fmt.Errorf("%w: empty schedule text", ErrUnparseableSchedule)
	}

	switch normalized {
	case "every morning":
		return models.Schedule{Kind: models.ScheduleDaily, Hour: 9, Minute: 0}, nil
	case "every evening":
		return models.Schedule{Kind: models.ScheduleDaily, Hour: 18, Minute: 0}, nil
	case "every night":
		return models.Schedule{Kind: models.ScheduleDaily, Hour: 21, Minute: 0}, nil
	}

	if m := reDailyAt.FindStringSubmatch(normalized); m != nil {
		return parseDailyAt(m)
	}

	if m := reInterval.FindStringSubmatch(normalized); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return models.Schedule{}, fmt.Errorf("%w: bad interval count %q", ErrUnparseableSchedule, m[1])
		}
		return intervalSchedule(m[2], n), nil
	}

	if m := reEveryUnit.FindStringSubmatch(normalized); m != nil {
		return intervalSchedule(m[1], 1), nil
	}

	if m := reIn.FindStringSubmatch(normalized); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return models.Schedule{}, fmt.Errorf("%w: bad delay count %q", ErrUnparseableSchedule, m[1])
		}
		sched := models.Schedule{Kind: models.ScheduleOnce}
		if strings.HasPrefix(m[2], "m") {
			sched.InMinutes = n
		} else {
			sched.InHours = n
		}
		return sched, nil
	}

	// One-shot at an explicit datetime, optionally prefixed "once at",
	// "at", or "on". The layouts' only letters are the T and Z
	// designators, so the lowercased text just needs uppercasing back.
	candidate := normalized
	for _, prefix := range []string{"once at ", "at ", "on "} {
		if strings.HasPrefix(candidate, prefix) {
			candidate = strings.TrimPrefix(candidate, prefix)
			break
		}
	}
	candidate = strings.ToUpper(strings.TrimSpace(candidate))
	for _, layout := range datetimeLayouts {
		at, err := time.ParseInLocation(layout, candidate, loc)
		if err == nil {
			return models.Schedule{Kind: models.ScheduleOnce, At: &at}, nil
		}
	}

	return models.Schedule{}, fmt.Errorf("%w: %q", ErrUnparseableSchedule, raw)
}

func parseDailyAt(m []string) (models.Schedule, error) {
	hour, err := strconv.Atoi(m[1])
	if err != nil {
		return models.Schedule{}, fmt.Errorf("%w: bad hour %q", ErrUnparseableSchedule, m[1])
	}

	minute := 0
	if m[2] != "" {
		minute, err = strconv.Atoi(m[2])
		if err != nil || minute > 59 {
			return models.Schedule{}, fmt.Errorf("%w: bad minute %q", ErrUnparseableSchedule, m[2])
		}
	}

	if m[3] != "" {
		hour, err = to24Hour(hour, m[3])
		if err != nil {
			return models.Schedule{}, err
		}
	} else if hour > 23 {
		return models.Schedule{}, fmt.Errorf("%w: hour %d out of range", ErrUnparseableSchedule, hour)
	}

	return models.Schedule{Kind: models.ScheduleDaily, Hour: hour, Minute: minute}, nil
}

// to24Hour applies am/pm arithmetic: 12am is midnight, 12pm stays
// noon, and 1 through 11 pm add twelve.
func to24Hour(hour int, meridiem string) (int, error) {
	if hour < 1 || hour > 12 {
		return 0, fmt.Errorf("%w: hour %d out of range for %s", ErrUnparseableSchedule, hour, meridiem)
	}
	switch meridiem {
	case "am":
		if hour == 12 {
			return 0, nil
		}
		return hour, nil
	case "pm":
		if hour == 12 {
			return 12, nil
		}
		return hour + 12, nil
	}
	return 0, fmt.Errorf("%w: unknown meridiem %q", ErrUnparseableSchedule, meridiem)
}

func intervalSchedule(unit string, n int) models.Schedule {
	sched := models.Schedule{Kind: models.ScheduleInterval}
	switch unit {
	case "second":
		sched.Seconds = n
	case "minute":
		sched.Minutes = n
	case "hour":
		sched.Hours = n
	case "day":
		sched.Days = n
	}
	return sched
}
