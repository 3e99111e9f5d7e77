package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/steward/pkg/models"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// NextRun computes the next firing time for a schedule, always forward
// from now. Daily schedules fire at the given wall-clock time in now's
// location.
func NextRun(sched models.Schedule, now time.Time) (time.Time, error) {
	switch sched.Kind {
	case models.ScheduleInterval:
		d := intervalDuration(sched)
		if d <= 0 {
			return time.Time{}, fmt.Errorf("interval schedule has no duration")
		}
		return now.Add(d), nil

	case models.ScheduleDaily:
		if sched.Hour < 0 || sched.Hour > 23 || sched.Minute < 0 || sched.Minute > 59 {
			return time.Time{}, fmt.Errorf("daily schedule time %d:%02d out of range", sched.Hour, sched.Minute)
		}
		// CRON_TZ pins the schedule to now's location; the parser would
		// otherwise fall back to the host's.
		expr := fmt.Sprintf("CRON_TZ=%s %d %d * * *", now.Location(), sched.Minute, sched.Hour)
		spec, err := cronParser.Parse(expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse daily expression: %w", err)
		}
		return spec.Next(now), nil

	case models.ScheduleOnce:
		switch {
		case sched.At != nil:
			return *sched.At, nil
		case sched.InMinutes > 0:
			return now.Add(time.Duration(sched.InMinutes) * time.Minute), nil
		case sched.InHours > 0:
			return now.Add(time.Duration(sched.InHours) * time.Hour), nil
		}
		return time.Time{}, fmt.Errorf("once schedule has no target time")

	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind %q", sched.Kind)
	}
}

func intervalDuration(sched models.Schedule) time.Duration {
	return time.Duration(sched.Seconds)*time.Second +
		time.Duration(sched.Minutes)*time.Minute +
		time.Duration(sched.Hours)*time.Hour +
		time.Duration(sched.Days)*24*time.Hour
}

// Describe renders a schedule as the short human form used in task
// listings and confirmations.
func Describe(sched models.Schedule) string {
	switch sched.Kind {
	case models.ScheduleInterval:
		switch {
		case sched.Seconds > 0:
			return pluralEvery(sched.Seconds, "second")
		case sched.Minutes > 0:
			return pluralEvery(sched.Minutes, "minute")
		case sched.Hours > 0:
			return pluralEvery(sched.Hours, "hour")
		case sched.Days > 0:
			return pluralEvery(sched.Days, "day")
		}
		return "interval"
	case models.ScheduleDaily:
		return fmt.Sprintf("daily at %02d:%02d", sched.Hour, sched.Minute)
	case models.ScheduleOnce:
		switch {
		case sched.At != nil:
			return "once at " + sched.At.Format("2006-01-02 15:04")
		case sched.InMinutes > 0:
			return fmt.Sprintf("once, in %d minute(s)", sched.InMinutes)
		case sched.InHours > 0:
			return fmt.Sprintf("once, in %d hour(s)", sched.InHours)
		}
		return "once"
	}
	return string(sched.Kind)
}

func pluralEvery(n int, unit string) string {
	if n == 1 {
		return "every " + unit
	}
	return fmt.Sprintf("every %d %ss", n, unit)
}
