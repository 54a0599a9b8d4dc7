package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts standard five-field cron expressions.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron validates expr against the standard five-field cron syntax
// and resolves tz (empty means UTC). It returns the compiled schedule
// and location.
func ParseCron(expr, tz string) (cron.Schedule, *time.Location, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, nil, fmt.Errorf("schedule: cron expression %q: %w", expr, err)
	}
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, nil, fmt.Errorf("schedule: timezone %q: %w", tz, err)
	}
	return sched, loc, nil
}

// NextDue returns the first activation of expr strictly after from,
// evaluated in tz.
func NextDue(expr, tz string, from time.Time) (time.Time, error) {
	sched, loc, err := ParseCron(expr, tz)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from.In(loc)), nil
}
