package scheduler

import (
	"fmt"
	"time"
)

// TimeClasses computes the canonical set of time-derived class names for
// instant t: hour ("Hr07"), five-minute window ("Min05"), day of week
// ("Monday"), and the constant class "Day", present on every day. The daemon consults
// these against its configured schedule to decide whether a run is due.
func TimeClasses(t time.Time) []string {
	minuteBucket := (t.Minute() / 5) * 5
	return []string{
		fmt.Sprintf("Hr%02d", t.Hour()),
		fmt.Sprintf("Min%02d", minuteBucket),
		t.Weekday().String(),
		"Day",
	}
}

// timeClassesDue reports whether any configured schedule entry matches the
// time classes for t. An empty schedule means "always due" (the common
// once-per-pulse agent posture).
func (d *Daemon) timeClassesDue(t time.Time) bool {
	if len(d.cfg.Schedule) == 0 {
		return true
	}
	active := make(map[string]bool)
	for _, c := range TimeClasses(t) {
		active[c] = true
	}
	for _, want := range d.cfg.Schedule {
		if active[want] {
			return true
		}
	}
	return false
}
