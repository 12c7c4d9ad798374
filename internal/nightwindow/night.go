// Package nightwindow computes a night's schedule boundaries and blocks the
// control flow until each is reached.
package nightwindow

import (
	"fmt"
	"time"

	"github.com/nerrad567/nightscan/internal/astro"
	"github.com/nerrad567/nightscan/internal/infrastructure/config"
)

// Night holds the boundaries of one observing night, in the site's zone.
type Night struct {
	Sunset  time.Time
	Sunrise time.Time

	// PreHousekeeping is when subsystems are powered and discovered.
	PreHousekeeping time.Time

	// Housekeeping is when devices are opened, homed and cooled.
	Housekeeping time.Time

	// Start and End bound the observing window.
	Start time.Time
	End   time.Time
}

// DirName is the per-night directory name: the sunset date as YYYYMMDD.
func (n Night) DirName() string {
	return n.Sunset.Format("20060102")
}

// Contains reports whether t falls inside the observing window.
func (n Night) Contains(t time.Time) bool {
	return !t.Before(n.Start) && t.Before(n.End)
}

// Compute returns the night that now belongs to. Before today's sunrise that
// is the night which began at yesterday's sunset; otherwise it is tonight.
func Compute(now time.Time, site astro.Site, loc *time.Location, sched config.ScheduleConfig) (Night, error) {
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 12, 0, 0, 0, loc)

	riseToday, err := astro.Sunrise(today, site)
	if err != nil {
		return Night{}, fmt.Errorf("computing sunrise for %s: %w", today.Format(time.DateOnly), err)
	}

	var sunset, sunrise time.Time
	if local.Before(riseToday) {
		sunset, err = astro.Sunset(today.AddDate(0, 0, -1), site)
		sunrise = riseToday
	} else {
		sunset, err = astro.Sunset(today, site)
		if err == nil {
			sunrise, err = astro.Sunrise(today.AddDate(0, 0, 1), site)
		}
	}
	if err != nil {
		return Night{}, fmt.Errorf("computing night boundaries: %w", err)
	}

	housekeeping := sunset.Add(-sched.HousekeepingLead)
	return Night{
		Sunset:          sunset,
		Sunrise:         sunrise,
		Housekeeping:    housekeeping,
		PreHousekeeping: housekeeping.Add(-sched.PowerUpLead),
		Start:           sunset.Add(sched.StartOffset),
		End:             sunrise,
	}, nil
}
