package calendar

import (
	"fmt"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
)

// DateLayout is the format of holiday dates.
const DateLayout = "2006-01-02"

// searchHorizon bounds the forward scan for a business day.
const searchHorizon = 2 * 366

// Weekdays is the weekly business-day mask.
type Weekdays struct {
	Mon bool `json:"mon" yaml:"mon"`
	Tue bool `json:"tue" yaml:"tue"`
	Wed bool `json:"wed" yaml:"wed"`
	Thu bool `json:"thu" yaml:"thu"`
	Fri bool `json:"fri" yaml:"fri"`
	Sat bool `json:"sat" yaml:"sat"`
	Sun bool `json:"sun" yaml:"sun"`
}

// MondayToFriday is the usual business week.
var MondayToFriday = Weekdays{Mon: true, Tue: true, Wed: true, Thu: true, Fri: true}

// Has reports whether d is a business weekday.
func (w Weekdays) Has(d time.Weekday) bool {
	switch d {
	case time.Monday:
		return w.Mon
	case time.Tuesday:
		return w.Tue
	case time.Wednesday:
		return w.Wed
	case time.Thursday:
		return w.Thu
	case time.Friday:
		return w.Fri
	case time.Saturday:
		return w.Sat
	case time.Sunday:
		return w.Sun
	}
	return false
}

// Any reports whether at least one weekday is a business day.
func (w Weekdays) Any() bool {
	return w.Mon || w.Tue || w.Wed || w.Thu || w.Fri || w.Sat || w.Sun
}

// Calendar is a named set of holidays plus a weekly business-day mask,
// evaluated in Location.
type Calendar struct {
	cadence.Entity

	ID       id.ID    `json:"id"`
	Key      string   `json:"key"`
	Name     string   `json:"name,omitempty"`
	Location string   `json:"location,omitempty"`
	Weekdays Weekdays `json:"weekdays"`
	Holidays []string `json:"holidays,omitempty"`

	loc      *time.Location
	holidays map[string]struct{}
}

// Validate checks the calendar and prepares it for evaluation. Every
// calendar handed out by the Service has been validated.
func (c *Calendar) Validate() error {
	if c.Key == "" {
		return cadence.Invalid("key", "must not be empty")
	}
	if !c.Weekdays.Any() {
		return cadence.Invalid("weekdays", "at least one business weekday is required")
	}
	loc := time.UTC
	if c.Location != "" {
		l, err := time.LoadLocation(c.Location)
		if err != nil {
			return cadence.Invalid("location", "unknown time zone %q", c.Location)
		}
		loc = l
	}
	days := make(map[string]struct{}, len(c.Holidays))
	for _, h := range c.Holidays {
		if _, err := time.Parse(DateLayout, h); err != nil {
			return cadence.Invalid("holidays", "date %q is not YYYY-MM-DD", h)
		}
		days[h] = struct{}{}
	}
	c.loc = loc
	c.holidays = days
	return nil
}

// location and isHoliday fall back to the raw fields for calendars that
// were never validated, without mutating them.
func (c *Calendar) location() *time.Location {
	if c.loc != nil {
		return c.loc
	}
	if c.Location != "" {
		if l, err := time.LoadLocation(c.Location); err == nil {
			return l
		}
	}
	return time.UTC
}

func (c *Calendar) isHoliday(local time.Time) bool {
	day := local.Format(DateLayout)
	if c.holidays != nil {
		_, ok := c.holidays[day]
		return ok
	}
	for _, h := range c.Holidays {
		if h == day {
			return true
		}
	}
	return false
}

// IsBusinessDay reports whether instant falls on a business day in the
// calendar's location.
func IsBusinessDay(c *Calendar, instant time.Time) bool {
	local := instant.In(c.location())
	return c.Weekdays.Has(local.Weekday()) && !c.isHoliday(local)
}

// NextBusinessInstant returns instant itself when it is on a business day,
// otherwise midnight (calendar location) of the next business day.
func NextBusinessInstant(c *Calendar, instant time.Time) (time.Time, error) {
	if IsBusinessDay(c, instant) {
		return instant, nil
	}
	local := instant.In(c.location())
	y, m, d := local.Date()
	for i := 1; i <= searchHorizon; i++ {
		next := time.Date(y, m, d+i, 0, 0, 0, 0, local.Location())
		if IsBusinessDay(c, next) {
			return next, nil
		}
	}
	return time.Time{}, fmt.Errorf("calendar %q: %w", c.Key, cadence.ErrNoBusinessDays)
}

// RollForward keeps the wall-clock time of instant and moves it to the
// first business day on or after it.
func RollForward(c *Calendar, instant time.Time) (time.Time, error) {
	if IsBusinessDay(c, instant) {
		return instant, nil
	}
	local := instant.In(c.location())
	y, m, d := local.Date()
	hh, mm, ss := local.Clock()
	for i := 1; i <= searchHorizon; i++ {
		next := time.Date(y, m, d+i, hh, mm, ss, local.Nanosecond(), local.Location())
		if IsBusinessDay(c, next) {
			return next, nil
		}
	}
	return time.Time{}, fmt.Errorf("calendar %q: %w", c.Key, cadence.ErrNoBusinessDays)
}
