// Package calendar handles civil dates and times in the studio's fixed
// timezone. Slots are stored as strings ("2006-01-02" and "15:04") and only
// interpreted against the studio location, never the server's local zone.
package calendar

import (
	"fmt"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type Calendar struct {
	loc *time.Location

	// now is injectable for tests.
	now func() time.Time
}

func New(timezone string) (*Calendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	return &Calendar{loc: loc, now: time.Now}, nil
}

// NewAt builds a calendar with a fixed clock, for tests.
func NewAt(timezone string, now func() time.Time) (*Calendar, error) {
	c, err := New(timezone)
	if err != nil {
		return nil, err
	}
	c.now = now
	return c, nil
}

func (c *Calendar) Location() *time.Location { return c.loc }

// Today returns midnight of the current civil date in the studio timezone.
func (c *Calendar) Today() time.Time {
	n := c.now().In(c.loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, c.loc)
}

func (c *Calendar) Now() time.Time { return c.now().In(c.loc) }

// ParseDate parses a civil date string into midnight in the studio timezone.
func (c *Calendar) ParseDate(date string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, date, c.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", date)
	}
	return t, nil
}

// ParseSlot parses a date plus start time into an instant in the studio
// timezone.
func (c *Calendar) ParseSlot(date, startTime string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+startTime, c.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid slot %q %q", date, startTime)
	}
	return t, nil
}

// IsWeekend reports whether the civil date falls on Saturday or Sunday.
func IsWeekend(d time.Time) bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// BusinessDaysBetween counts weekdays from start through end, inclusive of
// both ends. Returns 0 when end is before start.
func BusinessDaysBetween(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	count := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if !IsWeekend(d) {
			count++
		}
	}
	return count
}

// BusinessDaysUntil counts the business days strictly after today up to and
// including the target date. This is the lead-time measure: a booking made
// on Monday for the next Monday has five business days of lead.
func (c *Calendar) BusinessDaysUntil(target time.Time) int {
	tomorrow := c.Today().AddDate(0, 0, 1)
	return BusinessDaysBetween(tomorrow, target)
}
