package task

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the wire and storage form of a calendar date.
const DateLayout = "2006-01-02"

// Date is a plain calendar date in YYYY-MM-DD form. Equality and ordering are
// string comparisons, so attribution never depends on a time zone.
type Date string

// ParseDate validates s and returns it as a Date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return Date(t.Format(DateLayout)), nil
}

// MustDate is ParseDate for literals known to be valid.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOf returns the calendar date of t in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return Date(t.In(loc).Format(DateLayout))
}

// Valid reports whether d is a well-formed calendar date.
func (d Date) Valid() bool {
	_, err := time.Parse(DateLayout, string(d))
	return err == nil
}

// Time returns midnight UTC of d. Invalid dates yield the zero time.
func (d Date) Time() time.Time {
	t, _ := time.Parse(DateLayout, string(d))
	return t
}

// AddDays moves d by n calendar days.
func (d Date) AddDays(n int) Date {
	return Date(d.Time().AddDate(0, 0, n).Format(DateLayout))
}

// AddMonths moves d by n calendar months, normalizing overflow the way time.AddDate does.
func (d Date) AddMonths(n int) Date {
	return Date(d.Time().AddDate(0, n, 0).Format(DateLayout))
}

// Weekday of d.
func (d Date) Weekday() time.Weekday {
	return d.Time().Weekday()
}

// WeekStart returns the Sunday on or before d.
func (d Date) WeekStart() Date {
	return d.AddDays(-int(d.Weekday()))
}

func (d Date) Before(other Date) bool { return d < other }
func (d Date) After(other Date) bool  { return d > other }

func (d Date) String() string { return string(d) }

// UnmarshalJSON rejects anything that is not a YYYY-MM-DD string.
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DatesBetween lists every date in [from, to]. It is empty when to is before from.
func DatesBetween(from, to Date) []Date {
	if to.Before(from) {
		return nil
	}
	var out []Date
	for d := from; !d.After(to); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}

// Calendar answers "what is today" for a configured time zone.
type Calendar struct {
	Clock    Clock
	Location *time.Location
}

// NewCalendar binds clock to loc; a nil loc means UTC.
func NewCalendar(clock Clock, loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{Clock: clock, Location: loc}
}

// Now returns the clock's current instant.
func (c Calendar) Now() time.Time {
	return c.Clock.Now()
}

// Today returns the current calendar date in the calendar's zone.
func (c Calendar) Today() Date {
	return DateOf(c.Clock.Now(), c.Location)
}

// DateOf converts t to a calendar date in the calendar's zone.
func (c Calendar) DateOf(t time.Time) Date {
	return DateOf(t, c.Location)
}
