// Package clock resolves relative day offsets to UTC day windows and lets a
// fixed demo date stand in for today.
package clock

import (
	"fmt"
	"strings"
	"time"
)

const day = 24 * time.Hour

// Resolver maps day offsets onto UTC days
type Resolver struct {
	now  func() time.Time
	fake *time.Time
}

// New creates a resolver. fakeDate may be empty or "false" to disable the override.
func New(fakeDate string) (*Resolver, error) {
	r := &Resolver{now: time.Now}
	fakeDate = strings.TrimSpace(fakeDate)
	if fakeDate == "" || strings.EqualFold(fakeDate, "false") {
		return r, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, fakeDate); err == nil {
			d := midnight(t)
			r.fake = &d
			return r, nil
		}
	}
	return nil, fmt.Errorf("parsing fake date %q", fakeDate)
}

// WithNow replaces the wall clock, for tests
func (r *Resolver) WithNow(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Now returns the current wall-clock time in UTC
func (r *Resolver) Now() time.Time { return r.now().UTC() }

// Faked reports whether a fake date is configured
func (r *Resolver) Faked() bool { return r.fake != nil }

// Today returns UTC midnight of the current day
func (r *Resolver) Today() time.Time { return midnight(r.now()) }

// DayOffset is the number of days from today to the logical day, which is
// the fake date when configured and today otherwise.
func (r *Resolver) DayOffset() int {
	if r.fake == nil {
		return 0
	}
	return int(r.fake.Sub(r.Today()) / day)
}

// Window returns the UTC day [start, end) offset days from today
func (r *Resolver) Window(offset int) (start, end time.Time) {
	start = r.Today().Add(time.Duration(offset) * day)
	return start, start.Add(day)
}

func midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
