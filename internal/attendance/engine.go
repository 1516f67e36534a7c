package attendance

import (
	"time"

	"github.com/facebookgo/clock"

	"github.com/colthorp/bookingsync-go/internal/core"
	"github.com/colthorp/bookingsync-go/internal/model"
)

// Engine evaluates bookings against the current day in a fixed timezone.
type Engine struct {
	clock clock.Clock
	loc   *time.Location
}

// NewEngine creates an engine. A nil clock uses the wall clock and a nil
// location uses UTC.
func NewEngine(clk clock.Clock, loc *time.Location) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{clock: clk, loc: loc}
}

// Today returns the current calendar day in the engine's timezone.
func (e *Engine) Today() time.Time {
	return core.DateOnly(e.clock.Now().In(e.loc))
}

// Location returns the engine's timezone.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// IsValidDate checks date against the schedule. Today plays no part.
func (e *Engine) IsValidDate(b model.Booking, date time.Time) (bool, error) {
	return IsValidDate(b, date)
}

// Classify evaluates date as of today.
func (e *Engine) Classify(b model.Booking, date time.Time, records []model.AttendanceRecord) (Classification, error) {
	return ClassifyAt(b, date, records, e.Today())
}

// ValidDates lists the schedule's days up to EndDate or today.
func (e *Engine) ValidDates(b model.Booking) ([]time.Time, error) {
	return ValidDates(b, e.Today())
}

// MarkableDates lists the days still awaiting a mark.
func (e *Engine) MarkableDates(b model.Booking, records []model.AttendanceRecord) ([]time.Time, error) {
	return MarkableDates(b, records, e.Today())
}

// Calendar classifies every day in [from, to] as of today.
func (e *Engine) Calendar(b model.Booking, from, to time.Time, records []model.AttendanceRecord) ([]Classification, error) {
	return CalendarAt(b, from, to, records, e.Today())
}

// RecentWindow returns the [today-days+1, today] window used by the
// calendar view.
func (e *Engine) RecentWindow(days int) (from, to time.Time) {
	if days < 1 {
		days = 1
	}
	to = e.Today()
	return to.AddDate(0, 0, -(days - 1)), to
}
