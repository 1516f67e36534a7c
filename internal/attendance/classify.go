package attendance

import (
	"fmt"
	"time"

	"github.com/colthorp/bookingsync-go/internal/core"
	"github.com/colthorp/bookingsync-go/internal/model"
)

// State is the display state of one booking day.
type State int

const (
	OutOfSchedule State = iota
	FutureDate
	AlreadyMarked
	Markable
)

func (s State) String() string {
	switch s {
	case OutOfSchedule:
		return "out_of_schedule"
	case FutureDate:
		return "future_date"
	case AlreadyMarked:
		return "already_marked"
	case Markable:
		return "markable"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText lets JSON and YAML printers render the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Classification is the engine's verdict for one date.
type Classification struct {
	Date   time.Time               `json:"date" yaml:"date"`
	State  State                   `json:"state" yaml:"state"`
	Record *model.AttendanceRecord `json:"record,omitempty" yaml:"record,omitempty"`
}

// Status returns the recorded status when State is AlreadyMarked.
func (c Classification) Status() (model.Status, bool) {
	if c.State != AlreadyMarked || c.Record == nil {
		return "", false
	}
	return c.Record.Status, true
}

// CanMark reports whether a new mark may be submitted for the date.
func (c Classification) CanMark() bool {
	return c.State == Markable
}

// Actions returns the statuses a user may submit. Only Markable offers any.
func (c Classification) Actions() []model.Status {
	if c.State != Markable {
		return nil
	}
	return []model.Status{model.Present, model.Absent}
}

// Describe returns a short human-readable label.
func (c Classification) Describe() string {
	switch c.State {
	case OutOfSchedule:
		return "not scheduled"
	case FutureDate:
		return "cannot mark attendance for future dates"
	case AlreadyMarked:
		if status, ok := c.Status(); ok {
			return fmt.Sprintf("marked %s", status)
		}
		return "marked"
	case Markable:
		return "awaiting attendance"
	}
	return c.State.String()
}

// ClassifyAt evaluates date against b and its records, with today supplied
// by the caller.
func ClassifyAt(b model.Booking, date time.Time, records []model.AttendanceRecord, today time.Time) (Classification, error) {
	return classifyIndexed(b, core.DateOnly(date), indexRecords(b.ID, records), core.DateOnly(today))
}

// CalendarAt classifies every day in [from, to]. A reversed window yields no
// days; one longer than core.MaxCalendarDays is an error.
func CalendarAt(b model.Booking, from, to time.Time, records []model.AttendanceRecord, today time.Time) ([]Classification, error) {
	if err := checkBooking(b); err != nil {
		return nil, err
	}

	if err := CheckWindow(from, to); err != nil {
		return nil, err
	}
	start, end := core.DateOnly(from), core.DateOnly(to)
	todayOnly := core.DateOnly(today)
	idx := indexRecords(b.ID, records)

	days := make([]Classification, 0)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		c, err := classifyIndexed(b, d, idx, todayOnly)
		if err != nil {
			return nil, err
		}
		days = append(days, c)
	}
	return days, nil
}

// CheckWindow returns ErrWindowTooLong if [from, to] spans more than
// core.MaxCalendarDays days.
func CheckWindow(from, to time.Time) error {
	start, end := core.DateOnly(from), core.DateOnly(to)
	if !end.Before(start) && end.Sub(start) >= time.Duration(core.MaxCalendarDays)*24*time.Hour {
		return fmt.Errorf("%w: %s to %s exceeds %d days", ErrWindowTooLong, core.FormatDate(start), core.FormatDate(end), core.MaxCalendarDays)
	}
	return nil
}

func classifyIndexed(b model.Booking, day time.Time, idx map[time.Time]model.AttendanceRecord, today time.Time) (Classification, error) {
	if err := checkBooking(b); err != nil {
		return Classification{}, err
	}

	c := Classification{Date: day}
	switch {
	case !inRange(b, day) || !ruleAccepts(b, day):
		c.State = OutOfSchedule
	case day.After(today):
		c.State = FutureDate
	default:
		if rec, ok := idx[day]; ok {
			c.State = AlreadyMarked
			c.Record = &rec
		} else {
			c.State = Markable
		}
	}
	return c, nil
}
