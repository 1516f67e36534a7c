// Package attendance decides which calendar days of a booking may carry an
// attendance mark and what each day currently shows.
//
// Everything here is pure: functions take the booking, the records and the
// reference "today" as arguments. Engine binds "today" to a clock and a
// timezone for callers that want the current day.
//
// Classification precedence, first match wins:
//
//	OutOfSchedule  date outside [StartDate, EndDate] or rejected by the rule
//	FutureDate     date after today
//	AlreadyMarked  a record exists for the day
//	Markable       everything else
package attendance

import (
	"time"

	"github.com/colthorp/bookingsync-go/internal/core"
	"github.com/colthorp/bookingsync-go/internal/model"
)

// checkBooking returns a ConfigurationError if b cannot be evaluated.
func checkBooking(b model.Booking) error {
	if !b.HasStartDate() {
		return &ConfigurationError{BookingID: b.ID, Err: ErrMissingStartDate}
	}
	switch b.Frequency {
	case model.OneTime, model.Daily, model.Weekly, model.LiveIn:
		return nil
	}
	return &ConfigurationError{BookingID: b.ID, Err: ErrUnknownFrequency}
}

// inRange reports whether day lies in [StartDate, EndDate]; a nil EndDate is
// open-ended.
func inRange(b model.Booking, day time.Time) bool {
	if day.Before(core.DateOnly(b.StartDate)) {
		return false
	}
	if b.EndDate != nil && day.After(core.DateOnly(*b.EndDate)) {
		return false
	}
	return true
}

// ruleAccepts applies the recurrence rule alone, ignoring the range.
func ruleAccepts(b model.Booking, day time.Time) bool {
	switch b.Frequency {
	case model.OneTime:
		return day.Equal(core.DateOnly(b.StartDate))
	case model.Daily, model.LiveIn:
		return true
	case model.Weekly:
		return b.WeeklyDays.Has(day.Weekday())
	}
	return false
}

// IsValidDate reports whether attendance may ever be recorded for date under
// b's schedule. The upper bound is EndDate; "today" plays no part here.
func IsValidDate(b model.Booking, date time.Time) (bool, error) {
	if err := checkBooking(b); err != nil {
		return false, err
	}
	day := core.DateOnly(date)
	return inRange(b, day) && ruleAccepts(b, day), nil
}

// ValidDates lists the schedule's days in [StartDate, EndDate ?? today],
// oldest first. A Weekly booking with no weekdays yields an empty slice.
func ValidDates(b model.Booking, today time.Time) ([]time.Time, error) {
	if err := checkBooking(b); err != nil {
		return nil, err
	}

	start := core.DateOnly(b.StartDate)
	end := core.DateOnly(today)
	if b.EndDate != nil {
		end = core.DateOnly(*b.EndDate)
	}

	dates := make([]time.Time, 0)
	if end.Before(start) {
		return dates, nil
	}

	switch {
	case b.Frequency == model.OneTime:
		return append(dates, start), nil
	case b.Frequency == model.Weekly && b.WeeklyDays.Empty():
		return dates, nil
	}

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if ruleAccepts(b, d) {
			dates = append(dates, d)
		}
	}
	return dates, nil
}

// MarkableDates filters ValidDates down to days that are not in the future
// and have no record yet.
func MarkableDates(b model.Booking, records []model.AttendanceRecord, today time.Time) ([]time.Time, error) {
	valid, err := ValidDates(b, today)
	if err != nil {
		return nil, err
	}

	todayOnly := core.DateOnly(today)
	idx := indexRecords(b.ID, records)
	out := make([]time.Time, 0, len(valid))
	for _, d := range valid {
		if d.After(todayOnly) {
			continue
		}
		if _, marked := idx[d]; marked {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Tally counts present and absent records.
func Tally(records []model.AttendanceRecord) (present, absent int) {
	for _, r := range records {
		switch r.Status {
		case model.Present:
			present++
		case model.Absent:
			absent++
		}
	}
	return present, absent
}

// indexRecords keys records by calendar day. Records for other bookings are
// skipped; records with no booking ID are assumed to belong to bookingID.
// If the input holds two records for one day, the later one wins.
func indexRecords(bookingID string, records []model.AttendanceRecord) map[time.Time]model.AttendanceRecord {
	idx := make(map[time.Time]model.AttendanceRecord, len(records))
	for _, r := range records {
		if r.BookingID != "" && bookingID != "" && r.BookingID != bookingID {
			continue
		}
		idx[core.DateOnly(r.Date)] = r
	}
	return idx
}
