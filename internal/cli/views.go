package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/colthorp/bookingsync-go/internal/attendance"
	"github.com/colthorp/bookingsync-go/internal/cache"
	"github.com/colthorp/bookingsync-go/internal/core"
	"github.com/colthorp/bookingsync-go/internal/logging"
	"github.com/colthorp/bookingsync-go/internal/model"
	"github.com/colthorp/bookingsync-go/internal/output"
)

// staleness reports whether a value came from the last-known-good entry
// after a failed refetch.
type staleness struct {
	Stale bool
	Age   time.Duration
}

func (s staleness) notice(what string) string {
	if !s.Stale {
		return ""
	}
	return output.StaleNotice(what, s.Age)
}

// withFallback runs fetch and, when the backend fails, falls back to the
// entry peek returns. Errors other than fetch failures are returned as is.
func withFallback[V any](ctx context.Context, m *cache.Manager, what string, fetch func(context.Context) (V, error), peek func() (cache.CacheEntry[V], bool)) (V, staleness, error) {
	v, err := fetch(ctx)
	if err == nil {
		return v, staleness{}, nil
	}
	if !errors.Is(err, cache.ErrFetchFailed) {
		return v, staleness{}, err
	}
	entry, ok := peek()
	if !ok {
		return v, staleness{}, err
	}
	st := staleness{Stale: true, Age: entry.Age(m.Now())}
	logging.Ctx(ctx).Warn().Err(err).Str("what", what).Dur("age", st.Age).Msg("serving last known value")
	return entry.Value, st, nil
}

func loadBookings(ctx context.Context, m *cache.Manager) ([]model.Booking, staleness, error) {
	return withFallback(ctx, m, "bookings", m.MyBookings, m.PeekMyBookings)
}

func loadDetail(ctx context.Context, m *cache.Manager, bookingID string) (model.AttendanceDetail, staleness, error) {
	return withFallback(ctx, m, "attendance for "+bookingID,
		func(ctx context.Context) (model.AttendanceDetail, error) { return m.AttendanceDetail(ctx, bookingID) },
		func() (cache.CacheEntry[model.AttendanceDetail], bool) { return m.PeekAttendanceDetail(bookingID) })
}

func loadOverview(ctx context.Context, m *cache.Manager) (model.AttendanceOverview, staleness, error) {
	return withFallback(ctx, m, "attendance overview", m.AttendanceOverview, m.PeekAttendanceOverview)
}

func loadAnalytics(ctx context.Context, m *cache.Manager) (model.AnalyticsSnapshot, staleness, error) {
	return withFallback(ctx, m, "analytics", m.Analytics, m.PeekAnalytics)
}

func loadCatalog(ctx context.Context, m *cache.Manager) (model.ServiceCatalog, staleness, error) {
	return withFallback(ctx, m, "service catalog", m.ServiceCatalog, m.PeekServiceCatalog)
}

// windowSpec selects the days shown by the calendar view. At most one of
// Week, Period and From/To may be set.
type windowSpec struct {
	Days   int
	From   string
	To     string
	Week   string
	Period string
}

// calendarWindow resolves the [from, to] window for the calendar view.
// Without specs it is the last Days days ending today. A lone To ends the
// window there; a lone From runs it to today. Windows longer than
// core.MaxCalendarDays are refused.
func calendarWindow(engine *attendance.Engine, spec windowSpec) (time.Time, time.Time, error) {
	today := engine.Today()

	set := 0
	for _, ok := range []bool{spec.Week != "", spec.Period != "", spec.From != "" || spec.To != ""} {
		if ok {
			set++
		}
	}
	if set > 1 {
		return time.Time{}, time.Time{}, errors.New("use only one of week, period or from/to")
	}

	switch {
	case spec.Week != "":
		return core.ParseWeekSpec(spec.Week, today)
	case spec.Period != "":
		return core.GetDateRange(spec.Period, today)
	case spec.From == "" && spec.To == "":
		if spec.Days > core.MaxCalendarDays {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: %d days", attendance.ErrWindowTooLong, spec.Days)
		}
		from, to := engine.RecentWindow(spec.Days)
		return from, to, nil
	}

	days := spec.Days
	if days < 1 {
		days = 1
	}
	to := today
	if spec.To != "" {
		d, err := core.ParseDateSpec(spec.To, today)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = d
	}
	from := to.AddDate(0, 0, -(days - 1))
	if spec.From != "" {
		d, err := core.ParseDateSpec(spec.From, today)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = d
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("window end %s is before start %s", core.FormatDate(to), core.FormatDate(from))
	}
	if err := attendance.CheckWindow(from, to); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

// buildCalendar classifies every day of the window for one booking.
func buildCalendar(ctx context.Context, m *cache.Manager, bookingID string, from, to time.Time) (output.CalendarView, staleness, error) {
	detail, st, err := loadDetail(ctx, m, bookingID)
	if err != nil {
		return output.CalendarView{}, st, err
	}

	engine := m.Engine()
	days, err := engine.Calendar(detail.Booking, from, to, detail.Records)
	if err != nil {
		return output.CalendarView{}, st, err
	}
	markable, err := engine.MarkableDates(detail.Booking, detail.Records)
	if err != nil {
		return output.CalendarView{}, st, err
	}
	present, absent := attendance.Tally(detail.Records)

	return output.CalendarView{
		Booking:     detail.Booking,
		Today:       engine.Today(),
		Days:        days,
		PresentDays: present,
		AbsentDays:  absent,
		Markable:    markable,
	}, st, nil
}

// writeAttendance sends a mark, or an override when override is set.
func writeAttendance(ctx context.Context, m *cache.Manager, mark model.AttendanceMark, override bool) (model.AttendanceRecord, error) {
	if override {
		return m.OverrideAttendance(ctx, mark)
	}
	return m.MarkAttendance(ctx, mark)
}
