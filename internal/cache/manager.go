package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/facebookgo/clock"

	"github.com/colthorp/bookingsync-go/internal/api"
	"github.com/colthorp/bookingsync-go/internal/attendance"
	"github.com/colthorp/bookingsync-go/internal/core"
	"github.com/colthorp/bookingsync-go/internal/logging"
	"github.com/colthorp/bookingsync-go/internal/metrics"
	"github.com/colthorp/bookingsync-go/internal/model"
)

var (
	// ErrNotMarkable is returned when a mark targets a day the engine does
	// not classify as Markable.
	ErrNotMarkable = errors.New("date is not markable")
	// ErrForbidden is returned when a non-admin attempts an override.
	ErrForbidden = errors.New("override requires the admin role")
	// ErrUnknownFamily is returned by Refresh for an unrecognised family.
	ErrUnknownFamily = errors.New("unknown cache family")
)

// singleton key for list-shaped families
const allKey = "all"

// Source is the backend the Manager reads from and writes to.
// *api.BookingAPI implements it.
type Source interface {
	MyBookings(ctx context.Context) ([]model.Booking, error)
	Booking(ctx context.Context, id string) (model.Booking, error)
	AttendanceDetail(ctx context.Context, bookingID string) (model.AttendanceDetail, error)
	AttendanceOverview(ctx context.Context) (model.AttendanceOverview, error)
	Analytics(ctx context.Context) (model.AnalyticsSnapshot, error)
	ServiceCatalog(ctx context.Context) (model.ServiceCatalog, error)
	MarkAttendance(ctx context.Context, m model.AttendanceMark) (model.AttendanceRecord, error)
	OverrideAttendance(ctx context.Context, m model.AttendanceMark) (model.AttendanceRecord, error)
}

// DefaultTTLs returns the built-in per-family TTLs.
func DefaultTTLs() TTLs {
	return TTLs{
		MyBookings:         core.DefaultMyBookingsTTL,
		AttendanceDetail:   core.DefaultAttendanceDetailTTL,
		AttendanceOverview: core.DefaultAttendanceOverviewTTL,
		Analytics:          core.DefaultAnalyticsTTL,
		ServiceCatalog:     core.DefaultServiceCatalogTTL,
	}
}

// Options configures a Manager. Zero fields take defaults.
type Options struct {
	TTLs   TTLs
	Clock  clock.Clock
	Engine *attendance.Engine
}

// Manager owns one Store per entity family and binds each to its fetcher.
//
// # Reads
//
// Every read goes through the family's Store, so it is served from memory
// while fresh and shares in-flight fetches with concurrent readers.
//
// # Writes
//
// MarkAttendance and OverrideAttendance check the target day with the
// attendance engine, send the write, and on success invalidate every family
// the write can change: the booking's attendance detail, the attendance
// overview, analytics and my bookings. Nothing is written through; the next
// read refetches.
type Manager struct {
	source Source
	engine *attendance.Engine
	clock  clock.Clock
	ttl    TTLs

	myBookings *Store[string, []model.Booking]
	bookings   *Store[string, model.Booking]
	details    *Store[string, model.AttendanceDetail]
	overview   *Store[string, model.AttendanceOverview]
	analytics  *Store[string, model.AnalyticsSnapshot]
	catalog    *Store[string, model.ServiceCatalog]
}

// NewManager creates a new cache manager over source.
// If source is nil, uses a BookingAPI over the default HTTP client.
func NewManager(source Source, opts Options) *Manager {
	if source == nil {
		source = api.NewBookingAPI(nil)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Engine == nil {
		opts.Engine = attendance.NewEngine(opts.Clock, time.UTC)
	}
	opts.TTLs = withDefaults(opts.TTLs)

	return &Manager{
		source:     source,
		engine:     opts.Engine,
		clock:      opts.Clock,
		ttl:        opts.TTLs,
		myBookings: NewStore[string, []model.Booking](FamilyMyBookings, opts.Clock),
		bookings:   NewStore[string, model.Booking](FamilyBooking, opts.Clock),
		details:    NewStore[string, model.AttendanceDetail](FamilyAttendanceDetail, opts.Clock),
		overview:   NewStore[string, model.AttendanceOverview](FamilyAttendanceOverview, opts.Clock),
		analytics:  NewStore[string, model.AnalyticsSnapshot](FamilyAnalytics, opts.Clock),
		catalog:    NewStore[string, model.ServiceCatalog](FamilyServiceCatalog, opts.Clock),
	}
}

func withDefaults(t TTLs) TTLs {
	d := DefaultTTLs()
	if t.MyBookings <= 0 {
		t.MyBookings = d.MyBookings
	}
	if t.AttendanceDetail <= 0 {
		t.AttendanceDetail = d.AttendanceDetail
	}
	if t.AttendanceOverview <= 0 {
		t.AttendanceOverview = d.AttendanceOverview
	}
	if t.Analytics <= 0 {
		t.Analytics = d.Analytics
	}
	if t.ServiceCatalog <= 0 {
		t.ServiceCatalog = d.ServiceCatalog
	}
	return t
}

// Engine returns the attendance engine used to check writes.
func (m *Manager) Engine() *attendance.Engine {
	return m.engine
}

// Now returns the manager's clock time.
func (m *Manager) Now() time.Time {
	return m.clock.Now()
}

// TTLs returns the effective per-family TTLs.
func (m *Manager) TTLs() TTLs {
	return m.ttl
}

// MyBookings returns the caller's bookings.
func (m *Manager) MyBookings(ctx context.Context) ([]model.Booking, error) {
	return m.myBookings.Get(ctx, allKey, m.source.MyBookings, m.ttl.MyBookings)
}

// Booking returns one booking. It shares the my-bookings TTL.
func (m *Manager) Booking(ctx context.Context, id string) (model.Booking, error) {
	return m.bookings.Get(ctx, id, func(ctx context.Context) (model.Booking, error) {
		return m.source.Booking(ctx, id)
	}, m.ttl.MyBookings)
}

// AttendanceDetail returns a booking with its attendance records.
func (m *Manager) AttendanceDetail(ctx context.Context, bookingID string) (model.AttendanceDetail, error) {
	return m.details.Get(ctx, bookingID, func(ctx context.Context) (model.AttendanceDetail, error) {
		return m.source.AttendanceDetail(ctx, bookingID)
	}, m.ttl.AttendanceDetail)
}

// AttendanceOverview returns the cross-booking attendance summary.
func (m *Manager) AttendanceOverview(ctx context.Context) (model.AttendanceOverview, error) {
	return m.overview.Get(ctx, allKey, m.source.AttendanceOverview, m.ttl.AttendanceOverview)
}

// Analytics returns the analytics snapshot.
func (m *Manager) Analytics(ctx context.Context) (model.AnalyticsSnapshot, error) {
	return m.analytics.Get(ctx, allKey, m.source.Analytics, m.ttl.Analytics)
}

// ServiceCatalog returns the service catalog.
func (m *Manager) ServiceCatalog(ctx context.Context) (model.ServiceCatalog, error) {
	return m.catalog.Get(ctx, allKey, m.source.ServiceCatalog, m.ttl.ServiceCatalog)
}

// Last-known-good accessors, for rendering after a FetchError.

func (m *Manager) PeekMyBookings() (CacheEntry[[]model.Booking], bool) {
	return m.myBookings.Peek(allKey)
}

func (m *Manager) PeekAttendanceDetail(bookingID string) (CacheEntry[model.AttendanceDetail], bool) {
	return m.details.Peek(bookingID)
}

func (m *Manager) PeekAttendanceOverview() (CacheEntry[model.AttendanceOverview], bool) {
	return m.overview.Peek(allKey)
}

func (m *Manager) PeekAnalytics() (CacheEntry[model.AnalyticsSnapshot], bool) {
	return m.analytics.Peek(allKey)
}

func (m *Manager) PeekServiceCatalog() (CacheEntry[model.ServiceCatalog], bool) {
	return m.catalog.Peek(allKey)
}

// Classify evaluates date for a booking using the cached attendance detail.
func (m *Manager) Classify(ctx context.Context, bookingID string, date time.Time) (attendance.Classification, model.AttendanceDetail, error) {
	detail, err := m.AttendanceDetail(ctx, bookingID)
	if err != nil {
		return attendance.Classification{}, detail, err
	}
	c, err := m.engine.Classify(detail.Booking, date, detail.Records)
	return c, detail, err
}

// MarkAttendance records a status for a Markable day.
func (m *Manager) MarkAttendance(ctx context.Context, mark model.AttendanceMark) (model.AttendanceRecord, error) {
	log := logging.Ctx(ctx).With().Str("component", "cache").Str("booking_id", mark.BookingID).Str("date", core.FormatDate(mark.Date)).Logger()

	c, _, err := m.Classify(ctx, mark.BookingID, mark.Date)
	if err != nil {
		metrics.AttendanceWrites.WithLabelValues("mark", "error").Inc()
		return model.AttendanceRecord{}, err
	}
	if !c.CanMark() {
		metrics.AttendanceWrites.WithLabelValues("mark", "rejected").Inc()
		return model.AttendanceRecord{}, fmt.Errorf("%w: %s is %s (%s)", ErrNotMarkable, core.FormatDate(c.Date), c.State, c.Describe())
	}

	rec, err := m.source.MarkAttendance(ctx, mark)
	if err != nil {
		metrics.AttendanceWrites.WithLabelValues("mark", "error").Inc()
		// Our snapshot missed someone else's mark.
		if api.IsStatus(err, http.StatusConflict) {
			m.details.Invalidate(mark.BookingID)
		}
		return model.AttendanceRecord{}, fmt.Errorf("mark attendance: %w", err)
	}

	m.invalidateAfterWrite(mark.BookingID)
	metrics.AttendanceWrites.WithLabelValues("mark", "ok").Inc()
	log.Info().Str("status", string(rec.Status)).Str("role", string(rec.MarkedBy.Role)).Msg("attendance marked")
	return rec, nil
}

// OverrideAttendance overwrites (or creates) the record for an in-schedule,
// non-future day. Only admins may override.
func (m *Manager) OverrideAttendance(ctx context.Context, mark model.AttendanceMark) (model.AttendanceRecord, error) {
	log := logging.Ctx(ctx).With().Str("component", "cache").Str("booking_id", mark.BookingID).Str("date", core.FormatDate(mark.Date)).Logger()

	if mark.MarkedBy.Role != model.RoleAdmin {
		metrics.AttendanceWrites.WithLabelValues("override", "rejected").Inc()
		return model.AttendanceRecord{}, ErrForbidden
	}

	c, _, err := m.Classify(ctx, mark.BookingID, mark.Date)
	if err != nil {
		metrics.AttendanceWrites.WithLabelValues("override", "error").Inc()
		return model.AttendanceRecord{}, err
	}
	if c.State != attendance.AlreadyMarked && c.State != attendance.Markable {
		metrics.AttendanceWrites.WithLabelValues("override", "rejected").Inc()
		return model.AttendanceRecord{}, fmt.Errorf("%w: %s is %s (%s)", ErrNotMarkable, core.FormatDate(c.Date), c.State, c.Describe())
	}

	rec, err := m.source.OverrideAttendance(ctx, mark)
	if err != nil {
		metrics.AttendanceWrites.WithLabelValues("override", "error").Inc()
		return model.AttendanceRecord{}, fmt.Errorf("override attendance: %w", err)
	}

	m.invalidateAfterWrite(mark.BookingID)
	metrics.AttendanceWrites.WithLabelValues("override", "ok").Inc()
	previous := "none"
	if status, ok := c.Status(); ok {
		previous = string(status)
	}
	log.Info().Str("previous", previous).Str("status", string(rec.Status)).Msg("attendance overridden")
	return rec, nil
}

// invalidateAfterWrite drops every cached view an attendance write affects.
func (m *Manager) invalidateAfterWrite(bookingID string) {
	m.details.Invalidate(bookingID)
	m.overview.InvalidateAll()
	m.analytics.InvalidateAll()
	m.myBookings.InvalidateAll()
}

// Refresh drops every entry of one family; the next read refetches.
func (m *Manager) Refresh(family string) error {
	switch family {
	case FamilyMyBookings:
		m.myBookings.InvalidateAll()
	case FamilyBooking:
		m.bookings.InvalidateAll()
	case FamilyAttendanceDetail:
		m.details.InvalidateAll()
	case FamilyAttendanceOverview:
		m.overview.InvalidateAll()
	case FamilyAnalytics:
		m.analytics.InvalidateAll()
	case FamilyServiceCatalog:
		m.catalog.InvalidateAll()
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFamily, family)
	}
	return nil
}

// InvalidateAll clears every family.
func (m *Manager) InvalidateAll() {
	for _, f := range Families {
		_ = m.Refresh(f)
	}
}

// Stats returns per-family counters in display order.
func (m *Manager) Stats() []Stats {
	return []Stats{
		m.myBookings.Stats(),
		m.bookings.Stats(),
		m.details.Stats(),
		m.overview.Stats(),
		m.analytics.Stats(),
		m.catalog.Stats(),
	}
}
