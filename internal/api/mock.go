package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/colthorp/bookingsync-go/internal/core"
	"github.com/colthorp/bookingsync-go/internal/model"
	"github.com/colthorp/bookingsync-go/internal/validation"
)

// InMemoryTransport is a lightweight simulation of the booking backend,
// sufficient for unit testing cache and write logic. Attendance overrides
// mutate the existing record in place; a day never holds two records.
type InMemoryTransport struct {
	mu         sync.Mutex
	bookings   map[string]model.Booking
	order      []string
	records    map[string][]model.AttendanceRecord
	catalog    model.ServiceCatalog
	failures   map[string][]error
	idempotent map[string][]byte

	// RequestLog records every request, in arrival order.
	RequestLog []RequestLogEntry

	// OnRequest, if set, runs before each request is handled, outside the
	// transport's lock. Tests use it to hold a fetch in flight.
	OnRequest func(ctx context.Context, req Request)

	// Now stamps generatedAt and markedAt fields.
	Now func() time.Time
}

// RequestLogEntry records a request made to the transport.
type RequestLogEntry struct {
	Method         string
	Endpoint       string
	Params         map[string]string
	IdempotencyKey string
}

// NewInMemoryTransport creates a new in-memory transport for testing.
func NewInMemoryTransport() *InMemoryTransport {
	t := &InMemoryTransport{Now: time.Now}
	t.Reset()
	return t
}

// Reset clears all stored data and recorded requests.
func (t *InMemoryTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bookings = make(map[string]model.Booking)
	t.order = nil
	t.records = make(map[string][]model.AttendanceRecord)
	t.catalog = model.ServiceCatalog{}
	t.failures = make(map[string][]error)
	t.idempotent = make(map[string][]byte)
	t.RequestLog = make([]RequestLogEntry, 0)
}

// SeedBookings adds or replaces bookings.
func (t *InMemoryTransport) SeedBookings(bookings ...model.Booking) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range bookings {
		if _, ok := t.bookings[b.ID]; !ok {
			t.order = append(t.order, b.ID)
		}
		t.bookings[b.ID] = b
	}
}

// SeedRecords adds attendance records, replacing any on the same day.
func (t *InMemoryTransport) SeedRecords(records ...model.AttendanceRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range records {
		r.Date = core.DateOnly(r.Date)
		t.upsertLocked(r)
	}
}

// SeedCatalog sets the service catalog.
func (t *InMemoryTransport) SeedCatalog(c model.ServiceCatalog) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.catalog = c
}

// FailNext makes the next request whose endpoint starts with prefix fail
// with err. Calls queue up.
func (t *InMemoryTransport) FailNext(prefix string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[prefix] = append(t.failures[prefix], err)
}

// Records returns a copy of the records stored for a booking.
func (t *InMemoryTransport) Records(bookingID string) []model.AttendanceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.AttendanceRecord(nil), t.records[bookingID]...)
}

// RequestsMade returns the number of requests made to this transport.
func (t *InMemoryTransport) RequestsMade() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.RequestLog)
}

// RequestsTo counts requests for method and endpoint.
func (t *InMemoryTransport) RequestsTo(method, endpoint string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.RequestLog {
		if e.Method == method && e.Endpoint == endpoint {
			n++
		}
	}
	return n
}

// Do simulates a backend request.
func (t *InMemoryTransport) Do(ctx context.Context, req Request) ([]byte, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if t.OnRequest != nil {
		t.OnRequest(ctx, req)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Track the call for assertions in unit tests
	key := req.Headers["Idempotency-Key"]
	t.RequestLog = append(t.RequestLog, RequestLogEntry{
		Method:         req.Method,
		Endpoint:       req.Endpoint,
		Params:         copyParams(req.Params),
		IdempotencyKey: key,
	})

	if err := t.popFailureLocked(req.Endpoint); err != nil {
		return nil, err
	}
	if key != "" {
		if resp, ok := t.idempotent[key]; ok {
			return resp, nil
		}
	}

	data, err := t.routeLocked(req)
	if err != nil {
		return nil, err
	}
	resp, err := json.Marshal(envelope[interface{}]{Data: data})
	if err != nil {
		return nil, err
	}
	if key != "" {
		t.idempotent[key] = resp
	}
	return resp, nil
}

func (t *InMemoryTransport) popFailureLocked(endpoint string) error {
	for prefix, errs := range t.failures {
		if len(errs) > 0 && strings.HasPrefix(endpoint, prefix) {
			t.failures[prefix] = errs[1:]
			return errs[0]
		}
	}
	return nil
}

func (t *InMemoryTransport) routeLocked(req Request) (interface{}, error) {
	parts := strings.Split(strings.Trim(req.Endpoint, "/"), "/")

	switch {
	case req.Method == http.MethodGet && req.Endpoint == "bookings/mine":
		out := make([]BookingPayload, 0, len(t.order))
		for _, id := range t.order {
			out = append(out, BookingToPayload(t.bookings[id]))
		}
		return out, nil

	case req.Method == http.MethodGet && len(parts) == 2 && parts[0] == "bookings":
		b, err := t.bookingLocked(parts[1])
		if err != nil {
			return nil, err
		}
		return BookingToPayload(b), nil

	case len(parts) == 3 && parts[0] == "bookings" && parts[2] == "attendance":
		b, err := t.bookingLocked(parts[1])
		if err != nil {
			return nil, err
		}
		switch req.Method {
		case http.MethodGet:
			return t.detailLocked(b), nil
		case http.MethodPost:
			return t.markLocked(b, req.Body, "")
		}

	case req.Method == http.MethodPut && len(parts) == 4 && parts[0] == "bookings" && parts[2] == "attendance":
		b, err := t.bookingLocked(parts[1])
		if err != nil {
			return nil, err
		}
		return t.markLocked(b, req.Body, parts[3])

	case req.Method == http.MethodGet && req.Endpoint == "attendance/overview":
		return t.overviewLocked(), nil

	case req.Method == http.MethodGet && req.Endpoint == "analytics/summary":
		return t.analyticsLocked(), nil

	case req.Method == http.MethodGet && req.Endpoint == "services":
		return t.catalog, nil
	}

	return nil, &APIError{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("no route for %s %s", req.Method, req.Endpoint)}
}

func (t *InMemoryTransport) bookingLocked(id string) (model.Booking, error) {
	b, ok := t.bookings[id]
	if !ok {
		return model.Booking{}, &APIError{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("booking %s not found", id)}
	}
	return b, nil
}

func (t *InMemoryTransport) detailLocked(b model.Booking) AttendanceDetailPayload {
	recs := t.records[b.ID]
	out := AttendanceDetailPayload{
		Booking: BookingToPayload(b),
		Records: make([]AttendanceRecordPayload, 0, len(recs)),
	}
	for _, r := range recs {
		out.Records = append(out.Records, RecordToPayload(r))
	}
	return out
}

// markLocked handles POST (pathDate == "") and PUT writes. POST refuses a day
// that already has a record; PUT requires the admin role and overwrites.
func (t *InMemoryTransport) markLocked(b model.Booking, body []byte, pathDate string) (interface{}, error) {
	var p MarkPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, &APIError{StatusCode: http.StatusBadRequest, Message: "malformed body"}
	}
	if pathDate != "" {
		p.Date = pathDate
	}
	if err := validation.Struct(p); err != nil {
		return nil, &APIError{StatusCode: http.StatusUnprocessableEntity, Message: err.Error()}
	}
	date, err := core.ParseDate(p.Date)
	if err != nil {
		return nil, &APIError{StatusCode: http.StatusUnprocessableEntity, Message: err.Error()}
	}

	_, exists := t.findLocked(b.ID, date)
	if pathDate == "" && exists {
		return nil, &APIError{StatusCode: http.StatusConflict, Message: fmt.Sprintf("attendance for %s already marked", p.Date)}
	}
	if pathDate != "" && p.MarkedBy.Role != string(model.RoleAdmin) {
		return nil, &APIError{StatusCode: http.StatusForbidden, Message: "override requires admin role"}
	}

	r := model.AttendanceRecord{
		BookingID: b.ID,
		Date:      date,
		Status:    model.Status(p.Status),
		MarkedBy:  model.MarkedBy{Role: model.Role(p.MarkedBy.Role), Name: p.MarkedBy.Name},
		MarkedAt:  t.Now().UTC(),
	}
	t.upsertLocked(r)
	return RecordToPayload(r), nil
}

func (t *InMemoryTransport) findLocked(bookingID string, date time.Time) (int, bool) {
	for i, r := range t.records[bookingID] {
		if r.Date.Equal(date) {
			return i, true
		}
	}
	return -1, false
}

func (t *InMemoryTransport) upsertLocked(r model.AttendanceRecord) {
	if i, ok := t.findLocked(r.BookingID, r.Date); ok {
		t.records[r.BookingID][i] = r
		return
	}
	recs := append(t.records[r.BookingID], r)
	sort.Slice(recs, func(i, j int) bool { return recs[i].Date.Before(recs[j].Date) })
	t.records[r.BookingID] = recs
}

func (t *InMemoryTransport) overviewLocked() model.AttendanceOverview {
	ov := model.AttendanceOverview{Rows: make([]model.OverviewRow, 0, len(t.order)), GeneratedAt: t.Now().UTC()}
	for _, id := range t.order {
		b := t.bookings[id]
		row := model.OverviewRow{
			BookingID:    b.ID,
			CustomerName: b.CustomerName,
			WorkerName:   b.WorkerName(),
			ServiceType:  b.ServiceType,
			Frequency:    b.Frequency,
		}
		for _, r := range t.records[id] {
			switch r.Status {
			case model.Present:
				row.PresentDays++
			case model.Absent:
				row.AbsentDays++
			}
			if row.LastMarked == nil || r.Date.After(*row.LastMarked) {
				d := r.Date
				row.LastMarked = &d
			}
		}
		ov.Rows = append(ov.Rows, row)
	}
	return ov
}

func (t *InMemoryTransport) analyticsLocked() model.AnalyticsSnapshot {
	prices := make(map[string]float64, len(t.catalog.Services))
	for _, s := range t.catalog.Services {
		prices[s.Type] = s.BasePrice
	}

	snap := model.AnalyticsSnapshot{
		ByService:   make(map[string]int),
		ByFrequency: make(map[string]int),
		Currency:    t.catalog.Currency,
		GeneratedAt: t.Now().UTC(),
	}
	for _, id := range t.order {
		b := t.bookings[id]
		snap.TotalBookings++
		if b.IsActive {
			snap.ActiveBookings++
		}
		snap.ByService[b.ServiceType]++
		snap.ByFrequency[string(b.Frequency)]++
		for _, r := range t.records[id] {
			switch r.Status {
			case model.Present:
				snap.PresentDays++
				snap.Revenue += prices[b.ServiceType]
			case model.Absent:
				snap.AbsentDays++
			}
		}
	}
	return snap
}

// copyParams creates a copy of the params map.
func copyParams(params map[string]string) map[string]string {
	result := make(map[string]string, len(params))
	for k, v := range params {
		result[k] = v
	}
	return result
}
