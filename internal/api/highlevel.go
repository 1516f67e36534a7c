package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/colthorp/bookingsync-go/internal/core"
	"github.com/colthorp/bookingsync-go/internal/model"
	"github.com/colthorp/bookingsync-go/internal/validation"
)

// BookingAPI provides a typed convenience layer over the booking REST API.
// Its read methods have the shape of cache fetchers.
type BookingAPI struct {
	transport Transport
}

// NewBookingAPI creates a new high-level API client. A nil transport uses an
// HTTP Client with default settings.
func NewBookingAPI(transport Transport) *BookingAPI {
	if transport == nil {
		transport = NewClient(ClientConfig{})
	}
	return &BookingAPI{transport: transport}
}

// GetTransport returns the underlying transport.
func (a *BookingAPI) GetTransport() Transport {
	return a.transport
}

// get performs a GET and decodes the enveloped payload into out.
func get[T any](ctx context.Context, a *BookingAPI, endpoint string) (T, error) {
	var env envelope[T]
	body, err := a.transport.Do(ctx, Request{Method: http.MethodGet, Endpoint: endpoint})
	if err != nil {
		return env.Data, err
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return env.Data, fmt.Errorf("failed to parse %s response: %w", endpoint, err)
	}
	return env.Data, nil
}

// MyBookings fetches the caller's bookings.
func (a *BookingAPI) MyBookings(ctx context.Context) ([]model.Booking, error) {
	payloads, err := get[[]BookingPayload](ctx, a, "bookings/mine")
	if err != nil {
		return nil, err
	}
	bookings := make([]model.Booking, 0, len(payloads))
	for _, p := range payloads {
		b, err := p.ToModel()
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, nil
}

// Booking fetches a single booking by ID.
func (a *BookingAPI) Booking(ctx context.Context, id string) (model.Booking, error) {
	p, err := get[BookingPayload](ctx, a, "bookings/"+url.PathEscape(id))
	if err != nil {
		return model.Booking{}, err
	}
	return p.ToModel()
}

// AttendanceDetail fetches a booking with all of its attendance records.
func (a *BookingAPI) AttendanceDetail(ctx context.Context, bookingID string) (model.AttendanceDetail, error) {
	p, err := get[AttendanceDetailPayload](ctx, a, fmt.Sprintf("bookings/%s/attendance", url.PathEscape(bookingID)))
	if err != nil {
		return model.AttendanceDetail{}, err
	}

	booking, err := p.Booking.ToModel()
	if err != nil {
		return model.AttendanceDetail{}, err
	}
	detail := model.AttendanceDetail{
		Booking: booking,
		Records: make([]model.AttendanceRecord, 0, len(p.Records)),
	}
	for _, rp := range p.Records {
		r, err := rp.ToModel()
		if err != nil {
			return model.AttendanceDetail{}, err
		}
		if r.BookingID == "" {
			r.BookingID = booking.ID
		}
		detail.Records = append(detail.Records, r)
	}
	return detail, nil
}

// AttendanceOverview fetches the admin attendance summary.
func (a *BookingAPI) AttendanceOverview(ctx context.Context) (model.AttendanceOverview, error) {
	return get[model.AttendanceOverview](ctx, a, "attendance/overview")
}

// Analytics fetches the analytics snapshot.
func (a *BookingAPI) Analytics(ctx context.Context) (model.AnalyticsSnapshot, error) {
	return get[model.AnalyticsSnapshot](ctx, a, "analytics/summary")
}

// ServiceCatalog fetches the offered services.
func (a *BookingAPI) ServiceCatalog(ctx context.Context) (model.ServiceCatalog, error) {
	return get[model.ServiceCatalog](ctx, a, "services")
}

// MarkAttendance creates the record for an unmarked day (POST).
func (a *BookingAPI) MarkAttendance(ctx context.Context, m model.AttendanceMark) (model.AttendanceRecord, error) {
	return a.write(ctx, http.MethodPost, fmt.Sprintf("bookings/%s/attendance", url.PathEscape(m.BookingID)), m)
}

// OverrideAttendance overwrites the record for a day in place (PUT).
func (a *BookingAPI) OverrideAttendance(ctx context.Context, m model.AttendanceMark) (model.AttendanceRecord, error) {
	endpoint := fmt.Sprintf("bookings/%s/attendance/%s", url.PathEscape(m.BookingID), core.FormatDate(m.Date))
	return a.write(ctx, http.MethodPut, endpoint, m)
}

// write sends an attendance write with a fresh Idempotency-Key, so the
// client may retry it safely.
func (a *BookingAPI) write(ctx context.Context, method, endpoint string, m model.AttendanceMark) (model.AttendanceRecord, error) {
	payload := NewMarkPayload(m)
	if err := validation.Struct(payload); err != nil {
		return model.AttendanceRecord{}, fmt.Errorf("invalid attendance write: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return model.AttendanceRecord{}, fmt.Errorf("failed to encode attendance write: %w", err)
	}

	resp, err := a.transport.Do(ctx, Request{
		Method:   method,
		Endpoint: endpoint,
		Body:     body,
		Headers:  map[string]string{"Idempotency-Key": uuid.NewString()},
	})
	if err != nil {
		return model.AttendanceRecord{}, err
	}

	var env envelope[AttendanceRecordPayload]
	if err := json.Unmarshal(resp, &env); err != nil {
		return model.AttendanceRecord{}, fmt.Errorf("failed to parse %s response: %w", endpoint, err)
	}
	r, err := env.Data.ToModel()
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	if r.BookingID == "" {
		r.BookingID = m.BookingID
	}
	return r, nil
}
