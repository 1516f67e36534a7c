// Package api provides the HTTP client and wire types for the booking backend.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/colthorp/bookingsync-go/internal/core"
	"github.com/colthorp/bookingsync-go/internal/model"
	"github.com/colthorp/bookingsync-go/internal/validation"
)

// Request is one call to the backend. Body is an already-encoded JSON
// payload, or nil.
type Request struct {
	Method   string
	Endpoint string
	Params   map[string]string
	Body     []byte
	Headers  map[string]string
}

// Transport is the interface for making API requests. It returns the raw
// response body of a successful (2xx) call.
type Transport interface {
	Do(ctx context.Context, req Request) ([]byte, error)
}

// Response envelope: every payload is wrapped in {"data": ...}.
type envelope[T any] struct {
	Data T `json:"data"`
}

// errorBody is the backend's error payload.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WorkerPayload is a worker as sent by the backend.
type WorkerPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// BookingPayload is a booking as sent by the backend. Dates are YYYY-MM-DD;
// an empty startDate means the booking has none.
type BookingPayload struct {
	ID             string         `json:"id" validate:"required"`
	ServiceType    string         `json:"serviceType"`
	CustomerName   string         `json:"customerName,omitempty"`
	Frequency      string         `json:"frequency"`
	WeeklyDays     []int          `json:"weeklyDays,omitempty" validate:"omitempty,dive,gte=0,lte=6"`
	StartDate      string         `json:"startDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate        *string        `json:"endDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	IsActive       bool           `json:"isActive"`
	AssignedWorker *WorkerPayload `json:"assignedWorker,omitempty"`
}

// ToModel validates the payload and converts it. An unrecognised frequency
// is kept verbatim; the attendance engine reports it when evaluated.
func (p BookingPayload) ToModel() (model.Booking, error) {
	if err := validation.Struct(p); err != nil {
		return model.Booking{}, fmt.Errorf("invalid booking payload: %w", err)
	}

	freq, _ := model.ParseFrequency(p.Frequency)
	b := model.Booking{
		ID:           p.ID,
		ServiceType:  p.ServiceType,
		CustomerName: p.CustomerName,
		Frequency:    freq,
		IsActive:     p.IsActive,
	}
	for _, d := range p.WeeklyDays {
		b.WeeklyDays = b.WeeklyDays.Add(time.Weekday(d))
	}
	if p.StartDate != "" {
		start, err := core.ParseDate(p.StartDate)
		if err != nil {
			return model.Booking{}, err
		}
		b.StartDate = start
	}
	if p.EndDate != nil && *p.EndDate != "" {
		end, err := core.ParseDate(*p.EndDate)
		if err != nil {
			return model.Booking{}, err
		}
		b.EndDate = &end
	}
	if p.AssignedWorker != nil {
		b.AssignedWorker = &model.Worker{
			ID:    p.AssignedWorker.ID,
			Name:  p.AssignedWorker.Name,
			Phone: p.AssignedWorker.Phone,
		}
	}
	return b, nil
}

// BookingToPayload is the inverse of ToModel.
func BookingToPayload(b model.Booking) BookingPayload {
	p := BookingPayload{
		ID:           b.ID,
		ServiceType:  b.ServiceType,
		CustomerName: b.CustomerName,
		Frequency:    string(b.Frequency),
		IsActive:     b.IsActive,
	}
	for _, d := range b.WeeklyDays.Days() {
		p.WeeklyDays = append(p.WeeklyDays, int(d))
	}
	if b.HasStartDate() {
		p.StartDate = core.FormatDate(b.StartDate)
	}
	if b.EndDate != nil {
		end := core.FormatDate(*b.EndDate)
		p.EndDate = &end
	}
	if b.AssignedWorker != nil {
		p.AssignedWorker = &WorkerPayload{
			ID:    b.AssignedWorker.ID,
			Name:  b.AssignedWorker.Name,
			Phone: b.AssignedWorker.Phone,
		}
	}
	return p
}

// MarkedByPayload identifies the submitter.
type MarkedByPayload struct {
	Role string `json:"role" validate:"required,oneof=worker customer admin"`
	Name string `json:"name,omitempty"`
}

// AttendanceRecordPayload is one attendance record on the wire.
type AttendanceRecordPayload struct {
	BookingID string          `json:"bookingId"`
	Date      string          `json:"date" validate:"required,datetime=2006-01-02"`
	Status    string          `json:"status" validate:"required,oneof=present absent"`
	MarkedBy  MarkedByPayload `json:"markedBy"`
	MarkedAt  *time.Time      `json:"markedAt,omitempty"`
}

// ToModel validates and converts the record.
func (p AttendanceRecordPayload) ToModel() (model.AttendanceRecord, error) {
	if err := validation.Struct(p); err != nil {
		return model.AttendanceRecord{}, fmt.Errorf("invalid attendance record: %w", err)
	}
	date, err := core.ParseDate(p.Date)
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	r := model.AttendanceRecord{
		BookingID: p.BookingID,
		Date:      date,
		Status:    model.Status(p.Status),
		MarkedBy:  model.MarkedBy{Role: model.Role(p.MarkedBy.Role), Name: p.MarkedBy.Name},
	}
	if p.MarkedAt != nil {
		r.MarkedAt = *p.MarkedAt
	}
	return r, nil
}

// RecordToPayload is the inverse of AttendanceRecordPayload.ToModel.
func RecordToPayload(r model.AttendanceRecord) AttendanceRecordPayload {
	p := AttendanceRecordPayload{
		BookingID: r.BookingID,
		Date:      core.FormatDate(r.Date),
		Status:    string(r.Status),
		MarkedBy:  MarkedByPayload{Role: string(r.MarkedBy.Role), Name: r.MarkedBy.Name},
	}
	if !r.MarkedAt.IsZero() {
		at := r.MarkedAt
		p.MarkedAt = &at
	}
	return p
}

// AttendanceDetailPayload is the body of GET bookings/{id}/attendance.
type AttendanceDetailPayload struct {
	Booking BookingPayload            `json:"booking"`
	Records []AttendanceRecordPayload `json:"records"`
}

// MarkPayload is the body of attendance writes.
type MarkPayload struct {
	Date     string          `json:"date" validate:"required,datetime=2006-01-02"`
	Status   string          `json:"status" validate:"required,oneof=present absent"`
	MarkedBy MarkedByPayload `json:"markedBy"`
}

// NewMarkPayload builds the write body for m.
func NewMarkPayload(m model.AttendanceMark) MarkPayload {
	return MarkPayload{
		Date:     core.FormatDate(m.Date),
		Status:   string(m.Status),
		MarkedBy: MarkedByPayload{Role: string(m.MarkedBy.Role), Name: m.MarkedBy.Name},
	}
}
