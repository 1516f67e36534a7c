package model

import (
	"fmt"
	"strings"
	"time"
)

// Status is the recorded outcome for one booking day.
type Status string

const (
	Present Status = "present"
	Absent  Status = "absent"
)

// ParseStatus accepts "present"/"absent" and the short forms "p"/"a".
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "present", "p":
		return Present, nil
	case "absent", "a":
		return Absent, nil
	}
	return "", fmt.Errorf("invalid status %q (expected present or absent)", s)
}

// Role identifies who submitted an attendance record.
type Role string

const (
	RoleWorker   Role = "worker"
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleWorker, RoleCustomer, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("invalid role %q (expected worker, customer or admin)", s)
}

// MarkedBy records the submitter of an attendance record.
type MarkedBy struct {
	Role Role   `json:"role" yaml:"role"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// AttendanceRecord is the single record for a (booking, calendar day).
type AttendanceRecord struct {
	BookingID string    `json:"bookingId" yaml:"booking_id"`
	Date      time.Time `json:"date" yaml:"date"`
	Status    Status    `json:"status" yaml:"status"`
	MarkedBy  MarkedBy  `json:"markedBy" yaml:"marked_by"`
	MarkedAt  time.Time `json:"markedAt,omitempty" yaml:"marked_at,omitempty"`
}

// AttendanceDetail is a booking together with all of its records. Tallies are
// derived on display, never stored.
type AttendanceDetail struct {
	Booking Booking            `json:"booking" yaml:"booking"`
	Records []AttendanceRecord `json:"records" yaml:"records"`
}

// OverviewRow summarises one booking for the admin console.
type OverviewRow struct {
	BookingID    string     `json:"bookingId" yaml:"booking_id"`
	CustomerName string     `json:"customerName" yaml:"customer_name"`
	WorkerName   string     `json:"workerName" yaml:"worker_name"`
	ServiceType  string     `json:"serviceType" yaml:"service_type"`
	Frequency    Frequency  `json:"frequency" yaml:"frequency"`
	PresentDays  int        `json:"presentDays" yaml:"present_days"`
	AbsentDays   int        `json:"absentDays" yaml:"absent_days"`
	LastMarked   *time.Time `json:"lastMarked,omitempty" yaml:"last_marked,omitempty"`
}

// AttendanceOverview is the cross-booking attendance summary.
type AttendanceOverview struct {
	Rows        []OverviewRow `json:"rows" yaml:"rows"`
	GeneratedAt time.Time     `json:"generatedAt" yaml:"generated_at"`
}

// AttendanceMark is a request to record (or, for admins, overwrite) the
// status of one booking day.
type AttendanceMark struct {
	BookingID string
	Date      time.Time
	Status    Status
	MarkedBy  MarkedBy
}
