// Package model holds the domain entities the sync layer caches and evaluates.
//
// Entities are immutable snapshots of backend state. Calendar dates are
// normalised to midnight UTC; a zero time.Time means "not set".
package model

import (
	"fmt"
	"strings"
	"time"
)

// Frequency is a booking's recurrence classification.
type Frequency string

const (
	OneTime Frequency = "one_time"
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	LiveIn  Frequency = "live_in"
)

// ParseFrequency accepts the canonical names plus the spellings the backend
// has historically emitted ("one-time", "OneTime", "live-in", ...).
// Unknown values are returned as-is with an error so callers can decide
// whether to reject the booking or keep it for display.
func ParseFrequency(s string) (Frequency, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	switch norm {
	case "one_time", "onetime", "once":
		return OneTime, nil
	case "daily":
		return Daily, nil
	case "weekly":
		return Weekly, nil
	case "live_in", "livein":
		return LiveIn, nil
	}
	return Frequency(s), fmt.Errorf("unknown frequency %q", s)
}

// Label returns a human-readable name.
func (f Frequency) Label() string {
	switch f {
	case OneTime:
		return "One-time"
	case Daily:
		return "Daily"
	case Weekly:
		return "Weekly"
	case LiveIn:
		return "Live-in"
	}
	return string(f)
}

// Worker is the service provider assigned to a booking.
type Worker struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Phone string `json:"phone,omitempty" yaml:"phone,omitempty"`
}

// Booking is a customer's reservation of a worker under a recurrence rule.
type Booking struct {
	ID             string     `json:"id" yaml:"id"`
	ServiceType    string     `json:"serviceType" yaml:"service_type"`
	CustomerName   string     `json:"customerName,omitempty" yaml:"customer_name,omitempty"`
	Frequency      Frequency  `json:"frequency" yaml:"frequency"`
	WeeklyDays     WeekdaySet `json:"weeklyDays" yaml:"weekly_days"`
	StartDate      time.Time  `json:"startDate" yaml:"start_date"`
	EndDate        *time.Time `json:"endDate,omitempty" yaml:"end_date,omitempty"`
	IsActive       bool       `json:"isActive" yaml:"is_active"`
	AssignedWorker *Worker    `json:"assignedWorker,omitempty" yaml:"assigned_worker,omitempty"`
}

// HasStartDate reports whether the booking carries a start date.
func (b Booking) HasStartDate() bool {
	return !b.StartDate.IsZero()
}

// WorkerName returns the assigned worker's name or "-".
func (b Booking) WorkerName() string {
	if b.AssignedWorker == nil || b.AssignedWorker.Name == "" {
		return "-"
	}
	return b.AssignedWorker.Name
}

// Schedule describes the recurrence rule, e.g. "Weekly (Mon,Wed,Fri)".
func (b Booking) Schedule() string {
	if b.Frequency == Weekly {
		return fmt.Sprintf("%s (%s)", b.Frequency.Label(), b.WeeklyDays)
	}
	return b.Frequency.Label()
}
