// Package core provides shared constants and date helpers for bookingsync.
package core

import (
	"os"
	"path/filepath"
	"time"
)

// API configuration
const (
	APIBaseURL = "http://localhost:8080/api/v1"
	DefaultTZ  = "UTC"
	EnvPrefix  = "BOOKINGSYNC_"
)

// APIDateFmt is the wire and display format for calendar days.
const APIDateFmt = "2006-01-02"

// Default time-to-live per entity family. Attendance changes often and is
// read right after writes; aggregates change slowly.
const (
	DefaultAttendanceDetailTTL   = 60 * time.Second
	DefaultAttendanceOverviewTTL = 60 * time.Second
	DefaultMyBookingsTTL         = 2 * time.Minute
	DefaultAnalyticsTTL          = 5 * time.Minute
	DefaultServiceCatalogTTL     = 5 * time.Minute
)

// HTTP client defaults
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultRateLimit      = 10.0 // requests per second
	DefaultRateBurst      = 5
)

// CalendarWindowDays is how far back the attendance calendar looks when no
// explicit window is given.
const CalendarWindowDays = 14

// MaxCalendarDays bounds any calendar window.
const MaxCalendarDays = 366

// ConfigDir returns the default per-user config directory.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "bookingsync")
}

// Version is the current CLI version.
const Version = "0.3.0"
