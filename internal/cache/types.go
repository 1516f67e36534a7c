// Package cache keeps fetched booking entities in memory and decides when to
// refetch them.
//
// # Overview
//
// Each entity family (my bookings, booking, attendance detail, attendance
// overview, analytics, service catalog) has its own Store. A Store maps a key
// to the last successfully fetched value and the time it was fetched. Reads
// within the family's TTL are served from memory; anything else goes to the
// family's Fetcher.
//
// # Freshness Rules
//
// An entry is fresh iff:
//   - now - FetchedAt < ttl, and
//   - the fetch that produced it started after the last invalidation of its
//     key (or of the whole store).
//
// A failed fetch never inserts or replaces an entry. Peek always returns the
// last-known-good entry, fresh or not, so callers can fall back to it after
// reporting the failure.
//
// # In-flight De-duplication
//
// Concurrent misses for the same key share one fetch. Flights are keyed by
// (key, invalidation sequence): a Get issued after Invalidate never joins a
// flight that started before it. The earlier flight still completes and
// stores its value, but that value is stale on arrival.
//
// Fetches are never cancelled. The shared fetch runs on a context detached
// from the caller's cancellation; a caller whose context ends stops waiting
// and the flight finishes in the background.
//
// # Invalidation Policy
//
// The cache never writes through. Manager's write operations invalidate
// every family the write can affect once the backend has accepted it.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Family names, used for metrics labels and logs.
const (
	FamilyMyBookings         = "my_bookings"
	FamilyBooking            = "booking"
	FamilyAttendanceDetail   = "attendance_detail"
	FamilyAttendanceOverview = "attendance_overview"
	FamilyAnalytics          = "analytics"
	FamilyServiceCatalog     = "service_catalog"
)

// Families lists every family in display order.
var Families = []string{
	FamilyMyBookings,
	FamilyBooking,
	FamilyAttendanceDetail,
	FamilyAttendanceOverview,
	FamilyAnalytics,
	FamilyServiceCatalog,
}

// CacheEntry is a fetched value and the time the fetch completed. Entries are
// replaced wholesale, never mutated.
type CacheEntry[V any] struct {
	Value     V
	FetchedAt time.Time
}

// Age returns how old the entry is at now.
func (e CacheEntry[V]) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// Fetcher loads a value from the backend. It owns its own timeout policy.
type Fetcher[V any] func(ctx context.Context) (V, error)

// ErrFetchFailed matches every FetchError.
var ErrFetchFailed = errors.New("fetch failed")

// FetchError reports a failed fetch. The store is unchanged.
type FetchError struct {
	Family string
	Key    string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s: fetch failed: %v", e.Family, e.Key, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrFetchFailed) match without hiding the cause.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

// Stats are cumulative counters for one store.
type Stats struct {
	Family        string `json:"family" yaml:"family"`
	Entries       int    `json:"entries" yaml:"entries"`
	Hits          int64  `json:"hits" yaml:"hits"`
	Misses        int64  `json:"misses" yaml:"misses"`
	Fetches       int64  `json:"fetches" yaml:"fetches"`
	FetchErrors   int64  `json:"fetchErrors" yaml:"fetch_errors"`
	SharedWaits   int64  `json:"sharedWaits" yaml:"shared_waits"`
	Invalidations int64  `json:"invalidations" yaml:"invalidations"`
}

// TTLs holds the time-to-live for every family.
type TTLs struct {
	MyBookings         time.Duration
	AttendanceDetail   time.Duration
	AttendanceOverview time.Duration
	Analytics          time.Duration
	ServiceCatalog     time.Duration
}
