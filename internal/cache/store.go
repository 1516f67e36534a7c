package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"golang.org/x/sync/singleflight"

	"github.com/colthorp/bookingsync-go/internal/logging"
	"github.com/colthorp/bookingsync-go/internal/metrics"
)

// storedEntry is a CacheEntry plus the invalidation sequence its fetch
// started under.
type storedEntry[V any] struct {
	entry CacheEntry[V]
	seq   uint64
}

// Store is a keyed TTL cache with in-flight de-duplication. The zero value is
// not usable; call NewStore.
type Store[K comparable, V any] struct {
	family string
	clock  clock.Clock
	group  singleflight.Group

	// afterMiss runs between a miss and joining the flight. Tests only.
	afterMiss func()

	mu          sync.Mutex
	entries     map[K]storedEntry[V]
	invalidated map[K]uint64 // sequence of the last Invalidate(key) not yet covered by a stored fetch
	cleared     uint64       // sequence of the last InvalidateAll
	seq         uint64
	stats       Stats
}

// NewStore creates an empty store for family. A nil clock uses the wall clock.
func NewStore[K comparable, V any](family string, clk clock.Clock) *Store[K, V] {
	if clk == nil {
		clk = clock.New()
	}
	return &Store[K, V]{
		family:      family,
		clock:       clk,
		entries:     make(map[K]storedEntry[V]),
		invalidated: make(map[K]uint64),
	}
}

// Family returns the store's family name.
func (s *Store[K, V]) Family() string {
	return s.family
}

// Get returns the cached value for key if it is fresh under ttl; otherwise it
// calls fetch (or joins an in-flight call for the same key) and stores the
// result.
//
// On failure Get returns a *FetchError and leaves any existing entry in place.
// If ctx ends first, Get returns ctx.Err() and the fetch keeps running.
func (s *Store[K, V]) Get(ctx context.Context, key K, fetch Fetcher[V], ttl time.Duration) (V, error) {
	var zero V
	log := logging.Ctx(ctx).With().Str("component", "cache").Str("family", s.family).Interface("key", key).Logger()

	s.mu.Lock()
	boundary := s.boundaryLocked(key)
	if e, ok := s.entries[key]; ok && s.freshLocked(e, boundary, ttl) {
		s.stats.Hits++
		s.mu.Unlock()
		metrics.CacheHits.WithLabelValues(s.family).Inc()
		log.Debug().Msg("cache hit")
		return e.entry.Value, nil
	}
	s.stats.Misses++
	s.mu.Unlock()
	metrics.CacheMisses.WithLabelValues(s.family).Inc()
	if s.afterMiss != nil {
		s.afterMiss()
	}

	// Detached so that one caller giving up does not fail the others.
	fetchCtx := context.WithoutCancel(ctx)
	flightKey := fmt.Sprintf("%v#%d", key, boundary)

	ch := s.group.DoChan(flightKey, func() (interface{}, error) {
		// A flight that finished after our miss may already have stored a
		// value this caller can use.
		s.mu.Lock()
		if e, ok := s.entries[key]; ok && s.freshLocked(e, boundary, ttl) {
			s.mu.Unlock()
			log.Debug().Msg("stored while waiting; skipping fetch")
			return e.entry.Value, nil
		}
		s.stats.Fetches++
		s.mu.Unlock()

		log.Debug().Msg("cache miss; fetching")
		start := s.clock.Now()
		v, err := fetch(fetchCtx)
		if err != nil {
			s.mu.Lock()
			s.stats.FetchErrors++
			s.mu.Unlock()
			metrics.CacheFetchErrors.WithLabelValues(s.family).Inc()
			log.Warn().Err(err).Msg("fetch failed; cache unchanged")
			return nil, err
		}
		s.store(key, v, boundary)
		log.Debug().Dur("elapsed", s.clock.Now().Sub(start)).Msg("fetched")
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			s.mu.Lock()
			s.stats.SharedWaits++
			s.mu.Unlock()
			metrics.CacheSharedFetches.WithLabelValues(s.family).Inc()
		}
		if res.Err != nil {
			return zero, &FetchError{Family: s.family, Key: fmt.Sprint(key), Err: res.Err}
		}
		v, _ := res.Val.(V)
		return v, nil
	case <-ctx.Done():
		log.Debug().Msg("caller stopped waiting; fetch continues")
		return zero, ctx.Err()
	}
}

// store records a fetch result unless a fetch started under a later
// invalidation sequence has already stored one. Once the entry carries the
// key's invalidation sequence the marker is no longer needed.
func (s *Store[K, V]) store(key K, v V, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[key]; ok && existing.seq > seq {
		return
	}
	s.entries[key] = storedEntry[V]{
		entry: CacheEntry[V]{Value: v, FetchedAt: s.clock.Now()},
		seq:   seq,
	}
	if inv, ok := s.invalidated[key]; ok && seq >= inv {
		delete(s.invalidated, key)
	}
	metrics.CacheEntries.WithLabelValues(s.family).Set(float64(len(s.entries)))
}

// Invalidate removes key. The next Get refetches, and does not join a fetch
// that was already in flight. Invalidating an absent key is a no-op apart
// from the sequence bump.
func (s *Store[K, V]) Invalidate(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.invalidated[key] = s.seq
	delete(s.entries, key)
	s.stats.Invalidations++

	metrics.CacheInvalidations.WithLabelValues(s.family, "key").Inc()
	metrics.CacheEntries.WithLabelValues(s.family).Set(float64(len(s.entries)))
}

// InvalidateAll clears the store.
func (s *Store[K, V]) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.cleared = s.seq
	s.entries = make(map[K]storedEntry[V])
	s.invalidated = make(map[K]uint64)
	s.stats.Invalidations++

	metrics.CacheInvalidations.WithLabelValues(s.family, "all").Inc()
	metrics.CacheEntries.WithLabelValues(s.family).Set(0)
}

// Peek returns the last-known-good entry for key, whether fresh or not.
// Entries removed by invalidation are gone; stale in-flight results that
// arrived afterwards are visible.
func (s *Store[K, V]) Peek(key K) (CacheEntry[V], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	return e.entry, ok
}

// Fresh reports whether a Get for key under ttl would be served from memory.
func (s *Store[K, V]) Fresh(key K, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	return ok && s.freshLocked(e, s.boundaryLocked(key), ttl)
}

// Len returns the number of entries held.
func (s *Store[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stats returns a snapshot of the store's counters.
func (s *Store[K, V]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.Family = s.family
	st.Entries = len(s.entries)
	return st
}

// boundaryLocked is the oldest invalidation sequence a fetch for key may
// have started under to be served. A stored entry's sequence counts, so a
// pruned marker never lowers it.
func (s *Store[K, V]) boundaryLocked(key K) uint64 {
	b := s.cleared
	if inv, ok := s.invalidated[key]; ok && inv > b {
		b = inv
	}
	if e, ok := s.entries[key]; ok && e.seq > b {
		b = e.seq
	}
	return b
}

// pendingInvalidations returns how many per-key markers are held.
func (s *Store[K, V]) pendingInvalidations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.invalidated)
}

func (s *Store[K, V]) freshLocked(e storedEntry[V], boundary uint64, ttl time.Duration) bool {
	if e.seq < boundary {
		return false
	}
	return s.clock.Now().Sub(e.entry.FetchedAt) < ttl
}
