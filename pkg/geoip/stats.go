package geoip

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Stats is a point-in-time snapshot of reader activity.
type Stats struct {
	// Lookups is the number of tree walks attempted.
	Lookups uint64
	// Matches is the number of walks that found data.
	Matches uint64
	// Misses is the number of walks that ended without data.
	Misses uint64
	// LookupErrors counts walks that failed (address family, corrupt tree).
	LookupErrors uint64
	// DecodeErrors counts failed Resolve/Materialize calls.
	DecodeErrors uint64

	// CacheHits and CacheMisses count record cache probes.
	CacheHits   uint64
	CacheMisses uint64

	LatencyP50 time.Duration
	LatencyP95 time.Duration
	LatencyP99 time.Duration

	// LookupsPerSecond is the average rate since the reader was opened.
	LookupsPerSecond float64
}

// StatsCollector accumulates reader counters. All methods are safe for
// concurrent use.
type StatsCollector struct {
	lookups      uint64
	matches      uint64
	misses       uint64
	lookupErrors uint64
	decodeErrors uint64
	cacheHits    uint64
	cacheMisses  uint64

	mu           sync.Mutex
	latencies    []time.Duration
	next         int
	maxLatencies int

	startTime time.Time
}

// NewStatsCollector creates a collector keeping the last 4096 latencies.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{
		maxLatencies: 4096,
		latencies:    make([]time.Duration, 0, 4096),
		startTime:    time.Now(),
	}
}

// RecordLookup records one tree walk and its latency.
func (sc *StatsCollector) RecordLookup(found bool, err error, d time.Duration) {
	atomic.AddUint64(&sc.lookups, 1)
	switch {
	case err != nil:
		atomic.AddUint64(&sc.lookupErrors, 1)
	case found:
		atomic.AddUint64(&sc.matches, 1)
	default:
		atomic.AddUint64(&sc.misses, 1)
	}
	sc.recordLatency(d)
}

// RecordDecodeError records a failed decode.
func (sc *StatsCollector) RecordDecodeError() { atomic.AddUint64(&sc.decodeErrors, 1) }

// RecordCacheHit records a record cache hit.
func (sc *StatsCollector) RecordCacheHit() { atomic.AddUint64(&sc.cacheHits, 1) }

// RecordCacheMiss records a record cache miss.
func (sc *StatsCollector) RecordCacheMiss() { atomic.AddUint64(&sc.cacheMisses, 1) }

// recordLatency keeps a ring of recent latencies.
func (sc *StatsCollector) recordLatency(d time.Duration) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if len(sc.latencies) < sc.maxLatencies {
		sc.latencies = append(sc.latencies, d)
		return
	}
	sc.latencies[sc.next] = d
	sc.next = (sc.next + 1) % sc.maxLatencies
}

// Snapshot returns the current statistics.
func (sc *StatsCollector) Snapshot() Stats {
	s := Stats{
		Lookups:      atomic.LoadUint64(&sc.lookups),
		Matches:      atomic.LoadUint64(&sc.matches),
		Misses:       atomic.LoadUint64(&sc.misses),
		LookupErrors: atomic.LoadUint64(&sc.lookupErrors),
		DecodeErrors: atomic.LoadUint64(&sc.decodeErrors),
		CacheHits:    atomic.LoadUint64(&sc.cacheHits),
		CacheMisses:  atomic.LoadUint64(&sc.cacheMisses),
	}

	if elapsed := time.Since(sc.startTime).Seconds(); elapsed > 0 {
		s.LookupsPerSecond = float64(s.Lookups) / elapsed
	}

	sc.mu.Lock()
	sorted := make([]time.Duration, len(sc.latencies))
	copy(sorted, sc.latencies)
	sc.mu.Unlock()

	if len(sorted) > 0 {
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		s.LatencyP50 = percentile(sorted, 0.50)
		s.LatencyP95 = percentile(sorted, 0.95)
		s.LatencyP99 = percentile(sorted, 0.99)
	}
	return s
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}
