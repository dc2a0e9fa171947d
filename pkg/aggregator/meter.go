package aggregator

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time view of search throughput
type Snapshot struct {
	Hashes  uint64
	Batches uint64
	Elapsed time.Duration
}

// Rate returns hashes per second
func (s Snapshot) Rate() float64 {
	if s.Elapsed.Seconds() <= 0 {
		return 0
	}
	return float64(s.Hashes) / s.Elapsed.Seconds()
}

// Meter counts hashes and reports the rate at most once per interval. It is
// best-effort: the counter and the report clock are synchronized separately,
// so concurrent reporters may see slightly stale totals.
type Meter struct {
	hashes   atomic.Uint64
	batches  atomic.Uint64
	start    time.Time
	interval time.Duration
	report   func(Snapshot)
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewMeter creates a meter. report may be nil.
func NewMeter(interval time.Duration, report func(Snapshot)) *Meter {
	return newMeter(interval, report, time.Now)
}

func newMeter(interval time.Duration, report func(Snapshot), now func() time.Time) *Meter {
	start := now()
	return &Meter{
		start:    start,
		last:     start,
		interval: interval,
		report:   report,
		now:      now,
	}
}

// Add records n hashes.
func (m *Meter) Add(n uint64) {
	m.hashes.Add(n)
	m.maybeReport()
}

// AddBatch records one batch of n hashes.
func (m *Meter) AddBatch(n uint64) {
	m.batches.Add(1)
	m.Add(n)
}

func (m *Meter) maybeReport() {
	if m.report == nil {
		return
	}
	m.mu.Lock()
	now := m.now()
	if now.Sub(m.last) <= m.interval {
		m.mu.Unlock()
		return
	}
	m.last = now
	m.mu.Unlock()

	m.report(m.snapshotAt(now))
}

// Snapshot returns the current totals.
func (m *Meter) Snapshot() Snapshot {
	return m.snapshotAt(m.now())
}

func (m *Meter) snapshotAt(now time.Time) Snapshot {
	return Snapshot{
		Hashes:  m.hashes.Load(),
		Batches: m.batches.Load(),
		Elapsed: now.Sub(m.start),
	}
}
