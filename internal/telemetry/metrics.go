// Package telemetry exposes compaction counters over HTTP and HTTP/3.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/orizon-lang/fullgc/internal/heap"
)

// CompactionMetrics accumulates per-region and per-task events of every
// pause. It is safe for concurrent use by all compaction workers and serves
// both as a trace sink and as a region observer.
type CompactionMetrics struct {
	pauses           atomic.Uint64
	regionsCompacted atomic.Uint64
	regionsFreed     atomic.Uint64
	regionsSkipped   atomic.Uint64
	pinnedResets     atomic.Uint64
	objectsMoved     atomic.Uint64
	wordsMoved       atomic.Uint64
	tasks            atomic.Uint64
	taskNanos        atomic.Int64
	maxTaskNanos     atomic.Int64

	mu     sync.Mutex
	phases map[string]time.Duration // Last duration of each phase
}

// NewCompactionMetrics returns zeroed counters.
func NewCompactionMetrics() *CompactionMetrics {
	return &CompactionMetrics{phases: make(map[string]time.Duration)}
}

// RegionCompacted counts a region whose live objects were moved.
func (m *CompactionMetrics) RegionCompacted(r *heap.Region, objects, words uintptr) {
	m.regionsCompacted.Add(1)
	m.objectsMoved.Add(uint64(objects))
	m.wordsMoved.Add(uint64(words))
	if r.IsFree() {
		m.regionsFreed.Add(1)
	}
}

// RegionSkipped counts a region reclaimed in place.
func (m *CompactionMetrics) RegionSkipped(*heap.Region) { m.regionsSkipped.Add(1) }

// PinnedRegionReset counts a pinned region that was reset without moving.
func (m *CompactionMetrics) PinnedRegionReset(*heap.Region) { m.pinnedResets.Add(1) }

// TaskDone records the duration of one worker's task.
func (m *CompactionMetrics) TaskDone(_ string, _ uint, d time.Duration) {
	m.tasks.Add(1)
	m.taskNanos.Add(int64(d))
	for {
		cur := m.maxTaskNanos.Load()
		if int64(d) <= cur || m.maxTaskNanos.CompareAndSwap(cur, int64(d)) {
			return
		}
	}
}

// PhaseDone records the latest duration of a phase.
func (m *CompactionMetrics) PhaseDone(phase string, d time.Duration) {
	m.mu.Lock()
	m.phases[phase] = d
	m.mu.Unlock()
}

// PauseDone counts a completed pause.
func (m *CompactionMetrics) PauseDone() { m.pauses.Add(1) }

// Snapshot returns the counters keyed by exposition name.
func (m *CompactionMetrics) Snapshot() map[string]float64 {
	out := map[string]float64{
		"pauses_total":            float64(m.pauses.Load()),
		"regions_compacted_total": float64(m.regionsCompacted.Load()),
		"regions_freed_total":     float64(m.regionsFreed.Load()),
		"regions_skipped_total":   float64(m.regionsSkipped.Load()),
		"pinned_resets_total":     float64(m.pinnedResets.Load()),
		"objects_moved_total":     float64(m.objectsMoved.Load()),
		"words_moved_total":       float64(m.wordsMoved.Load()),
		"tasks_total":             float64(m.tasks.Load()),
		"task_seconds_total":      time.Duration(m.taskNanos.Load()).Seconds(),
		"task_seconds_max":        time.Duration(m.maxTaskNanos.Load()).Seconds(),
	}
	m.mu.Lock()
	for name, d := range m.phases {
		out["phase_seconds:"+name] = d.Seconds()
	}
	m.mu.Unlock()
	return out
}
