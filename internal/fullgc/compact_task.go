package fullgc

import (
	"time"

	"github.com/orizon-lang/fullgc/internal/gclog"
	"github.com/orizon-lang/fullgc/internal/heap"
	"github.com/orizon-lang/fullgc/internal/invariant"
)

const (
	compactTaskName       = "Compaction task"
	serialCompactionPhase = "Phase 4: Serial Compaction"
)

// CompactTask is the compaction phase of one pause. Work is run once by
// every worker; SerialCompaction runs once after all of them returned.
//
// Workers never lock: every region appears in at most one queue or skip
// set, so a worker is the only writer of its regions' objects, bookkeeping
// and bitmap words. The heap-wide pinned reset is the only shared
// iteration and is partitioned by the region claimer.
type CompactTask struct {
	collector     *Collector
	heap          *heap.Heap
	bitmap        *heap.MarkBitmap
	claimer       *heap.RegionClaimer
	deadRatio     uint
	verifyBitmaps bool
}

// NewCompactTask creates the task for c's pause. The dead ratio and bitmap
// verification settings are captured here and stay fixed for the pause.
func NewCompactTask(c *Collector) *CompactTask {
	return &CompactTask{
		collector:     c,
		heap:          c.heap,
		bitmap:        c.bitmap,
		claimer:       heap.NewRegionClaimer(c.config.Workers, c.heap.NumRegions()),
		deadRatio:     c.config.DeadRatio,
		verifyBitmaps: c.config.VerifyBitmaps,
	}
}

// Claimer exposes the claimer used by the pinned region pass.
func (t *CompactTask) Claimer() *heap.RegionClaimer { return t.claimer }

// Work compacts workerID's queue, reclaims its skip set in place and then
// takes part in the heap-wide pinned region reset.
func (t *CompactTask) Work(workerID uint) {
	start := time.Now()

	for _, r := range t.collector.CompactionPoint(workerID).Regions() {
		t.compactRegion(r)
	}

	if t.deadRatio > 0 {
		for _, r := range t.collector.SkippingCompactionSet(workerID) {
			t.processSkippingCompactionRegion(r)
		}
	}

	cl := &resetPinnedClosure{bitmap: t.bitmap, observer: t.collector.observer}
	t.heap.ParIterateFromWorkerOffset(cl, t.claimer, workerID)

	t.collector.tracer.TaskDone(compactTaskName, workerID, time.Since(start))
}

// SerialCompaction compacts the serial queue on the calling goroutine. It
// must only run once every Work call has returned.
func (t *CompactTask) SerialCompaction() {
	defer gclog.StartTrace(serialCompactionPhase, t.collector.timer, t.collector.tracer).Done()
	for _, r := range t.collector.SerialCompactionPoint().Regions() {
		t.compactRegion(r)
	}
}

// compactRegion copies every forwarded live object of r to its
// destination and installs r's post-compaction top.
func (t *CompactTask) compactRegion(r *heap.Region) {
	invariant.Check(!r.IsPinned(), invariant.PinnedInCompactionQueue, int(r.Index()), 0,
		"pinned region in compaction queue")
	invariant.Check(!r.IsHumongous(), invariant.HumongousInCompactionQueue, int(r.Index()), 0,
		"humongous region (%s) in compaction queue", r.Type())

	arena := t.heap.Arena()
	var objects, words uintptr
	t.heap.ApplyToMarkedObjects(r, t.bitmap, func(addr heap.Addr) uintptr {
		size := arena.ObjectSize(addr)
		dst := arena.Forwardee(addr)
		if dst == heap.NullAddr {
			return size
		}
		invariant.Check(addr != dst, invariant.SelfForwardedObject, int(r.Index()), uintptr(addr),
			"object forwarded to its own address")
		arena.ConjointCopyWords(addr, dst, size)
		arena.InitMark(dst)
		invariant.Check(arena.ClassID(dst) != 0, invariant.MissingClassAfterCopy, int(r.Index()), uintptr(dst),
			"destination has no class after copy from %#x", uintptr(addr))
		objects++
		words += size
		return size
	})

	// The top reset below is what makes stale bits harmless; clearing the
	// range is only needed when bitmaps are verified.
	if t.verifyBitmaps {
		t.bitmap.ClearRegion(r)
	}
	r.ResetCompactedAfterFullGC()
	t.collector.observer.RegionCompacted(r, objects, words)
}

// processSkippingCompactionRegion reclaims r in place: its objects stay
// where they are, only liveness and per-cycle state are reset.
func (t *CompactTask) processSkippingCompactionRegion(r *heap.Region) {
	t.bitmap.ClearRegion(r)
	r.ResetNoCompactionRegionDuringCompaction()
	t.collector.observer.RegionSkipped(r)
}
