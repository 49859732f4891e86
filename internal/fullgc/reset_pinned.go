package fullgc

import (
	"github.com/orizon-lang/fullgc/internal/heap"
	"github.com/orizon-lang/fullgc/internal/invariant"
)

// resetPinnedClosure restores the per-cycle state of pinned regions. Pinned
// regions are in no compaction queue or skip set, so the heap-wide claimed
// iteration is the only pass that reaches them.
type resetPinnedClosure struct {
	bitmap   *heap.MarkBitmap
	observer CompactionObserver
}

func (cl *resetPinnedClosure) DoHeapRegion(r *heap.Region) bool {
	if !r.IsPinned() {
		return false
	}
	// A pinned humongous object that was not marked should have been
	// reclaimed before compaction.
	invariant.Check(!r.IsStartsHumongous() || cl.bitmap.IsMarked(r.Bottom()),
		invariant.UnmarkedPinnedHumongous, int(r.Index()), uintptr(r.Bottom()),
		"pinned humongous object not marked live")
	r.ResetPinnedAfterFullGC()
	cl.observer.PinnedRegionReset(r)
	return false
}
