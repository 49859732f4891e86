//go:build gcverify

package fullgc

import (
	"github.com/orizon-lang/fullgc/internal/heap"
	"github.com/orizon-lang/fullgc/internal/invariant"
)

// In gcverify builds every non-humongous region must parse as a dense
// sequence of objects with valid headers once the phase is over.

func verifyAfterCompaction(c *Collector) {
	arena := c.heap.Arena()
	for _, r := range c.heap.Regions() {
		if r.IsHumongous() {
			continue
		}
		addr := r.Bottom()
		for addr < r.Top() {
			invariant.Check(arena.ClassID(addr) != 0, invariant.UnparsableRegion, int(r.Index()), uintptr(addr),
				"object without class below top %#x", uintptr(r.Top()))
			invariant.Check(!arena.IsForwarded(addr), invariant.UnparsableRegion, int(r.Index()), uintptr(addr),
				"forwarding pointer survived compaction")
			size := arena.ObjectSize(addr)
			invariant.Check(size >= heap.MinObjectSize, invariant.UnparsableRegion, int(r.Index()), uintptr(addr),
				"object size %d words", size)
			addr += heap.Addr(size * heap.WordSize)
		}
		invariant.Check(addr == r.Top(), invariant.UnparsableRegion, int(r.Index()), uintptr(addr),
			"last object overruns top %#x", uintptr(r.Top()))
	}
}
