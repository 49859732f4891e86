package fullgc

import (
	"github.com/orizon-lang/fullgc/internal/gclog"
	"github.com/orizon-lang/fullgc/internal/heap"
)

// Plan steers how Prepare distributes regions.
type Plan struct {
	// SerialRegions lists region indexes compacted by the serial pass after
	// the workers have joined instead of by a worker.
	SerialRegions []uint
}

// NoteMarkStart records top-at-mark-start on every region. It runs before
// marking begins.
func (c *Collector) NoteMarkStart() {
	for _, r := range c.heap.Regions() {
		r.NoteMarkStart()
	}
}

// MarkLive records the object starting at addr as live and accounts its
// size to the owning region. Marking the same object twice is harmless.
func (c *Collector) MarkLive(addr heap.Addr) {
	if !c.bitmap.Mark(addr) {
		return
	}
	size := c.heap.Arena().ObjectSize(addr)
	c.heap.RegionFor(addr).AddLiveBytes(size * heap.WordSize)
}

// Prepare builds the per-worker compaction queues and skip sets and writes
// every live object's forwarding address. Pinned, humongous and free
// regions are left out of every queue. Regions are dealt to workers in
// address order so each queue is address ordered as well.
func (c *Collector) Prepare(plan Plan) {
	defer gclog.StartTrace("Phase 2: Prepare compaction", c.timer, c.tracer).Done()

	serial := make(map[uint]bool, len(plan.SerialRegions))
	for _, idx := range plan.SerialRegions {
		serial[idx] = true
	}

	next := uint(0)
	for _, r := range c.heap.Regions() {
		if r.IsFree() || r.IsPinned() || r.IsHumongous() {
			continue
		}
		if serial[r.Index()] {
			c.prepareForCompaction(c.serialPoint, r)
			continue
		}
		worker := next % c.config.Workers
		next++
		if c.shouldSkipCompaction(r) {
			c.prepareNoCompaction(worker, r)
			continue
		}
		c.prepareForCompaction(c.points[worker], r)
	}
	for _, p := range c.points {
		p.Finish()
	}
	c.serialPoint.Finish()
	c.log.With("phases").Debug("prepared %d serial regions, dead ratio %d%%", len(c.serialPoint.Regions()), c.config.DeadRatio)
}

// shouldSkipCompaction reports whether r holds so little garbage that it is
// cheaper to keep its objects in place: more than (100 - DeadRatio) percent
// of the region is live. With DeadRatio at 0 no region qualifies.
func (c *Collector) shouldSkipCompaction(r *heap.Region) bool {
	if c.config.DeadRatio == 0 {
		return false
	}
	capBytes := r.CapacityInWords() * heap.WordSize
	return r.LiveBytes()*100 > capBytes*uintptr(100-c.config.DeadRatio)
}

func (c *Collector) prepareForCompaction(p *CompactionPoint, r *heap.Region) {
	p.Add(r)
	arena := c.heap.Arena()
	c.heap.ApplyToMarkedObjects(r, c.bitmap, func(addr heap.Addr) uintptr {
		size := arena.ObjectSize(addr)
		p.Forward(addr, size)
		return size
	})
}

// prepareNoCompaction keeps r's objects where they are and overwrites the
// dead ranges between them with filler objects so the region stays
// parsable once its bitmap is cleared.
func (c *Collector) prepareNoCompaction(worker uint, r *heap.Region) {
	c.AddSkippingCompactionRegion(worker, r)
	arena := c.heap.Arena()
	cursor := r.Bottom()
	c.heap.ApplyToMarkedObjects(r, c.bitmap, func(addr heap.Addr) uintptr {
		if addr > cursor {
			arena.FillWithFiller(cursor, addr)
		}
		arena.InitMark(addr)
		size := arena.ObjectSize(addr)
		cursor = addr + heap.Addr(size*heap.WordSize)
		return size
	})
	if cursor < r.Top() {
		arena.FillWithFiller(cursor, r.Top())
	}
}
