package fullgc

import (
	"github.com/orizon-lang/fullgc/internal/heap"
)

// CompactionPoint is the ordered region queue of one worker together with
// the cursor the prepare phase slides live objects down to. Objects of a
// region are only ever forwarded into that region or an earlier one of the
// same queue, so compacting the queue in order never overwrites live data
// that has not been moved yet.
type CompactionPoint struct {
	arena         *heap.Arena
	regions       []*heap.Region
	current       int       // Index into regions receiving objects, -1 before the first region
	compactionTop heap.Addr // Next free destination address in the current region
}

func newCompactionPoint(arena *heap.Arena) *CompactionPoint {
	return &CompactionPoint{arena: arena, current: -1}
}

// Regions returns the queue in compaction order.
func (p *CompactionPoint) Regions() []*heap.Region { return p.regions }

// IsInitialized reports whether the point has received a region.
func (p *CompactionPoint) IsInitialized() bool { return p.current >= 0 }

// CurrentRegion returns the region currently receiving objects, or nil.
func (p *CompactionPoint) CurrentRegion() *heap.Region {
	if p.current < 0 {
		return nil
	}
	return p.regions[p.current]
}

// Add appends r to the queue. Until objects are forwarded into it the
// region is expected to end up empty.
func (p *CompactionPoint) Add(r *heap.Region) {
	r.SetCompactionTop(r.Bottom())
	p.regions = append(p.regions, r)
	if p.current < 0 {
		p.current = 0
		p.compactionTop = r.Bottom()
	}
}

// Forward assigns the object at addr of the given size its destination. An
// object that would land on its own address is not forwarded and keeps a
// neutral mark word.
func (p *CompactionPoint) Forward(addr heap.Addr, words uintptr) {
	for !p.fits(words) {
		p.switchRegion()
	}
	if addr != p.compactionTop {
		p.arena.Forward(addr, p.compactionTop)
	} else {
		p.arena.InitMark(addr)
	}
	p.compactionTop += heap.Addr(words * heap.WordSize)
}

// Finish records the compaction top of the region being filled. Regions
// after it keep their bottom as compaction top and become free.
func (p *CompactionPoint) Finish() {
	if r := p.CurrentRegion(); r != nil {
		r.SetCompactionTop(p.compactionTop)
	}
}

func (p *CompactionPoint) fits(words uintptr) bool {
	r := p.regions[p.current]
	return uintptr(r.End()-p.compactionTop)/heap.WordSize >= words
}

func (p *CompactionPoint) switchRegion() {
	p.regions[p.current].SetCompactionTop(p.compactionTop)
	p.current++
	if p.current >= len(p.regions) {
		panic("fullgc: compaction point ran out of regions")
	}
	p.compactionTop = p.regions[p.current].Bottom()
}
