package heap

import (
	"errors"
	"fmt"
)

// Layout describes the geometry of a heap.
type Layout struct {
	Base        Addr    // Address of the first region
	Regions     uint    // Number of regions
	RegionWords uintptr // Words per region, a multiple of 64
}

var (
	ErrHeapFull       = errors.New("heap: no region with enough free space")
	ErrInvalidLayout  = errors.New("heap: invalid layout")
	ErrObjectTooLarge = errors.New("heap: object does not fit a region")
)

// RegionClosure is applied to regions by the heap iterators. Returning true
// stops the iteration.
type RegionClosure interface {
	DoHeapRegion(r *Region) bool
}

// RegionClosureFunc adapts a function to RegionClosure.
type RegionClosureFunc func(r *Region) bool

// DoHeapRegion calls f(r).
func (f RegionClosureFunc) DoHeapRegion(r *Region) bool { return f(r) }

// Heap is a region-partitioned arena.
type Heap struct {
	arena       *Arena
	regions     []*Region
	regionWords uintptr
}

// New maps the arena and builds the region table.
func New(layout Layout) (*Heap, error) {
	if layout.Base == NullAddr {
		layout.Base = DefaultHeapBase
	}
	if layout.Regions == 0 {
		return nil, fmt.Errorf("%w: zero regions", ErrInvalidLayout)
	}
	if layout.RegionWords == 0 || layout.RegionWords%64 != 0 {
		return nil, fmt.Errorf("%w: region size %d words is not a positive multiple of 64", ErrInvalidLayout, layout.RegionWords)
	}
	arena, err := NewArena(layout.Base, uintptr(layout.Regions)*layout.RegionWords*WordSize)
	if err != nil {
		return nil, err
	}
	h := &Heap{
		arena:       arena,
		regions:     make([]*Region, layout.Regions),
		regionWords: layout.RegionWords,
	}
	for i := range h.regions {
		bottom := layout.Base + Addr(uintptr(i)*layout.RegionWords*WordSize)
		h.regions[i] = newRegion(uint(i), bottom, layout.RegionWords)
	}
	return h, nil
}

// Close releases the arena.
func (h *Heap) Close() error { return h.arena.Close() }

func (h *Heap) Arena() *Arena             { return h.arena }
func (h *Heap) NumRegions() uint          { return uint(len(h.regions)) }
func (h *Heap) RegionWords() uintptr      { return h.regionWords }
func (h *Heap) Region(index uint) *Region { return h.regions[index] }
func (h *Heap) Base() Addr                { return h.arena.Base() }
func (h *Heap) End() Addr                 { return h.arena.End() }

// Regions returns the region table in address order. The slice must not be
// modified.
func (h *Heap) Regions() []*Region { return h.regions }

// RegionFor returns the region containing addr.
func (h *Heap) RegionFor(addr Addr) *Region {
	if !h.arena.Contains(addr) {
		panic(fmt.Sprintf("heap: address %#x outside heap", uintptr(addr)))
	}
	return h.regions[uintptr(addr-h.Base())/(h.regionWords*WordSize)]
}

// NewMarkBitmap returns a bitmap covering the whole heap.
func (h *Heap) NewMarkBitmap() *MarkBitmap {
	return NewMarkBitmap(h.Base(), h.arena.SizeInWords())
}

// Iterate applies cl to every region in address order until it returns true.
func (h *Heap) Iterate(cl RegionClosure) {
	for _, r := range h.regions {
		if cl.DoHeapRegion(r) {
			return
		}
	}
}

// ParIterateFromWorkerOffset applies cl to every region workerID manages to
// claim from claimer, starting at the worker's offset. Run concurrently by
// all workers sharing the claimer, every region is visited exactly once.
func (h *Heap) ParIterateFromWorkerOffset(cl RegionClosure, claimer *RegionClaimer, workerID uint) {
	if claimer.NumRegions() != h.NumRegions() {
		panic("heap: claimer sized for a different heap")
	}
	for {
		index, ok := claimer.TryClaimNext(workerID)
		if !ok {
			return
		}
		if cl.DoHeapRegion(h.regions[index]) {
			return
		}
	}
}

// ApplyToMarkedObjects calls fn for every object of r whose start is marked
// in bm, in address order, up to the region's top. fn returns the object's
// size in words.
func (h *Heap) ApplyToMarkedObjects(r *Region, bm *MarkBitmap, fn func(addr Addr) uintptr) {
	limit := r.Top()
	for addr := bm.NextMarked(r.Bottom(), limit); addr < limit; {
		size := fn(addr)
		addr = bm.NextMarked(addr+Addr(size*WordSize), limit)
	}
}

// ObjectsIn returns the parsable objects of r between bottom and top.
func (h *Heap) ObjectsIn(r *Region) []Object {
	var out []Object
	for addr := r.Bottom(); addr < r.Top(); {
		obj := h.arena.ObjectAt(addr)
		if obj.Words == 0 {
			break
		}
		out = append(out, obj)
		addr = obj.End()
	}
	return out
}

// Allocate bump-allocates an object of words words in r and writes its header.
func (h *Heap) Allocate(r *Region, classID uint32, words uintptr) (Addr, error) {
	if words < MinObjectSize {
		return NullAddr, fmt.Errorf("heap: object of %d words is smaller than a header", words)
	}
	if r.IsHumongous() {
		return NullAddr, fmt.Errorf("heap: cannot allocate into humongous %v", r)
	}
	if words > h.regionWords {
		return NullAddr, ErrObjectTooLarge
	}
	if words > r.FreeInWords() {
		return NullAddr, ErrHeapFull
	}
	addr := r.Top()
	h.arena.InitObject(addr, classID, words)
	r.SetTop(addr + Addr(words*WordSize))
	if r.IsFree() {
		r.SetType(RegionNormal)
	}
	return addr, nil
}

// AllocateHumongous places an object larger than half a region into a run
// of contiguous free regions.
func (h *Heap) AllocateHumongous(classID uint32, words uintptr) (Addr, error) {
	if words < MinObjectSize {
		return NullAddr, fmt.Errorf("heap: object of %d words is smaller than a header", words)
	}
	need := int((words + h.regionWords - 1) / h.regionWords)
	for first := 0; first+need <= len(h.regions); first++ {
		run := h.regions[first : first+need]
		if !allFree(run) {
			continue
		}
		addr := run[0].Bottom()
		h.arena.InitObject(addr, classID, words)
		remaining := words
		for i, r := range run {
			if i == 0 {
				r.SetType(RegionStartsHumongous)
			} else {
				r.SetType(RegionContinuesHumongous)
			}
			used := remaining
			if used > h.regionWords {
				used = h.regionWords
			}
			r.SetTop(r.Bottom() + Addr(used*WordSize))
			remaining -= used
		}
		return addr, nil
	}
	return NullAddr, ErrHeapFull
}

func allFree(run []*Region) bool {
	for _, r := range run {
		if !r.IsFree() || r.Top() != r.Bottom() {
			return false
		}
	}
	return true
}
