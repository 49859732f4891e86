package heap

import "fmt"

// RegionType describes what a region currently holds.
type RegionType uint8

const (
	RegionFree               RegionType = iota // No objects
	RegionNormal                               // Ordinary objects, compactable
	RegionStartsHumongous                      // First region of a humongous object
	RegionContinuesHumongous                   // Tail region of a humongous object
)

// String returns the short type tag used in logs.
func (t RegionType) String() string {
	switch t {
	case RegionFree:
		return "F"
	case RegionNormal:
		return "N"
	case RegionStartsHumongous:
		return "HS"
	case RegionContinuesHumongous:
		return "HC"
	default:
		return fmt.Sprintf("?(%d)", uint8(t))
	}
}

// Region is a fixed-size, contiguous slice of the heap. Regions are created
// once with the heap and reused across collection cycles; the per-cycle
// fields are set by marking and the prepare phase and reset when the
// compaction phase is done with the region.
type Region struct {
	index         uint       // Position in the heap region table
	bottom        Addr       // First address
	end           Addr       // One past the last address
	top           Addr       // Allocation high-water mark
	tams          Addr       // Top at mark start
	compactionTop Addr       // Top after compaction, set by the prepare phase
	liveBytes     uintptr    // Bytes marked live in this cycle
	typ           RegionType // Occupancy state
	pinned        bool       // Contents must not move this cycle
	skipped       bool       // Selected for in-place reclamation this cycle
}

func newRegion(index uint, bottom Addr, words uintptr) *Region {
	return &Region{
		index:         index,
		bottom:        bottom,
		end:           bottom + Addr(words*WordSize),
		top:           bottom,
		tams:          bottom,
		compactionTop: bottom,
	}
}

func (r *Region) Index() uint              { return r.index }
func (r *Region) Bottom() Addr             { return r.bottom }
func (r *Region) End() Addr                { return r.end }
func (r *Region) Top() Addr                { return r.top }
func (r *Region) TAMS() Addr               { return r.tams }
func (r *Region) CompactionTop() Addr      { return r.compactionTop }
func (r *Region) LiveBytes() uintptr       { return r.liveBytes }
func (r *Region) Type() RegionType         { return r.typ }
func (r *Region) IsPinned() bool           { return r.pinned }
func (r *Region) IsSkipCompaction() bool   { return r.skipped }
func (r *Region) IsFree() bool             { return r.typ == RegionFree }
func (r *Region) IsStartsHumongous() bool  { return r.typ == RegionStartsHumongous }
func (r *Region) IsHumongous() bool        { return r.typ == RegionStartsHumongous || r.typ == RegionContinuesHumongous }
func (r *Region) Contains(addr Addr) bool  { return addr >= r.bottom && addr < r.end }
func (r *Region) CapacityInWords() uintptr { return uintptr(r.end-r.bottom) / WordSize }
func (r *Region) UsedInWords() uintptr     { return uintptr(r.top-r.bottom) / WordSize }
func (r *Region) FreeInWords() uintptr     { return uintptr(r.end-r.top) / WordSize }

// SetType changes the occupancy state.
func (r *Region) SetType(t RegionType) { r.typ = t }

// SetPinned marks the region as immovable for the current cycle.
func (r *Region) SetPinned(pinned bool) { r.pinned = pinned }

// SetSkipCompaction records that the region is reclaimed in place this cycle.
func (r *Region) SetSkipCompaction(skip bool) { r.skipped = skip }

// SetTop moves the allocation high-water mark.
func (r *Region) SetTop(top Addr) {
	r.checkAddr(top)
	r.top = top
}

// SetCompactionTop records where the region's top ends up after compaction.
func (r *Region) SetCompactionTop(top Addr) {
	r.checkAddr(top)
	r.compactionTop = top
}

// NoteMarkStart records the current top as the top at mark start.
func (r *Region) NoteMarkStart() { r.tams = r.top }

// AddLiveBytes accounts bytes found live by marking.
func (r *Region) AddLiveBytes(n uintptr) { r.liveBytes += n }

// LiveRatio returns the percentage of the region capacity marked live.
func (r *Region) LiveRatio() uint {
	capBytes := r.CapacityInWords() * WordSize
	return uint(r.liveBytes * 100 / capBytes)
}

// ResetCompactedAfterFullGC installs the post-compaction top and clears the
// per-cycle state of a region whose live objects were moved. A region left
// without objects becomes free.
func (r *Region) ResetCompactedAfterFullGC() {
	r.top = r.compactionTop
	if r.top == r.bottom {
		r.typ = RegionFree
	}
	r.resetAfterFullGCCommon()
}

// ResetNoCompactionRegionDuringCompaction clears the per-cycle state of a
// region whose objects stayed in place.
func (r *Region) ResetNoCompactionRegionDuringCompaction() {
	r.compactionTop = r.top
	r.skipped = false
	r.resetAfterFullGCCommon()
}

// ResetPinnedAfterFullGC clears the per-cycle state of a pinned region,
// including the pin itself. Calling it again is a no-op.
func (r *Region) ResetPinnedAfterFullGC() {
	r.compactionTop = r.top
	r.pinned = false
	r.resetAfterFullGCCommon()
}

func (r *Region) resetAfterFullGCCommon() {
	r.tams = r.bottom
	r.liveBytes = 0
}

func (r *Region) checkAddr(a Addr) {
	if a < r.bottom || a > r.end || uintptr(a)%WordSize != 0 {
		panic(fmt.Sprintf("heap: address %#x outside region %d [%#x, %#x]", uintptr(a), r.index, uintptr(r.bottom), uintptr(r.end)))
	}
}

func (r *Region) String() string {
	return fmt.Sprintf("region %d %s [%#x, %#x) top=%#x tams=%#x pinned=%t", r.index, r.typ, uintptr(r.bottom), uintptr(r.end), uintptr(r.top), uintptr(r.tams), r.pinned)
}
