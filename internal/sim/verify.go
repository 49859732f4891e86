package sim

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/orizon-lang/fullgc/internal/heap"
)

// maxVerifyErrors bounds the report of a badly broken heap.
const maxVerifyErrors = 16

var ErrNotPrepared = errors.New("sim: scenario verified before Prepare")

// Verify checks the heap after the compaction phase:
//   - every live object sits at its destination with its contents intact
//     and a neutral mark word,
//   - pinned regions kept their bytes and top,
//   - every region has its per-cycle state reset and parses up to top.
func (s *Scenario) Verify() error {
	if !s.prepared {
		return ErrNotPrepared
	}
	var errs []error
	add := func(err error) bool {
		errs = append(errs, err)
		return len(errs) < maxVerifyErrors
	}
	a := s.heap.Arena()

	for _, o := range s.live {
		if !bytes.Equal(objectImage(a, o.Dst), o.Image) {
			if !add(fmt.Errorf("object %#x: contents differ at destination %#x", uintptr(o.Addr), uintptr(o.Dst))) {
				return errors.Join(errs...)
			}
			continue
		}
		if !a.HasPrototypeMark(o.Dst) {
			if !add(fmt.Errorf("object %#x: mark word %#x at %#x is not neutral", uintptr(o.Addr), a.Mark(o.Dst), uintptr(o.Dst))) {
				return errors.Join(errs...)
			}
		}
	}

	for _, f := range s.frozen {
		r := f.region
		if r.Top() != f.top || !bytes.Equal(a.Bytes(r.Bottom(), r.UsedInWords()), f.bytes) {
			if !add(fmt.Errorf("pinned region %d: contents changed", r.Index())) {
				return errors.Join(errs...)
			}
		}
	}

	for _, r := range s.heap.Regions() {
		if err := checkRegion(s.heap, r); err != nil {
			if !add(err) {
				break
			}
		}
	}
	return errors.Join(errs...)
}

func checkRegion(h *heap.Heap, r *heap.Region) error {
	switch {
	case r.IsPinned():
		return fmt.Errorf("region %d: still pinned", r.Index())
	case r.IsSkipCompaction():
		return fmt.Errorf("region %d: still marked skip-compaction", r.Index())
	case r.TAMS() != r.Bottom():
		return fmt.Errorf("region %d: TAMS %#x not at bottom", r.Index(), uintptr(r.TAMS()))
	case r.LiveBytes() != 0:
		return fmt.Errorf("region %d: %d live bytes left over", r.Index(), r.LiveBytes())
	case r.CompactionTop() != r.Top():
		return fmt.Errorf("region %d: compaction top %#x, top %#x", r.Index(), uintptr(r.CompactionTop()), uintptr(r.Top()))
	case r.IsFree() && r.Top() != r.Bottom():
		return fmt.Errorf("region %d: free with top %#x", r.Index(), uintptr(r.Top()))
	}
	if r.IsHumongous() {
		return nil
	}
	a := h.Arena()
	addr := r.Bottom()
	for addr < r.Top() {
		words := a.ObjectSize(addr)
		if words < heap.MinObjectSize {
			return fmt.Errorf("region %d: unparsable object at %#x", r.Index(), uintptr(addr))
		}
		addr += heap.Addr(words * heap.WordSize)
	}
	if addr != r.Top() {
		return fmt.Errorf("region %d: last object ends at %#x past top %#x", r.Index(), uintptr(addr), uintptr(r.Top()))
	}
	return nil
}

// Report summarizes a scenario.
type Report struct {
	Seed             uint64 `json:"seed"`
	Regions          uint   `json:"regions"`
	PopulatedRegions int    `json:"populated_regions"`
	FreedRegions     int    `json:"freed_regions"`
	SkippedRegions   int    `json:"skipped_regions"`
	PinnedRegions    int    `json:"pinned_regions"`
	SerialRegions    int    `json:"serial_regions"`
	Objects          int    `json:"objects"`
	LiveObjects      int    `json:"live_objects"`
	MovedObjects     int    `json:"moved_objects"`
	LiveWords        uint64 `json:"live_words"`
}

// Report counts the scenario. Freed regions are only meaningful after the
// compaction phase, moved objects after Prepare.
func (s *Scenario) Report() Report {
	rep := Report{
		Seed:             s.params.Seed,
		Regions:          s.heap.NumRegions(),
		PopulatedRegions: len(s.populated),
		PinnedRegions:    len(s.frozen),
		SerialRegions:    len(s.plan.SerialRegions),
		Objects:          s.objects,
		LiveObjects:      len(s.live),
	}
	for _, o := range s.live {
		rep.LiveWords += uint64(len(o.Image)/heap.WordSize) + 1
		if s.prepared && o.Dst != o.Addr {
			rep.MovedObjects++
		}
	}
	for _, r := range s.populated {
		if r.IsFree() {
			rep.FreedRegions++
		}
	}
	for w := uint(0); w < s.collector.WorkerCount(); w++ {
		rep.SkippedRegions += len(s.collector.SkippingCompactionSet(w))
	}
	return rep
}
