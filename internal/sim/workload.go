// Package sim builds reproducible heaps for the compaction phase and checks
// the heap after a pause against a snapshot taken before it.
package sim

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/orizon-lang/fullgc/internal/fullgc"
	"github.com/orizon-lang/fullgc/internal/heap"
)

// Params shapes a generated workload. Percentages are in [0, 100].
type Params struct {
	Seed           uint64
	FillPercent    uint    // Chance a region receives objects
	LivePercent    uint    // Chance an object is marked live
	MinObjectWords uintptr // Smallest object, at least heap.MinObjectSize
	MaxObjectWords uintptr // Largest object, at most the region size
	PinnedRegions  uint    // Populated regions pinned for the pause
	Humongous      uint    // Pinned humongous objects, each spanning two regions
	SerialRegions  uint    // Populated regions handed to the serial queue

	// UnmarkedHumongous leaves the first humongous object unmarked, which
	// the compaction phase must treat as fatal.
	UnmarkedHumongous bool
}

// DefaultParams returns a mixed workload with every kind of region.
func DefaultParams() Params {
	return Params{
		Seed:           1,
		FillPercent:    80,
		LivePercent:    60,
		MinObjectWords: heap.MinObjectSize,
		MaxObjectWords: 24,
		PinnedRegions:  2,
		Humongous:      1,
		SerialRegions:  1,
	}
}

var ErrBadParams = errors.New("sim: invalid parameters")

func (p Params) validate(regionWords uintptr) error {
	switch {
	case p.FillPercent > 100 || p.LivePercent > 100:
		return fmt.Errorf("%w: percentages must be within [0, 100]", ErrBadParams)
	case p.MinObjectWords < heap.MinObjectSize:
		return fmt.Errorf("%w: objects need at least %d words", ErrBadParams, heap.MinObjectSize)
	case p.MaxObjectWords < p.MinObjectWords || p.MaxObjectWords > regionWords:
		return fmt.Errorf("%w: object size range [%d, %d] does not fit %d-word regions",
			ErrBadParams, p.MinObjectWords, p.MaxObjectWords, regionWords)
	}
	return nil
}

// LiveObject is an object marked live before the pause.
type LiveObject struct {
	Addr  heap.Addr // Address before compaction
	Dst   heap.Addr // Address after compaction, known once Prepare ran
	Image []byte    // Class word and payload
}

type frozenRegion struct {
	region *heap.Region
	top    heap.Addr
	bytes  []byte
}

// Scenario is one generated pause: the heap contents, the liveness already
// recorded in the collector and the expected outcome.
type Scenario struct {
	collector *fullgc.Collector
	heap      *heap.Heap
	params    Params
	live      []LiveObject
	objects   int
	populated []*heap.Region
	frozen    []frozenRegion
	plan      fullgc.Plan
	prepared  bool
}

// Populate fills the collector's heap according to p, marks the live
// objects and snapshots everything the pause must preserve. The heap must
// be empty.
func Populate(c *fullgc.Collector, p Params) (*Scenario, error) {
	h := c.Heap()
	if err := p.validate(h.RegionWords()); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))
	s := &Scenario{collector: c, heap: h, params: p}

	// Humongous objects first, they need contiguous free regions.
	var humongous []heap.Addr
	for i := uint(0); i < p.Humongous; i++ {
		words := h.RegionWords() + 1 + uintptr(rng.Uint64N(uint64(h.RegionWords()-1)))
		addr, err := h.AllocateHumongous(uint32(2000+i), words)
		if err != nil {
			return nil, fmt.Errorf("humongous object %d: %w", i, err)
		}
		fillPayload(rng, h.Arena(), addr, words)
		humongous = append(humongous, addr)
		first := h.RegionFor(addr).Index()
		h.Region(first).SetPinned(true)
		h.Region(first + 1).SetPinned(true)
	}

	var candidates []heap.Addr
	for _, r := range h.Regions() {
		if !r.IsFree() || uint(rng.IntN(100)) >= p.FillPercent {
			continue
		}
		for {
			words := p.MinObjectWords + uintptr(rng.Uint64N(uint64(p.MaxObjectWords-p.MinObjectWords+1)))
			if words > r.FreeInWords() {
				break
			}
			addr, err := h.Allocate(r, uint32(1+rng.IntN(1000)), words)
			if err != nil {
				return nil, err
			}
			fillPayload(rng, h.Arena(), addr, words)
			candidates = append(candidates, addr)
		}
		s.populated = append(s.populated, r)
	}
	s.objects = len(candidates)

	// Pick pinned regions at random; the serial queue takes the highest
	// remaining populated regions.
	perm := rng.Perm(len(s.populated))
	pinned := 0
	for _, i := range perm {
		if uint(pinned) == p.PinnedRegions {
			break
		}
		s.populated[i].SetPinned(true)
		pinned++
	}
	serial := uint(0)
	for i := len(s.populated) - 1; i >= 0 && serial < p.SerialRegions; i-- {
		if r := s.populated[i]; !r.IsPinned() {
			s.plan.SerialRegions = append(s.plan.SerialRegions, r.Index())
			serial++
		}
	}

	c.NoteMarkStart()
	for i, addr := range humongous {
		if i == 0 && p.UnmarkedHumongous {
			continue
		}
		c.MarkLive(addr)
	}
	for _, addr := range candidates {
		if uint(rng.IntN(100)) >= p.LivePercent {
			continue
		}
		c.MarkLive(addr)
		s.live = append(s.live, LiveObject{Addr: addr, Image: objectImage(h.Arena(), addr)})
	}

	for _, r := range h.Regions() {
		if r.IsPinned() {
			s.frozen = append(s.frozen, frozenRegion{
				region: r,
				top:    r.Top(),
				bytes:  append([]byte(nil), h.Arena().Bytes(r.Bottom(), r.UsedInWords())...),
			})
		}
	}
	return s, nil
}

// Plan returns the region distribution to pass to Prepare.
func (s *Scenario) Plan() fullgc.Plan { return s.plan }

// Live returns the live objects with their destinations once Prepare ran.
func (s *Scenario) Live() []LiveObject { return s.live }

// Prepare runs the collector's prepare phase and records where every live
// object will end up.
func (s *Scenario) Prepare() {
	s.collector.Prepare(s.plan)
	a := s.heap.Arena()
	for i := range s.live {
		dst := a.Forwardee(s.live[i].Addr)
		if dst == heap.NullAddr {
			dst = s.live[i].Addr
		}
		s.live[i].Dst = dst
	}
	s.prepared = true
}

func fillPayload(rng *rand.Rand, a *heap.Arena, addr heap.Addr, words uintptr) {
	for i := uintptr(heap.HeaderWords); i < words; i++ {
		a.SetWord(addr+heap.Addr(i*heap.WordSize), rng.Uint64())
	}
}

// objectImage copies everything but the mark word.
func objectImage(a *heap.Arena, addr heap.Addr) []byte {
	return append([]byte(nil), a.Bytes(addr+heap.WordSize, a.ObjectSize(addr)-1)...)
}
