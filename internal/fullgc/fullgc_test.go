package fullgc

import (
	"bytes"
	"sync/atomic"
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/orizon-lang/fullgc/internal/gclog/gclogmock"
	"github.com/orizon-lang/fullgc/internal/heap"
	"github.com/orizon-lang/fullgc/internal/invariant"
)

const testRegionWords = 64

func newTestHeap(t *testing.T, regions uint) *heap.Heap {
	t.Helper()
	h, err := heap.New(heap.Layout{Regions: regions, RegionWords: testRegionWords})
	if err != nil {
		t.Fatalf("heap.New: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func newTestCollector(t *testing.T, h *heap.Heap, cfg Config, obs CompactionObserver) *Collector {
	t.Helper()
	c, err := NewCollector(h, cfg, Options{Observer: obs})
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	return c
}

// alloc places an object in r and fills its payload with a pattern derived
// from its address.
func alloc(t *testing.T, h *heap.Heap, r *heap.Region, classID uint32, words uintptr) heap.Addr {
	t.Helper()
	addr, err := h.Allocate(r, classID, words)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	a := h.Arena()
	for i := uintptr(heap.HeaderWords); i < words; i++ {
		a.SetWord(addr+heap.Addr(i*heap.WordSize), uint64(addr)*31+uint64(i))
	}
	return addr
}

// image returns a copy of everything but the mark word of the object at addr.
func image(h *heap.Heap, addr heap.Addr) []byte {
	a := h.Arena()
	words := a.ObjectSize(addr)
	return append([]byte(nil), a.Bytes(addr+heap.WordSize, words-1)...)
}

type countingObserver struct {
	compacted, skipped, pinned atomic.Int64
	objects, words             atomic.Int64
}

func (o *countingObserver) RegionCompacted(_ *heap.Region, objects, words uintptr) {
	o.compacted.Add(1)
	o.objects.Add(int64(objects))
	o.words.Add(int64(words))
}
func (o *countingObserver) RegionSkipped(*heap.Region)     { o.skipped.Add(1) }
func (o *countingObserver) PinnedRegionReset(*heap.Region) { o.pinned.Add(1) }

func TestCompactRegionMovesForwardedObjectAndKeepsOthers(t *testing.T) {
	h := newTestHeap(t, 4)
	r1, r2 := h.Region(0), h.Region(1)
	a := h.Arena()

	objA := alloc(t, h, r1, 7, 6)
	objB := alloc(t, h, r1, 8, 5)
	wantA, wantB := image(h, objA), image(h, objB)

	c := newTestCollector(t, h, Config{Workers: 1}, nil)
	c.NoteMarkStart()
	c.MarkLive(objA)
	c.MarkLive(objB)

	// A moves to the empty region R2, B stays put.
	c.CompactionPoint(0).Add(r1)
	r1.SetCompactionTop(objB + heap.Addr(5*heap.WordSize))
	a.Forward(objA, r2.Bottom())

	task := NewCompactTask(c)
	task.Work(0)

	if !bytes.Equal(image(h, r2.Bottom()), wantA) {
		t.Fatalf("object A payload differs at destination")
	}
	if !a.HasPrototypeMark(r2.Bottom()) || a.ClassID(r2.Bottom()) != 7 {
		t.Fatalf("object A header not reinitialised: mark=%#x class=%d", a.Mark(r2.Bottom()), a.ClassID(r2.Bottom()))
	}
	if !bytes.Equal(image(h, objB), wantB) || !a.HasPrototypeMark(objB) {
		t.Fatalf("object B was modified")
	}
	if r1.TAMS() != r1.Bottom() {
		t.Fatalf("R1 TAMS = %#x, want bottom %#x", r1.TAMS(), r1.Bottom())
	}
	if r1.Top() != r1.CompactionTop() {
		t.Fatalf("R1 top = %#x, want compaction top %#x", r1.Top(), r1.CompactionTop())
	}
}

type liveObject struct {
	addr heap.Addr
	dst  heap.Addr
	img  []byte
}

// populate fills the given regions with objects of 3..9 words and marks
// every object whose sequence number is not divisible by deadEvery.
func populate(t *testing.T, h *heap.Heap, c *Collector, regions []uint, deadEvery int) []liveObject {
	t.Helper()
	var live []liveObject
	seq := 0
	for _, idx := range regions {
		r := h.Region(idx)
		for {
			words := uintptr(3 + seq%7)
			if words > r.FreeInWords() {
				break
			}
			addr := alloc(t, h, r, uint32(100+seq), words)
			if deadEvery == 0 || seq%deadEvery != 0 {
				live = append(live, liveObject{addr: addr, img: image(h, addr)})
			}
			seq++
		}
	}
	c.NoteMarkStart()
	for _, o := range live {
		c.MarkLive(o.addr)
	}
	return live
}

func recordDestinations(h *heap.Heap, live []liveObject) {
	for i := range live {
		dst := h.Arena().Forwardee(live[i].addr)
		if dst == heap.NullAddr {
			dst = live[i].addr
		}
		live[i].dst = dst
	}
}

func checkRelocated(t *testing.T, h *heap.Heap, live []liveObject) {
	t.Helper()
	a := h.Arena()
	for _, o := range live {
		if !bytes.Equal(image(h, o.dst), o.img) {
			t.Fatalf("object %#x: payload differs at %#x", o.addr, o.dst)
		}
		if !a.HasPrototypeMark(o.dst) {
			t.Fatalf("object %#x: mark %#x at %#x not neutral", o.addr, a.Mark(o.dst), o.dst)
		}
	}
}

func TestRunCompactionPhaseParallel(t *testing.T) {
	h := newTestHeap(t, 12)
	obs := &countingObserver{}
	c := newTestCollector(t, h, Config{Workers: 4, VerifyBitmaps: true}, obs)
	live := populate(t, h, c, []uint{0, 1, 2, 3, 4, 5, 6, 7}, 3)

	c.Prepare(Plan{})
	recordDestinations(h, live)
	var moved int64
	for _, o := range live {
		if o.dst != o.addr {
			moved++
		}
	}
	if moved == 0 {
		t.Fatalf("expected some objects to move")
	}

	RunCompactionPhase(c)

	checkRelocated(t, h, live)
	if got := obs.compacted.Load(); got != 8 {
		t.Fatalf("compacted regions = %d, want 8", got)
	}
	if got := obs.objects.Load(); got != moved {
		t.Fatalf("moved objects = %d, want %d", got, moved)
	}
	if obs.skipped.Load() != 0 || obs.pinned.Load() != 0 {
		t.Fatalf("unexpected skip/pinned events: %d/%d", obs.skipped.Load(), obs.pinned.Load())
	}
	for _, r := range h.Regions() {
		if r.TAMS() != r.Bottom() {
			t.Fatalf("%v: TAMS not reset", r)
		}
		if !c.MarkBitmap().IsClearRange(r.Bottom(), r.End()) {
			t.Fatalf("%v: bitmap not cleared with verification on", r)
		}
		if objs := h.ObjectsIn(r); r.Top() > r.Bottom() && len(objs) == 0 {
			t.Fatalf("%v: not parsable", r)
		}
	}
	if _, ok := c.Timer().Lookup(serialCompactionPhase); !ok {
		t.Fatalf("serial compaction phase not recorded")
	}
}

func TestBitmapKeptWithoutVerification(t *testing.T) {
	h := newTestHeap(t, 2)
	c := newTestCollector(t, h, Config{Workers: 1}, nil)
	live := populate(t, h, c, []uint{0}, 2)
	c.Prepare(Plan{})
	RunCompactionPhase(c)
	if c.MarkBitmap().IsClearRange(h.Region(0).Bottom(), h.Region(0).End()) && len(live) > 0 {
		t.Fatalf("bitmap cleared although verification is off")
	}
}

func TestDeadRatioZeroNeverSkips(t *testing.T) {
	h := newTestHeap(t, 4)
	obs := &countingObserver{}
	c := newTestCollector(t, h, Config{Workers: 2, DeadRatio: 0}, obs)
	// Every object live: the regions are as full as they get.
	live := populate(t, h, c, []uint{0, 1, 2}, 0)

	c.Prepare(Plan{})
	for w := uint(0); w < 2; w++ {
		if n := len(c.SkippingCompactionSet(w)); n != 0 {
			t.Fatalf("worker %d skip set has %d regions", w, n)
		}
	}
	recordDestinations(h, live)
	RunCompactionPhase(c)

	checkRelocated(t, h, live)
	if obs.compacted.Load() != 3 || obs.skipped.Load() != 0 {
		t.Fatalf("compacted=%d skipped=%d", obs.compacted.Load(), obs.skipped.Load())
	}
}

func TestDeadRatioSkipsMostlyLiveRegion(t *testing.T) {
	h := newTestHeap(t, 4)
	obs := &countingObserver{}
	c := newTestCollector(t, h, Config{Workers: 2, DeadRatio: 50}, obs)

	// Region 0 is almost entirely live, region 1 mostly dead.
	dense := populate(t, h, c, []uint{0}, 10)
	r1 := h.Region(1)
	sparse := alloc(t, h, r1, 9, 4)
	for r1.FreeInWords() >= 4 {
		alloc(t, h, r1, 10, 4)
	}
	c.MarkLive(sparse)
	sparseImg := image(h, sparse)

	c.Prepare(Plan{})

	r0 := h.Region(0)
	if !r0.IsSkipCompaction() {
		t.Fatalf("dense region not selected for skip compaction (live %d%%)", r0.LiveRatio())
	}
	for w := uint(0); w < 2; w++ {
		for _, r := range c.CompactionPoint(w).Regions() {
			if r == r0 {
				t.Fatalf("skipped region also in compaction queue %d", w)
			}
		}
	}

	RunCompactionPhase(c)

	for _, o := range dense {
		if !bytes.Equal(image(h, o.addr), o.img) {
			t.Fatalf("object %#x in skipped region changed", o.addr)
		}
	}
	if !c.MarkBitmap().IsClearRange(r0.Bottom(), r0.End()) {
		t.Fatalf("skipped region bitmap not cleared")
	}
	if r0.IsSkipCompaction() || r0.TAMS() != r0.Bottom() || r0.LiveBytes() != 0 {
		t.Fatalf("skipped region state not reset: %v", r0)
	}
	if len(h.ObjectsIn(r0)) == 0 {
		t.Fatalf("skipped region not parsable")
	}
	if obs.skipped.Load() != 1 || obs.compacted.Load() != 1 {
		t.Fatalf("skipped=%d compacted=%d", obs.skipped.Load(), obs.compacted.Load())
	}
	if got := image(h, r1.Bottom()); !bytes.Equal(got, sparseImg) {
		t.Fatalf("sparse region object lost")
	}
	if r1.Top() != r1.Bottom()+4*heap.WordSize {
		t.Fatalf("sparse region top %#x", r1.Top())
	}
}

func TestSkipSetIgnoredWhenDeadRatioDisabled(t *testing.T) {
	h := newTestHeap(t, 2)
	c := newTestCollector(t, h, Config{Workers: 1}, nil)
	populate(t, h, c, []uint{0}, 0)
	r := h.Region(0)
	c.AddSkippingCompactionRegion(0, r)

	NewCompactTask(c).Work(0)

	if c.MarkBitmap().IsClearRange(r.Bottom(), r.End()) {
		t.Fatalf("skip set processed with dead ratio 0")
	}
}

func pinnedHumongous(t *testing.T, h *heap.Heap) *heap.Region {
	t.Helper()
	addr, err := h.AllocateHumongous(42, testRegionWords+10)
	if err != nil {
		t.Fatalf("AllocateHumongous: %v", err)
	}
	r := h.RegionFor(addr)
	r.SetPinned(true)
	return r
}

func TestPinnedHumongousMarkedIsReset(t *testing.T) {
	h := newTestHeap(t, 6)
	obs := &countingObserver{}
	c := newTestCollector(t, h, Config{Workers: 3}, obs)
	live := populate(t, h, c, []uint{0, 1}, 2)
	hum := pinnedHumongous(t, h)
	before := append([]byte(nil), h.Arena().Bytes(hum.Bottom(), hum.CapacityInWords())...)
	plain := h.Region(4)
	alloc(t, h, plain, 5, 4)
	plain.SetPinned(true)

	c.NoteMarkStart()
	c.MarkLive(hum.Bottom())
	c.Prepare(Plan{})
	recordDestinations(h, live)
	RunCompactionPhase(c)

	checkRelocated(t, h, live)
	if hum.IsPinned() || plain.IsPinned() {
		t.Fatalf("pinned flags not reset")
	}
	if hum.TAMS() != hum.Bottom() || hum.CompactionTop() != hum.Top() {
		t.Fatalf("pinned humongous bookkeeping not reset: %v", hum)
	}
	if !bytes.Equal(h.Arena().Bytes(hum.Bottom(), hum.CapacityInWords()), before) {
		t.Fatalf("bytes inside pinned region changed")
	}
	if obs.pinned.Load() != 2 {
		t.Fatalf("pinned resets = %d, want 2", obs.pinned.Load())
	}
}

func TestPinnedHumongousUnmarkedIsFatal(t *testing.T) {
	h := newTestHeap(t, 4)
	c := newTestCollector(t, h, Config{Workers: 2}, nil)
	hum := pinnedHumongous(t, h)

	v := invariant.Catch(func() { RunCompactionPhase(c) })
	if v == nil || v.Code != invariant.UnmarkedPinnedHumongous {
		t.Fatalf("expected %s, got %v", invariant.UnmarkedPinnedHumongous, v)
	}
	if v.Region != int(hum.Index()) {
		t.Fatalf("violation names region %d, want %d", v.Region, hum.Index())
	}
}

func TestResetPinnedClosureIsIdempotent(t *testing.T) {
	h := newTestHeap(t, 2)
	r := h.Region(0)
	alloc(t, h, r, 3, 8)
	r.SetPinned(true)
	r.AddLiveBytes(64)
	cl := &resetPinnedClosure{bitmap: h.NewMarkBitmap(), observer: nopObserver{}}

	if cl.DoHeapRegion(r) {
		t.Fatalf("closure asked to stop")
	}
	first := *r
	cl.DoHeapRegion(r)
	r.ResetPinnedAfterFullGC()
	if *r != first {
		t.Fatalf("second reset changed state: %v vs %v", r, &first)
	}
}

func TestCompactRegionInvariants(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, h *heap.Heap, c *Collector) *heap.Region
		want  invariant.Code
	}{
		{
			name: "pinned",
			setup: func(t *testing.T, h *heap.Heap, c *Collector) *heap.Region {
				r := h.Region(0)
				alloc(t, h, r, 1, 4)
				r.SetPinned(true)
				return r
			},
			want: invariant.PinnedInCompactionQueue,
		},
		{
			name: "humongous",
			setup: func(t *testing.T, h *heap.Heap, c *Collector) *heap.Region {
				addr, err := h.AllocateHumongous(1, testRegionWords*2)
				if err != nil {
					t.Fatalf("AllocateHumongous: %v", err)
				}
				return h.RegionFor(addr)
			},
			want: invariant.HumongousInCompactionQueue,
		},
		{
			name: "self forwarded",
			setup: func(t *testing.T, h *heap.Heap, c *Collector) *heap.Region {
				r := h.Region(0)
				addr := alloc(t, h, r, 1, 4)
				c.MarkLive(addr)
				h.Arena().Forward(addr, addr)
				return r
			},
			want: invariant.SelfForwardedObject,
		},
		{
			name: "missing class",
			setup: func(t *testing.T, h *heap.Heap, c *Collector) *heap.Region {
				r := h.Region(0)
				alloc(t, h, r, 1, 4)
				addr := alloc(t, h, r, 0, 4)
				c.MarkLive(addr)
				h.Arena().Forward(addr, r.Bottom())
				return r
			},
			want: invariant.MissingClassAfterCopy,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHeap(t, 4)
			c := newTestCollector(t, h, Config{Workers: 1}, nil)
			r := tc.setup(t, h, c)
			task := NewCompactTask(c)
			v := invariant.Catch(func() { task.compactRegion(r) })
			if v == nil || v.Code != tc.want {
				t.Fatalf("expected %s, got %v", tc.want, v)
			}
			if v.Region != int(r.Index()) {
				t.Fatalf("violation region %d, want %d", v.Region, r.Index())
			}
		})
	}
}

func TestOverlappingQueuesAreFatal(t *testing.T) {
	h := newTestHeap(t, 2)
	c := newTestCollector(t, h, Config{Workers: 2}, nil)
	r := h.Region(0)
	c.CompactionPoint(0).Add(r)
	c.CompactionPoint(1).Add(r)

	v := invariant.Catch(func() { RunCompactionPhase(c) })
	if v == nil || v.Code != invariant.OverlappingRegionQueues {
		t.Fatalf("expected overlap violation, got %v", v)
	}
}

func TestSerialCompactionRunsSerialQueue(t *testing.T) {
	h := newTestHeap(t, 6)
	obs := &countingObserver{}
	c := newTestCollector(t, h, Config{Workers: 2}, obs)
	live := populate(t, h, c, []uint{0, 1, 2, 3}, 2)

	c.Prepare(Plan{SerialRegions: []uint{2, 3}})
	serial := c.SerialCompactionPoint().Regions()
	if len(serial) != 2 || serial[0].Index() != 2 || serial[1].Index() != 3 {
		t.Fatalf("serial queue = %v", serial)
	}
	recordDestinations(h, live)
	for _, o := range live {
		src, dst := h.RegionFor(o.addr).Index(), h.RegionFor(o.dst).Index()
		if (src >= 2) != (dst >= 2) {
			t.Fatalf("object crossed between serial and parallel regions: %d -> %d", src, dst)
		}
	}

	RunCompactionPhase(c)

	checkRelocated(t, h, live)
	if obs.compacted.Load() != 4 {
		t.Fatalf("compacted = %d, want 4", obs.compacted.Load())
	}
}

func TestWorkEmitsTaskRecord(t *testing.T) {
	ctrl := gomock.NewController(t)
	tracer := gclogmock.NewMockTracer(ctrl)

	h := newTestHeap(t, 4)
	c, err := NewCollector(h, Config{Workers: 2}, Options{Tracer: tracer})
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	populate(t, h, c, []uint{0, 1}, 2)

	tracer.EXPECT().PhaseDone("Phase 2: Prepare compaction", gomock.Any())
	c.Prepare(Plan{})

	tracer.EXPECT().TaskDone(compactTaskName, uint(0), gomock.Any())
	tracer.EXPECT().TaskDone(compactTaskName, uint(1), gomock.Any())
	tracer.EXPECT().PhaseDone(serialCompactionPhase, gomock.Any())
	tracer.EXPECT().PhaseDone(CompactPhase, gomock.Any())
	RunCompactionPhase(c)
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{Workers: 0}).Validate(); err == nil {
		t.Fatalf("zero workers accepted")
	}
	if err := (Config{Workers: 1, DeadRatio: 101}).Validate(); err == nil {
		t.Fatalf("dead ratio above 100 accepted")
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	h := newTestHeap(t, 1)
	if _, err := NewCollector(h, Config{}, Options{}); err == nil {
		t.Fatalf("NewCollector accepted invalid config")
	}
}
