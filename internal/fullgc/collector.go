// Package fullgc implements the compaction phase of the parallel full
// collection: moving live objects to the addresses computed by the prepare
// phase, reclaiming skipped regions in place and resetting per-region state
// on every region of the heap before the pause ends.
package fullgc

import (
	"fmt"

	"github.com/orizon-lang/fullgc/internal/gclog"
	"github.com/orizon-lang/fullgc/internal/heap"
	"github.com/orizon-lang/fullgc/internal/invariant"
)

// Config holds the per-pause collector settings.
type Config struct {
	Workers       uint // Parallel workers, at least 1
	DeadRatio     uint // Percent of dead space a region may keep; 0 compacts everything
	VerifyBitmaps bool // Clear the bitmap of compacted regions for verification
}

// DefaultConfig returns a single worker with skip compaction disabled.
func DefaultConfig() Config {
	return Config{Workers: 1, DeadRatio: 0}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if c.Workers == 0 {
		return fmt.Errorf("fullgc: workers must be at least 1")
	}
	if c.DeadRatio > 100 {
		return fmt.Errorf("fullgc: dead ratio %d outside [0, 100]", c.DeadRatio)
	}
	return nil
}

// CompactionObserver is notified about each region the phase finishes with.
// Calls arrive concurrently from all workers.
type CompactionObserver interface {
	RegionCompacted(r *heap.Region, objects, words uintptr)
	RegionSkipped(r *heap.Region)
	PinnedRegionReset(r *heap.Region)
}

type nopObserver struct{}

func (nopObserver) RegionCompacted(*heap.Region, uintptr, uintptr) {}
func (nopObserver) RegionSkipped(*heap.Region)                     {}
func (nopObserver) PinnedRegionReset(*heap.Region)                 {}

// Options carries the optional collaborators of a Collector.
type Options struct {
	Tracer   gclog.Tracer       // Timing records; defaults to NopTracer
	Observer CompactionObserver // Per-region events; defaults to a no-op
	Logger   *gclog.Logger      // Defaults to a discarding logger
}

// Collector holds the state one full collection pause shares between its
// phases: the heap, the liveness bitmap and the per-worker region queues
// built by the prepare phase.
type Collector struct {
	heap        *heap.Heap
	bitmap      *heap.MarkBitmap
	config      Config
	points      []*CompactionPoint // Per-worker compaction queues
	serialPoint *CompactionPoint   // Queue compacted after the workers join
	skipping    [][]*heap.Region   // Per-worker skip-compaction sets
	timer       *gclog.PhaseTimer
	tracer      gclog.Tracer
	observer    CompactionObserver
	log         *gclog.Logger
}

// NewCollector prepares a pause over h with a fresh, empty bitmap.
func NewCollector(h *heap.Heap, cfg Config, opts Options) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Tracer == nil {
		opts.Tracer = gclog.NopTracer{}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = gclog.Discard()
	}
	c := &Collector{
		heap:        h,
		bitmap:      h.NewMarkBitmap(),
		config:      cfg,
		points:      make([]*CompactionPoint, cfg.Workers),
		serialPoint: newCompactionPoint(h.Arena()),
		skipping:    make([][]*heap.Region, cfg.Workers),
		timer:       gclog.NewPhaseTimer(),
		tracer:      opts.Tracer,
		observer:    opts.Observer,
		log:         opts.Logger.With("gc"),
	}
	for i := range c.points {
		c.points[i] = newCompactionPoint(h.Arena())
	}
	return c, nil
}

func (c *Collector) Heap() *heap.Heap                        { return c.heap }
func (c *Collector) MarkBitmap() *heap.MarkBitmap            { return c.bitmap }
func (c *Collector) Config() Config                          { return c.config }
func (c *Collector) WorkerCount() uint                       { return c.config.Workers }
func (c *Collector) Timer() *gclog.PhaseTimer                { return c.timer }
func (c *Collector) Tracer() gclog.Tracer                    { return c.tracer }
func (c *Collector) Logger() *gclog.Logger                   { return c.log }
func (c *Collector) SerialCompactionPoint() *CompactionPoint { return c.serialPoint }

// CompactionPoint returns the compaction queue of workerID.
func (c *Collector) CompactionPoint(workerID uint) *CompactionPoint {
	return c.points[workerID]
}

// SkippingCompactionSet returns the regions workerID reclaims in place.
func (c *Collector) SkippingCompactionSet(workerID uint) []*heap.Region {
	return c.skipping[workerID]
}

// AddSkippingCompactionRegion hands r to workerID for in-place reclamation.
func (c *Collector) AddSkippingCompactionRegion(workerID uint, r *heap.Region) {
	r.SetSkipCompaction(true)
	c.skipping[workerID] = append(c.skipping[workerID], r)
}

// verifyQueues checks that no region is scheduled twice across all
// compaction queues and skip sets, which is what lets the workers run
// without locks.
func (c *Collector) verifyQueues() {
	owner := make(map[uint]string, c.heap.NumRegions())
	claim := func(r *heap.Region, who string) {
		prev, dup := owner[r.Index()]
		invariant.Check(!dup, invariant.OverlappingRegionQueues, int(r.Index()), 0,
			"region scheduled by %s and %s", prev, who)
		owner[r.Index()] = who
	}
	for w, p := range c.points {
		for _, r := range p.Regions() {
			claim(r, fmt.Sprintf("compaction queue %d", w))
		}
	}
	for w, set := range c.skipping {
		for _, r := range set {
			claim(r, fmt.Sprintf("skip set %d", w))
		}
	}
	for _, r := range c.serialPoint.Regions() {
		claim(r, "serial queue")
	}
}
