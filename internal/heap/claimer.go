package heap

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

const (
	unclaimed uint32 = 0
	claimed   uint32 = 1
)

// RegionClaimer partitions one heap-wide iteration among a fixed set of
// workers. Every region carries an atomic claim flag; a worker starts at its
// own offset and walks the whole table, skipping regions another worker
// already claimed, so each region is handed out exactly once and no worker
// ever waits for another.
type RegionClaimer struct {
	nWorkers uint
	claims   []atomic.Uint32
	cursors  []claimCursor
}

// claimCursor is the private scan position of one worker. Padding keeps the
// cursors of different workers off the same cache line.
type claimCursor struct {
	visited uint
	_       cpu.CacheLinePad
}

// NewRegionClaimer creates a claimer for nRegions regions shared by nWorkers
// workers.
func NewRegionClaimer(nWorkers, nRegions uint) *RegionClaimer {
	if nWorkers == 0 {
		nWorkers = 1
	}
	return &RegionClaimer{
		nWorkers: nWorkers,
		claims:   make([]atomic.Uint32, nRegions),
		cursors:  make([]claimCursor, nWorkers),
	}
}

// NumWorkers returns the number of workers the claimer was sized for.
func (c *RegionClaimer) NumWorkers() uint { return c.nWorkers }

// NumRegions returns the size of the iteration space.
func (c *RegionClaimer) NumRegions() uint { return uint(len(c.claims)) }

// OffsetForWorker returns the region index at which workerID starts, which
// spreads the workers evenly over the table.
func (c *RegionClaimer) OffsetForWorker(workerID uint) uint {
	if workerID >= c.nWorkers {
		panic("heap: worker id out of range for claimer")
	}
	return uint(uint64(c.NumRegions()) * uint64(workerID) / uint64(c.nWorkers))
}

// Claim attempts to claim region index and reports whether this call won.
func (c *RegionClaimer) Claim(index uint) bool {
	if c.claims[index].Load() != unclaimed {
		return false
	}
	return c.claims[index].CompareAndSwap(unclaimed, claimed)
}

// IsClaimed reports whether region index has been claimed.
func (c *RegionClaimer) IsClaimed(index uint) bool {
	return c.claims[index].Load() == claimed
}

// TryClaimNext advances workerID's private cursor to the next region it can
// claim. ok is false once the worker has looked at every region.
func (c *RegionClaimer) TryClaimNext(workerID uint) (index uint, ok bool) {
	n := c.NumRegions()
	cur := &c.cursors[workerID]
	start := c.OffsetForWorker(workerID)
	for cur.visited < n {
		index = (start + cur.visited) % n
		cur.visited++
		if c.Claim(index) {
			return index, true
		}
	}
	return 0, false
}
