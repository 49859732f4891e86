package heap

import (
	"fmt"
	"math/bits"
	"sync/atomic"
)

// MarkBitmap holds one bit per heap word; a set bit marks the start of a
// live object. Bits are updated with atomic word operations so marking may
// run in parallel, and regions whose size is a multiple of 64 words own
// whole bitmap words, which lets a worker clear its region without
// touching bits of any other region.
type MarkBitmap struct {
	base Addr     // Heap address covered by bit 0
	end  Addr     // First address past the covered range
	bits []uint64 // Bit storage
}

// NewMarkBitmap covers words heap words starting at base.
func NewMarkBitmap(base Addr, words uintptr) *MarkBitmap {
	return &MarkBitmap{
		base: base,
		end:  base + Addr(words*WordSize),
		bits: make([]uint64, (words+63)/64),
	}
}

func (b *MarkBitmap) index(addr Addr) uintptr {
	if addr < b.base || addr >= b.end || uintptr(addr)%WordSize != 0 {
		panic(fmt.Sprintf("heap: bitmap address %#x out of range", uintptr(addr)))
	}
	return uintptr(addr-b.base) >> LogWordSize
}

func (b *MarkBitmap) addrOf(bit uintptr) Addr {
	return b.base + Addr(bit<<LogWordSize)
}

// Mark sets the bit for addr and reports whether it was previously clear.
func (b *MarkBitmap) Mark(addr Addr) bool {
	i := b.index(addr)
	mask := uint64(1) << (i % 64)
	old := atomic.OrUint64(&b.bits[i/64], mask)
	return old&mask == 0
}

// IsMarked reports whether addr is marked live.
func (b *MarkBitmap) IsMarked(addr Addr) bool {
	i := b.index(addr)
	return atomic.LoadUint64(&b.bits[i/64])&(uint64(1)<<(i%64)) != 0
}

// Clear clears the bit for addr.
func (b *MarkBitmap) Clear(addr Addr) {
	i := b.index(addr)
	atomic.AndUint64(&b.bits[i/64], ^(uint64(1) << (i % 64)))
}

// ClearRange clears every bit for [from, to).
func (b *MarkBitmap) ClearRange(from, to Addr) {
	if from >= to {
		return
	}
	lo := b.index(from)
	hi := b.index(to-WordSize) + 1
	for lo < hi {
		w := lo / 64
		start := lo % 64
		n := hi - lo
		if start == 0 && n >= 64 {
			atomic.StoreUint64(&b.bits[w], 0)
			lo += 64
			continue
		}
		end := start + n
		if end > 64 {
			end = 64
		}
		mask := rangeMask(start, end)
		atomic.AndUint64(&b.bits[w], ^mask)
		lo += end - start
	}
}

// ClearRegion clears the bits covering the whole region.
func (b *MarkBitmap) ClearRegion(r *Region) { b.ClearRange(r.Bottom(), r.End()) }

// NextMarked returns the first marked address in [from, limit), or limit if
// there is none.
func (b *MarkBitmap) NextMarked(from, limit Addr) Addr {
	if from >= limit {
		return limit
	}
	i := b.index(from)
	last := b.index(limit-WordSize) + 1
	for i < last {
		w := atomic.LoadUint64(&b.bits[i/64]) >> (i % 64)
		if w != 0 {
			i += uintptr(bits.TrailingZeros64(w))
			if i >= last {
				return limit
			}
			return b.addrOf(i)
		}
		i = (i/64 + 1) * 64
	}
	return limit
}

// CountMarked returns the number of marked addresses in [from, to).
func (b *MarkBitmap) CountMarked(from, to Addr) int {
	n := 0
	for a := b.NextMarked(from, to); a < to; a = b.NextMarked(a+WordSize, to) {
		n++
	}
	return n
}

// IsClearRange reports whether no address in [from, to) is marked.
func (b *MarkBitmap) IsClearRange(from, to Addr) bool {
	return b.NextMarked(from, to) == to
}

func rangeMask(start, end uintptr) uint64 {
	if end-start == 64 {
		return ^uint64(0)
	}
	return ((uint64(1) << (end - start)) - 1) << start
}
