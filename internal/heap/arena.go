// Package heap provides the region-partitioned heap model used by the
// full collector: a word-addressed arena, fixed-size regions, the object
// header layout, the liveness bitmap and the region claimer used by
// parallel heap iteration.
package heap

import (
	"encoding/binary"
	"fmt"
)

// Addr is a byte address inside the heap. The zero Addr is null and never
// falls inside an arena.
type Addr uintptr

// NullAddr is the null heap address.
const NullAddr Addr = 0

const (
	WordSize        = 8                // Bytes per heap word
	LogWordSize     = 3                // log2(WordSize)
	DefaultHeapBase = Addr(1 << 20)    // Default address of the first heap word
	MaxArenaBytes   = uintptr(1) << 40 // Upper bound accepted by NewArena
)

// Arena is the backing memory of the heap. Addresses in [Base, End) map to
// the byte slice mem; every access is word aligned.
type Arena struct {
	base    Addr         // Address of mem[0]
	mem     []byte       // Backing memory
	release func() error // Returns the mapping to the OS
}

// NewArena reserves size bytes starting at the logical address base.
// Both base and size must be word aligned.
func NewArena(base Addr, size uintptr) (*Arena, error) {
	if base == NullAddr || uintptr(base)%WordSize != 0 {
		return nil, fmt.Errorf("heap: arena base %#x is null or not word aligned", uintptr(base))
	}
	if size == 0 || size%WordSize != 0 || size > MaxArenaBytes {
		return nil, fmt.Errorf("heap: invalid arena size %d", size)
	}
	mem, release, err := mapArena(size)
	if err != nil {
		return nil, fmt.Errorf("heap: mapping %d bytes: %w", size, err)
	}
	return &Arena{base: base, mem: mem, release: release}, nil
}

// Base returns the first address of the arena.
func (a *Arena) Base() Addr { return a.base }

// End returns the address one past the last byte of the arena.
func (a *Arena) End() Addr { return a.base + Addr(len(a.mem)) }

// SizeInWords returns the arena capacity in words.
func (a *Arena) SizeInWords() uintptr { return uintptr(len(a.mem)) / WordSize }

// Contains reports whether addr lies inside the arena.
func (a *Arena) Contains(addr Addr) bool { return addr >= a.base && addr < a.End() }

func (a *Arena) offset(addr Addr) uintptr {
	if !a.Contains(addr) || uintptr(addr)%WordSize != 0 {
		panic(fmt.Sprintf("heap: address %#x outside arena [%#x, %#x) or unaligned", uintptr(addr), uintptr(a.base), uintptr(a.End())))
	}
	return uintptr(addr - a.base)
}

// Word loads the word at addr.
func (a *Arena) Word(addr Addr) uint64 {
	off := a.offset(addr)
	return binary.LittleEndian.Uint64(a.mem[off : off+WordSize])
}

// SetWord stores v at addr.
func (a *Arena) SetWord(addr Addr, v uint64) {
	off := a.offset(addr)
	binary.LittleEndian.PutUint64(a.mem[off:off+WordSize], v)
}

// Bytes returns the slice aliasing words heap words starting at addr.
func (a *Arena) Bytes(addr Addr, words uintptr) []byte {
	off := a.offset(addr)
	n := words * WordSize
	if off+n > uintptr(len(a.mem)) {
		panic(fmt.Sprintf("heap: range %#x+%d words exceeds arena", uintptr(addr), words))
	}
	return a.mem[off : off+n : off+n]
}

// Fill writes v into words consecutive words starting at addr.
func (a *Arena) Fill(addr Addr, words uintptr, v uint64) {
	for i := uintptr(0); i < words; i++ {
		a.SetWord(addr+Addr(i*WordSize), v)
	}
}

// Close releases the backing memory. The arena must not be used afterwards.
func (a *Arena) Close() error {
	if a.release == nil {
		return nil
	}
	err := a.release()
	a.release = nil
	a.mem = nil
	return err
}
