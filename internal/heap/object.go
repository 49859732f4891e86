package heap

import "fmt"

// Object header layout:
//
//	word 0: mark word. markPrototype for an unlocked object; when the
//	        prepare phase forwards the object the word holds the
//	        destination address with markForwarded in the low bits.
//	word 1: class word. Low 32 bits class id, high 32 bits object size
//	        in words (header included).
//
// Everything after the header is payload.
const (
	HeaderWords   = 2
	MinObjectSize = HeaderWords

	markPrototype uint64 = 0x1
	markForwarded uint64 = 0x3
	markLockMask  uint64 = 0x3

	classIDMask uint64 = 0xffffffff
	sizeShift          = 32

	// FillerClassID tags filler objects written over dead ranges of
	// regions that stay in place.
	FillerClassID uint32 = 0xfffffffe
)

// Object is a (start address, size in words) pair describing one heap object.
type Object struct {
	Addr  Addr    // Start of the header
	Words uintptr // Size including the header
}

// End returns the address one past the object.
func (o Object) End() Addr { return o.Addr + Addr(o.Words*WordSize) }

func (o Object) String() string {
	return fmt.Sprintf("obj@%#x[%dw]", uintptr(o.Addr), o.Words)
}

func classWord(classID uint32, words uintptr) uint64 {
	return uint64(classID) | uint64(words)<<sizeShift
}

// InitObject writes a fresh header at addr. Payload words are left as they are.
func (a *Arena) InitObject(addr Addr, classID uint32, words uintptr) {
	if words < MinObjectSize || words > uintptr(classIDMask) {
		panic(fmt.Sprintf("heap: invalid object size %d words", words))
	}
	a.SetWord(addr, markPrototype)
	a.SetWord(addr+WordSize, classWord(classID, words))
}

// ObjectAt returns the object whose header starts at addr.
func (a *Arena) ObjectAt(addr Addr) Object {
	return Object{Addr: addr, Words: a.ObjectSize(addr)}
}

// ObjectSize returns the size in words recorded in the class word at addr.
func (a *Arena) ObjectSize(addr Addr) uintptr {
	return uintptr(a.Word(addr+WordSize) >> sizeShift)
}

// ClassID returns the class id of the object at addr; zero means no class.
func (a *Arena) ClassID(addr Addr) uint32 {
	return uint32(a.Word(addr+WordSize) & classIDMask)
}

// Mark returns the raw mark word of the object at addr.
func (a *Arena) Mark(addr Addr) uint64 { return a.Word(addr) }

// IsForwarded reports whether the mark word of the object at addr carries a
// forwarding address.
func (a *Arena) IsForwarded(addr Addr) bool {
	return a.Word(addr)&markLockMask == markForwarded
}

// Forwardee returns the destination recorded for the object at addr, or
// NullAddr if the object does not move.
func (a *Arena) Forwardee(addr Addr) Addr {
	m := a.Word(addr)
	if m&markLockMask != markForwarded {
		return NullAddr
	}
	return Addr(m &^ markLockMask)
}

// Forward records dst as the destination of the object at addr.
func (a *Arena) Forward(addr, dst Addr) {
	if dst == NullAddr || uintptr(dst)%WordSize != 0 {
		panic(fmt.Sprintf("heap: invalid forwarding destination %#x", uintptr(dst)))
	}
	a.SetWord(addr, uint64(dst)|markForwarded)
}

// InitMark resets the mark word at addr to the neutral prototype, which
// also drops any forwarding information.
func (a *Arena) InitMark(addr Addr) { a.SetWord(addr, markPrototype) }

// HasPrototypeMark reports whether the mark word at addr is neutral.
func (a *Arena) HasPrototypeMark(addr Addr) bool { return a.Word(addr) == markPrototype }

// FillWithFiller covers [from, to) with filler objects so the range parses
// as a sequence of objects.
func (a *Arena) FillWithFiller(from, to Addr) {
	for from < to {
		words := uintptr(to-from) / WordSize
		if words > uintptr(classIDMask) {
			words = uintptr(classIDMask)
		}
		a.InitObject(from, FillerClassID, words)
		from += Addr(words * WordSize)
	}
}
