//go:build unix

package heap

import (
	"golang.org/x/sys/unix"
)

// mapArena reserves an anonymous private mapping so the heap lives outside
// the Go allocator, like a real collector's reserved address range.
func mapArena(size uintptr) ([]byte, func() error, error) {
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	return mem, func() error { return unix.Munmap(mem) }, nil
}
