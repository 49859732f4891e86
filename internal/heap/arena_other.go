//go:build !unix

package heap

// mapArena falls back to a Go-allocated buffer where anonymous mappings are
// not available.
func mapArena(size uintptr) ([]byte, func() error, error) {
	mem := make([]byte, size)
	return mem, func() error { return nil }, nil
}
