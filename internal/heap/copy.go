package heap

// ConjointCopyWords copies words heap words from src to dst. The ranges may
// overlap in either direction; the result is as if the source had first been
// copied to a temporary buffer.
func (a *Arena) ConjointCopyWords(src, dst Addr, words uintptr) {
	if words == 0 || src == dst {
		return
	}
	// The builtin copy has memmove semantics for overlapping slices.
	copy(a.Bytes(dst, words), a.Bytes(src, words))
}
