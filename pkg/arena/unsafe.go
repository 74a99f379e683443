package arena

import "unsafe"

// unsafeAdd returns a pointer to mem[off]. Every caller is responsible for
// keeping off within len(mem) and for aligning off to the word size of
// whatever it casts the result to — the arena's allocation granularity
// guarantees 8-byte alignment for every offset it hands out.
func unsafeAdd(mem []byte, off uint64) unsafe.Pointer {
	return unsafe.Pointer(&mem[off])
}
