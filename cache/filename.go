package cache

import (
	"hash/fnv"
	"strconv"
)

// filenameFor implements the §4.B filename function: split the key at
// len/2, hash each half independently with a 32-bit hash, and concatenate
// their decimal string forms. Collisions are tolerated — two keys that hash
// to the same filename present as a framing or key-mismatch read failure,
// handled by the caller as a miss plus deletion (§9).
func filenameFor(key string) string {
	mid := len(key) / 2
	first := hash32(key[:mid])
	second := hash32(key[mid:])
	return strconv.FormatUint(uint64(first), 10) + strconv.FormatUint(uint64(second), 10)
}

func hash32(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
