package histogram

import "hash/fnv"

// HashName computes the stable 64-bit name hash used to index histograms
// in the registry. FNV-1a is the same allocation-free choice the rest of
// the MIST stack reaches for when it needs a deterministic hash over a
// short string (see the cardinality-hashing path this is grounded on).
func HashName(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}
