package histogram

import "sync"

// SamplingChecker is a RecordChecker that denies an explicit list of
// histogram names outright and otherwise admits a deterministic
// fraction of the remaining hash space, so the same histogram name is
// always consistently allowed or denied for a given build rather than
// flapping from one process start to the next.
type SamplingChecker struct {
	// Rate is the fraction of non-denylisted hashes to admit, in [0, 1].
	// A zero value denies everything; a value >= 1 admits everything.
	Rate float64

	// Denylist holds exact histogram names that are never recorded,
	// regardless of Rate.
	Denylist []string

	mu      sync.Mutex
	denySet map[uint64]bool
}

// ShouldRecord implements RecordChecker.
func (s *SamplingChecker) ShouldRecord(hash uint64) bool {
	s.mu.Lock()
	if s.denySet == nil {
		s.denySet = make(map[uint64]bool, len(s.Denylist))
		for _, name := range s.Denylist {
			s.denySet[HashName(name)] = true
		}
	}
	denied := s.denySet[hash]
	s.mu.Unlock()

	if denied {
		return false
	}
	if s.Rate >= 1 {
		return true
	}
	if s.Rate <= 0 {
		return false
	}
	// Deterministic per-hash admission: treat the low 32 bits of the hash
	// as a uniform draw in [0, 2^32).
	const space = float64(1 << 32)
	return float64(uint32(hash)) < s.Rate*space
}

var _ RecordChecker = (*SamplingChecker)(nil)
