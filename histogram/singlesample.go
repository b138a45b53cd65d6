package histogram

import "sync/atomic"

// singleSampleDisabled is the sentinel packed value meaning "this slot has
// been promoted to a counts array; stop accumulating here".
const singleSampleDisabled uint32 = 0xFFFFFFFF

// singleSample is the inline fast-path storage used before a histogram's
// counts array is materialized: one atomic 32-bit word packed as
// {bucket: u16, count: u16}.
type singleSample struct {
	word atomic.Uint32
}

func packSingle(bucket, count uint16) uint32 {
	return uint32(bucket)<<16 | uint32(count)
}

func unpackSingle(word uint32) (bucket, count uint16) {
	return uint16(word >> 16), uint16(word)
}

// load returns the current (bucket, count), or (0, 0) if the slot is
// disabled or empty.
func (s *singleSample) load() (bucket, count uint16, disabled bool) {
	w := s.word.Load()
	if w == singleSampleDisabled {
		return 0, 0, true
	}
	b, c := unpackSingle(w)
	return b, c, false
}

// accumulate attempts to add delta to bucket's count via a CAS loop. It
// fails (returns false) if the slot is disabled, if bucket mismatches a
// nonzero stored bucket, or if either packed field would overflow 16 bits —
// in every failure case the caller is expected to install the counts array
// and retry there instead.
func (s *singleSample) accumulate(bucket Sample, delta int) bool {
	if bucket < 0 || bucket > 0xFFFF || delta <= 0 || delta > 0xFFFF {
		return false
	}
	for {
		w := s.word.Load()
		if w == singleSampleDisabled {
			return false
		}
		curBucket, curCount := unpackSingle(w)
		if w != 0 && curBucket != uint16(bucket) {
			return false
		}
		newCount := int(curCount) + delta
		if newCount > 0xFFFF {
			return false
		}
		newWord := packSingle(uint16(bucket), uint16(newCount))
		if s.word.CompareAndSwap(w, newWord) {
			return true
		}
	}
}

// extract swaps in newValue and returns the value that was there before,
// used to move a held sample into the freshly allocated counts array.
func (s *singleSample) extract(newValue uint32) (bucket, count uint16, wasDisabled bool) {
	old := s.word.Swap(newValue)
	if old == singleSampleDisabled {
		return 0, 0, true
	}
	b, c := unpackSingle(old)
	return b, c, false
}

// extractAndDisable atomically swaps in the disabled sentinel and returns
// whatever sample was held, so it can be copied into the counts array.
// Further accumulation against this slot fails from then on.
func (s *singleSample) extractAndDisable() (bucket, count uint16, hadValue bool) {
	old := s.word.Swap(singleSampleDisabled)
	if old == 0 || old == singleSampleDisabled {
		return 0, 0, false
	}
	b, c := unpackSingle(old)
	return b, c, true
}
