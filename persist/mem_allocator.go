package persist

import (
	"sync"

	misterrors "github.com/greynewell/mist-histogram/errors"
	"github.com/greynewell/mist-histogram/histogram"
)

type memEntry struct {
	typeID   uint32
	data     []byte
	iterable bool
}

// MemAllocator is a heap-backed Allocator: an append-only slice of typed
// records behind a mutex, capped by a configurable byte budget. It never
// detects corruption (there is nothing to tear if the process crashes), so
// IsCorrupt always reports false; it exists for unit tests and single-process
// demos where FileAllocator's mmap machinery would be overkill.
type MemAllocator struct {
	mu        sync.Mutex
	entries   []memEntry
	usedBytes uint32
	capBytes  uint32
}

// NewMemAllocator creates an allocator with the given byte budget. A
// capBytes of 0 means unbounded.
func NewMemAllocator(capBytes uint32) *MemAllocator {
	return &MemAllocator{capBytes: capBytes}
}

func (a *MemAllocator) Allocate(typeID uint32, size uint32) (Reference, []byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.capBytes != 0 && a.usedBytes+size > a.capBytes {
		return 0, nil, misterrors.New(histogram.CodeAllocatorFull, "mem allocator capacity exhausted")
	}

	data := make([]byte, size)
	a.entries = append(a.entries, memEntry{typeID: typeID, data: data})
	a.usedBytes += size
	// References are 1-based; 0 stays reserved for "no reference".
	return Reference(len(a.entries)), data, nil
}

func (a *MemAllocator) Get(ref Reference) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ref == 0 || int(ref) > len(a.entries) {
		return nil, false
	}
	return a.entries[ref-1].data, true
}

func (a *MemAllocator) MakeIterable(ref Reference) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ref == 0 || int(ref) > len(a.entries) {
		return
	}
	a.entries[ref-1].iterable = true
}

func (a *MemAllocator) Iterate(fn func(typeID uint32, ref Reference, data []byte) bool) {
	a.mu.Lock()
	snapshot := make([]memEntry, len(a.entries))
	copy(snapshot, a.entries)
	a.mu.Unlock()

	for i, e := range snapshot {
		if !e.iterable {
			continue
		}
		if !fn(e.typeID, Reference(i+1), e.data) {
			return
		}
	}
}

func (a *MemAllocator) IsFull() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capBytes != 0 && a.usedBytes >= a.capBytes
}

func (a *MemAllocator) IsCorrupt() bool {
	return false
}
