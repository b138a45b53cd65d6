package persist

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	misterrors "github.com/greynewell/mist-histogram/errors"
	"github.com/greynewell/mist-histogram/histogram"
	"github.com/greynewell/mist-histogram/platform"
)

// FileAllocator is an mmap-backed Allocator grounded on the slotcache
// reference implementation's header discipline: a fixed magic/version
// preamble, a generation counter bumped around every mutation so a reader
// can detect a torn write, and a CRC32 over the header guarding against bit
// rot. This is what lets a privileged supervisor and a subordinate process
// share one histogram segment: both mmap the same file and see each other's
// committed allocations.
type FileAllocator struct {
	mu   sync.Mutex
	f    *os.File
	data []byte // mmap'd region, header followed by the record arena
	path string
	lock *platform.FileLock

	// readOnly marks an allocator opened via OpenFileReadOnly: it holds no
	// writer lock and refuses Allocate, but reads (Get, Iterate) work the
	// same as on a writer's handle.
	readOnly bool

	corrupt bool
}

const (
	fileMagic         = "MIST"
	fileVersion       = uint32(1)
	fileHeaderSize    = 32 // magic(4) + version(4) + capacity(4) + used(4) + generation(8) + headerCRC(4) + reserved(4)
	offMagic          = 0
	offVersion        = 4
	offCapacity       = 8
	offUsed           = 12
	offGeneration     = 16
	offHeaderCRC      = 24
)

// recordHeader precedes every allocation in the arena: 4 bytes of type id,
// 4 bytes of payload length, then the payload itself.
const recordHeaderSize = 8

// OpenFile opens or creates a file-backed allocator at path with the given
// total capacity in bytes (header included). An existing file whose size
// differs from capacity is refused with a validation error; an existing file
// whose header does not validate (magic, version, capacity or header CRC) is
// opened but marked corrupt.
func OpenFile(path string, capacity uint32) (*FileAllocator, error) {
	if capacity < fileHeaderSize {
		return nil, misterrors.Newf(histogram.CodeValidation, "file allocator capacity %d smaller than header size %d", capacity, fileHeaderSize)
	}

	// Only one process may hold the mmap open for writing at a time; a
	// second OpenFile on the same path (another process, or a crashed one
	// restarting) must fail fast rather than race on the header.
	lock, err := platform.TryLock(path + ".lock")
	if err != nil {
		return nil, misterrors.Wrap(histogram.CodeValidation, err, "acquiring allocator file lock")
	}
	if lock == nil {
		return nil, misterrors.Newf(histogram.CodeValidation, "allocator file %s is already open by another process", path)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		lock.Unlock()
		return nil, misterrors.Wrap(histogram.CodeValidation, err, "opening allocator file")
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		lock.Unlock()
		return nil, misterrors.Wrap(histogram.CodeValidation, err, "stat allocator file")
	}

	fresh := info.Size() == 0
	if fresh {
		if err := f.Truncate(int64(capacity)); err != nil {
			f.Close()
			lock.Unlock()
			return nil, misterrors.Wrap(histogram.CodeValidation, err, "truncating new allocator file")
		}
	} else if info.Size() != int64(capacity) {
		f.Close()
		lock.Unlock()
		return nil, misterrors.Newf(histogram.CodeValidation, "allocator file size %d does not match requested capacity %d", info.Size(), capacity)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(capacity), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		lock.Unlock()
		return nil, misterrors.Wrap(histogram.CodeValidation, err, "mmap allocator file")
	}

	a := &FileAllocator{f: f, data: data, path: path, lock: lock}

	if fresh {
		a.writeHeader(capacity, 0, 0)
	} else if !a.validateHeader(capacity) {
		a.corrupt = true
	}

	return a, nil
}

// OpenFileReadOnly opens an existing file-backed allocator at path without
// taking the exclusive writer lock OpenFile requires, so a privileged
// supervisor can harvest metrics from a subordinate process's segment while
// the subordinate still has it open for writing. Safety for concurrent
// access does not come from OS locking here: it comes from the same
// generation-counter/header-CRC discipline OpenFile already maintains
// around every mutation, which makes any record a reader observes via
// Iterate either fully committed or not yet visible, never torn.
// Allocate on the returned allocator always fails; this handle is for
// reading only.
func OpenFileReadOnly(path string, capacity uint32) (*FileAllocator, error) {
	if capacity < fileHeaderSize {
		return nil, misterrors.Newf(histogram.CodeValidation, "file allocator capacity %d smaller than header size %d", capacity, fileHeaderSize)
	}

	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, misterrors.Wrap(histogram.CodeValidation, err, "opening allocator file read-only")
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, misterrors.Wrap(histogram.CodeValidation, err, "stat allocator file")
	}
	if info.Size() != int64(capacity) {
		f.Close()
		return nil, misterrors.Newf(histogram.CodeValidation, "allocator file size %d does not match requested capacity %d", info.Size(), capacity)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(capacity), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, misterrors.Wrap(histogram.CodeValidation, err, "mmap allocator file")
	}

	a := &FileAllocator{f: f, data: data, path: path, readOnly: true}
	if !a.validateHeader(capacity) {
		a.corrupt = true
	}
	return a, nil
}

func (a *FileAllocator) writeHeader(capacity, used uint32, generation uint64) {
	copy(a.data[offMagic:offMagic+4], []byte(fileMagic))
	binary.LittleEndian.PutUint32(a.data[offVersion:], fileVersion)
	binary.LittleEndian.PutUint32(a.data[offCapacity:], capacity)
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&a.data[offUsed])), used)
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&a.data[offGeneration])), generation)
	binary.LittleEndian.PutUint32(a.data[offHeaderCRC:], a.headerCRC())
}

func (a *FileAllocator) headerCRC() uint32 {
	return crc32.ChecksumIEEE(a.data[offMagic:offHeaderCRC])
}

func (a *FileAllocator) validateHeader(wantCapacity uint32) bool {
	if string(a.data[offMagic:offMagic+4]) != fileMagic {
		return false
	}
	if binary.LittleEndian.Uint32(a.data[offVersion:]) != fileVersion {
		return false
	}
	if binary.LittleEndian.Uint32(a.data[offCapacity:]) != wantCapacity {
		return false
	}
	storedCRC := binary.LittleEndian.Uint32(a.data[offHeaderCRC:])
	return storedCRC == a.headerCRC()
}

func (a *FileAllocator) usedBytes() uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&a.data[offUsed])))
}

// Allocate reserves size bytes in the arena, tagged with typeID.
func (a *FileAllocator) Allocate(typeID uint32, size uint32) (Reference, []byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.corrupt {
		return 0, nil, misterrors.New(histogram.CodeCorruption, "file allocator is corrupt")
	}
	if a.readOnly {
		return 0, nil, misterrors.New(histogram.CodeValidation, "file allocator opened read-only cannot allocate")
	}

	capacity := binary.LittleEndian.Uint32(a.data[offCapacity:])
	used := a.usedBytes()
	needed := recordHeaderSize + size
	arenaStart := uint32(fileHeaderSize)

	if arenaStart+used+needed > capacity {
		return 0, nil, misterrors.New(histogram.CodeAllocatorFull, "file allocator capacity exhausted")
	}

	offset := arenaStart + used
	binary.LittleEndian.PutUint32(a.data[offset:offset+4], typeID)
	// High bit of the length field marks "iterable"; cleared until MakeIterable.
	binary.LittleEndian.PutUint32(a.data[offset+4:offset+8], size)

	payload := a.data[offset+recordHeaderSize : offset+recordHeaderSize+size]

	newUsed := used + needed
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&a.data[offUsed])), newUsed)
	atomic.AddUint64((*uint64)(unsafe.Pointer(&a.data[offGeneration])), 1)
	binary.LittleEndian.PutUint32(a.data[offHeaderCRC:], a.headerCRC())

	return Reference(offset + 1), payload, nil
}

func (a *FileAllocator) recordAt(ref Reference) (typeID uint32, size uint32, payload []byte, ok bool) {
	if ref == 0 {
		return 0, 0, nil, false
	}
	offset := uint32(ref) - 1
	capacity := uint32(len(a.data))
	if offset+recordHeaderSize > capacity {
		return 0, 0, nil, false
	}
	typeID = binary.LittleEndian.Uint32(a.data[offset : offset+4])
	lengthField := binary.LittleEndian.Uint32(a.data[offset+4 : offset+8])
	size = lengthField &^ iterableBit
	if offset+recordHeaderSize+size > capacity {
		return 0, 0, nil, false
	}
	return typeID, size, a.data[offset+recordHeaderSize : offset+recordHeaderSize+size], true
}

const iterableBit = uint32(1) << 31

// Get returns the byte slice for ref.
func (a *FileAllocator) Get(ref Reference) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.corrupt {
		return nil, false
	}
	_, _, payload, ok := a.recordAt(ref)
	return payload, ok
}

// MakeIterable marks ref visible to future Iterate calls by setting the
// high bit of its stored length field.
func (a *FileAllocator) MakeIterable(ref Reference) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ref == 0 {
		return
	}
	offset := uint32(ref) - 1
	if offset+8 > uint32(len(a.data)) {
		return
	}
	lengthField := binary.LittleEndian.Uint32(a.data[offset+4 : offset+8])
	binary.LittleEndian.PutUint32(a.data[offset+4:offset+8], lengthField|iterableBit)
}

// Iterate walks the arena front to back, yielding only records whose
// iterable bit is set, in allocation order (which is also creation order).
func (a *FileAllocator) Iterate(fn func(typeID uint32, ref Reference, data []byte) bool) {
	a.mu.Lock()
	used := a.usedBytes()
	arenaStart := uint32(fileHeaderSize)
	snapshotEnd := arenaStart + used
	a.mu.Unlock()

	offset := arenaStart
	for offset < snapshotEnd {
		if offset+recordHeaderSize > uint32(len(a.data)) {
			return
		}
		typeID := binary.LittleEndian.Uint32(a.data[offset : offset+4])
		lengthField := binary.LittleEndian.Uint32(a.data[offset+4 : offset+8])
		size := lengthField &^ iterableBit
		iterable := lengthField&iterableBit != 0
		recordEnd := offset + recordHeaderSize + size
		if recordEnd > uint32(len(a.data)) {
			return
		}
		if iterable {
			if !fn(typeID, Reference(offset+1), a.data[offset+recordHeaderSize:recordEnd]) {
				return
			}
		}
		offset = recordEnd
	}
}

// IsFull reports whether the arena has no room left for even an empty
// record header.
func (a *FileAllocator) IsFull() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	capacity := binary.LittleEndian.Uint32(a.data[offCapacity:])
	return uint32(fileHeaderSize)+a.usedBytes()+recordHeaderSize > capacity
}

// IsCorrupt reports whether this allocator's header failed validation on
// open.
func (a *FileAllocator) IsCorrupt() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.corrupt
}

// Close unmaps the segment and closes the underlying file. The segment
// remains on disk for the next OpenFile call (by this process or another).
// A read-only handle holds no writer lock to release.
func (a *FileAllocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lock != nil {
		defer a.lock.Unlock()
	}
	if err := unix.Munmap(a.data); err != nil {
		return fmt.Errorf("munmap allocator file: %w", err)
	}
	return a.f.Close()
}
