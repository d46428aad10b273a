package buffer

import (
	"sync/atomic"
)

// Buffer is a growable, page-backed byte region: callers carve
// fixed-size chunks off the end via AllocateOffset and address the
// whole thing as a flat []byte via Bytes, which is exactly the shape a
// paged index (nodes addressed by page ID into one backing slice)
// needs and a plain make([]byte, n) does not give you once the index
// outgrows its initial size. It is NOT thread-safe.
type Buffer struct {
	padding uint64 // reserved starting bytes (for header/metadata)
	offset  uint64 // current write position
	data    []byte // backing storage
	cap     int    // current capacity
	// ReleaseFn is a callback to return the buffer to a pool.
	// If nil, Release() simply clears the data.
	ReleaseFn func()
}

// New creates and initializes a new Buffer.
func New(capacity int) *Buffer {
	if capacity < defaultCapacity {
		capacity = defaultCapacity
	}
	return &Buffer{
		data:    make([]byte, capacity),
		cap:     capacity,
		offset:  headerSize,
		padding: headerSize,
	}
}

// Len returns the number of bytes written to the buffer (including padding).
func (b *Buffer) Len() int {
	return int(atomic.LoadUint64(&b.offset))
}

// Bytes returns the slice holding the written data (excluding padding).
func (b *Buffer) Bytes() []byte {
	off := atomic.LoadUint64(&b.offset)
	return b.data[b.padding:off]
}

// grow ensures there is space for another n bytes.
func (b *Buffer) grow(n int) {
	if b.data == nil {
		panic("buffer: uninitialized")
	}
	currentOff := int(b.offset)
	if currentOff+n <= b.cap {
		return
	}

	growBy := b.cap + n
	if growBy > maxGrowth { // Cap at 1GB growth steps
		growBy = maxGrowth
	}
	if n > growBy {
		growBy = n
	}
	b.cap += growBy

	newData := make([]byte, b.cap)
	copy(newData, b.data[:b.offset])
	b.data = newData
}

// AllocateOffset grows the buffer by n bytes and returns the offset at
// which that new region starts.
func (b *Buffer) AllocateOffset(n int) int {
	b.grow(n)
	b.offset += uint64(n)
	return int(b.offset) - n
}

// Reset resets the buffer offset, effectively clearing it for reuse.
// The underlying memory is retained.
func (b *Buffer) Reset() {
	b.offset = b.padding
}

// Release releases the memory used by the buffer or returns it to the pool.
func (b *Buffer) Release() error {
	if b.ReleaseFn != nil {
		b.ReleaseFn()
	} else {
		b.data = nil
	}
	return nil
}
