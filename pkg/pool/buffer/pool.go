// Package buffer pools *buffer.Buffer instances by size bucket,
// backing pendingInsertIndex's page allocations. pendingInsertIndex
// sets each buffer's ReleaseFn to Put, but nothing in rowstore calls
// Release, so its buffers are not returned here.
package buffer

import (
	"github.com/deltamain/storeengine/pkg/datastructs/buffer"
	"github.com/deltamain/storeengine/pkg/pool/internal/calibrated"
)

var defaultPool = calibrated.New(
	func(size int) *buffer.Buffer {
		return buffer.New(size)
	},
	func(b *buffer.Buffer) int {
		return b.Len()
	},
	func(b *buffer.Buffer) {
		b.Reset()
	},
)

// GetSize returns a buffer of at least the given size.
func GetSize(size int) *buffer.Buffer {
	return defaultPool.Get(size)
}

// Put returns a buffer to the default pool.
func Put(b *buffer.Buffer) {
	defaultPool.Put(b)
}
