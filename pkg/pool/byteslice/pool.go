// Package byteslice pools []byte scratch buffers by size bucket,
// backing record.go's header/version-directory encoding scratch space
// so a hot insert/GC path doesn't allocate a fresh slice per record.
package byteslice

import (
	"github.com/deltamain/storeengine/pkg/pool/internal/calibrated"
)

var defaultPool = calibrated.New(
	func(size int) []byte {
		return make([]byte, size)
	},
	func(b []byte) int {
		return cap(b)
	},
	func(b []byte) {
		_ = b[:cap(b)]
	},
)

// Get returns a byte slice of at least the given size from the pool.
func Get(size int) []byte {
	b := defaultPool.Get(size)
	return b[:size]
}

// Put returns a byte slice to the pool.
func Put(b []byte) {
	if len(b) == 0 {
		return
	}
	defaultPool.Put(b[:cap(b)])
}
