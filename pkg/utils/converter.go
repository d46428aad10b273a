package utils

import (
	"encoding/binary"
	"unsafe"
)

// Uint64ToBytes converts uint64 to a little-endian byte slice. The
// hash index routes every key through this on its way to xxhash.Sum64.
func Uint64ToBytes(n uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, n)
	return b
}

// BytesToUint64 converts a little-endian byte slice to uint64.
func BytesToUint64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

// Uint32ToBytes converts uint32 to a little-endian byte slice.
func Uint32ToBytes(n uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, n)
	return b
}

// BytesToUint32 converts a little-endian byte slice to uint32.
func BytesToUint32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// BytesToUint64Slice reinterprets a byte slice as a uint64 slice
// without copying, the layout pendingInsertIndex's pages are stored
// and addressed in. It is the caller's responsibility to ensure
// proper alignment and length.
func BytesToUint64Slice(b []byte) []uint64 {
	if len(b) < 8 {
		return nil
	}
	return unsafe.Slice((*uint64)(unsafe.Pointer(unsafe.SliceData(b))), len(b)/8)
}
