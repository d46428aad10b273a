// Package rowstore implements the row-store page layout and its
// generational garbage collector: a page of variably-sized multi-version
// records, compacted forward into freshly acquired fill pages while
// folding in pending inserts from an InsertMap and reporting relocated
// keys to a primary hash index.
package rowstore

import (
	"github.com/deltamain/storeengine/pkg/pool/byteslice"
	"github.com/deltamain/storeengine/pkg/utils"
)

// recordType tags the one record kind this core ever builds. The
// original engine also has a plain log-record type for its delta log;
// row-store pages only ever hold multi-version records.
type recordType uint8

const multiVersionRecord recordType = 1

// Byte layout of a CDMRecord. The exact layout wasn't present in the
// retrieved source (only RowStorePage.cpp's use of one was); this is a
// concrete design that satisfies every offset the source's own
// synthetic 40-byte vehicle record touches (0, 4, 16, 24, 32, 36),
// inferring the one untouched field (key, at the next free 8-byte slot)
// from DMRecord::writeKey's call site.
const (
	recordHeaderSize    = 24 // type(1)+pad(3) @0, versionCount(4) @4, key(8) @8, newestPointer(8) @16
	versionDirEntrySize = 16 // versionNumber(8), dataOffset(4), dataEndOffset(4)

	recTypeOff         = 0
	recVersionCountOff = 4
	recKeyOff          = 8
	recNewestPtrOff    = 16
	recDirOff          = recordHeaderSize
)

// version is one retained or newly-folded version of a record: its
// commit version number and payload bytes. An empty payload denotes a
// deleted version, same convention the synthetic vehicle record uses.
type version struct {
	number  uint64
	payload []byte
}

// CDMRecord is a read-only view over one multi-version record's bytes,
// laid out exactly as RowStorePage packs records back-to-back. Nothing
// here copies out of the page; reads are plain, not atomic, since GC
// runs single-threaded per page.
type CDMRecord struct {
	data []byte
}

func newRecord(data []byte) CDMRecord {
	return CDMRecord{data: data}
}

func (r CDMRecord) versionCount() uint32 {
	return utils.BytesToUint32(r.data[recVersionCountOff : recVersionCountOff+4])
}

// Key returns the record's key.
func (r CDMRecord) Key() uint64 {
	return utils.BytesToUint64(r.data[recKeyOff : recKeyOff+8])
}

func (r CDMRecord) newestPointer() uint64 {
	return utils.BytesToUint64(r.data[recNewestPtrOff : recNewestPtrOff+8])
}

func (r CDMRecord) dirEntry(i uint32) (versionNumber uint64, dataOffset, dataEnd uint32) {
	base := recDirOff + int(i)*versionDirEntrySize
	versionNumber = utils.BytesToUint64(r.data[base : base+8])
	dataOffset = utils.BytesToUint32(r.data[base+8 : base+12])
	dataEnd = utils.BytesToUint32(r.data[base+12 : base+16])
	return
}

// Size returns the record's total byte length: header, version
// directory, and every version's payload, packed contiguously in
// directory order.
func (r CDMRecord) Size() uint32 {
	n := r.versionCount()
	if n == 0 {
		return recordHeaderSize
	}
	_, _, end := r.dirEntry(n - 1)
	return end
}

// versions returns every version in directory order (index 0 is the
// newest, the convention this package's encoder always writes).
func (r CDMRecord) versions() []version {
	n := r.versionCount()
	out := make([]version, n)
	for i := uint32(0); i < n; i++ {
		num, start, end := r.dirEntry(i)
		out[i] = version{number: num, payload: r.data[start:end]}
	}
	return out
}

// NeedsCleaning reports whether this record has garbage versions safe to
// drop below lowestActiveVersion, or a pending insert for its key that
// GC should fold in.
func (r CDMRecord) NeedsCleaning(lowestActiveVersion uint64, insertMap *InsertMap) bool {
	if insertMap.Has(r.Key()) {
		return true
	}
	n := r.versionCount()
	belowWatermark := 0
	for i := uint32(0); i < n; i++ {
		num, _, _ := r.dirEntry(i)
		if num < lowestActiveVersion {
			belowWatermark++
		}
	}
	// One version below the watermark must always survive, to answer a
	// reader pinned exactly at the watermark; a second one is garbage.
	return belowWatermark > 1
}

// retainedVersions keeps every version at or above the watermark, plus
// the single newest version below it if any, preserving the newest-first
// directory order.
func retainedVersions(vs []version, lowestActiveVersion uint64) []version {
	var out []version
	keptOneBelow := false
	for _, v := range vs {
		if v.number >= lowestActiveVersion {
			out = append(out, v)
			continue
		}
		if !keptOneBelow {
			out = append(out, v)
			keptOneBelow = true
		}
	}
	return out
}

func encodedSize(vs []version) uint32 {
	size := uint32(recordHeaderSize) + uint32(len(vs))*versionDirEntrySize
	for _, v := range vs {
		size += uint32(len(v.payload))
	}
	return size
}

// encodeRecord writes a record built from key/newestPointer/vs into
// dest, returning the number of bytes written. The caller must have
// already checked encodedSize(vs) <= len(dest).
func encodeRecord(dest []byte, key, newestPointer uint64, vs []version) uint32 {
	dest[recTypeOff] = byte(multiVersionRecord)
	copy(dest[recVersionCountOff:recVersionCountOff+4], utils.Uint32ToBytes(uint32(len(vs))))
	copy(dest[recKeyOff:recKeyOff+8], utils.Uint64ToBytes(key))
	copy(dest[recNewestPtrOff:recNewestPtrOff+8], utils.Uint64ToBytes(newestPointer))

	dataOffset := uint32(recordHeaderSize) + uint32(len(vs))*versionDirEntrySize
	for i, v := range vs {
		base := recDirOff + i*versionDirEntrySize
		end := dataOffset + uint32(len(v.payload))
		copy(dest[base:base+8], utils.Uint64ToBytes(v.number))
		copy(dest[base+8:base+12], utils.Uint32ToBytes(dataOffset))
		copy(dest[base+12:base+16], utils.Uint32ToBytes(end))
		copy(dest[dataOffset:end], v.payload)
		dataOffset = end
	}
	return dataOffset
}

// CopyAndCompact writes a compacted copy of this record into dest,
// dropping garbage versions below lowestActiveVersion and folding in any
// pending InsertMap entries for this record's key as fresh newest
// versions. On success it consumes those InsertMap entries, sets
// *couldRelocate to true, and returns the bytes written. If the result
// wouldn't fit in dest, nothing is written, the InsertMap is left
// untouched, *couldRelocate is set to false, and 0 is returned so the
// caller can retry against a fresh fill page.
func (r CDMRecord) CopyAndCompact(lowestActiveVersion uint64, insertMap *InsertMap, dest []byte, couldRelocate *bool) uint32 {
	key := r.Key()
	folded := insertMap.Peek(key)

	kept := retainedVersions(r.versions(), lowestActiveVersion)
	vs := make([]version, 0, len(folded)+len(kept))
	vs = append(vs, folded...)
	vs = append(vs, kept...)

	if encodedSize(vs) > uint32(len(dest)) {
		*couldRelocate = false
		return 0
	}

	n := encodeRecord(dest, key, r.newestPointer(), vs)
	if len(folded) > 0 {
		insertMap.Consume(key)
	}
	*couldRelocate = true
	return n
}

// acquireVehicleRecord builds the 40-byte synthetic "one deleted
// version" record FillWithInserts uses to drive CopyAndCompact's
// insert-folding path for a key with no existing row-store record:
// versionCount=1, a single version numbered 0 with an empty (deleted)
// payload, so any reader below the insert's version correctly sees
// the key as absent.
//
// The buffer comes from pkg/pool/byteslice rather than a fresh make:
// FillWithInserts builds one of these per pending key, and the buffer
// is dead the instant CopyAndCompact finishes reading it, making it a
// good fit for the pool's get/put cycle instead of a per-key
// allocation.
func acquireVehicleRecord(key uint64) []byte {
	buf := byteslice.Get(recordHeaderSize + versionDirEntrySize)
	encodeRecord(buf, key, 0, []version{{number: 0, payload: nil}})
	return buf
}

// releaseVehicleRecord returns a buffer obtained from
// acquireVehicleRecord to the pool. Must only be called once nothing
// still reads from the CDMRecord built over it.
func releaseVehicleRecord(buf []byte) {
	byteslice.Put(buf)
}
