package rowstore

import (
	"go.uber.org/zap"

	"github.com/deltamain/storeengine/pkg/storage/arena"
	"github.com/deltamain/storeengine/pkg/utils"
)

// rowStoreHeaderSize is the leading region of every row-store page
// holding the page's used-byte count.
const rowStoreHeaderSize = 8

// Reclaimer defers releasing a page until no reader can still observe
// it. Mirrors storelog.Reclaimer; kept as its own narrow interface so
// this package doesn't need to import storelog for a one-method
// contract both happen to share.
type Reclaimer interface {
	Defer(closure func())
}

// Location identifies a record's position inside a specific page — the
// value the hash index stores per key.
type Location struct {
	Page   *RowStorePage
	Offset uint32
}

// Bytes returns the record bytes at this location.
func (l Location) Bytes() []byte {
	return l.Page.raw.Data()[l.Offset:]
}

// HashTableModifier is the primary hash index's mutation surface, as
// consumed by GC.
type HashTableModifier interface {
	// Insert atomically records the canonical location for key. If
	// isRelocation, the prior location for key is expected to exist and
	// is replaced; otherwise key is expected to have no existing location.
	Insert(key uint64, loc Location, isRelocation bool)
	Get(key uint64) (Location, bool)
}

// Options configures a RowStorePage's interaction with its collaborators.
type Options struct {
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// RowStorePage is a page of variable-length multi-version records
// packed back-to-back starting at byte 8; the leading 8 bytes hold the
// page's used-byte count.
type RowStorePage struct {
	raw     *arena.Page
	pm      *arena.PageManager
	reclaim Reclaimer
	opts    Options

	size uint32 // used bytes, mirrored from the leading 8-byte header

	startOffset uint32 // resumes a GC call that rotated fill pages; 8 = fresh
	marked      bool

	fillPage   *RowStorePage
	fillOffset uint32
}

// NewRowStorePage wraps a page already finalized with usedBytes of
// content (as an earlier flush or GC pass would have left it) as a GC
// input page.
func NewRowStorePage(raw *arena.Page, usedBytes uint32, pm *arena.PageManager, reclaim Reclaimer, opts Options) *RowStorePage {
	copy(raw.Data()[0:rowStoreHeaderSize], utils.Uint64ToBytes(uint64(usedBytes)))
	return &RowStorePage{raw: raw, pm: pm, reclaim: reclaim, opts: opts.withDefaults(), size: usedBytes, startOffset: rowStoreHeaderSize}
}

// UsedBytes returns the page's used-byte count.
func (p *RowStorePage) UsedBytes() uint32 {
	return p.size
}

// MarkedForDeletion reports whether GC has flagged this page for
// eventual reclamation.
func (p *RowStorePage) MarkedForDeletion() bool {
	return p.marked
}

// Iterator walks records from Begin() to End(), mirroring the reference
// engine's RowStorePage::Iterator but expressed as a Next()-based
// cursor, matching this repo's other log/page iterators.
type Iterator struct {
	page   *RowStorePage
	offset uint32
}

// Begin returns an iterator positioned at the page's first record.
func (p *RowStorePage) Begin() *Iterator {
	return &Iterator{page: p, offset: rowStoreHeaderSize}
}

// Next advances the iterator and returns the record at the prior
// position, or (zero, false) once every record has been consumed.
func (it *Iterator) Next() (CDMRecord, bool) {
	if it.offset >= it.page.size {
		return CDMRecord{}, false
	}
	rec := newRecord(it.page.raw.Data()[it.offset:])
	it.offset += rec.Size()
	return rec, true
}

func (p *RowStorePage) constructFillPage() bool {
	if p.fillPage != nil {
		return true
	}
	raw := p.pm.Alloc()
	if raw == nil {
		p.opts.Logger.Error("arena exhausted constructing GC fill page")
		return false
	}
	p.fillPage = &RowStorePage{raw: raw, pm: p.pm, reclaim: p.reclaim, opts: p.opts, startOffset: rowStoreHeaderSize}
	p.fillOffset = rowStoreHeaderSize
	return true
}

func (p *RowStorePage) finalizeFillPage() {
	copy(p.fillPage.raw.Data()[0:rowStoreHeaderSize], utils.Uint64ToBytes(uint64(p.fillOffset)))
	p.fillPage.size = p.fillOffset
}

// markCurrentForDeletion flags this page as superseded and hands its
// eventual release off to the reclamation primitive; called exactly once,
// on the first GC call that finds cleaning necessary.
func (p *RowStorePage) markCurrentForDeletion() {
	if p.marked {
		return
	}
	p.marked = true
	raw, pm := p.raw, p.pm
	p.reclaim.Defer(func() {
		raw.Reset()
		pm.Free(raw)
	})
}

// GC implements the row-store generational collector: scan once for
// garbage or foldable inserts, then compact surviving records and folded
// inserts forward into one or more fill pages, reporting each relocated
// key's new location to hashTable.
//
// Returns a finalized fill page when one filled up mid-pass — done is
// false, and the next call allocates a fresh fill page and resumes
// exactly where this one left off — or nil once this page
// is fully drained (done=true, with the current fill page, if any,
// still open for whatever page GC visits next). A nil, false result
// distinctly signals that a fill page could not be allocated at all.
func (p *RowStorePage) GC(lowestActiveVersion uint64, insertMap *InsertMap, hashTable HashTableModifier) (fillPage *RowStorePage, done bool) {
	offset := p.startOffset
	hasToClean := p.startOffset != rowStoreHeaderSize
	for !hasToClean && offset < p.size {
		rec := newRecord(p.raw.Data()[offset:])
		if rec.NeedsCleaning(lowestActiveVersion, insertMap) {
			hasToClean = true
			break
		}
		offset += rec.Size()
	}
	if !hasToClean {
		return nil, true
	}

	if p.startOffset == rowStoreHeaderSize {
		p.markCurrentForDeletion()
	}

	if !p.constructFillPage() {
		return nil, false
	}

	offset = p.startOffset
	for offset < p.size {
		rec := newRecord(p.raw.Data()[offset:])
		var couldRelocate bool
		pos := p.fillOffset
		n := rec.CopyAndCompact(lowestActiveVersion, insertMap, p.fillPage.raw.Data()[pos:], &couldRelocate)
		p.fillOffset += n
		if !couldRelocate {
			p.finalizeFillPage()
			res := p.fillPage
			p.fillPage = nil
			p.startOffset = offset
			return res, false
		}
		hashTable.Insert(rec.Key(), Location{Page: p.fillPage, Offset: pos}, true)
		offset += rec.Size()
	}

	p.startOffset = offset
	return nil, true
}

// FillWithInserts folds every remaining InsertMap entry into the
// currently open fill page, skipping keys the hash index already has a
// location for (consumed by an earlier GC cycle over the same
// InsertMap). Must be called once every input page GC has visited has
// returned done=true.
func (p *RowStorePage) FillWithInserts(lowestActiveVersion uint64, insertMap *InsertMap, hashTable HashTableModifier) *RowStorePage {
	if !p.constructFillPage() {
		return nil
	}

	for _, key := range insertMap.Keys() {
		if !insertMap.Has(key) {
			continue
		}
		if _, ok := hashTable.Get(key); ok {
			insertMap.Consume(key)
			continue
		}

		vehicle := acquireVehicleRecord(key)
		rec := newRecord(vehicle)

		var couldRelocate bool
		pos := p.fillOffset
		n := rec.CopyAndCompact(lowestActiveVersion, insertMap, p.fillPage.raw.Data()[pos:], &couldRelocate)
		releaseVehicleRecord(vehicle)
		if !couldRelocate {
			break
		}
		p.fillOffset += n
		hashTable.Insert(key, Location{Page: p.fillPage, Offset: pos}, false)
	}

	p.finalizeFillPage()
	res := p.fillPage
	p.fillPage = nil
	return res
}
