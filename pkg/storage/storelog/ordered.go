package storelog

import (
	"sync/atomic"

	"github.com/deltamain/storeengine/pkg/storage/arena"
)

// OrderedLog is a singly-linked chain of pages with a write head, a
// sealed-head cursor that monotonically advances past only-sealed
// entries, and a movable tail. Producers append lock-free; a consumer
// iterates entries in append-to-seal order up to the sealed head.
type OrderedLog struct {
	baseLog
	head       atomic.Pointer[logPage]
	sealedHead atomic.Pointer[LogPosition]
	tail       atomic.Pointer[LogPosition]
}

// NewOrderedLog constructs an OrderedLog with one empty page. If the
// arena cannot supply that first page, the log cannot be constructed at
// all: this is the one unrecoverable allocation failure (see Options).
func NewOrderedLog(pm *arena.PageManager, reclaimer Reclaimer, opts Options) *OrderedLog {
	ol := &OrderedLog{baseLog: baseLog{pageManager: pm, reclaimer: reclaimer, opts: opts.withDefaults()}}

	first := ol.acquirePage()
	if first == nil {
		ol.fatalArenaExhausted("NewOrderedLog")
		if ol.head.Load() == nil {
			panic("storelog: cannot construct OrderedLog, arena exhausted")
		}
	}
	ol.head.Store(first)
	ol.sealedHead.Store(&LogPosition{page: first, offset: 0})
	ol.tail.Store(&LogPosition{page: first, offset: 0})
	return ol
}

// Append acquires space for a new entry, transparently rolling onto a
// fresh page when the current head is full or sealed. Returns nil when
// the entry is larger than a page can hold or the arena is exhausted.
func (ol *OrderedLog) Append(size, typ uint32) *LogEntry {
	entrySize := entrySizeFromSize(size)
	head := ol.head.Load()
	for head != nil {
		if entrySize > head.maxEntrySize() {
			return nil
		}
		if entry := head.appendEntry(size, entrySize, typ); entry != nil {
			return entry
		}
		head = ol.createPage(head)
	}
	return nil
}

// createPage rolls the write head forward, sealing the old head. Mirrors
// the reference engine's OrderedLogImpl::createPage exactly, including
// the speculative-allocation-loses-the-race cleanup via
// freeEmptyPageNow.
func (ol *OrderedLog) createPage(oldHead *logPage) *logPage {
	if next := oldHead.next.Load(); next != nil {
		if !ol.head.CompareAndSwap(oldHead, next) {
			return ol.head.Load()
		}
		return next
	}

	oldHead.seal()

	newPage := ol.acquirePage()
	if newPage == nil {
		ol.opts.Logger.Error("arena exhausted extending ordered log")
		return nil
	}

	if !oldHead.next.CompareAndSwap(nil, newPage) {
		ol.freeEmptyPageNow(newPage)
		return oldHead.next.Load()
	}

	// Best-effort: if this fails, another thread already advanced head.
	ol.head.CompareAndSwap(oldHead, newPage)

	sealedHead := ol.sealedHead.Load()
	if sealedHead.page == oldHead && sealedHead.offset == mustOffset(oldHead) {
		ol.advanceSealedHead(sealedHead)
	}

	return newPage
}

func mustOffset(p *logPage) uint32 {
	bytesUsed, _ := p.offsetAndSealed()
	return bytesUsed
}

// Seal freezes entry against further writes, and if entry sits exactly at
// the current sealed-head cursor, drives the cursor forward past it (and
// past any further already-sealed entries).
func (ol *OrderedLog) Seal(entry *LogEntry) {
	entry.Seal()

	sealedHead := ol.sealedHead.Load()
	if sealedHead.page != entry.page || sealedHead.offset != entry.pos {
		return
	}
	ol.advanceSealedHead(sealedHead)
}

// advanceSealedHead is a direct port of OrderedLogImpl::advanceSealedHead:
// scan forward from oldSealedHead over consecutively sealed entries,
// crossing page boundaries only once the page itself is sealed and has no
// stragglers, and publish the furthest point reached via CAS.
func (ol *OrderedLog) advanceSealedHead(oldSealedHead *LogPosition) {
	sealedHead := LogPosition{page: oldSealedHead.page, offset: oldSealedHead.offset}

	var size uint32
	var sealed bool
	var currentHeader entryHeader
	haveCurrent := false

	loadCurrent := func() {
		if sealedHead.offset <= sealedHead.page.maxEntrySize()-minEntrySize {
			currentHeader = headerAt(sealedHead.page.data(), sealedHead.offset)
			size, sealed = currentHeader.sizeAndSealed()
			haveCurrent = true
		} else {
			size, sealed = 0, true
			haveCurrent = false
		}
	}
	loadCurrent()

	prev := oldSealedHead
	for {
		for sealed {
			if size == 0 {
				pageOffset, pageSealed := sealedHead.page.offsetAndSealed()
				if !pageSealed {
					break
				}
				if pageOffset > sealedHead.offset {
					// An append landed between our offset read and now;
					// re-read the same entry position.
					size, sealed = currentHeader.sizeAndSealed()
					continue
				}
				next := sealedHead.page.next.Load()
				if next == nil {
					break
				}
				sealedHead.page = next
				sealedHead.offset = 0
				loadCurrent()
			} else {
				sealedHead.offset += entrySizeFromSize(size)
				loadCurrent()
				if !haveCurrent {
					size = 0
				}
			}
		}

		next := &LogPosition{page: sealedHead.page, offset: sealedHead.offset}
		if !ol.sealedHead.CompareAndSwap(prev, next) {
			return
		}
		prev = next

		loadCurrent()
		if !haveCurrent {
			size, sealed = 0, true
		}

		if size == 0 {
			pageOffset, pageSealed := sealedHead.page.offsetAndSealed()
			if !pageSealed {
				return
			}
			if pageOffset > sealedHead.offset {
				size, sealed = currentHeader.sizeAndSealed()
			} else {
				nextPage := sealedHead.page.next.Load()
				if nextPage == nil {
					return
				}
				sealedHead.page = nextPage
				sealedHead.offset = 0
				loadCurrent()
				if !haveCurrent {
					size, sealed = 0, true
				}
			}
		}

		if !sealed {
			return
		}
	}
}

// Tail returns a snapshot of the current tail position.
func (ol *OrderedLog) Tail() Cursor {
	return Cursor{pos: ol.tail.Load()}
}

// SealedHead returns a snapshot of the current sealed-head position.
func (ol *OrderedLog) SealedHead() Cursor {
	return Cursor{pos: ol.sealedHead.Load()}
}

// Truncate advances the tail from old to new, succeeding only if the
// tail had not already moved. On success, the pages from old's page up
// to, but not including, new's page are handed to the reclaimer for
// deferred release.
func (ol *OrderedLog) Truncate(old, new Cursor) bool {
	if !ol.tail.CompareAndSwap(old.pos, new.pos) {
		return false
	}
	if old.page() != new.page() {
		ol.freePageRange(old.page(), new.page())
	}
	return true
}

// Iterate returns an EntryIterator walking entries from `from` up to, but
// not including, `to`. Callers typically pass Tail() and SealedHead(); an
// iterator never observes an unsealed entry.
func (ol *OrderedLog) Iterate(from, to Cursor) *EntryIterator {
	return &EntryIterator{page: from.page(), offset: from.offset(), endPage: to.page(), endOffset: to.offset()}
}

// EntryIterator walks entries in strictly ascending chain order.
type EntryIterator struct {
	page      *logPage
	offset    uint32
	endPage   *logPage
	endOffset uint32
}

// Next advances the iterator and returns the entry at the prior position,
// or (zero, false) once the end cursor is reached or the last page in the
// chain has no further entries.
func (it *EntryIterator) Next() (LogEntry, bool) {
	for {
		if it.page == it.endPage && it.offset == it.endOffset {
			return LogEntry{}, false
		}
		if it.offset > it.page.maxEntrySize()-minEntrySize {
			next := it.page.next.Load()
			if next == nil {
				return LogEntry{}, false
			}
			it.page = next
			it.offset = 0
			continue
		}

		header := headerAt(it.page.data(), it.offset)
		size, _ := header.sizeAndSealed()
		if size == 0 {
			// The rest of this page is unused; carry on with the next one.
			if it.page == it.endPage {
				return LogEntry{}, false
			}
			next := it.page.next.Load()
			if next == nil {
				return LogEntry{}, false
			}
			it.page = next
			it.offset = 0
			continue
		}

		entry := LogEntry{page: it.page, pos: it.offset}
		it.offset += entrySizeFromSize(size)
		return entry, true
	}
}
