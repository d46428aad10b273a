package storelog

import (
	"sync/atomic"

	"github.com/deltamain/storeengine/pkg/storage/arena"
)

// logHead is the two-headed pair UnorderedLog swaps as a unit: writeHead
// receives single-entry appends, appendHead receives whole spliced
// sublists. Like LogPosition, every update allocates a fresh value.
type logHead struct {
	writeHead  *logPage
	appendHead *logPage
}

// UnorderedLog is a multi-producer sink with no ordering guarantees
// across producers: entries append lock-free to the write head, and
// whole sublists can be spliced onto the append head in bulk.
type UnorderedLog struct {
	baseLog
	head  atomic.Pointer[logHead]
	tail  atomic.Pointer[logPage]
	pages atomic.Int64
}

// NewUnorderedLog constructs an UnorderedLog with one empty page.
func NewUnorderedLog(pm *arena.PageManager, reclaimer Reclaimer, opts Options) *UnorderedLog {
	ul := &UnorderedLog{baseLog: baseLog{pageManager: pm, reclaimer: reclaimer, opts: opts.withDefaults()}}

	first := ul.acquirePage()
	if first == nil {
		ul.fatalArenaExhausted("NewUnorderedLog")
		if ul.head.Load() == nil {
			panic("storelog: cannot construct UnorderedLog, arena exhausted")
		}
	}
	ul.head.Store(&logHead{writeHead: first})
	ul.tail.Store(first)
	ul.pages.Store(1)
	return ul
}

// Append appends a new entry to the write head, rolling onto a fresh
// page when full. Returns nil when the entry is larger than a page can
// hold or the arena is exhausted.
func (ul *UnorderedLog) Append(size, typ uint32) *LogEntry {
	entrySize := entrySizeFromSize(size)
	head := ul.head.Load()
	for head.writeHead != nil {
		if entrySize > head.writeHead.maxEntrySize() {
			return nil
		}
		if entry := head.writeHead.appendEntry(size, entrySize, typ); entry != nil {
			return entry
		}
		head = ul.createPage(head)
	}
	return nil
}

// createPage is a direct port of UnorderedLogImpl::createPage: seal the
// old write head, and either promote a pending append-head sublist to be
// the new write head, or allocate a fresh page if none is pending.
func (ul *UnorderedLog) createPage(oldHead *logHead) *logHead {
	writeHead := oldHead.writeHead
	writeHead.seal()

	for {
		freedHead := false
		next := &logHead{appendHead: nil}

		if oldHead.appendHead == nil {
			newPage := ul.acquirePage()
			if newPage == nil {
				ul.opts.Logger.Error("arena exhausted extending unordered log")
				return &logHead{}
			}
			next.writeHead = newPage
			newPage.next.Store(oldHead.writeHead)
			ul.pages.Add(1)
			freedHead = true
		} else {
			next.writeHead = oldHead.appendHead
		}

		if ul.head.CompareAndSwap(oldHead, next) {
			return next
		}

		if freedHead {
			ul.pages.Add(-1)
			ul.freeEmptyPageNow(next.writeHead)
		}

		current := ul.head.Load()
		if current.writeHead == writeHead {
			oldHead = current
			continue
		}
		return current
	}
}

// AppendPage splices an externally built sublist onto the append head in
// bulk, sealing whatever append-head sublist was pending. begin and end
// are both inclusive: end is the sublist's own last page, not a one-past
// sentinel (unlike Erase's end, which is exclusive).
func (ul *UnorderedLog) AppendPage(begin, end *logPage) {
	oldHead := ul.head.Load()

	pageCount := int64(1)
	for p := begin; p != end; p = p.next.Load() {
		pageCount++
	}
	ul.pages.Add(pageCount)

	for {
		next := oldHead.appendHead
		if next == nil {
			next = oldHead.writeHead
		}
		end.next.Store(next)

		if oldHead.appendHead != nil {
			oldHead.appendHead.seal()
		}

		newHead := &logHead{writeHead: oldHead.writeHead, appendHead: begin}
		if ul.head.CompareAndSwap(oldHead, newHead) {
			return
		}
		oldHead = ul.head.Load()
	}
}

// Erase detaches the pages strictly between begin and end from the chain
// and hands them to the reclaimer for deferred release; begin itself
// stays in the chain. If end is nil, begin becomes the new tail.
func (ul *UnorderedLog) Erase(begin, end *logPage) {
	if begin == end {
		return
	}
	if end == nil {
		ul.tail.Store(begin)
	}

	next := begin.next.Swap(end)
	if next == end {
		return
	}

	var removed int64
	for p := next; p != end; p = p.next.Load() {
		removed++
	}
	ul.pages.Add(-removed)

	ul.freePageRange(next, end)
}

// Tail returns the current tail page: the oldest page in the chain, and
// the last one Iterate visits.
func (ul *UnorderedLog) Tail() *logPage {
	return ul.tail.Load()
}

// Pages returns the number of pages currently reachable from the chain.
func (ul *UnorderedLog) Pages() int64 {
	return ul.pages.Load()
}

// Iterate walks every entry across every page in the chain, starting at
// the newest page (the append head when a sublist is pending, otherwise
// the write head) and following next pointers down to the tail,
// regardless of seal state on the current write head's trailing
// unwritten region (size 0 entries terminate each page's scan).
func (ul *UnorderedLog) Iterate() *EntryIterator {
	head := ul.head.Load()
	start := head.appendHead
	if start == nil {
		start = head.writeHead
	}
	return &EntryIterator{page: start, offset: 0}
}
