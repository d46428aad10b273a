package storelog

import (
	"sync/atomic"

	"github.com/deltamain/storeengine/pkg/storage/arena"
)

// logHeaderSize is the reserved region at the front of every log page's
// byte body. Its only job is to keep entry positions at alignment offset
// 8 (24 mod 16 == 8): offset/next themselves live as ordinary Go struct
// fields on logPage, not inside these bytes, since the garbage collector
// cannot safely track a pointer embedded in a []byte arena.
const logHeaderSize = 24

// logPage is one fixed-size page in a log chain. offset is bit-packed as
// (bytesUsed<<1)|sealedBit, sealedBit=1 meaning unsealed/active.
type logPage struct {
	raw    *arena.Page
	offset atomic.Uint32
	next   atomic.Pointer[logPage]
}

func newLogPage(raw *arena.Page) *logPage {
	p := &logPage{raw: raw}
	p.offset.Store(1) // position 0, unsealed
	return p
}

func (p *logPage) data() []byte {
	return p.raw.Data()[logHeaderSize:]
}

func (p *logPage) maxEntrySize() uint32 {
	return uint32(p.raw.Size()) - logHeaderSize
}

// offsetAndSealed reads (bytesUsed, sealed) from the page offset in one
// atomic load.
func (p *logPage) offsetAndSealed() (bytesUsed uint32, sealed bool) {
	o := p.offset.Load()
	return o >> 1, o&1 == 0
}

// seal clears the page's active bit. Per-entry appends that race past
// this point will themselves fail the sealed check in appendEntry.
func (p *logPage) seal() {
	for {
		o := p.offset.Load()
		if o&1 == 0 {
			return
		}
		if p.offset.CompareAndSwap(o, o&^1) {
			return
		}
	}
}

// appendEntry is the hot-path CAS loop: acquire entrySize bytes for an
// entry of size/type, or return nil if the page is sealed, full, or a
// seal raced in before publication completed.
func (p *logPage) appendEntry(size, entrySize, typ uint32) *LogEntry {
	offset := p.offset.Load()
	if offset&1 == 0 {
		// Already sealed.
		return nil
	}
	position := offset >> 1

	for {
		endPosition := position + entrySize
		if endPosition > p.maxEntrySize() {
			return nil
		}

		header := headerAt(p.data(), position)
		collision, ok := header.tryAcquire(size, typ)
		if !ok {
			position += collision
			continue
		}

		// Publish the new offset, racing only against appenders trying to
		// raise it further and against a concurrent seal.
		nOffset := (endPosition << 1) | 1
		for offset < nOffset {
			if p.offset.CompareAndSwap(offset, nOffset) {
				break
			}
			offset = p.offset.Load()
			if offset&1 == 0 {
				if offset>>1 >= endPosition {
					// Sealed after our space was fully accounted for.
					break
				}
				// Sealed before our entry's bytes were reflected in the
				// page's used-count: the entry is abandoned-acquired
				// garbage of known size; the caller must treat append as
				// having failed.
				return nil
			}
		}

		return &LogEntry{page: p, pos: position}
	}
}
