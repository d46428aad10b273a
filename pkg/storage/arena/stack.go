package arena

import (
	"runtime"
	"sync/atomic"

	pkgruntime "github.com/deltamain/storeengine/pkg/runtime"
)

// Spinning constants, same adaptive-spin shape as the teacher's MPMC queue.
const (
	activeSpinCycles = 4
	activeSpinTries  = 30
)

func backoff(spin int) int {
	if spin < activeSpinTries {
		pkgruntime.Procyield(activeSpinCycles)
		return spin + 1
	}
	runtime.Gosched()
	return 0
}

// fixedSizeStack is a bounded, lock-free, multi-producer/multi-consumer LIFO
// stack of *Page, ported from the reference engine's FixedSizeStack: a
// packed (readHead, writeHead) pair reserves a slot before the element is
// published, so a concurrent pop never observes a half-written slot even
// when pushes complete out of order.
type fixedSizeStack struct {
	slots []atomic.Pointer[Page]
	head  atomic.Uint64 // high 32 bits: readHead, low 32 bits: writeHead
}

func newFixedSizeStack(capacity int) *fixedSizeStack {
	return &fixedSizeStack{slots: make([]atomic.Pointer[Page], capacity)}
}

func packHead(readHead, writeHead uint32) uint64 {
	return uint64(readHead)<<32 | uint64(writeHead)
}

func unpackHead(h uint64) (readHead, writeHead uint32) {
	return uint32(h >> 32), uint32(h)
}

func (s *fixedSizeStack) push(p *Page) bool {
	for spin := 0; ; {
		h := s.head.Load()
		readHead, writeHead := unpackHead(h)
		if int(writeHead) == len(s.slots) {
			return false
		}
		if !s.head.CompareAndSwap(h, packHead(readHead, writeHead+1)) {
			spin = backoff(spin)
			continue
		}

		s.slots[writeHead].Store(p)

		// Advance readHead to the new contiguous committed prefix. Another
		// push that reserved a higher slot spins here until we publish.
		for {
			h2 := s.head.Load()
			readHead2, writeHead2 := unpackHead(h2)
			if readHead2 > writeHead {
				break
			}
			if readHead2 == writeHead {
				if s.head.CompareAndSwap(h2, packHead(writeHead+1, writeHead2)) {
					break
				}
				continue
			}
			spin = backoff(spin)
		}
		return true
	}
}

func (s *fixedSizeStack) pop() (*Page, bool) {
	for spin := 0; ; {
		h := s.head.Load()
		readHead, writeHead := unpackHead(h)
		if readHead != writeHead {
			// A push is mid-flight; the stack is not in a stable state.
			spin = backoff(spin)
			continue
		}
		if readHead == 0 {
			return nil, false
		}
		result := s.slots[readHead-1].Load()
		if s.head.CompareAndSwap(h, packHead(readHead-1, writeHead-1)) {
			s.slots[readHead-1].Store(nil)
			return result, true
		}
		spin = backoff(spin)
	}
}
