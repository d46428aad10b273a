// Package reclaim provides an epoch-based safe-memory-reclamation
// primitive: readers pin the current epoch around any operation that
// may dereference a page obtained from a log or row-store traversal,
// and Defer only runs a closure once every pinned reader has advanced
// past the epoch it was deferred at.
package reclaim

import (
	"context"
	"math"
	"math/bits"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	pkgruntime "github.com/deltamain/storeengine/pkg/runtime"
	"github.com/deltamain/storeengine/pkg/storage/rowstore"
	"github.com/deltamain/storeengine/pkg/storage/storelog"
	"github.com/deltamain/storeengine/pkg/utils"
)

var (
	_ storelog.Reclaimer = (*Manager)(nil)
	_ rowstore.Reclaimer = (*Manager)(nil)
)

const (
	inactive = 0 // slot sentinel: not currently pinned by any reader

	activeSpinCycles = 4
	activeSpinTries  = 30

	queueCacheLineSize = 64
)

// deferredItem is one closure waiting for its retirement epoch to
// become unobservable, tagged with the epoch at the time Defer
// enqueued it.
type deferredItem struct {
	epoch uint64
	fn    func()
}

// deferredSlot holds one deferredItem in the pending ring, plus the
// turn counter that makes concurrent Enqueue/Dequeue lock-free.
type deferredSlot struct {
	turn atomic.Uint64
	item deferredItem
	_    [queueCacheLineSize - 16]byte // padding, avoids false sharing with neighboring slots
}

// deferredQueue is a lock-free bounded MPMC ring buffer of
// deferredItem, sized to Manager's QueueCapacity. It exists purely to
// give Defer/drainOnce a backpressure-capable mailbox between
// reclaim's own producer (Defer) and consumer (drainOnce) sides —
// there is exactly one item type it will ever hold, so it is not
// generic over T the way a general-purpose queue package would be.
type deferredQueue struct {
	capacity     uint64
	mask         uint64
	capacityLog2 uint64
	slots        []deferredSlot

	_ [queueCacheLineSize]byte

	head atomic.Uint64

	_ [queueCacheLineSize]byte

	tail atomic.Uint64
}

// newDeferredQueue returns a queue whose capacity is rounded up to the
// next power of two.
func newDeferredQueue(capacity int) *deferredQueue {
	if capacity < 2 {
		capacity = 2
	}
	capacity = utils.CeilToPowerOfTwo(capacity)

	return &deferredQueue{
		capacity:     uint64(capacity),
		mask:         uint64(capacity - 1),
		capacityLog2: uint64(bits.TrailingZeros64(uint64(capacity))),
		slots:        make([]deferredSlot, capacity),
	}
}

func (q *deferredQueue) idx(pos uint64) uint64  { return pos & q.mask }
func (q *deferredQueue) turn(pos uint64) uint64 { return pos >> q.capacityLog2 }

// enqueue adds item, spinning (adaptively) while another producer races
// it for the same slot. Returns false once the queue is observed full.
func (q *deferredQueue) enqueue(item deferredItem) bool {
	for spin := 0; ; spin++ {
		head := q.head.Load()
		idx := q.idx(head)
		expectedTurn := q.turn(head) * 2

		if q.slots[idx].turn.Load() == expectedTurn {
			if q.head.CompareAndSwap(head, head+1) {
				q.slots[idx].item = item
				q.slots[idx].turn.Store(expectedTurn + 1)
				return true
			}
		} else if head == q.head.Load() {
			return false
		}

		if spin < activeSpinTries {
			pkgruntime.Procyield(activeSpinCycles)
		} else {
			runtime.Gosched()
			spin = 0
		}
	}
}

// dequeue removes and returns the oldest item, or (zero, false) if the
// queue is observed empty.
func (q *deferredQueue) dequeue() (deferredItem, bool) {
	for spin := 0; ; spin++ {
		tail := q.tail.Load()
		idx := q.idx(tail)
		expectedTurn := q.turn(tail)*2 + 1

		if q.slots[idx].turn.Load() == expectedTurn {
			if q.tail.CompareAndSwap(tail, tail+1) {
				item := q.slots[idx].item
				q.slots[idx].item = deferredItem{}
				q.slots[idx].turn.Store(expectedTurn + 1)
				return item, true
			}
		} else if tail == q.tail.Load() {
			return deferredItem{}, false
		}

		if spin < activeSpinTries {
			pkgruntime.Procyield(activeSpinCycles)
		} else {
			runtime.Gosched()
			spin = 0
		}
	}
}

// size returns the approximate number of items currently queued (may
// be negative during concurrent access).
func (q *deferredQueue) size() int64 {
	return int64(q.head.Load()) - int64(q.tail.Load())
}

// Options configures a Manager.
type Options struct {
	// MaxReaders bounds how many readers may be pinned concurrently.
	// Defaults to 256.
	MaxReaders int
	// QueueCapacity bounds how many deferred closures may be pending at
	// once (rounded up to a power of two by the underlying MPMC queue).
	// Defaults to 4096.
	QueueCapacity int
	Logger        *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxReaders <= 0 {
		o.MaxReaders = 256
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 4096
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Manager is the concrete epoch-based Reclaimer, satisfying both
// storelog.Reclaimer and rowstore.Reclaimer's identical one-method
// contract.
type Manager struct {
	opts Options

	epoch atomic.Uint64
	slots []atomic.Uint64 // per-reader pinned epoch, inactive (0) when unpinned

	pending *deferredQueue
}

// New constructs a Manager.
func New(opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		opts:    opts,
		slots:   make([]atomic.Uint64, opts.MaxReaders),
		pending: newDeferredQueue(opts.QueueCapacity),
	}
}

// Guard releases the reader's pin on Exit. Obtained from Enter.
type Guard struct {
	m    *Manager
	slot int
}

// Exit unpins the reader. Must be called exactly once per Guard.
func (g Guard) Exit() {
	g.m.slots[g.slot].Store(inactive)
}

// Enter pins the calling reader at the current epoch, returning a
// Guard the caller must Exit once it can no longer observe any page
// obtained during the pinned section. Spins for a free slot if every
// slot is currently occupied, the same adaptive spin-then-yield shape
// this repo's other lock-free structures use.
func (m *Manager) Enter() Guard {
	epoch := m.epoch.Load() + 1 // never 0, so a pinned slot is never confused with inactive
	for spin := 0; ; {
		for i := range m.slots {
			if m.slots[i].CompareAndSwap(inactive, epoch) {
				return Guard{m: m, slot: i}
			}
		}
		if spin < activeSpinTries {
			pkgruntime.Procyield(activeSpinCycles)
			spin++
		} else {
			runtime.Gosched()
			spin = 0
		}
	}
}

// minActiveEpoch returns the lowest epoch any pinned reader currently
// holds, or math.MaxUint64 if no reader is pinned (meaning every
// deferred closure is immediately safe to run).
func (m *Manager) minActiveEpoch() uint64 {
	min := uint64(math.MaxUint64)
	for i := range m.slots {
		if e := m.slots[i].Load(); e != inactive && e < min {
			min = e
		}
	}
	return min
}

// Defer enqueues closure to run once no reader pinned at or before the
// current epoch remains active. The current epoch is advanced first,
// so closure's tag is strictly less than any epoch a reader pins from
// this point on.
func (m *Manager) Defer(closure func()) {
	epoch := m.epoch.Add(1)
	item := deferredItem{epoch: epoch, fn: closure}
	for !m.pending.enqueue(item) {
		// The pending queue is bounded; a full queue means reclamation
		// is falling behind. Running one drain pass inline applies
		// backpressure to the caller instead of growing unboundedly.
		m.drainOnce()
	}
}

// drainOnce runs exactly one pass over the queue's current contents,
// executing every closure whose tag has fallen behind every active
// reader and re-parking everything else for the next pass.
func (m *Manager) drainOnce() {
	min := m.minActiveEpoch()
	n := int(m.pending.size())
	for i := 0; i < n; i++ {
		item, ok := m.pending.dequeue()
		if !ok {
			return
		}
		if item.epoch < min {
			item.fn()
			continue
		}
		if !m.pending.enqueue(item) {
			// Lost the race against a full queue; run it now rather
			// than drop it — a reclaim closure frees a page, and
			// dropping one leaks it permanently.
			item.fn()
		}
	}
}

// Run drains on interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.drainOnce()
		}
	}
}

// Pending reports how many deferred closures have not yet run.
func (m *Manager) Pending() int64 {
	return m.pending.size()
}
