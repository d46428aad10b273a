package arena

import (
	"go.uber.org/zap"

	"github.com/deltamain/storeengine/pkg/utils"
)

// Options configures a PageManager. There is no file/env config loader in
// this core; callers build Options directly, same as the teacher's
// Config-struct constructors.
type Options struct {
	// PageSize is the fixed size of every page in the arena. Must be a
	// power of two; defaults to DefaultPageSize.
	PageSize int
	// PageCount is the number of pages carved out of the arena.
	PageCount int
	// Logger receives arena-exhaustion diagnostics. Defaults to a no-op
	// logger.
	Logger *zap.Logger
	// OnExhausted is invoked (after logging) once Alloc finds the
	// free-list empty. It defaults to a no-op: the spec's terminate-the-
	// process policy is left to the caller to opt into, since a library
	// package must never call os.Exit on the caller's behalf.
	OnExhausted func()
}

func (o Options) withDefaults() Options {
	if o.PageSize == 0 {
		o.PageSize = DefaultPageSize
	}
	o.PageSize = utils.CeilToPowerOfTwo(o.PageSize)
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.OnExhausted == nil {
		o.OnExhausted = func() {}
	}
	return o
}

// PageManager owns one contiguous arena carved into PageSize pages, handed
// out and reclaimed through a bounded lock-free free-list. There is no
// resizing: exhaustion is a terminal condition for the caller to handle.
type PageManager struct {
	opts  Options
	arena []byte // carved once at construction; never grows, never resets
	free  *fixedSizeStack
}

// NewPageManager allocates PageCount pages of PageSize bytes each as one
// contiguous region, and pushes every page onto the free-list.
//
// The region is a single fixed-size make([]byte, ...), not a growable
// buffer: every byte this arena will ever hold is known up front, and
// nothing about its lifetime ever shrinks, grows, or resets the slice
// itself (pages are reset individually, on Free) — a growable buffer's
// Grow/Reset/ReleaseFn machinery would be dead weight here.
func NewPageManager(opts Options) *PageManager {
	opts = opts.withDefaults()
	if opts.PageCount <= 0 {
		panic("arena: PageCount must be positive")
	}

	totalSize := opts.PageSize * opts.PageCount
	body := make([]byte, totalSize)

	pm := &PageManager{
		opts:  opts,
		arena: body,
		free:  newFixedSizeStack(opts.PageCount),
	}

	for i := 0; i < opts.PageCount; i++ {
		start := i * opts.PageSize
		page := &Page{data: body[start : start+opts.PageSize]}
		pm.free.push(page)
	}

	return pm
}

// PageSize returns the fixed page size this manager was constructed with.
func (pm *PageManager) PageSize() int {
	return pm.opts.PageSize
}

// PageCount returns the total number of pages in the arena, allocated or not.
func (pm *PageManager) PageCount() int {
	return pm.opts.PageCount
}

// Alloc pops a page off the free-list. It returns nil when the arena is
// exhausted, after logging and invoking Options.OnExhausted.
func (pm *PageManager) Alloc() *Page {
	p, ok := pm.free.pop()
	if !ok {
		pm.opts.Logger.Error("arena exhausted: no free pages available",
			zap.Int("page_size", pm.opts.PageSize),
			zap.Int("page_count", pm.opts.PageCount),
		)
		pm.opts.OnExhausted()
		return nil
	}
	return p
}

// Free returns p to the free-list. Callers must guarantee p is no longer
// reachable by any reader, typically by routing the call through a
// reclamation primitive's deferred-free mechanism.
func (pm *PageManager) Free(p *Page) {
	p.Reset()
	if !pm.free.push(p) {
		// The free-list is bounded at PageCount slots; pushing a page that
		// did not originate from this manager (or double-freeing one)
		// overflows it. Both are caller bugs.
		panic("arena: free-list overflow, page did not originate from this manager or was freed twice")
	}
}

// Release drops the manager's reference to the underlying arena. Any pages
// still checked out by callers become dangling; callers are responsible for
// quiescing all users first.
func (pm *PageManager) Release() {
	pm.arena = nil
	pm.free = newFixedSizeStack(0)
}
