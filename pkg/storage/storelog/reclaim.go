package storelog

import (
	"go.uber.org/zap"

	"github.com/deltamain/storeengine/pkg/storage/arena"
)

// Reclaimer is the safe-memory-reclamation primitive both log variants
// consume: Defer runs closure once no reader holds a reference acquired
// before Defer returned. The reclaim package supplies a concrete
// epoch-based implementation; callers may substitute their own.
type Reclaimer interface {
	Defer(closure func())
}

// Options configures a log's interaction with its external collaborators.
// There is no file/env config loader here; callers build Options directly.
type Options struct {
	// Logger receives arena-exhaustion diagnostics. Defaults to a no-op
	// logger.
	Logger *zap.Logger
	// OnFatal is invoked, after logging, when the arena cannot supply a
	// log's very first page — the one case construction cannot recover
	// from. Defaults to a no-op; production wiring should set this to
	// terminate the process, matching the reference engine's
	// LOG_ERROR+std::terminate at the same call site. Mid-log exhaustion
	// (createPage failing later) is not fatal: it propagates as a nil
	// append result, exactly as the reference engine's non-constructor
	// paths do.
	OnFatal func()
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.OnFatal == nil {
		o.OnFatal = func() {}
	}
	return o
}

type baseLog struct {
	pageManager *arena.PageManager
	reclaimer   Reclaimer
	opts        Options
}

func (b *baseLog) acquirePage() *logPage {
	raw := b.pageManager.Alloc()
	if raw == nil {
		return nil
	}
	return newLogPage(raw)
}

// freeEmptyPageNow returns a page straight to the arena without deferring
// through the reclaimer. Only valid for pages that never became reachable
// by any reader, e.g. a speculative createPage allocation that lost its
// CAS race.
func (b *baseLog) freeEmptyPageNow(p *logPage) {
	p.raw.Reset()
	b.pageManager.Free(p.raw)
}

// freePageRange defers freeing the chain [begin, end) through the
// reclaimer, walking next pointers at the time the deferred closure
// actually runs (so a slow reader finishing between now and the grace
// period still sees a consistent chain).
func (b *baseLog) freePageRange(begin, end *logPage) {
	if begin == end {
		return
	}
	pm := b.pageManager
	b.reclaimer.Defer(func() {
		page := begin
		for page != end {
			next := page.next.Load()
			page.raw.Reset()
			pm.Free(page.raw)
			page = next
		}
	})
}

func (b *baseLog) fatalArenaExhausted(where string) {
	b.opts.Logger.Error("arena exhausted while constructing log's initial page",
		zap.String("where", where))
	b.opts.OnFatal()
}
