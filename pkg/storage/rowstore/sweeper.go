package rowstore

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CommitManager supplies the monotonic watermark below which no reader
// will request any version. Satisfied by the commit package's Manager.
type CommitManager interface {
	LowestActiveVersion() uint64
}

// SweeperOptions configures a Sweeper.
type SweeperOptions struct {
	Logger *zap.Logger
	// Interval drives the periodic Run loop; zero makes Run a no-op, so
	// callers drive Sweep directly instead.
	Interval time.Duration
	// OnFillPage receives every fill page GC or FillWithInserts finalizes.
	// Table/schema storage is out of this core's scope, so it is up to the
	// caller to do something with the page (add it to a table's page
	// set, hand it to another sweep, etc.) — defaults to a no-op.
	OnFillPage func(*RowStorePage)
}

func (o SweeperOptions) withDefaults() SweeperOptions {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.OnFillPage == nil {
		o.OnFillPage = func(*RowStorePage) {}
	}
	return o
}

// Sweeper repeatedly drives RowStorePage.GC (and FillWithInserts) over a
// caller-supplied set of pages, on an interval or on demand, fanning out
// across independent pages with errgroup — never two goroutines over the
// same page at once, per the single-threaded-per-page GC contract.
// Table/schema concepts stay out of scope, so Sweeper operates directly
// on a page list rather than a table abstraction.
type Sweeper struct {
	opts    SweeperOptions
	commit  CommitManager
	hashTbl HashTableModifier

	mu    sync.Mutex
	pages []*RowStorePage
	maps  []*InsertMap // parallel to pages
}

// NewSweeper constructs a Sweeper driving GC for pages against their
// matching per-page InsertMaps (same length, same index), using commit's
// watermark and reporting relocations to hashTable.
func NewSweeper(pages []*RowStorePage, maps []*InsertMap, commit CommitManager, hashTable HashTableModifier, opts SweeperOptions) *Sweeper {
	return &Sweeper{opts: opts.withDefaults(), commit: commit, hashTbl: hashTable, pages: pages, maps: maps}
}

// Sweep runs one GC pass to completion over every page, concurrently.
// Each page is driven through however many fill-page rotations it takes
// to reach done=true, then has its InsertMap's leftover entries folded
// in via FillWithInserts.
func (s *Sweeper) Sweep(ctx context.Context) error {
	s.mu.Lock()
	pages, maps := s.pages, s.maps
	s.mu.Unlock()

	lowest := s.commit.LowestActiveVersion()

	g, ctx := errgroup.WithContext(ctx)
	for i := range pages {
		page, insertMap := pages[i], maps[i]
		g.Go(func() error {
			return s.sweepOne(ctx, page, insertMap, lowest)
		})
	}
	return g.Wait()
}

func (s *Sweeper) sweepOne(ctx context.Context, page *RowStorePage, insertMap *InsertMap, lowest uint64) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fill, done := page.GC(lowest, insertMap, s.hashTbl)
		if fill != nil {
			s.opts.OnFillPage(fill)
		}
		if done {
			break
		}
	}
	if fill := page.FillWithInserts(lowest, insertMap, s.hashTbl); fill != nil {
		s.opts.OnFillPage(fill)
	}
	return nil
}

// Run starts the periodic sweep loop on opts.Interval, blocking until ctx
// is cancelled. Grounded on TableManager.hpp's gcThread, which runs
// GC::run on a timer thread against every table using the commit
// manager's watermark; this is that same shape with tables replaced by
// a direct page list, per this core's non-goal on table/schema concepts.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.opts.Interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.opts.Logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}
