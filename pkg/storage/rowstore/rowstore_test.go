package rowstore

import (
	"sync"

	"github.com/deltamain/storeengine/pkg/storage/arena"
)

func newTestPageManager(pageSize, pageCount int) *arena.PageManager {
	return arena.NewPageManager(arena.Options{PageSize: pageSize, PageCount: pageCount})
}

// fakeReclaimer never runs the deferred release: a page GC marks for
// deletion stays readable for the rest of the test, as it does under a
// real reclaimer while GC is still copying records out of it.
type fakeReclaimer struct{}

func (fakeReclaimer) Defer(closure func()) {}

type fakeCommit struct{ lowest uint64 }

func (f fakeCommit) LowestActiveVersion() uint64 { return f.lowest }

// fakeIndex is an in-memory HashTableModifier. Insert panics if the
// isRelocation flag disagrees with whether the key already has a
// location, which exercises the relocation/non-relocation distinction
// GC and FillWithInserts are required to preserve.
type fakeIndex struct {
	mu sync.Mutex
	m  map[uint64]Location
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{m: make(map[uint64]Location)}
}

func (f *fakeIndex) Insert(key uint64, loc Location, isRelocation bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, exists := f.m[key]
	if isRelocation != exists {
		panic("rowstore: isRelocation flag disagrees with prior presence of key")
	}
	f.m[key] = loc
}

func (f *fakeIndex) Get(key uint64) (Location, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	loc, ok := f.m[key]
	return loc, ok
}

func (f *fakeIndex) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.m)
}

type recSpec struct {
	key      uint64
	versions []version
}

// buildInputPage writes specs back-to-back starting at byte 8 and
// finalizes the page's used-byte header, producing a ready-to-scan GC
// input page.
func buildInputPage(pm *arena.PageManager, specs []recSpec) *RowStorePage {
	raw := pm.Alloc()
	offset := uint32(rowStoreHeaderSize)
	for _, s := range specs {
		offset += encodeRecord(raw.Data()[offset:], s.key, 0, s.versions)
	}
	return NewRowStorePage(raw, offset, pm, fakeReclaimer{}, Options{})
}

// drainGC runs GC to completion, collecting every finalized fill page
// (including the one FillWithInserts itself produces).
func drainGC(p *RowStorePage, lowest uint64, insertMap *InsertMap, idx HashTableModifier) []*RowStorePage {
	var fills []*RowStorePage
	for {
		fill, done := p.GC(lowest, insertMap, idx)
		if fill != nil {
			fills = append(fills, fill)
		}
		if done {
			break
		}
	}
	if fill := p.FillWithInserts(lowest, insertMap, idx); fill != nil {
		fills = append(fills, fill)
	}
	return fills
}
