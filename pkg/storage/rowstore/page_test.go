package rowstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario: nothing in the page is below the watermark and no insert
// folds into any key, so GC must finish in one call, report done=true,
// allocate no fill page, and leave the page unmarked.
func TestRowStorePage_GC_NoOpWhenNothingNeedsCleaning(t *testing.T) {
	pm := newTestPageManager(4096, 4)
	insertMap := NewInsertMap()
	idx := newFakeIndex()

	page := buildInputPage(pm, []recSpec{
		{key: 1, versions: []version{{number: 10, payload: []byte("a")}}},
		{key: 2, versions: []version{{number: 10, payload: []byte("b")}}},
	})

	fill, done := page.GC(1, insertMap, idx)
	assert.Nil(t, fill)
	assert.True(t, done)
	assert.False(t, page.MarkedForDeletion())
	assert.Equal(t, 0, idx.len())
}

// Scenario: one record has a droppable garbage version below the
// watermark, forcing a full compaction pass that relocates every
// surviving record and reports each to the hash index.
func TestRowStorePage_GC_CompactsAndRelocatesSurvivors(t *testing.T) {
	pm := newTestPageManager(4096, 4)
	insertMap := NewInsertMap()
	idx := newFakeIndex()

	page := buildInputPage(pm, []recSpec{
		{key: 1, versions: []version{
			{number: 10, payload: []byte("a")},
			{number: 3, payload: []byte("b")},
			{number: 1, payload: []byte("c")},
		}},
		{key: 2, versions: []version{{number: 10, payload: []byte("z")}}},
	})
	// GC only ever relocates a key that some earlier pass already
	// indexed; seed both keys' prior locations so the isRelocation=true
	// calls GC makes below line up with fakeIndex's invariant check.
	idx.Insert(1, Location{Page: page, Offset: rowStoreHeaderSize}, false)
	idx.Insert(2, Location{Page: page, Offset: rowStoreHeaderSize}, false)

	fills := drainGC(page, 5, insertMap, idx)
	require.True(t, page.MarkedForDeletion())
	require.Len(t, fills, 1)

	loc1, ok := idx.Get(1)
	require.True(t, ok)
	loc2, ok := idx.Get(2)
	require.True(t, ok)

	rec1 := newRecord(loc1.Bytes())
	got1 := rec1.versions()
	require.Len(t, got1, 2)
	assert.Equal(t, uint64(10), got1[0].number)
	assert.Equal(t, uint64(3), got1[1].number)

	rec2 := newRecord(loc2.Bytes())
	got2 := rec2.versions()
	require.Len(t, got2, 1)
	assert.Equal(t, uint64(10), got2[0].number)
}

// Scenario: the fill page is too small to hold every surviving record,
// forcing a rotation: GC must hand back a finalized fill page with
// done=false, then resume at the unfinished record and relocate
// everything across however many fill pages it takes.
func TestRowStorePage_GC_RotatesAcrossMultipleFillPages(t *testing.T) {
	payload := make([]byte, 40)
	pm := newTestPageManager(4096, 8)
	fillPM := newTestPageManager(300, 8) // small relative to compacted record size: forces rotation
	insertMap := NewInsertMap()
	idx := newFakeIndex()

	var specs []recSpec
	for k := uint64(1); k <= 6; k++ {
		specs = append(specs, recSpec{key: k, versions: []version{
			{number: 10, payload: payload},
			{number: 1, payload: payload},
			{number: 0, payload: payload}, // forces NeedsCleaning via 2 sub-watermark versions
		}})
	}
	page := buildInputPage(pm, specs)
	page.pm = fillPM
	for k := uint64(1); k <= 6; k++ {
		idx.Insert(k, Location{Page: page, Offset: rowStoreHeaderSize}, false)
	}

	fills := drainGC(page, 5, insertMap, idx)
	require.Greater(t, len(fills), 1, "small fill pages must force at least one rotation")

	for k := uint64(1); k <= 6; k++ {
		_, ok := idx.Get(k)
		assert.True(t, ok, "key %d must have been relocated", k)
	}
}

// Scenario: FillWithInserts must skip a key the hash index already
// carries a location for (folded by an earlier cycle over the same
// InsertMap), consuming it without writing a vehicle record.
func TestRowStorePage_FillWithInserts_SkipsKeyAlreadyInIndex(t *testing.T) {
	pm := newTestPageManager(4096, 4)
	insertMap := NewInsertMap()
	idx := newFakeIndex()

	existing := buildInputPage(pm, []recSpec{{key: 1, versions: []version{{number: 1, payload: []byte("x")}}}})
	idx.Insert(1, Location{Page: existing, Offset: rowStoreHeaderSize}, false)

	insertMap.Put(1, 5, []byte("should not be written"))
	insertMap.Put(2, 5, []byte("fresh"))

	page := buildInputPage(pm, nil)
	fill := page.FillWithInserts(1, insertMap, idx)
	require.NotNil(t, fill)

	assert.False(t, insertMap.Has(1))
	assert.False(t, insertMap.Has(2))

	loc2, ok := idx.Get(2)
	require.True(t, ok)
	rec2 := newRecord(loc2.Bytes())
	assert.Equal(t, uint64(2), rec2.Key())
}

// Property: fillWithInserts run twice against an InsertMap already
// drained by the first call does nothing the second time — no new
// relocation, no panic from the relocation-flag invariant.
func TestRowStorePage_FillWithInserts_SecondCallIsIdempotentNoOp(t *testing.T) {
	pm := newTestPageManager(4096, 4)
	insertMap := NewInsertMap()
	idx := newFakeIndex()

	insertMap.Put(9, 1, []byte("only"))

	page := buildInputPage(pm, nil)
	first := page.FillWithInserts(1, insertMap, idx)
	require.NotNil(t, first)
	require.True(t, insertMap.Empty())

	page2 := buildInputPage(pm, nil)
	second := page2.FillWithInserts(1, insertMap, idx)
	// Still produces a (degenerate, empty) fill page per the reference
	// engine's unconditional construct-then-finalize shape, but writes
	// nothing further and relocates nothing further.
	assert.NotNil(t, second)
	assert.Equal(t, uint32(rowStoreHeaderSize), second.UsedBytes())
}
