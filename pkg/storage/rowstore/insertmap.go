package rowstore

// insertEntry is one pending insert drawn from the insert log: a single
// version (commit number + payload) waiting to be folded into a
// row-store page. Multiple entries for the same key chain through next.
type insertEntry struct {
	key     uint64
	number  uint64
	payload []byte
	next    int // 1-based index into entries; 0 terminates the chain
}

// InsertMap is an ordered mapping from key to its chain of pending
// insert entries, mutated by GC as entries are folded into fill pages.
// The ordered key index is a pendingInsertIndex, whose leaf values are
// always handles into entries rather than user-visible scalars — the
// chaining lives in insertEntry.next, not in the index itself.
//
// Consuming an entry zeroes its chain head in the index rather than
// removing the key: pendingInsertIndex.forEachHandle already treats a
// zero handle as absent, so this reuses that convention instead of
// needing a dedicated delete operation.
type InsertMap struct {
	index   *pendingInsertIndex
	entries []insertEntry // index 0 unused; handles are 1-based
}

// NewInsertMap returns an empty InsertMap.
func NewInsertMap() *InsertMap {
	return &InsertMap{index: newPendingInsertIndex(), entries: make([]insertEntry, 1)}
}

// Put records a pending insert for key. Key must be nonzero and below
// the index's reserved sentinel value.
func (m *InsertMap) Put(key, number uint64, payload []byte) {
	handle := uint64(len(m.entries))
	entry := insertEntry{key: key, number: number, payload: payload}
	if existing := m.index.handleFor(key); existing != 0 {
		entry.next = int(existing)
	}
	m.entries = append(m.entries, entry)
	m.index.setHandle(key, handle)
}

// Has reports whether any pending insert exists for key.
func (m *InsertMap) Has(key uint64) bool {
	return m.index.handleFor(key) != 0
}

// Peek returns every pending version for key, most-recently-Put first,
// without consuming them.
func (m *InsertMap) Peek(key uint64) []version {
	handle := m.index.handleFor(key)
	var out []version
	for handle != 0 {
		e := m.entries[handle]
		out = append(out, version{number: e.number, payload: e.payload})
		handle = uint64(e.next)
	}
	return out
}

// Consume removes every pending entry for key.
func (m *InsertMap) Consume(key uint64) {
	m.index.setHandle(key, 0)
}

// Keys returns every key with at least one pending insert, in ascending
// order. Used by FillWithInserts in place of the reference engine's
// insertMap.begin()/erase() loop, which this package's index can't
// support directly (no per-key delete without a full value pass) — a
// single ordered snapshot plus per-key Has/Consume checks is equivalent
// and avoids repeated full-index scans.
func (m *InsertMap) Keys() []uint64 {
	var keys []uint64
	m.index.forEachHandle(func(k, _ uint64) uint64 {
		keys = append(keys, k)
		return 0
	})
	return keys
}

// Empty reports whether no pending inserts remain.
func (m *InsertMap) Empty() bool {
	return len(m.Keys()) == 0
}
