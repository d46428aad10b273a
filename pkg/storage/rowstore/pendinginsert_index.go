package rowstore

import (
	"math"

	"github.com/deltamain/storeengine/pkg/datastructs/buffer"
	bufferpool "github.com/deltamain/storeengine/pkg/pool/buffer"
	"github.com/deltamain/storeengine/pkg/utils"
)

// pendingInsertIndex is the ordered key index backing InsertMap: a
// disk-page-shaped B+tree whose leaf values are not arbitrary scalars
// but 1-based handles into InsertMap's own insertEntry slab, so a
// "value" here always means "the head of this key's pending-insert
// chain, or 0 if none." Everything below this layer — node layout,
// splitting — exists only to keep that handle lookup
// ordered and cheap to scan via forEachHandle.
type pendingInsertIndex struct {
	buf      *buffer.Buffer
	data     []byte
	nextPage uint64
	freePage uint64
}

const (
	indexPageSize     = 4096
	maxHandlesPerNode = (indexPageSize / 16) - 1
	noKeySentinel     = uint64(math.MaxUint64 - 1)
	indexMinSize      = 1 << 20

	// Layout: [MetaPid | MetaInfo | Keys... | Handles...]
	metaPidIdx  = 0
	metaInfoIdx = 1
	metaOffset  = 2

	maskNumKeys = uint64(0xFFFFFFFF)
	bitLeaf     = uint64(1 << 63)
	maskBits    = uint64(0xFF00000000000000)
)

func keyOffset(i int) int    { return metaOffset + i }
func handleOffset(i int) int { return metaOffset + maxHandlesPerNode + i }

// newPendingInsertIndex returns an empty index with its root node
// already carved out of a fresh page-pool buffer.
func newPendingInsertIndex() *pendingInsertIndex {
	buf := bufferpool.GetSize(indexMinSize)
	buf.ReleaseFn = func() {
		bufferpool.Put(buf)
	}
	idx := &pendingInsertIndex{buf: buf}
	idx.reset()
	return idx
}

func (idx *pendingInsertIndex) reset() {
	idx.buf.Reset()
	idx.buf.AllocateOffset(indexMinSize)
	idx.data = idx.buf.Bytes()
	idx.nextPage = 1
	idx.freePage = 0
	idx.newEntryNode(0)
	// set, not setHandle: setHandle's guard rejects the sentinel itself.
	idx.set(1, noKeySentinel, 0)
}

func zeroOutUint64s(s []uint64) {
	for i := range s {
		s[i] = 0
	}
}

func getEntryNode(data []byte) entryNode {
	return entryNode(utils.BytesToUint64Slice(data))
}

func (idx *pendingInsertIndex) entryNodeAt(pid uint64) entryNode {
	if pid == 0 {
		return nil
	}
	start := indexPageSize * int(pid)
	return getEntryNode(idx.data[start : start+indexPageSize])
}

func (idx *pendingInsertIndex) newEntryNode(bit uint64) entryNode {
	var pid uint64
	if idx.freePage > 0 {
		pid = idx.freePage
	} else {
		pid = idx.nextPage
		idx.nextPage++
		offset := int(pid) * indexPageSize
		reqSize := offset + indexPageSize
		if reqSize > len(idx.data) {
			idx.buf.AllocateOffset(reqSize - len(idx.data))
			idx.data = idx.buf.Bytes()
		}
	}
	n := idx.entryNodeAt(pid)
	if idx.freePage > 0 {
		idx.freePage = n.uint64(0)
	}
	zeroOutUint64s(n)
	n.setBit(bit)
	n.setAt(metaPidIdx, pid)
	return n
}

// setHandle records key's pending-insert chain head, replacing
// whatever was there before. Key must be nonzero and below
// noKeySentinel.
func (idx *pendingInsertIndex) setHandle(key, handle uint64) {
	if key == 0 || key >= noKeySentinel {
		panic("pendingInsertIndex: key must be nonzero and below the sentinel")
	}
	root := idx.set(1, key, handle)
	if root.isFull() {
		right := idx.split(1)
		left := idx.newEntryNode(root.bits())
		root = idx.entryNodeAt(1)
		copy(left[:keyOffset(maxHandlesPerNode)], root)
		left.setNumKeys(root.numKeys())

		zeroOutUint64s(root)
		root.setNumKeys(0)

		root.set(left.maxKey(), left.pid())
		root.set(right.maxKey(), right.pid())
	}
}

func (idx *pendingInsertIndex) set(pid, key, handle uint64) entryNode {
	n := idx.entryNodeAt(pid)
	if n.isLeaf() {
		n.set(key, handle)
		return n
	}

	i := n.search(key)
	if n.key(i) == 0 {
		n.setAt(keyOffset(i), key)
		n.setNumKeys(n.numKeys() + 1)
	}
	child := idx.entryNodeAt(n.handle(i))
	if child == nil {
		child = idx.newEntryNode(bitLeaf)
		n = idx.entryNodeAt(pid)
		n.setAt(handleOffset(i), child.pid())
	}
	child = idx.set(child.pid(), key, handle)

	n = idx.entryNodeAt(pid)
	if child.isFull() {
		nn := idx.split(child.pid())
		n = idx.entryNodeAt(pid)
		child = idx.entryNodeAt(n.uint64(handleOffset(i)))
		n.set(child.maxKey(), child.pid())
		n.set(nn.maxKey(), nn.pid())
	}
	return n
}

// handleFor returns key's pending-insert chain head, or 0 if key has
// none.
func (idx *pendingInsertIndex) handleFor(key uint64) uint64 {
	if key == 0 || key >= noKeySentinel {
		panic("pendingInsertIndex: key must be nonzero and below the sentinel")
	}
	return idx.get(idx.entryNodeAt(1), key)
}

func (idx *pendingInsertIndex) get(n entryNode, key uint64) uint64 {
	if n.isLeaf() {
		return n.get(key)
	}
	i := n.search(key)
	if i == n.numKeys() || n.key(i) == 0 {
		return 0
	}
	child := idx.entryNodeAt(n.uint64(handleOffset(i)))
	if child == nil {
		panic("pendingInsertIndex: missing child")
	}
	return idx.get(child, key)
}

// forEachHandle visits every key with a live (non-zero) chain head, in
// ascending key order. If fn returns a non-zero handle, that becomes
// the key's new chain head; a zero return leaves the handle unchanged.
func (idx *pendingInsertIndex) forEachHandle(fn func(key, handle uint64) (newHandle uint64)) {
	idx.iterate(idx.entryNodeAt(1), func(n entryNode) {
		if !n.isLeaf() {
			return
		}
		for i := 0; i < n.numKeys(); i++ {
			key, handle := n.key(i), n.handle(i)
			if handle == 0 {
				continue
			}
			if newHandle := fn(key, handle); newHandle != 0 {
				n.setAt(handleOffset(i), newHandle)
			}
		}
	})
}

func (idx *pendingInsertIndex) iterate(n entryNode, fn func(entryNode)) {
	fn(n)
	if n.isLeaf() {
		return
	}
	for i := 0; i < maxHandlesPerNode; i++ {
		if n.key(i) == 0 {
			return
		}
		idx.iterate(idx.entryNodeAt(n.uint64(handleOffset(i))), fn)
	}
}

func (idx *pendingInsertIndex) split(pid uint64) entryNode {
	n := idx.entryNodeAt(pid)
	if !n.isFull() {
		panic("pendingInsertIndex: split called on non-full node")
	}

	nn := idx.newEntryNode(n.bits())
	n = idx.entryNodeAt(pid)

	copy(nn[keyOffset(0):], n[keyOffset(maxHandlesPerNode/2):keyOffset(maxHandlesPerNode)])
	copy(nn[handleOffset(0):], n[handleOffset(maxHandlesPerNode/2):handleOffset(maxHandlesPerNode)])
	nn.setNumKeys(maxHandlesPerNode - maxHandlesPerNode/2)

	zeroOutUint64s(n[keyOffset(maxHandlesPerNode/2):keyOffset(maxHandlesPerNode)])
	zeroOutUint64s(n[handleOffset(maxHandlesPerNode/2):handleOffset(maxHandlesPerNode)])
	n.setNumKeys(maxHandlesPerNode / 2)
	return nn
}

// entryNode is one page of the index: a struct-of-arrays slice of
// uint64s holding [pid | flags+count | keys... | handles...].
type entryNode []uint64

func (n entryNode) uint64(start int) uint64 { return n[start] }
func (n entryNode) pid() uint64             { return n.uint64(metaPidIdx) }
func (n entryNode) key(i int) uint64        { return n.uint64(keyOffset(i)) }
func (n entryNode) handle(i int) uint64     { return n.uint64(handleOffset(i)) }

func (n entryNode) setAt(start int, v uint64) { n[start] = v }

func (n entryNode) numKeys() int { return int(n[metaInfoIdx] & maskNumKeys) }

func (n entryNode) setNumKeys(num int) {
	n[metaInfoIdx] = (n[metaInfoIdx] & ^maskNumKeys) | uint64(num)
}

func (n entryNode) moveRight(lo int) {
	hi := n.numKeys()
	copy(n[keyOffset(lo+1):keyOffset(hi+1)], n[keyOffset(lo):keyOffset(hi)])
	copy(n[handleOffset(lo+1):handleOffset(hi+1)], n[handleOffset(lo):handleOffset(hi)])
}

func (n entryNode) setBit(b uint64) { n[metaInfoIdx] |= b }
func (n entryNode) bits() uint64    { return n[metaInfoIdx] & maskBits }
func (n entryNode) isLeaf() bool    { return n.bits()&bitLeaf > 0 }
func (n entryNode) isFull() bool    { return n.numKeys() == maxHandlesPerNode }

// search returns the index of the smallest key >= key in this node.
func (n entryNode) search(key uint64) int {
	N := n.numKeys()
	if N < 4 {
		for i := 0; i < N; i++ {
			if n.key(i) >= key {
				return i
			}
		}
		return N
	}
	lo, hi := 0, N
	for lo < hi {
		mid := (lo + hi) / 2
		if n.key(mid) < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (n entryNode) maxKey() uint64 {
	idx := n.numKeys()
	if idx > 0 {
		idx--
	}
	return n.key(idx)
}

func (n entryNode) get(key uint64) uint64 {
	i := n.search(key)
	if i == n.numKeys() {
		return 0
	}
	if n.key(i) == key {
		return n.handle(i)
	}
	return 0
}

func (n entryNode) set(key, handle uint64) {
	i := n.search(key)
	ki := n.key(i)
	if ki > key {
		n.moveRight(i)
	}
	if ki != key {
		n.setNumKeys(n.numKeys() + 1)
	}
	if ki == 0 || ki >= key {
		n.setAt(keyOffset(i), key)
		n.setAt(handleOffset(i), handle)
		return
	}
	panic("pendingInsertIndex: set reached unreachable branch")
}
