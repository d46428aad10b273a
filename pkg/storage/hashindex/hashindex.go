// Package hashindex provides the primary hash index: the concrete
// rowstore.HashTableModifier backing a running engine, a sharded map
// of key to location guarded by a bloom-filter doorkeeper so a miss the
// doorkeeper rules out never has to touch the sharded map.
package hashindex

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/deltamain/storeengine/pkg/datastructs/bloom"
	"github.com/deltamain/storeengine/pkg/storage/rowstore"
	"github.com/deltamain/storeengine/pkg/utils"
)

// Options configures an Index.
type Options struct {
	// Shards is the location table's shard count, rounded up to a power
	// of two; zero takes a default of 256.
	Shards int
	// Capacity is the expected key count, sizing the doorkeeper.
	Capacity uint64
	// FalsePositiveRate is the doorkeeper's target false-positive rate.
	// Zero takes a 1% default.
	FalsePositiveRate float64
	Logger            *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Capacity == 0 {
		o.Capacity = 1 << 20
	}
	if o.FalsePositiveRate <= 0 {
		o.FalsePositiveRate = 0.01
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// locationShard is one lock-guarded partition of the key space. The
// padding keeps each shard on its own cache line so two goroutines
// hammering different shards never bounce the same line back and
// forth.
type locationShard struct {
	sync.RWMutex
	data map[uint64]rowstore.Location
	pad  [64]byte
}

// shardedLocations is the key -> rowstore.Location table Index keeps
// behind its doorkeeper: sharded by keyHash so concurrent GC/insert
// traffic against unrelated keys never contends on the same lock, the
// same shape as a striped concurrent map but fixed to this package's
// one key/value pair instead of a reusable generic container.
type shardedLocations struct {
	shards []*locationShard
	mask   uint64
}

func newShardedLocations(shards int) *shardedLocations {
	if shards <= 0 {
		shards = 256
	}
	numShards := utils.CeilToPowerOfTwo(shards)
	s := &shardedLocations{
		shards: make([]*locationShard, numShards),
		mask:   uint64(numShards - 1),
	}
	for i := range s.shards {
		s.shards[i] = &locationShard{data: make(map[uint64]rowstore.Location)}
	}
	return s
}

func (s *shardedLocations) shardFor(key uint64) *locationShard {
	return s.shards[keyHash(key)&s.mask]
}

func (s *shardedLocations) get(key uint64) (rowstore.Location, bool) {
	shard := s.shardFor(key)
	shard.RLock()
	loc, ok := shard.data[key]
	shard.RUnlock()
	return loc, ok
}

func (s *shardedLocations) set(key uint64, loc rowstore.Location) {
	shard := s.shardFor(key)
	shard.Lock()
	shard.data[key] = loc
	shard.Unlock()
}

func (s *shardedLocations) del(key uint64) {
	shard := s.shardFor(key)
	shard.Lock()
	delete(shard.data, key)
	shard.Unlock()
}

// len is not atomic across shards: it locks and sums one shard at a
// time, so a concurrent writer can make the total stale the instant
// after it's read.
func (s *shardedLocations) len() int {
	total := 0
	for _, shard := range s.shards {
		shard.RLock()
		total += len(shard.data)
		shard.RUnlock()
	}
	return total
}

// Index is the concrete rowstore.HashTableModifier: a sharded map from
// key to rowstore.Location, with a bloom filter doorkeeper consulted
// first on every Get so a guaranteed-absent key never pays for a
// sharded-map lookup.
type Index struct {
	locations  *shardedLocations
	doorkeeper *bloom.Bloom
	opts       Options
}

// New constructs an Index. Returns an error if the doorkeeper's
// parameters are invalid (a false positive rate of 1 or more; a zero
// capacity or a non-positive rate is replaced by its default first),
// the one way this collaborator can fail that the
// core's own components cannot.
func New(opts Options) (*Index, error) {
	opts = opts.withDefaults()
	doorkeeper, err := bloom.New(opts.Capacity, opts.FalsePositiveRate)
	if err != nil {
		return nil, errors.Wrap(err, "hashindex: constructing doorkeeper")
	}
	return &Index{
		locations:  newShardedLocations(opts.Shards),
		doorkeeper: doorkeeper,
		opts:       opts,
	}, nil
}

// keyHash mixes key through xxhash for shard placement and doorkeeper
// membership. A plain cache's two-return KeyToHash (content hash plus
// a cheap conflict hash) doesn't fit here: every key already arrives
// as a unique uint64 row key, so there is no collision check to carry
// a second hash for — one stable 64-bit mix is all sharding and the
// doorkeeper ever need.
func keyHash(key uint64) uint64 {
	return xxhash.Sum64(utils.Uint64ToBytes(key))
}

// Insert implements rowstore.HashTableModifier. isRelocation is
// accepted for interface conformance and to let callers enforce the
// GC/insert distinction (see rowstore's fakeIndex in tests); this
// implementation's own behavior doesn't depend on it; either way, the
// location is written and the doorkeeper learns about the key.
func (idx *Index) Insert(key uint64, loc rowstore.Location, isRelocation bool) {
	idx.locations.set(key, loc)
	idx.doorkeeper.Add(keyHash(key))
}

// Get implements rowstore.HashTableModifier. A doorkeeper negative is
// conclusive; a positive still falls through to the location table,
// since the doorkeeper can false-positive but never false-negative.
func (idx *Index) Get(key uint64) (rowstore.Location, bool) {
	if !idx.doorkeeper.Has(keyHash(key)) {
		return rowstore.Location{}, false
	}
	return idx.locations.get(key)
}

// Delete removes key's location entirely. Unlike Insert/Get, this has
// no rowstore.HashTableModifier counterpart — GC never deletes a key
// outright, it only relocates or folds inserts — but a caller outside
// the core's scope (e.g. a future delete-record path) needs a way to
// retract a key once its last version is gone. Left un-exercised by
// rowstore's GC/FillWithInserts on purpose.
func (idx *Index) Delete(key uint64) {
	idx.locations.del(key)
}

// Len returns the number of keys currently indexed.
func (idx *Index) Len() int {
	return idx.locations.len()
}
