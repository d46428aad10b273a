package commit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManager_LowestActiveVersion_NoActiveReturnsNextCounter(t *testing.T) {
	m := New()
	assert.Equal(t, uint64(1), m.LowestActiveVersion())

	v := m.StartTransaction()
	assert.Equal(t, uint64(1), v)
	m.CommitTransaction(v)

	assert.Equal(t, uint64(2), m.LowestActiveVersion())
}

func TestManager_LowestActiveVersion_TracksMinimumOfActive(t *testing.T) {
	m := New()
	v1 := m.StartTransaction()
	v2 := m.StartTransaction()
	v3 := m.StartTransaction()
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{v1, v2, v3})

	assert.Equal(t, v1, m.LowestActiveVersion())

	m.CommitTransaction(v1)
	assert.Equal(t, v2, m.LowestActiveVersion())

	m.CommitTransaction(v3)
	assert.Equal(t, v2, m.LowestActiveVersion())

	m.CommitTransaction(v2)
	assert.Equal(t, uint64(4), m.LowestActiveVersion())
}

func TestManager_PinVersion_SharedByMultipleReaders(t *testing.T) {
	m := New()
	v := m.StartTransaction()
	m.PinVersion(v)
	m.PinVersion(v)

	assert.Equal(t, 1, m.ActiveCount())

	m.CommitTransaction(v)
	assert.Equal(t, v, m.LowestActiveVersion(), "still pinned twice more")

	m.CommitTransaction(v)
	assert.Equal(t, v, m.LowestActiveVersion(), "still pinned once more")

	m.CommitTransaction(v)
	assert.Equal(t, uint64(2), m.LowestActiveVersion())
}

func TestManager_LowestActiveVersion_Monotonic(t *testing.T) {
	m := New()
	var observed []uint64
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := m.StartTransaction()
			mu.Lock()
			observed = append(observed, m.LowestActiveVersion())
			mu.Unlock()
			m.CommitTransaction(v)
		}()
	}
	wg.Wait()

	assert.IsNonDecreasing(t, observed)
	final := m.LowestActiveVersion()
	assert.Equal(t, uint64(21), final)
}

func TestManager_CommitTransaction_UnknownVersionIsNoOp(t *testing.T) {
	m := New()
	m.CommitTransaction(999)
	assert.Equal(t, uint64(1), m.LowestActiveVersion())
}
