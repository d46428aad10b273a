// Package locks provides small lock primitives used where a full mutex is
// overkill, e.g. guarding a short bitset update in a bloom filter.
package locks

import (
	"runtime"
	"sync"
	"sync/atomic"

	pkgruntime "github.com/deltamain/storeengine/pkg/runtime"
)

const (
	spinCycles = 4
	spinTries  = 30
)

// SpinLock is a sync.Locker backed by a CAS flag with adaptive backoff,
// same shape as the spin/yield pattern used by the MPMC queue.
type SpinLock struct {
	locked atomic.Bool
}

// NewSpinLock returns a ready-to-use SpinLock satisfying sync.Locker.
func NewSpinLock() sync.Locker {
	return &SpinLock{}
}

func (l *SpinLock) Lock() {
	spin := 0
	for !l.locked.CompareAndSwap(false, true) {
		if spin < spinTries {
			pkgruntime.Procyield(spinCycles)
			spin++
			continue
		}
		runtime.Gosched()
		spin = 0
	}
}

func (l *SpinLock) Unlock() {
	l.locked.Store(false)
}

func (l *SpinLock) TryLock() bool {
	return l.locked.CompareAndSwap(false, true)
}
