package storelog

import (
	"github.com/deltamain/storeengine/pkg/storage/arena"
)

// immediateReclaimer runs its deferred closure synchronously. Tests don't
// need epoch tracking; the concrete epoch-based Reclaimer lives in its own
// package with its own tests.
type immediateReclaimer struct{}

func (immediateReclaimer) Defer(closure func()) {
	closure()
}

func newTestPageManager(pageSize, pageCount int) *arena.PageManager {
	return arena.NewPageManager(arena.Options{PageSize: pageSize, PageCount: pageCount})
}
