package ingest

import (
	"sort"
	"sync"
)

// traceLocks serializes writers per trace. Entries are reference-counted and
// removed once the last holder releases, so the map does not grow with the
// number of traces ever seen.
type traceLocks struct {
	mu    sync.Mutex
	locks map[string]*traceLock
}

type traceLock struct {
	mu   sync.Mutex
	refs int
}

func newTraceLocks() *traceLocks {
	return &traceLocks{locks: make(map[string]*traceLock)}
}

func (tl *traceLocks) lock(traceID string) {
	tl.mu.Lock()
	l, ok := tl.locks[traceID]
	if !ok {
		l = &traceLock{}
		tl.locks[traceID] = l
	}
	l.refs++
	tl.mu.Unlock()

	l.mu.Lock()
}

func (tl *traceLocks) unlock(traceID string) {
	tl.mu.Lock()
	l := tl.locks[traceID]
	l.refs--
	if l.refs == 0 {
		delete(tl.locks, traceID)
	}
	tl.mu.Unlock()

	l.mu.Unlock()
}

// lockAll acquires the write section for every given trace in sorted ID
// order, so two batches touching overlapping trace sets cannot deadlock.
// The returned release function unlocks in reverse order.
func (tl *traceLocks) lockAll(traceIDs []string) (release func()) {
	ids := make([]string, len(traceIDs))
	copy(ids, traceIDs)
	sort.Strings(ids)

	for _, id := range ids {
		tl.lock(id)
	}
	return func() {
		for i := len(ids) - 1; i >= 0; i-- {
			tl.unlock(ids[i])
		}
	}
}
