package monitor

import (
	"sync"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// keyedMutex hands out one mutex per target id. Entries are dropped when unused.
type keyedMutex struct {
	mu sync.Mutex
	m  map[domain.TargetID]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(id domain.TargetID) (unlock func()) {
	k.mu.Lock()
	if k.m == nil {
		k.m = make(map[domain.TargetID]*keyedEntry)
	}
	e, ok := k.m[id]
	if !ok {
		e = &keyedEntry{}
		k.m[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.m, id)
		}
		k.mu.Unlock()
	}
}
