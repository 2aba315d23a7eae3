package snapshot

import (
	"sync"
)

// Change describes a snapshot swap: the new ETag and the rule IDs whose
// content changed or disappeared relative to the previous snapshot.
type Change struct {
	ETag    string
	Changed []string
}

type subCh = chan Change

var (
	mu   sync.Mutex
	subs = make(map[subCh]struct{})
)

// Subscribe registers a listener and returns its channel and an unsubscribe
// func. Calling unsubscribe more than once is a no-op.
func Subscribe() (<-chan Change, func()) {
	ch := make(subCh, 1)
	mu.Lock()
	subs[ch] = struct{}{}
	mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			mu.Lock()
			delete(subs, ch)
			close(ch)
			mu.Unlock()
		})
	}
	return ch, unsub
}

// publishUpdate notifies all listeners without blocking on slow ones.
func publishUpdate(c Change) {
	mu.Lock()
	for ch := range subs {
		select {
		case ch <- c:
		default: // slow listener keeps its pending change
		}
	}
	mu.Unlock()
}
