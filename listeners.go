package typedb

import (
	"sort"
	"sync"
)

// listenerSet is an explicit subscribe/unsubscribe registry. Removing a
// listener while the set fires is safe: fire works on a snapshot.
type listenerSet struct {
	mu   sync.Mutex
	next int
	fns  map[int]func()
}

// add registers fn and returns a function that removes it. The returned
// function may be called more than once.
func (l *listenerSet) add(fn func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func())
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

func (l *listenerSet) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}

// fire calls every registered listener in registration order.
func (l *listenerSet) fire() {
	l.mu.Lock()
	ids := make([]int, 0, len(l.fns))
	snapshot := make(map[int]func(), len(l.fns))
	for id, fn := range l.fns {
		ids = append(ids, id)
		snapshot[id] = fn
	}
	l.mu.Unlock()

	sort.Ints(ids)
	for _, id := range ids {
		snapshot[id]()
	}
}
