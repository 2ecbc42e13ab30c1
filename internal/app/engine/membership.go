package engine

import (
	"sync"
	"sync/atomic"
)

// cowList is a copy-on-write slice. Readers get a complete snapshot without
// locking; writers serialise on mu and publish a fresh slice.
type cowList[T comparable] struct {
	mu sync.Mutex
	p  atomic.Pointer[[]T]
}

func (l *cowList[T]) Load() []T {
	if p := l.p.Load(); p != nil {
		return *p
	}
	return nil
}

// Add appends v unless it is already present.
func (l *cowList[T]) Add(v T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.Load()
	for _, x := range cur {
		if x == v {
			return false
		}
	}
	next := make([]T, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, v)
	l.p.Store(&next)
	return true
}

// Remove drops v and reports whether it was present.
func (l *cowList[T]) Remove(v T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.Load()
	for i, x := range cur {
		if x != v {
			continue
		}
		next := make([]T, 0, len(cur)-1)
		next = append(next, cur[:i]...)
		next = append(next, cur[i+1:]...)
		l.p.Store(&next)
		return true
	}
	return false
}
