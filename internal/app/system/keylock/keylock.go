// internal/app/system/keylock/keylock.go
//
// Package keylock serializes work per subject ("order:<id>", "group:<id>")
// inside one process. Keys are reference counted and dropped when unused.
package keylock

import (
	"context"
	"sync"
)

type entry struct {
	ch   chan struct{}
	refs int
}

// Locker hands out exclusive locks keyed by string.
type Locker struct {
	mu   sync.Mutex
	keys map[string]*entry
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{keys: make(map[string]*entry)}
}

// Lock blocks until key is free or ctx is done. The returned func releases
// the lock and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.keys[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
	}, nil
}

func (l *Locker) release(key string, e *entry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
	l.mu.Unlock()
}

// Len returns the number of keys currently held or waited on.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// OrderKey is the lock key for an order id (hex).
func OrderKey(id string) string { return "order:" + id }

// GroupKey is the lock key for a group id (hex).
func GroupKey(id string) string { return "group:" + id }
