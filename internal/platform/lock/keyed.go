// Package lock provides the per-claim serialization point: all workflow
// events for one claim acquire the claim's lock before touching state, so
// concurrent events on the same claim apply one at a time while claims from
// different hospitals proceed in parallel.
package lock

import (
	"context"
	"sync"
)

// Locker serializes work on a string key. Acquire blocks until the key's
// lock is held or ctx is done; the returned release function must be called
// exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type keyedEntry struct {
	sem  chan struct{}
	refs int
}

// Keyed is an in-process Locker backed by a refcounted table of one-slot
// semaphores, so blocked waiters can give up when their context ends.
// Suitable for single-instance deployments; use the redis Locker when
// running more than one instance against the same database.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[string]*keyedEntry)}
}

func (k *Keyed) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{sem: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		k.unref(key, e)
		return nil, ctx.Err()
	}

	release := func() {
		<-e.sem
		k.unref(key, e)
	}
	return release, nil
}

func (k *Keyed) unref(key string, e *keyedEntry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()
}
