// Package requestcache provides a memoization cache whose lifetime is
// bound to one inbound request. The cache travels in the request's
// context.Context, so ownership expires with the request and no teardown
// call is needed; it never leaks across requests.
package requestcache

import (
	"context"
	"fmt"
	"sync"
)

type contextKey struct{}

// Cache deduplicates units of work within a single request. Concurrent
// callers of Do with the same key join one in-flight invocation and all
// observe its result.
type Cache struct {
	mu      sync.Mutex
	entries map[any]*entry
}

type entry struct {
	done chan struct{}
	val  any
	err  error
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[any]*entry)}
}

// NewContext returns a copy of ctx carrying a fresh Cache. It should be
// called once at request entry.
func NewContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKey{}, New())
}

// FromContext returns the Cache carried by ctx, or nil and false when the
// context is not request-scoped.
func FromContext(ctx context.Context) (*Cache, bool) {
	c, ok := ctx.Value(contextKey{}).(*Cache)
	return c, ok
}

// Do invokes fn at most once per key. The key must be comparable; callers
// use composite struct keys to scope entries to (flag, entities) tuples.
// The in-flight entry is published before fn runs, so concurrent callers
// block on the same result instead of re-invoking fn.
func (c *Cache) Do(key any, fn func() (any, error)) (any, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		<-e.done
		return e.val, e.err
	}
	e := &entry{done: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	// The entry must be closed even if fn panics, or every waiter on
	// this key would block forever. The panic still propagates to the
	// caller that ran fn; waiters observe it as an error.
	defer func() {
		if r := recover(); r != nil {
			e.err = fmt.Errorf("requestcache: computation panicked: %v", r)
			close(e.done)
			panic(r)
		}
		close(e.done)
	}()

	e.val, e.err = fn()
	return e.val, e.err
}
