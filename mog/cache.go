package mog

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultMetadataCacheSize is the number of container headers kept.
const DefaultMetadataCacheSize = 16

// mogFuture is the pending or finished header fetch of one container.
// A nil mog after done means the container is absent.
type mogFuture struct {
	done chan struct{}
	mog  *Mog
}

func newMogFuture() *mogFuture {
	return &mogFuture{done: make(chan struct{})}
}

func (f *mogFuture) complete(m *Mog) {
	f.mog = m
	close(f.done)
}

// wait blocks until the fetch finishes or ctx ends.
func (f *mogFuture) wait(ctx context.Context) (*Mog, bool) {
	select {
	case <-f.done:
		return f.mog, f.mog != nil
	case <-ctx.Done():
		return nil, false
	}
}

// metadataCache maps container URLs to their header fetch. Lookups and
// insertions share one lock so a URL never has two fetches in flight.
// Evicting a pending future only hides it from later lookups; whoever holds
// it still gets the result.
type metadataCache struct {
	mu      sync.Mutex
	entries *lru.Cache
}

func newMetadataCache(size int) (*metadataCache, error) {
	if size <= 0 {
		size = DefaultMetadataCacheSize
	}
	entries, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &metadataCache{entries: entries}, nil
}

// getOrCreate returns the future registered for url, registering a new one
// when there is none. created tells the caller it must run the fetch.
func (c *metadataCache) getOrCreate(url string) (f *mogFuture, created bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.entries.Get(url); ok {
		return v.(*mogFuture), false
	}
	f = newMogFuture()
	c.entries.Add(url, f)
	return f, true
}

// forget drops url if it still maps to f.
func (c *metadataCache) forget(url string, f *mogFuture) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.entries.Peek(url); ok && v.(*mogFuture) == f {
		c.entries.Remove(url)
	}
}

func (c *metadataCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
