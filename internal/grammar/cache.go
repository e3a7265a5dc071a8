package grammar

import (
	"sync"
	"sync/atomic"
)

// Cache holds the current document of each backend.
//
// Reads are lock-free. Publish only ever moves a backend forward: a
// document whose revision is not newer than the cached one is discarded.
type Cache struct {
	mu    sync.Mutex // guards slots creation only
	slots map[string]*atomic.Pointer[Document]
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{slots: make(map[string]*atomic.Pointer[Document])}
}

func (c *Cache) slot(backend string) *atomic.Pointer[Document] {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.slots[backend]
	if !ok {
		p = new(atomic.Pointer[Document])
		c.slots[backend] = p
	}
	return p
}

// Get returns the cached document for a backend, or nil.
func (c *Cache) Get(backend string) *Document {
	return c.slot(backend).Load()
}

// Publish installs doc unless an equal or newer revision is already cached.
// It returns the document now cached and whether doc was installed.
func (c *Cache) Publish(doc *Document) (*Document, bool) {
	p := c.slot(doc.Backend)
	for {
		cur := p.Load()
		if cur != nil && cur.Revision >= doc.Revision {
			return cur, false
		}
		if p.CompareAndSwap(cur, doc) {
			return doc, true
		}
	}
}
