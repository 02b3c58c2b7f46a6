package inference

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUCache is a process-local Cache implementation keyed by
// (signature_hash, stack_descriptor). Its lifetime is that of the Engine
// holding it: the cmd binaries build one at startup, so in the worker every
// run the process handles shares the same cache.
type LRUCache struct {
	inner *lru.Cache[string, string]
}

// NewLRUCache builds an in-process synthesis cache holding up to size
// entries.
func NewLRUCache(size int) (*LRUCache, error) {
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{inner: c}, nil
}

func (c *LRUCache) Get(_ context.Context, key string) (string, bool) {
	return c.inner.Get(key)
}

func (c *LRUCache) Set(_ context.Context, key string, source string) {
	c.inner.Add(key, source)
}
