// Package featcache keeps recently used feature vectors in memory, keyed by
// item id, so repeated training rounds skip the feature extractor.
package featcache

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// DefaultSize is the number of vectors kept when no size is configured.
const DefaultSize = 4096

// Cache is a fixed-size LRU of feature vectors. It is safe for concurrent
// use. A nil *Cache caches nothing.
type Cache struct {
	lru *lru.Cache
	dim int
}

// New creates a cache holding at most size vectors of dimension dim. A
// size of zero disables caching and returns nil.
func New(size, dim int) (*Cache, error) {
	if size < 0 {
		return nil, errors.Errorf("featcache: negative size %d", size)
	}
	if size == 0 {
		return nil, nil
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "featcache")
	}
	return &Cache{lru: c, dim: dim}, nil
}

// Get returns a copy of the vector cached for id.
func (c *Cache) Get(id string) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.lru.Get(id)
	if !ok {
		return nil, false
	}
	vec := v.([]float32)
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true
}

// Add stores a copy of vec for id. Vectors of the wrong dimension are
// rejected so a cache never mixes backbones.
func (c *Cache) Add(id string, vec []float32) error {
	if c == nil {
		return nil
	}
	if len(vec) != c.dim {
		return errors.Errorf("featcache: vector for %q has %d features, want %d", id, len(vec), c.dim)
	}
	stored := make([]float32, len(vec))
	copy(stored, vec)
	c.lru.Add(id, stored)
	return nil
}

// Len returns the number of cached vectors.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

// Purge drops every cached vector.
func (c *Cache) Purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

// Dim returns the vector dimension the cache accepts.
func (c *Cache) Dim() int {
	if c == nil {
		return 0
	}
	return c.dim
}
