package reader

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache keeps recently fetched transcripts so repeated links in a group do
// not hit the platform again. A nil *Cache disables caching.
type Cache struct {
	lru *expirable.LRU[string, []string]
}

// NewCache returns a cache of at most size transcripts kept for ttl.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		return nil
	}
	return &Cache{lru: expirable.NewLRU[string, []string](size, nil, ttl)}
}

func (c *Cache) get(platform, id string) ([]string, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(platform + ":" + id)
}

func (c *Cache) add(platform, id string, chunks []string) {
	if c == nil {
		return
	}
	c.lru.Add(platform+":"+id, chunks)
}

// Len reports the number of cached transcripts.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
