package orchestrator

import (
	"container/list"
	"hash/fnv"
	"sync"
)

// dedupCapacity bounds the per-orchestrator LRU of recent result hashes,
// guarding against the same text reaching a sink twice when a backend's
// retry actually succeeded after the caller had already given up and
// treated it as failed.
const dedupCapacity = 512

// dedupCache is a bounded LRU keyed by an fnv hash of (source, text).
type dedupCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[uint64]*list.Element
}

func newDedupCache(capacity int) *dedupCache {
	if capacity <= 0 {
		capacity = dedupCapacity
	}
	return &dedupCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[uint64]*list.Element),
	}
}

// SeenBefore reports whether (source, text) was already recorded, and
// records it (refreshing its LRU position) regardless of the outcome.
func (c *dedupCache) SeenBefore(source, text string) bool {
	if text == "" {
		return false
	}
	key := hashKey(source, text)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		return true
	}

	el := c.ll.PushFront(key)
	c.items[key] = el
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(uint64))
		}
	}
	return false
}

func hashKey(source, text string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(source))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(text))
	return h.Sum64()
}
