package condition

import (
	"container/list"
	"sync"

	"github.com/google/cel-go/cel"
)

// DefaultCacheSize bounds the compiled-program cache when the configuration
// leaves it unset.
const DefaultCacheSize = 1024

// programCache is an LRU of compiled programs keyed by normalized condition
// and the dynamically declared names it was compiled with.
type programCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
}

type programEntry struct {
	key string
	prg cel.Program
}

func newProgramCache(maxSize int) *programCache {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	return &programCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (c *programCache) get(key string) (cel.Program, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*programEntry).prg, true
}

func (c *programCache) put(key string, prg cel.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*programEntry).prg = prg
		c.order.MoveToFront(elem)
		return
	}

	for c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*programEntry).key)
	}
	c.items[key] = c.order.PushFront(&programEntry{key: key, prg: prg})
}

func (c *programCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
