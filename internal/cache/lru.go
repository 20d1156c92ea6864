package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/ratedesk/internal/domain"
)

const defaultMaxSize = 10000

// LRUCache is a bounded in-process cache with per-entry expiry.
type LRUCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
	now     func() time.Time
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewLRUCache creates a cache holding at most maxSize entries.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	return &LRUCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get returns nil, nil on a miss or an expired entry.
func (c *LRUCache) Get(_ context.Context, tenantID, key string) ([]byte, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[tenantID+":"+key]
	if !ok {
		return nil, nil
	}
	e := elem.Value.(*entry)
	if c.now().After(e.expiresAt) {
		c.remove(elem)
		return nil, nil
	}
	c.order.MoveToFront(elem)
	return e.value, nil
}

// Set stores value until ttl elapses, evicting the least recently used
// entries beyond capacity.
func (c *LRUCache) Set(_ context.Context, tenantID, key string, value []byte, ttl time.Duration) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	full := tenantID + ":" + key
	expires := c.now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[full]; ok {
		e := elem.Value.(*entry)
		e.value, e.expiresAt = value, expires
		c.order.MoveToFront(elem)
		return nil
	}

	c.items[full] = c.order.PushFront(&entry{key: full, value: value, expiresAt: expires})
	for c.order.Len() > c.maxSize {
		c.remove(c.order.Back())
	}
	return nil
}

func (c *LRUCache) Delete(_ context.Context, tenantID, key string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[tenantID+":"+key]; ok {
		c.remove(elem)
	}
	return nil
}

func (c *LRUCache) GetOptionSet(ctx context.Context, tenantID, kind string) ([]domain.MasterOption, error) {
	return getOptionSet(ctx, c, tenantID, kind)
}

func (c *LRUCache) SetOptionSet(ctx context.Context, tenantID, kind string, set []domain.MasterOption, ttl time.Duration) error {
	return setOptionSet(ctx, c, tenantID, kind, set, ttl)
}

func (c *LRUCache) Ping(context.Context) error { return nil }

// Close drops every entry.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	return nil
}

// Stats returns the number of entries and the capacity.
func (c *LRUCache) Stats() (size, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.maxSize
}

func (c *LRUCache) remove(elem *list.Element) {
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*entry).key)
}
