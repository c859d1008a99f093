package blobstore

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

var _ Store = (*Cached)(nil)

// Cached is a read-through LRU in front of a Store. Blobs are immutable, so
// entries never go stale. Blobs larger than maxItemBytes are not cached.
type Cached struct {
	next         Store
	cache        *lru.Cache[string, []byte]
	maxItemBytes int
	group        singleflight.Group
}

func NewCached(next Store, size, maxItemBytes int) (*Cached, error) {
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &Cached{next: next, cache: c, maxItemBytes: maxItemBytes}, nil
}

func (c *Cached) Put(ctx context.Context, data []byte) (string, error) {
	id, err := c.next.Put(ctx, data)
	if err != nil {
		return "", err
	}
	if len(data) <= c.maxItemBytes {
		c.cache.Add(id, append([]byte(nil), data...))
	}
	return id, nil
}

func (c *Cached) Get(ctx context.Context, id string) ([]byte, error) {
	if b, ok := c.cache.Get(id); ok {
		return append([]byte(nil), b...), nil
	}

	v, err, _ := c.group.Do(id, func() (any, error) {
		b, err := c.next.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(b) <= c.maxItemBytes {
			c.cache.Add(id, b)
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), v.([]byte)...), nil
}

func (c *Cached) Ping(ctx context.Context) error {
	return c.next.Ping(ctx)
}

// Len returns the number of cached blobs.
func (c *Cached) Len() int {
	return c.cache.Len()
}
