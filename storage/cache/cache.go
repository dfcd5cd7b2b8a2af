// Package cache holds decoded log entries keyed by record index.
//
// The cache never decides correctness: a miss only costs a segment read.
package cache

import (
	"strata/storage"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"
)

// Cache is the read-side collaborator of the log.
type Cache interface {
	Get(index uint64) (*storage.Entry, bool)
	Put(e *storage.Entry)
	// Resize changes the capacity in bytes.
	Resize(capacity int64)
	// Purge drops everything, used after the log is truncated.
	Purge()
	Close()
}

// EntryCache is a bounded cache backed by ristretto. Cost is the payload
// size plus a fixed per-entry overhead.
type EntryCache struct {
	c *ristretto.Cache[uint64, *storage.Entry]
}

const entryOverhead = 64

func New(capacity int64) (*EntryCache, error) {
	if capacity <= 0 {
		return nil, errors.Errorf("cache capacity must be positive, got %d", capacity)
	}

	// ristretto recommends ten counters per expected item; assume ~1KB entries.
	counters := capacity / 1024 * 10
	if counters < 1000 {
		counters = 1000
	}

	c, err := ristretto.NewCache(&ristretto.Config[uint64, *storage.Entry]{
		NumCounters: counters,
		MaxCost:     capacity,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create entry cache")
	}

	return &EntryCache{c: c}, nil
}

func (c *EntryCache) Get(index uint64) (*storage.Entry, bool) {
	e, ok := c.c.Get(index)
	if !ok || e.Index != index {
		return nil, false
	}

	return e.Clone(), true
}

func (c *EntryCache) Put(e *storage.Entry) {
	c.c.Set(e.Index, e.Clone(), int64(len(e.Payload))+entryOverhead)
}

func (c *EntryCache) Resize(capacity int64) {
	c.c.UpdateMaxCost(capacity)
}

func (c *EntryCache) Purge() {
	c.c.Wait()
	c.c.Clear()
}

func (c *EntryCache) Close() {
	c.c.Close()
}

// Nop is used when caching is disabled.
type Nop struct{}

func (Nop) Get(uint64) (*storage.Entry, bool) { return nil, false }
func (Nop) Put(*storage.Entry)                {}
func (Nop) Resize(int64)                      {}
func (Nop) Purge()                            {}
func (Nop) Close()                            {}
