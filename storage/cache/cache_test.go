package cache

import (
	"strata/storage"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(i uint64, payload string) *storage.Entry {
	return &storage.Entry{
		Index:     i,
		Payload:   []byte(payload),
		Checksum:  storage.Checksum([]byte(payload)),
		Timestamp: time.Now(),
	}
}

func TestEntryCachePutGet(t *testing.T) {
	c, err := New(1 << 20)
	require.NoError(t, err)
	defer c.Close()

	c.Put(entry(1, "one"))
	c.c.Wait()

	got, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, []byte("one"), got.Payload)

	// Callers may mutate what they get back.
	got.Payload[0] = 'X'
	again, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, []byte("one"), again.Payload)

	_, ok = c.Get(2)
	assert.False(t, ok)
}

func TestEntryCachePurge(t *testing.T) {
	c, err := New(1 << 20)
	require.NoError(t, err)
	defer c.Close()

	for i := uint64(1); i <= 10; i++ {
		c.Put(entry(i, "payload"))
	}
	c.c.Wait()

	c.Purge()

	for i := uint64(1); i <= 10; i++ {
		_, ok := c.Get(i)
		assert.False(t, ok)
	}
}

func TestEntryCacheResize(t *testing.T) {
	c, err := New(1 << 20)
	require.NoError(t, err)
	defer c.Close()

	c.Resize(1 << 10)
	assert.Equal(t, int64(1<<10), c.c.MaxCost())
}

func TestNewRejectsZeroCapacity(t *testing.T) {
	_, err := New(0)
	require.Error(t, err)
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	c.Put(entry(1, "x"))

	_, ok := c.Get(1)
	assert.False(t, ok)
}
