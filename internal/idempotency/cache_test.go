package idempotency

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStoreAndLookup(t *testing.T) {
	c := New(1024, time.Minute)
	defer c.Close()

	_, found := c.Lookup("req-1")
	assert.False(t, found)

	c.Store("req-1", "resp-1")
	got, found := c.Lookup("req-1")
	assert.True(t, found)
	assert.Equal(t, "resp-1", got)
}

func TestLookupExpiresAfterRetention(t *testing.T) {
	c := New(1024, 20*time.Millisecond)
	defer c.Close()

	c.Store("req-1", "resp-1")
	time.Sleep(40 * time.Millisecond)

	_, found := c.Lookup("req-1")
	assert.False(t, found)
}

func TestEvictionEnforcesMaxEntries(t *testing.T) {
	c := New(5, time.Hour)
	defer c.Close()

	for i := 0; i < 20; i++ {
		c.Store(fmt.Sprintf("req-%d", i), fmt.Sprintf("resp-%d", i))
		time.Sleep(time.Millisecond)
	}
	c.evict()

	count := 0
	c.data.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	assert.LessOrEqual(t, count, 5)

	// The most recently stored entries should have survived eviction.
	_, found := c.Lookup("req-19")
	assert.True(t, found)
	_, found = c.Lookup("req-0")
	assert.False(t, found)
}
