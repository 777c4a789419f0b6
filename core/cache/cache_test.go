package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueryCache(t *testing.T) {
	c := New(time.Minute)
	c.Set("profile", 1)
	c.Set("profile/avatar", 2)
	c.Set("profiles", 3)
	c.Set("/attendance", 4)

	v, ok := c.Get("profile")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	c.Invalidate("profile")
	_, ok = c.Get("profile")
	assert.False(t, ok)
	_, ok = c.Get("profile/avatar")
	assert.False(t, ok)
	_, ok = c.Get("profiles")
	assert.True(t, ok, "only nested keys are invalidated")
	assert.Equal(t, 2, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok = c.Get("/attendance")
	assert.False(t, ok)
}

func TestQueryCache_expiry(t *testing.T) {
	c := New(20 * time.Millisecond)
	c.Set("/attendance", 4)

	// reads do not extend the lifetime
	for i := 0; i < 3; i++ {
		time.Sleep(10 * time.Millisecond)
		c.Get("/attendance")
	}
	_, ok := c.Get("/attendance")
	assert.False(t, ok, "expired")
	assert.Equal(t, 0, c.Len())
}

func TestQueryCache_noTTL(t *testing.T) {
	c := New(0)
	c.Set("k", "v")
	time.Sleep(10 * time.Millisecond)

	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}
