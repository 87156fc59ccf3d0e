package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_AddMarksIdleAndOrdersLIFO(t *testing.T) {
	c := NewChain()
	p1 := newProxy(nil, nil)
	p2 := newProxy(nil, nil)
	p3 := newProxy(nil, nil)

	base := time.Now()
	c.Add(p1, base)
	c.Add(p2, base.Add(time.Second))
	c.Add(p3, base.Add(2*time.Second))

	assert.Equal(t, StateIdle, p1.State())
	require.Equal(t, 3, c.Len())

	got, ok := c.PopMostRecent()
	require.True(t, ok)
	assert.Same(t, p3, got)

	got, ok = c.PopMostRecent()
	require.True(t, ok)
	assert.Same(t, p2, got)

	assert.Equal(t, 1, c.Len())
}

func TestChain_PopMostRecentEmpty(t *testing.T) {
	c := NewChain()
	_, ok := c.PopMostRecent()
	assert.False(t, ok)
}

func TestChain_PeekOldestNonDestructive(t *testing.T) {
	c := NewChain()
	base := time.Now()
	p1 := newProxy(nil, nil)
	p2 := newProxy(nil, nil)
	c.Add(p1, base)
	c.Add(p2, base.Add(time.Second))

	peeked := c.PeekOldest(1)
	require.Len(t, peeked, 1)
	assert.Same(t, p1, peeked[0])
	assert.Equal(t, 2, c.Len(), "peek must not remove entries")
}

func TestChain_RemoveIdleLongerThanIsOldestFirst(t *testing.T) {
	c := NewChain()
	now := time.Now()
	oldest := newProxy(nil, nil)
	old := newProxy(nil, nil)
	fresh := newProxy(nil, nil)
	c.Add(oldest, now.Add(-2*time.Hour))
	c.Add(old, now.Add(-time.Hour))
	c.Add(fresh, now.Add(-time.Millisecond))

	evicted := c.RemoveIdleLongerThan(time.Minute, now)
	require.Len(t, evicted, 2)
	assert.Same(t, oldest, evicted[0])
	assert.Same(t, old, evicted[1])
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Contains(fresh))
}

func TestChain_RemoveAndContains(t *testing.T) {
	c := NewChain()
	p := newProxy(nil, nil)
	c.Add(p, time.Now())
	assert.True(t, c.Contains(p))

	assert.True(t, c.Remove(p))
	assert.False(t, c.Contains(p))
	assert.False(t, c.Remove(p), "removing twice reports absence")
}
