package orchestrator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupCache_FirstSeenIsFalse(t *testing.T) {
	c := newDedupCache(4)
	assert.False(t, c.SeenBefore("fastlocal", "hello"))
}

func TestDedupCache_RepeatIsTrue(t *testing.T) {
	c := newDedupCache(4)
	c.SeenBefore("fastlocal", "hello")
	assert.True(t, c.SeenBefore("fastlocal", "hello"))
}

func TestDedupCache_DifferentSourceIsDistinct(t *testing.T) {
	c := newDedupCache(4)
	c.SeenBefore("fastlocal", "hello")
	assert.False(t, c.SeenBefore("cloudhttp", "hello"))
}

func TestDedupCache_EmptyTextNeverCounts(t *testing.T) {
	c := newDedupCache(4)
	assert.False(t, c.SeenBefore("fastlocal", ""))
	assert.False(t, c.SeenBefore("fastlocal", ""))
}

func TestDedupCache_EvictsOldestBeyondCapacity(t *testing.T) {
	c := newDedupCache(2)
	c.SeenBefore("s", "one")
	c.SeenBefore("s", "two")
	c.SeenBefore("s", "three") // evicts "one"

	assert.False(t, c.SeenBefore("s", "one"), "one should have been evicted")
	assert.True(t, c.SeenBefore("s", "three"))
}

func TestDedupCache_ConcurrentAccess(t *testing.T) {
	c := newDedupCache(64)
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 50; j++ {
				c.SeenBefore("s", fmt.Sprintf("text-%d-%d", i, j%5))
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
