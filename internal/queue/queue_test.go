package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedQueue_PushPopFIFO(t *testing.T) {
	q := New[int](0, nil)
	q.Push(1)
	q.Push(2)
	q.Push(3)

	for _, want := range []int{1, 2, 3} {
		got, ok := q.Pop(false)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestBoundedQueue_DropsOldestOnOverflow(t *testing.T) {
	var dropped []int
	q := New[int](2, func(item int) { dropped = append(dropped, item) })

	q.Push(1)
	q.Push(2)
	q.Push(3) // should drop 1

	assert.Equal(t, []int{1}, dropped)
	assert.Equal(t, 2, q.Len())

	got, ok := q.Pop(false)
	require.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestBoundedQueue_PopWaitBlocksUntilPush(t *testing.T) {
	q := New[string](0, nil)

	done := make(chan string, 1)
	go func() {
		item, ok := q.Pop(true)
		if ok {
			done <- item
		} else {
			done <- ""
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push("hello")

	select {
	case got := <-done:
		assert.Equal(t, "hello", got)
	case <-time.After(time.Second):
		t.Fatal("Pop(true) never returned")
	}
}

func TestBoundedQueue_TerminateWakesWaiters(t *testing.T) {
	q := New[int](0, nil)

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(true)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Terminate()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop(true) never unblocked on terminate")
	}

	_, ok := q.Pop(false)
	assert.False(t, ok)
}

func TestBoundedQueue_Reset(t *testing.T) {
	q := New[int](0, nil)
	q.Push(1)
	q.Terminate()

	q.Reset()
	assert.False(t, q.IsTerminated())
	assert.Equal(t, 0, q.Len())

	q.Push(5)
	got, ok := q.Pop(false)
	require.True(t, ok)
	assert.Equal(t, 5, got)
}
