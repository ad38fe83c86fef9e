package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryTakeEmpty(t *testing.T) {
	s := NewSlot[int]()

	v, ok := s.TryTake()
	assert.False(t, ok)
	assert.Zero(t, v)
}

func TestSecondPublishOverwritesFirst(t *testing.T) {
	s := NewSlot[string]()
	s.Publish("first")
	s.Publish("second")

	v, ok := s.TryTake()
	require.True(t, ok)
	assert.Equal(t, "second", v)

	_, ok = s.TryTake()
	assert.False(t, ok, "a value must not be delivered twice")
}

func TestRapidPublishDeliversOnlyLatest(t *testing.T) {
	s := NewSlot[int]()
	for i := 1; i <= 10; i++ {
		s.Publish(i)
	}

	v, ok := s.TryTake()
	require.True(t, ok)
	assert.Equal(t, 10, v)

	assert.Equal(t, Stats{Published: 10, Taken: 1, Dropped: 9}, s.Stats())
}

func TestTakeClearsPendingValue(t *testing.T) {
	s := NewSlot[*int]()
	n := 4
	s.Publish(&n)

	v, ok := s.TryTake()
	require.True(t, ok)
	assert.Same(t, &n, v)
	assert.Nil(t, s.value)
}

func TestPublishNeverBlocks(t *testing.T) {
	s := NewSlot[[]byte]()

	start := time.Now()
	for i := 0; i < 1000; i++ {
		s.Publish(make([]byte, 16))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestConcurrentProducerConsumer(t *testing.T) {
	s := NewSlot[int]()
	const n = 5000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= n; i++ {
			s.Publish(i)
		}
	}()

	last := 0
	seen := 0
	deadline := time.After(5 * time.Second)
	for last < n {
		select {
		case <-deadline:
			t.Fatalf("consumer stuck at %d", last)
		default:
		}

		v, ok := s.TryTake()
		if !ok {
			continue
		}
		require.Greater(t, v, last, "values arrive in publish order")
		last = v
		seen++
	}
	wg.Wait()

	st := s.Stats()
	assert.Equal(t, uint64(n), st.Published)
	assert.Equal(t, uint64(seen), st.Taken)
	assert.Equal(t, st.Published, st.Taken+st.Dropped)
}
