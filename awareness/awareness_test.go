package awareness

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGet(t *testing.T) {
	s := New(time.Minute)
	defer s.Close()

	s.Set(1, map[string]any{"cursor": 5})
	c, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, uint64(1), c.ID)
	assert.Equal(t, 5, c.Data["cursor"])
}

func TestRemove(t *testing.T) {
	s := New(time.Minute)
	defer s.Close()

	s.Set(1, nil)
	s.Remove(1)
	_, ok := s.Get(1)
	assert.False(t, ok)
}

func TestSnapshot(t *testing.T) {
	s := New(time.Minute)
	defer s.Close()

	s.Set(1, nil)
	s.Set(2, nil)
	assert.Len(t, s.Snapshot(), 2)
}

func TestOnChangeReceivesUpdatesAndRemovals(t *testing.T) {
	s := New(time.Minute)
	defer s.Close()

	var mu sync.Mutex
	var deltas []Delta
	cancel := s.OnChange(func(d Delta) {
		mu.Lock()
		defer mu.Unlock()
		deltas = append(deltas, d)
	})
	defer cancel()

	s.Set(1, nil)
	s.Remove(1)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, deltas, 2)
	assert.Len(t, deltas[0].Updated, 1)
	assert.Equal(t, []uint64{1}, deltas[1].Removed)
}

func TestOnChangeCancel(t *testing.T) {
	s := New(time.Minute)
	defer s.Close()

	called := false
	cancel := s.OnChange(func(d Delta) { called = true })
	cancel()

	s.Set(1, nil)
	assert.False(t, called)
}

func TestPanickingHandlerDoesNotPoisonOthers(t *testing.T) {
	s := New(time.Minute)
	defer s.Close()

	otherCalled := false
	s.OnChange(func(d Delta) { panic("boom") })
	s.OnChange(func(d Delta) { otherCalled = true })

	s.Set(1, nil)
	assert.True(t, otherCalled)
}

func TestSweepEvictsExpiredClients(t *testing.T) {
	s := New(20 * time.Millisecond)
	defer s.Close()

	s.Set(1, nil)
	assert.Eventually(t, func() bool {
		_, ok := s.Get(1)
		return !ok
	}, time.Second, 5*time.Millisecond)
}
