package schedule

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManual_AdvanceRunsDueCallbacksInOrder(t *testing.T) {
	start := time.Unix(1700000000, 0)
	m := NewManual(start)

	var fired []string
	m.Schedule(start.Add(3*time.Second), func() { fired = append(fired, "c") })
	m.Schedule(start.Add(1*time.Second), func() { fired = append(fired, "a") })
	m.Schedule(start.Add(2*time.Second), func() { fired = append(fired, "b") })
	assert.Equal(t, 3, m.Pending())

	m.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, start.Add(2*time.Second), m.Now())
	assert.Equal(t, 1, m.Pending())

	m.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, fired)
	assert.Zero(t, m.Pending())
}

func TestManual_Cancel(t *testing.T) {
	start := time.Unix(1700000000, 0)
	m := NewManual(start)

	called := false
	tok := m.Schedule(start.Add(time.Second), func() { called = true })
	assert.True(t, m.Cancel(tok))
	assert.False(t, m.Cancel(tok), "second cancel reports nothing pending")

	m.Advance(time.Minute)
	assert.False(t, called)
}

func TestManual_PastDeadlineFiresImmediately(t *testing.T) {
	start := time.Unix(1700000000, 0)
	m := NewManual(start)

	done := make(chan struct{})
	m.Schedule(start.Add(-time.Second), func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback with a past deadline did not fire")
	}
	assert.Zero(t, m.Pending())
}

func TestReal_ScheduleAndCancel(t *testing.T) {
	s := NewReal()

	var wg sync.WaitGroup
	wg.Add(1)
	s.Schedule(time.Now().Add(10*time.Millisecond), wg.Done)

	cancelled := false
	tok := s.Schedule(time.Now().Add(time.Hour), func() { cancelled = true })
	require.True(t, s.Cancel(tok))

	wg.Wait()
	assert.False(t, cancelled)
	assert.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, time.Millisecond)
}
