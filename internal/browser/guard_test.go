package browser

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGuard_AcquireRelease(t *testing.T) {
	g := NewLoadGuard(time.Minute, testLogger())

	ticket, inflight, err := g.TryAcquire(1)
	require.NoError(t, err)
	assert.Nil(t, inflight)
	assert.Equal(t, 1, ticket.Page)
	assert.True(t, g.Holds(ticket))

	page, loading := g.Loading()
	assert.True(t, loading)
	assert.Equal(t, 1, page)

	assert.True(t, g.Release(ticket))
	assert.False(t, g.Holds(ticket))
	assert.False(t, g.Release(ticket), "double release is a no-op")
}

func TestLoadGuard_RejectsOtherPage(t *testing.T) {
	g := NewLoadGuard(time.Minute, testLogger())

	ticket, _, err := g.TryAcquire(1)
	require.NoError(t, err)
	defer g.Release(ticket)

	_, _, err = g.TryAcquire(2)
	assert.ErrorIs(t, err, ErrLoadInProgress)
}

func TestLoadGuard_DuplicateWaitsForInFlight(t *testing.T) {
	g := NewLoadGuard(time.Minute, testLogger())

	ticket, _, err := g.TryAcquire(4)
	require.NoError(t, err)

	_, inflight, err := g.TryAcquire(4)
	assert.ErrorIs(t, err, ErrDuplicateLoad)
	require.NotNil(t, inflight)

	select {
	case <-inflight:
		t.Fatal("in-flight channel closed before release")
	default:
	}

	g.Release(ticket)

	select {
	case <-inflight:
	case <-time.After(time.Second):
		t.Fatal("in-flight channel not closed after release")
	}
}

func TestLoadGuard_TimeoutForcesRelease(t *testing.T) {
	g := NewLoadGuard(20*time.Millisecond, testLogger())
	var timeouts int32
	g.OnTimeout(func() { atomic.AddInt32(&timeouts, 1) })

	stuck, _, err := g.TryAcquire(1)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !g.Holds(stuck) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&timeouts))

	next, _, err := g.TryAcquire(2)
	require.NoError(t, err)

	assert.False(t, g.Release(stuck), "late release of a timed-out ticket must not free the new holder")
	assert.True(t, g.Holds(next))
	assert.True(t, g.Release(next))
}

func TestLoadGuard_Reset(t *testing.T) {
	g := NewLoadGuard(time.Minute, testLogger())

	ticket, _, err := g.TryAcquire(3)
	require.NoError(t, err)

	g.Reset()
	assert.False(t, g.Holds(ticket))
	_, loading := g.Loading()
	assert.False(t, loading)

	_, _, err = g.TryAcquire(3)
	assert.NoError(t, err)
}
