package lifecycle

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPurger struct {
	mu     sync.Mutex
	calls  int
	purged int
	err    error
}

func (m *mockPurger) PurgeExpired(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.purged, m.err
}

func (m *mockPurger) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestWorker_Sweep(t *testing.T) {
	p := &mockPurger{purged: 3}
	w := NewWorker(p, nil, quietLogger())

	assert.Equal(t, 3, w.Sweep(context.Background()))
	assert.Equal(t, 1, p.Calls())
}

func TestWorker_SweepError(t *testing.T) {
	p := &mockPurger{purged: 1, err: errors.New("disk full")}
	w := NewWorker(p, nil, quietLogger())

	assert.Equal(t, 1, w.Sweep(context.Background()))
}

func TestWorker_StartRunsImmediatelyAndPeriodically(t *testing.T) {
	p := &mockPurger{}
	w := NewWorker(p, nil, quietLogger())

	w.Start(context.Background(), 10*time.Millisecond)
	require.Eventually(t, func() bool { return p.Calls() >= 3 }, time.Second, 5*time.Millisecond)

	w.Stop()
	calls := p.Calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, p.Calls())
}

func TestWorker_StopsOnContextCancel(t *testing.T) {
	p := &mockPurger{}
	w := NewWorker(p, nil, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx, time.Hour)
	require.Eventually(t, func() bool { return p.Calls() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-w.done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
	// Stop after cancellation must not block or panic
	w.Stop()
}
