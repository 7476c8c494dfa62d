package logging

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kvscope/kvscope/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryOutput records entries for assertions
type memoryOutput struct {
	mu      sync.Mutex
	entries []*LogEntry
	closed  bool
}

func (o *memoryOutput) Write(entry *LogEntry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, entry)
	return nil
}

func (o *memoryOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

func (o *memoryOutput) messages() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.entries))
	for i, e := range o.entries {
		out[i] = e.Message
	}
	return out
}

func (o *memoryOutput) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

// newTestManager wires a manager whose outputs are memoryOutputs keyed by target name
func newTestManager(logger *logrus.Logger) (*Manager, map[string]*memoryOutput) {
	created := make(map[string]*memoryOutput)
	var mu sync.Mutex
	m := NewManager(logger)
	m.newOutput = func(t config.LogTarget) (Output, error) {
		if t.Type == "broken" {
			return nil, errors.New("cannot connect")
		}
		mu.Lock()
		defer mu.Unlock()
		out := &memoryOutput{}
		created[t.Name] = out
		return out, nil
	}
	return m, created
}

func TestDispatchLevelFilter(t *testing.T) {
	logger := newTestLogger()
	m, outputs := newTestManager(logger)

	require.NoError(t, m.Configure([]config.LogTarget{
		{Name: "all", Type: "http", Level: "debug"},
		{Name: "errors", Type: "http", Level: "error"},
	}))

	logger.Debug("debug message")
	logger.WithError(errors.New("boom")).Error("error message")

	assert.Contains(t, outputs["all"].messages(), "debug message")
	assert.Contains(t, outputs["all"].messages(), "error message")
	assert.Equal(t, []string{"error message"}, outputs["errors"].messages())

	entry := outputs["errors"].entries[0]
	assert.Equal(t, "error", entry.Level)
	assert.Equal(t, "boom", entry.Fields["error"])
}

func TestConfigureKeepsUnchangedTargets(t *testing.T) {
	logger := newTestLogger()
	m, outputs := newTestManager(logger)

	a := config.LogTarget{Name: "a", Type: "http", Level: "info", URL: "http://a"}
	b := config.LogTarget{Name: "b", Type: "http", Level: "info", URL: "http://b"}
	require.NoError(t, m.Configure([]config.LogTarget{a, b}))
	firstA, firstB := outputs["a"], outputs["b"]

	b.URL = "http://b2"
	require.NoError(t, m.Configure([]config.LogTarget{a, b}))

	assert.Same(t, firstA, outputs["a"])
	assert.False(t, firstA.isClosed())
	assert.NotSame(t, firstB, outputs["b"])
	assert.True(t, firstB.isClosed())
	assert.Equal(t, 2, m.ActiveOutputs())

	require.NoError(t, m.Configure(nil))
	assert.True(t, firstA.isClosed())
	assert.Equal(t, 0, m.ActiveOutputs())
}

func TestConfigureFailureKeepsPreviousOutputs(t *testing.T) {
	logger := newTestLogger()
	m, outputs := newTestManager(logger)

	require.NoError(t, m.Configure([]config.LogTarget{{Name: "a", Type: "http", Level: "info"}}))
	first := outputs["a"]
	err := m.Configure([]config.LogTarget{
		{Name: "a", Type: "http", Level: "warn"},
		{Name: "bad", Type: "broken"},
	})
	assert.Error(t, err)
	assert.Equal(t, 1, m.ActiveOutputs())

	logger.Info("still forwarded")
	assert.Contains(t, first.messages(), "still forwarded")
	assert.False(t, first.isClosed())

	err = m.Configure([]config.LogTarget{{Name: "x", Type: "http"}, {Name: "x", Type: "http"}})
	assert.ErrorContains(t, err, "duplicate")
}

func TestManagerClose(t *testing.T) {
	logger := newTestLogger()
	m, outputs := newTestManager(logger)

	require.NoError(t, m.Configure([]config.LogTarget{{Name: "a", Type: "http", Level: "info"}}))
	m.Close()
	logger.Info("after close")

	assert.True(t, outputs["a"].isClosed())
	assert.NotContains(t, outputs["a"].messages(), "after close")
}

func TestNewOutputErrors(t *testing.T) {
	_, err := NewOutput(config.LogTarget{Type: "kafka"})
	assert.ErrorIs(t, err, ErrInvalidOutputType)

	_, err = NewOutput(config.LogTarget{Type: "http"})
	assert.ErrorIs(t, err, ErrHTTPURLNotConfigured)

	_, err = NewOutput(config.LogTarget{Type: "syslog"})
	assert.ErrorIs(t, err, ErrSyslogHostNotConfigured)
}

func TestHTTPOutputBatches(t *testing.T) {
	var (
		mu      sync.Mutex
		batches [][]LogEntry
		auth    string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []LogEntry
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
		mu.Lock()
		batches = append(batches, batch)
		auth = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	out := NewHTTPOutput(srv.URL, "secret", 2, time.Hour)
	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, out.Write(&LogEntry{Timestamp: time.Now(), Level: "info", Message: msg}))
	}
	require.NoError(t, out.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 2, "a full batch and the remainder flushed on close")
	total := len(batches[0]) + len(batches[1])
	assert.Equal(t, 3, total)
	assert.Equal(t, "Bearer secret", auth)

	assert.ErrorIs(t, out.Write(&LogEntry{Message: "late"}), ErrOutputClosed)
}

func TestHTTPOutputFlushInterval(t *testing.T) {
	received := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case received <- struct{}{}:
		default:
		}
	}))
	defer srv.Close()

	out := NewHTTPOutput(srv.URL, "", 100, 20*time.Millisecond)
	defer out.Close()
	require.NoError(t, out.Write(&LogEntry{Message: "tick"}))

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("buffered entry was not flushed on the interval")
	}
}

func TestSyslogOutput(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()
	port := conn.LocalAddr().(*net.UDPAddr).Port

	out, err := NewSyslogOutput("udp", "127.0.0.1", port, "kvscope")
	require.NoError(t, err)

	require.NoError(t, out.Write(&LogEntry{
		Timestamp: time.Now(),
		Level:     "error",
		Message:   "scan failed",
		Fields:    map[string]interface{}{"page": 2},
	}))

	buf := make([]byte, 4096)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)
	msg := string(buf[:n])

	// daemon facility (3) * 8 + error severity (3)
	assert.True(t, strings.HasPrefix(msg, "<27>"), msg)
	assert.Contains(t, msg, " kvscope[")
	assert.Contains(t, msg, `"message":"scan failed"`)

	require.NoError(t, out.Close())
	assert.ErrorIs(t, out.Write(&LogEntry{}), ErrOutputClosed)
	assert.Zero(t, out.Dropped())
}

func TestSeverityFor(t *testing.T) {
	tests := map[string]int{
		"debug":   severityDebug,
		"info":    severityInfo,
		"warning": severityWarning,
		"error":   severityError,
		"fatal":   severityCritical,
		"other":   severityInfo,
	}
	for level, want := range tests {
		assert.Equal(t, want, severityFor(level), level)
	}
}
