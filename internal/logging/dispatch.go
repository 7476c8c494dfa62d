package logging

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// DispatchHook is the single logrus hook that fans entries out to the
// active outputs. logrus has no RemoveHook, so reconfiguration swaps the
// outputs snapshot instead of the hook.
//
// Fire never takes a mutex: the Manager logs while it holds its own lock.
type DispatchHook struct {
	snapshot atomic.Pointer[[]outputWithFilter]
}

type outputWithFilter struct {
	name   string
	output Output
	level  logrus.Level
}

// NewDispatchHook creates a dispatch hook with no outputs
func NewDispatchHook() *DispatchHook {
	h := &DispatchHook{}
	h.UpdateSnapshot(nil)
	return h
}

// UpdateSnapshot replaces the active outputs
func (h *DispatchHook) UpdateSnapshot(outputs []outputWithFilter) {
	if outputs == nil {
		outputs = []outputWithFilter{}
	}
	h.snapshot.Store(&outputs)
}

// Levels returns all log levels this hook handles
func (h *DispatchHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire hands the entry to every output whose level admits it. Outputs
// buffer internally, so this never waits on the network.
func (h *DispatchHook) Fire(entry *logrus.Entry) error {
	snapshot := h.snapshot.Load()
	if snapshot == nil || len(*snapshot) == 0 {
		return nil
	}

	var logEntry *LogEntry
	for _, ow := range *snapshot {
		// logrus levels grow more verbose as the value increases
		if entry.Level > ow.level {
			continue
		}
		if logEntry == nil {
			logEntry = newLogEntry(entry)
		}
		// Write errors are dropped: logging them would feed back into this hook.
		_ = ow.output.Write(logEntry)
	}

	return nil
}

func newLogEntry(entry *logrus.Entry) *LogEntry {
	fields := make(map[string]interface{}, len(entry.Data))
	for k, v := range entry.Data {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		fields[k] = v
	}
	return &LogEntry{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Fields:    fields,
	}
}
