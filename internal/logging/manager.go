package logging

import (
	"fmt"
	"sync"

	"github.com/kvscope/kvscope/internal/config"
	"github.com/sirupsen/logrus"
)

// Manager owns the forwarding outputs of one logger
type Manager struct {
	outputs      map[string]Output
	targets      map[string]config.LogTarget
	dispatchHook *DispatchHook
	mu           sync.Mutex
	logger       *logrus.Logger

	// newOutput is replaced in tests
	newOutput func(config.LogTarget) (Output, error)
}

// NewManager registers a dispatch hook on logger. Nothing is forwarded until
// Configure is called with targets.
func NewManager(logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	m := &Manager{
		outputs:      make(map[string]Output),
		targets:      make(map[string]config.LogTarget),
		dispatchHook: NewDispatchHook(),
		logger:       logger,
		newOutput:    NewOutput,
	}
	logger.AddHook(m.dispatchHook)
	return m
}

// Configure replaces the active outputs with targets. Targets whose settings
// did not change keep their connection. When any new output fails to open,
// the previous outputs stay active and the error is returned.
//
// Logging happens after the lock is released; the hook would otherwise see
// a half-built snapshot.
func (m *Manager) Configure(targets []config.LogTarget) error {
	m.mu.Lock()

	next := make(map[string]Output, len(targets))
	nextTargets := make(map[string]config.LogTarget, len(targets))
	var opened []Output

	for _, t := range targets {
		if _, dup := nextTargets[t.Name]; dup {
			m.mu.Unlock()
			closeAll(opened)
			return fmt.Errorf("duplicate log target name %q", t.Name)
		}

		if old, ok := m.targets[t.Name]; ok && old == t {
			next[t.Name] = m.outputs[t.Name]
			nextTargets[t.Name] = t
			continue
		}

		out, err := m.newOutput(t)
		if err != nil {
			m.mu.Unlock()
			closeAll(opened)
			return fmt.Errorf("log target %q: %w", t.Name, err)
		}
		opened = append(opened, out)
		next[t.Name] = out
		nextTargets[t.Name] = t
	}

	var stale []Output
	for name, out := range m.outputs {
		if next[name] != out {
			stale = append(stale, out)
		}
	}

	m.outputs = next
	m.targets = nextTargets
	m.publishSnapshot()
	active := len(m.outputs)
	m.mu.Unlock()

	closeAll(stale)

	if active > 0 || len(stale) > 0 {
		m.logger.WithFields(logrus.Fields{
			"active_targets": active,
			"opened":         len(opened),
			"closed":         len(stale),
		}).Info("Log forwarding configured")
	}
	return nil
}

// ActiveOutputs returns the number of outputs receiving entries
func (m *Manager) ActiveOutputs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outputs)
}

// Close stops forwarding and closes every output, flushing what they buffer
func (m *Manager) Close() {
	m.mu.Lock()
	outputs := make([]Output, 0, len(m.outputs))
	for _, out := range m.outputs {
		outputs = append(outputs, out)
	}
	m.outputs = make(map[string]Output)
	m.targets = make(map[string]config.LogTarget)
	m.publishSnapshot()
	m.mu.Unlock()

	closeAll(outputs)
}

// publishSnapshot must be called with m.mu held
func (m *Manager) publishSnapshot() {
	snapshot := make([]outputWithFilter, 0, len(m.outputs))
	for name, out := range m.outputs {
		level, err := logrus.ParseLevel(m.targets[name].Level)
		if err != nil {
			level = logrus.InfoLevel
		}
		snapshot = append(snapshot, outputWithFilter{
			name:   name,
			output: out,
			level:  level,
		})
	}
	m.dispatchHook.UpdateSnapshot(snapshot)
}

func closeAll(outputs []Output) {
	for _, out := range outputs {
		_ = out.Close()
	}
}
