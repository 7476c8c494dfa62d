// Package logging forwards logrus entries to external collectors over HTTP
// or syslog.
package logging

import (
	"fmt"
	"time"

	"github.com/kvscope/kvscope/internal/config"
)

// Output represents a log output destination
type Output interface {
	Write(entry *LogEntry) error
	Close() error
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// NewOutput creates the output a validated target describes
func NewOutput(t config.LogTarget) (Output, error) {
	switch t.Type {
	case "http":
		if t.URL == "" {
			return nil, ErrHTTPURLNotConfigured
		}
		return NewHTTPOutput(t.URL, t.AuthToken, t.BatchSize, t.FlushInterval), nil
	case "syslog":
		if t.Host == "" {
			return nil, ErrSyslogHostNotConfigured
		}
		return NewSyslogOutput(t.Protocol, t.Host, t.Port, t.Tag)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutputType, t.Type)
	}
}
