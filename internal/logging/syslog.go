package logging

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Syslog severities (RFC 5424)
const (
	severityCritical = 2
	severityError    = 3
	severityWarning  = 4
	severityInfo     = 6
	severityDebug    = 7
)

// LOG_DAEMON
const facilityDaemon = 3

const syslogQueueSize = 1024

// SyslogOutput sends RFC 3164 messages with a JSON body over UDP or TCP.
// Writes are queued and sent by one goroutine; a full queue drops entries.
type SyslogOutput struct {
	protocol string
	addr     string
	tag      string
	hostname string
	pid      int

	conn  net.Conn
	queue chan *LogEntry
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	dropped atomic.Int64
}

// NewSyslogOutput dials the syslog server and starts the sender
func NewSyslogOutput(protocol, host string, port int, tag string) (*SyslogOutput, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	conn, err := net.DialTimeout(protocol, addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to syslog: %w", err)
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "-"
	}

	s := &SyslogOutput{
		protocol: protocol,
		addr:     addr,
		tag:      tag,
		hostname: hostname,
		pid:      os.Getpid(),
		conn:     conn,
		queue:    make(chan *LogEntry, syslogQueueSize),
		done:     make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Write queues an entry
func (s *SyslogOutput) Write(entry *LogEntry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrOutputClosed
	}

	select {
	case s.queue <- entry:
		return nil
	default:
		s.dropped.Add(1)
		return fmt.Errorf("syslog queue full, entry dropped")
	}
}

func (s *SyslogOutput) run() {
	defer close(s.done)

	for entry := range s.queue {
		_ = s.send(s.format(entry))
	}
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *SyslogOutput) format(entry *LogEntry) []byte {
	data, err := json.Marshal(entry)
	if err != nil {
		data = []byte(strconv.Quote(entry.Message))
	}

	priority := facilityDaemon*8 + severityFor(entry.Level)
	return []byte(fmt.Sprintf("<%d>%s %s %s[%d]: %s\n",
		priority,
		entry.Timestamp.Format(time.Stamp),
		s.hostname,
		s.tag,
		s.pid,
		data,
	))
}

// send writes one message, redialing once when the connection broke
func (s *SyslogOutput) send(message []byte) error {
	if s.conn != nil {
		if _, err := s.conn.Write(message); err == nil {
			return nil
		}
		s.conn.Close()
		s.conn = nil
	}

	conn, err := net.DialTimeout(s.protocol, s.addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("failed to reconnect to syslog: %w", err)
	}
	s.conn = conn

	if _, err := s.conn.Write(message); err != nil {
		return fmt.Errorf("failed to write to syslog after reconnect: %w", err)
	}
	return nil
}

func severityFor(level string) int {
	switch level {
	case "trace", "debug":
		return severityDebug
	case "warn", "warning":
		return severityWarning
	case "error":
		return severityError
	case "fatal", "panic":
		return severityCritical
	default:
		return severityInfo
	}
}

// Dropped returns how many entries were dropped on a full queue
func (s *SyslogOutput) Dropped() int64 {
	return s.dropped.Load()
}

// Close drains the queue and closes the connection
func (s *SyslogOutput) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return nil
}
