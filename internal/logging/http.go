package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HTTPOutput posts batches of entries as a JSON array to an HTTP endpoint
type HTTPOutput struct {
	url           string
	authToken     string
	batchSize     int
	flushInterval time.Duration
	client        *http.Client

	mu     sync.Mutex
	buffer []*LogEntry
	closed bool

	stopChan chan struct{}
	flusher  sync.WaitGroup
	sends    sync.WaitGroup
}

// NewHTTPOutput creates an HTTP output and starts its background flusher
func NewHTTPOutput(url, authToken string, batchSize int, flushInterval time.Duration) *HTTPOutput {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	output := &HTTPOutput{
		url:           url,
		authToken:     authToken,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		client:        &http.Client{Timeout: 10 * time.Second},
		buffer:        make([]*LogEntry, 0, batchSize),
		stopChan:      make(chan struct{}),
	}

	output.flusher.Add(1)
	go output.runFlusher()

	return output
}

// Write buffers an entry, sending the batch once it is full
func (h *HTTPOutput) Write(entry *LogEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrOutputClosed
	}

	h.buffer = append(h.buffer, entry)
	if len(h.buffer) >= h.batchSize {
		h.flushLocked()
	}
	return nil
}

func (h *HTTPOutput) runFlusher() {
	defer h.flusher.Done()

	ticker := time.NewTicker(h.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.mu.Lock()
			h.flushLocked()
			h.mu.Unlock()

		case <-h.stopChan:
			h.mu.Lock()
			h.flushLocked()
			h.mu.Unlock()
			return
		}
	}
}

// flushLocked hands the buffered entries to a background send.
// Caller must hold h.mu.
func (h *HTTPOutput) flushLocked() {
	if len(h.buffer) == 0 {
		return
	}

	entries := make([]*LogEntry, len(h.buffer))
	copy(entries, h.buffer)
	h.buffer = h.buffer[:0]

	h.sends.Add(1)
	go func() {
		defer h.sends.Done()
		_ = h.sendBatch(entries)
	}()
}

func (h *HTTPOutput) sendBatch(entries []*LogEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal log entries: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, h.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+h.authToken)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send logs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Close flushes what is buffered and waits for in-flight sends
func (h *HTTPOutput) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	close(h.stopChan)
	h.flusher.Wait()
	h.sends.Wait()
	return nil
}
