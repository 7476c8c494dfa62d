package audit

import "context"

// Actions
const (
	ActionSet    = "set"
	ActionDelete = "delete"
	ActionExpire = "expire"
	ActionExport = "export"
)

// Status
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// AuditEvent is a single console mutation to be recorded
type AuditEvent struct {
	Action     string                 // set, delete, expire, export
	Key        string                 // affected key, empty for exports
	KeyType    string                 // type of the key when known
	Status     string                 // success or failed
	SessionID  string                 // browsing session the change came from
	RemoteAddr string                 // client address
	Details    map[string]interface{} // additional details (stored as JSON)
}

// AuditLog is a stored audit record
type AuditLog struct {
	ID         int64                  `json:"id"`
	Timestamp  int64                  `json:"timestamp"` // Unix timestamp (seconds)
	Action     string                 `json:"action"`
	Key        string                 `json:"key"`
	KeyType    string                 `json:"key_type"`
	Status     string                 `json:"status"`
	SessionID  string                 `json:"session_id"`
	RemoteAddr string                 `json:"remote_addr"`
	Details    map[string]interface{} `json:"details"`
}

// AuditLogFilters for querying logs
type AuditLogFilters struct {
	Action    string
	Key       string
	Status    string
	StartDate int64 // Unix timestamp
	EndDate   int64 // Unix timestamp
	Page      int   // 1-based
	PageSize  int
}

// Store defines the interface for audit log storage
type Store interface {
	LogEvent(ctx context.Context, event *AuditEvent) error

	// GetLogs returns one page of matching logs, newest first, and the total match count
	GetLogs(ctx context.Context, filters *AuditLogFilters) ([]*AuditLog, int, error)

	// PurgeLogs deletes logs older than the given number of days
	PurgeLogs(ctx context.Context, olderThanDays int) (int, error)

	Close() error
}
