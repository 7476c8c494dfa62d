package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *logrus.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite-based audit log store
func NewSQLiteStore(dbPath string, logger *logrus.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	// SQLite serializes writers; a small pool avoids SQLITE_BUSY churn
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	logger.WithField("path", dbPath).Info("Audit log SQLite store initialized")
	return store, nil
}

// initSchema creates the audit_logs table and indexes if they don't exist
func (s *SQLiteStore) initSchema() error {
	schema := `
	PRAGMA busy_timeout = 5000;

	CREATE TABLE IF NOT EXISTS audit_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		action TEXT NOT NULL,
		key TEXT,
		key_type TEXT,
		status TEXT NOT NULL,
		session_id TEXT,
		remote_addr TEXT,
		details TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_key ON audit_logs(key);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

const insertLogSQL = `INSERT INTO audit_logs
	(timestamp, action, key, key_type, status, session_id, remote_addr, details)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// LogEvent records an audit event
func (s *SQLiteStore) LogEvent(ctx context.Context, event *AuditEvent) error {
	details := "{}"
	if len(event.Details) > 0 {
		if b, err := json.Marshal(event.Details); err == nil {
			details = string(b)
		} else {
			s.logger.WithError(err).WithField("action", event.Action).Warn("Dropping unencodable audit details")
		}
	}

	_, err := s.db.ExecContext(ctx, insertLogSQL,
		s.now().Unix(),
		event.Action,
		event.Key,
		event.KeyType,
		event.Status,
		event.SessionID,
		event.RemoteAddr,
		details,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// GetLogs retrieves audit logs with filters, newest first
func (s *SQLiteStore) GetLogs(ctx context.Context, filters *AuditLogFilters) ([]*AuditLog, int, error) {
	whereClause, args := buildWhereClause(filters)

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_logs %s", whereClause)
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	offset := (filters.Page - 1) * filters.PageSize
	query := fmt.Sprintf(`
		SELECT id, timestamp, action, key, key_type, status, session_id, remote_addr, details
		FROM audit_logs %s
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`, whereClause)

	args = append(args, filters.PageSize, offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	logs, err := s.scanLogs(rows)
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// PurgeLogs deletes rows older than olderThanDays and returns how many went
func (s *SQLiteStore) PurgeLogs(ctx context.Context, olderThanDays int) (int, error) {
	cutoff := s.now().AddDate(0, 0, -olderThanDays).Unix()

	res, err := s.db.ExecContext(ctx, "DELETE FROM audit_logs WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged audit logs: %w", err)
	}
	return int(n), nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// buildWhereClause turns the set filters into a WHERE clause and its arguments
func buildWhereClause(filters *AuditLogFilters) (string, []interface{}) {
	clauses := []struct {
		set  bool
		cond string
		arg  interface{}
	}{
		{filters.Action != "", "action = ?", filters.Action},
		{filters.Key != "", "key = ?", filters.Key},
		{filters.Status != "", "status = ?", filters.Status},
		{filters.StartDate > 0, "timestamp >= ?", filters.StartDate},
		{filters.EndDate > 0, "timestamp <= ?", filters.EndDate},
	}

	var conditions []string
	var args []interface{}
	for _, c := range clauses {
		if c.set {
			conditions = append(conditions, c.cond)
			args = append(args, c.arg)
		}
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func decodeDetails(raw sql.NullString, logger *logrus.Logger) map[string]interface{} {
	details := make(map[string]interface{})
	if !raw.Valid || raw.String == "" || raw.String == "{}" {
		return details
	}
	if err := json.Unmarshal([]byte(raw.String), &details); err != nil {
		logger.WithError(err).WithField("details", raw.String).Warn("Discarding undecodable audit details")
		return make(map[string]interface{})
	}
	return details
}

// scanLogs scans multiple rows into AuditLog structs
func (s *SQLiteStore) scanLogs(rows *sql.Rows) ([]*AuditLog, error) {
	logs := []*AuditLog{}

	for rows.Next() {
		log := &AuditLog{}
		var key, keyType, sessionID, remoteAddr, detailsJSON sql.NullString

		err := rows.Scan(
			&log.ID,
			&log.Timestamp,
			&log.Action,
			&key,
			&keyType,
			&log.Status,
			&sessionID,
			&remoteAddr,
			&detailsJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		log.Key = key.String
		log.KeyType = keyType.String
		log.SessionID = sessionID.String
		log.RemoteAddr = remoteAddr.String

		log.Details = decodeDetails(detailsJSON, s.logger)

		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit logs: %w", err)
	}
	return logs, nil
}
