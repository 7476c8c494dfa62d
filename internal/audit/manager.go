package audit

import (
	"context"

	"github.com/sirupsen/logrus"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Manager handles audit logging operations
type Manager struct {
	store  Store
	logger *logrus.Logger
}

// NewManager creates a new audit manager
func NewManager(store Store, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		store:  store,
		logger: logger,
	}
}

// LogEvent records an audit event. Incomplete events are dropped with a
// warning rather than failing the mutation they describe.
func (m *Manager) LogEvent(ctx context.Context, event *AuditEvent) error {
	if event == nil {
		m.logger.Warn("Attempted to log nil audit event")
		return nil
	}
	if event.Action == "" {
		m.logger.Warn("Audit event missing required Action field")
		return nil
	}
	if event.Status == "" {
		m.logger.Warn("Audit event missing required Status field")
		return nil
	}

	if err := m.store.LogEvent(ctx, event); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"action": event.Action,
			"key":    event.Key,
			"status": event.Status,
		}).Error("Failed to log audit event")
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"action":   event.Action,
		"key":      event.Key,
		"key_type": event.KeyType,
		"status":   event.Status,
		"session":  event.SessionID,
	}).Debug("Audit event logged")
	return nil
}

// GetLogs retrieves audit logs with filters
func (m *Manager) GetLogs(ctx context.Context, filters *AuditLogFilters) ([]*AuditLog, int, error) {
	if filters == nil {
		filters = &AuditLogFilters{}
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 {
		filters.PageSize = defaultPageSize
	}
	if filters.PageSize > maxPageSize {
		filters.PageSize = maxPageSize
	}

	logs, total, err := m.store.GetLogs(ctx, filters)
	if err != nil {
		m.logger.WithError(err).Error("Failed to retrieve audit logs")
		return nil, 0, err
	}
	return logs, total, nil
}

// Recent returns the newest limit logs
func (m *Manager) Recent(ctx context.Context, limit int) ([]*AuditLog, error) {
	logs, _, err := m.GetLogs(ctx, &AuditLogFilters{PageSize: limit})
	return logs, err
}

// PurgeOldLogs removes logs older than retentionDays; <= 0 keeps everything
func (m *Manager) PurgeOldLogs(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	deleted, err := m.store.PurgeLogs(ctx, retentionDays)
	if err != nil {
		m.logger.WithError(err).Error("Failed to purge old audit logs")
		return 0, err
	}
	if deleted > 0 {
		m.logger.WithFields(logrus.Fields{
			"deleted":        deleted,
			"retention_days": retentionDays,
		}).Info("Purged old audit logs")
	}
	return deleted, nil
}

// Close closes the underlying store
func (m *Manager) Close() error {
	return m.store.Close()
}
