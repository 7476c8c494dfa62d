package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/kvscope/kvscope/internal/audit"
	"github.com/kvscope/kvscope/internal/browser"
	"github.com/kvscope/kvscope/internal/client"
	"github.com/kvscope/kvscope/internal/export"
	"github.com/sirupsen/logrus"
)

// APIResponse is the envelope of every console API reply
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// SessionRequest is the body of PUT /api/v1/browse/session
type SessionRequest struct {
	Pattern  string `json:"pattern"`
	PageSize int    `json:"page_size"`
}

// SetKeyRequest is the body of PUT /api/v1/keys
type SetKeyRequest struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
	TTL   int64           `json:"ttl"` // seconds, 0 keeps the key forever
}

// ExpireKeyRequest is the body of POST /api/v1/keys/expire
type ExpireKeyRequest struct {
	Seconds int64 `json:"seconds"`
}

// AuditLogsResponse is a page of audit logs
type AuditLogsResponse struct {
	Logs     []*audit.AuditLog `json:"logs"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

func (s *Server) setupConsoleRoutes(router *mux.Router) {
	// Browsing session
	router.HandleFunc("/browse", s.handleGetState).Methods("GET")
	router.HandleFunc("/browse/next", s.handleNextPage).Methods("POST")
	router.HandleFunc("/browse/previous", s.handlePreviousPage).Methods("POST")
	router.HandleFunc("/browse/page/{page:[0-9]+}", s.handleGoToPage).Methods("POST")
	router.HandleFunc("/browse/session", s.handleUpdateSession).Methods("PUT")

	// Keys
	router.HandleFunc("/keys/type", s.handleGetKeyType).Methods("GET")
	router.HandleFunc("/keys/expire", s.handleExpireKey).Methods("POST")
	router.HandleFunc("/keys", s.handleGetKey).Methods("GET")
	router.HandleFunc("/keys", s.handleSetKey).Methods("PUT")
	router.HandleFunc("/keys", s.handleDeleteKey).Methods("DELETE")

	router.HandleFunc("/audit", s.handleListAuditLogs).Methods("GET")
	router.HandleFunc("/export", s.handleExport).Methods("POST")
	router.HandleFunc("/stats", s.handleGetStats).Methods("GET")
}

// Browsing handlers

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.navigator.State())
}

func (s *Server) handleNextPage(w http.ResponseWriter, r *http.Request) {
	if err := s.navigator.GoToNext(r.Context()); err != nil {
		s.writeNavigationError(w, err)
		return
	}
	s.writeJSON(w, s.navigator.State())
}

func (s *Server) handlePreviousPage(w http.ResponseWriter, r *http.Request) {
	if err := s.navigator.GoToPrevious(r.Context()); err != nil {
		s.writeNavigationError(w, err)
		return
	}
	s.writeJSON(w, s.navigator.State())
}

func (s *Server) handleGoToPage(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(mux.Vars(r)["page"])
	if err != nil || page < 1 {
		s.writeError(w, "page must be a positive integer", http.StatusBadRequest)
		return
	}

	if err := s.navigator.GoToPage(r.Context(), page); err != nil {
		s.writeNavigationError(w, err)
		return
	}
	s.writeJSON(w, s.navigator.State())
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PageSize < 0 || req.PageSize > s.config.Store.MaxScanCount {
		s.writeError(w, "page_size out of range", http.StatusBadRequest)
		return
	}

	if err := s.navigator.OnPatternOrPageSizeChange(r.Context(), req.Pattern, req.PageSize); err != nil {
		s.writeNavigationError(w, err)
		return
	}
	s.writeJSON(w, s.navigator.State())
}

// writeNavigationError maps navigator errors to status codes. The session
// is unchanged in every case.
func (s *Server) writeNavigationError(w http.ResponseWriter, err error) {
	var rebuildErr *browser.ChainRebuildError
	var scanErr *browser.ScanError

	switch {
	case errors.As(err, &rebuildErr):
		s.writeErrorData(w, err.Error(), http.StatusConflict, map[string]int{
			"last_page": rebuildErr.LastPage,
		})
	case errors.Is(err, browser.ErrLoadInProgress), errors.Is(err, browser.ErrStaleResult):
		s.writeError(w, err.Error(), http.StatusConflict)
	case errors.As(err, &scanErr):
		s.writeError(w, err.Error(), http.StatusBadGateway)
	case errors.Is(err, browser.ErrNoNextPage),
		errors.Is(err, browser.ErrNoPreviousPage),
		errors.Is(err, browser.ErrInvalidPage),
		errors.Is(err, browser.ErrChainBroken):
		s.writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, "request cancelled", http.StatusRequestTimeout)
	default:
		s.logger.WithError(err).Error("Navigation failed")
		s.writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

// Key handlers

func (s *Server) handleGetKeyType(w http.ResponseWriter, r *http.Request) {
	key, ok := s.requireKey(w, r)
	if !ok {
		return
	}
	keyType := s.navigator.Metadata().Resolve(r.Context(), key)
	s.writeJSON(w, browser.KeyEntry{Key: key, Type: keyType})
}

func (s *Server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	key, ok := s.requireKey(w, r)
	if !ok {
		return
	}

	if kv, ok := s.editCache.Get(key); ok {
		s.writeJSON(w, kv)
		return
	}

	kv, err := s.store.GetValue(r.Context(), key)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.editCache.Put(*kv)
	s.writeJSON(w, kv)
}

func (s *Server) handleSetKey(w http.ResponseWriter, r *http.Request) {
	key, ok := s.requireKey(w, r)
	if !ok {
		return
	}

	var req SetKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Type == "" || isMissingValue(req.Value) {
		s.writeError(w, "type and value are required", http.StatusBadRequest)
		return
	}

	err := s.store.SetValue(r.Context(), key, req.Type, req.Value, req.TTL)
	s.recordEdit(r, audit.ActionSet, key, req.Type, err, map[string]interface{}{"ttl": req.TTL})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.editCache.Invalidate(key)
	s.navigator.Metadata().Invalidate(key)
	s.writeJSON(w, browser.KeyEntry{Key: key, Type: req.Type})
}

// isMissingValue treats an omitted value, which decodes as null, like an empty one
func isMissingValue(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) == 0 || bytes.Equal(v, []byte("null"))
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	key, ok := s.requireKey(w, r)
	if !ok {
		return
	}

	keyType, _ := s.navigator.Metadata().Peek(key)
	err := s.store.DeleteKey(r.Context(), key)
	s.recordEdit(r, audit.ActionDelete, key, keyType, err, nil)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.editCache.Invalidate(key)
	s.navigator.Metadata().Invalidate(key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExpireKey(w http.ResponseWriter, r *http.Request) {
	key, ok := s.requireKey(w, r)
	if !ok {
		return
	}

	var req ExpireKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	keyType, _ := s.navigator.Metadata().Peek(key)
	err := s.store.ExpireKey(r.Context(), key, req.Seconds)
	s.recordEdit(r, audit.ActionExpire, key, keyType, err, map[string]interface{}{"seconds": req.Seconds})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.editCache.Invalidate(key)
	if req.Seconds <= 0 {
		s.navigator.Metadata().Invalidate(key)
	}
	s.writeJSON(w, map[string]interface{}{"key": key, "seconds": req.Seconds})
}

func (s *Server) requireKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeError(w, "key is required", http.StatusBadRequest)
		return "", false
	}
	return key, true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	var statusErr *client.StatusError

	switch {
	case errors.Is(err, client.ErrKeyNotFound):
		s.writeError(w, "key not found", http.StatusNotFound)
	case errors.As(err, &statusErr) && statusErr.Status == http.StatusBadRequest:
		s.writeError(w, statusErr.Message, http.StatusBadRequest)
	default:
		s.logger.WithError(err).Warn("Key store request failed")
		s.writeError(w, err.Error(), http.StatusBadGateway)
	}
}

// recordEdit writes the audit trail of a console mutation, successful or not
func (s *Server) recordEdit(r *http.Request, action, key, keyType string, opErr error, details map[string]interface{}) {
	if s.auditManager == nil {
		return
	}

	event := &audit.AuditEvent{
		Action:     action,
		Key:        key,
		KeyType:    keyType,
		Status:     audit.StatusSuccess,
		SessionID:  s.navigator.ID(),
		RemoteAddr: r.RemoteAddr,
		Details:    details,
	}
	if opErr != nil {
		event.Status = audit.StatusFailed
		if event.Details == nil {
			event.Details = map[string]interface{}{}
		}
		event.Details["error"] = opErr.Error()
	}

	// The mutation already happened; an audit failure is logged by the manager.
	_ = s.auditManager.LogEvent(r.Context(), event)
}

// Audit and export

func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditManager == nil {
		s.writeError(w, "audit logging is disabled", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	filters := &audit.AuditLogFilters{
		Action: q.Get("action"),
		Key:    q.Get("key"),
		Status: q.Get("status"),
	}
	if v := q.Get("page"); v != "" {
		filters.Page, _ = strconv.Atoi(v)
	}
	if v := q.Get("limit"); v != "" {
		filters.PageSize, _ = strconv.Atoi(v)
	}

	logs, total, err := s.auditManager.GetLogs(r.Context(), filters)
	if err != nil {
		s.logger.WithError(err).Error("Failed to read audit logs")
		s.writeError(w, "failed to read audit logs", http.StatusInternalServerError)
		return
	}
	if logs == nil {
		logs = []*audit.AuditLog{}
	}

	s.writeJSON(w, AuditLogsResponse{
		Logs:     logs,
		Total:    total,
		Page:     filters.Page,
		PageSize: filters.PageSize,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		s.writeError(w, "export is disabled", http.StatusServiceUnavailable)
		return
	}

	state := s.navigator.State()
	result, err := s.exporter.Export(r.Context(), state, s.navigator.Pages().Pages())

	if !errors.Is(err, export.ErrNothingToExport) {
		details := map[string]interface{}{"pattern": state.Pattern}
		if result != nil {
			details["object_key"] = result.Key
			details["pages"] = result.Pages
		}
		s.recordEdit(r, audit.ActionExport, "", "", err, details)
	}

	switch {
	case errors.Is(err, export.ErrNothingToExport):
		s.writeError(w, err.Error(), http.StatusBadRequest)
	case err != nil:
		s.writeError(w, "export failed: "+err.Error(), http.StatusBadGateway)
	default:
		s.writeJSON(w, result)
	}
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	s.updateCacheSizes()

	snapshot, err := s.metricsManager.GetMetricsSnapshot()
	if err != nil {
		s.logger.WithError(err).Warn("Failed to gather metrics snapshot")
	}

	s.writeJSON(w, map[string]interface{}{
		"session":        s.navigator.State(),
		"metadata_cache": s.navigator.Metadata().Stats(),
		"edit_cache":     s.editCache.Stats(),
		"metrics":        snapshot,
	})
}

// Response helpers

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	s.writeErrorData(w, message, statusCode, nil)
}

func (s *Server) writeErrorData(w http.ResponseWriter, message string, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Data: data, Error: message})
	s.logger.WithFields(logrus.Fields{
		"error":  message,
		"status": statusCode,
	}).Debug("API error")
}
