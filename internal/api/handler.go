package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/kvscope/kvscope/internal/kvstore"
	"github.com/kvscope/kvscope/internal/metrics"
	"github.com/sirupsen/logrus"
)

// KeyStore is the part of kvstore.Store the API serves
type KeyStore interface {
	Scan(ctx context.Context, pattern, cursor string, count int) (*kvstore.ScanResult, error)
	Type(ctx context.Context, key string) (string, error)
	Get(ctx context.Context, key string) (*kvstore.Value, error)
	Set(ctx context.Context, key, valueType string, value json.RawMessage, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, seconds int64) error
	Stats(ctx context.Context) (*kvstore.Stats, error)
}

// SetValueRequest is the body of PUT /v1/value
type SetValueRequest struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
	// TTL in seconds; 0 keeps the key forever
	TTL int64 `json:"ttl"`
}

// ExpireRequest is the body of POST /v1/expire
type ExpireRequest struct {
	Seconds int64 `json:"seconds"`
}

// TypeResponse is the body returned by GET /v1/type
type TypeResponse struct {
	Key  string `json:"key"`
	Type string `json:"type"`
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler serves the key store over HTTP
type Handler struct {
	store          KeyStore
	metricsManager metrics.Manager
	logger         *logrus.Entry
}

// NewHandler creates a new API handler
func NewHandler(store KeyStore, metricsManager metrics.Manager, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		store:          store,
		metricsManager: metricsManager,
		logger:         logger.WithField("component", "store_api"),
	}
}

// RegisterRoutes registers all key store routes
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.handleHealth).Methods("GET")

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/scan", h.handleScan).Methods("GET")
	v1.HandleFunc("/type", h.handleType).Methods("GET")
	v1.HandleFunc("/value", h.handleGetValue).Methods("GET")
	v1.HandleFunc("/value", h.handleSetValue).Methods("PUT")
	v1.HandleFunc("/value", h.handleDeleteValue).Methods("DELETE")
	v1.HandleFunc("/expire", h.handleExpire).Methods("POST")
	v1.HandleFunc("/stats", h.handleStats).Methods("GET")
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "kvscope-store"})
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	count := 0
	if raw := q.Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "count must be a non-negative integer")
			return
		}
		count = n
	}

	cursor := q.Get("cursor")
	if cursor == "" {
		cursor = kvstore.StartCursor
	}

	start := time.Now()
	res, err := h.store.Scan(r.Context(), q.Get("match"), cursor, count)
	h.metricsManager.RecordStoreOperation("scan", err == nil, time.Since(start))
	if err != nil {
		h.writeStoreError(w, "scan", err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleType(w http.ResponseWriter, r *http.Request) {
	key, ok := h.requireKey(w, r)
	if !ok {
		return
	}

	start := time.Now()
	keyType, err := h.store.Type(r.Context(), key)
	h.metricsManager.RecordStoreOperation("type", err == nil, time.Since(start))
	if err != nil {
		h.writeStoreError(w, "type", err)
		return
	}
	h.writeJSON(w, http.StatusOK, TypeResponse{Key: key, Type: keyType})
}

func (h *Handler) handleGetValue(w http.ResponseWriter, r *http.Request) {
	key, ok := h.requireKey(w, r)
	if !ok {
		return
	}

	start := time.Now()
	value, err := h.store.Get(r.Context(), key)
	h.metricsManager.RecordStoreOperation("get", err == nil, time.Since(start))
	if err != nil {
		h.writeStoreError(w, "get", err)
		return
	}
	h.writeJSON(w, http.StatusOK, value)
}

func (h *Handler) handleSetValue(w http.ResponseWriter, r *http.Request) {
	key, ok := h.requireKey(w, r)
	if !ok {
		return
	}

	var req SetValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TTL < 0 {
		h.writeError(w, http.StatusBadRequest, "ttl must not be negative")
		return
	}

	start := time.Now()
	err := h.store.Set(r.Context(), key, req.Type, req.Value, time.Duration(req.TTL)*time.Second)
	h.metricsManager.RecordStoreOperation("set", err == nil, time.Since(start))
	if err != nil {
		h.writeStoreError(w, "set", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteValue(w http.ResponseWriter, r *http.Request) {
	key, ok := h.requireKey(w, r)
	if !ok {
		return
	}

	start := time.Now()
	err := h.store.Delete(r.Context(), key)
	h.metricsManager.RecordStoreOperation("delete", err == nil, time.Since(start))
	if err != nil {
		h.writeStoreError(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleExpire(w http.ResponseWriter, r *http.Request) {
	key, ok := h.requireKey(w, r)
	if !ok {
		return
	}

	var req ExpireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	start := time.Now()
	err := h.store.Expire(r.Context(), key, req.Seconds)
	h.metricsManager.RecordStoreOperation("expire", err == nil, time.Since(start))
	if err != nil {
		h.writeStoreError(w, "expire", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.writeStoreError(w, "stats", err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) requireKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.URL.Query().Get("key")
	if key == "" {
		h.writeError(w, http.StatusBadRequest, "key is required")
		return "", false
	}
	return key, true
}

// writeStoreError maps store errors to status codes
func (h *Handler) writeStoreError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, kvstore.ErrInvalidKey),
		errors.Is(err, kvstore.ErrInvalidType),
		errors.Is(err, kvstore.ErrInvalidValue),
		errors.Is(err, kvstore.ErrInvalidCursor),
		errors.Is(err, kvstore.ErrInvalidPattern):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		h.writeError(w, http.StatusRequestTimeout, "request canceled")
	default:
		h.logger.WithError(err).WithField("operation", op).Error("Key store operation failed")
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, ErrorResponse{Error: message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}
