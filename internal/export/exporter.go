// Package export writes a browsing session's cached pages to object storage
// as a JSON document.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kvscope/kvscope/internal/browser"
	"github.com/kvscope/kvscope/pkg/compression"
	"github.com/sirupsen/logrus"
)

// ErrNothingToExport is returned when the session has no cached pages
var ErrNothingToExport = errors.New("no pages to export")

// Document is the exported JSON
type Document struct {
	ExportedAt time.Time `json:"exported_at"`
	SessionID  string    `json:"session_id"`
	Pattern    string    `json:"pattern"`
	PageSize   int       `json:"page_size"`
	Complete   bool      `json:"complete"`
	KeyCount   int       `json:"key_count"`
	Pages      []PageDoc `json:"pages"`
}

// PageDoc is one cached page with its cursors
type PageDoc struct {
	Number       int                `json:"number"`
	InputCursor  string             `json:"input_cursor"`
	OutputCursor string             `json:"output_cursor"`
	HasNextPage  bool               `json:"has_next_page"`
	Complete     bool               `json:"complete"`
	FetchedAt    time.Time          `json:"fetched_at"`
	Keys         []browser.KeyEntry `json:"keys"`
}

// Result describes an uploaded export
type Result struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Pages  int    `json:"pages"`
	Keys   int    `json:"keys"`
	Size   int64  `json:"size"`

	// Encoding is the compression applied to the body, "none" if any
	Encoding string `json:"encoding"`
}

// Exporter builds and uploads export documents
type Exporter struct {
	uploader   Uploader
	bucket     string
	prefix     string
	compressor compression.Compressor
	logger     *logrus.Entry
	now        func() time.Time
	newID      func() string
}

// Option configures an Exporter
type Option func(*Exporter)

// WithCompressor compresses export bodies before upload
func WithCompressor(c compression.Compressor) Option {
	return func(e *Exporter) {
		if c != nil {
			e.compressor = c
		}
	}
}

// NewExporter creates an exporter writing to bucket under prefix
func NewExporter(uploader Uploader, bucket, prefix string, logger *logrus.Logger, opts ...Option) *Exporter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	noop, _ := compression.New(compression.Config{Algorithm: compression.AlgorithmNone})
	e := &Exporter{
		uploader:   uploader,
		bucket:     bucket,
		prefix:     prefix,
		compressor: noop,
		logger:     logger.WithField("component", "export"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Build assembles the document for a session state and its pages
func (e *Exporter) Build(state browser.State, pages []*browser.Page) (*Document, error) {
	if len(pages) == 0 {
		return nil, ErrNothingToExport
	}

	doc := &Document{
		ExportedAt: e.now().UTC(),
		SessionID:  state.SessionID,
		Pattern:    state.Pattern,
		PageSize:   state.PageSize,
		Pages:      make([]PageDoc, 0, len(pages)),
	}
	for _, p := range pages {
		doc.Pages = append(doc.Pages, PageDoc{
			Number:       p.Number,
			InputCursor:  p.InputCursor,
			OutputCursor: p.OutputCursor,
			HasNextPage:  p.HasNextPage,
			Complete:     p.Complete,
			FetchedAt:    p.FetchedAt.UTC(),
			Keys:         p.Entries,
		})
		doc.KeyCount += len(p.Entries)
		if p.Complete {
			doc.Complete = true
		}
	}
	return doc, nil
}

// Export uploads the session's pages as <prefix>/<uuid>.json, with a .gz
// suffix when the body was compressed
func (e *Exporter) Export(ctx context.Context, state browser.State, pages []*browser.Page) (*Result, error) {
	doc, err := e.Build(state, pages)
	if err != nil {
		return nil, err
	}

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}

	encoded, err := e.compressor.Compress(body)
	if err != nil {
		return nil, fmt.Errorf("failed to compress export: %w", err)
	}

	key := path.Join(e.prefix, e.newID()+".json")
	contentType := "application/json"
	metadata := map[string]string{
		"session-id": doc.SessionID,
		"pattern":    doc.Pattern,
		"pages":      strconv.Itoa(len(doc.Pages)),
	}
	if encoded.Algorithm != compression.AlgorithmNone {
		key += e.compressor.Extension()
		contentType = e.compressor.ContentType()
		metadata["original-size"] = strconv.FormatInt(encoded.OriginalSize, 10)
	}
	body = encoded.Data

	err = e.uploader.PutObject(ctx, e.bucket, key, bytes.NewReader(body), int64(len(body)), contentType, metadata)
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"bucket": e.bucket,
			"key":    key,
		}).Error("Export upload failed")
		return nil, err
	}

	result := &Result{
		Bucket:   e.bucket,
		Key:      key,
		Pages:    len(doc.Pages),
		Keys:     doc.KeyCount,
		Size:     int64(len(body)),
		Encoding: encoded.Algorithm,
	}
	e.logger.WithFields(logrus.Fields{
		"bucket": result.Bucket,
		"key":    result.Key,
		"pages":  result.Pages,
		"keys":   result.Keys,
	}).Info("Exported session pages")
	return result, nil
}
