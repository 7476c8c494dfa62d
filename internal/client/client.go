// Package client talks to the key store's REST API. It is the Scanner and
// TypeResolver the browser runs against.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kvscope/kvscope/internal/browser"
	"github.com/sirupsen/logrus"
)

// ErrKeyNotFound is returned when the store reports 404 for a key
var ErrKeyNotFound = errors.New("key not found")

// StatusError is a non-2xx reply from the store
type StatusError struct {
	Method  string
	URL     string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: %d", e.Method, e.URL, e.Status)
}

// Is lets errors.Is(err, ErrKeyNotFound) match a 404
func (e *StatusError) Is(target error) bool {
	return target == ErrKeyNotFound && e.Status == http.StatusNotFound
}

// Options configures a Client
type Options struct {
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// Client is a key store API client
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Entry
}

// New creates a client for the store at baseURL
func New(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: opts.HTTPClient,
		logger:     opts.Logger.WithFields(logrus.Fields{"component": "store_client", "store": baseURL}),
	}
}

type scanResponse struct {
	Keys     []string `json:"keys"`
	Cursor   string   `json:"cursor"`
	Complete bool     `json:"complete"`
}

type typeResponse struct {
	Key  string `json:"key"`
	Type string `json:"type"`
}

type setValueRequest struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
	TTL   int64           `json:"ttl"`
}

type expireRequest struct {
	Seconds int64 `json:"seconds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Scan fetches one step of a cursor iteration
func (c *Client) Scan(ctx context.Context, pattern, cursor string, count int) (browser.ScanResult, error) {
	q := url.Values{}
	q.Set("match", pattern)
	q.Set("cursor", cursor)
	q.Set("count", strconv.Itoa(count))

	var resp scanResponse
	if err := c.getJSON(ctx, "/v1/scan", q, &resp); err != nil {
		return browser.ScanResult{}, err
	}
	if resp.Cursor == "" {
		return browser.ScanResult{}, fmt.Errorf("scan response without cursor")
	}
	if resp.Keys == nil {
		resp.Keys = []string{}
	}
	return browser.ScanResult{Keys: resp.Keys, Cursor: resp.Cursor, Complete: resp.Complete}, nil
}

// GetType returns the type of key
func (c *Client) GetType(ctx context.Context, key string) (string, error) {
	var resp typeResponse
	if err := c.getJSON(ctx, "/v1/type", keyQuery(key), &resp); err != nil {
		return "", err
	}
	if resp.Type == "" {
		return "", fmt.Errorf("type response for %q without type", key)
	}
	return resp.Type, nil
}

// GetValue returns the value of key with its type and remaining ttl
func (c *Client) GetValue(ctx context.Context, key string) (*browser.KeyValue, error) {
	var kv browser.KeyValue
	if err := c.getJSON(ctx, "/v1/value", keyQuery(key), &kv); err != nil {
		return nil, err
	}
	return &kv, nil
}

// SetValue writes key. ttlSeconds 0 keeps it forever.
func (c *Client) SetValue(ctx context.Context, key, valueType string, value json.RawMessage, ttlSeconds int64) error {
	body := setValueRequest{Type: valueType, Value: value, TTL: ttlSeconds}
	return c.doJSON(ctx, http.MethodPut, "/v1/value", keyQuery(key), body, nil)
}

// DeleteKey removes key
func (c *Client) DeleteKey(ctx context.Context, key string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/value", keyQuery(key), nil, nil)
}

// ExpireKey makes key expire in seconds; seconds <= 0 deletes it
func (c *Client) ExpireKey(ctx context.Context, key string, seconds int64) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/expire", keyQuery(key), expireRequest{Seconds: seconds}, nil)
}

// Health checks that the store answers
func (c *Client) Health(ctx context.Context) error {
	return c.getJSON(ctx, "/health", nil, nil)
}

// WaitReady polls Health with exponential backoff until it succeeds, ctx
// ends or timeout elapses
func (c *Client) WaitReady(ctx context.Context, timeout time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = timeout
	b.RandomizationFactor = 0.1

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := c.Health(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		c.logger.WithError(err).WithField("attempt", attempt).Debug("Store not ready yet")
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return fmt.Errorf("store at %s not ready: %w", c.baseURL, err)
	}
	c.logger.WithField("attempts", attempt).Info("Store is ready")
	return nil
}

func keyQuery(key string) url.Values {
	return url.Values{"key": []string{key}}
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out interface{}) error {
	return c.doJSON(ctx, http.MethodGet, path, q, nil, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, q url.Values, body, out interface{}) error {
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		statusErr := &StatusError{Method: method, URL: path, Status: resp.StatusCode}
		var errBody errorResponse
		if json.NewDecoder(resp.Body).Decode(&errBody) == nil {
			statusErr.Message = errBody.Error
		}
		return statusErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

var (
	_ browser.Scanner      = (*Client)(nil)
	_ browser.TypeResolver = (*Client)(nil)
)
