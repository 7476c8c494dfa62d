package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Common errors
var (
	ErrNotFound       = errors.New("key not found")
	ErrInvalidKey     = errors.New("invalid key")
	ErrInvalidType    = errors.New("invalid value type")
	ErrInvalidValue   = errors.New("value does not match its type")
	ErrInvalidCursor  = errors.New("invalid cursor")
	ErrInvalidPattern = errors.New("invalid pattern")
)

// Engine provides low-level key-value access to the storage backend. Store
// is written against this interface only, so the backend is chosen by
// configuration.
type Engine interface {
	// GetRaw retrieves a value by exact key. Returns ErrNotFound if absent.
	GetRaw(ctx context.Context, key string) ([]byte, error)

	// PutRaw stores a key-value pair. A positive ttl lets engines with native
	// expiry drop the key on their own; Store enforces expiry either way.
	PutRaw(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// DeleteRaw removes a key. Returns ErrNotFound if absent.
	DeleteRaw(ctx context.Context, key string) error

	// RawScan iterates all keys that share the given prefix in lexicographic
	// order, beginning at startKey (or the first key in the prefix if startKey
	// is empty). fn receives a copy of each (key, value); returning false
	// stops the scan early.
	RawScan(ctx context.Context, prefix, startKey string, fn func(key string, val []byte) bool) error

	// RawGC triggers a garbage-collection pass if the engine supports it
	RawGC() error

	Close() error
}

// Engine names accepted by OpenEngine
const (
	EngineBadger = "badger"
	EnginePebble = "pebble"
	EngineMemory = "memory"
)

// EngineOptions selects and configures an engine
type EngineOptions struct {
	Engine     string
	DataDir    string
	SyncWrites bool
	Logger     *logrus.Logger
}

// OpenEngine opens the engine named in opts
func OpenEngine(opts EngineOptions) (Engine, error) {
	switch opts.Engine {
	case EngineBadger, "":
		return NewBadgerEngine(BadgerOptions{
			DataDir:           opts.DataDir,
			SyncWrites:        opts.SyncWrites,
			CompactionEnabled: true,
			Logger:            opts.Logger,
		})
	case EnginePebble:
		return NewPebbleEngine(PebbleOptions{
			DataDir:    opts.DataDir,
			SyncWrites: opts.SyncWrites,
			Logger:     opts.Logger,
		})
	case EngineMemory:
		return NewMemoryEngine(), nil
	default:
		return nil, fmt.Errorf("unknown storage engine %q", opts.Engine)
	}
}
