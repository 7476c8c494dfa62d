package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/sirupsen/logrus"
)

// PebbleOptions configures a PebbleEngine
type PebbleOptions struct {
	DataDir    string
	SyncWrites bool
	Logger     *logrus.Logger
}

// PebbleEngine implements Engine on Pebble. Pebble has no entry TTL, so the
// ttl argument is ignored and expired records are dropped by Store.
type PebbleEngine struct {
	db        *pebble.DB
	logger    *logrus.Logger
	writeOpts *pebble.WriteOptions
	ready     atomic.Bool
}

// NewPebbleEngine opens a Pebble database under DataDir/keys
func NewPebbleEngine(opts PebbleOptions) (*PebbleEngine, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	dbPath := filepath.Join(opts.DataDir, "keys")
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create key store directory: %w", err)
	}

	cache := pebble.NewCache(128 << 20)
	defer cache.Unref()

	db, err := pebble.Open(dbPath, &pebble.Options{
		Cache: cache,
		Levels: []pebble.LevelOptions{
			{Compression: pebble.SnappyCompression},
		},
		Logger: &pebbleLogger{logger: opts.Logger},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}

	writeOpts := pebble.NoSync
	if opts.SyncWrites {
		writeOpts = pebble.Sync
	}

	e := &PebbleEngine{
		db:        db,
		logger:    opts.Logger,
		writeOpts: writeOpts,
	}
	e.ready.Store(true)

	opts.Logger.WithField("path", dbPath).Info("Pebble key store initialized")
	return e, nil
}

// prefixEnd returns the exclusive upper bound for a prefix scan.
// It increments the last byte of the prefix; returns nil if all bytes overflow.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// GetRaw reads a single key and returns a safe copy of the value
func (e *PebbleEngine) GetRaw(ctx context.Context, key string) ([]byte, error) {
	val, closer, err := e.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	data := make([]byte, len(val))
	copy(data, val)
	_ = closer.Close()
	return data, nil
}

// PutRaw stores a key-value pair
func (e *PebbleEngine) PutRaw(ctx context.Context, key string, value []byte, _ time.Duration) error {
	return e.db.Set([]byte(key), value, e.writeOpts)
}

// DeleteRaw removes a key
func (e *PebbleEngine) DeleteRaw(ctx context.Context, key string) error {
	if _, err := e.GetRaw(ctx, key); err != nil {
		return err
	}
	return e.db.Delete([]byte(key), e.writeOpts)
}

// RawScan iterates keys with the given prefix starting from startKey.
// fn receives copies; returning false stops the scan.
func (e *PebbleEngine) RawScan(ctx context.Context, prefix, startKey string, fn func(key string, val []byte) bool) error {
	lower := []byte(prefix)
	upper := prefixEnd(lower)

	seekKey := lower
	if startKey != "" && startKey >= prefix {
		seekKey = []byte(startKey)
	}

	iterOpts := &pebble.IterOptions{LowerBound: lower, UpperBound: upper}
	if prefix == "" {
		iterOpts = &pebble.IterOptions{}
	}
	iter, err := e.db.NewIter(iterOpts)
	if err != nil {
		return fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close() //nolint:errcheck

	for valid := iter.SeekGE(seekKey); valid; valid = iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		keyCopy := string(iter.Key())
		val := iter.Value()
		valCopy := make([]byte, len(val))
		copy(valCopy, val)
		if !fn(keyCopy, valCopy) {
			break
		}
	}
	return iter.Error()
}

// RawGC is a no-op for Pebble (it auto-compacts)
func (e *PebbleEngine) RawGC() error { return nil }

// Close closes the database
func (e *PebbleEngine) Close() error {
	if !e.ready.Swap(false) {
		return nil
	}
	e.logger.Info("Closing Pebble key store")
	return e.db.Close()
}

// pebbleLogger adapts logrus to pebble's Logger interface (Infof + Fatalf)
type pebbleLogger struct {
	logger *logrus.Logger
}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf("[Pebble] "+format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	l.logger.Fatalf("[Pebble] "+format, args...)
}

var _ Engine = (*PebbleEngine)(nil)
