package kvstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// BadgerOptions configures a BadgerEngine
type BadgerOptions struct {
	DataDir           string
	SyncWrites        bool
	CompactionEnabled bool
	// InMemory keeps everything in RAM; DataDir is ignored
	InMemory bool
	Logger   *logrus.Logger
}

// BadgerEngine implements Engine on BadgerDB. Expiring keys use Badger's
// native entry TTL.
type BadgerEngine struct {
	db     *badger.DB
	logger *logrus.Logger
	ready  atomic.Bool
	stopCh chan struct{}
}

// NewBadgerEngine opens a BadgerDB under DataDir/keys
func NewBadgerEngine(opts BadgerOptions) (*BadgerEngine, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	dbPath := filepath.Join(opts.DataDir, "keys")
	badgerOpts := badger.DefaultOptions(dbPath)
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
		dbPath = ":memory:"
	}
	badgerOpts = badgerOpts.
		WithLogger(newBadgerLogger(opts.Logger)).
		WithSyncWrites(opts.SyncWrites).
		WithIndexCacheSize(64 << 20).
		WithBlockCacheSize(128 << 20).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	e := &BadgerEngine{
		db:     db,
		logger: opts.Logger,
		stopCh: make(chan struct{}),
	}
	e.ready.Store(true)

	if opts.CompactionEnabled && !opts.InMemory {
		go e.runGC()
	}

	opts.Logger.WithField("path", dbPath).Info("BadgerDB key store initialized")
	return e, nil
}

// GetRaw retrieves a raw value from BadgerDB
func (e *BadgerEngine) GetRaw(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}

		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// PutRaw stores a raw value in BadgerDB
func (e *BadgerEngine) PutRaw(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return e.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

// DeleteRaw deletes a key from BadgerDB
func (e *BadgerEngine) DeleteRaw(ctx context.Context, key string) error {
	return e.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete([]byte(key))
	})
}

// RawScan iterates all keys with the given prefix starting from startKey.
// fn receives copies; returning false stops the scan.
func (e *BadgerEngine) RawScan(ctx context.Context, prefix, startKey string, fn func(key string, val []byte) bool) error {
	return e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := []byte(prefix)
		if startKey != "" && startKey >= prefix {
			seek = []byte(startKey)
		}

		for it.Seek(seek); it.ValidForPrefix([]byte(prefix)); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			keyCopy := string(item.KeyCopy(nil))
			valCopy, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !fn(keyCopy, valCopy) {
				break
			}
		}
		return nil
	})
}

// RawGC runs BadgerDB value-log garbage collection
func (e *BadgerEngine) RawGC() error {
	err := e.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Close closes the database
func (e *BadgerEngine) Close() error {
	if !e.ready.Swap(false) {
		return nil
	}
	close(e.stopCh)
	e.logger.Info("Closing BadgerDB key store")
	return e.db.Close()
}

// runGC runs garbage collection periodically
func (e *BadgerEngine) runGC() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if err := e.RawGC(); err != nil {
				e.logger.WithError(err).Warn("Failed to run GC")
			}
		}
	}
}

// badgerLogger adapts logrus to BadgerDB's logger interface
type badgerLogger struct {
	logger *logrus.Logger
}

func newBadgerLogger(logger *logrus.Logger) *badgerLogger {
	return &badgerLogger{logger: logger}
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Tracef("[BadgerDB] "+format, args...)
}

var _ Engine = (*BadgerEngine)(nil)
