package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/kvscope/kvscope/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Purger removes expired keys from a store
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// Worker periodically sweeps expired keys. Reads already hide expired keys,
// the sweep only reclaims their space.
type Worker struct {
	purger   Purger
	metrics  metrics.Manager
	logger   *logrus.Entry
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWorker creates a new expiry worker
func NewWorker(purger Purger, metricsManager metrics.Manager, logger *logrus.Logger) *Worker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Worker{
		purger:   purger,
		metrics:  metricsManager,
		logger:   logger.WithField("component", "expiry_worker"),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start sweeps once immediately, then every interval until Stop or ctx is done
func (w *Worker) Start(ctx context.Context, interval time.Duration) {
	w.logger.WithField("interval", interval).Info("Expiry worker started")

	go func() {
		defer close(w.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		w.Sweep(ctx)
		for {
			select {
			case <-ticker.C:
				w.Sweep(ctx)
			case <-w.stopChan:
				w.logger.Info("Expiry worker stopped")
				return
			case <-ctx.Done():
				w.logger.Info("Expiry worker stopped due to context cancellation")
				return
			}
		}
	}()
}

// Stop stops the worker and waits for a running sweep to finish. It must
// follow Start.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.done
}

// Sweep runs one purge pass and returns the number of keys removed
func (w *Worker) Sweep(ctx context.Context) int {
	start := time.Now()
	purged, err := w.purger.PurgeExpired(ctx)
	if w.metrics != nil {
		w.metrics.RecordStoreOperation("purge_expired", err == nil, time.Since(start))
	}
	if err != nil {
		if ctx.Err() == nil {
			w.logger.WithError(err).Error("Failed to purge expired keys")
		}
		return purged
	}
	if purged > 0 {
		w.logger.WithField("purged", purged).Info("Purged expired keys")
	} else {
		w.logger.Debug("No expired keys to purge")
	}
	return purged
}
