// Package worker runs the background flush loop that drains write buffers and
// enforces retention on the active storage backend.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/goflare/flare/internal/pkg/logger"
	"github.com/goflare/flare/internal/pkg/prom"
	"github.com/goflare/flare/internal/storage"
)

// Worker owns the flush loop lifecycle. One worker per Setup; Start and Stop
// are not safe to interleave from multiple goroutines.
type Worker struct {
	store    storage.Store
	interval time.Duration

	cancel    context.CancelFunc
	done      chan struct{}
	running   atomic.Bool
	cycles    atomic.Int64 // successful cycles only
	startedAt time.Time
}

func New(store storage.Store, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Worker{store: store, interval: interval}
}

// Start launches the loop. Flush errors are logged and swallowed; the loop
// never dies on its own.
func (w *Worker) Start() {
	if w.running.Load() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	w.startedAt = time.Now()
	w.running.Store(true)

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.store.Flush(ctx, false); err != nil {
					logger.Warn("flush cycle failed", "error", err.Error())
					continue
				}
				w.cycles.Add(1)
				prom.FlushCycles.Inc()
			}
		}
	}()
	logger.Info("retention worker started", "interval", w.interval.String())
}

// Stop cancels the loop, waits for it to exit, runs one final forced flush and
// closes the storage backend.
func (w *Worker) Stop(ctx context.Context) {
	if !w.running.Load() {
		return
	}
	w.cancel()
	// The loop exits promptly once cancelled; waiting unconditionally keeps
	// Close from racing an in-flight flush cycle.
	<-w.done
	w.running.Store(false)

	if err := w.store.Flush(ctx, true); err != nil {
		logger.Warn("final flush failed", "error", err.Error())
	}
	if err := w.store.Close(); err != nil {
		logger.Warn("storage close failed", "error", err.Error())
	}
	logger.Info("retention worker stopped", "cycles", w.cycles.Load())
}

func (w *Worker) Running() bool {
	return w.running.Load()
}

func (w *Worker) FlushCycles() int64 {
	return w.cycles.Load()
}

// Uptime is the time since Start; zero when never started.
func (w *Worker) Uptime() time.Duration {
	if w.startedAt.IsZero() {
		return 0
	}
	return time.Since(w.startedAt)
}
