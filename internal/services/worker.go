package services

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"alfredoptarigan/resume-optimizer/internal/cache"
	"alfredoptarigan/resume-optimizer/internal/logger"
)

// Worker supervises background work: optimization runs spawned by the
// runner and the periodic partial-result sweep.
type Worker interface {
	Start(ctx context.Context)
	// Go runs task in the background. It returns false once the worker is stopping.
	Go(name string, task func(ctx context.Context) error) bool
	// Wait blocks until every task started with Go has returned.
	Wait()
	Stop()
}

type worker struct {
	partials      cache.Cache
	sweepInterval time.Duration
	log           *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	stopping bool
	tasks    sync.WaitGroup
	loops    sync.WaitGroup
	stopChan chan struct{}
}

func NewWorker(partials cache.Cache, sweepInterval time.Duration, log *logger.Logger) Worker {
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &worker{
		partials:      partials,
		sweepInterval: sweepInterval,
		log:           log.With("component", "worker"),
		ctx:           ctx,
		cancel:        cancel,
		stopChan:      make(chan struct{}),
	}
}

// Start implements Worker.
func (w *worker) Start(ctx context.Context) {
	w.loops.Add(1)
	go w.sweepPartials(ctx)

	w.log.Info("✅ Worker started", "sweep_interval", w.sweepInterval.String())
}

// Go implements Worker. Panics inside task are recovered and logged so a
// single run can never take the process down.
func (w *worker) Go(name string, task func(ctx context.Context) error) bool {
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		w.log.Warn("⚠️  Worker stopping, rejecting task", "task", name)
		return false
	}
	w.tasks.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("💥 Task panicked",
					"task", name,
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)
			}
		}()

		started := time.Now()
		if err := task(w.ctx); err != nil {
			w.log.Error("❌ Task failed", "task", name, "error", err, "elapsed", time.Since(started).String())
			return
		}
		w.log.Debug("✅ Task finished", "task", name, "elapsed", time.Since(started).String())
	}()
	return true
}

// Wait implements Worker.
func (w *worker) Wait() {
	w.tasks.Wait()
}

// Stop implements Worker. Running tasks see their context cancelled.
func (w *worker) Stop() {
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		return
	}
	w.stopping = true
	w.mu.Unlock()

	w.log.Info("🛑 Stopping worker...")
	close(w.stopChan)
	w.cancel()
	w.loops.Wait()
	w.tasks.Wait()
	w.log.Info("✅ Worker stopped")
}

func (w *worker) sweepPartials(ctx context.Context) {
	defer w.loops.Done()
	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := w.partials.Sweep(ctx)
			if err != nil {
				w.log.Warn("⚠️  Partial result sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				w.log.Info("🧹 Evicted expired partial results", "count", removed)
			}
		}
	}
}
