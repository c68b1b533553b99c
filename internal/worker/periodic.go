package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/peer-exchange/internal/observability"
	"go.uber.org/zap"
)

// Job is one pass of a background task.
type Job func(ctx context.Context) error

// PeriodicWorker runs a Job once at startup and then on every tick.
type PeriodicWorker struct {
	name     string
	job      Job
	interval time.Duration
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewPeriodicWorker constructs a worker with a default hourly interval.
func NewPeriodicWorker(name string, job Job, logger *zap.Logger) *PeriodicWorker {
	if logger == nil {
		logger = zap.L()
	}
	return &PeriodicWorker{
		name:     name,
		job:      job,
		interval: time.Hour,
		logger:   logger.With(zap.String("worker", name)),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// WithInterval updates the run interval.
func (w *PeriodicWorker) WithInterval(interval time.Duration) *PeriodicWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks and runs the job at the configured interval.
func (w *PeriodicWorker) Start(ctx context.Context) {
	defer close(w.done)
	w.logger.Info("worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker context canceled")
			return
		case <-w.stopCh:
			w.logger.Info("worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop and waits for the current pass to end.
func (w *PeriodicWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	<-w.done
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *PeriodicWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *PeriodicWorker) runOnce(ctx context.Context) {
	if err := w.job(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		observability.IncrementWorkerRun(w.name, "failed")
		w.logger.Error("worker run failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun(w.name, "success")
}
