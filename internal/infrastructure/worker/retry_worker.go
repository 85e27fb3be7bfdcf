package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DueRetrier re-attempts dispatch for pending triggers whose backoff elapsed
type DueRetrier interface {
	RetryDue(ctx context.Context, limit int) (int, error)
}

// RetryWorkerConfig holds configuration for the retry worker
type RetryWorkerConfig struct {
	ScanInterval time.Duration
	BatchSize    int
}

// DefaultRetryWorkerConfig returns default configuration
func DefaultRetryWorkerConfig() RetryWorkerConfig {
	return RetryWorkerConfig{
		ScanInterval: 2 * time.Second,
		BatchSize:    50,
	}
}

// RetryWorker periodically drives pending dispatch retries
type RetryWorker struct {
	config  RetryWorkerConfig
	retrier DueRetrier
	logger  *zap.Logger

	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
	attempts  int
	lastError error
}

// NewRetryWorker creates a new retry worker
func NewRetryWorker(config RetryWorkerConfig, retrier DueRetrier, logger *zap.Logger) *RetryWorker {
	def := DefaultRetryWorkerConfig()
	if config.ScanInterval <= 0 {
		config.ScanInterval = def.ScanInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	return &RetryWorker{config: config, retrier: retrier, logger: logger}
}

// Start begins the scan loop
func (w *RetryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("retry worker already running")
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.isRunning = true
	w.mu.Unlock()

	w.logger.Info("RetryWorker started",
		zap.Duration("scan_interval", w.config.ScanInterval),
		zap.Int("batch_size", w.config.BatchSize))

	go w.scanLoop(ctx)
	return nil
}

// Stop terminates the loop and waits for the current scan to finish
func (w *RetryWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.logger.Info("RetryWorker stopped", zap.Int("attempts", w.Attempts()))
	return nil
}

func (w *RetryWorker) Name() string {
	return "RetryWorker"
}

// Attempts returns the number of dispatch attempts made so far
func (w *RetryWorker) Attempts() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.attempts
}

func (w *RetryWorker) scanLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.retrier.RetryDue(ctx, w.config.BatchSize)

			w.mu.Lock()
			w.attempts += n
			w.lastError = err
			w.mu.Unlock()

			if err != nil && ctx.Err() == nil {
				w.logger.Error("Failed to process due retries", zap.Error(err))
			} else if n > 0 {
				w.logger.Debug("Processed due retries", zap.Int("attempts", n))
			}
		}
	}
}
