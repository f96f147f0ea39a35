// Package results buffers call-attempt rows and writes them to the store in
// batches. Sessions append concurrently; flushes are serialized so the
// append-only log stays ordered per writer.
package results

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/elie-eliseai/callzilla/internal/store"
)

type Writer struct {
	store          store.Store
	flushInterval  time.Duration
	flushThreshold int
	bufferMax      int

	mu              sync.Mutex
	buffer          []store.CallAttempt
	consecutiveFail int
	alertPublish    func(subject string, data []byte) error

	done chan struct{}
}

type Config struct {
	FlushInterval  time.Duration
	FlushThreshold int
	BufferMax      int
}

func New(s store.Store, cfg Config) *Writer {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = 20
	}
	if cfg.BufferMax <= 0 {
		cfg.BufferMax = 1000
	}
	return &Writer{
		store:          s,
		flushInterval:  cfg.FlushInterval,
		flushThreshold: cfg.FlushThreshold,
		bufferMax:      cfg.BufferMax,
		buffer:         make([]store.CallAttempt, 0, cfg.FlushThreshold),
		done:           make(chan struct{}),
	}
}

// SetAlertPublisher sets the function used to publish system alerts.
func (w *Writer) SetAlertPublisher(fn func(subject string, data []byte) error) {
	w.alertPublish = fn
}

// Add enqueues an attempt row for batched writing. Never blocks.
func (w *Writer) Add(a store.CallAttempt) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Backpressure: drop oldest if buffer full.
	if len(w.buffer) >= w.bufferMax {
		dropped := len(w.buffer) - w.bufferMax + 1
		w.buffer = w.buffer[dropped:]
		slog.Warn("results buffer overflow, dropping oldest rows", "dropped", dropped, "buffer_size", w.bufferMax)
		w.publishAlert("dial.system.results.buffer_overflow", []byte(`{"message":"results buffer overflow, dropping rows"}`))
	}

	w.buffer = append(w.buffer, a)

	// Flush immediately if threshold reached.
	if len(w.buffer) >= w.flushThreshold {
		go w.flush()
	}
	return nil
}

// Start begins the periodic flush ticker.
func (w *Writer) Start(ctx context.Context) {
	ticker := time.NewTicker(w.flushInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.flush()
			case <-ctx.Done():
				// Final flush on shutdown.
				w.flush()
				close(w.done)
				return
			}
		}
	}()
}

// Wait blocks until the writer has completed its final flush.
func (w *Writer) Wait() {
	<-w.done
}

// BufferLen returns the current buffer size (for health checks).
func (w *Writer) BufferLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

func (w *Writer) flush() {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.buffer
	w.buffer = make([]store.CallAttempt, 0, w.flushThreshold)
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := w.store.InsertAttempts(ctx, batch); err != nil {
		slog.Error("failed to insert attempts", "error", err, "count", len(batch))
		w.handleWriteFailure(batch)
		return
	}

	w.mu.Lock()
	w.consecutiveFail = 0
	w.mu.Unlock()

	slog.Info("attempt batch flushed", "count", len(batch))
}

func (w *Writer) handleWriteFailure(batch []store.CallAttempt) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.consecutiveFail++

	// Re-queue the failed batch (prepend so order is maintained).
	w.buffer = append(batch, w.buffer...)

	// Trim if re-queueing caused overflow.
	if len(w.buffer) > w.bufferMax {
		w.buffer = w.buffer[len(w.buffer)-w.bufferMax:]
	}

	if w.consecutiveFail >= 3 {
		slog.Error("3 consecutive attempt write failures", "buffer_size", len(w.buffer))
		w.publishAlert("dial.system.results.write_failure", []byte(`{"message":"3 consecutive database write failures"}`))
	}
}

func (w *Writer) publishAlert(subject string, data []byte) {
	if w.alertPublish != nil {
		if err := w.alertPublish(subject, data); err != nil {
			slog.Error("failed to publish alert", "subject", subject, "error", err)
		}
	}
}
