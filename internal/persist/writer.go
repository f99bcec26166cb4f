package persist

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/strrl/chatdeck/internal/sessions"
	"github.com/strrl/chatdeck/pkg/models"
)

// SnapshotSource supplies the current collection at write time
type SnapshotSource interface {
	Snapshot() models.Collection
}

// flushRequest asks the writer to persist pending changes and report back
type flushRequest struct {
	done chan error
}

// Writer persists store snapshots in the background. Change notifications
// are coalesced: however many arrive while a write is in progress, at most
// one more write follows, and every write takes a fresh snapshot.
type Writer struct {
	adapter  *Adapter
	source   SnapshotSource
	logger   *zap.Logger
	interval time.Duration
	timeout  time.Duration

	dirty   atomic.Bool
	started atomic.Bool
	signal  chan struct{}
	flushes chan flushRequest
	quit    chan struct{}
	stopped chan struct{}

	mu        sync.Mutex
	lastErr   error
	writes    int
	closed    bool
	closeOnce sync.Once
}

// WriterOption configures a Writer
type WriterOption func(*Writer)

// WithInterval sets the minimum delay between background writes
func WithInterval(d time.Duration) WriterOption {
	return func(w *Writer) { w.interval = d }
}

// WithWriteTimeout bounds a single slot write
func WithWriteTimeout(d time.Duration) WriterOption {
	return func(w *Writer) { w.timeout = d }
}

// WithWriterLogger sets the writer's logger
func WithWriterLogger(logger *zap.Logger) WriterOption {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWriter creates a writer; call Start to begin processing
func NewWriter(adapter *Adapter, source SnapshotSource, opts ...WriterOption) *Writer {
	w := &Writer{
		adapter: adapter,
		source:  source,
		logger:  zap.NewNop(),
		timeout: 10 * time.Second,
		signal:  make(chan struct{}, 1),
		flushes: make(chan flushRequest),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins processing change notifications
func (w *Writer) Start() {
	if w.started.CompareAndSwap(false, true) {
		go w.processRequests()
	}
}

// Observe is a store change listener
func (w *Writer) Observe(c sessions.Change) {
	w.logger.Debug("store changed", zap.String("op", string(c.Op)), zap.String("session_id", c.SessionID))
	w.Notify()
}

// Notify marks the store dirty and wakes the writer without blocking
func (w *Writer) Notify() {
	w.dirty.Store(true)
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// Flush writes any pending change and returns the result of that write
func (w *Writer) Flush(ctx context.Context) error {
	if !w.started.Load() {
		return w.writeIfDirty()
	}

	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return nil
	}

	req := flushRequest{done: make(chan error, 1)}
	select {
	case w.flushes <- req:
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes any pending change and stops the writer
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		if w.started.CompareAndSwap(false, true) {
			// never started: write inline
			w.writeIfDirty()
			close(w.stopped)
			return
		}
		close(w.quit)
	})
	<-w.stopped

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Writes returns how many snapshots were written
func (w *Writer) Writes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}

// processRequests runs the write loop until Close
func (w *Writer) processRequests() {
	defer close(w.stopped)

	for {
		select {
		case <-w.quit:
			w.writeIfDirty()
			return

		case req := <-w.flushes:
			req.done <- w.writeIfDirty()

		case <-w.signal:
			if w.interval > 0 {
				timer := time.NewTimer(w.interval)
				select {
				case <-timer.C:
				case <-w.quit:
					timer.Stop()
					w.writeIfDirty()
					return
				}
			}
			w.writeIfDirty()
		}
	}
}

// writeIfDirty persists the snapshot as it is now, if anything changed
func (w *Writer) writeIfDirty() error {
	if !w.dirty.Swap(false) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	snapshot := w.source.Snapshot()
	err := w.adapter.Save(ctx, snapshot)

	w.mu.Lock()
	w.lastErr = err
	if err == nil && !snapshot.Empty() {
		w.writes++
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("failed to persist sessions", zap.Error(err))
		// keep the change pending so the next notification retries it
		w.dirty.Store(true)
		return err
	}
	return nil
}
