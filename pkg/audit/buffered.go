package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/assetperm/pkg/observability"
)

// ErrRecorderClosed is returned when recording after Close
var ErrRecorderClosed = errors.New("audit recorder closed")

// ErrBufferFull is returned when an entry is dropped because the queue is full
var ErrBufferFull = errors.New("audit buffer full")

// DefaultBufferSize is the queue length used when none is configured
const DefaultBufferSize = 1024

// BufferedOption configures a BufferedRecorder
type BufferedOption func(*BufferedRecorder)

// WithBufferSize sets the queue length
func WithBufferSize(n int) BufferedOption {
	return func(b *BufferedRecorder) {
		if n > 0 {
			b.size = n
		}
	}
}

// WithDropHandler is called for every entry dropped on overflow
func WithDropHandler(fn func(*Entry)) BufferedOption {
	return func(b *BufferedRecorder) { b.onDrop = fn }
}

// WithErrorHandler is called when the wrapped recorder fails to persist an entry
func WithErrorHandler(fn func(*Entry, error)) BufferedOption {
	return func(b *BufferedRecorder) { b.onError = fn }
}

// WithWriteTimeout bounds each write to the wrapped recorder
func WithWriteTimeout(d time.Duration) BufferedOption {
	return func(b *BufferedRecorder) { b.timeout = d }
}

// BufferedRecorder queues entries and writes them from a single background
// goroutine. Record never blocks. When the queue is full the entry is
// dropped and counted.
type BufferedRecorder struct {
	next    Recorder
	queue   chan *Entry
	size    int
	timeout time.Duration

	onDrop  func(*Entry)
	onError func(*Entry, error)

	dropped atomic.Int64
	written atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewBufferedRecorder starts a buffered recorder in front of next
func NewBufferedRecorder(next Recorder, opts ...BufferedOption) *BufferedRecorder {
	b := &BufferedRecorder{
		next:    next,
		size:    DefaultBufferSize,
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.queue = make(chan *Entry, b.size)

	go b.run()
	return b
}

// Record enqueues the entry. The entry must not be modified afterwards.
func (b *BufferedRecorder) Record(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return errors.New("audit entry is required")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrRecorderClosed
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	select {
	case b.queue <- entry:
		return nil
	default:
		b.dropped.Add(1)
		if b.onDrop != nil {
			b.onDrop(entry)
		}
		return ErrBufferFull
	}
}

func (b *BufferedRecorder) run() {
	defer close(b.done)
	for entry := range b.queue {
		if err := b.write(entry); err != nil {
			if b.onError != nil {
				b.onError(entry, err)
			}
			continue
		}
		b.written.Add(1)
	}
}

// write persists one entry. A panic in the wrapped recorder is reported as
// an error so the writer goroutine keeps draining the queue.
func (b *BufferedRecorder) write(entry *Entry) (err error) {
	defer observability.RecoverToError(&err, nil, "audit.BufferedRecorder", nil)
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	return b.next.Record(ctx, entry)
}

// Dropped returns the number of entries dropped on overflow
func (b *BufferedRecorder) Dropped() int64 { return b.dropped.Load() }

// Written returns the number of entries persisted by the wrapped recorder
func (b *BufferedRecorder) Written() int64 { return b.written.Load() }

// Close stops accepting entries, flushes the queue and closes the wrapped recorder
func (b *BufferedRecorder) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	<-b.done
	return b.next.Close()
}
