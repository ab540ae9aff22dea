package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/zoobzio/capitan"
)

var (
	ErrQueueFull      = errors.New("write-behind queue is full")
	ErrNotStarted     = errors.New("write-behind pool not started")
	ErrStopped        = errors.New("write-behind pool stopped")
	ErrAlreadyStarted = errors.New("write-behind pool already started")
	ErrStopTimeout    = errors.New("write-behind pool stop timed out")
)

const (
	DefaultWorkers   = 2
	DefaultQueueSize = 256
)

// Metadata describes where a cached result came from.
type Metadata struct {
	Provider       string    `json:"provider"`
	Endpoint       string    `json:"endpoint"`
	RequestSummary string    `json:"request_summary"`
	CapturedAt     time.Time `json:"captured_at"`
}

// Record is one unit of write-behind work.
type Record struct {
	Key      string
	Value    any
	Metadata Metadata
}

// Sink is the durable target of a WriteBehind pool.
type Sink interface {
	Store(ctx context.Context, key string, value any, meta Metadata) error
}

// WriteBehindStats are the pool counters.
type WriteBehindStats struct {
	Submitted  int64 `json:"submitted"`
	Written    int64 `json:"written"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
	QueueDepth int   `json:"queue_depth"`
}

// WriteBehind persists records on a fixed set of workers fed by a bounded
// queue. Submit never blocks; write failures are logged and counted.
type WriteBehind struct {
	sink      Sink
	workers   int
	queueSize int
	logger    zerolog.Logger

	queue chan Record
	wg    sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	written   atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// WriteBehindOption configures a WriteBehind.
type WriteBehindOption func(*WriteBehind)

// WithWorkers sets the number of writer goroutines.
func WithWorkers(n int) WriteBehindOption {
	return func(w *WriteBehind) { w.workers = n }
}

// WithQueueSize bounds the number of pending records.
func WithQueueSize(n int) WriteBehindOption {
	return func(w *WriteBehind) { w.queueSize = n }
}

// NewWriteBehind creates a stopped pool writing to sink.
func NewWriteBehind(sink Sink, logger zerolog.Logger, opts ...WriteBehindOption) *WriteBehind {
	w := &WriteBehind{
		sink:      sink,
		workers:   DefaultWorkers,
		queueSize: DefaultQueueSize,
		logger:    logger.With().Str("component", "writeBehind").Logger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.workers <= 0 {
		w.workers = DefaultWorkers
	}
	if w.queueSize <= 0 {
		w.queueSize = DefaultQueueSize
	}
	w.queue = make(chan Record, w.queueSize)
	return w
}

// Start launches the workers. They exit when ctx ends or Stop drains the queue.
func (w *WriteBehind) Start(ctx context.Context) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.started {
		return ErrAlreadyStarted
	}
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.worker(ctx)
	}
	w.started = true
	w.logger.Debug().Int("workers", w.workers).Int("queue_size", w.queueSize).Msg("Write-behind started")
	return nil
}

// Submit queues rec without blocking.
func (w *WriteBehind) Submit(rec Record) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.started {
		return ErrNotStarted
	}
	if w.stopped {
		return ErrStopped
	}

	select {
	case w.queue <- rec:
		w.submitted.Add(1)
		return nil
	default:
		w.dropped.Add(1)
		capitan.Error(context.Background(), WriteBehindDrop, KeyKey.Field(rec.Key))
		w.logger.Warn().Str("key", rec.Key).Msg("Write-behind queue full, dropping record")
		return ErrQueueFull
	}
}

// Stop closes the queue and waits up to timeout for pending records.
func (w *WriteBehind) Stop(timeout time.Duration) error {
	w.lifecycleMu.Lock()
	if !w.started || w.stopped {
		w.lifecycleMu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.queue)
	w.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns the pool counters.
func (w *WriteBehind) Stats() WriteBehindStats {
	return WriteBehindStats{
		Submitted:  w.submitted.Load(),
		Written:    w.written.Load(),
		Failed:     w.failed.Load(),
		Dropped:    w.dropped.Load(),
		QueueDepth: len(w.queue),
	}
}

func (w *WriteBehind) worker(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-w.queue:
			if !ok {
				return
			}
			w.write(ctx, rec)
		}
	}
}

func (w *WriteBehind) write(ctx context.Context, rec Record) {
	defer func() {
		if r := recover(); r != nil {
			w.failed.Add(1)
			w.logger.Error().Interface("panic", r).Str("key", rec.Key).Msg("Write-behind sink panicked")
		}
	}()

	if rec.Metadata.CapturedAt.IsZero() {
		rec.Metadata.CapturedAt = time.Now()
	}
	if err := w.sink.Store(ctx, rec.Key, rec.Value, rec.Metadata); err != nil {
		w.failed.Add(1)
		capitan.Error(ctx, WriteBehindError, KeyKey.Field(rec.Key), ErrorKey.Field(err.Error()))
		w.logger.Warn().Err(err).Str("key", rec.Key).Str("provider", rec.Metadata.Provider).Msg("Write-behind store failed")
		return
	}
	w.written.Add(1)
}
