package history

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// defaultRecorderBuffer is the event queue length when unspecified.
	defaultRecorderBuffer = 64

	// recordTimeout bounds one repository write.
	recordTimeout = 5 * time.Second
)

// Logger is the subset of logging the recorder needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Recorder decouples event producers from repository writes.
//
// The coordinator's event loop must never block on disk, so Record only
// enqueues; a single worker goroutine drains the queue into the
// repository. When the queue is full the event is dropped and counted,
// which is preferable to stalling door control for an audit row.
//
// Thread Safety: Record may be called from any goroutine.
type Recorder struct {
	repo   Repository
	events chan Event
	logger Logger

	dropped atomic.Uint64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRecorder creates a recorder and starts its worker.
//
// Parameters:
//   - repo: Destination repository
//   - buffer: Queue length (default 64 when <= 0)
//   - logger: Optional logger for write failures (may be nil)
//
// Returns:
//   - *Recorder: Running recorder; call Close on shutdown
func NewRecorder(repo Repository, buffer int, logger Logger) *Recorder {
	if buffer <= 0 {
		buffer = defaultRecorderBuffer
	}

	r := &Recorder{
		repo:   repo,
		events: make(chan Event, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}

	r.wg.Add(1)
	go r.run()

	return r
}

// Record enqueues an event for persistence. Never blocks.
//
// Events recorded after Close are silently discarded.
func (r *Recorder) Record(event Event) {
	select {
	case <-r.done:
		return
	default:
	}

	select {
	case r.events <- event:
	default:
		r.dropped.Add(1)
		if r.logger != nil {
			r.logger.Warn("event log queue full, dropping event",
				"category", event.Category,
				"dropped_total", r.dropped.Load(),
			)
		}
	}
}

// Dropped returns the number of events discarded due to a full queue.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close stops the worker after flushing queued events.
func (r *Recorder) Close() error {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
	return nil
}

// run drains the queue into the repository.
func (r *Recorder) run() {
	defer r.wg.Done()

	for {
		select {
		case <-r.done:
			// Flush whatever is still buffered before exiting
			for {
				select {
				case event := <-r.events:
					r.write(event)
				default:
					return
				}
			}
		case event := <-r.events:
			r.write(event)
		}
	}
}

// write persists one event with a bounded timeout.
func (r *Recorder) write(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.repo.RecordEvent(ctx, event); err != nil && r.logger != nil {
		r.logger.Error("recording door event",
			"category", event.Category,
			"error", err,
		)
	}
}
