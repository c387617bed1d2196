package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher forwards entries to a sink from a single worker goroutine, so
// entries reach the sink in the order they were emitted.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	logger    *slog.Logger
	ch        chan Entry
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewDispatcher(cfg Config, sink Sink, logger *slog.Logger) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		ch:     make(chan Entry, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case entry := <-d.ch:
			d.deliver(entry)
		case <-d.done:
			for {
				select {
				case entry := <-d.ch:
					d.deliver(entry)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(entry Entry) {
	// A panicking sink must not take the worker, or the process, down with it.
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.logger.Warn("audit sink panicked",
				slog.String("audit_id", entry.ID),
				slog.String("action", string(entry.ActionType)),
				slog.String("session_id", entry.SessionID),
				slog.Any("panic", r),
			)
		}
	}()

	if err := d.sink.Emit(context.Background(), entry); err != nil {
		d.failed.Add(1)
		d.logger.Warn("audit sink emit failed",
			slog.String("audit_id", entry.ID),
			slog.String("action", string(entry.ActionType)),
			slog.String("session_id", entry.SessionID),
			slog.Any("error", err),
		)
	}
}

// Emit queues entry. It never blocks past ctx and never reports sink errors.
func (d *Dispatcher) Emit(ctx context.Context, entry Entry) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- entry:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- entry:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.done:
	}
}

// Close drains queued entries and stops the worker.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed counts entries the sink rejected.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
