package authcore

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// auditDispatcher delivers audit events to the sink from a single goroutine.
// Events are stamped and enriched from the request context when queued, and
// the sink sees that context's values without its cancellation.
type auditDispatcher struct {
	cfg    AuditConfig
	sink   AuditSink
	now    func() time.Time
	logger *log.Logger

	queue chan queuedAudit
	done  chan struct{}
	wg    sync.WaitGroup

	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

type queuedAudit struct {
	ctx   context.Context
	event AuditEvent
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink, now func() time.Time, logger *log.Logger) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = log.Default()
	}

	d := &auditDispatcher{
		cfg:    cfg,
		sink:   sink,
		now:    now,
		logger: logger,
		queue:  make(chan queuedAudit, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *auditDispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case q := <-d.queue:
			d.deliver(q)
		case <-d.done:
			for {
				select {
				case q := <-d.queue:
					d.deliver(q)
				default:
					return
				}
			}
		}
	}
}

// deliver isolates the worker from a panicking sink.
func (d *auditDispatcher) deliver(q queuedAudit) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Printf("audit sink panicked on %s event: %v", q.event.EventType, r)
		}
	}()
	d.sink.Emit(q.ctx, q.event)
}

// Emit fills Timestamp, IP and UserAgent when unset, then queues event.
// With DropIfFull a full buffer drops the event and counts it; otherwise Emit
// blocks until there is room or ctx ends.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = d.now().UTC()
	}
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = userAgentFromContext(ctx)
	}
	q := queuedAudit{ctx: context.WithoutCancel(ctx), event: event}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- q:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- q:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.done:
	}
}

// Close stops accepting events, delivers what was queued and waits for the
// sink. Safe to call more than once.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
