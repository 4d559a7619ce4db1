package detection

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultEventQueue  = 1024
	DefaultEmitTimeout = 10 * time.Second
)

// outbox hands events to a Sink from one goroutine in the order they were
// queued. push never blocks, so the manager can queue while holding its lock.
type outbox struct {
	sink    Sink
	limit   int
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Event
	inflight bool
	closed   bool
	done     chan struct{}
}

func newOutbox(sink Sink, limit int, timeout time.Duration, logger *zap.Logger) *outbox {
	if limit <= 0 {
		limit = DefaultEventQueue
	}
	if timeout <= 0 {
		timeout = DefaultEmitTimeout
	}
	o := &outbox{sink: sink, limit: limit, timeout: timeout, logger: logger, done: make(chan struct{})}
	o.cond = sync.NewCond(&o.mu)
	go o.run()
	return o
}

// push queues ev. It reports false when the queue is full or closed.
func (o *outbox) push(ev Event) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || len(o.queue) >= o.limit {
		return false
	}
	o.queue = append(o.queue, ev)
	o.cond.Broadcast()
	return true
}

func (o *outbox) run() {
	defer close(o.done)
	for {
		o.mu.Lock()
		for len(o.queue) == 0 && !o.closed {
			o.cond.Wait()
		}
		if len(o.queue) == 0 {
			o.mu.Unlock()
			return
		}
		ev := o.queue[0]
		o.queue[0] = Event{}
		o.queue = o.queue[1:]
		o.inflight = true
		o.mu.Unlock()

		o.deliver(ev)

		o.mu.Lock()
		o.inflight = false
		o.cond.Broadcast()
		o.mu.Unlock()
	}
}

func (o *outbox) deliver(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	if err := o.sink.Emit(ctx, ev); err != nil {
		o.logger.Error("event publish failed", zap.String("event", string(ev.Type)), zap.Error(err))
	}
}

// flush waits until every queued event has been handed to the sink.
func (o *outbox) flush() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for len(o.queue) > 0 || o.inflight {
		o.cond.Wait()
	}
}

// close stops accepting events and waits for the queue to drain.
func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.cond.Broadcast()
	o.mu.Unlock()
	<-o.done
}
