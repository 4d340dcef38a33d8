package activity

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"focusflow-api/domain"
)

// Sink delivers activity records to their destination.
type Sink interface {
	Publish(ctx context.Context, a domain.Activity) error
}

// Options sizes the dispatcher pool.
type Options struct {
	Workers        int
	Buffer         int
	DeliverTimeout time.Duration
	// HandoffTimeout bounds how long Record waits for buffer space before
	// delivering inline.
	HandoffTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Buffer <= 0 {
		o.Buffer = 1024
	}
	if o.DeliverTimeout <= 0 {
		o.DeliverTimeout = 10 * time.Second
	}
	if o.HandoffTimeout < 0 {
		o.HandoffTimeout = 0
	}
	return o
}

// Dispatcher hands activity records to a pool of workers. When the buffer
// stays full past the hand-off timeout the record is delivered on the
// caller's goroutine instead of being dropped.
type Dispatcher struct {
	sink Sink
	log  *log.Logger
	opts Options

	mu     sync.RWMutex
	jobs   chan domain.Activity
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(sink Sink, opts Options, logger *log.Logger) *Dispatcher {
	if logger == nil {
		panic("Logger is not initialized")
	}
	opts = opts.withDefaults()
	d := &Dispatcher{
		sink: sink,
		log:  logger,
		opts: opts,
		jobs: make(chan domain.Activity, opts.Buffer),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Infof("activity dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", opts.Workers, opts.Buffer, opts.DeliverTimeout, opts.HandoffTimeout)
	return d
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for a := range d.jobs {
		d.deliver(context.Background(), a, id)
	}
}

func (d *Dispatcher) deliver(parent context.Context, a domain.Activity, worker int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.opts.DeliverTimeout)
	defer cancel()
	if err := d.sink.Publish(ctx, a); err != nil {
		d.log.WithFields(log.Fields{
			"kind":    a.Kind,
			"project": a.ProjectID,
			"task":    a.TaskID,
			"worker":  worker,
		}).WithError(err).Error("activity delivery failed")
	}
}

// Record queues a for delivery. It implements domain.ActivityRecorder.
func (d *Dispatcher) Record(ctx context.Context, a domain.Activity) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.WithField("kind", a.Kind).Warn("activity dispatcher closed, record dropped")
		return
	}
	if d.tryEnqueue(a) {
		return
	}
	d.log.WithField("kind", a.Kind).Debug("activity buffer saturated, delivering inline")
	d.deliver(ctx, a, -1)
}

func (d *Dispatcher) tryEnqueue(a domain.Activity) bool {
	select {
	case d.jobs <- a:
		return true
	default:
	}
	if d.opts.HandoffTimeout <= 0 {
		return false
	}
	timer := time.NewTimer(d.opts.HandoffTimeout)
	defer timer.Stop()
	select {
	case d.jobs <- a:
		return true
	case <-timer.C:
		return false
	}
}

// Close stops accepting records and waits until queued ones are delivered
// or ctx expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
