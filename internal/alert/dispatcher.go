package alert

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"care-coordination-server/internal/metrics"
)

// Dispatcher queues alerts and delivers them on a fixed worker pool.
// Delivery failures are logged and counted, never returned to the producer.
type Dispatcher struct {
	sender      Sender
	queue       chan Alert
	workers     int
	sendTimeout time.Duration
	metrics     *metrics.Recorder
	logger      zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

type DispatcherOptions struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

func NewDispatcher(sender Sender, opts DispatcherOptions, rec *metrics.Recorder, logger zerolog.Logger) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	return &Dispatcher{
		sender:      sender,
		queue:       make(chan Alert, opts.QueueSize),
		workers:     opts.Workers,
		sendTimeout: opts.SendTimeout,
		metrics:     rec,
		logger:      logger.With().Str("component", "alert_dispatcher").Logger(),
	}
}

// Enqueue hands a off for delivery without waiting. It reports false when
// the queue is full or the dispatcher has shut down.
func (d *Dispatcher) Enqueue(a Alert) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.ObserveAlert("dropped")
		d.logger.Error().Str("event_id", a.EventID).Msg("alert dropped: dispatcher stopped")
		return false
	}
	select {
	case d.queue <- a:
		d.metrics.ObserveAlert("queued")
		return true
	default:
		d.metrics.ObserveAlert("dropped")
		d.logger.Error().Str("event_id", a.EventID).Msg("alert dropped: queue full")
		return false
	}
}

// Run delivers queued alerts until ctx is done, then stops accepting new
// alerts and drains what is already queued before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	var g errgroup.Group
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for a := range d.queue {
				d.deliver(ctx, a)
			}
			return nil
		})
	}

	<-ctx.Done()
	d.mu.Lock()
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	return g.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, a Alert) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sendTimeout)
	defer cancel()

	if err := d.sender.Send(sendCtx, a); err != nil {
		d.metrics.ObserveAlert("failed")
		d.logger.Error().Err(err).Str("event_id", a.EventID).Str("user_id", a.UserID).Msg("alert delivery failed")
		return
	}
	d.metrics.ObserveAlert("delivered")
}
