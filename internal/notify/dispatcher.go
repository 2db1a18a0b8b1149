package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/dipwatch/internal/logger"
	"github.com/rewired-gh/dipwatch/internal/models"
)

// Dispatcher queues alerts and delivers them to every sink from one goroutine.
// Enqueue never blocks, so it is safe to call while holding the registry lock.
type Dispatcher struct {
	queue        chan models.AlertEvent
	sinks        []Sink
	drainTimeout time.Duration
	rec          DeliveryRecorder
	log          *logger.Logger

	mu      sync.RWMutex
	stopped bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewDispatcher creates a dispatcher with a bounded queue.
func NewDispatcher(queueSize int, drainTimeout time.Duration, rec DeliveryRecorder, log *logger.Logger, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if rec == nil {
		rec = nopDeliveryRecorder{}
	}
	return &Dispatcher{
		queue:        make(chan models.AlertEvent, queueSize),
		sinks:        sinks,
		drainTimeout: drainTimeout,
		rec:          rec,
		log:          log.Component("dispatcher"),
	}
}

// Enqueue queues an alert, dropping it when the queue is full or the dispatcher has stopped.
func (d *Dispatcher) Enqueue(event models.AlertEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.drop(DropStopped, event)
		return
	}
	select {
	case d.queue <- event:
	default:
		d.drop(DropQueueFull, event)
	}
}

func (d *Dispatcher) drop(reason string, event models.AlertEvent) {
	d.dropped.Add(1)
	d.rec.RecordDropped(reason)
	d.log.Warn("Dropped alert for %s (%s)", event.Symbol, reason)
}

// Run delivers queued alerts until ctx is cancelled, then drains what is
// already queued for at most the drain timeout.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		// cancellation wins over a non-empty queue
		select {
		case <-ctx.Done():
			d.drain()
			return
		default:
		}

		select {
		case event := <-d.queue:
			d.deliver(ctx, event)
		case <-ctx.Done():
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	pending := len(d.queue)
	if pending == 0 {
		return
	}
	d.log.Info("Draining %d queued alerts", pending)

	ctx, cancel := context.WithTimeout(context.Background(), d.drainTimeout)
	defer cancel()

	for {
		if ctx.Err() != nil {
			for {
				select {
				case event := <-d.queue:
					d.drop(DropDrain, event)
				default:
					return
				}
			}
		}
		select {
		case event := <-d.queue:
			d.deliver(ctx, event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event models.AlertEvent) {
	for _, sink := range d.sinks {
		err := sink.Emit(ctx, event)
		if errors.Is(err, ErrSkipped) {
			d.rec.RecordSkipped(sink.Name())
			d.log.Warn("Sink %s skipped alert for %s: %v", sink.Name(), event.Symbol, err)
			continue
		}
		if err != nil {
			d.rec.RecordSinkError(sink.Name())
			d.log.Error("Sink %s failed for %s: %v", sink.Name(), event.Symbol, err)
			continue
		}
		d.rec.RecordDelivered(sink.Name())
	}
	d.delivered.Add(1)
}

// Delivered is the number of alerts handed to the sinks.
func (d *Dispatcher) Delivered() uint64 { return d.delivered.Load() }

// Dropped is the number of alerts never handed to the sinks.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Pending is the number of queued alerts.
func (d *Dispatcher) Pending() int { return len(d.queue) }
