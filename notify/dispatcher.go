/*
dispatcher.go - Asynchronous notification delivery

PURPOSE:
  Implements booking.NotificationSink without putting broker latency on the
  request path. Events are queued in a bounded buffer and a single worker
  publishes them in order.

DESIGN:
  - Notify never blocks: a full queue returns ErrQueueFull, which the
    booking service logs and drops
  - One worker goroutine, so events for a booking are published in the order
    the transitions committed
  - Stop drains what is already queued, then returns

USAGE:
  d := notify.NewDispatcher(publisher, notify.Options{Buffer: 256}, log)
  d.Start()
  defer d.Stop()

SEE ALSO:
  - rabbit.go: RabbitMQ publisher
  - log.go:    zerolog publisher for running without a broker
*/
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/booking-engine/booking"
)

var (
	// ErrQueueFull is returned when the buffer has no room for an event.
	ErrQueueFull = errors.New("notification queue full")

	// ErrStopped is returned by Notify after Stop.
	ErrStopped = errors.New("notification dispatcher stopped")
)

// Message is the wire form of a booking event.
type Message struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	BookingID     string         `json:"booking_id,omitempty"`
	BookingNumber string         `json:"booking_number,omitempty"`
	SecurityID    string         `json:"security_id,omitempty"`
	At            time.Time      `json:"at"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// NewMessage converts a booking event to its wire form.
func NewMessage(evt booking.Event) Message {
	return Message{
		ID:            evt.ID,
		Type:          string(evt.Type),
		BookingID:     string(evt.BookingID),
		BookingNumber: evt.BookingNumber,
		SecurityID:    string(evt.SecurityID),
		At:            evt.At,
		Payload:       evt.Payload,
	}
}

// Publisher delivers one message to its destination.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Options tunes the dispatcher.
type Options struct {
	Buffer         int           // queue capacity (default: 256)
	PublishTimeout time.Duration // per message (default: 5s)
}

// Dispatcher queues events and publishes them from a background worker.
type Dispatcher struct {
	pub  Publisher
	opts Options
	log  zerolog.Logger

	queue chan booking.Event
	stop  chan struct{}
	wg    sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewDispatcher creates a dispatcher. Call Start before events flow.
func NewDispatcher(pub Publisher, opts Options, log zerolog.Logger) *Dispatcher {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	return &Dispatcher{
		pub:   pub,
		opts:  opts,
		log:   log.With().Str("component", "notify").Logger(),
		queue: make(chan booking.Event, opts.Buffer),
		stop:  make(chan struct{}),
	}
}

// Start launches the worker. Calling it twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started || d.stopped {
		return
	}
	d.started = true
	d.wg.Add(1)
	go d.run()

	d.log.Info().Int("buffer", d.opts.Buffer).Msg("dispatcher started")
}

// Stop publishes what is queued and waits for the worker to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.stop)
	started := d.started
	d.mu.Unlock()

	if started {
		d.wg.Wait()
	}
	d.log.Info().Msg("dispatcher stopped")
}

// Notify enqueues evt without blocking.
func (d *Dispatcher) Notify(_ context.Context, evt booking.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		return ErrStopped
	}
	select {
	case d.queue <- evt:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case evt := <-d.queue:
			d.publish(evt)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case evt := <-d.queue:
			d.publish(evt)
		default:
			return
		}
	}
}

func (d *Dispatcher) publish(evt booking.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.PublishTimeout)
	defer cancel()

	if err := d.pub.Publish(ctx, NewMessage(evt)); err != nil {
		d.log.Error().
			Str("event_id", evt.ID).
			Str("event", string(evt.Type)).
			Str("booking_id", string(evt.BookingID)).
			Err(err).
			Msg("publish failed")
	}
}
