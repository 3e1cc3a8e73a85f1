package protocol

import (
	"context"
	"errors"

	"telemetry-relay/domain"
)

var ErrDispatcherStopped = errors.New("dispatcher stopped")

const DefaultEventBuffer = 1024

// Dispatcher serializes every connection event onto one goroutine so the
// router never sees two events at once. Events from a single producer are
// handled in the order they were submitted.
type Dispatcher struct {
	router *Router
	events chan domain.Event
	done   chan struct{}
}

func NewDispatcher(router *Router, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Dispatcher{
		router: router,
		events: make(chan domain.Event, buffer),
		done:   make(chan struct{}),
	}
}

// Submit queues an event, blocking while the queue is full. It fails once Run
// has returned.
func (d *Dispatcher) Submit(ev domain.Event) error {
	select {
	case <-d.done:
		return ErrDispatcherStopped
	default:
	}

	select {
	case d.events <- ev:
		return nil
	case <-d.done:
		return ErrDispatcherStopped
	}
}

// Run handles events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-d.events:
			d.dispatch(ev)
		}
	}
}

func (d *Dispatcher) dispatch(ev domain.Event) {
	switch ev.Kind {
	case domain.EventConnect:
		d.router.Connected(ev.Conn)
	case domain.EventMessage:
		d.router.Handle(ev.Conn, ev.Data)
	case domain.EventClose:
		d.router.Disconnected(ev.Conn)
	case domain.EventError:
		d.router.TransportError(ev.Conn, ev.Err)
	case domain.EventCommand:
		d.router.Command(ev.Data)
	default:
		d.router.logger.Warn("unknown event", "kind", ev.Kind)
	}
}
