package events

import (
	"runtime/debug"
	"sync"

	"github.com/licenseforge/foreman/pkg/log"
	"github.com/licenseforge/foreman/pkg/types"
	"github.com/rs/zerolog"
)

// Handler processes one event payload on the loop goroutine.
type Handler func(payload interface{})

// Event is one entry in the loop's FIFO.
type Event struct {
	Kind    types.EventKind
	Payload interface{}
}

// Loop is the single-consumer FIFO that serializes every state mutation in
// the scheduler. Producers call Signal from any goroutine; Enter runs on
// exactly one goroutine and owns all handler execution. The tick callback
// runs once at start and again after every event, never concurrently with
// a handler.
type Loop struct {
	logger zerolog.Logger

	mu         sync.Mutex
	cond       *sync.Cond
	queue      []Event
	terminated bool

	handlers map[types.EventKind]Handler
}

// NewLoop creates an event loop with no handlers registered.
func NewLoop() *Loop {
	l := &Loop{
		logger:   log.WithComponent("events"),
		handlers: make(map[types.EventKind]Handler),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Register installs the handler for an event kind. Must be called before
// Enter; later registrations would race the dispatcher.
func (l *Loop) Register(kind types.EventKind, h Handler) {
	l.handlers[kind] = h
}

// Signal enqueues an event. It never blocks beyond the queue mutex and is
// safe to call from any goroutine, including from inside a handler; events
// enqueued by handlers are appended and processed in their turn.
func (l *Loop) Signal(kind types.EventKind, payload interface{}) {
	l.mu.Lock()
	l.queue = append(l.queue, Event{Kind: kind, Payload: payload})
	l.mu.Unlock()
	l.cond.Signal()
}

// Terminate makes Enter return once the queue has drained. Idempotent.
// Already-enqueued events are still processed.
func (l *Loop) Terminate() {
	l.mu.Lock()
	l.terminated = true
	l.mu.Unlock()
	l.cond.Signal()
}

// Enter runs the loop until Terminate has been called and the queue is
// empty. tick runs once immediately, then after every dispatched event.
func (l *Loop) Enter(tick func()) {
	tick()
	for {
		ev, ok := l.next()
		if !ok {
			return
		}
		l.dispatch(ev)
		tick()
	}
}

// next blocks until an event is available or the loop has drained.
func (l *Loop) next() (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for len(l.queue) == 0 {
		if l.terminated {
			return Event{}, false
		}
		l.cond.Wait()
	}

	ev := l.queue[0]
	l.queue = l.queue[1:]
	return ev, true
}

// dispatch runs the handler for one event. Panics are caught at the handler
// boundary so a bad event cannot kill the loop.
func (l *Loop) dispatch(ev Event) {
	h, ok := l.handlers[ev.Kind]
	if !ok {
		l.logger.Warn().Str("kind", string(ev.Kind)).Msg("No handler for event")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().
				Str("kind", string(ev.Kind)).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Event handler panicked")
		}
	}()
	h(ev.Payload)
}

// Depth returns the number of queued events. Used by metrics.
func (l *Loop) Depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}
