// Package events fans call lifecycle events out to subscribers.
package events

import (
	"fmt"
	"log/slog"
	"sync"

	"phonon/internal/calls"
)

// Handler receives every lifecycle event, whatever its type.
type Handler func(calls.Event)

// Dispatcher holds one ordered subscription list.
//
// Emit runs handlers synchronously on the caller's goroutine, in registration order.
// A panicking handler is logged and skipped; the rest still run.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler
	log      *slog.Logger
}

func NewDispatcher(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{log: log}
}

// Subscribe registers h for all six event types.
func (d *Dispatcher) Subscribe(h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	d.handlers = append(d.handlers, h)
	d.mu.Unlock()
}

func (d *Dispatcher) Emit(e calls.Event) {
	d.mu.RLock()
	hs := make([]Handler, len(d.handlers))
	copy(hs, d.handlers)
	d.mu.RUnlock()

	for i, h := range hs {
		d.call(i, h, e)
	}
}

func (d *Dispatcher) call(idx int, h Handler, e calls.Event) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("event handler panicked",
				"handler", idx,
				"event", string(e.Type),
				"call_id", e.CallID,
				"panic", fmt.Sprint(p),
			)
		}
	}()
	h(e)
}
