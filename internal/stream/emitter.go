// Package stream decouples the orchestration loop from the transport: the
// loop produces events into a bounded queue and a consumer (the SSE handler)
// drains it to the wire at its own pace.
package stream

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event modes.
const (
	ModeUpdates  = "updates"  // step lifecycle transitions
	ModeMessages = "messages" // token-level text deltas
	ModeCustom   = "custom"   // richer payloads (plans, tool I/O)
)

// Event is one frame on the outbound stream.
type Event struct {
	Mode      string                 `json:"mode"`
	Type      string                 `json:"type"`
	Node      string                 `json:"node,omitempty"`
	Step      string                 `json:"step,omitempty"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// Emitter multiplexes loop events onto one bounded channel. Emit never
// blocks the loop: when the consumer is gone or slow, events are dropped
// and counted rather than stalling tool execution.
type Emitter struct {
	ch      chan Event
	closed  atomic.Bool
	dropped atomic.Int64
	once    sync.Once
}

// DefaultQueueSize bounds the emitter queue.
const DefaultQueueSize = 256

// NewEmitter creates an emitter with the given queue capacity.
func NewEmitter(size int) *Emitter {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Emitter{ch: make(chan Event, size)}
}

// Emit enqueues an event, stamping it if unstamped. Returns false if the
// event was dropped (queue full or emitter closed).
func (e *Emitter) Emit(ev Event) bool {
	if e.closed.Load() {
		e.dropped.Add(1)
		return false
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case e.ch <- ev:
		return true
	default:
		e.dropped.Add(1)
		return false
	}
}

// Update emits a step lifecycle event.
func (e *Emitter) Update(eventType, step string, data map[string]interface{}) bool {
	return e.Emit(Event{Mode: ModeUpdates, Type: eventType, Step: step, Data: data})
}

// Token emits one token delta along with the cumulative text so far.
func (e *Emitter) Token(delta, cumulative string) bool {
	return e.Emit(Event{
		Mode: ModeMessages,
		Type: "token",
		Data: map[string]interface{}{
			"delta":   delta,
			"content": cumulative,
		},
	})
}

// Custom emits a rich payload for detail-hungry UIs.
func (e *Emitter) Custom(eventType string, data map[string]interface{}) bool {
	return e.Emit(Event{Mode: ModeCustom, Type: eventType, Data: data})
}

// Events returns the consumer side of the queue. The channel is closed by
// Close; a closed channel is the consumer's signal to write the wire
// terminator.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Dropped reports how many events were discarded.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// Close marks the emitter finished and closes the channel. Idempotent.
func (e *Emitter) Close() {
	e.once.Do(func() {
		e.closed.Store(true)
		close(e.ch)
	})
}
