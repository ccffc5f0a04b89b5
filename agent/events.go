package agent

import (
	"sync"
	"time"
)

// EventKind identifies the type of session event.
type EventKind string

const (
	EventUserInput  EventKind = "user_input"
	EventProgress   EventKind = "progress"
	EventToolCall   EventKind = "tool_call"
	EventToolOutput EventKind = "tool_output"
	EventFinal      EventKind = "final"
	EventError      EventKind = "error"
	EventReset      EventKind = "reset"
)

// Event is a typed notification emitted by the turn loop.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	TurnID    string         `json:"turn_id,omitempty"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// emitter delivers events to the host application via a channel.
type emitter struct {
	ch     chan Event
	closed bool
	mu     sync.Mutex
}

func newEmitter(bufferSize int) *emitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &emitter{ch: make(chan Event, bufferSize)}
}

// emit sends an event. When the channel is full or closed the event is dropped
// so the turn loop never blocks on a slow consumer.
func (e *emitter) emit(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case e.ch <- event:
	default:
	}
}

func (e *emitter) events() <-chan Event {
	return e.ch
}

// close closes the channel. Safe to call multiple times.
func (e *emitter) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
