package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/richinex/shellagent/conversation"
	"github.com/richinex/shellagent/llm"
	"github.com/richinex/shellagent/tools"
)

// ErrSessionClosed reports use of a session after Close.
var ErrSessionClosed = errors.New("session closed")

// Recorder persists turns as they are appended.
type Recorder interface {
	AppendTurn(ctx context.Context, sessionID string, turn conversation.Turn) error
}

// Session owns one conversation: its history, model client and tools.
// At most one turn runs at a time.
type Session struct {
	config   Config
	registry *tools.Registry
	toolDefs []llm.ToolDefinition
	history  *conversation.History
	recorder Recorder
	events   *emitter
	logger   *slog.Logger

	mu     sync.Mutex
	id     string
	client *llm.Client
	busy   bool
	closed bool
	wg     sync.WaitGroup
}

// ID returns the session identifier. It changes when the history is reset.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Busy reports whether a turn is running.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// HasClient reports whether a model client is configured.
func (s *Session) HasClient() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// History returns a copy of the conversation so far.
func (s *Session) History() []conversation.Turn {
	return s.history.Snapshot()
}

// Events returns the event channel for the host application.
// It is closed by Close.
func (s *Session) Events() <-chan Event {
	return s.events.events()
}

// RunTurn processes one user input on the calling goroutine.
func (s *Session) RunTurn(ctx context.Context, input string) TurnResult {
	if err := s.acquire(); err != nil {
		return TurnResult{State: StateFailed, Err: err}
	}
	defer s.release()
	return s.run(ctx, input)
}

// Submit starts a turn on a worker goroutine. The returned channel yields
// exactly one result. A submission while a turn runs fails with
// ErrTurnInProgress.
func (s *Session) Submit(ctx context.Context, input string) (<-chan TurnResult, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}

	out := make(chan TurnResult, 1)
	go func() {
		result := s.run(ctx, input)
		s.release()
		out <- result
		close(out)
	}()
	return out, nil
}

// Reconfigure replaces the model client and resets the history.
func (s *Session) Reconfigure(client *llm.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.idleLocked(); err != nil {
		return err
	}
	s.client = client
	s.resetLocked()
	return nil
}

// Reset discards the history and starts a new transcript.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.idleLocked(); err != nil {
		return err
	}
	s.resetLocked()
	return nil
}

// Close waits for a running turn and closes the event channel.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
	s.events.close()
}

func (s *Session) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.idleLocked(); err != nil {
		return err
	}
	s.busy = true
	s.wg.Add(1)
	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Session) idleLocked() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.busy {
		return ErrTurnInProgress
	}
	return nil
}

func (s *Session) resetLocked() {
	previous := s.id
	s.history.Reset()
	s.id = uuid.NewString()
	s.logger.Debug("history reset", "previous_session", previous, "session", s.id)
	s.events.emit(Event{Kind: EventReset, SessionID: s.id, Message: "conversation history cleared"})
}

func (s *Session) currentClient() *llm.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}
