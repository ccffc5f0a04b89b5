// Package storage provides transcript storage abstraction.
//
// Information Hiding:
// - Storage backend implementation details hidden behind interface
// - Callers see the same API for in-memory and file-backed databases
// - Each storage implementation encapsulates its own data structures and protocols

package storage

import (
	"context"
	"time"

	"github.com/richinex/shellagent/conversation"
)

// SessionInfo summarizes a stored transcript.
type SessionInfo struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TurnCount int       `json:"turn_count"`
}

// TranscriptStorage records the turns of each session as they happen.
// Transcripts are a record; a live session never reloads from them.
type TranscriptStorage interface {
	// AppendTurn adds a turn to the end of a session's transcript,
	// creating the session if needed.
	AppendTurn(ctx context.Context, sessionID string, turn conversation.Turn) error

	// LoadTurns returns a session's turns in order.
	// Returns empty slice (not nil) if session doesn't exist.
	// Returns error only for storage failures (I/O errors, etc.), not missing sessions.
	LoadTurns(ctx context.Context, sessionID string) ([]conversation.Turn, error)

	// ListSessions lists sessions, most recently updated first.
	ListSessions(ctx context.Context) ([]SessionInfo, error)

	// Delete deletes a session's transcript.
	Delete(ctx context.Context, sessionID string) error

	// Exists checks if a session exists.
	Exists(ctx context.Context, sessionID string) (bool, error)

	// Close releases the backend.
	Close() error
}
