// Package agent drives one conversation session with the model.
//
// Contains the turn states, results and errors exposed by sessions.
package agent

import (
	"errors"
	"strings"
	"time"

	"github.com/richinex/shellagent/llm"
)

// TerminationMarker ends a turn when it appears in a text reply.
const TerminationMarker = "END OF TURN."

var (
	// ErrIterationLimit reports a turn that used all its model invocations.
	ErrIterationLimit = errors.New("reached max automated steps for this request")

	// ErrTurnInProgress reports a submission while another turn is running.
	ErrTurnInProgress = errors.New("a turn is already in progress")

	// ErrNoClient reports a session without a configured model client.
	ErrNoClient = errors.New("no model client configured; set an API key with /api <key>")
)

// State is a step of the turn state machine.
type State int

const (
	StateAwaitingModel State = iota
	StateInspectingReply
	StateDispatchingTool
	StateFinalizing
	StateDone
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAwaitingModel:
		return "AwaitingModel"
	case StateInspectingReply:
		return "InspectingReply"
	case StateDispatchingTool:
		return "DispatchingTool"
	case StateFinalizing:
		return "Finalizing"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// StripTerminationMarker removes the marker from text. The bool reports
// whether the marker was present.
func StripTerminationMarker(text string) (string, bool) {
	if !strings.Contains(text, TerminationMarker) {
		return strings.TrimSpace(text), false
	}
	return strings.TrimSpace(strings.ReplaceAll(text, TerminationMarker, "")), true
}

// ToolCallMetric contains metrics about a tool invocation.
type ToolCallMetric struct {
	Name       string `json:"name"`
	InputSize  int    `json:"input_size"`
	OutputSize int    `json:"output_size"`
	DurationMs uint64 `json:"duration_ms"`
	Success    bool   `json:"success"`
}

// TurnResult is the outcome of one user turn.
type TurnResult struct {
	ID         string
	State      State
	Output     string // Final text, marker stripped. Empty unless Done.
	Err        error  // Set when Failed.
	Iterations int    // Model invocations made.
	ToolCalls  []ToolCallMetric
	Usage      llm.TokenUsage
	Duration   time.Duration
}

// Succeeded reports whether the turn reached Done.
func (r TurnResult) Succeeded() bool {
	return r.State == StateDone
}
