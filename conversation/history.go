package conversation

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrOrphanedResult reports a tool result with no pending tool calls.
	ErrOrphanedResult = errors.New("tool result does not follow a model turn with tool calls")

	// ErrUnansweredCalls reports a turn appended while tool calls await results.
	ErrUnansweredCalls = errors.New("previous tool calls have no results")

	// ErrResultMismatch reports outcomes that do not pair 1:1 with the calls.
	ErrResultMismatch = errors.New("tool outcomes do not match tool calls")

	// ErrInvalidTurn reports a turn whose parts do not fit its role.
	ErrInvalidTurn = errors.New("invalid turn")
)

// History is the ordered, append-only conversation record.
// Safe for concurrent use.
type History struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{}
}

// Append adds a turn to the end of the history. Every ToolResult turn must
// answer the immediately preceding model turn's tool calls, one outcome per
// call in the same order.
func (h *History) Append(turn Turn) error {
	if err := validateParts(turn); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	pending := h.pendingLocked()
	switch {
	case turn.Role == RoleToolResult && len(pending) == 0:
		return ErrOrphanedResult
	case turn.Role != RoleToolResult && len(pending) > 0:
		return fmt.Errorf("%w: %d pending", ErrUnansweredCalls, len(pending))
	case turn.Role == RoleToolResult:
		if err := matchOutcomes(pending, turn.Outcomes()); err != nil {
			return err
		}
	}

	h.turns = append(h.turns, turn)
	return nil
}

// Snapshot returns a copy of all turns in order.
func (h *History) Snapshot() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	turns := make([]Turn, len(h.turns))
	for i, t := range h.turns {
		parts := make([]Part, len(t.Parts))
		copy(parts, t.Parts)
		t.Parts = parts
		turns[i] = t
	}
	return turns
}

// Len returns the number of turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// PendingCalls returns the tool calls of the last turn when they have not
// been answered yet.
func (h *History) PendingCalls() []ToolCall {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.pendingLocked()
}

// Reset discards every turn.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = nil
}

func (h *History) pendingLocked() []ToolCall {
	if len(h.turns) == 0 {
		return nil
	}
	last := h.turns[len(h.turns)-1]
	if last.Role != RoleModel {
		return nil
	}
	return last.ToolCalls()
}

func validateParts(turn Turn) error {
	if len(turn.Parts) == 0 {
		return fmt.Errorf("%w: %s turn has no parts", ErrInvalidTurn, turn.Role)
	}
	for _, p := range turn.Parts {
		var ok bool
		switch turn.Role {
		case RoleUser:
			_, ok = p.(Text)
		case RoleModel:
			switch p.(type) {
			case Text, ToolCall:
				ok = true
			}
		case RoleToolResult:
			_, ok = p.(ToolOutcome)
		default:
			return fmt.Errorf("%w: unknown role %q", ErrInvalidTurn, turn.Role)
		}
		if !ok {
			return fmt.Errorf("%w: %T not allowed in %s turn", ErrInvalidTurn, p, turn.Role)
		}
	}
	return nil
}

func matchOutcomes(calls []ToolCall, outcomes []ToolOutcome) error {
	if len(calls) != len(outcomes) {
		return fmt.Errorf("%w: %d calls, %d outcomes", ErrResultMismatch, len(calls), len(outcomes))
	}
	for i := range calls {
		if calls[i].ID != outcomes[i].CallID || calls[i].Name != outcomes[i].Name {
			return fmt.Errorf("%w: outcome %d answers %s/%s, expected %s/%s", ErrResultMismatch,
				i, outcomes[i].Name, outcomes[i].CallID, calls[i].Name, calls[i].ID)
		}
	}
	return nil
}
