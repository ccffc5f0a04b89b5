// Package conversation holds the turn-by-turn record exchanged with the model.
//
// Information Hiding:
// - Part variants are sealed; only this package defines them
// - Wire encoding of turns hidden behind MarshalJSON/UnmarshalJSON
package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser       Role = "user"
	RoleModel      Role = "model"
	RoleToolResult Role = "tool_result"
)

// Part is one element of a turn: Text, ToolCall or ToolOutcome.
type Part interface {
	isPart()
}

// Text is free-form text.
type Text struct {
	Text string
}

// ToolCall is a model request to run a named tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolOutcome is the result of one ToolCall, fed back to the model.
type ToolOutcome struct {
	CallID    string
	Name      string
	Succeeded bool
	Output    string
}

func (Text) isPart()        {}
func (ToolCall) isPart()    {}
func (ToolOutcome) isPart() {}

// Turn is one contribution to the conversation.
type Turn struct {
	Role      Role
	Parts     []Part
	Timestamp time.Time
}

// UserTurn creates a user turn holding text.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Parts: []Part{Text{Text: text}}, Timestamp: time.Now()}
}

// ModelTurn creates a model turn from reply text and any tool calls.
// Empty text adds no part, so a reply with neither has no parts and is
// rejected by History.Append.
func ModelTurn(text string, calls []ToolCall) Turn {
	parts := make([]Part, 0, len(calls)+1)
	if text != "" {
		parts = append(parts, Text{Text: text})
	}
	for _, c := range calls {
		parts = append(parts, c)
	}
	return Turn{Role: RoleModel, Parts: parts, Timestamp: time.Now()}
}

// ToolResultTurn creates a turn answering the preceding model turn's calls.
func ToolResultTurn(outcomes []ToolOutcome) Turn {
	parts := make([]Part, 0, len(outcomes))
	for _, o := range outcomes {
		parts = append(parts, o)
	}
	return Turn{Role: RoleToolResult, Parts: parts, Timestamp: time.Now()}
}

// Empty reports whether the turn carries no parts.
func (t Turn) Empty() bool {
	return len(t.Parts) == 0
}

// Text concatenates the text parts of the turn.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, p := range t.Parts {
		if text, ok := p.(Text); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String()
}

// ToolCalls returns the tool call parts in order.
func (t Turn) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range t.Parts {
		if c, ok := p.(ToolCall); ok {
			calls = append(calls, c)
		}
	}
	return calls
}

// Outcomes returns the tool outcome parts in order.
func (t Turn) Outcomes() []ToolOutcome {
	var outcomes []ToolOutcome
	for _, p := range t.Parts {
		if o, ok := p.(ToolOutcome); ok {
			outcomes = append(outcomes, o)
		}
	}
	return outcomes
}

type wirePart struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	CallID    string         `json:"call_id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Succeeded *bool          `json:"succeeded,omitempty"`
	Output    string         `json:"output,omitempty"`
}

type wireTurn struct {
	Role      Role       `json:"role"`
	Parts     []wirePart `json:"parts"`
	Timestamp time.Time  `json:"timestamp"`
}

// MarshalJSON encodes the turn with tagged parts.
func (t Turn) MarshalJSON() ([]byte, error) {
	w := wireTurn{Role: t.Role, Timestamp: t.Timestamp, Parts: make([]wirePart, 0, len(t.Parts))}
	for _, p := range t.Parts {
		switch v := p.(type) {
		case Text:
			w.Parts = append(w.Parts, wirePart{Type: "text", Text: v.Text})
		case ToolCall:
			w.Parts = append(w.Parts, wirePart{Type: "tool_call", ID: v.ID, Name: v.Name, Arguments: v.Arguments})
		case ToolOutcome:
			succeeded := v.Succeeded
			w.Parts = append(w.Parts, wirePart{Type: "tool_outcome", CallID: v.CallID, Name: v.Name, Succeeded: &succeeded, Output: v.Output})
		default:
			return nil, fmt.Errorf("unsupported part type %T", p)
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a turn produced by MarshalJSON.
func (t *Turn) UnmarshalJSON(data []byte) error {
	var w wireTurn
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parts := make([]Part, 0, len(w.Parts))
	for _, p := range w.Parts {
		switch p.Type {
		case "text":
			parts = append(parts, Text{Text: p.Text})
		case "tool_call":
			parts = append(parts, ToolCall{ID: p.ID, Name: p.Name, Arguments: p.Arguments})
		case "tool_outcome":
			parts = append(parts, ToolOutcome{CallID: p.CallID, Name: p.Name, Succeeded: p.Succeeded != nil && *p.Succeeded, Output: p.Output})
		default:
			return fmt.Errorf("unknown part type %q", p.Type)
		}
	}
	t.Role = w.Role
	t.Parts = parts
	t.Timestamp = w.Timestamp
	return nil
}
