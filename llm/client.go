// LLMClient - Conversation-level wrapper around providers.
//
// Information Hiding:
// - Turn to ChatMessage conversion
// - Tool call argument encoding
// - The transient continuation nudge
// - Error classification of provider failures

package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/richinex/shellagent/conversation"
)

// ContinuationPrompt is sent, never stored, when the model stopped without
// calling a tool or declaring its turn finished.
const ContinuationPrompt = "Continue with the task. If you are done, end your reply with END OF TURN."

// ReplyKind tells a text reply from a tool call reply.
type ReplyKind int

const (
	TextReply ReplyKind = iota
	ToolCallReply
)

// String returns the reply kind name.
func (k ReplyKind) String() string {
	if k == ToolCallReply {
		return "ToolCallReply"
	}
	return "TextReply"
}

// Request is one model invocation.
type Request struct {
	System       string
	History      []conversation.Turn
	Tools        []ToolDefinition
	Continuation bool
}

// Reply is the structured model answer.
type Reply struct {
	Text      string
	ToolCalls []conversation.ToolCall
	Usage     *TokenUsage
}

// Kind reports whether the reply requests tools.
func (r Reply) Kind() ReplyKind {
	if len(r.ToolCalls) > 0 {
		return ToolCallReply
	}
	return TextReply
}

// Client wraps a Provider with a conversation-level interface.
type Client struct {
	provider Provider
}

// NewClient creates a new LLM client from a provider.
func NewClient(provider Provider) *Client {
	return &Client{provider: provider}
}

// Invoke sends the request and returns one reply. Failures are *ModelError.
func (c *Client) Invoke(ctx context.Context, req Request) (Reply, error) {
	messages, err := toMessages(req)
	if err != nil {
		return Reply{}, Classify(c.provider.Name(), err)
	}

	response, err := c.provider.ChatWithTools(ctx, messages, req.Tools)
	if err != nil {
		return Reply{}, Classify(c.provider.Name(), err)
	}

	reply := Reply{Text: response.Content, Usage: response.Usage}
	for _, tc := range response.ToolCalls {
		reply.ToolCalls = append(reply.ToolCalls, conversation.ToolCall{
			ID:        tc.ID,
			Name:      tc.Name,
			Arguments: decodeArguments(tc.Arguments),
		})
	}
	return reply, nil
}

// toMessages flattens the history into provider messages.
func toMessages(req Request) ([]ChatMessage, error) {
	messages := make([]ChatMessage, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, SystemMessage(req.System))
	}

	for _, turn := range req.History {
		switch turn.Role {
		case conversation.RoleUser:
			messages = append(messages, UserMessage(turn.Text()))
		case conversation.RoleModel:
			if turn.Text() == "" && len(turn.ToolCalls()) == 0 {
				continue
			}
			msg := AssistantMessage(turn.Text())
			for _, call := range turn.ToolCalls() {
				args, err := json.Marshal(call.Arguments)
				if err != nil {
					return nil, fmt.Errorf("encode arguments of %s: %w", call.Name, err)
				}
				msg.ToolCalls = append(msg.ToolCalls, ToolCall{ID: call.ID, Name: call.Name, Arguments: args})
			}
			messages = append(messages, msg)
		case conversation.RoleToolResult:
			for _, outcome := range turn.Outcomes() {
				content, err := json.Marshal(map[string]any{
					"succeeded": outcome.Succeeded,
					"output":    outcome.Output,
				})
				if err != nil {
					return nil, fmt.Errorf("encode outcome of %s: %w", outcome.Name, err)
				}
				messages = append(messages, ToolMessage(outcome.CallID, outcome.Name, string(content)))
			}
		}
	}

	if req.Continuation {
		messages = append(messages, UserMessage(ContinuationPrompt))
	}
	return messages, nil
}

// decodeArguments parses raw arguments. Malformed input yields an empty map
// so the registry rejects the call for its missing parameters.
func decodeArguments(raw json.RawMessage) map[string]any {
	args := map[string]any{}
	if len(raw) == 0 {
		return args
	}
	if err := json.Unmarshal(raw, &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}
