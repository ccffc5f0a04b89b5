// Turn loop implementation.
//
// All model invocations and tool dispatches of a session go through run.
//
// Information Hiding:
// - State machine transitions hidden
// - Model communication hidden
// - Tool call validation and execution ordering hidden
// - History and transcript bookkeeping hidden

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/richinex/shellagent/conversation"
	"github.com/richinex/shellagent/llm"
	"github.com/richinex/shellagent/tools"
)

// turn holds the bookkeeping of one running turn.
type turn struct {
	id         string
	start      time.Time
	iterations int
	toolCalls  []ToolCallMetric
	usage      llm.TokenUsage
}

func (t *turn) result(state State, output string, err error) TurnResult {
	return TurnResult{
		ID:         t.id,
		State:      state,
		Output:     output,
		Err:        err,
		Iterations: t.iterations,
		ToolCalls:  t.toolCalls,
		Usage:      t.usage,
		Duration:   time.Since(t.start),
	}
}

// run drives the state machine for one user input.
func (s *Session) run(ctx context.Context, input string) TurnResult {
	t := &turn{id: uuid.NewString(), start: time.Now()}

	client := s.currentClient()
	if client == nil {
		return s.fail(t, ErrNoClient)
	}

	s.emit(t, EventUserInput, input, nil)
	if err := s.appendTurn(ctx, conversation.UserTurn(input)); err != nil {
		return s.fail(t, err)
	}

	var reply llm.Reply
	continuation := false
	state := StateAwaitingModel

	for {
		s.logger.Debug("turn state", "turn", t.id, "state", state, "iteration", t.iterations)

		switch state {
		case StateAwaitingModel:
			if t.iterations >= s.config.maxIterations() {
				return s.fail(t, fmt.Errorf("%w (%d model calls)", ErrIterationLimit, t.iterations))
			}
			t.iterations++

			var err error
			reply, err = client.Invoke(ctx, llm.Request{
				System:       s.config.SystemPrompt,
				History:      s.history.Snapshot(),
				Tools:        s.toolDefs,
				Continuation: continuation,
			})
			if err != nil {
				return s.fail(t, err)
			}
			t.usage.Add(reply.Usage)

			// An empty reply is not recorded; Finalizing asks again.
			if modelTurn := conversation.ModelTurn(reply.Text, reply.ToolCalls); !modelTurn.Empty() {
				if err := s.appendTurn(ctx, modelTurn); err != nil {
					return s.fail(t, err)
				}
			} else {
				s.logger.Debug("empty model reply", "turn", t.id, "iteration", t.iterations)
			}
			state = StateInspectingReply

		case StateInspectingReply:
			if reply.Kind() == llm.ToolCallReply {
				state = StateDispatchingTool
			} else {
				state = StateFinalizing
			}

		case StateDispatchingTool:
			if text, _ := StripTerminationMarker(reply.Text); text != "" {
				s.emit(t, EventProgress, text, nil)
			}
			if err := s.dispatch(ctx, t, reply.ToolCalls); err != nil {
				return s.fail(t, err)
			}
			continuation = false
			state = StateAwaitingModel

		case StateFinalizing:
			text, done := StripTerminationMarker(reply.Text)
			if done {
				return s.finish(t, text)
			}
			if text != "" {
				s.emit(t, EventProgress, text, nil)
			}
			continuation = true
			state = StateAwaitingModel

		default:
			return s.fail(t, fmt.Errorf("unexpected turn state %v", state))
		}
	}
}

// dispatch checks every call of a reply before running any of them.
// A rejected reply still gets a tool result turn, one failed outcome per
// call, so the history stays answerable.
func (s *Session) dispatch(ctx context.Context, t *turn, calls []conversation.ToolCall) error {
	var rejected error
	for _, call := range calls {
		if err := s.registry.Check(call.Name, call.Arguments); err != nil {
			rejected = err
			break
		}
	}

	if rejected != nil {
		outcomes := make([]conversation.ToolOutcome, len(calls))
		for i, call := range calls {
			reason := "not executed: another call in the same reply was rejected"
			if err := s.registry.Check(call.Name, call.Arguments); err != nil {
				reason = err.Error()
			}
			outcomes[i] = conversation.ToolOutcome{CallID: call.ID, Name: call.Name, Output: reason}
		}
		if err := s.appendTurn(ctx, conversation.ToolResultTurn(outcomes)); err != nil {
			return errors.Join(rejected, err)
		}
		return rejected
	}

	outcomes := make([]conversation.ToolOutcome, 0, len(calls))
	for _, call := range calls {
		s.emit(t, EventToolCall, executingMessage(call), map[string]any{
			"tool":    call.Name,
			"call_id": call.ID,
		})

		start := time.Now()
		result, err := s.registry.Dispatch(ctx, call.Name, call.Arguments)
		if err != nil {
			result.Succeeded = false
			result.Output = err.Error()
		}
		elapsed := time.Since(start)

		s.logger.Info("tool executed",
			"turn", t.id,
			"tool", call.Name,
			"succeeded", result.Succeeded,
			"duration", elapsed,
		)
		s.emit(t, EventToolOutput, result.Output, map[string]any{
			"tool":      call.Name,
			"call_id":   call.ID,
			"succeeded": result.Succeeded,
		})

		t.toolCalls = append(t.toolCalls, ToolCallMetric{
			Name:       call.Name,
			InputSize:  argumentSize(call.Arguments),
			OutputSize: len(result.Output),
			DurationMs: uint64(elapsed.Milliseconds()),
			Success:    result.Succeeded,
		})
		outcomes = append(outcomes, conversation.ToolOutcome{
			CallID:    call.ID,
			Name:      call.Name,
			Succeeded: result.Succeeded,
			Output:    result.Output,
		})
	}

	return s.appendTurn(ctx, conversation.ToolResultTurn(outcomes))
}

// appendTurn adds a turn to the history and records it. Recording is best
// effort; the live history is authoritative.
func (s *Session) appendTurn(ctx context.Context, turn conversation.Turn) error {
	if err := s.history.Append(turn); err != nil {
		return fmt.Errorf("append %s turn: %w", turn.Role, err)
	}
	if s.recorder != nil {
		if err := s.recorder.AppendTurn(ctx, s.ID(), turn); err != nil {
			s.logger.Warn("failed to record turn", "session", s.ID(), "role", turn.Role, "error", err)
		}
	}
	return nil
}

func (s *Session) finish(t *turn, output string) TurnResult {
	s.emit(t, EventFinal, output, nil)
	s.logger.Info("turn finished",
		"turn", t.id,
		"iterations", t.iterations,
		"tool_calls", len(t.toolCalls),
		"total_tokens", t.usage.TotalTokens,
	)
	return t.result(StateDone, output, nil)
}

func (s *Session) fail(t *turn, err error) TurnResult {
	var data map[string]any
	var modelErr *llm.ModelError
	if errors.As(err, &modelErr) {
		data = map[string]any{"kind": modelErr.Kind.String()}
		if hint := modelErr.Hint(); hint != "" {
			data["hint"] = hint
		}
	}
	s.emit(t, EventError, err.Error(), data)
	s.logger.Warn("turn failed", "turn", t.id, "iterations", t.iterations, "error", err)
	return t.result(StateFailed, "", err)
}

func (s *Session) emit(t *turn, kind EventKind, message string, data map[string]any) {
	s.events.emit(Event{
		Kind:      kind,
		SessionID: s.ID(),
		TurnID:    t.id,
		Message:   message,
		Data:      data,
	})
}

// executingMessage describes a call the way it is shown to the user.
func executingMessage(call conversation.ToolCall) string {
	if call.Name == tools.ShellScriptToolName {
		return "Executing: " + strings.TrimSpace(tools.Script(call.Arguments))
	}
	return "Executing: " + call.Name
}

func argumentSize(args map[string]any) int {
	data, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(data)
}
