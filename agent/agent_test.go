package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/richinex/shellagent/conversation"
	"github.com/richinex/shellagent/internal/logger"
	"github.com/richinex/shellagent/llm"
	"github.com/richinex/shellagent/sandbox"
	"github.com/richinex/shellagent/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// step is one scripted provider answer.
type step struct {
	resp llm.LLMResponse
	err  error
}

// scriptedProvider replays steps in order, repeating the last one.
type scriptedProvider struct {
	mu      sync.Mutex
	steps   []step
	calls   [][]llm.ChatMessage
	started chan struct{}
	release chan struct{}
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted-1" }

func (p *scriptedProvider) ChatWithTools(ctx context.Context, messages []llm.ChatMessage, _ []llm.ToolDefinition) (llm.LLMResponse, error) {
	if p.release != nil {
		p.started <- struct{}{}
		select {
		case <-p.release:
		case <-ctx.Done():
			return llm.LLMResponse{}, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, messages)
	if len(p.steps) == 0 {
		return llm.LLMResponse{Content: "nothing scripted"}, nil
	}
	next := p.steps[0]
	if len(p.steps) > 1 {
		p.steps = p.steps[1:]
	}
	return next.resp, next.err
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// recordingExecutor stands in for the sandbox.
type recordingExecutor struct {
	mu       sync.Mutex
	commands []string
	result   sandbox.Result
}

func (e *recordingExecutor) Execute(_ context.Context, command string) sandbox.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = append(e.commands, command)
	return e.result
}

func (e *recordingExecutor) executed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

type memoryRecorder struct {
	mu    sync.Mutex
	turns map[string][]conversation.Turn
}

func (r *memoryRecorder) AppendTurn(_ context.Context, sessionID string, turn conversation.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.turns == nil {
		r.turns = make(map[string][]conversation.Turn)
	}
	r.turns[sessionID] = append(r.turns[sessionID], turn)
	return nil
}

func text(content string) step {
	return step{resp: llm.LLMResponse{Content: content}}
}

func shellCall(id, args string) step {
	return step{resp: llm.LLMResponse{ToolCalls: []llm.ToolCall{
		{ID: id, Name: tools.ShellScriptToolName, Arguments: json.RawMessage(args)},
	}}}
}

func newTestSession(t *testing.T, provider *scriptedProvider, executor *recordingExecutor) *Session {
	t.Helper()
	registry, err := tools.WithDefaults(executor, "powershell")
	if err != nil {
		t.Fatalf("WithDefaults() error = %v", err)
	}
	b := NewBuilder(registry).
		Config(DefaultConfig("powershell")).
		Logger(logger.Discard())
	if provider != nil {
		b.Client(llm.NewClient(provider))
	}
	session, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	t.Cleanup(session.Close)
	return session
}

func drain(ch <-chan Event) []Event {
	var events []Event
	for {
		select {
		case e := <-ch:
			events = append(events, e)
		default:
			return events
		}
	}
}

func roles(turns []conversation.Turn) []conversation.Role {
	out := make([]conversation.Role, len(turns))
	for i, turn := range turns {
		out[i] = turn.Role
	}
	return out
}

func assertRoles(t *testing.T, turns []conversation.Turn, want ...conversation.Role) {
	t.Helper()
	got := roles(turns)
	if len(got) != len(want) {
		t.Fatalf("history roles = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("history roles = %v, want %v", got, want)
		}
	}
}

func TestListFilesScenario(t *testing.T) {
	provider := &scriptedProvider{steps: []step{
		shellCall("call_1", `{"script":"Get-ChildItem"}`),
		text("Here are the files: a.txt b.txtEND OF TURN."),
	}}
	executor := &recordingExecutor{result: sandbox.Result{Succeeded: true, Output: "a.txt b.txt"}}
	session := newTestSession(t, provider, executor)

	result := session.RunTurn(context.Background(), "list files in current directory")

	if result.State != StateDone || result.Err != nil {
		t.Fatalf("State = %v, Err = %v, want Done", result.State, result.Err)
	}
	if result.Output != "Here are the files: a.txt b.txt" {
		t.Errorf("Output = %q", result.Output)
	}
	if result.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", result.Iterations)
	}
	if got := executor.executed(); len(got) != 1 || got[0] != "Get-ChildItem" {
		t.Errorf("executed = %v, want [Get-ChildItem]", got)
	}
	if len(result.ToolCalls) != 1 || !result.ToolCalls[0].Success {
		t.Errorf("ToolCalls = %+v", result.ToolCalls)
	}

	history := session.History()
	assertRoles(t, history, conversation.RoleUser, conversation.RoleModel, conversation.RoleToolResult, conversation.RoleModel)
	outcome := history[2].Outcomes()[0]
	if outcome.CallID != "call_1" || !outcome.Succeeded || outcome.Output != "a.txt b.txt" {
		t.Errorf("outcome = %+v", outcome)
	}

	events := drain(session.Events())
	kinds := make([]EventKind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	wantKinds := []EventKind{EventUserInput, EventToolCall, EventToolOutput, EventFinal}
	if len(kinds) != len(wantKinds) {
		t.Fatalf("events = %v, want %v", kinds, wantKinds)
	}
	for i := range wantKinds {
		if kinds[i] != wantKinds[i] {
			t.Fatalf("events = %v, want %v", kinds, wantKinds)
		}
	}
	if events[1].Message != "Executing: Get-ChildItem" {
		t.Errorf("tool call message = %q", events[1].Message)
	}
	if events[3].Message != result.Output {
		t.Errorf("final message = %q, want %q", events[3].Message, result.Output)
	}
}

func TestTerminationMarkerStripped(t *testing.T) {
	provider := &scriptedProvider{steps: []step{text("Done.END OF TURN.")}}
	session := newTestSession(t, provider, &recordingExecutor{})

	result := session.RunTurn(context.Background(), "hello")

	if result.Output != "Done." {
		t.Errorf("Output = %q, want %q", result.Output, "Done.")
	}
	// The stored model turn keeps the raw reply.
	if got := session.History()[1].Text(); got != "Done.END OF TURN." {
		t.Errorf("stored model text = %q", got)
	}
}

func TestContinuationWithoutMarker(t *testing.T) {
	provider := &scriptedProvider{steps: []step{
		text("Let me think about that."),
		text("All set.END OF TURN."),
	}}
	session := newTestSession(t, provider, &recordingExecutor{})

	result := session.RunTurn(context.Background(), "do it")

	if result.State != StateDone || result.Output != "All set." {
		t.Fatalf("result = %+v", result)
	}
	if provider.callCount() != 2 {
		t.Fatalf("model calls = %d, want 2", provider.callCount())
	}

	second := provider.calls[1]
	last := second[len(second)-1]
	if last.Role != "user" || last.Content != llm.ContinuationPrompt {
		t.Errorf("continuation request ends with %+v", last)
	}
	assertRoles(t, session.History(), conversation.RoleUser, conversation.RoleModel, conversation.RoleModel)

	var progress []string
	for _, e := range drain(session.Events()) {
		if e.Kind == EventProgress {
			progress = append(progress, e.Message)
		}
	}
	if len(progress) != 1 || progress[0] != "Let me think about that." {
		t.Errorf("progress = %v", progress)
	}
}

func TestRejectedToolCalls(t *testing.T) {
	tests := []struct {
		name    string
		reply   step
		wantErr error
	}{
		{
			name: "unknown tool",
			reply: step{resp: llm.LLMResponse{ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: "format_disk", Arguments: json.RawMessage(`{"drive":"C"}`)},
			}}},
			wantErr: tools.ErrUnknownToolCall,
		},
		{
			name:    "missing script",
			reply:   shellCall("c1", `{}`),
			wantErr: tools.ErrInvalidToolCall,
		},
		{
			name:    "empty script",
			reply:   shellCall("c1", `{"script":"   "}`),
			wantErr: tools.ErrInvalidToolCall,
		},
		{
			name: "one bad call stops all",
			reply: step{resp: llm.LLMResponse{ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: tools.ShellScriptToolName, Arguments: json.RawMessage(`{"script":"echo ok"}`)},
				{ID: "c2", Name: "format_disk", Arguments: json.RawMessage(`{}`)},
			}}},
			wantErr: tools.ErrUnknownToolCall,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &scriptedProvider{steps: []step{tt.reply, text("Recovered.END OF TURN.")}}
			executor := &recordingExecutor{result: sandbox.Result{Succeeded: true}}
			session := newTestSession(t, provider, executor)

			result := session.RunTurn(context.Background(), "do something")

			if result.State != StateFailed {
				t.Fatalf("State = %v, want Failed", result.State)
			}
			if !errors.Is(result.Err, tt.wantErr) {
				t.Errorf("Err = %v, want %v", result.Err, tt.wantErr)
			}
			if got := executor.executed(); len(got) != 0 {
				t.Errorf("sandbox ran %v, want nothing", got)
			}

			history := session.History()
			assertRoles(t, history, conversation.RoleUser, conversation.RoleModel, conversation.RoleToolResult)
			calls := history[1].ToolCalls()
			outcomes := history[2].Outcomes()
			if len(outcomes) != len(calls) {
				t.Errorf("%d outcomes for %d calls", len(outcomes), len(calls))
			}
			for _, o := range outcomes {
				if o.Succeeded {
					t.Errorf("rejected outcome marked succeeded: %+v", o)
				}
			}

			// The next turn continues from a consistent history.
			next := session.RunTurn(context.Background(), "try again")
			if next.State != StateDone || next.Output != "Recovered." {
				t.Errorf("next turn = %+v", next)
			}
		})
	}
}

func TestMultipleCallsInOneReply(t *testing.T) {
	provider := &scriptedProvider{steps: []step{
		{resp: llm.LLMResponse{ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: tools.ShellScriptToolName, Arguments: json.RawMessage(`{"script":"pwd"}`)},
			{ID: "c2", Name: tools.ShellScriptToolName, Arguments: json.RawMessage(`{"script":"whoami"}`)},
		}}},
		text("Both done.END OF TURN."),
	}}
	executor := &recordingExecutor{result: sandbox.Result{Succeeded: true, Output: "ok"}}
	session := newTestSession(t, provider, executor)

	result := session.RunTurn(context.Background(), "where and who am I")

	if result.State != StateDone {
		t.Fatalf("State = %v, Err = %v", result.State, result.Err)
	}
	got := executor.executed()
	if len(got) != 2 || got[0] != "pwd" || got[1] != "whoami" {
		t.Errorf("executed = %v, want [pwd whoami]", got)
	}
	outcomes := session.History()[2].Outcomes()
	if len(outcomes) != 2 || outcomes[0].CallID != "c1" || outcomes[1].CallID != "c2" {
		t.Errorf("outcomes = %+v", outcomes)
	}
}

func TestSandboxFailureIsData(t *testing.T) {
	provider := &scriptedProvider{steps: []step{
		shellCall("c1", `{"script":"Get-Item nope"}`),
		text("That file does not exist.END OF TURN."),
	}}
	executor := &recordingExecutor{result: sandbox.Result{Succeeded: false, Output: "command exited with code 1"}}
	session := newTestSession(t, provider, executor)

	result := session.RunTurn(context.Background(), "show nope")

	if result.State != StateDone {
		t.Fatalf("State = %v, Err = %v", result.State, result.Err)
	}
	if result.ToolCalls[0].Success {
		t.Error("metric should record the failed execution")
	}
	if outcome := session.History()[2].Outcomes()[0]; outcome.Succeeded {
		t.Errorf("outcome = %+v, want failed", outcome)
	}
}

func TestEmptyReplyIsNotRecorded(t *testing.T) {
	provider := &scriptedProvider{steps: []step{
		text(""),
		text("Recovered.END OF TURN."),
		text("Still fine.END OF TURN."),
	}}
	session := newTestSession(t, provider, &recordingExecutor{})

	result := session.RunTurn(context.Background(), "hello")
	if result.State != StateDone || result.Output != "Recovered." {
		t.Fatalf("result = %+v", result)
	}
	if result.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", result.Iterations)
	}
	assertRoles(t, session.History(), conversation.RoleUser, conversation.RoleModel)

	continuation := provider.calls[1]
	for _, msg := range continuation {
		if msg.Role == "assistant" {
			t.Errorf("continuation replayed the empty reply: %+v", msg)
		}
	}
	if last := continuation[len(continuation)-1]; last.Content != llm.ContinuationPrompt {
		t.Errorf("continuation request ends with %+v", last)
	}

	next := session.RunTurn(context.Background(), "again")
	if next.State != StateDone || next.Output != "Still fine." {
		t.Fatalf("next turn = %+v", next)
	}
	assertRoles(t, session.History(),
		conversation.RoleUser, conversation.RoleModel, conversation.RoleUser, conversation.RoleModel)
}

func TestModelErrorPreservesHistory(t *testing.T) {
	provider := &scriptedProvider{steps: []step{
		text("First answer.END OF TURN."),
		{err: errors.New("rate limit reached")},
	}}
	session := newTestSession(t, provider, &recordingExecutor{})

	if first := session.RunTurn(context.Background(), "one"); first.State != StateDone {
		t.Fatalf("first turn = %+v", first)
	}
	result := session.RunTurn(context.Background(), "two")

	if result.State != StateFailed {
		t.Fatalf("State = %v, want Failed", result.State)
	}
	var modelErr *llm.ModelError
	if !errors.As(result.Err, &modelErr) || modelErr.Kind != llm.RateLimited {
		t.Errorf("Err = %v, want RateLimited *ModelError", result.Err)
	}
	assertRoles(t, session.History(), conversation.RoleUser, conversation.RoleModel, conversation.RoleUser)

	var errEvent *Event
	for _, e := range drain(session.Events()) {
		if e.Kind == EventError {
			errEvent = &e
		}
	}
	if errEvent == nil || errEvent.Data["kind"] != "RateLimited" {
		t.Errorf("error event = %+v", errEvent)
	}
}

func TestIterationLimit(t *testing.T) {
	provider := &scriptedProvider{steps: []step{text("still working")}}
	session := newTestSession(t, provider, &recordingExecutor{})
	session.config.MaxIterations = 3

	result := session.RunTurn(context.Background(), "loop forever")

	if !errors.Is(result.Err, ErrIterationLimit) {
		t.Fatalf("Err = %v, want ErrIterationLimit", result.Err)
	}
	if result.Iterations != 3 || provider.callCount() != 3 {
		t.Errorf("Iterations = %d, model calls = %d, want 3", result.Iterations, provider.callCount())
	}
}

func TestNoClient(t *testing.T) {
	session := newTestSession(t, nil, &recordingExecutor{})

	result := session.RunTurn(context.Background(), "hello")

	if !errors.Is(result.Err, ErrNoClient) {
		t.Fatalf("Err = %v, want ErrNoClient", result.Err)
	}
	if len(session.History()) != 0 {
		t.Errorf("history = %v, want empty", session.History())
	}
}

func TestOneTurnAtATime(t *testing.T) {
	provider := &scriptedProvider{
		steps:   []step{text("Finished.END OF TURN.")},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	session := newTestSession(t, provider, &recordingExecutor{})

	results, err := session.Submit(context.Background(), "first")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-provider.started

	if !session.Busy() {
		t.Error("Busy() = false during a turn")
	}
	if _, err := session.Submit(context.Background(), "second"); !errors.Is(err, ErrTurnInProgress) {
		t.Errorf("second Submit() error = %v, want ErrTurnInProgress", err)
	}
	if got := session.RunTurn(context.Background(), "third"); !errors.Is(got.Err, ErrTurnInProgress) {
		t.Errorf("RunTurn() error = %v, want ErrTurnInProgress", got.Err)
	}
	if err := session.Reconfigure(nil); !errors.Is(err, ErrTurnInProgress) {
		t.Errorf("Reconfigure() error = %v, want ErrTurnInProgress", err)
	}
	if err := session.Reset(); !errors.Is(err, ErrTurnInProgress) {
		t.Errorf("Reset() error = %v, want ErrTurnInProgress", err)
	}

	close(provider.release)
	select {
	case result := <-results:
		if result.State != StateDone || result.Output != "Finished." {
			t.Errorf("result = %+v", result)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("turn did not finish")
	}
	if _, open := <-results; open {
		t.Error("result channel not closed")
	}
	if session.Busy() {
		t.Error("Busy() = true after the turn")
	}
}

func TestReconfigureResetsHistory(t *testing.T) {
	provider := &scriptedProvider{steps: []step{text("Hi.END OF TURN.")}}
	session := newTestSession(t, provider, &recordingExecutor{})
	session.RunTurn(context.Background(), "hello")
	before := session.ID()

	other := &scriptedProvider{steps: []step{text("Fresh.END OF TURN.")}}
	if err := session.Reconfigure(llm.NewClient(other)); err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}

	if len(session.History()) != 0 {
		t.Errorf("history has %d turns after Reconfigure", len(session.History()))
	}
	if session.ID() == before {
		t.Error("session ID unchanged after Reconfigure")
	}

	result := session.RunTurn(context.Background(), "again")
	if result.Output != "Fresh." || other.callCount() != 1 {
		t.Errorf("result = %+v, new client calls = %d", result, other.callCount())
	}
	if len(other.calls[0]) != 2 {
		t.Errorf("new client saw %d messages, want system + user", len(other.calls[0]))
	}
}

func TestResetKeepsClient(t *testing.T) {
	provider := &scriptedProvider{steps: []step{text("Ok.END OF TURN.")}}
	session := newTestSession(t, provider, &recordingExecutor{})
	session.RunTurn(context.Background(), "hello")

	if err := session.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if len(session.History()) != 0 || !session.HasClient() {
		t.Errorf("history = %d turns, HasClient = %v", len(session.History()), session.HasClient())
	}
}

func TestRecorderReceivesTurns(t *testing.T) {
	provider := &scriptedProvider{steps: []step{
		shellCall("c1", `{"script":"ls"}`),
		text("Listed.END OF TURN."),
	}}
	recorder := &memoryRecorder{}
	registry, err := tools.WithDefaults(&recordingExecutor{result: sandbox.Result{Succeeded: true}}, "sh")
	if err != nil {
		t.Fatal(err)
	}
	session, err := NewBuilder(registry).
		Client(llm.NewClient(provider)).
		Recorder(recorder).
		Logger(logger.Discard()).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	defer session.Close()

	session.RunTurn(context.Background(), "list")

	recorded := recorder.turns[session.ID()]
	assertRoles(t, recorded, conversation.RoleUser, conversation.RoleModel, conversation.RoleToolResult, conversation.RoleModel)
}

func TestClose(t *testing.T) {
	session := newTestSession(t, &scriptedProvider{}, &recordingExecutor{})
	session.Close()

	if _, err := session.Submit(context.Background(), "late"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Submit() after Close error = %v, want ErrSessionClosed", err)
	}
	if _, open := <-session.Events(); open {
		t.Error("event channel open after Close")
	}
}

func TestBuildRequiresRegistry(t *testing.T) {
	if _, err := NewBuilder(nil).Build(); err == nil {
		t.Error("Build() without registry should fail")
	}
}

func TestStripTerminationMarker(t *testing.T) {
	tests := []struct {
		in       string
		want     string
		wantDone bool
	}{
		{"Done.END OF TURN.", "Done.", true},
		{"Here you go.\n\nEND OF TURN.", "Here you go.", true},
		{"END OF TURN.", "", true},
		{"  still working  ", "still working", false},
		{"end of turn.", "end of turn.", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, done := StripTerminationMarker(tt.in)
			if got != tt.want || done != tt.wantDone {
				t.Errorf("StripTerminationMarker(%q) = %q, %v, want %q, %v", tt.in, got, done, tt.want, tt.wantDone)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	if StateDispatchingTool.String() != "DispatchingTool" || State(99).String() != "Unknown" {
		t.Error("unexpected state names")
	}
}
