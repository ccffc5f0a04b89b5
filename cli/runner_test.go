package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/richinex/shellagent/config"
	"github.com/richinex/shellagent/credentials"
	"github.com/richinex/shellagent/llm"
	"github.com/richinex/shellagent/storage"
)

type fakeProvider struct {
	mu        sync.Mutex
	responses []llm.LLMResponse
	err       error
	calls     int
}

func (p *fakeProvider) Name() string  { return "fake" }
func (p *fakeProvider) Model() string { return "fake-1" }

func (p *fakeProvider) ChatWithTools(_ context.Context, _ []llm.ChatMessage, _ []llm.ToolDefinition) (llm.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return llm.LLMResponse{}, p.err
	}
	next := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return next, nil
}

// useProvider routes provider construction to p and records the keys used.
func useProvider(t *testing.T, p llm.Provider) *[]string {
	t.Helper()
	var keys []string
	previous := newProvider
	newProvider = func(_ config.Settings, apiKey string) (llm.Provider, error) {
		keys = append(keys, apiKey)
		return p, nil
	}
	t.Cleanup(func() { newProvider = previous })
	return &keys
}

type testIO struct {
	opts   Options
	out    *bytes.Buffer
	errOut *bytes.Buffer
	dir    string
}

func newTestIO(t *testing.T, input string) testIO {
	t.Helper()
	dir := t.TempDir()
	for _, key := range []string{"LLM_PROVIDER", "GEMINI_MODEL", "AGENT_MAX_ITERATIONS", "SANDBOX_SHELL", "SANDBOX_TIMEOUT_SECS"} {
		t.Setenv(key, "")
	}
	t.Setenv("SHELLAGENT_CREDENTIALS", filepath.Join(dir, "credentials.env"))
	t.Setenv("SHELLAGENT_DB", filepath.Join(dir, "transcripts.db"))
	t.Setenv("GEMINI_API_KEY", "env-key")

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return testIO{
		opts: Options{
			Provider: "gemini",
			Shell:    "sh",
			In:       strings.NewReader(input),
			Out:      out,
			Err:      errOut,
		},
		out:    out,
		errOut: errOut,
		dir:    dir,
	}
}

func TestChatSession(t *testing.T) {
	tio := newTestIO(t, "hello\n\n/reset\nexit\nnever sent\n")
	provider := &fakeProvider{responses: []llm.LLMResponse{{Content: "Hi there.END OF TURN."}}}
	keys := useProvider(t, provider)

	if err := Chat(context.Background(), tio.opts); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	out := tio.out.String()
	if !strings.Contains(out, "Hi there.") {
		t.Errorf("output missing reply:\n%s", out)
	}
	if strings.Contains(out, "END OF TURN.") {
		t.Errorf("output contains termination marker:\n%s", out)
	}
	if !strings.Contains(out, "History cleared.") {
		t.Errorf("output missing reset notice:\n%s", out)
	}
	if provider.calls != 1 {
		t.Errorf("provider called %d times, want 1", provider.calls)
	}
	if len(*keys) != 1 || (*keys)[0] != "env-key" {
		t.Errorf("provider keys = %v, want [env-key]", *keys)
	}
}

func TestChatAPIKeyCommand(t *testing.T) {
	tio := newTestIO(t, "hello\n/api   new-key-1234  \nhello again\nexit\n")
	os.Unsetenv("GEMINI_API_KEY")
	provider := &fakeProvider{responses: []llm.LLMResponse{{Content: "Ready.END OF TURN."}}}
	keys := useProvider(t, provider)

	if err := Chat(context.Background(), tio.opts); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if !strings.Contains(tio.out.String(), "No API key found in GEMINI_API_KEY") {
		t.Errorf("missing startup notice:\n%s", tio.out.String())
	}
	if !strings.Contains(tio.errOut.String(), "no model client configured") {
		t.Errorf("first turn should fail without a client:\n%s", tio.errOut.String())
	}
	if !strings.Contains(tio.out.String(), "********1234 saved to") {
		t.Errorf("missing save confirmation:\n%s", tio.out.String())
	}
	if !strings.Contains(tio.out.String(), "Ready.") {
		t.Errorf("second turn should succeed:\n%s", tio.out.String())
	}
	if provider.calls != 1 {
		t.Errorf("provider called %d times, want 1", provider.calls)
	}
	if len(*keys) != 1 || (*keys)[0] != "new-key-1234" {
		t.Errorf("provider keys = %v, want [new-key-1234]", *keys)
	}

	stored, err := credentials.NewStore(filepath.Join(tio.dir, "credentials.env")).Get("GEMINI_API_KEY")
	if err != nil {
		t.Fatal(err)
	}
	if stored != "new-key-1234" {
		t.Errorf("stored key = %q, want new-key-1234", stored)
	}
	if os.Getenv("GEMINI_API_KEY") != "new-key-1234" {
		t.Errorf("key not exported to the process environment")
	}
}

func TestChatCommandErrors(t *testing.T) {
	tio := newTestIO(t, "/frobnicate\n/api two words\n")
	useProvider(t, &fakeProvider{responses: []llm.LLMResponse{{Content: "unused"}}})

	if err := Chat(context.Background(), tio.opts); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	errOut := tio.errOut.String()
	if !strings.Contains(errOut, "Unknown command /frobnicate") {
		t.Errorf("missing unknown command message:\n%s", errOut)
	}
	if !strings.Contains(errOut, "cannot contain whitespace") {
		t.Errorf("missing key validation error:\n%s", errOut)
	}
}

func TestChatAPIKeyRemoval(t *testing.T) {
	tio := newTestIO(t, "/api first-key\n/api\nhello\n")
	provider := &fakeProvider{responses: []llm.LLMResponse{{Content: "unused"}}}
	useProvider(t, provider)
	credPath := filepath.Join(tio.dir, "credentials.env")

	if err := Chat(context.Background(), tio.opts); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if !strings.Contains(tio.out.String(), "API key GEMINI_API_KEY removed.") {
		t.Errorf("missing removal notice:\n%s", tio.out.String())
	}
	if !strings.Contains(tio.errOut.String(), "no model client configured") {
		t.Errorf("turn after removal should fail without a client:\n%s", tio.errOut.String())
	}
	if provider.calls != 0 {
		t.Errorf("provider called %d times, want 0", provider.calls)
	}
	if _, err := os.Stat(credPath); !os.IsNotExist(err) {
		t.Errorf("credentials file should be removed: %v", err)
	}
	if _, ok := os.LookupEnv("GEMINI_API_KEY"); ok {
		t.Error("GEMINI_API_KEY still set after removal")
	}
}

func TestChatAPIKeyNotAppliedWhenSaveFails(t *testing.T) {
	tio := newTestIO(t, "/api new-key\nhello\n")
	blocker := filepath.Join(tio.dir, "blocker")
	if err := os.WriteFile(blocker, []byte("not a directory"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SHELLAGENT_CREDENTIALS", filepath.Join(blocker, "credentials.env"))

	byKey := map[string]*fakeProvider{
		"env-key": {responses: []llm.LLMResponse{{Content: "old client.END OF TURN."}}},
		"new-key": {responses: []llm.LLMResponse{{Content: "new client.END OF TURN."}}},
	}
	previous := newProvider
	newProvider = func(_ config.Settings, apiKey string) (llm.Provider, error) {
		return byKey[apiKey], nil
	}
	t.Cleanup(func() { newProvider = previous })

	if err := Chat(context.Background(), tio.opts); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if !strings.Contains(tio.errOut.String(), "Error:") {
		t.Errorf("save failure not reported:\n%s", tio.errOut.String())
	}
	if strings.Contains(tio.out.String(), "saved to") {
		t.Errorf("key reported as saved:\n%s", tio.out.String())
	}
	if !strings.Contains(tio.out.String(), "old client.") {
		t.Errorf("turn should still use the previous key:\n%s", tio.out.String())
	}
	if byKey["new-key"].calls != 0 {
		t.Errorf("new key used for %d model calls", byKey["new-key"].calls)
	}
	if got := os.Getenv("GEMINI_API_KEY"); got != "env-key" {
		t.Errorf("GEMINI_API_KEY = %q, want env-key", got)
	}
}

func TestRunTaskModelFailure(t *testing.T) {
	tio := newTestIO(t, "")
	useProvider(t, &fakeProvider{err: errors.New("429 Too Many Requests")})

	err := RunTask(context.Background(), "anything", tio.opts)
	if !errors.Is(err, ErrTaskFailed) {
		t.Fatalf("RunTask() error = %v, want ErrTaskFailed", err)
	}
	if !strings.Contains(tio.errOut.String(), "Error:") {
		t.Errorf("error event not printed:\n%s", tio.errOut.String())
	}
}

func TestRunTaskUnknownProvider(t *testing.T) {
	tio := newTestIO(t, "")
	tio.opts.Provider = "nonsense"

	err := RunTask(context.Background(), "anything", tio.opts)
	if err == nil || errors.Is(err, ErrTaskFailed) {
		t.Fatalf("RunTask() error = %v, want setup error", err)
	}
}

func TestRunTaskExecutesScriptAndRecordsTranscript(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	tio := newTestIO(t, "")
	args, _ := json.Marshal(map[string]any{"script": "echo cli-test-output"})
	useProvider(t, &fakeProvider{responses: []llm.LLMResponse{
		{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "run_shell_script", Arguments: args}}},
		{Content: "Printed it.END OF TURN."},
	}})
	tio.opts.Verbose = true

	if err := RunTask(context.Background(), "print something", tio.opts); err != nil {
		t.Fatalf("RunTask() error = %v\nstderr:\n%s", err, tio.errOut.String())
	}

	out := tio.out.String()
	for _, want := range []string{"Executing: echo cli-test-output", "    cli-test-output", "Printed it.", "2 model calls, 1 tool calls"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	dbPath := filepath.Join(tio.dir, "transcripts.db")
	store, err := storage.OpenSqlite(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	sessions, err := store.ListSessions(context.Background())
	store.Close()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].TurnCount != 4 {
		t.Fatalf("sessions = %+v, want one session with 4 turns", sessions)
	}
	id := sessions[0].ID

	tio.out.Reset()
	if err := ListTranscripts(context.Background(), tio.opts); err != nil {
		t.Fatalf("ListTranscripts() error = %v", err)
	}
	if !strings.Contains(tio.out.String(), id) {
		t.Errorf("list missing session %s:\n%s", id, tio.out.String())
	}

	tio.out.Reset()
	if err := ShowTranscript(context.Background(), id, tio.opts); err != nil {
		t.Fatalf("ShowTranscript() error = %v", err)
	}
	shown := tio.out.String()
	for _, want := range []string{"user: print something", "Executing: echo cli-test-output", "run_shell_script (ok)", "model: Printed it."} {
		if !strings.Contains(shown, want) {
			t.Errorf("transcript missing %q:\n%s", want, shown)
		}
	}

	if err := DeleteTranscript(context.Background(), id, tio.opts); err != nil {
		t.Fatalf("DeleteTranscript() error = %v", err)
	}
	if err := ShowTranscript(context.Background(), id, tio.opts); err == nil {
		t.Error("ShowTranscript() after delete should fail")
	}
}

func TestTranscriptsWithoutDatabase(t *testing.T) {
	tio := newTestIO(t, "")
	if err := ListTranscripts(context.Background(), tio.opts); err == nil {
		t.Error("ListTranscripts() should fail when no database exists")
	}
}

func TestListTools(t *testing.T) {
	tio := newTestIO(t, "")
	tio.opts.Verbose = true

	if err := ListTools(tio.opts); err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	out := tio.out.String()
	for _, want := range []string{"Tool: run_shell_script", "script (string)", "[required]", "Scripts run in sh with a 1m0s timeout."} {
		if !strings.Contains(out, want) {
			t.Errorf("tool listing missing %q:\n%s", want, out)
		}
	}
}
