// Command execution for CLI commands.
//
// Information Hiding:
// - Command dispatch logic hidden
// - Session setup hidden
// - Output formatting hidden

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/richinex/shellagent/agent"
	"github.com/richinex/shellagent/conversation"
	"github.com/richinex/shellagent/tools"
)

// ErrTaskFailed marks a turn that ran and failed. Its events have already
// been printed.
var ErrTaskFailed = errors.New("task failed")

// Options holds CLI execution options. Zero values defer to the environment.
type Options struct {
	Provider     string
	Model        string
	MaxIter      int
	Shell        string
	DBPath       string
	NoTranscript bool
	Verbose      bool

	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// DefaultOptions returns default CLI options bound to the process's stdio.
func DefaultOptions() Options {
	return Options{
		In:  os.Stdin,
		Out: os.Stdout,
		Err: os.Stderr,
	}
}

func (o Options) withDefaults() Options {
	if o.In == nil {
		o.In = os.Stdin
	}
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.Err == nil {
		o.Err = os.Stderr
	}
	return o
}

// RunTask executes a single turn and returns an error when it fails.
func RunTask(ctx context.Context, task string, opts Options) error {
	opts = opts.withDefaults()
	env, err := newEnvironment(opts)
	if err != nil {
		return err
	}
	defer env.Close()

	p := &printer{out: opts.Out, errOut: opts.Err, verbose: opts.Verbose}
	result, err := runTurn(ctx, env.session, task, p)
	if err != nil {
		return err
	}
	if opts.Verbose {
		p.stats(result)
	}
	if !result.Succeeded() {
		return fmt.Errorf("%w: %w", ErrTaskFailed, result.Err)
	}
	return nil
}

// Chat starts an interactive chat session.
func Chat(ctx context.Context, opts Options) error {
	opts = opts.withDefaults()
	env, err := newEnvironment(opts)
	if err != nil {
		return err
	}
	defer env.Close()

	p := &printer{out: opts.Out, errOut: opts.Err, verbose: opts.Verbose}
	fmt.Fprintf(opts.Out, "Chat with %s (%s). Type /help for commands, 'exit' to quit.\n\n",
		env.settings.LLM.Provider, env.settings.LLM.Model)
	if !env.session.HasClient() {
		fmt.Fprintf(opts.Out, "No API key found in %s. Set one with /api <key>.\n\n", env.settings.LLM.APIKeyEnv)
	}

	scanner := bufio.NewScanner(opts.In)
	for ctx.Err() == nil {
		fmt.Fprint(opts.Out, "> ")
		if !scanner.Scan() {
			break
		}

		cmd := parseInput(scanner.Text())
		switch cmd.kind {
		case cmdEmpty:
			continue
		case cmdExit:
			return nil
		case cmdHelp:
			fmt.Fprintf(opts.Out, "%s\n\n", chatHelp)
		case cmdUnknown:
			fmt.Fprintf(opts.Err, "Unknown command %s. Type /help for commands.\n\n", cmd.arg)
		case cmdReset:
			if err := env.session.Reset(); err != nil {
				fmt.Fprintf(opts.Err, "Error: %v\n\n", err)
			}
			p.drain(env.session.Events())
		case cmdAPIKey:
			path, err := env.setAPIKey(cmd.arg)
			if err != nil {
				fmt.Fprintf(opts.Err, "Error: %v\n\n", err)
				continue
			}
			p.drain(env.session.Events())
			switch {
			case cmd.arg == "":
				fmt.Fprintf(opts.Out, "API key %s removed. Set one with /api <key>.\n\n", env.settings.LLM.APIKeyEnv)
			case path != "":
				fmt.Fprintf(opts.Out, "API key %s saved to %s.\n\n", maskKey(cmd.arg), path)
			default:
				fmt.Fprintf(opts.Out, "API key %s set for this session.\n\n", maskKey(cmd.arg))
			}
		case cmdPrompt:
			result, err := runTurn(ctx, env.session, cmd.arg, p)
			if err != nil {
				fmt.Fprintf(opts.Err, "Error: %v\n\n", err)
				continue
			}
			if opts.Verbose {
				p.stats(result)
			}
		}
	}

	return scanner.Err()
}

// runTurn submits input and prints the turn's events as they arrive.
func runTurn(ctx context.Context, session *agent.Session, input string, p *printer) (agent.TurnResult, error) {
	results, err := session.Submit(ctx, input)
	if err != nil {
		return agent.TurnResult{}, err
	}

	events := session.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			p.event(ev)
		case result := <-results:
			// Every event of the turn is buffered before the result is sent.
			p.drain(events)
			return result, nil
		}
	}
}

// ListTools prints the tools offered to the model.
func ListTools(opts Options) error {
	opts = opts.withDefaults()
	settings, err := loadSettings(opts)
	if err != nil {
		return err
	}
	sb, registry, err := newToolset(settings)
	if err != nil {
		return err
	}

	if opts.Verbose {
		fmt.Fprintf(opts.Out, "%s\n\nScripts run in %s with a %s timeout.\n",
			registry.Description(), sb.Shell().Name, sb.Timeout())
		return nil
	}

	fmt.Fprintln(opts.Out, "Available tools:")
	fmt.Fprintln(opts.Out)
	for _, decl := range registry.Declarations() {
		fmt.Fprintf(opts.Out, "  %s\n", decl.Name)
		fmt.Fprintf(opts.Out, "    %s\n\n", decl.Description)
	}
	return nil
}

// ListTranscripts prints recorded sessions, most recent first.
func ListTranscripts(ctx context.Context, opts Options) error {
	opts = opts.withDefaults()
	store, err := openTranscripts(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(opts.Out, "No transcripts recorded.")
		return nil
	}

	w := tabwriter.NewWriter(opts.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tTURNS\tSTARTED\tUPDATED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", s.ID, s.TurnCount,
			s.CreatedAt.Format(time.DateTime), s.UpdatedAt.Format(time.DateTime))
	}
	return w.Flush()
}

// ShowTranscript prints every turn recorded for a session.
func ShowTranscript(ctx context.Context, sessionID string, opts Options) error {
	opts = opts.withDefaults()
	store, err := openTranscripts(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	exists, err := store.Exists(ctx, sessionID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("transcript %q not found", sessionID)
	}

	turns, err := store.LoadTurns(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, turn := range turns {
		printTurn(opts.Out, turn, opts.Verbose)
	}
	return nil
}

// DeleteTranscript removes a recorded session.
func DeleteTranscript(ctx context.Context, sessionID string, opts Options) error {
	opts = opts.withDefaults()
	store, err := openTranscripts(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	exists, err := store.Exists(ctx, sessionID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("transcript %q not found", sessionID)
	}
	if err := store.Delete(ctx, sessionID); err != nil {
		return err
	}
	fmt.Fprintf(opts.Out, "Deleted transcript %s.\n", sessionID)
	return nil
}

// Output formatting

const maxOutputLen = 2000

// printer renders session events. It is used from one goroutine.
type printer struct {
	out     io.Writer
	errOut  io.Writer
	verbose bool
}

func (p *printer) event(ev agent.Event) {
	switch ev.Kind {
	case agent.EventUserInput:
		// Already on screen.
	case agent.EventProgress:
		fmt.Fprintf(p.out, "%s\n", ev.Message)
	case agent.EventToolCall:
		fmt.Fprintf(p.out, "%s\n", ev.Message)
	case agent.EventToolOutput:
		output := strings.TrimRight(ev.Message, "\n")
		if !p.verbose {
			output = truncateString(output, maxOutputLen)
		}
		if output != "" {
			fmt.Fprintf(p.out, "%s\n", indent(output, "    "))
		}
	case agent.EventFinal:
		fmt.Fprintf(p.out, "\n%s\n\n", ev.Message)
	case agent.EventError:
		fmt.Fprintf(p.errOut, "\nError: %s\n", ev.Message)
		if hint, ok := ev.Data["hint"].(string); ok && hint != "" {
			fmt.Fprintf(p.errOut, "Hint: %s\n", hint)
		}
		fmt.Fprintln(p.errOut)
	case agent.EventReset:
		fmt.Fprintln(p.out, "History cleared.")
		fmt.Fprintln(p.out)
	}
}

// drain prints events already buffered without waiting for more.
func (p *printer) drain(events <-chan agent.Event) {
	if events == nil {
		return
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.event(ev)
		default:
			return
		}
	}
}

func (p *printer) stats(result agent.TurnResult) {
	fmt.Fprintf(p.out, "(%d model calls, %d tool calls, %d tokens, %s)\n\n",
		result.Iterations, len(result.ToolCalls), result.Usage.TotalTokens,
		result.Duration.Round(time.Millisecond))
}

func printTurn(w io.Writer, turn conversation.Turn, verbose bool) {
	stamp := turn.Timestamp.Format(time.TimeOnly)
	switch turn.Role {
	case conversation.RoleUser:
		fmt.Fprintf(w, "[%s] user: %s\n", stamp, turn.Text())
	case conversation.RoleModel:
		if text := turn.Text(); text != "" {
			fmt.Fprintf(w, "[%s] model: %s\n", stamp, text)
		}
		for _, call := range turn.ToolCalls() {
			if call.Name == tools.ShellScriptToolName {
				fmt.Fprintf(w, "[%s] model: Executing: %s\n", stamp, strings.TrimSpace(tools.Script(call.Arguments)))
			} else {
				fmt.Fprintf(w, "[%s] model: call %s\n", stamp, call.Name)
			}
		}
	case conversation.RoleToolResult:
		for _, outcome := range turn.Outcomes() {
			status := "ok"
			if !outcome.Succeeded {
				status = "failed"
			}
			output := strings.TrimRight(outcome.Output, "\n")
			if !verbose {
				output = truncateString(output, maxOutputLen)
			}
			fmt.Fprintf(w, "[%s] %s (%s):\n%s\n", stamp, outcome.Name, status, indent(output, "    "))
		}
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

// truncateString truncates a string to maxLen runes, preserving UTF-8 boundaries.
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

