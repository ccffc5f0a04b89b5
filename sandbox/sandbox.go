// Package sandbox runs a single command in an isolated shell process.
//
// Information Hiding:
// - Process creation, pipes and process-group cleanup hidden
// - Timeout enforcement hidden
// - Every failure is folded into a Result; nothing escapes as an error
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/richinex/shellagent/internal/logger"
)

// DefaultTimeout bounds a single command execution.
const DefaultTimeout = 60 * time.Second

// DefaultMaxOutputBytes caps how much of each stream is kept.
const DefaultMaxOutputBytes = 1 << 20

// waitDelay bounds how long output pipes are drained after the shell is
// killed, so grandchildren holding the pipes cannot stall the caller.
const waitDelay = 500 * time.Millisecond

// Result is the outcome of one command execution.
type Result struct {
	Succeeded bool   `json:"succeeded"`
	Output    string `json:"output"`
}

// Config holds sandbox execution settings.
// The zero value runs the default shell with a 60 second timeout.
type Config struct {
	Timeout time.Duration
	Shell   Shell
	WorkDir string

	// MaxOutputBytes caps the capture of stdout and of stderr. Anything
	// beyond it is counted and reported, not kept.
	MaxOutputBytes int

	// InheritSecrets passes variables such as *_API_KEY through to the
	// child. They are stripped by default.
	InheritSecrets bool

	Logger *slog.Logger
}

// Sandbox executes commands through an external shell.
type Sandbox struct {
	timeout        time.Duration
	maxOutput      int
	shell          Shell
	workDir        string
	inheritSecrets bool
	log            *slog.Logger
}

// New creates a sandbox from the given configuration.
func New(cfg Config) *Sandbox {
	s := &Sandbox{
		timeout:        cfg.Timeout,
		maxOutput:      cfg.MaxOutputBytes,
		shell:          cfg.Shell,
		workDir:        cfg.WorkDir,
		inheritSecrets: cfg.InheritSecrets,
		log:            cfg.Logger,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.maxOutput <= 0 {
		s.maxOutput = DefaultMaxOutputBytes
	}
	if s.shell.Path == "" {
		s.shell = DefaultShell()
	}
	if s.log == nil {
		s.log = logger.Named("sandbox")
	}
	return s
}

// Timeout returns the configured execution bound.
func (s *Sandbox) Timeout() time.Duration {
	return s.timeout
}

// Shell returns the shell commands run under.
func (s *Sandbox) Shell() Shell {
	return s.shell
}

// Execute runs command and waits for it to finish or time out.
// Cancellation of ctx does not stop a running command; only the timeout does.
func (s *Sandbox) Execute(ctx context.Context, command string) Result {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	stdout := &cappedBuffer{limit: s.maxOutput}
	stderr := &cappedBuffer{limit: s.maxOutput}
	cmd := exec.CommandContext(ctx, s.shell.Path, s.shell.command(command)...)
	cmd.Dir = s.workDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	if !s.inheritSecrets {
		cmd.Env = filterEnvironment(os.Environ())
	}
	configureProcess(cmd)

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)
	output := formatOutput(stdout.String(), stderr.String())

	result := s.classify(ctx, cmd, err, output)
	s.log.Info("command finished",
		"shell", s.shell.Name,
		"duration", elapsed,
		"succeeded", result.Succeeded,
		"output_bytes", len(result.Output))
	return result
}

func (s *Sandbox) classify(ctx context.Context, cmd *exec.Cmd, err error, output string) Result {
	if err == nil {
		return Result{Succeeded: true, Output: output}
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Result{Succeeded: false, Output: joinOutput(
			fmt.Sprintf("execution timed out after %s", formatDuration(s.timeout)), output)}
	}

	// The shell exited cleanly but a background process kept the pipes open.
	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success() {
		return Result{Succeeded: true, Output: output}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{Succeeded: false, Output: joinOutput(
			fmt.Sprintf("command exited with code %d", exitErr.ExitCode()), output)}
	}

	s.log.Warn("failed to start shell", "shell", s.shell.Path, "error", err)
	return Result{Succeeded: false, Output: fmt.Sprintf("failed to start shell %s: %v", s.shell.Name, err)}
}

// cappedBuffer keeps the first limit bytes written and counts the rest.
// Writes never fail, so a noisy child is not killed by a broken pipe.
type cappedBuffer struct {
	buf     bytes.Buffer
	limit   int
	dropped int64
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := min(max(b.limit-b.buf.Len(), 0), len(p))
	b.buf.Write(p[:n])
	b.dropped += int64(len(p) - n)
	return len(p), nil
}

// String returns the kept output followed by a truncation notice.
func (b *cappedBuffer) String() string {
	if b.dropped == 0 {
		return b.buf.String()
	}
	kept := strings.ToValidUTF8(b.buf.String(), "")
	return fmt.Sprintf("%s\n[output truncated: %d bytes omitted]", kept, b.dropped)
}

// formatOutput labels the streams when stderr carries data.
func formatOutput(stdout, stderr string) string {
	if stderr == "" {
		return strings.TrimSpace(stdout)
	}
	return fmt.Sprintf("STDOUT:\n%s\n\nSTDERR:\n%s", strings.TrimSpace(stdout), strings.TrimSpace(stderr))
}

func joinOutput(status, output string) string {
	if output == "" {
		return status
	}
	return status + "\n" + output
}

// formatDuration renders whole seconds as "N seconds".
func formatDuration(d time.Duration) string {
	if d%time.Second == 0 {
		secs := int64(d / time.Second)
		if secs == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", secs)
	}
	return d.String()
}

// sensitiveEnvSuffixes are case-insensitive suffixes of variables that never
// reach the child process unless InheritSecrets is set.
var sensitiveEnvSuffixes = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, suffix := range sensitiveEnvSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}

func filterEnvironment(environ []string) []string {
	filtered := make([]string, 0, len(environ))
	for _, kv := range environ {
		name, _, ok := strings.Cut(kv, "=")
		if !ok || isSensitiveEnvVar(name) {
			continue
		}
		filtered = append(filtered, kv)
	}
	return filtered
}
