// Shell selection for the command sandbox.
//
// Information Hiding:
// - Per-shell flags (profile loading, execution policy) hidden
// - Platform detection hidden behind DefaultShell

package sandbox

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Shell describes an interpreter that runs a single command string.
type Shell struct {
	Name string
	Path string
	Args []string // placed before the command string
}

var (
	// PowerShell is Windows PowerShell with profiles disabled and the
	// execution policy bypassed for the child process.
	PowerShell = Shell{
		Name: "powershell",
		Path: "powershell.exe",
		Args: []string{"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-Command"},
	}

	// Pwsh is cross-platform PowerShell 7 with the same flags.
	Pwsh = Shell{
		Name: "pwsh",
		Path: "pwsh",
		Args: []string{"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-Command"},
	}

	// Bash runs without reading any startup files.
	Bash = Shell{
		Name: "bash",
		Path: "bash",
		Args: []string{"--noprofile", "--norc", "-c"},
	}

	// POSIX is the system shell.
	POSIX = Shell{
		Name: "sh",
		Path: "/bin/sh",
		Args: []string{"-c"},
	}
)

// DefaultShell picks the shell for the current platform: PowerShell on
// Windows, otherwise pwsh when installed, then bash, then /bin/sh.
func DefaultShell() Shell {
	if runtime.GOOS == "windows" {
		return PowerShell
	}
	if _, err := exec.LookPath(Pwsh.Path); err == nil {
		return Pwsh
	}
	if _, err := exec.LookPath(Bash.Path); err == nil {
		return Bash
	}
	return POSIX
}

// ShellByName resolves a configured shell name. An empty name or "auto"
// selects DefaultShell.
func ShellByName(name string) (Shell, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return DefaultShell(), nil
	case "powershell", "powershell.exe":
		return PowerShell, nil
	case "pwsh":
		return Pwsh, nil
	case "bash":
		return Bash, nil
	case "sh", "posix":
		return POSIX, nil
	default:
		return Shell{}, fmt.Errorf("unknown shell: %q", name)
	}
}

// command builds the argument vector for running script.
func (s Shell) command(script string) []string {
	args := make([]string, 0, len(s.Args)+1)
	args = append(args, s.Args...)
	return append(args, script)
}
