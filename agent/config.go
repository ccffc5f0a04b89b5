// Session configuration types.
//
// Information Hiding:
// - Default values hidden
// - System instruction wording hidden

package agent

import "fmt"

// DefaultMaxIterations bounds model invocations per turn.
const DefaultMaxIterations = 15

// Config holds session configuration.
type Config struct {
	// SystemPrompt is sent as the system instruction with every model call.
	SystemPrompt string

	// MaxIterations bounds model invocations per turn. Zero means the default.
	MaxIterations int
}

// DefaultConfig returns the configuration for a shell of the given name.
func DefaultConfig(shellName string) Config {
	return Config{
		SystemPrompt:  DefaultSystemPrompt(shellName),
		MaxIterations: DefaultMaxIterations,
	}
}

// DefaultSystemPrompt describes the assistant's job and the termination protocol.
func DefaultSystemPrompt(shellName string) string {
	return fmt.Sprintf(`You are a powerful, autonomous assistant for this computer. Your purpose is to directly help the user by executing %s commands to accomplish their goals.
When a request requires interaction with the operating system, call the run_shell_script function with a complete, self-contained script. Be efficient and act directly.
After executing a script, look at its output and decide the next step. Keep going until the task is finished.
When you are completely done, summarize the result for the user and end your reply with the exact text %s`, shellName, TerminationMarker)
}

func (c Config) maxIterations() int {
	if c.MaxIterations <= 0 {
		return DefaultMaxIterations
	}
	return c.MaxIterations
}
