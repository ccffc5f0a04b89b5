package cli

import "strings"

// commandKind identifies what a line typed at the chat prompt asks for.
type commandKind int

const (
	cmdEmpty commandKind = iota
	cmdPrompt
	cmdExit
	cmdReset
	cmdAPIKey
	cmdHelp
	cmdUnknown
)

// command is one parsed line of chat input.
type command struct {
	kind commandKind
	arg  string
}

// parseInput classifies a line typed at the chat prompt. Anything that is
// not a recognized command is sent to the model as-is.
func parseInput(line string) command {
	input := strings.TrimSpace(line)
	if input == "" {
		return command{kind: cmdEmpty}
	}

	switch strings.ToLower(input) {
	case "exit", "quit":
		return command{kind: cmdExit}
	}

	if !strings.HasPrefix(input, "/") {
		return command{kind: cmdPrompt, arg: input}
	}

	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "/exit", "/quit":
		return command{kind: cmdExit}
	case "/reset", "/clear":
		return command{kind: cmdReset}
	case "/api":
		return command{kind: cmdAPIKey, arg: arg}
	case "/help":
		return command{kind: cmdHelp}
	default:
		return command{kind: cmdUnknown, arg: name}
	}
}

const chatHelp = `Commands:
  /api <key>   Save the API key for the current provider and start a new conversation
  /api         Remove the saved API key
  /reset       Clear the conversation history
  /help        Show this help
  exit, quit   Leave the chat`

// maskKey hides all but the last four characters of a key.
func maskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
