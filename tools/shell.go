// Shell Script Tool.
//
// Information Hiding:
// - Argument binding hidden
// - Script validation hidden
// - Execution delegated to the sandbox

package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/richinex/shellagent/sandbox"
)

// ShellScriptToolName is the name the model uses to request a command.
const ShellScriptToolName = "run_shell_script"

// ShellScriptTool runs a model-authored script through an Executor.
type ShellScriptTool struct {
	executor  Executor
	shellName string
}

// NewShellScriptTool creates the tool. shellName only shapes the description
// the model sees, e.g. "powershell" or "bash".
func NewShellScriptTool(executor Executor, shellName string) *ShellScriptTool {
	if shellName == "" {
		shellName = "shell"
	}
	return &ShellScriptTool{
		executor:  executor,
		shellName: shellName,
	}
}

// Declaration returns the tool declaration.
func (t *ShellScriptTool) Declaration() Declaration {
	return Declaration{
		Name: ShellScriptToolName,
		Description: fmt.Sprintf(
			"Execute a %s script on the user's computer and return its output. "+
				"Use it to inspect the system, manage files and run programs. "+
				"Stdout and stderr are returned; long-running scripts are stopped after a fixed timeout.",
			t.shellName),
		Parameters: []ToolParameter{
			{
				Name:        "script",
				ParamType:   "string",
				Description: fmt.Sprintf("The complete %s script to execute", t.shellName),
				Required:    true,
			},
		},
	}
}

type shellScriptArgs struct {
	Script string `json:"script"`
}

// Validate validates the tool arguments.
func (t *ShellScriptTool) Validate(args map[string]any) error {
	var a shellScriptArgs
	if err := bindArgs(args, &a); err != nil {
		return err
	}
	if strings.TrimSpace(a.Script) == "" {
		return fmt.Errorf("script cannot be empty")
	}
	return nil
}

// Execute runs the script.
func (t *ShellScriptTool) Execute(ctx context.Context, args map[string]any) sandbox.Result {
	var a shellScriptArgs
	if err := bindArgs(args, &a); err != nil {
		return sandbox.Result{Succeeded: false, Output: err.Error()}
	}
	return t.executor.Execute(ctx, a.Script)
}

// Script extracts the script argument of a call, for display.
func Script(args map[string]any) string {
	s, _ := args["script"].(string)
	return s
}

var _ Tool = (*ShellScriptTool)(nil)
