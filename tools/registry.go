// Package tools provides tool registration and dispatch.
//
// Information Hiding:
// - Tool storage and lookup implementation hidden
// - Argument validation hidden behind Check
// - The set of tools is fixed once the registry is built

package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/richinex/shellagent/sandbox"
)

var (
	// ErrUnknownToolCall reports a call to a tool that is not registered.
	ErrUnknownToolCall = errors.New("unknown tool call")

	// ErrInvalidToolCall reports a call with missing or malformed arguments.
	ErrInvalidToolCall = errors.New("invalid tool call")
)

// CallError describes why a tool call was rejected.
// It unwraps to ErrUnknownToolCall or ErrInvalidToolCall.
type CallError struct {
	Tool   string
	Kind   error
	Reason string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%v: %s: %s", e.Kind, e.Tool, e.Reason)
}

func (e *CallError) Unwrap() error {
	return e.Kind
}

// Registry holds an immutable set of tools keyed by name.
type Registry struct {
	tools map[string]Tool
	names []string
}

// NewRegistry creates a registry containing the given tools.
// Returns error if two tools share a name.
func NewRegistry(toolList ...Tool) (*Registry, error) {
	r := &Registry{
		tools: make(map[string]Tool, len(toolList)),
	}
	for _, tool := range toolList {
		name := tool.Declaration().Name
		if name == "" {
			return nil, fmt.Errorf("tool has empty name")
		}
		if _, exists := r.tools[name]; exists {
			return nil, fmt.Errorf("tool '%s' already registered", name)
		}
		r.tools[name] = tool
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// WithDefaults creates a registry with the shell script tool bound to the
// given executor.
func WithDefaults(executor Executor, shellName string) (*Registry, error) {
	registry, err := NewRegistry(NewShellScriptTool(executor, shellName))
	if err != nil {
		return nil, fmt.Errorf("failed to register default tools: %w", err)
	}
	return registry, nil
}

// Lookup returns a tool by name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	tool, exists := r.tools[name]
	return tool, exists
}

// Declarations returns the declarations of all tools, sorted by name.
func (r *Registry) Declarations() []Declaration {
	decls := make([]Declaration, 0, len(r.names))
	for _, name := range r.names {
		decls = append(decls, r.tools[name].Declaration())
	}
	return decls
}

// Description returns a formatted description of all tools.
func (r *Registry) Description() string {
	var descriptions []string
	for _, decl := range r.Declarations() {
		var params []string
		for _, p := range decl.Parameters {
			required := "optional"
			if p.Required {
				required = "required"
			}
			params = append(params, fmt.Sprintf("  - %s (%s): %s [%s]",
				p.Name, p.ParamType, p.Description, required))
		}

		descriptions = append(descriptions, fmt.Sprintf(
			"Tool: %s\nDescription: %s\nParameters:\n%s",
			decl.Name, decl.Description, strings.Join(params, "\n")))
	}

	return strings.Join(descriptions, "\n\n")
}

// Check verifies that a call names a registered tool and carries valid
// arguments. It never executes anything.
func (r *Registry) Check(name string, args map[string]any) error {
	tool, exists := r.Lookup(name)
	if !exists {
		return &CallError{Tool: name, Kind: ErrUnknownToolCall, Reason: "model tried to call an unknown function"}
	}
	if err := validateArgs(tool.Declaration(), args); err != nil {
		return &CallError{Tool: name, Kind: ErrInvalidToolCall, Reason: err.Error()}
	}
	if err := tool.Validate(args); err != nil {
		return &CallError{Tool: name, Kind: ErrInvalidToolCall, Reason: err.Error()}
	}
	return nil
}

// Dispatch checks a call and, when valid, executes it.
// A rejected call returns a *CallError and runs nothing.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (sandbox.Result, error) {
	if err := r.Check(name, args); err != nil {
		return sandbox.Result{}, err
	}
	tool, _ := r.Lookup(name)
	return tool.Execute(ctx, args), nil
}
