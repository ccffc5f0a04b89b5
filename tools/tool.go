// Package tools provides the closed set of tools the model may invoke.
//
// Information Hiding:
// - Tool execution details hidden behind interface
// - Parameter schemas and argument binding hidden in implementations
// - Registry lookup and validation hidden from the turn loop
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/richinex/shellagent/sandbox"
)

// ToolParameter defines a parameter schema for a tool.
type ToolParameter struct {
	Name        string `json:"name"`
	ParamType   string `json:"param_type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Declaration describes what a tool does and how to call it.
// Declarations are immutable once registered.
type Declaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
}

// Schema returns the parameters as a JSON Schema object.
func (d Declaration) Schema() map[string]interface{} {
	properties := make(map[string]interface{}, len(d.Parameters))
	required := []string{}
	for _, p := range d.Parameters {
		properties[p.Name] = map[string]interface{}{
			"type":        p.ParamType,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// Tool is the interface that all tools must implement.
//
// Information Hiding: Tool implementations hide how arguments are bound and
// how the work is carried out. Every execution resolves to a sandbox.Result.
type Tool interface {
	// Declaration returns the tool's name, description and parameters.
	Declaration() Declaration

	// Validate performs tool-specific checks after the registry has
	// verified required parameters and their types.
	Validate(args map[string]any) error

	// Execute runs the tool. Failures are reported in the Result.
	Execute(ctx context.Context, args map[string]any) sandbox.Result
}

// Executor runs a single command string.
// *sandbox.Sandbox implements it.
type Executor interface {
	Execute(ctx context.Context, command string) sandbox.Result
}

var _ Executor = (*sandbox.Sandbox)(nil)

// bindArgs decodes loosely typed model arguments into a typed struct.
func bindArgs(args map[string]any, dst any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
