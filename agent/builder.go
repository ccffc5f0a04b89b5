// Session builder for fluent configuration.
//
// Information Hiding:
// - Builder state management hidden
// - Default value application hidden

package agent

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/richinex/shellagent/conversation"
	"github.com/richinex/shellagent/internal/logger"
	"github.com/richinex/shellagent/llm"
	"github.com/richinex/shellagent/tools"
)

// Builder provides fluent configuration for creating sessions.
// Usage: agent.NewBuilder(registry).Client(client).Build()
type Builder struct {
	registry    *tools.Registry
	client      *llm.Client
	config      Config
	recorder    Recorder
	logger      *slog.Logger
	eventBuffer int
}

// NewBuilder creates a session builder over a fixed tool registry.
func NewBuilder(registry *tools.Registry) *Builder {
	return &Builder{
		registry: registry,
		config:   Config{MaxIterations: DefaultMaxIterations},
	}
}

// Client sets the model client. A session may start without one.
func (b *Builder) Client(client *llm.Client) *Builder {
	b.client = client
	return b
}

// Config replaces the whole configuration.
func (b *Builder) Config(config Config) *Builder {
	b.config = config
	return b
}

// SystemPrompt sets the system instruction.
func (b *Builder) SystemPrompt(prompt string) *Builder {
	b.config.SystemPrompt = prompt
	return b
}

// MaxIterations bounds model invocations per turn.
func (b *Builder) MaxIterations(n int) *Builder {
	b.config.MaxIterations = n
	return b
}

// Recorder receives every appended turn.
func (b *Builder) Recorder(recorder Recorder) *Builder {
	b.recorder = recorder
	return b
}

// Logger overrides the component logger.
func (b *Builder) Logger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// EventBuffer sets the capacity of the event channel.
func (b *Builder) EventBuffer(n int) *Builder {
	b.eventBuffer = n
	return b
}

// Build creates the session.
func (b *Builder) Build() (*Session, error) {
	if b.registry == nil {
		return nil, fmt.Errorf("session requires a tool registry")
	}

	l := b.logger
	if l == nil {
		l = logger.Named("agent")
	}

	return &Session{
		id:       uuid.NewString(),
		config:   b.config,
		client:   b.client,
		registry: b.registry,
		toolDefs: toolDefinitions(b.registry),
		history:  conversation.NewHistory(),
		recorder: b.recorder,
		events:   newEmitter(b.eventBuffer),
		logger:   l,
	}, nil
}

// toolDefinitions converts registry declarations to the model's format.
func toolDefinitions(registry *tools.Registry) []llm.ToolDefinition {
	decls := registry.Declarations()
	defs := make([]llm.ToolDefinition, len(decls))
	for i, decl := range decls {
		defs[i] = llm.ToolDefinition{
			Name:        decl.Name,
			Description: decl.Description,
			Parameters:  decl.Schema(),
		}
	}
	return defs
}
