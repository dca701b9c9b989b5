// Package command implements the in-band command layer: inline directives
// in the trailing user message that mutate session state instead of being
// forwarded upstream. Commands are values implementing Command, registered
// explicitly into a Registry at startup — no reflection, no runtime
// auto-discovery, mirroring the teacher's provider-factory registration
// style (infrastructure/llm.RegisterFactory).
package command

import "github.com/llmgateway/proxy/internal/domain/canon"

// Args is the parsed key=value argument map of one command invocation.
// Values are always strings; individual commands parse further (int,
// float, bool) as needed and report a Result error on failure.
type Args map[string]string

// Capabilities is the typed surface a stateful Command may use. It never
// exposes the HTTP layer or other session's data.
type Capabilities struct {
	// ReadState returns the current state of the session being processed.
	ReadState func() canon.SessionState
	// WriteState replaces the session's state. Called at most once per
	// command invocation; later commands in the same message observe the
	// write made by earlier ones.
	WriteState func(canon.SessionState)
}

// Result is the outcome of executing one command token.
type Result struct {
	Name    string
	Message string // human-readable confirmation or error text
	Err     error  // non-nil on failure; mutation must not have been applied
}

// Command is one named, registered directive. help and hello ignore
// Capabilities entirely; pwd only reads state.
type Command interface {
	// Name returns the command's invocation name, matched case-sensitively
	// against the parsed token.
	Name() string
	// Execute runs the command with the given arguments and capabilities,
	// returning a Result describing the outcome.
	Execute(args Args, caps Capabilities) Result
}

// Registry is the explicit set of commands available to the engine.
type Registry struct {
	commands map[string]Command
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register adds cmd under its own Name(). Registering the same name twice
// panics: it indicates a wiring bug at startup, not a runtime condition.
func (r *Registry) Register(cmd Command) {
	name := cmd.Name()
	if _, exists := r.commands[name]; exists {
		panic("command: duplicate registration for " + name)
	}
	r.commands[name] = cmd
}

// Lookup returns the command registered under name, or nil if unknown.
func (r *Registry) Lookup(name string) Command {
	return r.commands[name]
}
