package command

import (
	"github.com/llmgateway/proxy/internal/domain/canon"
)

// Engine applies inline commands found in a request's trailing user message
// against a session, producing the stripped request text and the ordered
// Results of every command that ran. It is the single integration point
// between the parser, the registry, and session mutation.
type Engine struct {
	registry *Registry
}

// NewEngine builds a command engine over registry.
func NewEngine(registry *Registry) *Engine {
	return &Engine{registry: registry}
}

// Outcome is the result of processing one request's trailing user message.
// CommandOnly is true iff tokens were found and stripping them leaves the
// message with no forwardable content at all (spec.md §4.1) — the caller
// must then short-circuit the request instead of dispatching upstream.
type Outcome struct {
	StrippedText string
	Results      []Result
	CommandOnly  bool
}

// Process scans msg for inline commands using the session's configured
// prefix, executes each left to right against sess (under the
// caller-supplied read/write closures), and returns the stripped message
// text plus the Result of every invocation. Unknown command names produce
// an error Result but are still stripped — they must never be forwarded
// upstream verbatim.
func (e *Engine) Process(msg canon.Message, readState func() canon.SessionState, writeState func(canon.SessionState)) Outcome {
	text := msg.Text
	prefix := readState().CommandPrefix
	if prefix == "" {
		return Outcome{StrippedText: text}
	}

	tokens := Parse(text, prefix)
	if len(tokens) == 0 {
		return Outcome{StrippedText: text}
	}

	caps := Capabilities{ReadState: readState, WriteState: writeState}
	results := make([]Result, 0, len(tokens))
	for _, t := range tokens {
		cmd := e.registry.Lookup(t.Name)
		if cmd == nil {
			results = append(results, fail(t.Name, unknownCommandError(t.Name)))
			continue
		}
		results = append(results, cmd.Execute(t.Args, caps))
	}

	stripped := Strip(text, tokens)
	strippedMsg := msg
	strippedMsg.Text = stripped
	return Outcome{StrippedText: stripped, Results: results, CommandOnly: !strippedMsg.HasForwardableContent()}
}

type unknownCommand string

func (u unknownCommand) Error() string { return "unknown command: " + string(u) }

func unknownCommandError(name string) error { return unknownCommand(name) }
