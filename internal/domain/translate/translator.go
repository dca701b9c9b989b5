// Package translate converts between the canonical chat model and each
// backend dialect's wire shape. Each dialect gets its own Translator,
// grounded on the teacher's per-provider buildAPIRequest/parseAPIResponse
// pair (infrastructure/llm/{openai,anthropic,gemini}/provider.go), but
// operating on canon types instead of a provider-specific request struct
// so the dispatcher and connectors share one request/response model.
package translate

import "github.com/llmgateway/proxy/internal/domain/canon"

// ReasoningThinkingBudget maps a coarse ReasoningEffort to Gemini's
// numeric thinkingBudget, per the dialect's own knob. -1 requests Gemini's
// dynamic/unbounded thinking mode.
var ReasoningThinkingBudget = map[canon.ReasoningEffort]int{
	canon.ReasoningLow:    512,
	canon.ReasoningMedium: 2048,
	canon.ReasoningHigh:   -1,
}

// Unsupported records a parameter the target dialect cannot express. It is
// never fatal on its own — ToWireRequest returns it alongside the best
// effort wire payload so the caller can decide whether to surface a
// translation warning.
type Unsupported struct {
	Field  string
	Reason string
}

// Translator converts canonical requests/responses to and from one
// backend's wire representation. "wire" is a dialect-specific struct type;
// callers that need a JSON payload marshal ToWireRequest's result directly.
type Translator interface {
	// Name identifies the dialect, e.g. "openai", "anthropic", "gemini".
	Name() string

	// ToWireRequest converts req into the dialect's request struct, along
	// with any parameters that dialect cannot represent.
	ToWireRequest(req *canon.ChatRequest) (wire any, unsupported []Unsupported, err error)

	// FromWireResponse unmarshals a raw JSON response body in the dialect's
	// wire format and converts it back into the canonical response.
	FromWireResponse(raw []byte) (*canon.ChatResponse, error)

	// FromWireStreamChunk converts one raw SSE data payload into zero or
	// more canonical stream chunks (a dialect may pack more than one
	// canonical delta into a single wire event, or none for control events).
	FromWireStreamChunk(raw []byte) ([]canon.StreamChunk, error)
}

// Registry resolves a dialect name to its Translator, mirroring the
// teacher's connector factory registry. Connectors build their translator
// directly and do not look it up here.
type Registry struct {
	translators map[string]Translator
}

// NewRegistry builds an empty translator registry.
func NewRegistry() *Registry {
	return &Registry{translators: make(map[string]Translator)}
}

// Register adds t under its own Name().
func (r *Registry) Register(t Translator) {
	r.translators[t.Name()] = t
}

// Lookup returns the translator for dialect, or nil if unregistered.
func (r *Registry) Lookup(dialect string) Translator {
	return r.translators[dialect]
}
