package canon

import "fmt"

// ReasoningEffort is a coarse hint for how much hidden reasoning a backend
// should spend, translated per-dialect (e.g. into Gemini's thinkingBudget).
type ReasoningEffort string

const (
	ReasoningLow    ReasoningEffort = "low"
	ReasoningMedium ReasoningEffort = "medium"
	ReasoningHigh   ReasoningEffort = "high"
)

// ToolChoice constrains which, if any, tool the model must call.
type ToolChoice struct {
	Mode string `json:"mode,omitempty"` // "auto" | "none" | "required" | "named"
	Name string `json:"name,omitempty"` // set when Mode == "named"
}

// ChatRequest is the canonical, dialect-independent chat completion request.
// It is built by a frontend adapter, mutated by the session/command layer,
// and frozen (see Freeze) before it reaches the dispatcher.
type ChatRequest struct {
	Messages []Message `json:"messages"`

	// Model may be a bare route name, a "backend:model" pair, or a raw
	// model id understood by the default backend.
	Model string `json:"model"`

	Stream bool `json:"stream"`

	Temperature    *float64 `json:"temperature,omitempty"`
	TopP           *float64 `json:"top_p,omitempty"`
	TopK           *int     `json:"top_k,omitempty"`
	MaxTokens      *int     `json:"max_tokens,omitempty"`
	StopSequences  []string `json:"stop_sequences,omitempty"`

	ReasoningEffort *ReasoningEffort `json:"reasoning_effort,omitempty"`
	ThinkingBudget  *int             `json:"thinking_budget,omitempty"`

	Tools      []ToolDefinition `json:"tools,omitempty"`
	ToolChoice *ToolChoice      `json:"tool_choice,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`

	frozen bool
}

// ErrEmptyMessages is returned by Freeze when Messages is empty after
// command stripping, per the "messages is non-empty" invariant.
var ErrEmptyMessages = fmt.Errorf("canon: messages must be non-empty after command stripping")

// Freeze validates the non-empty-messages invariant and marks the request
// immutable. Callers must not mutate Messages/Tools slices after Freeze
// returns nil; subsequent pipeline stages treat the request as read-only.
func (r *ChatRequest) Freeze() error {
	if len(r.Messages) == 0 {
		return ErrEmptyMessages
	}
	r.frozen = true
	return nil
}

// Frozen reports whether Freeze has been called successfully.
func (r *ChatRequest) Frozen() bool { return r.frozen }

// LastUserMessageIndex returns the index of the last message with role
// "user", or -1 if there is none. Only this message is eligible for inline
// command parsing (spec invariant: "exactly one trailing user message").
func (r *ChatRequest) LastUserMessageIndex() int {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return i
		}
	}
	return -1
}

// Usage reports token accounting for a completed exchange.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FinishReason is the terminal state of a choice.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls      FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
	FinishError          FinishReason = "error"
)

// Choice is one candidate completion.
type Choice struct {
	Index        int          `json:"index"`
	Message      Message      `json:"message"`
	FinishReason FinishReason `json:"finish_reason"`
}

// ChatResponse is the canonical non-streaming chat completion response.
type ChatResponse struct {
	ID          string   `json:"id"`
	CreatedUnix int64    `json:"created_unix"`
	Model       string   `json:"model"`
	Choices     []Choice `json:"choices"`
	Usage       Usage    `json:"usage"`
}

// Delta is the incremental content of one streaming chunk's choice.
type Delta struct {
	Role      Role       `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// StreamChoice is one choice slot within a StreamChunk.
type StreamChoice struct {
	Index        int           `json:"index"`
	Delta        Delta         `json:"delta"`
	FinishReason *FinishReason `json:"finish_reason,omitempty"`
}

// StreamChunk is one element of a totally-ordered streaming response.
// The final chunk in a stream carries a non-nil FinishReason on its choice
// and no further content deltas.
type StreamChunk struct {
	ID          string         `json:"id"`
	CreatedUnix int64          `json:"created_unix"`
	Model       string         `json:"model"`
	Choices     []StreamChoice `json:"choices"`
	Usage       *Usage         `json:"usage,omitempty"`
}
