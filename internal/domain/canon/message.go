// Package canon defines the internal, dialect-independent chat model that
// every frontend adapter parses into and every backend connector translates
// out of. Nothing outside this package should carry a provider's wire shape
// across a component boundary.
package canon

// Role identifies who authored a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies the kind of content carried by a ContentPart.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
	PartAudio PartType = "audio"
	PartFile  PartType = "file"
)

// ContentPart is one element of a multimodal message body. Exactly one of
// the type-specific fields is populated, matching Type.
type ContentPart struct {
	Type PartType `json:"type"`

	Text string `json:"text,omitempty"`

	// MimeType and Data/URL describe non-text parts. Data is a base64 or raw
	// payload; URL is used when the part references external content.
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
}

// ToolCall is an assistant-issued request to invoke a named tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`

	// RawArguments holds the original argument text when the connector
	// could not parse it as JSON (a truncated stream, a model emitting
	// single-quoted strings). Arguments is nil in that case until a
	// repair middleware recovers it.
	RawArguments string `json:"-"`
}

// ToolDefinition describes a tool the model may call.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Message is one turn in a conversation. Content is either a plain string
// (Text) or an ordered sequence of ContentParts (Parts); translators prefer
// Parts when both are present.
type Message struct {
	Role       Role          `json:"role"`
	Text       string        `json:"text,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

// HasForwardableContent reports whether the message carries anything worth
// sending upstream: non-empty text, a content part, or a tool call/result.
func (m Message) HasForwardableContent() bool {
	if m.Text != "" {
		return true
	}
	if len(m.Parts) > 0 {
		return true
	}
	if len(m.ToolCalls) > 0 {
		return true
	}
	return m.Role == RoleTool && m.ToolCallID != ""
}
