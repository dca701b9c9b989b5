package translate

import (
	"encoding/json"
	"fmt"

	"github.com/llmgateway/proxy/internal/domain/canon"
)

const anthropicDefaultMaxTokens = 8192

// AnthropicContentBlock is one element of an Anthropic message's content
// array (text, tool_use, or tool_result).
type AnthropicContentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

// AnthropicWireMessage is one Anthropic Messages API message.
type AnthropicWireMessage struct {
	Role    string                  `json:"role"`
	Content []AnthropicContentBlock `json:"content"`
}

// AnthropicWireTool describes one callable tool in Anthropic's schema.
type AnthropicWireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// AnthropicWireRequest is the /v1/messages request body.
type AnthropicWireRequest struct {
	Model       string                 `json:"model"`
	System      string                 `json:"system,omitempty"`
	Messages    []AnthropicWireMessage `json:"messages"`
	MaxTokens   int                    `json:"max_tokens"`
	Temperature *float64               `json:"temperature,omitempty"`
	TopP        *float64               `json:"top_p,omitempty"`
	StopSequences []string             `json:"stop_sequences,omitempty"`
	Stream      bool                   `json:"stream,omitempty"`
	Tools       []AnthropicWireTool    `json:"tools,omitempty"`
}

type anthropicWireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicWireResponse struct {
	ID         string                  `json:"id"`
	Model      string                  `json:"model"`
	Role       string                  `json:"role"`
	Content    []AnthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicWireUsage      `json:"usage"`
}

// AnthropicTranslator implements Translator for the Anthropic Messages
// dialect, grounded on infrastructure/llm/anthropic/provider.go.
type AnthropicTranslator struct{}

func (AnthropicTranslator) Name() string { return "anthropic" }

func (AnthropicTranslator) ToWireRequest(req *canon.ChatRequest) (any, []Unsupported, error) {
	var unsupported []Unsupported
	wire := &AnthropicWireRequest{
		Model:         req.Model,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.StopSequences,
		Stream:        req.Stream,
	}
	if req.MaxTokens != nil {
		wire.MaxTokens = *req.MaxTokens
	} else {
		wire.MaxTokens = anthropicDefaultMaxTokens
	}
	if req.TopK != nil {
		unsupported = append(unsupported, Unsupported{Field: "top_k", Reason: "not exposed by the Anthropic Messages dialect"})
	}

	for _, m := range req.Messages {
		switch m.Role {
		case canon.RoleSystem:
			if wire.System != "" {
				wire.System += "\n\n" + m.Text
			} else {
				wire.System = m.Text
			}

		case canon.RoleAssistant:
			var blocks []AnthropicContentBlock
			if m.Text != "" {
				blocks = append(blocks, AnthropicContentBlock{Type: "text", Text: m.Text})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, AnthropicContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Arguments})
			}
			if len(blocks) > 0 {
				wire.Messages = append(wire.Messages, AnthropicWireMessage{Role: "assistant", Content: blocks})
			}

		case canon.RoleTool:
			wire.Messages = append(wire.Messages, AnthropicWireMessage{
				Role:    "user",
				Content: []AnthropicContentBlock{{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Text}},
			})

		default:
			wire.Messages = append(wire.Messages, AnthropicWireMessage{
				Role:    "user",
				Content: []AnthropicContentBlock{{Type: "text", Text: m.Text}},
			})
		}
	}

	for _, td := range req.Tools {
		wire.Tools = append(wire.Tools, AnthropicWireTool{Name: td.Name, Description: td.Description, InputSchema: td.Parameters})
	}

	return wire, unsupported, nil
}

func (AnthropicTranslator) FromWireResponse(raw []byte) (*canon.ChatResponse, error) {
	var wire anthropicWireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("translate: unmarshal anthropic response: %w", err)
	}

	msg := canon.Message{Role: canon.RoleAssistant}
	for _, b := range wire.Content {
		switch b.Type {
		case "text":
			msg.Text += b.Text
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, canon.ToolCall{ID: b.ID, Name: b.Name, Arguments: b.Input})
		}
	}

	return &canon.ChatResponse{
		ID:    wire.ID,
		Model: wire.Model,
		Choices: []canon.Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: anthropicFinishReason(wire.StopReason),
		}},
		Usage: canon.Usage{
			PromptTokens:     wire.Usage.InputTokens,
			CompletionTokens: wire.Usage.OutputTokens,
			TotalTokens:      wire.Usage.InputTokens + wire.Usage.OutputTokens,
		},
	}, nil
}

func anthropicFinishReason(stopReason string) canon.FinishReason {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return canon.FinishStop
	case "max_tokens":
		return canon.FinishLength
	case "tool_use":
		return canon.FinishToolCalls
	default:
		return canon.FinishStop
	}
}

// anthropicStreamEvent covers the subset of Anthropic SSE event shapes the
// translator understands: content_block_delta (text), and message_delta
// (stop_reason, usage), matching the teacher's ParseSSEStream handling.
type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage anthropicWireUsage `json:"usage"`
}

func (AnthropicTranslator) FromWireStreamChunk(raw []byte) ([]canon.StreamChunk, error) {
	var ev anthropicStreamEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("translate: unmarshal anthropic stream event: %w", err)
	}

	switch ev.Type {
	case "content_block_delta":
		return []canon.StreamChunk{{
			Choices: []canon.StreamChoice{{Index: ev.Index, Delta: canon.Delta{Content: ev.Delta.Text}}},
		}}, nil
	case "message_delta":
		fr := anthropicFinishReason(ev.Delta.StopReason)
		usage := canon.Usage{CompletionTokens: ev.Usage.OutputTokens}
		return []canon.StreamChunk{{
			Choices: []canon.StreamChoice{{FinishReason: &fr}},
			Usage:   &usage,
		}}, nil
	default:
		return nil, nil
	}
}
