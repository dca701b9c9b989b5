package translate

import (
	"encoding/json"
	"fmt"

	"github.com/llmgateway/proxy/internal/domain/canon"
)

// OpenAIWireMessage is one OpenAI chat.completions message.
type OpenAIWireMessage struct {
	Role       string              `json:"role"`
	Content    string              `json:"content,omitempty"`
	Name       string              `json:"name,omitempty"`
	ToolCalls  []OpenAIWireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
}

// OpenAIWireToolCall is one assistant-issued tool call on the wire.
type OpenAIWireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"` // JSON-encoded
	} `json:"function"`
}

// OpenAIWireRequest is the chat.completions request body.
type OpenAIWireRequest struct {
	Model       string              `json:"model"`
	Messages    []OpenAIWireMessage `json:"messages"`
	Stream      bool                `json:"stream,omitempty"`
	Temperature *float64            `json:"temperature,omitempty"`
	TopP        *float64            `json:"top_p,omitempty"`
	MaxTokens   *int                `json:"max_tokens,omitempty"`
	Stop        []string            `json:"stop,omitempty"`
	Tools       []OpenAIWireTool    `json:"tools,omitempty"`
	ToolChoice  any                 `json:"tool_choice,omitempty"`
}

// OpenAIWireTool describes one callable tool.
type OpenAIWireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

type openAIWireChoice struct {
	Index        int               `json:"index"`
	Message      OpenAIWireMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type openAIWireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIWireResponse struct {
	ID      string             `json:"id"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []openAIWireChoice `json:"choices"`
	Usage   openAIWireUsage    `json:"usage"`
}

type openAIWireDelta struct {
	Role      string               `json:"role,omitempty"`
	Content   string               `json:"content,omitempty"`
	ToolCalls []OpenAIWireToolCall `json:"tool_calls,omitempty"`
}

type openAIWireStreamChoice struct {
	Index        int             `json:"index"`
	Delta        openAIWireDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

type openAIWireStreamChunk struct {
	ID      string                   `json:"id"`
	Created int64                    `json:"created"`
	Model   string                   `json:"model"`
	Choices []openAIWireStreamChoice `json:"choices"`
}

// OpenAITranslator implements Translator for the OpenAI chat.completions
// dialect, grounded on infrastructure/llm/openai/provider.go's
// buildAPIRequest/parseAPIResponse.
type OpenAITranslator struct{}

func (OpenAITranslator) Name() string { return "openai" }

func (OpenAITranslator) ToWireRequest(req *canon.ChatRequest) (any, []Unsupported, error) {
	var unsupported []Unsupported
	wire := &OpenAIWireRequest{
		Model:       req.Model,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stop:        req.StopSequences,
	}

	if req.TopK != nil {
		unsupported = append(unsupported, Unsupported{Field: "top_k", Reason: "not supported by the OpenAI chat.completions dialect"})
	}
	if req.ReasoningEffort != nil {
		unsupported = append(unsupported, Unsupported{Field: "reasoning_effort", Reason: "no native knob in the OpenAI chat.completions dialect; apply via prompt prefix/suffix instead"})
	}

	for _, m := range req.Messages {
		wm := OpenAIWireMessage{Role: string(m.Role), Content: m.Text, Name: m.Name, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				return nil, nil, fmt.Errorf("translate: marshal tool call arguments: %w", err)
			}
			wtc := OpenAIWireToolCall{ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = string(args)
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		wire.Messages = append(wire.Messages, wm)
	}

	for _, td := range req.Tools {
		wt := OpenAIWireTool{Type: "function"}
		wt.Function.Name = td.Name
		wt.Function.Description = td.Description
		wt.Function.Parameters = td.Parameters
		wire.Tools = append(wire.Tools, wt)
	}
	if req.ToolChoice != nil {
		switch req.ToolChoice.Mode {
		case "named":
			wire.ToolChoice = map[string]any{"type": "function", "function": map[string]string{"name": req.ToolChoice.Name}}
		case "":
		default:
			wire.ToolChoice = req.ToolChoice.Mode
		}
	}

	return wire, unsupported, nil
}

func (OpenAITranslator) FromWireResponse(raw []byte) (*canon.ChatResponse, error) {
	var wire openAIWireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("translate: unmarshal openai response: %w", err)
	}

	resp := &canon.ChatResponse{
		ID:          wire.ID,
		CreatedUnix: wire.Created,
		Model:       wire.Model,
		Usage: canon.Usage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		},
	}
	for _, c := range wire.Choices {
		msg := canon.Message{Role: canon.Role(c.Message.Role), Text: c.Message.Content}
		for _, tc := range c.Message.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			msg.ToolCalls = append(msg.ToolCalls, canon.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
		}
		resp.Choices = append(resp.Choices, canon.Choice{
			Index:        c.Index,
			Message:      msg,
			FinishReason: canon.FinishReason(c.FinishReason),
		})
	}
	return resp, nil
}

func (OpenAITranslator) FromWireStreamChunk(raw []byte) ([]canon.StreamChunk, error) {
	var wire openAIWireStreamChunk
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("translate: unmarshal openai stream chunk: %w", err)
	}

	chunk := canon.StreamChunk{ID: wire.ID, CreatedUnix: wire.Created, Model: wire.Model}
	for _, c := range wire.Choices {
		sc := canon.StreamChoice{
			Index: c.Index,
			Delta: canon.Delta{Role: canon.Role(c.Delta.Role), Content: c.Delta.Content},
		}
		for _, tc := range c.Delta.ToolCalls {
			var args map[string]any
			call := canon.ToolCall{ID: tc.ID, Name: tc.Function.Name}
			if json.Unmarshal([]byte(tc.Function.Arguments), &args) == nil {
				call.Arguments = args
			} else {
				// Argument fragments split across chunks rarely parse on
				// their own; keep the raw text so the response pipeline's
				// JSON repair stage can accumulate and repair it once the
				// braces balance.
				call.RawArguments = tc.Function.Arguments
			}
			sc.Delta.ToolCalls = append(sc.Delta.ToolCalls, call)
		}
		if c.FinishReason != nil {
			fr := canon.FinishReason(*c.FinishReason)
			sc.FinishReason = &fr
		}
		chunk.Choices = append(chunk.Choices, sc)
	}
	return []canon.StreamChunk{chunk}, nil
}
