package http

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/llmgateway/proxy/internal/application"
	"github.com/llmgateway/proxy/internal/domain/canon"
	"github.com/llmgateway/proxy/internal/domain/llmerrors"
)

// anthropicRequest is the client-facing /v1/messages body.
type anthropicRequest struct {
	Model         string                        `json:"model"`
	System        string                        `json:"system,omitempty"`
	Messages      []anthropicMessageIn          `json:"messages"`
	MaxTokens     int                           `json:"max_tokens"`
	Temperature   *float64                      `json:"temperature,omitempty"`
	TopP          *float64                      `json:"top_p,omitempty"`
	StopSequences []string                      `json:"stop_sequences,omitempty"`
	Stream        bool                          `json:"stream,omitempty"`
	Tools         []anthropicToolIn             `json:"tools,omitempty"`
}

type anthropicMessageIn struct {
	Role    string                      `json:"role"`
	Content []anthropicContentBlockIn   `json:"content"`
}

type anthropicContentBlockIn struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type anthropicToolIn struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

func (r anthropicRequest) toCanon() *canon.ChatRequest {
	var messages []canon.Message
	if r.System != "" {
		messages = append(messages, canon.Message{Role: canon.RoleSystem, Text: r.System})
	}
	for _, m := range r.Messages {
		msg := canon.Message{Role: canon.Role(m.Role)}
		for _, b := range m.Content {
			switch b.Type {
			case "text":
				msg.Text += b.Text
			case "tool_use":
				msg.ToolCalls = append(msg.ToolCalls, canon.ToolCall{ID: b.ID, Name: b.Name, Arguments: b.Input})
			case "tool_result":
				msg.Role = canon.RoleTool
				msg.ToolCallID = b.ToolUseID
				msg.Text = b.Content
			}
		}
		messages = append(messages, msg)
	}

	var tools []canon.ToolDefinition
	for _, t := range r.Tools {
		tools = append(tools, canon.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
	}

	maxTokens := r.MaxTokens
	return &canon.ChatRequest{
		Messages:      messages,
		Model:         r.Model,
		Stream:        r.Stream,
		Temperature:   r.Temperature,
		TopP:          r.TopP,
		MaxTokens:     &maxTokens,
		StopSequences: r.StopSequences,
		Tools:         tools,
	}
}

type anthropicResponseOut struct {
	ID         string                    `json:"id"`
	Type       string                    `json:"type"`
	Role       string                    `json:"role"`
	Model      string                    `json:"model"`
	Content    []anthropicContentBlockIn `json:"content"`
	StopReason string                    `json:"stop_reason"`
	Usage      anthropicUsageOut         `json:"usage"`
}

type anthropicUsageOut struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func canonToAnthropicResponse(resp *canon.ChatResponse) anthropicResponseOut {
	out := anthropicResponseOut{
		ID:    resp.ID,
		Type:  "message",
		Role:  "assistant",
		Model: resp.Model,
		Usage: anthropicUsageOut{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens},
	}
	if len(resp.Choices) == 0 {
		return out
	}
	ch := resp.Choices[0]
	out.StopReason = anthropicStopReason(ch.FinishReason)
	if ch.Message.Text != "" {
		out.Content = append(out.Content, anthropicContentBlockIn{Type: "text", Text: ch.Message.Text})
	}
	for _, tc := range ch.Message.ToolCalls {
		out.Content = append(out.Content, anthropicContentBlockIn{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Arguments})
	}
	return out
}

func anthropicStopReason(fr canon.FinishReason) string {
	switch fr {
	case canon.FinishToolCalls:
		return "tool_use"
	case canon.FinishLength:
		return "max_tokens"
	default:
		return "end_turn"
	}
}

// anthropicMessages handles POST /v1/messages.
func anthropicMessages(gw *application.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req anthropicRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, llmerrors.New(llmerrors.Validation, err.Error(), "", ""))
			return
		}
		canonReq := req.toCanon()
		sessID := c.GetString(sessionHeader)

		if req.Stream {
			streamAnthropic(c, gw, sessID, canonReq)
			return
		}

		resp, _, err := gw.ProcessChat(c.Request.Context(), sessID, canonReq)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, canonToAnthropicResponse(resp))
	}
}

// streamAnthropic renders the canonical stream as Anthropic's named SSE
// event sequence (message_start, content_block_start/delta/stop,
// message_delta, message_stop) rather than the bare "data:" chunks the
// OpenAI dialect uses — Anthropic clients key off the "event:" line.
func streamAnthropic(c *gin.Context, gw *application.Gateway, sessID string, req *canon.ChatRequest) {
	stream, _, err := gw.ProcessChatStream(c.Request.Context(), sessID, req)
	if err != nil {
		writeError(c, err)
		return
	}

	w := newSSEWriter(c)
	started := false
	var stopReason string

	for chunk := range stream {
		if !started {
			started = true
			start, _ := json.Marshal(gin.H{
				"type":    "message_start",
				"message": gin.H{"id": chunk.ID, "type": "message", "role": "assistant", "model": chunk.Model, "content": []any{}},
			})
			w.writeNamedEvent("message_start", start)
			blockStart, _ := json.Marshal(gin.H{"type": "content_block_start", "index": 0, "content_block": gin.H{"type": "text", "text": ""}})
			w.writeNamedEvent("content_block_start", blockStart)
		}
		for _, ch := range chunk.Choices {
			if ch.Delta.Content != "" {
				delta, _ := json.Marshal(gin.H{"type": "content_block_delta", "index": ch.Index, "delta": gin.H{"type": "text_delta", "text": ch.Delta.Content}})
				w.writeNamedEvent("content_block_delta", delta)
			}
			if ch.FinishReason != nil {
				stopReason = anthropicStopReason(*ch.FinishReason)
			}
		}
	}

	if started {
		blockStop, _ := json.Marshal(gin.H{"type": "content_block_stop", "index": 0})
		w.writeNamedEvent("content_block_stop", blockStop)
	}
	if stopReason == "" {
		stopReason = "end_turn"
	}
	msgDelta, _ := json.Marshal(gin.H{"type": "message_delta", "delta": gin.H{"stop_reason": stopReason}})
	w.writeNamedEvent("message_delta", msgDelta)
	w.writeNamedEvent("message_stop", []byte(`{"type":"message_stop"}`))
}
