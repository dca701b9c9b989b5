package http

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/llmgateway/proxy/internal/application"
	"github.com/llmgateway/proxy/internal/domain/canon"
	"github.com/llmgateway/proxy/internal/domain/llmerrors"
)

// openAIRequest is the client-facing chat.completions request body. It is
// deliberately narrower than the full OpenAI schema (text content and
// tool calls only, no multimodal parts) since no backend this gateway
// fronts accepts more than that without translation loss anyway.
type openAIRequest struct {
	Model       string           `json:"model"`
	Messages    []openAIMessage  `json:"messages"`
	Stream      bool             `json:"stream"`
	Temperature *float64         `json:"temperature"`
	TopP        *float64         `json:"top_p"`
	MaxTokens   *int             `json:"max_tokens"`
	Stop        []string         `json:"stop"`
	Tools       []openAITool     `json:"tools"`
	ToolChoice  *canon.ToolChoice `json:"tool_choice"`
}

type openAIMessage struct {
	Role       string              `json:"role"`
	Content    json.RawMessage     `json:"content"`
	Name       string              `json:"name,omitempty"`
	ToolCalls  []openAIToolCallOut `json:"tool_calls,omitempty"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
}

type openAIToolCallOut struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAITool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

type openAIResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []openAIChoiceOut  `json:"choices"`
	Usage   canon.Usage        `json:"usage"`
}

type openAIChoiceOut struct {
	Index        int            `json:"index"`
	Message      openAIMessageOut `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

type openAIMessageOut struct {
	Role      string              `json:"role"`
	Content   string              `json:"content"`
	ToolCalls []openAIToolCallOut `json:"tool_calls,omitempty"`
}

type openAIChunk struct {
	ID      string              `json:"id"`
	Object  string              `json:"object"`
	Created int64               `json:"created"`
	Model   string              `json:"model"`
	Choices []openAIChunkChoice `json:"choices"`
}

type openAIChunkChoice struct {
	Index        int            `json:"index"`
	Delta        openAIDeltaOut `json:"delta"`
	FinishReason *string        `json:"finish_reason"`
}

type openAIDeltaOut struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// messageText extracts plain text from a content field that may be either
// a bare JSON string or an OpenAI-style array of {type, text} parts.
func messageText(raw json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		text := ""
		for _, p := range parts {
			if p.Type == "text" || p.Type == "" {
				text += p.Text
			}
		}
		return text
	}
	return ""
}

func (r openAIRequest) toCanon() *canon.ChatRequest {
	messages := make([]canon.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		msg := canon.Message{
			Role:       canon.Role(m.Role),
			Text:       messageText(m.Content),
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			var args map[string]any
			raw := tc.Function.Arguments
			toolCall := canon.ToolCall{ID: tc.ID, Name: tc.Function.Name}
			if json.Unmarshal([]byte(raw), &args) == nil {
				toolCall.Arguments = args
			} else {
				toolCall.RawArguments = raw
			}
			msg.ToolCalls = append(msg.ToolCalls, toolCall)
		}
		messages = append(messages, msg)
	}

	var tools []canon.ToolDefinition
	for _, t := range r.Tools {
		tools = append(tools, canon.ToolDefinition{Name: t.Function.Name, Description: t.Function.Description, Parameters: t.Function.Parameters})
	}

	return &canon.ChatRequest{
		Messages:      messages,
		Model:         r.Model,
		Stream:        r.Stream,
		Temperature:   r.Temperature,
		TopP:          r.TopP,
		MaxTokens:     r.MaxTokens,
		StopSequences: r.Stop,
		Tools:         tools,
		ToolChoice:    r.ToolChoice,
	}
}

func canonToOpenAIResponse(resp *canon.ChatResponse) openAIResponse {
	out := openAIResponse{ID: resp.ID, Object: "chat.completion", Created: resp.CreatedUnix, Model: resp.Model, Usage: resp.Usage}
	for _, ch := range resp.Choices {
		outMsg := openAIMessageOut{Role: string(ch.Message.Role), Content: ch.Message.Text}
		for _, tc := range ch.Message.ToolCalls {
			wireTC := openAIToolCallOut{ID: tc.ID, Type: "function"}
			wireTC.Function.Name = tc.Name
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			wireTC.Function.Arguments = string(args)
			outMsg.ToolCalls = append(outMsg.ToolCalls, wireTC)
		}
		out.Choices = append(out.Choices, openAIChoiceOut{Index: ch.Index, Message: outMsg, FinishReason: string(ch.FinishReason)})
	}
	return out
}

func canonToOpenAIChunk(chunk canon.StreamChunk) openAIChunk {
	out := openAIChunk{ID: chunk.ID, Object: "chat.completion.chunk", Created: chunk.CreatedUnix, Model: chunk.Model}
	for _, ch := range chunk.Choices {
		var finish *string
		if ch.FinishReason != nil {
			s := string(*ch.FinishReason)
			finish = &s
		}
		out.Choices = append(out.Choices, openAIChunkChoice{
			Index:        ch.Index,
			Delta:        openAIDeltaOut{Role: string(ch.Delta.Role), Content: ch.Delta.Content},
			FinishReason: finish,
		})
	}
	return out
}

// openAIChatCompletions handles POST /v1/chat/completions.
func openAIChatCompletions(gw *application.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req openAIRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, llmerrors.New(llmerrors.Validation, err.Error(), "", ""))
			return
		}
		canonReq := req.toCanon()
		sessID := c.GetString(sessionHeader)

		if req.Stream {
			streamOpenAI(c, gw, sessID, canonReq)
			return
		}

		resp, _, err := gw.ProcessChat(c.Request.Context(), sessID, canonReq)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, canonToOpenAIResponse(resp))
	}
}

func streamOpenAI(c *gin.Context, gw *application.Gateway, sessID string, req *canon.ChatRequest) {
	stream, _, err := gw.ProcessChatStream(c.Request.Context(), sessID, req)
	if err != nil {
		writeError(c, err)
		return
	}

	w := newSSEWriter(c)
	for chunk := range stream {
		payload, err := json.Marshal(canonToOpenAIChunk(chunk))
		if err != nil {
			continue
		}
		w.writeJSON(payload)
	}
	w.done()
}

// openAIModels handles GET /v1/models, aggregating every configured
// backend's model list under "backend:model" ids.
func openAIModels(models func() map[string][]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		type entry struct {
			ID     string `json:"id"`
			Object string `json:"object"`
		}
		var out []entry
		for backend, ms := range models() {
			for _, m := range ms {
				out = append(out, entry{ID: backend + ":" + m, Object: "model"})
			}
		}
		c.JSON(http.StatusOK, gin.H{"object": "list", "data": out})
	}
}
