package http

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/llmgateway/proxy/internal/application"
	"github.com/llmgateway/proxy/internal/domain/canon"
	"github.com/llmgateway/proxy/internal/domain/llmerrors"
)

// geminiPartIn mirrors translate.GeminiPart for incoming client requests.
type geminiPartIn struct {
	Text             string                 `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCallIn  `json:"functionCall,omitempty"`
	FunctionResponse *geminiFuncResponseIn  `json:"functionResponse,omitempty"`
}

type geminiFunctionCallIn struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFuncResponseIn struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

type geminiContentIn struct {
	Role  string         `json:"role,omitempty"`
	Parts []geminiPartIn `json:"parts"`
}

type geminiToolIn struct {
	FunctionDeclarations []geminiFunctionDeclIn `json:"functionDeclarations"`
}

type geminiFunctionDeclIn struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiGenerationConfigIn struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// geminiRequest is the client-facing generateContent/streamGenerateContent
// body. The model itself arrives as a path segment ("models/gemini-pro"),
// not a body field, per Gemini's REST convention.
type geminiRequest struct {
	Contents          []geminiContentIn         `json:"contents"`
	SystemInstruction *geminiContentIn          `json:"systemInstruction,omitempty"`
	Tools             []geminiToolIn            `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfigIn `json:"generationConfig,omitempty"`
}

func (r geminiRequest) toCanon(model string) *canon.ChatRequest {
	var messages []canon.Message
	if r.SystemInstruction != nil {
		text := ""
		for _, p := range r.SystemInstruction.Parts {
			text += p.Text
		}
		messages = append(messages, canon.Message{Role: canon.RoleSystem, Text: text})
	}
	for _, c := range r.Contents {
		role := canon.RoleUser
		if c.Role == "model" {
			role = canon.RoleAssistant
		}
		msg := canon.Message{Role: role}
		for _, p := range c.Parts {
			if p.Text != "" {
				msg.Text += p.Text
			}
			if p.FunctionCall != nil {
				msg.ToolCalls = append(msg.ToolCalls, canon.ToolCall{Name: p.FunctionCall.Name, Arguments: p.FunctionCall.Args})
			}
			if p.FunctionResponse != nil {
				msg.Role = canon.RoleTool
				msg.Name = p.FunctionResponse.Name
				if result, ok := p.FunctionResponse.Response["result"].(string); ok {
					msg.Text = result
				}
			}
		}
		messages = append(messages, msg)
	}

	var tools []canon.ToolDefinition
	for _, t := range r.Tools {
		for _, fd := range t.FunctionDeclarations {
			tools = append(tools, canon.ToolDefinition{Name: fd.Name, Description: fd.Description, Parameters: fd.Parameters})
		}
	}

	req := &canon.ChatRequest{Messages: messages, Model: model, Tools: tools}
	if cfg := r.GenerationConfig; cfg != nil {
		req.Temperature = cfg.Temperature
		req.TopP = cfg.TopP
		req.TopK = cfg.TopK
		req.MaxTokens = cfg.MaxOutputTokens
		req.StopSequences = cfg.StopSequences
	}
	return req
}

type geminiCandidateOut struct {
	Content      geminiContentIn `json:"content"`
	FinishReason string          `json:"finishReason"`
	Index        int             `json:"index"`
}

type geminiUsageOut struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiResponseOut struct {
	Candidates    []geminiCandidateOut `json:"candidates"`
	UsageMetadata geminiUsageOut       `json:"usageMetadata"`
}

func canonToGeminiResponse(resp *canon.ChatResponse) geminiResponseOut {
	out := geminiResponseOut{
		UsageMetadata: geminiUsageOut{
			PromptTokenCount:     resp.Usage.PromptTokens,
			CandidatesTokenCount: resp.Usage.CompletionTokens,
			TotalTokenCount:      resp.Usage.TotalTokens,
		},
	}
	for _, ch := range resp.Choices {
		content := geminiContentIn{Role: "model"}
		if ch.Message.Text != "" {
			content.Parts = append(content.Parts, geminiPartIn{Text: ch.Message.Text})
		}
		for _, tc := range ch.Message.ToolCalls {
			content.Parts = append(content.Parts, geminiPartIn{FunctionCall: &geminiFunctionCallIn{Name: tc.Name, Args: tc.Arguments}})
		}
		out.Candidates = append(out.Candidates, geminiCandidateOut{
			Content:      content,
			FinishReason: geminiFinishReasonOut(ch.FinishReason),
			Index:        ch.Index,
		})
	}
	return out
}

func geminiFinishReasonOut(fr canon.FinishReason) string {
	switch fr {
	case canon.FinishLength:
		return "MAX_TOKENS"
	case canon.FinishContentFilter:
		return "SAFETY"
	default:
		return "STOP"
	}
}

// geminiGenerateContent handles POST /v1beta/{model=models/*}:generateContent.
// model arrives pre-extracted by routeGeminiAction, which strips the
// ":generateContent" action suffix gin's router cannot match as its own
// path segment.
func geminiGenerateContent(gw *application.Gateway, model string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req geminiRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, llmerrors.New(llmerrors.Validation, err.Error(), "", ""))
			return
		}
		canonReq := req.toCanon(model)
		sessID := c.GetString(sessionHeader)

		resp, _, err := gw.ProcessChat(c.Request.Context(), sessID, canonReq)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, canonToGeminiResponse(resp))
	}
}

// geminiStreamGenerateContent handles POST
// /v1beta/{model=models/*}:streamGenerateContent, emitting one JSON
// candidate object per SSE frame (Gemini's streaming dialect has no
// "[DONE]" sentinel; the channel close ends the response).
func geminiStreamGenerateContent(gw *application.Gateway, model string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req geminiRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, llmerrors.New(llmerrors.Validation, err.Error(), "", ""))
			return
		}
		canonReq := req.toCanon(model)
		canonReq.Stream = true
		sessID := c.GetString(sessionHeader)

		stream, _, err := gw.ProcessChatStream(c.Request.Context(), sessID, canonReq)
		if err != nil {
			writeError(c, err)
			return
		}

		w := newSSEWriter(c)
		for chunk := range stream {
			out := geminiResponseOut{}
			for _, ch := range chunk.Choices {
				content := geminiContentIn{Role: "model"}
				if ch.Delta.Content != "" {
					content.Parts = append(content.Parts, geminiPartIn{Text: ch.Delta.Content})
				}
				finish := ""
				if ch.FinishReason != nil {
					finish = geminiFinishReasonOut(*ch.FinishReason)
				}
				out.Candidates = append(out.Candidates, geminiCandidateOut{Content: content, FinishReason: finish, Index: ch.Index})
			}
			payload, err := json.Marshal(out)
			if err != nil {
				continue
			}
			w.writeJSON(payload)
		}
	}
}

// geminiModels handles GET /v1beta/models.
func geminiModels(models func() map[string][]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		type entry struct {
			Name string `json:"name"`
		}
		var out []entry
		for backend, ms := range models() {
			for _, m := range ms {
				out = append(out, entry{Name: "models/" + backend + ":" + m})
			}
		}
		c.JSON(http.StatusOK, gin.H{"models": out})
	}
}
