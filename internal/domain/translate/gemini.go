package translate

import (
	"encoding/json"
	"fmt"

	"github.com/llmgateway/proxy/internal/domain/canon"
)

// GeminiPart is one element of a Gemini content's parts array.
type GeminiPart struct {
	Text             string              `json:"text,omitempty"`
	FunctionCall     *GeminiFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *GeminiFuncResponse `json:"functionResponse,omitempty"`
}

// GeminiFunctionCall is a model-issued tool invocation.
type GeminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// GeminiFuncResponse carries a tool's result back to the model.
type GeminiFuncResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// GeminiContent is one turn, analogous to canon.Message.
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiToolDeclaration wraps the function declarations for one Tools entry.
type GeminiToolDeclaration struct {
	FunctionDeclarations []GeminiFunctionDecl `json:"functionDeclarations"`
}

// GeminiFunctionDecl describes one callable function.
type GeminiFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// GeminiGenerationConfig carries the sampling and thinking knobs.
type GeminiGenerationConfig struct {
	Temperature      *float64            `json:"temperature,omitempty"`
	TopP             *float64            `json:"topP,omitempty"`
	TopK             *int                `json:"topK,omitempty"`
	MaxOutputTokens  *int                `json:"maxOutputTokens,omitempty"`
	StopSequences    []string            `json:"stopSequences,omitempty"`
	ThinkingConfig   *GeminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

// GeminiThinkingConfig maps a canon.ReasoningEffort onto Gemini's budget knob.
type GeminiThinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

// GeminiWireRequest is the generateContent/streamGenerateContent body.
type GeminiWireRequest struct {
	Contents          []GeminiContent         `json:"contents"`
	SystemInstruction *GeminiContent          `json:"systemInstruction,omitempty"`
	Tools             []GeminiToolDeclaration `json:"tools,omitempty"`
	GenerationConfig  *GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiWireUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiWireCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
	Index        int           `json:"index"`
}

type geminiWireResponse struct {
	Candidates    []geminiWireCandidate `json:"candidates"`
	UsageMetadata geminiWireUsage       `json:"usageMetadata"`
}

// GeminiTranslator implements Translator for the Gemini generateContent
// dialect, grounded on infrastructure/llm/gemini/{types,provider}.go.
type GeminiTranslator struct{}

func (GeminiTranslator) Name() string { return "gemini" }

func (GeminiTranslator) ToWireRequest(req *canon.ChatRequest) (any, []Unsupported, error) {
	var unsupported []Unsupported
	wire := &GeminiWireRequest{}

	cfg := &GeminiGenerationConfig{
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		MaxOutputTokens: req.MaxTokens,
		StopSequences: req.StopSequences,
	}
	if req.ReasoningEffort != nil {
		budget, known := ReasoningThinkingBudget[*req.ReasoningEffort]
		if !known {
			unsupported = append(unsupported, Unsupported{Field: "reasoning_effort", Reason: fmt.Sprintf("unknown effort %q", *req.ReasoningEffort)})
		} else {
			cfg.ThinkingConfig = &GeminiThinkingConfig{ThinkingBudget: budget}
		}
	} else if req.ThinkingBudget != nil {
		cfg.ThinkingConfig = &GeminiThinkingConfig{ThinkingBudget: *req.ThinkingBudget}
	}
	wire.GenerationConfig = cfg

	for _, m := range req.Messages {
		if m.Role == canon.RoleSystem {
			wire.SystemInstruction = mergeSystemInstruction(wire.SystemInstruction, m.Text)
			continue
		}
		wire.Contents = append(wire.Contents, toGeminiContent(m))
	}

	for _, td := range req.Tools {
		wire.Tools = append(wire.Tools, GeminiToolDeclaration{
			FunctionDeclarations: []GeminiFunctionDecl{{Name: td.Name, Description: td.Description, Parameters: td.Parameters}},
		})
	}

	return wire, unsupported, nil
}

func mergeSystemInstruction(existing *GeminiContent, text string) *GeminiContent {
	if existing == nil {
		return &GeminiContent{Parts: []GeminiPart{{Text: text}}}
	}
	existing.Parts = append(existing.Parts, GeminiPart{Text: text})
	return existing
}

func toGeminiContent(m canon.Message) GeminiContent {
	role := "user"
	if m.Role == canon.RoleAssistant {
		role = "model"
	}

	c := GeminiContent{Role: role}
	if m.Text != "" {
		c.Parts = append(c.Parts, GeminiPart{Text: m.Text})
	}
	for _, tc := range m.ToolCalls {
		c.Parts = append(c.Parts, GeminiPart{FunctionCall: &GeminiFunctionCall{Name: tc.Name, Args: tc.Arguments}})
	}
	if m.Role == canon.RoleTool {
		c.Role = "user"
		c.Parts = []GeminiPart{{FunctionResponse: &GeminiFuncResponse{Name: m.Name, Response: map[string]any{"result": m.Text}}}}
	}
	return c
}

func (GeminiTranslator) FromWireResponse(raw []byte) (*canon.ChatResponse, error) {
	var wire geminiWireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("translate: unmarshal gemini response: %w", err)
	}

	resp := &canon.ChatResponse{
		Usage: canon.Usage{
			PromptTokens:     wire.UsageMetadata.PromptTokenCount,
			CompletionTokens: wire.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      wire.UsageMetadata.TotalTokenCount,
		},
	}
	for _, cand := range wire.Candidates {
		msg := canon.Message{Role: canon.RoleAssistant}
		for _, p := range cand.Content.Parts {
			if p.Text != "" {
				msg.Text += p.Text
			}
			if p.FunctionCall != nil {
				msg.ToolCalls = append(msg.ToolCalls, canon.ToolCall{Name: p.FunctionCall.Name, Arguments: p.FunctionCall.Args})
			}
		}
		resp.Choices = append(resp.Choices, canon.Choice{
			Index:        cand.Index,
			Message:      msg,
			FinishReason: geminiFinishReason(cand.FinishReason),
		})
	}
	return resp, nil
}

func geminiFinishReason(reason string) canon.FinishReason {
	switch reason {
	case "STOP":
		return canon.FinishStop
	case "MAX_TOKENS":
		return canon.FinishLength
	case "SAFETY", "RECITATION":
		return canon.FinishContentFilter
	default:
		return canon.FinishStop
	}
}

func (GeminiTranslator) FromWireStreamChunk(raw []byte) ([]canon.StreamChunk, error) {
	resp, err := GeminiTranslator{}.FromWireResponse(raw)
	if err != nil {
		return nil, err
	}

	chunk := canon.StreamChunk{Model: resp.Model, Usage: &resp.Usage}
	for _, c := range resp.Choices {
		fr := c.FinishReason
		chunk.Choices = append(chunk.Choices, canon.StreamChoice{
			Index:        c.Index,
			Delta:        canon.Delta{Role: c.Message.Role, Content: c.Message.Text, ToolCalls: c.Message.ToolCalls},
			FinishReason: &fr,
		})
	}
	return []canon.StreamChunk{chunk}, nil
}
