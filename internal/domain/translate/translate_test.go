package translate

import (
	"testing"

	"github.com/llmgateway/proxy/internal/domain/canon"
)

func TestOpenAITranslator_ToWireRequest_MapsMessagesAndTools(t *testing.T) {
	effort := canon.ReasoningHigh
	req := &canon.ChatRequest{
		Model: "gpt-4o",
		Messages: []canon.Message{
			{Role: canon.RoleUser, Text: "hi"},
		},
		ReasoningEffort: &effort,
		TopK:            intPtr(5),
	}

	wireAny, unsupported, err := OpenAITranslator{}.ToWireRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wire := wireAny.(*OpenAIWireRequest)
	if len(wire.Messages) != 1 || wire.Messages[0].Content != "hi" {
		t.Errorf("unexpected messages: %+v", wire.Messages)
	}
	if len(unsupported) != 2 {
		t.Errorf("expected top_k and reasoning_effort flagged unsupported, got %+v", unsupported)
	}
}

func TestOpenAITranslator_FromWireResponse_RoundTrips(t *testing.T) {
	raw := []byte(`{"id":"r1","created":1,"model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`)
	resp, err := OpenAITranslator{}.FromWireResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Choices[0].Message.Text != "hello" || resp.Choices[0].FinishReason != canon.FinishStop {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Usage.TotalTokens != 3 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestAnthropicTranslator_ExtractsSystemPrompt(t *testing.T) {
	req := &canon.ChatRequest{
		Model: "claude-3-opus",
		Messages: []canon.Message{
			{Role: canon.RoleSystem, Text: "be terse"},
			{Role: canon.RoleUser, Text: "hi"},
		},
	}
	wireAny, _, err := AnthropicTranslator{}.ToWireRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wire := wireAny.(*AnthropicWireRequest)
	if wire.System != "be terse" {
		t.Errorf("expected system prompt extracted, got %q", wire.System)
	}
	if len(wire.Messages) != 1 {
		t.Fatalf("expected system message excluded from Messages, got %+v", wire.Messages)
	}
	if wire.MaxTokens != anthropicDefaultMaxTokens {
		t.Errorf("expected default max tokens, got %d", wire.MaxTokens)
	}
}

func TestAnthropicTranslator_ToolRoleBecomesUserToolResult(t *testing.T) {
	req := &canon.ChatRequest{
		Model: "claude-3-opus",
		Messages: []canon.Message{
			{Role: canon.RoleTool, ToolCallID: "call_1", Text: "42"},
		},
	}
	wireAny, _, _ := AnthropicTranslator{}.ToWireRequest(req)
	wire := wireAny.(*AnthropicWireRequest)
	if len(wire.Messages) != 1 || wire.Messages[0].Role != "user" {
		t.Fatalf("unexpected messages: %+v", wire.Messages)
	}
	block := wire.Messages[0].Content[0]
	if block.Type != "tool_result" || block.ToolUseID != "call_1" {
		t.Errorf("unexpected tool_result block: %+v", block)
	}
}

func TestGeminiTranslator_ReasoningEffortMapsToThinkingBudget(t *testing.T) {
	effort := canon.ReasoningHigh
	req := &canon.ChatRequest{
		Model:           "gemini-1.5-pro",
		Messages:        []canon.Message{{Role: canon.RoleUser, Text: "hi"}},
		ReasoningEffort: &effort,
	}
	wireAny, unsupported, err := GeminiTranslator{}.ToWireRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(unsupported) != 0 {
		t.Errorf("expected no unsupported fields, got %+v", unsupported)
	}
	wire := wireAny.(*GeminiWireRequest)
	if wire.GenerationConfig.ThinkingConfig == nil || wire.GenerationConfig.ThinkingConfig.ThinkingBudget != -1 {
		t.Errorf("expected high effort to map to unbounded thinking budget, got %+v", wire.GenerationConfig.ThinkingConfig)
	}
}

func TestGeminiTranslator_FromWireResponse(t *testing.T) {
	raw := []byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"hi"}]},"finishReason":"STOP","index":0}],"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":1,"totalTokenCount":2}}`)
	resp, err := GeminiTranslator{}.FromWireResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Choices[0].Message.Text != "hi" || resp.Choices[0].FinishReason != canon.FinishStop {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func intPtr(i int) *int { return &i }
