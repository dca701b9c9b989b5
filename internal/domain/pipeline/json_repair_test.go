package pipeline

import (
	"context"
	"testing"

	"github.com/llmgateway/proxy/internal/domain/canon"
)

func enabledRepairCfg() JSONRepairConfig {
	return JSONRepairConfig{Enabled: true, BufferCapBytes: 4096, CoercionEnabled: true}
}

func TestJSONRepairMiddleware_RecoversTrailingComma(t *testing.T) {
	m := NewJSONRepairMiddleware(enabledRepairCfg())
	resp := &canon.ChatResponse{Choices: []canon.Choice{{Message: canon.Message{
		ToolCalls: []canon.ToolCall{{Name: "search", RawArguments: `{"q":"golang",}`}},
	}}}}

	got, err := m.OnResponse(context.Background(), resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	args := got.Choices[0].Message.ToolCalls[0].Arguments
	if args["q"] != "golang" {
		t.Errorf("expected repaired arguments, got %+v", args)
	}
}

func TestJSONRepairMiddleware_UnrecoverableFallsBackToEmptyMap(t *testing.T) {
	m := NewJSONRepairMiddleware(enabledRepairCfg())
	resp := &canon.ChatResponse{Choices: []canon.Choice{{Message: canon.Message{
		ToolCalls: []canon.ToolCall{{Name: "search", RawArguments: `not json at all {{{`}},
	}}}}

	got, _ := m.OnResponse(context.Background(), resp)
	args := got.Choices[0].Message.ToolCalls[0].Arguments
	if args == nil || len(args) != 0 {
		t.Errorf("expected empty map fallback, got %+v", args)
	}
}

func TestJSONRepairMiddleware_LeavesAlreadyParsedArgumentsAlone(t *testing.T) {
	m := NewJSONRepairMiddleware(enabledRepairCfg())
	resp := &canon.ChatResponse{Choices: []canon.Choice{{Message: canon.Message{
		ToolCalls: []canon.ToolCall{{Name: "search", Arguments: map[string]any{"q": "golang"}}},
	}}}}

	got, _ := m.OnResponse(context.Background(), resp)
	if got.Choices[0].Message.ToolCalls[0].Arguments["q"] != "golang" {
		t.Error("already-parsed arguments should not be touched")
	}
}

func TestJSONRepairMiddleware_DisabledPassesThrough(t *testing.T) {
	m := NewJSONRepairMiddleware(JSONRepairConfig{Enabled: false})
	resp := &canon.ChatResponse{Choices: []canon.Choice{{Message: canon.Message{
		ToolCalls: []canon.ToolCall{{Name: "search", RawArguments: `{"q":"golang",}`}},
	}}}}

	got, _ := m.OnResponse(context.Background(), resp)
	if got.Choices[0].Message.ToolCalls[0].Arguments != nil {
		t.Error("disabled middleware must not repair arguments")
	}
}

func TestJSONRepairMiddleware_CoercesStringifiedPrimitives(t *testing.T) {
	m := NewJSONRepairMiddleware(enabledRepairCfg())
	resp := &canon.ChatResponse{Choices: []canon.Choice{{Message: canon.Message{
		ToolCalls: []canon.ToolCall{{Name: "search", RawArguments: `{"limit":"10","verbose":"true"}`}},
	}}}}

	got, _ := m.OnResponse(context.Background(), resp)
	args := got.Choices[0].Message.ToolCalls[0].Arguments
	if args["limit"] != int64(10) {
		t.Errorf("expected limit coerced to int64, got %#v", args["limit"])
	}
	if args["verbose"] != true {
		t.Errorf("expected verbose coerced to bool, got %#v", args["verbose"])
	}
}

func TestJSONRepairMiddleware_StreamAccumulatesUntilBracesBalance(t *testing.T) {
	m := NewJSONRepairMiddleware(enabledRepairCfg())
	ctx := context.Background()

	frag1 := canon.StreamChunk{Choices: []canon.StreamChoice{{Delta: canon.Delta{
		ToolCalls: []canon.ToolCall{{Name: "search", RawArguments: `{"q":"golan`}},
	}}}}
	out1, v1, err := m.OnStreamChunk(ctx, frag1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v1 != Pass {
		t.Fatalf("expected Pass while buffering an unbalanced fragment, got %v", v1)
	}
	if out1.Choices[0].Delta.ToolCalls[0].Arguments != nil {
		t.Error("expected no arguments emitted before braces balance")
	}

	frag2 := canon.StreamChunk{Choices: []canon.StreamChoice{{Delta: canon.Delta{
		ToolCalls: []canon.ToolCall{{Name: "search", RawArguments: `g"}`}},
	}}}}
	out2, v2, err := m.OnStreamChunk(ctx, frag2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v2 != Modified {
		t.Fatalf("expected Modified once braces balance, got %v", v2)
	}
	args := out2.Choices[0].Delta.ToolCalls[0].Arguments
	if args["q"] != "golang" {
		t.Errorf("expected accumulated+repaired arguments, got %+v", args)
	}
}

func TestJSONRepairMiddleware_StreamDropsOverflowPastBufferCap(t *testing.T) {
	m := NewJSONRepairMiddleware(JSONRepairConfig{Enabled: true, BufferCapBytes: 4})
	ctx := context.Background()

	chunk := canon.StreamChunk{Choices: []canon.StreamChoice{{Delta: canon.Delta{
		ToolCalls: []canon.ToolCall{{Name: "search", RawArguments: `{"q":"golang"}`}},
	}}}}
	out, v, err := m.OnStreamChunk(ctx, chunk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != Pass {
		t.Errorf("expected Pass when the fragment overflows the cap, got %v", v)
	}
	if out.Choices[0].Delta.ToolCalls[0].Arguments != nil {
		t.Error("overflowed fragment must not be repaired")
	}
}
