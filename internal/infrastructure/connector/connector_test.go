package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/llmgateway/proxy/internal/domain/canon"
	"github.com/llmgateway/proxy/internal/domain/llmerrors"
	"github.com/llmgateway/proxy/internal/infrastructure/credential"
)

func newTestManager(t *testing.T, backend, keyName, value string) *credential.Manager {
	t.Helper()
	m := credential.NewManager(zap.NewNop())
	if err := m.Load(credential.Credential{Name: keyName, Backend: backend, Kind: credential.KindAPIKey, Value: value}); err != nil {
		t.Fatalf("load credential: %v", err)
	}
	return m
}

func TestOpenAIConnector_ChatCompletion_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"resp1","created":1,"model":"gpt-4","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer srv.Close()

	creds := newTestManager(t, "openai", "k1", "sk-test")
	conn, err := Build(Config{Backend: "openai", Dialect: "openai", BaseURL: srv.URL}, creds, zap.NewNop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	req := &canon.ChatRequest{Model: "gpt-4", Messages: []canon.Message{{Role: canon.RoleUser, Text: "hello"}}}
	resp, err := conn.ChatCompletion(context.Background(), "k1", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Text != "hi" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestOpenAIConnector_ChatCompletion_UpstreamErrorClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	creds := newTestManager(t, "openai", "k1", "sk-test")
	conn, _ := Build(Config{Backend: "openai", Dialect: "openai", BaseURL: srv.URL}, creds, zap.NewNop())

	req := &canon.ChatRequest{Model: "gpt-4", Messages: []canon.Message{{Role: canon.RoleUser, Text: "hello"}}}
	_, err := conn.ChatCompletion(context.Background(), "k1", req)
	if err == nil {
		t.Fatal("expected an error")
	}
	le, ok := err.(*llmerrors.Error)
	if !ok {
		t.Fatalf("expected *llmerrors.Error, got %T", err)
	}
	if le.Kind != llmerrors.RateLimit {
		t.Errorf("expected RateLimit, got %v", le.Kind)
	}
}

func TestOpenAIConnector_ChatCompletion_UnknownCredential(t *testing.T) {
	creds := credential.NewManager(zap.NewNop())
	conn, _ := Build(Config{Backend: "openai", Dialect: "openai", BaseURL: "http://unused"}, creds, zap.NewNop())

	req := &canon.ChatRequest{Model: "gpt-4", Messages: []canon.Message{{Role: canon.RoleUser, Text: "hi"}}}
	_, err := conn.ChatCompletion(context.Background(), "missing", req)
	if err == nil {
		t.Fatal("expected error for unresolvable credential")
	}
	le, ok := err.(*llmerrors.Error)
	if !ok || le.Kind != llmerrors.Auth {
		t.Fatalf("expected Auth kind, got %#v", err)
	}
}

func TestAnthropicConnector_ChatCompletion_SendsVersionAndAPIKeyHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "ak-test" {
			t.Errorf("unexpected x-api-key: %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != anthropicVersion {
			t.Errorf("unexpected anthropic-version: %q", got)
		}
		w.Write([]byte(`{"id":"msg1","model":"claude-3","content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	creds := newTestManager(t, "anthropic", "k1", "ak-test")
	conn, _ := Build(Config{Backend: "anthropic", Dialect: "anthropic", BaseURL: srv.URL}, creds, zap.NewNop())

	req := &canon.ChatRequest{Model: "claude-3", Messages: []canon.Message{{Role: canon.RoleUser, Text: "hello"}}}
	resp, err := conn.ChatCompletion(context.Background(), "k1", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Text != "hi" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGeminiConnector_ChatCompletion_KeyTravelsAsQueryParam(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("key"); got != "gk-test" {
			t.Errorf("unexpected key query param: %q", got)
		}
		if r.URL.Path != "/models/gemini-pro:generateContent" {
			t.Errorf("unexpected path: %q", r.URL.Path)
		}
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"hi"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":1,"totalTokenCount":2}}`))
	}))
	defer srv.Close()

	creds := newTestManager(t, "gemini", "k1", "gk-test")
	conn, _ := Build(Config{Backend: "gemini", Dialect: "gemini", BaseURL: srv.URL}, creds, zap.NewNop())

	req := &canon.ChatRequest{Model: "gemini-pro", Messages: []canon.Message{{Role: canon.RoleUser, Text: "hello"}}}
	resp, err := conn.ChatCompletion(context.Background(), "k1", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Text != "hi" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestOpenAIConnector_ChatCompletionStream_DeliversDeltasAndStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"id":"1","created":1,"model":"gpt-4","choices":[{"index":0,"delta":{"role":"assistant","content":"he"},"finish_reason":null}]}`,
			`{"id":"1","created":1,"model":"gpt-4","choices":[{"index":0,"delta":{"content":"llo"},"finish_reason":null}]}`,
			`{"id":"1","created":1,"model":"gpt-4","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		}
		for _, c := range chunks {
			w.Write([]byte("data: " + c + "\n\n"))
			flusher.Flush()
		}
		w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	creds := newTestManager(t, "openai", "k1", "sk-test")
	conn, _ := Build(Config{Backend: "openai", Dialect: "openai", BaseURL: srv.URL}, creds, zap.NewNop())

	req := &canon.ChatRequest{Model: "gpt-4", Stream: true, Messages: []canon.Message{{Role: canon.RoleUser, Text: "hi"}}}
	stream, err := conn.ChatCompletionStream(context.Background(), "k1", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var text string
	var sawFinish bool
	for chunk := range stream {
		for _, c := range chunk.Choices {
			text += c.Delta.Content
			if c.FinishReason != nil {
				sawFinish = true
			}
		}
	}
	if text != "hello" {
		t.Errorf("expected accumulated text %q, got %q", "hello", text)
	}
	if !sawFinish {
		t.Error("expected to observe a finish_reason before the channel closed")
	}
}

func TestGeminiConnector_ChatCompletion_DifferentModelsDoNotRace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"ok: ` + r.URL.Path + `"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	creds := newTestManager(t, "gemini", "k1", "gk-test")
	conn, _ := Build(Config{Backend: "gemini", Dialect: "gemini", BaseURL: srv.URL}, creds, zap.NewNop())

	done := make(chan struct{}, 2)
	for _, model := range []string{"gemini-pro", "gemini-flash"} {
		model := model
		go func() {
			defer func() { done <- struct{}{} }()
			req := &canon.ChatRequest{Model: model, Messages: []canon.Message{{Role: canon.RoleUser, Text: "hi"}}}
			if _, err := conn.ChatCompletion(context.Background(), "k1", req); err != nil {
				t.Errorf("unexpected error for model %s: %v", model, err)
			}
		}()
	}
	<-done
	<-done
}
