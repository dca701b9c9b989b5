package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/llmgateway/proxy/internal/application"
	"github.com/llmgateway/proxy/internal/domain/canon"
	"github.com/llmgateway/proxy/internal/domain/command"
	"github.com/llmgateway/proxy/internal/domain/dispatch"
	"github.com/llmgateway/proxy/internal/domain/pipeline"
	"github.com/llmgateway/proxy/internal/domain/session"
	"github.com/llmgateway/proxy/internal/infrastructure/audit"
	"github.com/llmgateway/proxy/internal/infrastructure/config"
	"github.com/llmgateway/proxy/internal/infrastructure/credential"
	"github.com/llmgateway/proxy/internal/infrastructure/metrics"
)

type fakeConnector struct{}

func (fakeConnector) ChatCompletion(_ context.Context, _ string, req *canon.ChatRequest) (*canon.ChatResponse, error) {
	return &canon.ChatResponse{
		ID:    "resp-1",
		Model: req.Model,
		Choices: []canon.Choice{{
			Index:        0,
			Message:      canon.Message{Role: canon.RoleAssistant, Text: "hello there"},
			FinishReason: canon.FinishStop,
		}},
		Usage: canon.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}, nil
}

func (fakeConnector) ChatCompletionStream(_ context.Context, _ string, req *canon.ChatRequest) (<-chan canon.StreamChunk, error) {
	ch := make(chan canon.StreamChunk, 2)
	stop := canon.FinishStop
	ch <- canon.StreamChunk{Model: req.Model, Choices: []canon.StreamChoice{{Delta: canon.Delta{Role: canon.RoleAssistant, Content: "hi"}}}}
	ch <- canon.StreamChunk{Model: req.Model, Choices: []canon.StreamChoice{{Delta: canon.Delta{Content: " there"}, FinishReason: &stop}}}
	close(ch)
	return ch, nil
}

type fakeRegistry struct{}

func (fakeRegistry) Lookup(backend string) (dispatch.Connector, bool) { return fakeConnector{}, true }

// buildTestEngine assembles a gin.Engine against fake backend connectors,
// letting callers flip auth on/off per test.
func buildTestEngine(t *testing.T, authDisabled bool, clientKeys []string) *gin.Engine {
	t.Helper()
	logger := zap.NewNop()

	creds := credential.NewManager(logger)
	for _, backend := range []string{"openai", "anthropic", "gemini"} {
		if err := creds.Load(credential.Credential{Name: "k1", Backend: backend, Kind: credential.KindAPIKey, Value: "sk-test"}); err != nil {
			t.Fatalf("load credential: %v", err)
		}
	}

	dispatcher := dispatch.NewDispatcher(fakeRegistry{}, nil, nil, logger)
	sessions := session.NewStore()
	reg := command.NewRegistry()
	command.RegisterBuiltins(reg)
	engine := command.NewEngine(reg)
	auditWriter, err := audit.Open("")
	if err != nil {
		t.Fatalf("open audit: %v", err)
	}
	metricsReg := metrics.NewRegistry()

	gw := application.New(sessions, engine, creds, dispatcher, metricsReg, auditWriter, logger, "openai", map[string]string{
		"openai": "openai", "anthropic": "anthropic", "gemini": "gemini",
	}, pipeline.JSONRepairConfig{})

	cfg := &config.Config{
		Host:           "127.0.0.1",
		Port:           0,
		DefaultBackend: "openai",
		Auth:           config.AuthConfig{Disabled: authDisabled, ClientAPIKeys: clientKeys},
		Backends: map[string]config.BackendConfig{
			"openai":    {Dialect: "openai", Models: []string{"gpt-4o"}},
			"anthropic": {Dialect: "anthropic", Models: []string{"claude-3-opus"}},
		},
	}

	return newEngine(cfg, gw, creds, metricsReg, logger)
}

func TestHealthz(t *testing.T) {
	engine := buildTestEngine(t, true, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	engine.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestOpenAIChatCompletions_NonStreaming(t *testing.T) {
	engine := buildTestEngine(t, true, nil)
	body, _ := json.Marshal(map[string]any{
		"model":    "gpt-4o",
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/chat/completions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp openAIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Choices[0].Message.Content != "hello there" {
		t.Errorf("content = %q, want %q", resp.Choices[0].Message.Content, "hello there")
	}
}

func TestAnthropicMessages_NonStreaming(t *testing.T) {
	engine := buildTestEngine(t, true, nil)
	body, _ := json.Marshal(map[string]any{
		"model":      "anthropic:claude-3-opus",
		"max_tokens": 1024,
		"messages": []map[string]any{
			{"role": "user", "content": []map[string]any{{"type": "text", "text": "hi"}}},
		},
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/messages", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp anthropicResponseOut
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Content) == 0 || resp.Content[0].Text != "hello there" {
		t.Errorf("content = %+v, want text %q", resp.Content, "hello there")
	}
}

func TestOpenAIModels_ListsConfiguredBackends(t *testing.T) {
	engine := buildTestEngine(t, true, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/models", nil)
	engine.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list.Data) != 2 {
		t.Errorf("models = %+v, want one entry per configured backend model (2)", list.Data)
	}
}

func TestClientAuth_RejectsMissingCredentialWhenEnabled(t *testing.T) {
	engine := buildTestEngine(t, false, []string{"secret"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/chat/completions", bytes.NewReader([]byte(`{}`)))
	engine.ServeHTTP(rec, req)

	if rec.Code != 401 {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestClientAuth_AcceptsBearerKey(t *testing.T) {
	engine := buildTestEngine(t, false, []string{"secret"})

	body, _ := json.Marshal(map[string]any{
		"model":    "gpt-4o",
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/chat/completions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer secret")
	engine.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}
