package application

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/llmgateway/proxy/internal/domain/canon"
	"github.com/llmgateway/proxy/internal/domain/command"
	"github.com/llmgateway/proxy/internal/domain/dispatch"
	"github.com/llmgateway/proxy/internal/domain/pipeline"
	"github.com/llmgateway/proxy/internal/domain/session"
	"github.com/llmgateway/proxy/internal/infrastructure/audit"
	"github.com/llmgateway/proxy/internal/infrastructure/credential"
	"github.com/llmgateway/proxy/internal/infrastructure/metrics"
)

type fakeConnector struct {
	resp *canon.ChatResponse
	err  error
}

func (f *fakeConnector) ChatCompletion(_ context.Context, _ string, req *canon.ChatRequest) (*canon.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	resp := *f.resp
	resp.Model = req.Model
	return &resp, nil
}

func (f *fakeConnector) ChatCompletionStream(_ context.Context, _ string, req *canon.ChatRequest) (<-chan canon.StreamChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan canon.StreamChunk, len(f.streamChunks()))
	for _, c := range f.streamChunks() {
		out <- c
	}
	close(out)
	return out, nil
}

func (f *fakeConnector) streamChunks() []canon.StreamChunk {
	stop := canon.FinishStop
	return []canon.StreamChunk{
		{Choices: []canon.StreamChoice{{Delta: canon.Delta{Content: "hi"}}}},
		{Choices: []canon.StreamChoice{{Delta: canon.Delta{Content: " there"}, FinishReason: &stop}}},
	}
}

type fakeRegistry map[string]dispatch.Connector

func (r fakeRegistry) Lookup(backend string) (dispatch.Connector, bool) {
	c, ok := r[backend]
	return c, ok
}

func newTestGateway(t *testing.T, registry fakeRegistry, backends []string) *Gateway {
	t.Helper()
	logger := zap.NewNop()

	creds := credential.NewManager(logger)
	for _, b := range backends {
		if err := creds.Load(credential.Credential{Name: "k1", Backend: b, Kind: credential.KindAPIKey, Value: "secret"}); err != nil {
			t.Fatalf("load credential: %v", err)
		}
	}

	dialect := make(map[string]string, len(backends))
	for _, b := range backends {
		dialect[b] = "openai"
	}

	dispatcher := dispatch.NewDispatcher(registry, nil, nil, logger)
	sessions := session.NewStore()
	reg := command.NewRegistry()
	command.RegisterBuiltins(reg)
	engine := command.NewEngine(reg)
	auditWriter, _ := audit.Open("")

	return New(sessions, engine, creds, dispatcher, metrics.NewRegistry(), auditWriter, logger, "openai", dialect, pipeline.JSONRepairConfig{})
}

func chatReq(model, text string) *canon.ChatRequest {
	return &canon.ChatRequest{Messages: []canon.Message{{Role: canon.RoleUser, Text: text}}, Model: model}
}

func TestProcessChat_DefaultBackendRouting(t *testing.T) {
	registry := fakeRegistry{"openai": &fakeConnector{resp: &canon.ChatResponse{ID: "r1", Choices: []canon.Choice{{Message: canon.Message{Text: "hello"}}}}}}
	gw := newTestGateway(t, registry, []string{"openai"})

	resp, _, err := gw.ProcessChat(context.Background(), "s1", chatReq("gpt-4o", "hi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Model != "gpt-4o" {
		t.Errorf("expected model gpt-4o, got %q", resp.Model)
	}
}

func TestProcessChat_BackendPrefixedModel(t *testing.T) {
	registry := fakeRegistry{"anthropic": &fakeConnector{resp: &canon.ChatResponse{ID: "r1", Choices: []canon.Choice{{Message: canon.Message{Text: "hello"}}}}}}
	gw := newTestGateway(t, registry, []string{"anthropic"})

	resp, _, err := gw.ProcessChat(context.Background(), "s2", chatReq("anthropic:claude-3-opus", "hi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Model != "claude-3-opus" {
		t.Errorf("expected model claude-3-opus, got %q", resp.Model)
	}
}

func TestProcessChat_SetCommandOverridesBackend(t *testing.T) {
	registry := fakeRegistry{
		"openai":    &fakeConnector{resp: &canon.ChatResponse{ID: "r1", Choices: []canon.Choice{{Message: canon.Message{Text: "hello"}}}}},
		"anthropic": &fakeConnector{resp: &canon.ChatResponse{ID: "r2", Choices: []canon.Choice{{Message: canon.Message{Text: "hello"}}}}},
	}
	gw := newTestGateway(t, registry, []string{"openai", "anthropic"})

	_, outcome, err := gw.ProcessChat(context.Background(), "s3", chatReq("claude-3-opus", "!/set(backend=anthropic) hi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcome.CommandResults) != 1 || outcome.CommandResults[0].Err != nil {
		t.Fatalf("expected one successful command result, got %+v", outcome.CommandResults)
	}

	resp, _, err := gw.ProcessChat(context.Background(), "s3", chatReq("claude-3-opus", "hi again"))
	if err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
	if resp.Model != "claude-3-opus" {
		t.Errorf("expected model claude-3-opus, got %q", resp.Model)
	}
	if resp.ID != "r2" {
		t.Errorf("expected overridden backend anthropic (response r2), got response %q", resp.ID)
	}
}

func TestProcessChat_RouteDefineTakesEffectSameRequestAndFailsOver(t *testing.T) {
	registry := fakeRegistry{
		"openai":    &fakeConnector{err: assertionErr("openai down")},
		"anthropic": &fakeConnector{resp: &canon.ChatResponse{ID: "r2", Choices: []canon.Choice{{Message: canon.Message{Text: "hello"}}}}},
	}
	gw := newTestGateway(t, registry, []string{"openai", "anthropic"})

	// Commands run before model resolution, so a route defined under the
	// same name as the request's own "model" field is visible to that same
	// request's attempt-sequence construction.
	define := "!/route_define(name=primary,policy=m,elements=openai/gpt-4o;anthropic/claude-3-opus) hi"
	resp, outcome, err := gw.ProcessChat(context.Background(), "s4", chatReq("primary", define))
	if err != nil {
		t.Fatalf("expected failover from openai to anthropic to succeed, got: %v", err)
	}
	if len(outcome.CommandResults) != 1 || outcome.CommandResults[0].Err != nil {
		t.Fatalf("expected route_define to succeed, got %+v", outcome.CommandResults)
	}
	if len(outcome.Attempts) != 2 {
		t.Fatalf("expected 2 dispatch attempts (openai then anthropic), got %d", len(outcome.Attempts))
	}
	if resp.Model != "claude-3-opus" {
		t.Errorf("expected anthropic's model on the response, got %q", resp.Model)
	}
}

func TestProcessChat_CommandOnlyNeverDispatches(t *testing.T) {
	registry := fakeRegistry{"openai": &fakeConnector{err: assertionErr("should never be called")}}
	gw := newTestGateway(t, registry, []string{"openai"})

	resp, outcome, err := gw.ProcessChat(context.Background(), "s6", chatReq("gpt-4o", "!/set(backend=anthropic)"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcome.Attempts) != 0 {
		t.Errorf("expected no dispatch attempts for a command-only turn, got %+v", outcome.Attempts)
	}
	if resp.Choices[0].Message.Role != canon.RoleAssistant {
		t.Errorf("expected a synthesized assistant response, got role %q", resp.Choices[0].Message.Role)
	}
}

// synthesizeCommandResponse's error path only triggers when every result in
// a command-only turn carries an empty Message, which none of the built-in
// commands do (even failures report an error string). Exercise it directly
// with a synthetic Result rather than through the registry.
func TestSynthesizeCommandResponse_NoResultTextIsAnError(t *testing.T) {
	_, err := synthesizeCommandResponse("gpt-4o", []command.Result{{Name: "silent"}})
	if err == nil {
		t.Fatal("expected an error when every command result has an empty Message")
	}
}

func TestProcessChatStream_TerminatesOnFinishReason(t *testing.T) {
	registry := fakeRegistry{"openai": &fakeConnector{resp: &canon.ChatResponse{}}}
	gw := newTestGateway(t, registry, []string{"openai"})

	stream, _, err := gw.ProcessChatStream(context.Background(), "s5", chatReq("gpt-4o", "hi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got string
	for chunk := range stream {
		for _, c := range chunk.Choices {
			got += c.Delta.Content
		}
	}
	if got != "hi there" {
		t.Errorf("expected accumulated content %q, got %q", "hi there", got)
	}
}

func TestResolveAttempts_OneoffRouteTakesPriorityAndIsSingleUse(t *testing.T) {
	state := canon.DefaultSessionState()
	state.OneoffRoute = &canon.OneoffRoute{Backend: "openai", Model: "gpt-4o"}
	keys := map[string][]string{"openai": {"k1", "k2"}}

	attempts, consumed := resolveAttempts("anything", state, "openai", keys)
	if !consumed {
		t.Error("expected oneoff route to be reported as consumed")
	}
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts (one per key), got %d", len(attempts))
	}
}

func TestResolveAttempts_NamedRouteExpandsByPolicy(t *testing.T) {
	state := canon.DefaultSessionState()
	state.FailoverRoutes["primary"] = canon.FailoverRoute{
		Policy: canon.PolicyKM,
		Elements: []canon.RouteElement{
			{Backend: "openai", Model: "gpt-4o"},
			{Backend: "anthropic", Model: "claude-3-opus"},
		},
	}
	keys := map[string][]string{"openai": {"k1"}, "anthropic": {"a1"}}

	attempts, consumed := resolveAttempts("primary", state, "openai", keys)
	if consumed {
		t.Error("named routes must not be reported as one-off consumption")
	}
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts from km policy with 1 key each, got %d", len(attempts))
	}
}

// assertionErr lets tests build a connector error without importing llmerrors
// just for a message string; any error works, since classify() in dispatch
// wraps it.
type assertionErr string

func (e assertionErr) Error() string { return string(e) }
