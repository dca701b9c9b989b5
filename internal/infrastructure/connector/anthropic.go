package connector

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/llmgateway/proxy/internal/domain/canon"
	"github.com/llmgateway/proxy/internal/domain/dispatch"
	"github.com/llmgateway/proxy/internal/domain/translate"
	"github.com/llmgateway/proxy/internal/infrastructure/credential"
)

// anthropicVersion is the wire protocol version Anthropic requires on
// every request, matching what infrastructure/llm/anthropic/provider.go
// sends.
const anthropicVersion = "2023-06-01"

func init() {
	RegisterFactory("anthropic", newAnthropicConnector)
}

// anthropicConnector speaks the Anthropic messages dialect, grounded on
// infrastructure/llm/anthropic/provider.go (system-prompt extraction,
// x-api-key auth, anthropic-version header).
type anthropicConnector struct {
	*base
}

func newAnthropicConnector(cfg Config, creds *credential.Manager, logger *zap.Logger) dispatch.Connector {
	b := newBase(cfg, creds, logger, &translate.AnthropicTranslator{}, authXAPIKey)
	b.buildURL = func(streaming bool, model string) string {
		return cfg.BaseURL + "/v1/messages"
	}
	b.applyAuth = func(req *http.Request, cred credential.Credential) {
		req.Header.Set("x-api-key", cred.Value)
		req.Header.Set("anthropic-version", anthropicVersion)
	}
	return &anthropicConnector{base: b}
}

func (c *anthropicConnector) ChatCompletion(ctx context.Context, keyName string, req *canon.ChatRequest) (*canon.ChatResponse, error) {
	return c.doNonStream(ctx, keyName, req)
}

func (c *anthropicConnector) ChatCompletionStream(ctx context.Context, keyName string, req *canon.ChatRequest) (<-chan canon.StreamChunk, error) {
	return c.doStream(ctx, keyName, req)
}
