package connector

import (
	"context"

	"go.uber.org/zap"

	"github.com/llmgateway/proxy/internal/domain/canon"
	"github.com/llmgateway/proxy/internal/domain/dispatch"
	"github.com/llmgateway/proxy/internal/domain/translate"
	"github.com/llmgateway/proxy/internal/infrastructure/credential"
)

func init() {
	RegisterFactory("openai", newOpenAIConnector)
}

// openAIConnector speaks the OpenAI chat-completions dialect, grounded on
// infrastructure/llm/openai/provider.go's request building and sse.go's
// stream parsing, but driven by translate.OpenAITranslator instead of a
// provider-specific struct.
type openAIConnector struct {
	*base
}

func newOpenAIConnector(cfg Config, creds *credential.Manager, logger *zap.Logger) dispatch.Connector {
	b := newBase(cfg, creds, logger, &translate.OpenAITranslator{}, authBearer)
	b.buildURL = func(streaming bool, model string) string {
		return cfg.BaseURL + "/chat/completions"
	}
	return &openAIConnector{base: b}
}

func (c *openAIConnector) ChatCompletion(ctx context.Context, keyName string, req *canon.ChatRequest) (*canon.ChatResponse, error) {
	return c.doNonStream(ctx, keyName, req)
}

func (c *openAIConnector) ChatCompletionStream(ctx context.Context, keyName string, req *canon.ChatRequest) (<-chan canon.StreamChunk, error) {
	return c.doStream(ctx, keyName, req)
}
