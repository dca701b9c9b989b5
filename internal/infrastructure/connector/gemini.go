package connector

import (
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/llmgateway/proxy/internal/domain/canon"
	"github.com/llmgateway/proxy/internal/domain/dispatch"
	"github.com/llmgateway/proxy/internal/domain/translate"
	"github.com/llmgateway/proxy/internal/infrastructure/credential"
)

func init() {
	RegisterFactory("gemini", newGeminiConnector)
}

// geminiConnector speaks the Gemini generateContent dialect, grounded on
// infrastructure/llm/gemini/provider.go: the API key travels as a query
// parameter rather than a header, and the model id is part of the path
// rather than the body.
type geminiConnector struct {
	*base
}

func newGeminiConnector(cfg Config, creds *credential.Manager, logger *zap.Logger) dispatch.Connector {
	b := newBase(cfg, creds, logger, &translate.GeminiTranslator{}, authXAPIKey)
	b.buildURL = func(streaming bool, model string) string {
		method := "generateContent"
		if streaming {
			method = "streamGenerateContent"
		}
		u := cfg.BaseURL + "/models/" + url.PathEscape(model) + ":" + method
		if streaming {
			u += "?alt=sse"
		}
		return u
	}
	b.applyAuth = func(req *http.Request, cred credential.Credential) {
		q := req.URL.Query()
		q.Set("key", cred.Value)
		req.URL.RawQuery = q.Encode()
	}
	return &geminiConnector{base: b}
}

func (c *geminiConnector) ChatCompletion(ctx context.Context, keyName string, req *canon.ChatRequest) (*canon.ChatResponse, error) {
	return c.doNonStream(ctx, keyName, req)
}

func (c *geminiConnector) ChatCompletionStream(ctx context.Context, keyName string, req *canon.ChatRequest) (<-chan canon.StreamChunk, error) {
	return c.doStream(ctx, keyName, req)
}
