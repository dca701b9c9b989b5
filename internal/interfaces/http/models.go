package http

import "github.com/llmgateway/proxy/internal/infrastructure/config"

// modelLister builds the backend -> configured model list closure shared by
// the OpenAI and Gemini /models endpoints. Anthropic's dialect has no
// public model-listing endpoint in the spec it fronts, so it is not wired
// here.
func modelLister(cfg *config.Config) func() map[string][]string {
	return func() map[string][]string {
		out := make(map[string][]string, len(cfg.Backends))
		for name, b := range cfg.Backends {
			out[name] = b.Models
		}
		return out
	}
}
