// Package connector implements the HTTP-speaking backend connectors:
// given a canonical request and a resolved credential, translate it to a
// dialect's wire shape, send it, and translate the response back. The
// factory-registration pattern is adapted from the teacher's
// infrastructure/llm.RegisterFactory/CreateProvider — each dialect
// sub-file registers itself via init() instead of the caller switching on
// a type string.
package connector

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/llmgateway/proxy/internal/domain/dispatch"
	"github.com/llmgateway/proxy/internal/infrastructure/credential"
)

// Config is the per-backend configuration a factory needs to build a
// Connector, mirroring the teacher's ProviderConfig.
type Config struct {
	Backend string
	Dialect string // "openai" | "anthropic" | "gemini"
	BaseURL string
	Models  []string
}

// Factory builds a Connector for one backend.
type Factory func(cfg Config, creds *credential.Manager, logger *zap.Logger) dispatch.Connector

var (
	factoryMu sync.RWMutex
	factories = map[string]Factory{}
)

// RegisterFactory registers a connector factory under a dialect name.
// Called from init() in each dialect's own file in this package.
func RegisterFactory(dialect string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[dialect] = f
}

// Build constructs a Connector for cfg.Dialect using its registered
// factory.
func Build(cfg Config, creds *credential.Manager, logger *zap.Logger) (dispatch.Connector, error) {
	factoryMu.RLock()
	f, ok := factories[cfg.Dialect]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("connector: unknown dialect %q", cfg.Dialect)
	}
	return f(cfg, creds, logger), nil
}

// Registry maps backend name -> Connector, implementing
// dispatch.ConnectorRegistry.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]dispatch.Connector
}

// NewRegistry builds an empty connector registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]dispatch.Connector)}
}

// Add registers a connector under backend.
func (r *Registry) Add(backend string, c dispatch.Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[backend] = c
}

// Lookup implements dispatch.ConnectorRegistry.
func (r *Registry) Lookup(backend string) (dispatch.Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[backend]
	return c, ok
}
