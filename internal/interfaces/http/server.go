package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/llmgateway/proxy/internal/application"
	"github.com/llmgateway/proxy/internal/infrastructure/config"
	"github.com/llmgateway/proxy/internal/infrastructure/credential"
	"github.com/llmgateway/proxy/internal/infrastructure/metrics"
)

// Server is the HTTP edge: a gin.Engine exposing every supported dialect's
// routes plus health, readiness, and metrics endpoints, grounded on the
// teacher's internal/interfaces/http/server.go Recovery-first middleware
// chain and graceful-shutdown ListenAndServe wrapper.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer assembles the gin.Engine and binds it to cfg.Host:cfg.Port.
func NewServer(cfg *config.Config, gw *application.Gateway, creds *credential.Manager, reg *metrics.Registry, logger *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           newEngine(cfg, gw, creds, reg, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// newEngine builds the routed gin.Engine, factored out of NewServer so
// tests can drive it directly with httptest without binding a real port.
func newEngine(cfg *config.Config, gw *application.Gateway, creds *credential.Manager, reg *metrics.Registry, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), zapLogger(logger), sessionID())

	engine.GET("/health", healthHandler)
	engine.GET("/ready", readyHandler(creds))
	engine.GET("/metrics", gin.WrapH(reg.Handler()))

	authed := engine.Group("/")
	authed.Use(clientAuth(cfg.Auth))

	lister := modelLister(cfg)

	authed.POST("/v1/chat/completions", openAIChatCompletions(gw))
	authed.GET("/v1/models", openAIModels(lister))

	authed.POST("/v1/messages", anthropicMessages(gw))

	authed.POST("/v1beta/models/:model", func(c *gin.Context) {
		routeGeminiAction(c, gw)
	})
	authed.GET("/v1beta/models", geminiModels(lister))

	return engine
}

// routeGeminiAction dispatches Gemini's colon-suffixed action verb
// (":generateContent" / ":streamGenerateContent"), which gin's router
// cannot match as a distinct path segment since it is appended to the
// wildcard :model parameter rather than separated by a "/".
func routeGeminiAction(c *gin.Context, gw *application.Gateway) {
	raw := c.Param("model")
	switch {
	case hasSuffix(raw, ":streamGenerateContent"):
		geminiStreamGenerateContent(gw, trimSuffix(raw, ":streamGenerateContent"))(c)
	case hasSuffix(raw, ":generateContent"):
		geminiGenerateContent(gw, trimSuffix(raw, ":generateContent"))(c)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "unknown action", "type": "not_found"}})
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func trimSuffix(s, suffix string) string {
	return s[:len(s)-len(suffix)]
}

// Start runs the server until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
