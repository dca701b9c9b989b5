package http

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llmgateway/proxy/internal/domain/llmerrors"
	"github.com/llmgateway/proxy/internal/infrastructure/config"
)

const sessionHeader = "x-session-id"

// zapLogger is a gin middleware logging one structured line per request,
// grounded on the teacher's custom zap request-logging middleware
// (internal/interfaces/http/server.go) rather than gin's default text logger.
func zapLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("session_id", c.GetString(sessionHeader)),
		)
	}
}

// sessionID reads x-session-id from the request, generating and echoing a
// fresh one when absent, per the external interface's session header rule.
func sessionID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(sessionHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(sessionHeader, id)
		c.Header(sessionHeader, id)
		c.Next()
	}
}

// clientAuth validates the caller's own credential against the configured
// client API key set — distinct from the upstream credentials a connector
// uses — accepting it from any of the three header conventions the spec's
// supported dialects use. Disabled via AuthConfig.Disabled for local dev.
func clientAuth(cfg config.AuthConfig) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(cfg.ClientAPIKeys))
	for _, k := range cfg.ClientAPIKeys {
		allowed[k] = struct{}{}
	}

	return func(c *gin.Context) {
		if cfg.Disabled {
			c.Next()
			return
		}

		key := extractClientKey(c)
		if key == "" {
			writeError(c, llmerrors.New(llmerrors.Auth, "missing client credential", "", ""))
			c.Abort()
			return
		}
		if _, ok := allowed[key]; !ok {
			writeError(c, llmerrors.New(llmerrors.Auth, "unknown client credential", "", ""))
			c.Abort()
			return
		}
		c.Next()
	}
}

func extractClientKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if k := c.GetHeader("x-api-key"); k != "" {
		return k
	}
	if k := c.GetHeader("x-goog-api-key"); k != "" {
		return k
	}
	return ""
}
