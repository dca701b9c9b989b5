package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/llmgateway/proxy/internal/infrastructure/credential"
)

// healthHandler is pure liveness: if the process can answer HTTP at all,
// it is healthy. Readiness is the stricter check that at least one
// credential is currently usable.
func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func readyHandler(creds *credential.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !creds.AnyHealthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "no functional backends"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
