// Package http implements the gin-based HTTP edge: one frontend adapter per
// supported client dialect (OpenAI, Anthropic, Gemini), each parsing its own
// wire shape into a canonical request, calling into
// internal/application.Gateway, and rendering the canonical response or
// stream back in that same dialect's wire shape. Routing, the zap request
// logger, and the Recovery-first middleware chain are grounded on the
// teacher's internal/interfaces/http/server.go.
package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/llmgateway/proxy/internal/domain/llmerrors"
)

// errorBody is the uniform error response documented for every dialect.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Details any    `json:"details,omitempty"`
}

// writeError renders err as the uniform error body, picking the HTTP status
// from its Kind when err is an *llmerrors.Error and falling back to 500
// with type "internal_error" for anything else (a defensive backstop —
// every error that reaches this layer should already be classified).
func writeError(c *gin.Context, err error) {
	le, ok := err.(*llmerrors.Error)
	if !ok {
		c.JSON(http.StatusInternalServerError, errorBody{Error: errorDetail{Message: err.Error(), Type: "internal_error"}})
		return
	}
	c.JSON(le.Kind.HTTPStatus(), errorBody{Error: errorDetail{Message: le.Message, Type: le.WireTypeOrKind()}})
}

// sseWriter frames successive JSON payloads as Server-Sent Events, flushing
// after each one, and emits the terminal "[DONE]" sentinel from done(). It
// mirrors the teacher's openai_handler.go SSE loop (data: %s\n\n + Flush).
type sseWriter struct {
	c *gin.Context
}

func newSSEWriter(c *gin.Context) *sseWriter {
	c.Writer.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	return &sseWriter{c: c}
}

func (w *sseWriter) writeJSON(payload []byte) {
	fmt.Fprintf(w.c.Writer, "data: %s\n\n", payload)
	w.c.Writer.Flush()
}

// writeNamedEvent frames an SSE event with an explicit "event:" line, used
// by dialects (Anthropic) whose clients dispatch on event name rather than
// sniffing the payload's own "type" field.
func (w *sseWriter) writeNamedEvent(event string, payload []byte) {
	fmt.Fprintf(w.c.Writer, "event: %s\ndata: %s\n\n", event, payload)
	w.c.Writer.Flush()
}

func (w *sseWriter) done() {
	fmt.Fprint(w.c.Writer, "data: [DONE]\n\n")
	w.c.Writer.Flush()
}
