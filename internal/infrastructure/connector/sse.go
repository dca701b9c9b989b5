package connector

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/llmgateway/proxy/internal/domain/canon"
	"github.com/llmgateway/proxy/internal/domain/translate"
)

// idleTimeout bounds how long the stream reader will wait for the next
// byte before treating the connection as stalled — L2 of the three-tier
// termination policy below.
const idleTimeout = 60 * time.Second

var errIdleTimeout = fmt.Errorf("connector: SSE read idle timeout")

// timedReader wraps an io.Reader and applies a per-Read deadline, adapted
// from infrastructure/llm/openai/sse.go's timedReader.
type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()

	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errIdleTimeout
	}
}

func isIdleTimeoutErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SSE read idle timeout")
}

// parseSSE reads an SSE body, decoding each "data: " line through
// translator.FromWireStreamChunk and delivering chunks on out. It
// implements the three-tier termination policy the teacher documents:
//
//	L1: stop as soon as a choice carries a non-nil finish_reason — don't
//	    wait for a literal "[DONE]" event, which not every dialect sends.
//	L2: an idle read timeout (idleTimeout) detects a stalled connection.
//	L3: ctx cancellation is checked every line and force-closes the body
//	    via the watchdog goroutine the caller launches around this call.
func parseSSE(ctx context.Context, body io.Reader, translator translate.Translator, out chan<- canon.StreamChunk, logger *zap.Logger) error {
	tReader := &timedReader{r: body, timeout: idleTimeout}
	scanner := bufio.NewScanner(tReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return nil
		}

		chunks, err := translator.FromWireStreamChunk([]byte(data))
		if err != nil {
			logger.Debug("skip unparseable SSE chunk", zap.Error(err))
			continue
		}

		terminal := false
		for _, c := range chunks {
			out <- c
			for _, choice := range c.Choices {
				if choice.FinishReason != nil {
					terminal = true
				}
			}
		}
		if terminal {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		if isIdleTimeoutErr(err) {
			logger.Warn("SSE stream idle timeout, API stalled", zap.Duration("idle_timeout", idleTimeout))
			return nil
		}
		return fmt.Errorf("connector: SSE scan error: %w", err)
	}
	return nil
}

// watchStreamCancellation force-closes closer once ctx is canceled or done
// is closed, whichever comes first — L3 of the termination policy,
// adapted from the teacher's per-provider "context cancellation watchdog"
// goroutine in GenerateStream.
func watchStreamCancellation(ctx context.Context, closer io.Closer, done <-chan struct{}, logger *zap.Logger) {
	select {
	case <-ctx.Done():
		logger.Info("context canceled, force-closing SSE stream", zap.Error(ctx.Err()))
		closer.Close()
	case <-done:
	}
}
