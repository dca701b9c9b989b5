package pipeline

import (
	"context"
	"testing"

	"github.com/llmgateway/proxy/internal/domain/canon"
)

type recordingMiddleware struct {
	NoOpMiddleware
	name string
	log  *[]string
}

func (m *recordingMiddleware) Name() string { return m.name }

func (m *recordingMiddleware) OnResponse(_ context.Context, resp *canon.ChatResponse) (*canon.ChatResponse, error) {
	*m.log = append(*m.log, m.name)
	return resp, nil
}

func TestPipeline_RunResponse_RunsStagesInOrder(t *testing.T) {
	var log []string
	p := New()
	p.Use(&recordingMiddleware{name: "a", log: &log}, &recordingMiddleware{name: "b", log: &log})

	resp := &canon.ChatResponse{}
	if _, err := p.RunResponse(context.Background(), resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(log) != 2 || log[0] != "a" || log[1] != "b" {
		t.Errorf("unexpected order: %v", log)
	}
}

type terminatingMiddleware struct{ NoOpMiddleware }

func (terminatingMiddleware) Name() string { return "terminator" }

func (terminatingMiddleware) OnStreamChunk(_ context.Context, chunk canon.StreamChunk) (canon.StreamChunk, Verdict, error) {
	return chunk, Terminate, nil
}

type panicIfCalledMiddleware struct{ NoOpMiddleware }

func (panicIfCalledMiddleware) Name() string { return "should-not-run" }

func (panicIfCalledMiddleware) OnStreamChunk(_ context.Context, chunk canon.StreamChunk) (canon.StreamChunk, Verdict, error) {
	panic("should not be reached after Terminate")
}

func TestPipeline_RunStreamChunk_ShortCircuitsOnTerminate(t *testing.T) {
	p := New()
	p.Use(terminatingMiddleware{}, panicIfCalledMiddleware{})

	_, v, err := p.RunStreamChunk(context.Background(), canon.StreamChunk{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != Terminate {
		t.Errorf("expected Terminate, got %v", v)
	}
}

func TestPipeline_ResetAll_CallsEveryStage(t *testing.T) {
	d1 := NewContentLoopDetector(defaultLoopCfg())
	d1.buffer = []byte("stale")
	p := New()
	p.Use(d1)
	p.ResetAll()
	if len(d1.buffer) != 0 {
		t.Error("expected ResetAll to clear stage state")
	}
}
