// Package pipeline implements the response middleware chain: a sequence of
// stages that inspect and may terminate a completed response or an
// in-flight stream before it reaches the frontend adapter. The chain
// contract itself is adapted from the teacher's
// internal/domain/service.MiddlewarePipeline (BeforeModel/AfterModel, run
// in registration order / reverse order); this package renames the hooks
// to OnResponse/OnStreamChunk since the proxy only ever post-processes
// upstream output, never mutates the outbound request.
package pipeline

import (
	"context"

	"github.com/llmgateway/proxy/internal/domain/canon"
)

// Verdict is the outcome of running one stream chunk through a middleware.
type Verdict int

const (
	// Pass forwards the chunk unchanged to the next stage.
	Pass Verdict = iota
	// Modified forwards the (possibly replaced) chunk returned by the stage.
	Modified
	// Terminate stops the stream after this chunk, as if upstream had sent
	// a finish_reason — used by loop detectors.
	Terminate
)

// Middleware is one response-pipeline stage. Implementations embed
// NoOpMiddleware and override only the methods they need.
type Middleware interface {
	Name() string
	// OnResponse runs once against a completed, non-streaming response.
	OnResponse(ctx context.Context, resp *canon.ChatResponse) (*canon.ChatResponse, error)
	// OnStreamChunk runs against each chunk of a streaming response, in
	// arrival order. Returning Terminate ends the stream early.
	OnStreamChunk(ctx context.Context, chunk canon.StreamChunk) (canon.StreamChunk, Verdict, error)
	// Reset clears any per-stream accumulated state. Called once at the
	// start of each new stream so a stage's detector state from a prior
	// request never leaks into the next one on the same goroutine/pipeline
	// instance.
	Reset()
}

// NoOpMiddleware is an embeddable pass-through default.
type NoOpMiddleware struct{}

func (NoOpMiddleware) OnResponse(_ context.Context, resp *canon.ChatResponse) (*canon.ChatResponse, error) {
	return resp, nil
}

func (NoOpMiddleware) OnStreamChunk(_ context.Context, chunk canon.StreamChunk) (canon.StreamChunk, Verdict, error) {
	return chunk, Pass, nil
}

func (NoOpMiddleware) Reset() {}

// Pipeline chains Middleware stages in registration order for both
// OnResponse and OnStreamChunk — unlike the teacher's before/after split,
// there is only one direction here since pipeline stages only see output
// flowing toward the client.
type Pipeline struct {
	stages []Middleware
}

// New builds an empty Pipeline.
func New() *Pipeline { return &Pipeline{} }

// Use appends stages, in order.
func (p *Pipeline) Use(stages ...Middleware) {
	p.stages = append(p.stages, stages...)
}

// Len reports how many stages are registered.
func (p *Pipeline) Len() int { return len(p.stages) }

// ResetAll clears every stage's per-stream state; call once per new stream.
func (p *Pipeline) ResetAll() {
	for _, s := range p.stages {
		s.Reset()
	}
}

// RunResponse passes resp through every stage in order.
func (p *Pipeline) RunResponse(ctx context.Context, resp *canon.ChatResponse) (*canon.ChatResponse, error) {
	var err error
	for _, s := range p.stages {
		resp, err = s.OnResponse(ctx, resp)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// RunStreamChunk passes chunk through every stage in order, short-circuiting
// as soon as a stage returns Terminate.
func (p *Pipeline) RunStreamChunk(ctx context.Context, chunk canon.StreamChunk) (canon.StreamChunk, Verdict, error) {
	verdict := Pass
	for _, s := range p.stages {
		var v Verdict
		var err error
		chunk, v, err = s.OnStreamChunk(ctx, chunk)
		if err != nil {
			return chunk, Pass, err
		}
		if v == Terminate {
			return chunk, Terminate, nil
		}
		if v == Modified {
			verdict = Modified
		}
	}
	return chunk, verdict, nil
}
