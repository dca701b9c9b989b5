// Package application wires every domain and infrastructure collaborator
// into the single orchestration entry point a frontend adapter calls:
// Gateway.ProcessChat / ProcessChatStream. It plays the role the teacher's
// internal/application.App played for the Telegram/agent-loop wiring, but
// the proxy's per-request flow is far narrower: resolve session, run
// in-band commands, resolve an attempt sequence, dispatch, and run the
// result through a fresh response pipeline.
package application

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llmgateway/proxy/internal/domain/canon"
	"github.com/llmgateway/proxy/internal/domain/command"
	"github.com/llmgateway/proxy/internal/domain/dispatch"
	"github.com/llmgateway/proxy/internal/domain/llmerrors"
	"github.com/llmgateway/proxy/internal/domain/pipeline"
	"github.com/llmgateway/proxy/internal/domain/session"
	"github.com/llmgateway/proxy/internal/infrastructure/audit"
	"github.com/llmgateway/proxy/internal/infrastructure/credential"
	"github.com/llmgateway/proxy/internal/infrastructure/metrics"
	"github.com/llmgateway/proxy/pkg/safego"
)

// Gateway is the process-wide orchestrator. One instance is built at
// startup in cmd/llmgatewayd and shared by every frontend adapter goroutine;
// all of its collaborators are themselves safe for concurrent use.
type Gateway struct {
	sessions   *session.Store
	engine     *command.Engine
	creds      *credential.Manager
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.Registry
	audit      *audit.Writer
	logger     *zap.Logger

	defaultBackend string
	backendDialect map[string]string // backend -> dialect, for metrics labeling only
	jsonRepair     pipeline.JSONRepairConfig
}

// New builds a Gateway from its collaborators. backendDialect maps each
// configured backend name to the dialect its connector speaks, used only to
// label request metrics; dispatch itself never needs it. jsonRepair is
// config-gated per spec: an empty/disabled JSONRepairConfig skips the stage
// entirely in newPipeline.
func New(
	sessions *session.Store,
	engine *command.Engine,
	creds *credential.Manager,
	dispatcher *dispatch.Dispatcher,
	metricsReg *metrics.Registry,
	auditWriter *audit.Writer,
	logger *zap.Logger,
	defaultBackend string,
	backendDialect map[string]string,
	jsonRepair pipeline.JSONRepairConfig,
) *Gateway {
	return &Gateway{
		sessions:       sessions,
		engine:         engine,
		creds:          creds,
		dispatcher:     dispatcher,
		metrics:        metricsReg,
		audit:          auditWriter,
		logger:         logger,
		defaultBackend: defaultBackend,
		backendDialect: backendDialect,
		jsonRepair:     jsonRepair,
	}
}

// Outcome bundles everything a frontend adapter needs to render a response:
// the command results (to surface as an assistant message or a side
// channel) and the attempt log (for diagnostics).
type Outcome struct {
	CommandResults []command.Result
	Attempts       []dispatch.AttemptRecord
}

// ProcessChat runs one non-streaming chat completion end to end: command
// processing, attempt resolution, dispatch, and the response pipeline. When
// the trailing message is command-only (spec.md §4.1), it never dispatches
// upstream and instead returns a synthesized assistant response built from
// the command results.
func (g *Gateway) ProcessChat(ctx context.Context, sessionID string, req *canon.ChatRequest) (*canon.ChatResponse, Outcome, error) {
	outcome, attempts, commandOnly, err := g.prepare(ctx, sessionID, req)
	if err != nil {
		return nil, outcome, err
	}

	if commandOnly {
		resp, err := synthesizeCommandResponse(req.Model, outcome.CommandResults)
		if err != nil {
			g.writeAuditFor(sessionID, req, "", audit.DirectionInboundResponse, 0, err)
			return nil, outcome, err
		}
		g.writeAuditFor(sessionID, req, "", audit.DirectionInboundResponse, responseLength(resp), nil)
		return resp, outcome, nil
	}

	dialect := g.backendDialect[attempts.consumedBackend()]
	start := time.Now()
	resp, log, err := g.dispatcher.Dispatch(ctx, attempts.list, req)
	out := Outcome{CommandResults: outcome.CommandResults, Attempts: log}
	g.recordDispatchMetrics(log, dialect, time.Since(start), err == nil)

	if err != nil {
		g.writeAuditFor(sessionID, req, attempts.consumedBackend(), audit.DirectionInboundResponse, 0, err)
		return nil, out, err
	}

	pl := g.newPipeline(attempts.state)
	resp, err = pl.RunResponse(ctx, resp)
	if err != nil {
		return nil, out, err
	}

	g.writeAuditFor(sessionID, req, attempts.consumedBackend(), audit.DirectionInboundResponse, responseLength(resp), nil)
	return resp, out, nil
}

// ProcessChatStream mirrors ProcessChat for the streaming path. The
// returned channel has already been run through the per-request pipeline;
// callers only need to frame each chunk for their wire format. A
// command-only turn never dispatches upstream: it returns a single
// synthesized chunk carrying the command results, then closes the channel.
func (g *Gateway) ProcessChatStream(ctx context.Context, sessionID string, req *canon.ChatRequest) (<-chan canon.StreamChunk, Outcome, error) {
	outcome, attempts, commandOnly, err := g.prepare(ctx, sessionID, req)
	if err != nil {
		return nil, outcome, err
	}

	if commandOnly {
		resp, err := synthesizeCommandResponse(req.Model, outcome.CommandResults)
		if err != nil {
			g.writeAuditFor(sessionID, req, "", audit.DirectionStreamEnd, 0, err)
			return nil, outcome, err
		}
		g.writeAuditFor(sessionID, req, "", audit.DirectionStreamStart, 0, nil)
		out := make(chan canon.StreamChunk, 1)
		out <- synthesizedChunk(resp)
		close(out)
		g.writeAuditFor(sessionID, req, "", audit.DirectionStreamEnd, responseLength(resp), nil)
		return out, outcome, nil
	}

	dialect := g.backendDialect[attempts.consumedBackend()]
	start := time.Now()
	stream, log, err := g.dispatcher.DispatchStream(ctx, attempts.list, req)
	out := Outcome{CommandResults: outcome.CommandResults, Attempts: log}
	g.recordDispatchMetrics(log, dialect, time.Since(start), err == nil)

	if err != nil {
		g.writeAuditFor(sessionID, req, attempts.consumedBackend(), audit.DirectionStreamEnd, 0, err)
		return nil, out, err
	}

	g.writeAuditFor(sessionID, req, attempts.consumedBackend(), audit.DirectionStreamStart, 0, nil)
	pl := g.newPipeline(attempts.state)
	return g.pipeStream(ctx, sessionID, pl, stream), out, nil
}

// resolvedAttempts bundles the attempt sequence with the session state
// snapshot it was derived from, so the response pipeline can be built from
// the same settings the request was dispatched under.
type resolvedAttempts struct {
	list  []dispatch.Attempt
	state canon.SessionState
}

func (r resolvedAttempts) consumedBackend() string {
	if len(r.list) == 0 {
		return ""
	}
	return r.list[0].Backend
}

// prepare runs in-band command processing under the session's stripe lock,
// resolves the attempt sequence from the resulting state, and applies
// session-level reasoning overrides to req. It never touches the network.
// When the trailing message is command-only, it returns immediately with
// commandOnly=true and a zero resolvedAttempts: no session override, freeze,
// or attempt resolution runs, since none of it matters to a turn that will
// never dispatch.
func (g *Gateway) prepare(ctx context.Context, sessionID string, req *canon.ChatRequest) (Outcome, resolvedAttempts, bool, error) {
	idx := req.LastUserMessageIndex()

	var commandResults []command.Result
	var state canon.SessionState
	var commandOnly bool
	var oneoffConsumed bool

	g.sessions.WithLock(sessionID, func(sess *canon.Session) {
		if idx >= 0 && g.engine != nil {
			readState := func() canon.SessionState { return sess.State }
			writeState := func(next canon.SessionState) { sess.State = next }

			result := g.engine.Process(req.Messages[idx], readState, writeState)
			req.Messages[idx].Text = result.StrippedText
			commandResults = result.Results
			commandOnly = result.CommandOnly
		}
		state = sess.State
	})

	if commandOnly {
		return Outcome{CommandResults: commandResults}, resolvedAttempts{}, true, nil
	}

	applySessionOverrides(req, state)

	if err := req.Freeze(); err != nil {
		return Outcome{CommandResults: commandResults}, resolvedAttempts{}, false, llmerrors.New(llmerrors.Validation, err.Error(), "", req.Model)
	}

	keysByBackend := g.keysByBackend()
	attempts, oneoff := resolveAttempts(req.Model, state, g.defaultBackend, keysByBackend)
	oneoffConsumed = oneoff

	if oneoffConsumed {
		g.sessions.WithLock(sessionID, func(sess *canon.Session) {
			next := sess.State.Clone()
			next.OneoffRoute = nil
			sess.State = next
		})
	}

	if len(attempts) == 0 {
		return Outcome{CommandResults: commandResults}, resolvedAttempts{}, false, llmerrors.New(llmerrors.Validation, fmt.Sprintf("no backend/key available to resolve model %q", req.Model), "", req.Model)
	}

	resolved := resolvedAttempts{list: attempts, state: state}
	g.writeAuditFor(sessionID, req, resolved.consumedBackend(), audit.DirectionOutboundRequest, requestLength(req), nil)
	return Outcome{CommandResults: commandResults}, resolved, false, nil
}

// synthesizeCommandResponse builds the assistant-role ChatResponse returned
// for a command-only turn: a concatenation of every command result's
// message, finish_reason stop. A command_only turn whose results produced no
// text at all (every command succeeded with an empty message) is an
// error per spec.md §4.1 ("command failures do not fail the overall request
// unless command_only and no textual response was generated"), reported
// with wire type "command_error".
func synthesizeCommandResponse(model string, results []command.Result) (*canon.ChatResponse, error) {
	var text strings.Builder
	for _, r := range results {
		if r.Message == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n")
		}
		text.WriteString(r.Message)
	}

	if text.Len() == 0 {
		err := llmerrors.New(llmerrors.Validation, "command produced no response", "", model)
		err.WireType = "command_error"
		return nil, err
	}

	return &canon.ChatResponse{
		ID:          "cmd-" + uuid.NewString(),
		CreatedUnix: time.Now().Unix(),
		Model:       model,
		Choices: []canon.Choice{{
			Index:        0,
			Message:      canon.Message{Role: canon.RoleAssistant, Text: text.String()},
			FinishReason: canon.FinishStop,
		}},
	}, nil
}

// synthesizedChunk wraps a synthesized ChatResponse as the single streamed
// chunk returned for a command-only turn.
func synthesizedChunk(resp *canon.ChatResponse) canon.StreamChunk {
	finish := resp.Choices[0].FinishReason
	return canon.StreamChunk{
		ID:          resp.ID,
		CreatedUnix: resp.CreatedUnix,
		Model:       resp.Model,
		Choices: []canon.StreamChoice{{
			Index:        0,
			Delta:        canon.Delta{Role: resp.Choices[0].Message.Role, Content: resp.Choices[0].Message.Text},
			FinishReason: &finish,
		}},
	}
}

// applySessionOverrides copies session-level reasoning defaults onto req
// wherever the request did not already specify its own value; an explicit
// per-request field always wins over the session default.
func applySessionOverrides(req *canon.ChatRequest, state canon.SessionState) {
	if req.Temperature == nil && state.Reasoning.Temperature != nil {
		req.Temperature = state.Reasoning.Temperature
	}
	if req.TopP == nil && state.Reasoning.TopP != nil {
		req.TopP = state.Reasoning.TopP
	}
	if req.ReasoningEffort == nil && state.Reasoning.Effort != nil {
		req.ReasoningEffort = state.Reasoning.Effort
	}
	if req.ThinkingBudget == nil && state.Reasoning.ThinkingBudget != nil {
		req.ThinkingBudget = state.Reasoning.ThinkingBudget
	}
	if state.Reasoning.PromptPrefix != "" || state.Reasoning.PromptSuffix != "" {
		if idx := req.LastUserMessageIndex(); idx >= 0 {
			req.Messages[idx].Text = state.Reasoning.PromptPrefix + req.Messages[idx].Text + state.Reasoning.PromptSuffix
		}
	}
}

// resolveAttempts implements the model-resolution rules from the external
// interface section: a session-defined one-off route takes priority, then
// a named failover route, then an explicit "backend:model" pair, then the
// session's backend/model overrides layered onto the default backend.
func resolveAttempts(reqModel string, state canon.SessionState, defaultBackend string, keysByBackend map[string][]string) ([]dispatch.Attempt, bool) {
	if state.OneoffRoute != nil {
		return dispatch.BuildOneoffAttempts(*state.OneoffRoute, keysByBackend), true
	}

	if route, ok := state.FailoverRoutes[reqModel]; ok {
		return dispatch.BuildAttempts(route, keysByBackend), false
	}

	backend, model := splitBackendModel(reqModel)
	if backend == "" {
		if state.BackendOverride != nil {
			backend = *state.BackendOverride
		} else {
			backend = defaultBackend
		}
	}
	if state.ModelOverride != nil {
		model = *state.ModelOverride
	}

	route := canon.FailoverRoute{
		Policy:   canon.PolicyK,
		Elements: []canon.RouteElement{{Backend: backend, Model: model}},
	}
	return dispatch.BuildAttempts(route, keysByBackend), false
}

func splitBackendModel(raw string) (backend, model string) {
	if i := strings.IndexByte(raw, ':'); i >= 0 {
		return raw[:i], raw[i+1:]
	}
	return "", raw
}

func (g *Gateway) keysByBackend() map[string][]string {
	out := make(map[string][]string, len(g.backendDialect))
	for backend := range g.backendDialect {
		out[backend] = g.creds.Names(backend)
	}
	return out
}

// newPipeline assembles a fresh Pipeline from the session's current loop-
// detection and tool-loop settings. A fresh instance per request is
// required: loop detectors accumulate per-stream state in Reset()-cleared
// fields, and two concurrent requests on the same session must never share
// one detector's accumulated window.
func (g *Gateway) newPipeline(state canon.SessionState) *pipeline.Pipeline {
	pl := pipeline.New()
	if state.LoopDetection.Enabled {
		pl.Use(pipeline.NewContentLoopDetector(state.LoopDetection))
	}
	if state.ToolLoopDetection.Enabled {
		pl.Use(pipeline.NewToolCallLoopDetector(state.ToolLoopDetection, g.logger))
	}
	if g.jsonRepair.Enabled {
		pl.Use(pipeline.NewJSONRepairMiddleware(g.jsonRepair))
	}
	return pl
}

// pipeStream runs every chunk of in through pl, forwarding to the returned
// channel until in closes or pl signals Terminate. On Terminate, the
// upstream producer is drained in the background (via safego.Go) so it can
// finish releasing its connection even though nobody is reading its output
// anymore.
func (g *Gateway) pipeStream(ctx context.Context, sessionID string, pl *pipeline.Pipeline, in <-chan canon.StreamChunk) <-chan canon.StreamChunk {
	out := make(chan canon.StreamChunk)

	safego.Go(g.logger, "gateway-pipe-stream", func() {
		defer close(out)
		pl.ResetAll()

		terminated := false
		chunkCount := 0
		for chunk := range in {
			if terminated {
				continue // drain without forwarding once a detector has tripped
			}
			chunkCount++

			processed, verdict, err := pl.RunStreamChunk(ctx, chunk)
			if err != nil {
				g.logger.Warn("pipeline stage failed on stream chunk", zap.String("session_id", sessionID), zap.Error(err))
				terminated = true
				continue
			}

			select {
			case out <- processed:
			case <-ctx.Done():
				terminated = true
				continue
			}

			if verdict == pipeline.Terminate {
				terminated = true
			}
		}
		g.writeAudit(sessionID, nil, audit.DirectionStreamEnd, chunkCount, nil)
	})

	return out
}

func (g *Gateway) recordDispatchMetrics(log []dispatch.AttemptRecord, dialect string, elapsed time.Duration, success bool) {
	if g.metrics == nil {
		return
	}
	for _, rec := range log {
		switch {
		case rec.Skipped && strings.HasPrefix(rec.SkipWhy, "rate limited"):
			g.metrics.RateLimited.WithLabelValues(rec.Attempt.Backend).Inc()
			g.metrics.DispatchAttempts.WithLabelValues(rec.Attempt.Backend, "skipped").Inc()
		case rec.Skipped:
			g.metrics.DispatchAttempts.WithLabelValues(rec.Attempt.Backend, "skipped").Inc()
		case rec.Err != nil:
			g.metrics.DispatchAttempts.WithLabelValues(rec.Attempt.Backend, "failed").Inc()
		default:
			g.metrics.DispatchAttempts.WithLabelValues(rec.Attempt.Backend, "success").Inc()
		}
	}

	outcome := "success"
	if !success {
		outcome = "failed"
	}
	g.metrics.RequestsTotal.WithLabelValues(dialect, outcome).Inc()
	g.metrics.RequestDuration.WithLabelValues(dialect).Observe(elapsed.Seconds())
}

func (g *Gateway) writeAudit(sessionID string, req *canon.ChatRequest, direction audit.Direction, length int, err error) {
	g.writeAuditFor(sessionID, req, "", direction, length, err)
}

func (g *Gateway) writeAuditFor(sessionID string, req *canon.ChatRequest, backend string, direction audit.Direction, length int, err error) {
	if g.audit == nil {
		return
	}
	rec := audit.Record{Direction: direction, SessionID: sessionID, ContentLength: length, Backend: backend}
	if req != nil {
		rec.Model = req.Model
	}
	if err != nil {
		rec.Payload = err.Error()
	}
	if writeErr := g.audit.Write(rec); writeErr != nil {
		g.logger.Warn("failed to write audit record", zap.Error(writeErr))
	}
}

func requestLength(req *canon.ChatRequest) int {
	b, err := json.Marshal(req.Messages)
	if err != nil {
		return 0
	}
	return len(b)
}

func responseLength(resp *canon.ChatResponse) int {
	if len(resp.Choices) == 0 {
		return 0
	}
	return len(resp.Choices[0].Message.Text)
}
