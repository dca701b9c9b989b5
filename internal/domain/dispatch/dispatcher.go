package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/llmgateway/proxy/internal/domain/canon"
	"github.com/llmgateway/proxy/internal/domain/llmerrors"
)

// Connector is the narrow surface the dispatcher needs from a backend
// connector. Concrete implementations live under
// internal/infrastructure/connector; the dispatcher never imports them
// directly, avoiding a domain -> infrastructure dependency.
type Connector interface {
	ChatCompletion(ctx context.Context, keyName string, req *canon.ChatRequest) (*canon.ChatResponse, error)
	ChatCompletionStream(ctx context.Context, keyName string, req *canon.ChatRequest) (<-chan canon.StreamChunk, error)
}

// ConnectorRegistry resolves a backend name to its Connector.
type ConnectorRegistry interface {
	Lookup(backend string) (Connector, bool)
}

// RateLimiter gates one attempt before it is sent. allowed is false when
// the attempt must be skipped (not failed outright) because its scope is
// currently exhausted; retryAfter is advisory.
type RateLimiter interface {
	Allow(backend, keyName string) (allowed bool, retryAfter time.Duration)
}

// CredentialGate reports whether a (backend, key) pair is currently usable,
// letting the dispatcher skip attempts whose credential is mid-failure
// (the credential manager's circuit breaker) without spending a real call.
type CredentialGate interface {
	Allow(backend, keyName string) bool
	RecordOutcome(backend, keyName string, success bool)
}

// AttemptRecord is one logged attempt, successful or not, for observability
// and for the end-to-end AttemptLog surfaced in diagnostics.
type AttemptRecord struct {
	Attempt  Attempt
	Err      *llmerrors.Error
	Skipped  bool
	SkipWhy  string
	Duration time.Duration
}

// Dispatcher walks an attempt sequence, stopping at the first success or
// the first failover-ineligible error, and otherwise exhausting every
// attempt before returning the last error.
type Dispatcher struct {
	connectors ConnectorRegistry
	limiter    RateLimiter
	gate       CredentialGate
	logger     *zap.Logger
	nowFn      func() time.Time
}

// NewDispatcher wires a Dispatcher from its collaborators.
func NewDispatcher(connectors ConnectorRegistry, limiter RateLimiter, gate CredentialGate, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{connectors: connectors, limiter: limiter, gate: gate, logger: logger, nowFn: time.Now}
}

// Dispatch runs req against attempts in order. It returns the response from
// the first successful attempt, or a failure describing the whole
// sequence if every attempt was skipped or failed.
func (d *Dispatcher) Dispatch(ctx context.Context, attempts []Attempt, req *canon.ChatRequest) (*canon.ChatResponse, []AttemptRecord, error) {
	if len(attempts) == 0 {
		return nil, nil, llmerrors.New(llmerrors.Validation, "no attempt produced a (backend, model, key) triple", "", req.Model)
	}

	var log []AttemptRecord
	var lastErr *llmerrors.Error

	for _, a := range attempts {
		rec := AttemptRecord{Attempt: a}

		if d.gate != nil && !d.gate.Allow(a.Backend, a.KeyName) {
			rec.Skipped, rec.SkipWhy = true, "credential unhealthy"
			log = append(log, rec)
			continue
		}
		if d.limiter != nil {
			if allowed, retryAfter := d.limiter.Allow(a.Backend, a.KeyName); !allowed {
				rec.Skipped, rec.SkipWhy = true, fmt.Sprintf("rate limited, retry after %s", retryAfter)
				log = append(log, rec)
				lastErr = &llmerrors.Error{Kind: llmerrors.RateLimit, Message: rec.SkipWhy, Backend: a.Backend, Model: a.Model, KeyName: a.KeyName, RetryAfter: int(retryAfter.Seconds())}
				continue
			}
		}

		connector, ok := d.connectors.Lookup(a.Backend)
		if !ok {
			rec.Skipped, rec.SkipWhy = true, "no connector registered for backend"
			log = append(log, rec)
			continue
		}

		attemptReq := *req
		attemptReq.Model = a.Model

		start := d.nowFn()
		resp, err := connector.ChatCompletion(ctx, a.KeyName, &attemptReq)
		rec.Duration = d.nowFn().Sub(start)

		if err != nil {
			classified := classify(err, a)
			rec.Err = classified
			log = append(log, rec)
			lastErr = classified
			if d.gate != nil {
				d.gate.RecordOutcome(a.Backend, a.KeyName, false)
			}
			if d.logger != nil {
				d.logger.Warn("dispatch attempt failed",
					zap.String("backend", a.Backend), zap.String("model", a.Model),
					zap.Error(err))
			}
			if !classified.Kind.FailoverEligible() {
				return nil, log, classified
			}
			continue
		}

		log = append(log, rec)
		if d.gate != nil {
			d.gate.RecordOutcome(a.Backend, a.KeyName, true)
		}
		return resp, log, nil
	}

	if lastErr != nil {
		return nil, log, lastErr
	}
	return nil, log, llmerrors.New(llmerrors.UpstreamTransient, "every attempt was skipped", "", req.Model)
}

// DispatchStream mirrors Dispatch for the streaming path. Only the first
// successfully opened stream is returned; once streaming has started, a
// mid-stream error is the caller's responsibility to classify (the stream
// itself can only fail after headers have already committed in most
// transports, so failover cannot happen transparently past that point).
func (d *Dispatcher) DispatchStream(ctx context.Context, attempts []Attempt, req *canon.ChatRequest) (<-chan canon.StreamChunk, []AttemptRecord, error) {
	if len(attempts) == 0 {
		return nil, nil, llmerrors.New(llmerrors.Validation, "no attempt produced a (backend, model, key) triple", "", req.Model)
	}

	var log []AttemptRecord
	var lastErr *llmerrors.Error

	for _, a := range attempts {
		rec := AttemptRecord{Attempt: a}

		if d.gate != nil && !d.gate.Allow(a.Backend, a.KeyName) {
			rec.Skipped, rec.SkipWhy = true, "credential unhealthy"
			log = append(log, rec)
			continue
		}
		if d.limiter != nil {
			if allowed, retryAfter := d.limiter.Allow(a.Backend, a.KeyName); !allowed {
				rec.Skipped, rec.SkipWhy = true, fmt.Sprintf("rate limited, retry after %s", retryAfter)
				log = append(log, rec)
				lastErr = &llmerrors.Error{Kind: llmerrors.RateLimit, Message: rec.SkipWhy, Backend: a.Backend, Model: a.Model, KeyName: a.KeyName, RetryAfter: int(retryAfter.Seconds())}
				continue
			}
		}

		connector, ok := d.connectors.Lookup(a.Backend)
		if !ok {
			rec.Skipped, rec.SkipWhy = true, "no connector registered for backend"
			log = append(log, rec)
			continue
		}

		attemptReq := *req
		attemptReq.Model = a.Model

		stream, err := connector.ChatCompletionStream(ctx, a.KeyName, &attemptReq)
		if err != nil {
			classified := classify(err, a)
			rec.Err = classified
			log = append(log, rec)
			lastErr = classified
			if d.gate != nil {
				d.gate.RecordOutcome(a.Backend, a.KeyName, false)
			}
			if !classified.Kind.FailoverEligible() {
				return nil, log, classified
			}
			continue
		}

		log = append(log, rec)
		if d.gate != nil {
			d.gate.RecordOutcome(a.Backend, a.KeyName, true)
		}
		return stream, log, nil
	}

	if lastErr != nil {
		return nil, log, lastErr
	}
	return nil, log, llmerrors.New(llmerrors.UpstreamTransient, "every attempt was skipped", "", req.Model)
}

func classify(err error, a Attempt) *llmerrors.Error {
	if le, ok := err.(*llmerrors.Error); ok {
		return le
	}
	wrapped := llmerrors.Wrap(llmerrors.UpstreamTransient, err, a.Backend, a.Model)
	wrapped.KeyName = a.KeyName
	return wrapped
}
