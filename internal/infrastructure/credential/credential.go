// Package credential owns the lifecycle of backend credentials: loading
// them from disk, validating them at startup, watching their files for
// changes, re-checking and refreshing OAuth expiry before each call, and
// reporting per-credential health to the dispatcher via a circuit breaker.
// The breaker is adapted from the teacher's infrastructure/llm.CircuitBreaker
// to guard one credential instead of one whole provider, with its
// thresholds tuned per credential kind (see NewCircuitBreakerForKind in
// circuit_breaker.go); the file-watch mechanism is adapted from
// infrastructure/plugin.Loader's fsnotify handling.
package credential

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind identifies how a Credential authenticates against its backend.
type Kind string

const (
	KindAPIKey Kind = "api_key"
	KindOAuth  Kind = "oauth"
	KindCert   Kind = "cert"
)

// Credential is one named secret bound to a backend. Secret material
// (Value, RefreshToken, CertPEM/KeyPEM) is never logged; only Name and
// Backend identify a credential in observability output.
type Credential struct {
	Name    string
	Backend string
	Kind    Kind

	Value string // api_key material, or oauth access token

	// OAuth fields, populated when Kind == KindOAuth.
	RefreshToken string
	ExpiresAt    time.Time

	// Cert fields, populated when Kind == KindCert.
	CertPath string
	KeyPath  string

	// OAuth refresh endpoint, populated when Kind == KindOAuth and the
	// credential is expected to self-refresh rather than just fail closed.
	TokenURL     string
	ClientID     string
	ClientSecret string

	SourcePath string // file this credential was loaded from, for reload
}

// Expired reports whether an OAuth credential's access token has passed
// its expiry. Non-OAuth credentials are never considered expired.
func (c Credential) Expired(now time.Time) bool {
	return c.Kind == KindOAuth && !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// ValidationError describes why a credential failed the startup pipeline.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("credential %q: %s", e.Name, e.Reason)
}

// Validate runs the structural checks every credential must pass before
// it may be used: non-empty key material, present cert/key files, and
// (for OAuth) a refresh token to recover from expiry.
func Validate(c Credential) error {
	switch c.Kind {
	case KindAPIKey:
		if c.Value == "" {
			return &ValidationError{Name: c.Name, Reason: "api_key value is empty"}
		}
	case KindOAuth:
		if c.Value == "" && c.RefreshToken == "" {
			return &ValidationError{Name: c.Name, Reason: "oauth credential has neither an access token nor a refresh token"}
		}
	case KindCert:
		if _, err := os.Stat(c.CertPath); err != nil {
			return &ValidationError{Name: c.Name, Reason: "cert file not found: " + c.CertPath}
		}
		if _, err := os.Stat(c.KeyPath); err != nil {
			return &ValidationError{Name: c.Name, Reason: "key file not found: " + c.KeyPath}
		}
	default:
		return &ValidationError{Name: c.Name, Reason: "unknown credential kind " + string(c.Kind)}
	}
	return nil
}

// entry bundles one credential with its health-tracking circuit breaker.
// mu guards cred and lastCheck, which the throttled expiry re-check in
// Manager.Allow mutates concurrently with reads from Get/Snapshot; breaker
// has its own independent locking.
type entry struct {
	mu        sync.Mutex
	cred      Credential
	breaker   *CircuitBreaker
	lastCheck time.Time
}

// defaultExpiryCheckInterval is the minimum time between throttled pre-call
// expiry re-checks for a single credential (spec.md §4.6: "a fast, throttled
// check (default min interval 30 s)").
const defaultExpiryCheckInterval = 30 * time.Second

// Manager owns every credential the gateway was configured with, keyed by
// (backend, name), and exposes the health surface the dispatcher consults
// before attempting a call.
type Manager struct {
	mu                  sync.RWMutex
	entries             map[string]map[string]*entry // backend -> name -> entry
	logger              *zap.Logger
	expiryCheckInterval time.Duration
	refresh             func(context.Context, Credential) (Credential, error)
}

// NewManager builds an empty credential manager. OAuth tokens refresh via
// RefreshOAuthToken by default; tests may swap Manager.refresh for a fake.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		entries:             make(map[string]map[string]*entry),
		logger:              logger,
		expiryCheckInterval: defaultExpiryCheckInterval,
		refresh:             RefreshOAuthToken,
	}
}

// Load validates and registers cred, replacing any prior credential of the
// same (backend, name) — the path taken both at startup and on file-watch
// reload. A fresh circuit breaker is created; reload after an operator fix
// deserves a clean health slate rather than inheriting the old failure
// count.
func (m *Manager) Load(cred Credential) error {
	if err := Validate(cred); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[cred.Backend] == nil {
		m.entries[cred.Backend] = make(map[string]*entry)
	}
	m.entries[cred.Backend][cred.Name] = &entry{cred: cred, breaker: NewCircuitBreakerForKind(cred.Kind)}
	return nil
}

// Remove drops a credential, e.g. because its file was deleted.
func (m *Manager) Remove(backend, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries[backend], name)
}

// Names returns the credential names configured for backend, in
// map iteration order — callers that need a stable order for round-robin
// policies should sort the result themselves.
func (m *Manager) Names(backend string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.entries[backend]))
	for name := range m.entries[backend] {
		names = append(names, name)
	}
	return names
}

// Get returns the credential registered under (backend, name).
func (m *Manager) Get(backend, name string) (Credential, bool) {
	m.mu.RLock()
	e, ok := m.entries[backend][name]
	m.mu.RUnlock()
	if !ok {
		return Credential{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cred, true
}

// Allow implements dispatch.CredentialGate: a credential is usable when it
// is not expired and its breaker is not tripped. Before answering, it runs
// the throttled pre-call expiry re-check from spec.md §4.6: at most once
// per expiryCheckInterval, an expired OAuth credential is reloaded from
// disk and, if still expired, refreshed.
func (m *Manager) Allow(backend, name string) bool {
	m.mu.RLock()
	e, ok := m.entries[backend][name]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	m.recheckExpiry(e)

	e.mu.Lock()
	expired := e.cred.Expired(time.Now())
	e.mu.Unlock()
	if expired {
		return false
	}
	return e.breaker.Allow()
}

// recheckExpiry runs the throttled expiry re-check for e, at most once per
// m.expiryCheckInterval. It only does work for an OAuth credential that is
// actually expired; everything else is a cheap timestamp comparison.
func (m *Manager) recheckExpiry(e *entry) {
	e.mu.Lock()
	due := time.Since(e.lastCheck) >= m.expiryCheckInterval
	if !due {
		e.mu.Unlock()
		return
	}
	e.lastCheck = time.Now()
	cred := e.cred
	e.mu.Unlock()

	if cred.Kind != KindOAuth || !cred.Expired(time.Now()) {
		return
	}

	if reloaded, err := RereadCredential(cred); err != nil {
		m.logWarn("credential disk reload failed", cred.Name, err)
	} else {
		cred = reloaded
	}

	if cred.Expired(time.Now()) {
		refreshed, err := m.refresh(context.Background(), cred)
		if err != nil {
			m.logWarn("credential refresh failed", cred.Name, err)
		} else {
			cred = refreshed
		}
	}

	e.mu.Lock()
	e.cred = cred
	e.mu.Unlock()
}

func (m *Manager) logWarn(msg, name string, err error) {
	if m.logger == nil {
		return
	}
	m.logger.Warn(msg, zap.String("name", name), zap.Error(err))
}

// RecordOutcome implements dispatch.CredentialGate.
func (m *Manager) RecordOutcome(backend, name string, success bool) {
	m.mu.RLock()
	e, ok := m.entries[backend][name]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if success {
		e.breaker.RecordSuccess()
	} else {
		e.breaker.RecordFailure()
	}
}

// AnyHealthy reports whether at least one credential across every backend
// is currently usable. Called once at startup: the gateway refuses to
// serve traffic if every configured credential is already unhealthy or
// failed validation.
func (m *Manager) AnyHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, byName := range m.entries {
		for _, e := range byName {
			e.mu.Lock()
			expired := e.cred.Expired(time.Now())
			e.mu.Unlock()
			if !expired && e.breaker.Allow() {
				return true
			}
		}
	}
	return false
}

// HealthSnapshot is a defensive, read-only view of one credential's state
// for observability endpoints.
type HealthSnapshot struct {
	Backend string
	Name    string
	State   CircuitState
	Detail  string // breaker.Describe(), e.g. cooldown remaining on an open breaker
	Expired bool
}

// Snapshot returns the health of every registered credential.
func (m *Manager) Snapshot() []HealthSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []HealthSnapshot
	for backend, byName := range m.entries {
		for name, e := range byName {
			e.mu.Lock()
			expired := e.cred.Expired(time.Now())
			e.mu.Unlock()
			out = append(out, HealthSnapshot{
				Backend: backend,
				Name:    name,
				State:   e.breaker.State(),
				Detail:  e.breaker.Describe(),
				Expired: expired,
			})
		}
	}
	return out
}
