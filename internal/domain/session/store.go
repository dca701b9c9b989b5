// Package session owns the in-memory id->Session map. A single Store
// instance exclusively owns Session values; all read-modify-write access is
// serialized per session id via a striped lock, never a single global lock,
// per the concurrency model's "no global locks on the hot path" rule.
package session

import (
	"sync"
	"time"

	"github.com/llmgateway/proxy/internal/domain/canon"
)

const stripeCount = 64

type stripe struct {
	mu       sync.Mutex
	sessions map[string]*canon.Session
}

// Store is the process-wide session registry.
type Store struct {
	stripes [stripeCount]*stripe
	ttl     time.Duration
	nowFn   func() time.Time
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithTTL sets the idle-eviction window used by Evict. A zero TTL disables
// eviction.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock overrides the time source; used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.nowFn = now }
}

// NewStore creates an empty session store.
func NewStore(opts ...Option) *Store {
	s := &Store{nowFn: time.Now}
	for i := range s.stripes {
		s.stripes[i] = &stripe{sessions: make(map[string]*canon.Session)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) stripeFor(id string) *stripe {
	var h uint32
	for i := 0; i < len(id); i++ {
		h = h*31 + uint32(id[i])
	}
	return s.stripes[h%stripeCount]
}

// GetOrCreate returns the session for id, creating it with the default
// state if it does not yet exist.
func (s *Store) GetOrCreate(id string) *canon.Session {
	st := s.stripeFor(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	if sess, ok := st.sessions[id]; ok {
		return sess
	}
	now := s.nowFn().Unix()
	sess := &canon.Session{
		ID:              id,
		State:           canon.DefaultSessionState(),
		CreatedUnix:     now,
		LastTouchedUnix: now,
	}
	st.sessions[id] = sess
	return sess
}

// WithLock runs fn while holding id's stripe lock, giving the caller
// exclusive read-modify-write access to the session. This is the only
// sanctioned way to mutate a Session: it is what makes per-session command
// execution totally ordered with respect to dispatch (spec §5).
func (s *Store) WithLock(id string, fn func(sess *canon.Session)) {
	st := s.stripeFor(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[id]
	if !ok {
		now := s.nowFn().Unix()
		sess = &canon.Session{
			ID:              id,
			State:           canon.DefaultSessionState(),
			CreatedUnix:     now,
			LastTouchedUnix: now,
		}
		st.sessions[id] = sess
	}
	sess.LastTouchedUnix = s.nowFn().Unix()
	fn(sess)
}

// Remove deletes a session explicitly (e.g. via an admin command).
func (s *Store) Remove(id string) {
	st := s.stripeFor(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// EvictIdle removes sessions whose LastTouchedUnix is older than the
// configured TTL. Intended to be called periodically from a background
// goroutine launched with pkg/safego.Go.
func (s *Store) EvictIdle() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.nowFn().Add(-s.ttl).Unix()
	removed := 0
	for _, st := range s.stripes {
		st.mu.Lock()
		for id, sess := range st.sessions {
			if sess.LastTouchedUnix < cutoff {
				delete(st.sessions, id)
				removed++
			}
		}
		st.mu.Unlock()
	}
	return removed
}

// Snapshot returns a defensive copy of the id -> SessionState map, suitable
// for serializing to the optional on-disk snapshot file.
func (s *Store) Snapshot() map[string]canon.SessionState {
	out := make(map[string]canon.SessionState)
	for _, st := range s.stripes {
		st.mu.Lock()
		for id, sess := range st.sessions {
			out[id] = sess.State.Clone()
		}
		st.mu.Unlock()
	}
	return out
}

// Restore repopulates the store from a previously captured snapshot. Used
// only at startup; it does not merge with existing sessions.
func (s *Store) Restore(snapshot map[string]canon.SessionState) {
	now := s.nowFn().Unix()
	for id, state := range snapshot {
		st := s.stripeFor(id)
		st.mu.Lock()
		st.sessions[id] = &canon.Session{
			ID:              id,
			State:           state,
			CreatedUnix:     now,
			LastTouchedUnix: now,
		}
		st.mu.Unlock()
	}
}
