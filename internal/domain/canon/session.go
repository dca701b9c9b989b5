package canon

import "time"

// FailoverPolicy selects how a FailoverRoute's elements and per-backend keys
// are combined into an attempt sequence. See dispatch.BuildAttempts.
type FailoverPolicy string

const (
	PolicyK  FailoverPolicy = "k"  // single element, all keys
	PolicyM  FailoverPolicy = "m"  // all elements, first key only
	PolicyKM FailoverPolicy = "km" // full cross product
	PolicyMK FailoverPolicy = "mk" // round-robin by key index across elements
)

// RouteElement is one (backend, model) pair within a FailoverRoute.
type RouteElement struct {
	Backend string
	Model   string
}

// FailoverRoute is a named, ordered list of backend/model elements with a
// policy dictating how keys and elements are tried.
type FailoverRoute struct {
	Name     string
	Policy   FailoverPolicy
	Elements []RouteElement
}

// OneoffRoute overrides attempt expansion for exactly one request, then is
// cleared on consumption (success or final failure).
type OneoffRoute struct {
	Backend string
	Model   string
}

// ReasoningSettings controls per-session reasoning-mode defaults applied by
// the "reasoning" command family.
type ReasoningSettings struct {
	Effort         *ReasoningEffort
	ThinkingBudget *int
	Temperature    *float64
	TopP           *float64
	PromptPrefix   string
	PromptSuffix   string
}

// LoopDetectionSettings configures the content loop detector middleware.
type LoopDetectionSettings struct {
	Enabled        bool
	MinPatternLen  int
	MaxPatternLen  int
	MinRepetitions int
}

// ToolLoopMode selects the action taken once a tool-call loop trips.
type ToolLoopMode string

const (
	ToolLoopBlock          ToolLoopMode = "block"
	ToolLoopWarn           ToolLoopMode = "warn"
	ToolLoopChanceThenBlock ToolLoopMode = "chance_then_block"
)

// ToolLoopSettings configures the tool-call loop detector middleware.
type ToolLoopSettings struct {
	Enabled            bool
	MaxRepeats         int
	TTLSeconds         int
	Mode               ToolLoopMode
	SimilarityThreshold float64
}

// SessionState is the immutable per-session configuration snapshot.
// Mutation never happens in place: the command engine and the gateway
// produce a new SessionState value and the session store swaps it in under
// the session's lock.
type SessionState struct {
	BackendOverride *string
	ModelOverride   *string
	Project         *string
	InteractiveMode bool
	CommandPrefix   string

	FailoverRoutes map[string]FailoverRoute

	Reasoning ReasoningSettings

	LoopDetection     LoopDetectionSettings
	ToolLoopDetection ToolLoopSettings

	OneoffRoute *OneoffRoute
}

// DefaultSessionState returns the baseline state assigned to a brand-new
// session, matching the defaults documented in the data model.
func DefaultSessionState() SessionState {
	return SessionState{
		CommandPrefix:  "!/",
		FailoverRoutes: map[string]FailoverRoute{},
		LoopDetection: LoopDetectionSettings{
			Enabled:        true,
			MinPatternLen:  3,
			MaxPatternLen:  64,
			MinRepetitions: 3,
		},
		ToolLoopDetection: ToolLoopSettings{
			Enabled:             true,
			MaxRepeats:          3,
			TTLSeconds:          60,
			Mode:                ToolLoopChanceThenBlock,
			SimilarityThreshold: 0.9,
		},
	}
}

// Clone returns a deep-enough copy of s so that callers may mutate maps and
// pointer fields on the result without affecting s. Used by the command
// engine to build the "next" state from the "current" one.
func (s SessionState) Clone() SessionState {
	out := s
	out.FailoverRoutes = make(map[string]FailoverRoute, len(s.FailoverRoutes))
	for k, v := range s.FailoverRoutes {
		elems := make([]RouteElement, len(v.Elements))
		copy(elems, v.Elements)
		v.Elements = elems
		out.FailoverRoutes[k] = v
	}
	if s.OneoffRoute != nil {
		r := *s.OneoffRoute
		out.OneoffRoute = &r
	}
	return out
}

// Session is one conversation's durable state, owned exclusively by the
// session store's map. A Session value is only ever read or replaced while
// holding that session's stripe lock.
type Session struct {
	ID              string
	State           SessionState
	CreatedUnix     int64
	LastTouchedUnix int64
	History         []HistoryEntry
}

// HistoryEntry is one bounded ring-buffer record of a past exchange, kept
// only for in-process diagnostics; it is never persisted across restarts
// by default (see spec Open Questions).
type HistoryEntry struct {
	At      time.Time
	Request string
	Summary string
}
