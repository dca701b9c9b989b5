// Package dispatch builds and walks the ordered attempt sequence for one
// request: which (backend, model, credential) triples to try, and in what
// order, given a session's FailoverRoute and the credentials available for
// each backend. The walking itself (dispatcher.go) is grounded on the
// teacher's infrastructure/llm.Router.Generate loop, generalized from a
// flat provider list to the richer route/key attempt sequence the dispatch
// policies require.
package dispatch

import "github.com/llmgateway/proxy/internal/domain/canon"

// Attempt is one concrete (backend, model, credential) triple to try.
type Attempt struct {
	Backend  string
	Model    string
	KeyName  string
	Sequence int
}

// BuildAttempts expands route into an ordered Attempt slice according to
// its Policy. keysByBackend supplies the ordered, available credential
// names for each backend; a backend absent from the map or with an empty
// slice contributes no attempts.
//
//   - PolicyK: route has exactly one element; try every key for it.
//   - PolicyM: try every element, using only each backend's first key.
//   - PolicyKM: full cross product of elements x keys, element-major.
//   - PolicyMK: round-robin by key index across elements — all elements'
//     key[0], then all elements' key[1], and so on, skipping elements that
//     have run out of keys.
func BuildAttempts(route canon.FailoverRoute, keysByBackend map[string][]string) []Attempt {
	var attempts []Attempt
	switch route.Policy {
	case canon.PolicyK:
		if len(route.Elements) == 0 {
			return nil
		}
		elem := route.Elements[0]
		for _, key := range keysByBackend[elem.Backend] {
			attempts = append(attempts, Attempt{Backend: elem.Backend, Model: elem.Model, KeyName: key})
		}

	case canon.PolicyM:
		for _, elem := range route.Elements {
			keys := keysByBackend[elem.Backend]
			if len(keys) == 0 {
				continue
			}
			attempts = append(attempts, Attempt{Backend: elem.Backend, Model: elem.Model, KeyName: keys[0]})
		}

	case canon.PolicyKM:
		for _, elem := range route.Elements {
			for _, key := range keysByBackend[elem.Backend] {
				attempts = append(attempts, Attempt{Backend: elem.Backend, Model: elem.Model, KeyName: key})
			}
		}

	case canon.PolicyMK:
		maxKeys := 0
		for _, elem := range route.Elements {
			if n := len(keysByBackend[elem.Backend]); n > maxKeys {
				maxKeys = n
			}
		}
		for i := 0; i < maxKeys; i++ {
			for _, elem := range route.Elements {
				keys := keysByBackend[elem.Backend]
				if i >= len(keys) {
					continue
				}
				attempts = append(attempts, Attempt{Backend: elem.Backend, Model: elem.Model, KeyName: keys[i]})
			}
		}

	default:
		return nil
	}

	for i := range attempts {
		attempts[i].Sequence = i
	}
	return attempts
}

// BuildOneoffAttempts expands a one-off route override into the attempt
// sequence for a single request, trying every available key for that one
// backend/model pair before falling back to the session's named route (if
// any) is the caller's responsibility — a one-off route never itself
// chains into other elements.
func BuildOneoffAttempts(oneoff canon.OneoffRoute, keysByBackend map[string][]string) []Attempt {
	return BuildAttempts(canon.FailoverRoute{
		Policy:   canon.PolicyK,
		Elements: []canon.RouteElement{{Backend: oneoff.Backend, Model: oneoff.Model}},
	}, keysByBackend)
}
