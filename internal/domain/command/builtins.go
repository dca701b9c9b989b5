package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/llmgateway/proxy/internal/domain/canon"
)

// RegisterBuiltins adds the full built-in command set to r. Kept as a
// separate entry point (rather than inside NewRegistry) so tests can build
// a registry with only the commands under test.
func RegisterBuiltins(r *Registry) {
	r.Register(helpCommand{r: r})
	r.Register(helloCommand{})
	r.Register(pwdCommand{})
	r.Register(setCommand{})
	r.Register(unsetCommand{})
	r.Register(routeDefineCommand{})
	r.Register(routeAppendCommand{})
	r.Register(routePrependCommand{})
	r.Register(routeDeleteCommand{})
	r.Register(routeListCommand{})
	r.Register(onceCommand{})
	r.Register(reasoningCommand{})
}

func ok(name, msg string) Result  { return Result{Name: name, Message: msg} }
func fail(name string, err error) Result {
	return Result{Name: name, Err: err, Message: err.Error()}
}

// helpCommand lists every registered command name.
type helpCommand struct{ r *Registry }

func (helpCommand) Name() string { return "help" }

func (h helpCommand) Execute(Args, Capabilities) Result {
	names := make([]string, 0, len(h.r.commands))
	for n := range h.r.commands {
		names = append(names, n)
	}
	return ok("help", "available commands: "+strings.Join(names, ", "))
}

// helloCommand is a stateless liveness probe, useful for verifying the
// command prefix is configured correctly without touching any backend.
type helloCommand struct{}

func (helloCommand) Name() string { return "hello" }

func (helloCommand) Execute(Args, Capabilities) Result {
	return ok("hello", "hello from the gateway command engine")
}

// pwdCommand reports the session's currently active project, if any.
type pwdCommand struct{}

func (pwdCommand) Name() string { return "pwd" }

func (pwdCommand) Execute(_ Args, caps Capabilities) Result {
	st := caps.ReadState()
	if st.Project == nil {
		return ok("pwd", "no project set")
	}
	return ok("pwd", *st.Project)
}

// setCommand assigns any of backend, model, project, or temperature on the
// session state. Every recognized key in one invocation is applied, so
// "!/set(backend=a,model=b)" sets both; unrecognized keys are ignored, and
// the command fails when no recognized key is present.
type setCommand struct{}

func (setCommand) Name() string { return "set" }

func (setCommand) Execute(args Args, caps Capabilities) Result {
	st := caps.ReadState().Clone()
	applied := make([]string, 0, len(args))

	if v, has := args["backend"]; has {
		st.BackendOverride = &v
		applied = append(applied, "backend="+v)
	}
	if v, has := args["model"]; has {
		st.ModelOverride = &v
		applied = append(applied, "model="+v)
	}
	if v, has := args["project"]; has {
		st.Project = &v
		applied = append(applied, "project="+v)
	}
	if v, has := args["temperature"]; has {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fail("set", fmt.Errorf("invalid temperature %q: %w", v, err))
		}
		st.Reasoning.Temperature = &f
		applied = append(applied, "temperature="+v)
	}

	if len(applied) == 0 {
		return fail("set", fmt.Errorf("set requires one of backend, model, project, temperature"))
	}
	caps.WriteState(st)
	return ok("set", "set "+strings.Join(applied, ", "))
}

// unsetCommand clears previously set overrides. args keys name which
// fields to clear; an empty args list clears all of them.
type unsetCommand struct{}

func (unsetCommand) Name() string { return "unset" }

func (unsetCommand) Execute(args Args, caps Capabilities) Result {
	st := caps.ReadState().Clone()
	all := len(args) == 0
	cleared := make([]string, 0, 4)

	if all || hasKey(args, "backend") {
		st.BackendOverride = nil
		cleared = append(cleared, "backend")
	}
	if all || hasKey(args, "model") {
		st.ModelOverride = nil
		cleared = append(cleared, "model")
	}
	if all || hasKey(args, "project") {
		st.Project = nil
		cleared = append(cleared, "project")
	}
	if all || hasKey(args, "temperature") {
		st.Reasoning.Temperature = nil
		cleared = append(cleared, "temperature")
	}

	caps.WriteState(st)
	return ok("unset", "cleared "+strings.Join(cleared, ", "))
}

func hasKey(args Args, k string) bool {
	_, has := args[k]
	return has
}

// routeDefineCommand replaces (or creates) a named failover route wholesale.
// args: name (required), policy (k|m|km|mk, default "m"), elements as a
// semicolon-separated "backend/model" list, e.g.
// "!/route_define(name=primary,policy=km,elements=openai/gpt-4o;anthropic/claude-3-opus)".
type routeDefineCommand struct{}

func (routeDefineCommand) Name() string { return "route_define" }

func (routeDefineCommand) Execute(args Args, caps Capabilities) Result {
	name, hasName := args["name"]
	if !hasName || name == "" {
		return fail("route_define", fmt.Errorf("route_define requires name"))
	}
	elems, err := parseElements(args["elements"])
	if err != nil {
		return fail("route_define", err)
	}
	policy := canon.FailoverPolicy(args["policy"])
	if policy == "" {
		policy = canon.PolicyM
	}
	if !validPolicy(policy) {
		return fail("route_define", fmt.Errorf("unknown policy %q", policy))
	}

	st := caps.ReadState().Clone()
	st.FailoverRoutes[name] = canon.FailoverRoute{Name: name, Policy: policy, Elements: elems}
	caps.WriteState(st)
	return ok("route_define", fmt.Sprintf("defined route %q with %d element(s), policy %s", name, len(elems), policy))
}

// routeAppendCommand adds elements to the end of an existing route.
type routeAppendCommand struct{}

func (routeAppendCommand) Name() string { return "route_append" }

func (routeAppendCommand) Execute(args Args, caps Capabilities) Result {
	return mutateRoute("route_append", args, caps, func(r *canon.FailoverRoute, add []canon.RouteElement) {
		r.Elements = append(r.Elements, add...)
	})
}

// routePrependCommand adds elements to the front of an existing route.
type routePrependCommand struct{}

func (routePrependCommand) Name() string { return "route_prepend" }

func (routePrependCommand) Execute(args Args, caps Capabilities) Result {
	return mutateRoute("route_prepend", args, caps, func(r *canon.FailoverRoute, add []canon.RouteElement) {
		r.Elements = append(add, r.Elements...)
	})
}

func mutateRoute(name string, args Args, caps Capabilities, combine func(*canon.FailoverRoute, []canon.RouteElement)) Result {
	routeName, hasName := args["name"]
	if !hasName || routeName == "" {
		return fail(name, fmt.Errorf("%s requires name", name))
	}
	add, err := parseElements(args["elements"])
	if err != nil {
		return fail(name, err)
	}
	st := caps.ReadState().Clone()
	route, exists := st.FailoverRoutes[routeName]
	if !exists {
		return fail(name, fmt.Errorf("no such route %q", routeName))
	}
	combine(&route, add)
	st.FailoverRoutes[routeName] = route
	caps.WriteState(st)
	return ok(name, fmt.Sprintf("route %q now has %d element(s)", routeName, len(route.Elements)))
}

// routeDeleteCommand removes a named route entirely.
type routeDeleteCommand struct{}

func (routeDeleteCommand) Name() string { return "route_delete" }

func (routeDeleteCommand) Execute(args Args, caps Capabilities) Result {
	routeName, hasName := args["name"]
	if !hasName || routeName == "" {
		return fail("route_delete", fmt.Errorf("route_delete requires name"))
	}
	st := caps.ReadState().Clone()
	if _, exists := st.FailoverRoutes[routeName]; !exists {
		return fail("route_delete", fmt.Errorf("no such route %q", routeName))
	}
	delete(st.FailoverRoutes, routeName)
	caps.WriteState(st)
	return ok("route_delete", fmt.Sprintf("deleted route %q", routeName))
}

// routeListCommand reports the names of all defined failover routes.
type routeListCommand struct{}

func (routeListCommand) Name() string { return "route_list" }

func (routeListCommand) Execute(_ Args, caps Capabilities) Result {
	st := caps.ReadState()
	if len(st.FailoverRoutes) == 0 {
		return ok("route_list", "no routes defined")
	}
	names := make([]string, 0, len(st.FailoverRoutes))
	for n := range st.FailoverRoutes {
		names = append(names, n)
	}
	return ok("route_list", strings.Join(names, ", "))
}

// onceCommand sets a one-off route override consumed by the next dispatch
// only, then cleared regardless of outcome.
type onceCommand struct{}

func (onceCommand) Name() string { return "once" }

func (onceCommand) Execute(args Args, caps Capabilities) Result {
	backend, hasBackend := args["backend"]
	model, hasModel := args["model"]
	if !hasBackend || !hasModel {
		return fail("once", fmt.Errorf("once requires backend and model"))
	}
	st := caps.ReadState().Clone()
	st.OneoffRoute = &canon.OneoffRoute{Backend: backend, Model: model}
	caps.WriteState(st)
	return ok("once", fmt.Sprintf("next request routed to %s/%s", backend, model))
}

// reasoningCommand applies a named effort alias (low, medium, high, none)
// and optional prompt prefix/suffix. The gateway wraps the trailing user
// message with the prefix/suffix on every dispatched request, whatever the
// target dialect.
type reasoningCommand struct{}

func (reasoningCommand) Name() string { return "reasoning" }

var reasoningAliases = map[string]canon.ReasoningEffort{
	"low":    canon.ReasoningLow,
	"medium": canon.ReasoningMedium,
	"high":   canon.ReasoningHigh,
}

func (reasoningCommand) Execute(args Args, caps Capabilities) Result {
	mode, hasMode := args["mode"]
	if !hasMode {
		return fail("reasoning", fmt.Errorf("reasoning requires mode"))
	}
	st := caps.ReadState().Clone()
	if mode == "none" {
		st.Reasoning.Effort = nil
		st.Reasoning.ThinkingBudget = nil
	} else {
		effort, known := reasoningAliases[mode]
		if !known {
			return fail("reasoning", fmt.Errorf("unknown reasoning mode %q", mode))
		}
		st.Reasoning.Effort = &effort
	}
	if prefix, has := args["prefix"]; has {
		st.Reasoning.PromptPrefix = prefix
	}
	if suffix, has := args["suffix"]; has {
		st.Reasoning.PromptSuffix = suffix
	}
	caps.WriteState(st)
	return ok("reasoning", "reasoning mode set to "+mode)
}

func parseElements(raw string) ([]canon.RouteElement, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("elements is required")
	}
	parts := strings.Split(raw, ";")
	elems := make([]canon.RouteElement, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		slash := strings.IndexByte(p, '/')
		if slash < 0 {
			return nil, fmt.Errorf("malformed element %q, want backend/model", p)
		}
		elems = append(elems, canon.RouteElement{Backend: p[:slash], Model: p[slash+1:]})
	}
	if len(elems) == 0 {
		return nil, fmt.Errorf("elements is required")
	}
	return elems, nil
}

func validPolicy(p canon.FailoverPolicy) bool {
	switch p {
	case canon.PolicyK, canon.PolicyM, canon.PolicyKM, canon.PolicyMK:
		return true
	default:
		return false
	}
}
