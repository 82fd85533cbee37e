package fsm

import (
	"fmt"
	"strings"
	"time"
)

// StateName identifies a state within a single StateGraph. It is opaque and
// must be non-empty and unique within the graph that declares it.
type StateName string

// HookFunc is a side-effecting function run on entry to or exit from a
// state. It receives the handle of the machine undergoing the transition so
// it can read (but, by contract, not bypass the engine to mutate) the
// machine's contexts.
type HookFunc func(m MachineHandle, ev Event) error

// StayFunc mutates a machine's contexts in place without changing its
// current state. It runs for events matched by a state's stay-action table.
type StayFunc func(m MachineHandle, ev Event) error

// TimeoutSpec arms a single-shot timer on entry to the state that declares
// it. If the timer fires before the state is exited, the engine treats it as
// a fallback transition to Target.
type TimeoutSpec struct {
	Duration time.Duration
	Target   StateName
}

// StateDescriptor is the immutable description of one state: its hooks, its
// event-triggered transitions, its stay actions, and its offline/final
// flags. StateDescriptors are only ever constructed through GraphBuilder and
// are never mutated after StateGraph.Build succeeds.
type StateDescriptor struct {
	Name StateName

	Entry HookFunc
	Exit  HookFunc

	Timeout *TimeoutSpec

	// Offline marks that, upon entry, the registry may evict the live
	// instance from memory once persistence of the transition has been
	// acknowledged.
	Offline bool

	// Final marks that, upon entry, the persistent entity is marked
	// complete and no further transitions are accepted.
	Final bool

	// Transitions maps an event name to the state it moves to.
	Transitions map[string]StateName

	// StayActions maps an event name to an action that mutates contexts
	// without changing the current state.
	StayActions map[string]StayFunc
}

// StateGraph is the immutable, shared description of a machine type: its
// initial state plus every state it can be in. The same StateGraph value is
// safely shared by every instance built from the same factory.
type StateGraph struct {
	Initial StateName
	states  map[StateName]*StateDescriptor
}

// State returns the descriptor for name, or (nil, false) if the graph has no
// such state.
func (g *StateGraph) State(name StateName) (*StateDescriptor, bool) {
	d, ok := g.states[name]
	return d, ok
}

// StateNames returns every state name declared in the graph, in no
// particular order.
func (g *StateGraph) StateNames() []StateName {
	names := make([]StateName, 0, len(g.states))
	for n := range g.states {
		names = append(names, n)
	}
	return names
}

// ValidationIssue is one problem found while building a StateGraph.
type ValidationIssue struct {
	Code    string
	Message string
	Path    []string
}

func (v ValidationIssue) String() string {
	if len(v.Path) > 0 {
		return fmt.Sprintf("[%s] %s (at %s)", v.Code, v.Message, strings.Join(v.Path, "."))
	}
	return fmt.Sprintf("[%s] %s", v.Code, v.Message)
}

// GraphValidationError aggregates every ValidationIssue found while building
// a graph; it is always wrapped as a *Error with CodeInvalidGraph before
// reaching a caller of GraphBuilder.Build.
type GraphValidationError struct {
	Issues []ValidationIssue
}

func (e *GraphValidationError) Error() string {
	if len(e.Issues) == 1 {
		return e.Issues[0].String()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "invalid graph: %d issues:\n", len(e.Issues))
	for i, issue := range e.Issues {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, issue.String())
	}
	return b.String()
}

func (e *GraphValidationError) add(code, message string, path ...string) {
	e.Issues = append(e.Issues, ValidationIssue{Code: code, Message: message, Path: path})
}

// Validation issue codes.
const (
	IssueMissingInitial   = "MISSING_INITIAL"
	IssueInitialNotFound  = "INITIAL_NOT_FOUND"
	IssueDuplicateState   = "DUPLICATE_STATE"
	IssueEmptyStateName   = "EMPTY_STATE_NAME"
	IssueUnknownTarget    = "UNKNOWN_TARGET"
	IssueFinalHasOutbound = "FINAL_HAS_OUTBOUND"
	IssueNoStates         = "NO_STATES"
)

// GraphBuilder is the minimal, in-scope build-time API for StateGraph: it
// assembles StateDescriptors and validates the result. It is not the fluent
// configuration DSL that sits in front of a whole machine type (that surface
// is an external collaborator, see DESIGN.md) -- it is just enough to turn a
// set of StateDescriptors into a validated, immutable StateGraph.
type GraphBuilder struct {
	initial StateName
	states  map[StateName]*StateDescriptor
	order   []StateName
}

// NewGraphBuilder starts an empty graph.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{states: make(map[StateName]*StateDescriptor)}
}

// Initial sets the graph's initial state name.
func (b *GraphBuilder) Initial(name StateName) *GraphBuilder {
	b.initial = name
	return b
}

// StateBuilder builds a single StateDescriptor as part of a GraphBuilder.
type StateBuilder struct {
	parent *GraphBuilder
	desc   *StateDescriptor
}

// State starts (or resumes) building the named state.
func (b *GraphBuilder) State(name StateName) *StateBuilder {
	desc, ok := b.states[name]
	if !ok {
		desc = &StateDescriptor{
			Name:        name,
			Transitions: make(map[string]StateName),
			StayActions: make(map[string]StayFunc),
		}
	}
	return &StateBuilder{parent: b, desc: desc}
}

// Entry sets the state's entry hook.
func (s *StateBuilder) Entry(h HookFunc) *StateBuilder { s.desc.Entry = h; return s }

// Exit sets the state's exit hook.
func (s *StateBuilder) Exit(h HookFunc) *StateBuilder { s.desc.Exit = h; return s }

// Offline marks the state as eligible for post-persistence eviction.
func (s *StateBuilder) Offline() *StateBuilder { s.desc.Offline = true; return s }

// Final marks the state as terminal.
func (s *StateBuilder) Final() *StateBuilder { s.desc.Final = true; return s }

// TimeoutAfter arms a single-shot timeout on entry to this state, falling
// back to target if no other transition occurs first.
func (s *StateBuilder) TimeoutAfter(d time.Duration, target StateName) *StateBuilder {
	s.desc.Timeout = &TimeoutSpec{Duration: d, Target: target}
	return s
}

// On registers an event-triggered transition to target.
func (s *StateBuilder) On(event string, target StateName) *StateBuilder {
	s.desc.Transitions[event] = target
	return s
}

// Stay registers a same-state action for event.
func (s *StateBuilder) Stay(event string, action StayFunc) *StateBuilder {
	s.desc.StayActions[event] = action
	return s
}

// Done commits the state to the parent builder and returns it.
func (s *StateBuilder) Done() *GraphBuilder {
	if _, exists := s.parent.states[s.desc.Name]; !exists {
		s.parent.order = append(s.parent.order, s.desc.Name)
	}
	s.parent.states[s.desc.Name] = s.desc
	return s.parent
}

// Build validates the accumulated states and returns an immutable
// StateGraph. All of the following reject construction: an unset or
// nonexistent initial state, an empty state name, a transition target that
// is not a declared state, and a final state with outgoing transitions.
func (b *GraphBuilder) Build() (*StateGraph, error) {
	verr := &GraphValidationError{}

	if len(b.states) == 0 {
		verr.add(IssueNoStates, "graph must declare at least one state")
	}

	for _, name := range b.order {
		if strings.TrimSpace(string(name)) == "" {
			verr.add(IssueEmptyStateName, "state name must be non-empty")
		}
	}

	if b.initial == "" {
		verr.add(IssueMissingInitial, "initial state is required")
	} else if _, ok := b.states[b.initial]; !ok {
		verr.add(IssueInitialNotFound, fmt.Sprintf("initial state %q is not declared", b.initial), "initial")
	}

	for _, name := range b.order {
		desc := b.states[name]
		if desc.Final && len(desc.Transitions) > 0 {
			verr.add(IssueFinalHasOutbound, fmt.Sprintf("final state %q declares outgoing transitions", name), "states", string(name))
		}
		for event, target := range desc.Transitions {
			if _, ok := b.states[target]; !ok {
				verr.add(IssueUnknownTarget, fmt.Sprintf("event %q in state %q targets unknown state %q", event, name, target), "states", string(name), "transitions", event)
			}
		}
		if desc.Timeout != nil {
			if _, ok := b.states[desc.Timeout.Target]; !ok {
				verr.add(IssueUnknownTarget, fmt.Sprintf("timeout in state %q targets unknown state %q", name, desc.Timeout.Target), "states", string(name), "timeout")
			}
		}
	}

	if len(verr.Issues) > 0 {
		return nil, newError(CodeInvalidGraph, "", "graph validation failed", verr)
	}

	// Copy each descriptor so later calls on this builder cannot mutate the
	// built graph.
	states := make(map[StateName]*StateDescriptor, len(b.states))
	for name, desc := range b.states {
		cp := *desc
		cp.Transitions = make(map[string]StateName, len(desc.Transitions))
		for ev, target := range desc.Transitions {
			cp.Transitions[ev] = target
		}
		cp.StayActions = make(map[string]StayFunc, len(desc.StayActions))
		for ev, action := range desc.StayActions {
			cp.StayActions[ev] = action
		}
		if desc.Timeout != nil {
			t := *desc.Timeout
			cp.Timeout = &t
		}
		states[name] = &cp
	}

	return &StateGraph{Initial: b.initial, states: states}, nil
}
