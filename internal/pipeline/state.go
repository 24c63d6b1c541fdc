package pipeline

import (
	"errors"
	"fmt"
	"slices"
)

type State string

const (
	Received        State = "received"
	ContextLoaded   State = "context_loaded"
	WebFused        State = "web_fused"
	ModelInvoked    State = "model_invoked"
	Formatted       State = "formatted"
	Validated       State = "validated"
	FallbackApplied State = "fallback_applied"
	Delivered       State = "delivered"
	Rejected        State = "rejected"
	Failed          State = "failed"
)

var ErrInvalidTransition = errors.New("invalid state transition")

// transitions lists the states reachable from each non-terminal state.
var transitions = map[State][]State{
	Received:        {ContextLoaded, Rejected, Failed},
	ContextLoaded:   {WebFused, ModelInvoked, Rejected, Failed},
	WebFused:        {ModelInvoked, Failed},
	ModelInvoked:    {Formatted, Failed},
	Formatted:       {Validated, FallbackApplied, Failed},
	Validated:       {Delivered, Failed},
	FallbackApplied: {Delivered, Failed},
}

func (s State) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// trace records every state an exchange has visited.
type trace struct {
	states []State
}

func newTrace() *trace {
	return &trace{states: []State{Received}}
}

func (t *trace) current() State {
	return t.states[len(t.states)-1]
}

func (t *trace) advance(to State) error {
	from := t.current()
	if !CanTransition(from, to) {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}
	t.states = append(t.states, to)
	return nil
}
