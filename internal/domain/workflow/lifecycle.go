package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// Transition is one edge of the instance lifecycle
type Transition struct {
	From    State
	Trigger Trigger
	To      State
}

// Lifecycle is an immutable transition table keyed by source state
type Lifecycle struct {
	table map[State]map[Trigger]State
}

// NewLifecycle builds a table from edges. An edge naming an unknown state, or
// a trigger mapped twice from the same state, is a programming error.
func NewLifecycle(edges ...Transition) *Lifecycle {
	l := &Lifecycle{table: make(map[State]map[Trigger]State)}
	for _, e := range edges {
		if !e.From.IsValid() || !e.To.IsValid() {
			panic(fmt.Sprintf("lifecycle edge %s -%s-> %s uses an unknown state", e.From, e.Trigger, e.To))
		}
		out, ok := l.table[e.From]
		if !ok {
			out = make(map[Trigger]State)
			l.table[e.From] = out
		}
		if prev, dup := out[e.Trigger]; dup {
			panic(fmt.Sprintf("trigger %s from %s already leads to %s", e.Trigger, e.From, prev))
		}
		out[e.Trigger] = e.To
	}
	return l
}

// Next returns the state trigger leads to from the given state
func (l *Lifecycle) Next(from State, trigger Trigger) (State, error) {
	to, ok := l.table[from][trigger]
	if !ok {
		return "", fmt.Errorf("%w: %s from %s", ErrInvalidTransition, trigger, from)
	}
	return to, nil
}

// Can reports whether trigger is configured from the given state
func (l *Lifecycle) Can(from State, trigger Trigger) bool {
	_, ok := l.table[from][trigger]
	return ok
}

// Permitted lists the triggers configured from a state, sorted
func (l *Lifecycle) Permitted(from State) []Trigger {
	out := make([]Trigger, 0, len(l.table[from]))
	for trigger := range l.table[from] {
		out = append(out, trigger)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DescribePermitted renders Permitted as A|B|C, or "none" for terminal states
func (l *Lifecycle) DescribePermitted(from State) string {
	triggers := l.Permitted(from)
	if len(triggers) == 0 {
		return "none"
	}
	names := make([]string, len(triggers))
	for i, t := range triggers {
		names[i] = t.String()
	}
	return strings.Join(names, "|")
}

func reentry(from State, triggers ...Trigger) []Transition {
	out := make([]Transition, len(triggers))
	for i, t := range triggers {
		out[i] = Transition{From: from, Trigger: t, To: from}
	}
	return out
}

func edges(groups ...[]Transition) []Transition {
	var out []Transition
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// ApprovalLifecycle is the lifecycle every workflow instance follows.
// SUBMITTED is transient: rule evaluation either opens stage 1 or approves
// outright. APPROVED, REJECTED, CANCELLED and COMPLETED have no way out.
var ApprovalLifecycle = NewLifecycle(edges(
	[]Transition{
		{StateDraft, TriggerSubmit, StateSubmitted},
		{StateDraft, TriggerCancel, StateCancelled},

		{StateSubmitted, TriggerActivate, StatePendingApproval},
		{StateSubmitted, TriggerAutoApprove, StateApproved},
		{StateSubmitted, TriggerCancel, StateCancelled},

		{StatePendingApproval, TriggerRecordApproval, StateInProgress},
		{StatePendingApproval, TriggerComplete, StateCompleted},
		{StatePendingApproval, TriggerAutoApprove, StateApproved},
		{StatePendingApproval, TriggerReject, StateRejected},
		{StatePendingApproval, TriggerCancel, StateCancelled},

		{StateInProgress, TriggerAdvance, StatePendingApproval},
		{StateInProgress, TriggerSendBack, StatePendingApproval},
		{StateInProgress, TriggerEscalate, StatePendingApproval},
		{StateInProgress, TriggerResubmit, StatePendingApproval},
		{StateInProgress, TriggerComplete, StateCompleted},
		{StateInProgress, TriggerAutoApprove, StateApproved},
		{StateInProgress, TriggerReject, StateRejected},
		{StateInProgress, TriggerCancel, StateCancelled},
	},
	reentry(StatePendingApproval, TriggerAdvance, TriggerSendBack, TriggerEscalate, TriggerDelegate, TriggerResubmit),
	reentry(StateInProgress, TriggerRecordApproval, TriggerDelegate),
)...)
