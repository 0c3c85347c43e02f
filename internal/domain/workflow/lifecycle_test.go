package workflow

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StateDraft, false},
		{StateSubmitted, false},
		{StatePendingApproval, false},
		{StateInProgress, false},
		{StateApproved, true},
		{StateRejected, true},
		{StateCancelled, true},
		{StateCompleted, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.expected {
				t.Errorf("State.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_IsAwaitingDecision(t *testing.T) {
	if !StatePendingApproval.IsAwaitingDecision() || !StateInProgress.IsAwaitingDecision() {
		t.Error("pending and in-progress states should accept decisions")
	}
	if StateDraft.IsAwaitingDecision() || StateCompleted.IsAwaitingDecision() {
		t.Error("draft and completed states should not accept decisions")
	}
}

func TestState_IsApproved(t *testing.T) {
	if !StateApproved.IsApproved() || !StateCompleted.IsApproved() {
		t.Error("APPROVED and COMPLETED are approved outcomes")
	}
	if StateRejected.IsApproved() {
		t.Error("REJECTED is not an approved outcome")
	}
}

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"valid state", StateDraft, true},
		{"valid state", StateCompleted, true},
		{"invalid state", State("INVALID"), false},
		{"empty state", State(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.expected {
				t.Errorf("State.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestTrigger_String(t *testing.T) {
	if got := TriggerSendBack.String(); got != "SEND_BACK" {
		t.Errorf("Trigger.String() = %v, want %v", got, "SEND_BACK")
	}
}

func TestApprovalLifecycle_Next(t *testing.T) {
	tests := []struct {
		from    State
		trigger Trigger
		want    State
	}{
		{StateDraft, TriggerSubmit, StateSubmitted},
		{StateSubmitted, TriggerActivate, StatePendingApproval},
		{StateSubmitted, TriggerAutoApprove, StateApproved},
		{StatePendingApproval, TriggerRecordApproval, StateInProgress},
		{StatePendingApproval, TriggerSendBack, StatePendingApproval},
		{StatePendingApproval, TriggerComplete, StateCompleted},
		{StateInProgress, TriggerRecordApproval, StateInProgress},
		{StateInProgress, TriggerAdvance, StatePendingApproval},
		{StateInProgress, TriggerEscalate, StatePendingApproval},
		{StateInProgress, TriggerReject, StateRejected},
		{StateInProgress, TriggerCancel, StateCancelled},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.from, tt.trigger), func(t *testing.T) {
			got, err := ApprovalLifecycle.Next(tt.from, tt.trigger)
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Next() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestApprovalLifecycle_TerminalStatesHaveNoExit(t *testing.T) {
	for _, s := range []State{StateApproved, StateRejected, StateCancelled, StateCompleted} {
		if got := ApprovalLifecycle.Permitted(s); len(got) != 0 {
			t.Errorf("%s permits %v", s, got)
		}
		if got := ApprovalLifecycle.DescribePermitted(s); got != "none" {
			t.Errorf("DescribePermitted(%s) = %q, want none", s, got)
		}
	}
}

func TestApprovalLifecycle_RefusesUnconfigured(t *testing.T) {
	_, err := ApprovalLifecycle.Next(StateCompleted, TriggerCancel)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if ApprovalLifecycle.Can(StateDraft, TriggerRecordApproval) {
		t.Error("a draft cannot record approvals")
	}
	if !ApprovalLifecycle.Can(StateInProgress, TriggerDelegate) {
		t.Error("delegation is allowed while a stage is in progress")
	}
}

func TestLifecycle_PermittedSorted(t *testing.T) {
	got := ApprovalLifecycle.Permitted(StateSubmitted)
	want := []Trigger{TriggerActivate, TriggerAutoApprove, TriggerCancel}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Permitted() = %v, want %v", got, want)
	}
	if s := ApprovalLifecycle.DescribePermitted(StateDraft); s != "CANCEL|SUBMIT" {
		t.Errorf("DescribePermitted() = %q", s)
	}
}

func TestNewLifecycle_Panics(t *testing.T) {
	cases := map[string][]Transition{
		"unknown state": {{StateDraft, TriggerSubmit, State("LIMBO")}},
		"duplicate trigger": {
			{StateDraft, TriggerSubmit, StateSubmitted},
			{StateDraft, TriggerSubmit, StateCancelled},
		},
	}
	for name, edges := range cases {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			NewLifecycle(edges...)
		})
	}
}

func TestError_MatchesKindAndCause(t *testing.T) {
	cause := errors.New("db down")
	err := NewError(ErrConcurrentModification, "inst-1", "version %d is stale", 3).
		WithStage(2).
		WithStates("PENDING_APPROVAL", "CANCELLED").
		Wrap(cause)

	if !errors.Is(err, ErrConcurrentModification) {
		t.Error("errors.Is should match the kind")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should match the wrapped cause")
	}
	if errors.Is(err, ErrValidation) {
		t.Error("errors.Is should not match an unrelated kind")
	}

	want := "concurrent modification: version 3 is stale (instance=inst-1, stage=2, expected=PENDING_APPROVAL, actual=CANCELLED): db down"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	var typed *Error
	if !errors.As(fmt.Errorf("outer: %w", err), &typed) || typed.InstanceID != "inst-1" {
		t.Error("errors.As should recover the typed error through wrapping")
	}
}
