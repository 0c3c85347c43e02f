package workflow

// State is the lifecycle status of a workflow instance
type State string

const (
	StateDraft           State = "DRAFT"
	StateSubmitted       State = "SUBMITTED"
	StatePendingApproval State = "PENDING_APPROVAL"
	StateInProgress      State = "IN_PROGRESS"
	StateApproved        State = "APPROVED"
	StateRejected        State = "REJECTED"
	StateCancelled       State = "CANCELLED"
	StateCompleted       State = "COMPLETED"
)

var validStates = map[State]bool{
	StateDraft:           true,
	StateSubmitted:       true,
	StatePendingApproval: true,
	StateInProgress:      true,
	StateApproved:        true,
	StateRejected:        true,
	StateCancelled:       true,
	StateCompleted:       true,
}

var terminalStates = map[State]bool{
	StateApproved:  true,
	StateRejected:  true,
	StateCancelled: true,
	StateCompleted: true,
}

// IsTerminal returns true once no further transition is allowed
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// IsAwaitingDecision reports whether approvers can act on the instance.
// PENDING_APPROVAL and IN_PROGRESS are interchangeable for that purpose.
func (s State) IsAwaitingDecision() bool {
	return s == StatePendingApproval || s == StateInProgress
}

// IsApproved reports whether the state is one of the two approved outcomes
func (s State) IsApproved() bool {
	return s == StateApproved || s == StateCompleted
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known lifecycle state
func (s State) IsValid() bool {
	return validStates[s]
}
