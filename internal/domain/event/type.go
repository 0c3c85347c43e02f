package event

import "strings"

// Type identifies a workflow event. Names follow workflow.<verb>.
type Type string

const (
	TypeSubmitted     Type = "workflow.submitted"
	TypeStageApproved Type = "workflow.stage_approved"
	TypeSentBack      Type = "workflow.sent_back"
	TypeDelegated     Type = "workflow.delegated"
	TypeEscalated     Type = "workflow.escalated"
	TypeApproved      Type = "workflow.approved"
	TypeRejected      Type = "workflow.rejected"
	TypeCancelled     Type = "workflow.cancelled"
)

// AllTypes lists every event the engine emits, in a stable order
var AllTypes = []Type{
	TypeSubmitted,
	TypeStageApproved,
	TypeSentBack,
	TypeDelegated,
	TypeEscalated,
	TypeApproved,
	TypeRejected,
	TypeCancelled,
}

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// Verb returns the part after the workflow. prefix
func (t Type) Verb() string {
	return strings.TrimPrefix(string(t), "workflow.")
}

// IsTerminal reports whether the event announces a terminal outcome
func (t Type) IsTerminal() bool {
	return t == TypeApproved || t == TypeRejected || t == TypeCancelled
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}
