package entity

// Workflow types served by the engine
const (
	WorkflowTypeOvertimeClaim   = "OVERTIME_CLAIM"
	WorkflowTypeTravelRequest   = "TRAVEL_REQUEST"
	WorkflowTypeLoanApplication = "LOAN_APPLICATION"
	WorkflowTypeLeaveRequest    = "LEAVE_REQUEST"
)

// WorkflowTypes lists every workflow type, in a stable order
func WorkflowTypes() []string {
	return []string{
		WorkflowTypeOvertimeClaim,
		WorkflowTypeTravelRequest,
		WorkflowTypeLoanApplication,
		WorkflowTypeLeaveRequest,
	}
}

// SystemActor is the approver id recorded for automated actions
const SystemActor = "SYSTEM"

// Priority of a workflow instance
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// IsValid reports whether p is a known priority
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Outbox delivery status
const (
	OutboxStatusPending   = "PENDING"
	OutboxStatusDelivered = "DELIVERED"
	OutboxStatusFailed    = "FAILED"
)
