package entity

import (
	"time"

	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// Action is what an approval log entry records
type Action string

const (
	ActionApprove     Action = "APPROVE"
	ActionReject      Action = "REJECT"
	ActionSendBack    Action = "SEND_BACK"
	ActionDelegate    Action = "DELEGATE"
	ActionEscalate    Action = "ESCALATE"
	ActionCancel      Action = "CANCEL"
	ActionAutoApprove Action = "AUTO_APPROVE"
	ActionResubmit    Action = "RESUBMIT"
)

// IsDecision reports whether the action is one an approver submits through decide
func (a Action) IsDecision() bool {
	switch a {
	case ActionApprove, ActionReject, ActionSendBack, ActionDelegate:
		return true
	}
	return false
}

// ApprovalLogEntry is one immutable row of the audit trail
type ApprovalLogEntry struct {
	ID             string         `json:"id"`
	InstanceID     string         `json:"instanceId"`
	Sequence       int            `json:"sequence"`
	Stage          int            `json:"stage"`
	ApproverID     string         `json:"approverId"`
	OnBehalfOf     string         `json:"onBehalfOf,omitempty"`
	Action         Action         `json:"action"`
	Comments       string         `json:"comments,omitempty"`
	DelegatedTo    string         `json:"delegatedTo,omitempty"`
	PreviousStatus workflow.State `json:"previousStatus"`
	NewStatus      workflow.State `json:"newStatus"`
	PreviousStage  int            `json:"previousStage"`
	NewStage       int            `json:"newStage"`
	ActionDate     time.Time      `json:"actionDate"`
}
