package entity

import (
	"time"

	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// WorkflowInstance is one running approval of a domain request
type WorkflowInstance struct {
	ID                  string            `json:"id"`
	DefinitionID        string            `json:"definitionId"`
	WorkflowType        string            `json:"workflowType"`
	EntityType          string            `json:"entityType"`
	EntityID            string            `json:"entityId"`
	InitiatorID         string            `json:"initiatorId"`
	Status              workflow.State    `json:"status"`
	CurrentStage        int               `json:"currentStage"`
	TotalStages         int               `json:"totalStages"`
	CurrentApprovers    []string          `json:"currentApprovers"`
	StageApprovals      []string          `json:"stageApprovals"`
	StageDelegations    map[string]string `json:"stageDelegations,omitempty"`
	InitialDataSnapshot Snapshot          `json:"initialDataSnapshot"`
	CurrentDataSnapshot Snapshot          `json:"currentDataSnapshot"`
	Priority            Priority          `json:"priority"`
	DueDate             *time.Time        `json:"dueDate,omitempty"`
	StageEnteredAt      time.Time         `json:"stageEnteredAt"`
	StageDeadline       *time.Time        `json:"stageDeadline,omitempty"`
	Escalated           bool              `json:"escalated"`
	SentBack            bool              `json:"sentBack"`
	RejectionReason     string            `json:"rejectionReason,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	Version             int64             `json:"version"`
	SubmittedAt         *time.Time        `json:"submittedAt,omitempty"`
	CompletedAt         *time.Time        `json:"completedAt,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
}

// SlotFor returns the approver slot the actor may act for on the active stage.
// A delegated slot can only be used by its delegate.
func (i *WorkflowInstance) SlotFor(actorID string) (string, bool) {
	for owner, delegate := range i.StageDelegations {
		if delegate == actorID {
			return owner, true
		}
	}
	for _, approver := range i.CurrentApprovers {
		if approver != actorID {
			continue
		}
		if _, delegated := i.StageDelegations[approver]; delegated {
			return "", false
		}
		return approver, true
	}
	return "", false
}

// HasApproved reports whether the slot already approved the active stage
func (i *WorkflowInstance) HasApproved(slot string) bool {
	for _, s := range i.StageApprovals {
		if s == slot {
			return true
		}
	}
	return false
}

// HoldsSlot reports whether the user is tied to any slot of the active
// stage, as an approver (whether or not they have voted) or as a delegate
func (i *WorkflowInstance) HoldsSlot(userID string) bool {
	for _, approver := range i.CurrentApprovers {
		if approver == userID {
			return true
		}
	}
	for _, delegate := range i.StageDelegations {
		if delegate == userID {
			return true
		}
	}
	return false
}

// PendingApprovers returns the ids that can still act on the active stage
func (i *WorkflowInstance) PendingApprovers() []string {
	out := make([]string, 0, len(i.CurrentApprovers))
	for _, approver := range i.CurrentApprovers {
		if i.HasApproved(approver) {
			continue
		}
		if delegate, ok := i.StageDelegations[approver]; ok {
			out = append(out, delegate)
			continue
		}
		out = append(out, approver)
	}
	return out
}

// Clone returns a deep copy used for read-validate-write cycles
func (i *WorkflowInstance) Clone() *WorkflowInstance {
	c := *i
	c.CurrentApprovers = append([]string(nil), i.CurrentApprovers...)
	c.StageApprovals = append([]string(nil), i.StageApprovals...)
	if i.StageDelegations != nil {
		c.StageDelegations = make(map[string]string, len(i.StageDelegations))
		for k, v := range i.StageDelegations {
			c.StageDelegations[k] = v
		}
	}
	if i.Metadata != nil {
		c.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			c.Metadata[k] = v
		}
	}
	c.InitialDataSnapshot = i.InitialDataSnapshot.Clone()
	c.CurrentDataSnapshot = i.CurrentDataSnapshot.Clone()
	return &c
}
