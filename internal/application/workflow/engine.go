package workflow

import (
	"context"
	"time"

	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// SubmitRequest starts a workflow for a domain request
type SubmitRequest struct {
	WorkflowType string
	EntityType   string
	EntityID     string
	InitiatorID  string
	Data         entity.Snapshot
	Priority     entity.Priority
	DueDate      *time.Time
	Metadata     map[string]string
}

// DecisionRequest is an approver's action on the active stage
type DecisionRequest struct {
	InstanceID  string
	ApproverID  string
	Action      entity.Action
	Comments    string
	DelegatedTo string

	// ExpectedVersion, when set, must match the stored version. Callers that
	// decided on a stale read get ErrConcurrentModification.
	ExpectedVersion int64
}

// SweepResult summarizes one timeout sweep
type SweepResult struct {
	Scanned      int `json:"scanned"`
	Escalated    int `json:"escalated"`
	AutoApproved int `json:"autoApproved"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
}

// WorkflowEngine drives workflow instances through their stages
type WorkflowEngine interface {
	// Submit creates an instance against the active definition and opens stage 1
	Submit(ctx context.Context, req SubmitRequest) (*entity.WorkflowInstance, error)

	// CreateDraft stores an instance that is not yet routed
	CreateDraft(ctx context.Context, req SubmitRequest) (*entity.WorkflowInstance, error)

	// SubmitDraft routes a draft created by the same initiator
	SubmitDraft(ctx context.Context, instanceID, initiatorID string) (*entity.WorkflowInstance, error)

	// Decide applies APPROVE, REJECT, SEND_BACK or DELEGATE
	Decide(ctx context.Context, req DecisionRequest) (*entity.WorkflowInstance, error)

	// Escalate hands the active stage to its escalation target
	Escalate(ctx context.Context, instanceID, actorID, reason string) (*entity.WorkflowInstance, error)

	// Cancel stops a non-terminal instance
	Cancel(ctx context.Context, instanceID, actorID, reason string) (*entity.WorkflowInstance, error)

	// Resubmit replaces the current data after a send-back and re-resolves the stage
	Resubmit(ctx context.Context, instanceID, initiatorID string, data entity.Snapshot, comments string) (*entity.WorkflowInstance, error)

	// TimeoutSweep applies the timeout policy of every overdue stage
	TimeoutSweep(ctx context.Context) (SweepResult, error)

	Get(ctx context.Context, instanceID string) (*entity.WorkflowInstance, error)
	History(ctx context.Context, instanceID string) ([]*entity.ApprovalLogEntry, error)
	PendingFor(ctx context.Context, approverID string, limit int) ([]*entity.WorkflowInstance, error)

	// Reconstruct replays the approval log and compares it with the stored instance
	Reconstruct(ctx context.Context, instanceID string) (*Replay, error)
}
