package workflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
	domainwf "github.com/garyjia/approval-engine/internal/domain/workflow"
)

const awaitingStates = "PENDING_APPROVAL|IN_PROGRESS"

func (r DecisionRequest) validate() error {
	switch {
	case r.InstanceID == "":
		return domainwf.Validationf("instance id is required")
	case r.ApproverID == "":
		return domainwf.Validationf("approver id is required")
	case !r.Action.IsDecision():
		return domainwf.Validationf("unsupported decision action %q", r.Action)
	case r.Action == entity.ActionDelegate && r.DelegatedTo == "":
		return domainwf.Validationf("delegatedTo is required for DELEGATE")
	case r.Action == entity.ActionDelegate && r.DelegatedTo == r.ApproverID:
		return domainwf.Validationf("cannot delegate to yourself")
	}
	return nil
}

func (e *engineImpl) Decide(ctx context.Context, req DecisionRequest) (*entity.WorkflowInstance, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	inst, err := e.mutate(ctx, req.InstanceID, "decide", req.ExpectedVersion, func(ctx context.Context, c *change) error {
		if !c.inst.Status.IsAwaitingDecision() {
			return domainwf.NewError(domainwf.ErrInvalidStateForAction, c.inst.ID, "%s is not possible now", req.Action).
				WithStage(c.inst.CurrentStage).
				WithStates(awaitingStates, c.inst.Status.String())
		}
		slot, ok := c.inst.SlotFor(req.ApproverID)
		if !ok {
			return domainwf.NewError(domainwf.ErrUnauthorizedApprover, c.inst.ID,
				"%s is not a current approver", req.ApproverID).WithStage(c.inst.CurrentStage)
		}
		stage, err := c.stage()
		if err != nil {
			return err
		}

		entry := entity.ApprovalLogEntry{
			ApproverID: req.ApproverID,
			Action:     req.Action,
			Comments:   req.Comments,
		}
		if slot != req.ApproverID {
			entry.OnBehalfOf = slot
		}
		c.inst.SentBack = false

		switch req.Action {
		case entity.ActionApprove:
			return e.approve(ctx, c, stage, slot, entry)
		case entity.ActionReject:
			return e.reject(ctx, c, entry)
		case entity.ActionSendBack:
			return e.sendBack(ctx, c, stage, entry)
		default:
			return e.delegate(ctx, c, slot, req.DelegatedTo, entry)
		}
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	e.recorder.Decision(workflowTypeOf(inst), req.Action, outcome)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Decision recorded",
		zap.String("instance_id", inst.ID),
		zap.String("approver_id", req.ApproverID),
		zap.String("action", string(req.Action)),
		zap.String("status", inst.Status.String()),
		zap.Int("stage", inst.CurrentStage))
	return inst, nil
}

func (e *engineImpl) approve(ctx context.Context, c *change, stage entity.StageDefinition, slot string, entry entity.ApprovalLogEntry) error {
	if c.inst.HasApproved(slot) {
		return domainwf.NewError(domainwf.ErrInvalidStateForAction, c.inst.ID,
			"%s already approved this stage", slot).WithStage(stage.Order)
	}
	c.inst.StageApprovals = append(c.inst.StageApprovals, slot)

	quorum := stage.Quorum()
	if n := len(c.inst.CurrentApprovers); n < quorum {
		quorum = n
	}
	approved := map[string]interface{}{
		event.KeyComments:      entry.Comments,
		event.KeyApprovedStage: stage.Order,
	}

	if len(c.inst.StageApprovals) < quorum {
		if err := c.fire(domainwf.TriggerRecordApproval); err != nil {
			return err
		}
		c.record(entry, c.inst.Status, stage.Order)
		c.emit(event.TypeStageApproved, entry.ApproverID, approved)
		return nil
	}

	if c.def.IsFinalStage(stage.Order) {
		if err := c.fire(domainwf.TriggerComplete); err != nil {
			return err
		}
		c.record(entry, c.inst.Status, stage.Order)
		c.emit(event.TypeApproved, entry.ApproverID, approved)
		return nil
	}

	c.record(entry, domainwf.StatePendingApproval, stage.Order+1)
	if err := e.enterFrom(ctx, c, stage.Order+1, domainwf.TriggerAdvance); err != nil {
		return err
	}
	// an auto-approved tail already emitted the approval
	if !c.inst.Status.IsTerminal() {
		c.emit(event.TypeStageApproved, entry.ApproverID, approved)
	}
	return nil
}

// reject is decisive at any stage regardless of approvals already given
func (e *engineImpl) reject(ctx context.Context, c *change, entry entity.ApprovalLogEntry) error {
	if err := c.fire(domainwf.TriggerReject); err != nil {
		return err
	}
	c.inst.RejectionReason = entry.Comments
	c.record(entry, c.inst.Status, c.inst.CurrentStage)
	c.emit(event.TypeRejected, entry.ApproverID, map[string]interface{}{
		event.KeyRejectionReason: entry.Comments,
	})
	return nil
}

func (e *engineImpl) sendBack(ctx context.Context, c *change, stage entity.StageDefinition, entry entity.ApprovalLogEntry) error {
	target := stage.SendBackTarget()
	if target > stage.Order {
		target = stage.Order
	}

	c.record(entry, domainwf.StatePendingApproval, target)
	if err := e.enterFrom(ctx, c, target, domainwf.TriggerSendBack); err != nil {
		return err
	}
	if c.inst.Status.IsAwaitingDecision() {
		c.inst.SentBack = true
	}
	c.emit(event.TypeSentBack, entry.ApproverID, map[string]interface{}{event.KeyComments: entry.Comments})
	return nil
}

// delegate hands the actor's slot on the active stage to another user
func (e *engineImpl) delegate(ctx context.Context, c *change, slot, delegateTo string, entry entity.ApprovalLogEntry) error {
	if c.inst.HasApproved(slot) {
		return domainwf.NewError(domainwf.ErrInvalidStateForAction, c.inst.ID,
			"%s already approved this stage", slot).WithStage(c.inst.CurrentStage)
	}
	if delegateTo == c.inst.InitiatorID {
		return domainwf.Validationf("cannot delegate to the initiator of the request")
	}
	if delegateTo == slot {
		return domainwf.Validationf("cannot delegate a slot back to its owner")
	}
	if c.inst.HoldsSlot(delegateTo) {
		return domainwf.Validationf("%s already holds an approver slot on this stage", delegateTo)
	}

	if err := c.fire(domainwf.TriggerDelegate); err != nil {
		return err
	}
	if c.inst.StageDelegations == nil {
		c.inst.StageDelegations = make(map[string]string)
	}
	c.inst.StageDelegations[slot] = delegateTo

	entry.DelegatedTo = delegateTo
	c.record(entry, c.inst.Status, c.inst.CurrentStage)
	c.emit(event.TypeDelegated, entry.ApproverID, map[string]interface{}{
		event.KeyDelegatedTo: delegateTo,
		event.KeyComments:    entry.Comments,
	})
	return nil
}

func (e *engineImpl) Escalate(ctx context.Context, instanceID, actorID, reason string) (*entity.WorkflowInstance, error) {
	if actorID == "" {
		actorID = entity.SystemActor
	}
	inst, err := e.mutate(ctx, instanceID, "escalate", 0, func(ctx context.Context, c *change) error {
		return e.escalate(ctx, c, actorID, reason)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Workflow escalated",
		zap.String("instance_id", inst.ID),
		zap.String("actor_id", actorID),
		zap.Strings("approvers", inst.CurrentApprovers))
	return inst, nil
}

// escalate replaces the approvers of the active stage with its escalation target
func (e *engineImpl) escalate(ctx context.Context, c *change, actorID, reason string) error {
	if !c.inst.Status.IsAwaitingDecision() {
		return domainwf.NewError(domainwf.ErrInvalidStateForAction, c.inst.ID, "escalation is not possible now").
			WithStage(c.inst.CurrentStage).
			WithStates(awaitingStates, c.inst.Status.String())
	}
	stage, err := c.stage()
	if err != nil {
		return err
	}
	if stage.EscalationTarget == nil {
		return domainwf.NewError(domainwf.ErrNoApprovalPathFound, c.inst.ID,
			"stage %s has no escalation target", stage.Name).WithStage(stage.Order)
	}
	approvers, err := e.resolver.ResolveEscalation(ctx, stage.EscalationTarget, c.inst.InitiatorID)
	if err != nil {
		return domainwf.NewError(domainwf.ErrNoApprovalPathFound, c.inst.ID,
			"escalation target of stage %s cannot be resolved", stage.Name).
			WithStage(stage.Order).
			Wrap(err)
	}

	if err := c.fire(domainwf.TriggerEscalate); err != nil {
		return err
	}
	c.openStage(stage, approvers, true)
	c.record(entity.ApprovalLogEntry{
		ApproverID: actorID,
		Action:     entity.ActionEscalate,
		Comments:   reason,
	}, c.inst.Status, stage.Order)
	c.emit(event.TypeEscalated, actorID, map[string]interface{}{event.KeyComments: reason})
	return nil
}

func workflowTypeOf(inst *entity.WorkflowInstance) string {
	if inst == nil {
		return ""
	}
	return inst.WorkflowType
}
