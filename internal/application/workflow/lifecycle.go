package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
	domainwf "github.com/garyjia/approval-engine/internal/domain/workflow"
)

func (r *SubmitRequest) validate() error {
	switch {
	case r.WorkflowType == "":
		return domainwf.Validationf("workflow type is required")
	case r.EntityType == "":
		return domainwf.Validationf("entity type is required")
	case r.EntityID == "":
		return domainwf.Validationf("entity id is required")
	case r.InitiatorID == "":
		return domainwf.Validationf("initiator id is required")
	}
	if r.Priority == "" {
		r.Priority = entity.PriorityNormal
	}
	if !r.Priority.IsValid() {
		return domainwf.Validationf("unknown priority %q", r.Priority)
	}
	return nil
}

func (e *engineImpl) newInstance(req SubmitRequest, def *entity.WorkflowDefinition, status domainwf.State) *entity.WorkflowInstance {
	now := e.clock.Now()
	inst := &entity.WorkflowInstance{
		ID:                  uuid.NewString(),
		DefinitionID:        def.ID,
		WorkflowType:        def.WorkflowType,
		EntityType:          req.EntityType,
		EntityID:            req.EntityID,
		InitiatorID:         req.InitiatorID,
		Status:              status,
		TotalStages:         def.StageCount(),
		InitialDataSnapshot: req.Data.Clone(),
		CurrentDataSnapshot: req.Data.Clone(),
		Priority:            req.Priority,
		DueDate:             req.DueDate,
		Metadata:            req.Metadata,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	return inst
}

// activeDefinition resolves the definition a new submission binds to
func (e *engineImpl) activeDefinition(ctx context.Context, workflowType string) (*entity.WorkflowDefinition, error) {
	def, err := e.definitions.GetActive(ctx, workflowType)
	if err != nil {
		if isNotFound(err) {
			return nil, domainwf.NewError(domainwf.ErrNoApprovalPathFound, "",
				"no active definition for workflow type %q", workflowType).Wrap(err)
		}
		return nil, err
	}
	return def, nil
}

// route opens the first stage of a freshly submitted instance
func (e *engineImpl) route(ctx context.Context, c *change) error {
	submittedAt := c.now
	c.inst.SubmittedAt = &submittedAt
	c.cursorStatus = domainwf.StateSubmitted
	c.cursorStage = 1
	c.inst.CurrentStage = 1

	if err := e.enterFrom(ctx, c, 1, domainwf.TriggerActivate); err != nil {
		return err
	}

	// consumers see the submission before anything routing produced
	routed := c.events
	c.events = nil
	c.emit(event.TypeSubmitted, c.inst.InitiatorID, nil)
	c.events = append(c.events, routed...)
	return nil
}

func (e *engineImpl) Submit(ctx context.Context, req SubmitRequest) (*entity.WorkflowInstance, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	def, err := e.activeDefinition(ctx, req.WorkflowType)
	if err != nil {
		return nil, err
	}

	inst := e.newInstance(req, def, domainwf.StateSubmitted)
	c := newChange(inst, def, 0, inst.CreatedAt)
	if err := e.route(ctx, c); err != nil {
		return nil, err
	}

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.instances.Create(txCtx, c.inst); err != nil {
			return fmt.Errorf("failed to create instance: %w", err)
		}
		return e.persist(txCtx, c)
	})
	if err != nil {
		return nil, err
	}
	e.observe(c, domainwf.StateSubmitted)

	e.logger.Info("Workflow submitted",
		zap.String("instance_id", c.inst.ID),
		zap.String("workflow_type", c.inst.WorkflowType),
		zap.String("entity_id", c.inst.EntityID),
		zap.String("status", c.inst.Status.String()),
		zap.Int("stage", c.inst.CurrentStage),
		zap.Strings("approvers", c.inst.CurrentApprovers))

	return c.inst, nil
}

func (e *engineImpl) CreateDraft(ctx context.Context, req SubmitRequest) (*entity.WorkflowInstance, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	def, err := e.activeDefinition(ctx, req.WorkflowType)
	if err != nil {
		return nil, err
	}

	inst := e.newInstance(req, def, domainwf.StateDraft)
	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		return e.instances.Create(txCtx, inst)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create draft: %w", err)
	}

	e.logger.Info("Workflow draft created",
		zap.String("instance_id", inst.ID),
		zap.String("workflow_type", inst.WorkflowType))
	return inst, nil
}

func (e *engineImpl) SubmitDraft(ctx context.Context, instanceID, initiatorID string) (*entity.WorkflowInstance, error) {
	return e.mutate(ctx, instanceID, "submit_draft", 0, func(ctx context.Context, c *change) error {
		if c.inst.Status != domainwf.StateDraft {
			return domainwf.NewError(domainwf.ErrInvalidStateForAction, c.inst.ID, "only drafts can be submitted").
				WithStates(domainwf.StateDraft.String(), c.inst.Status.String())
		}
		if c.inst.InitiatorID != initiatorID {
			return domainwf.NewError(domainwf.ErrUnauthorizedApprover, c.inst.ID,
				"%s is not the initiator of this draft", initiatorID)
		}

		// a draft binds to the definition active when it is submitted
		def, err := e.activeDefinition(ctx, c.inst.WorkflowType)
		if err != nil {
			return err
		}
		c.def = def
		c.inst.DefinitionID = def.ID
		c.inst.TotalStages = def.StageCount()

		if err := c.fire(domainwf.TriggerSubmit); err != nil {
			return err
		}
		return e.route(ctx, c)
	})
}

func (e *engineImpl) Cancel(ctx context.Context, instanceID, actorID, reason string) (*entity.WorkflowInstance, error) {
	if actorID == "" {
		actorID = entity.SystemActor
	}
	inst, err := e.mutate(ctx, instanceID, "cancel", 0, func(ctx context.Context, c *change) error {
		if c.inst.Status.IsTerminal() {
			return domainwf.NewError(domainwf.ErrCannotCancelTerminalInstance, c.inst.ID, "instance already finished").
				WithStates("non-terminal", c.inst.Status.String())
		}
		if err := c.fire(domainwf.TriggerCancel); err != nil {
			return err
		}
		c.record(entity.ApprovalLogEntry{
			ApproverID: actorID,
			Action:     entity.ActionCancel,
			Comments:   reason,
		}, c.inst.Status, c.inst.CurrentStage)
		c.emit(event.TypeCancelled, actorID, map[string]interface{}{event.KeyComments: reason})
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Workflow cancelled",
		zap.String("instance_id", inst.ID),
		zap.String("actor_id", actorID))
	return inst, nil
}

func (e *engineImpl) Resubmit(ctx context.Context, instanceID, initiatorID string, data entity.Snapshot, comments string) (*entity.WorkflowInstance, error) {
	return e.mutate(ctx, instanceID, "resubmit", 0, func(ctx context.Context, c *change) error {
		if c.inst.InitiatorID != initiatorID {
			return domainwf.NewError(domainwf.ErrUnauthorizedApprover, c.inst.ID,
				"%s is not the initiator", initiatorID)
		}
		if !c.inst.Status.IsAwaitingDecision() || !c.inst.SentBack {
			return domainwf.NewError(domainwf.ErrInvalidStateForAction, c.inst.ID, "instance was not sent back").
				WithStage(c.inst.CurrentStage).
				WithStates("sent back", c.inst.Status.String())
		}
		if data != nil {
			c.inst.CurrentDataSnapshot = data.Clone()
		}

		stage := c.inst.CurrentStage
		c.record(entity.ApprovalLogEntry{
			ApproverID: initiatorID,
			Action:     entity.ActionResubmit,
			Comments:   comments,
		}, domainwf.StatePendingApproval, stage)
		if err := e.enterFrom(ctx, c, stage, domainwf.TriggerResubmit); err != nil {
			return err
		}
		c.inst.SentBack = false
		c.emit(event.TypeSubmitted, initiatorID, map[string]interface{}{event.KeyComments: comments})
		return nil
	})
}
