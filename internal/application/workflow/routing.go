package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
	"github.com/garyjia/approval-engine/internal/domain/rule"
	domainwf "github.com/garyjia/approval-engine/internal/domain/workflow"
)

type stageResolution struct {
	approvers    []string
	autoApproved bool
	reason       string

	// escalated is set when the rule found nobody and the escalation target took over
	escalated bool
}

// resolveStage evaluates the approval rule of a stage against the current data
func (e *engineImpl) resolveStage(ctx context.Context, c *change, stage entity.StageDefinition) (stageResolution, error) {
	res, err := e.resolver.Resolve(ctx, rule.Input{
		Stage:       stage,
		RequesterID: c.inst.InitiatorID,
		Data:        c.inst.CurrentDataSnapshot,
		At:          c.now,
	})
	switch {
	case err == nil:
		if res.AutoApproved {
			e.logAutoApproval(c, stage)
		}
		return stageResolution{
			approvers:    res.ApproverIDs,
			autoApproved: res.AutoApproved,
			reason:       res.Reason,
		}, nil
	case !errors.Is(err, domainwf.ErrNoApproverFound):
		return stageResolution{}, err
	case stage.EscalationTarget == nil:
		return stageResolution{}, domainwf.NewError(domainwf.ErrNoApprovalPathFound, c.inst.ID,
			"stage %d has no approvers and no escalation target", stage.Order).
			WithStage(stage.Order).
			Wrap(err)
	}

	ids, escErr := e.resolver.ResolveEscalation(ctx, stage.EscalationTarget, c.inst.InitiatorID)
	if escErr != nil {
		return stageResolution{}, domainwf.NewError(domainwf.ErrNoApprovalPathFound, c.inst.ID,
			"stage %d has no approvers and its escalation target cannot be resolved", stage.Order).
			WithStage(stage.Order).
			Wrap(escErr)
	}
	return stageResolution{approvers: ids, escalated: true}, nil
}

func (e *engineImpl) logAutoApproval(c *change, stage entity.StageDefinition) {
	fields := []zap.Field{
		zap.String("instance_id", c.inst.ID),
		zap.Int("stage", stage.Order),
		zap.String("rule", string(stage.ApprovalRuleType)),
	}
	if stage.ApprovalRuleType == entity.RuleAmountBased {
		key := stage.AmountKey()
		amount, _ := c.inst.CurrentDataSnapshot.Number(key)
		fields = append(fields,
			zap.String("field", key),
			zap.Float64("amount", amount),
			zap.Float64("threshold", stage.AmountThreshold))
	}
	e.logger.Info("Stage auto-approved", fields...)
}

// enterFrom opens stage order, firing enter once an approver set is in place.
// Auto-approved stages are logged and skipped to the next mandatory stage;
// when none remains the instance is approved.
func (e *engineImpl) enterFrom(ctx context.Context, c *change, order int, enter domainwf.Trigger) error {
	for {
		stage, ok := c.def.Stage(order)
		if !ok {
			return domainwf.NewError(domainwf.ErrInvariantViolation, c.inst.ID,
				"definition %s has no stage %d", c.def.ID, order)
		}

		res, err := e.resolveStage(ctx, c, stage)
		if err != nil {
			return err
		}

		if !res.autoApproved {
			if err := c.fire(enter); err != nil {
				return err
			}
			c.openStage(stage, res.approvers, res.escalated)
			if res.escalated {
				c.record(entity.ApprovalLogEntry{
					Stage:      stage.Order,
					ApproverID: entity.SystemActor,
					Action:     entity.ActionEscalate,
					Comments:   fmt.Sprintf("no approver resolved for %s, escalated to %s", stage.Name, stage.EscalationTarget.Value),
				}, c.inst.Status, stage.Order)
				c.emit(event.TypeEscalated, entity.SystemActor, nil)
			}
			return nil
		}

		next, hasNext := c.def.NextMandatoryAfter(order)
		if !hasNext {
			c.inst.CurrentStage = order
			if err := c.fire(domainwf.TriggerAutoApprove); err != nil {
				return err
			}
			c.record(entity.ApprovalLogEntry{
				Stage:      order,
				ApproverID: entity.SystemActor,
				Action:     entity.ActionAutoApprove,
				Comments:   res.reason,
			}, c.inst.Status, order)
			c.emit(event.TypeApproved, entity.SystemActor, nil)
			return nil
		}

		c.record(entity.ApprovalLogEntry{
			Stage:      order,
			ApproverID: entity.SystemActor,
			Action:     entity.ActionAutoApprove,
			Comments:   res.reason,
		}, domainwf.StatePendingApproval, next.Order)
		order = next.Order
	}
}
