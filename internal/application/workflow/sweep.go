package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
	domainwf "github.com/garyjia/approval-engine/internal/domain/workflow"
)

type sweepOutcome int

const (
	sweepSkipped sweepOutcome = iota
	sweepEscalated
	sweepAutoApproved
)

// TimeoutSweep applies the timeout policy to every stage whose deadline has
// passed. Each instance is handled in its own transaction; a failure on one
// does not stop the sweep.
func (e *engineImpl) TimeoutSweep(ctx context.Context) (SweepResult, error) {
	now := e.clock.Now()
	due, err := e.instances.ListDue(ctx, now, e.sweepBatch)
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to list overdue instances: %w", err)
	}

	result := SweepResult{Scanned: len(due)}
	for _, candidate := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		outcome := sweepSkipped
		_, err := e.mutate(ctx, candidate.ID, "timeout", 0, func(ctx context.Context, c *change) error {
			var err error
			outcome, err = e.applyTimeout(ctx, c)
			return err
		})
		if err != nil {
			result.Failed++
			e.logger.Error("Timeout handling failed",
				zap.String("instance_id", candidate.ID),
				zap.Error(err))
			continue
		}

		switch outcome {
		case sweepEscalated:
			result.Escalated++
			e.recorder.Timeout(candidate.WorkflowType, entity.TimeoutEscalate)
		case sweepAutoApproved:
			result.AutoApproved++
			e.recorder.Timeout(candidate.WorkflowType, entity.TimeoutAutoApprove)
		default:
			result.Skipped++
		}
	}

	if result.Scanned > 0 {
		e.logger.Info("Timeout sweep finished",
			zap.Int("scanned", result.Scanned),
			zap.Int("escalated", result.Escalated),
			zap.Int("auto_approved", result.AutoApproved),
			zap.Int("skipped", result.Skipped),
			zap.Int("failed", result.Failed))
	}
	return result, nil
}

func (e *engineImpl) applyTimeout(ctx context.Context, c *change) (sweepOutcome, error) {
	// re-checked against the fresh read; another writer may have moved on
	if !c.inst.Status.IsAwaitingDecision() || c.inst.StageDeadline == nil || c.inst.StageDeadline.After(c.now) {
		c.noop = true
		return sweepSkipped, nil
	}
	stage, err := c.stage()
	if err != nil {
		return sweepSkipped, err
	}
	hours := stage.AutoApproveAfterHours

	if stage.TimeoutPolicy() == entity.TimeoutEscalate {
		if c.inst.Escalated {
			// already with the escalation target; stop re-sweeping the stage
			c.inst.StageDeadline = nil
			return sweepSkipped, nil
		}
		reason := fmt.Sprintf("no decision within %d hours", hours)
		if err := e.escalate(ctx, c, entity.SystemActor, reason); err != nil {
			return sweepSkipped, err
		}
		return sweepEscalated, nil
	}

	reason := fmt.Sprintf("auto-approved after %d hours without a decision", hours)
	if c.def.IsFinalStage(stage.Order) {
		if err := c.fire(domainwf.TriggerAutoApprove); err != nil {
			return sweepSkipped, err
		}
		c.record(entity.ApprovalLogEntry{
			ApproverID: entity.SystemActor,
			Action:     entity.ActionAutoApprove,
			Comments:   reason,
		}, c.inst.Status, stage.Order)
		c.emit(event.TypeApproved, entity.SystemActor, nil)
		return sweepAutoApproved, nil
	}

	c.record(entity.ApprovalLogEntry{
		ApproverID: entity.SystemActor,
		Action:     entity.ActionAutoApprove,
		Comments:   reason,
	}, domainwf.StatePendingApproval, stage.Order+1)
	if err := e.enterFrom(ctx, c, stage.Order+1, domainwf.TriggerAdvance); err != nil {
		return sweepSkipped, err
	}
	if !c.inst.Status.IsTerminal() {
		c.emit(event.TypeStageApproved, entity.SystemActor, map[string]interface{}{event.KeyApprovedStage: stage.Order})
	}
	return sweepAutoApproved, nil
}
