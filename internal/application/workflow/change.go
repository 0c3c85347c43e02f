package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
	domainwf "github.com/garyjia/approval-engine/internal/domain/workflow"
)

// change accumulates one mutation of an instance. Nothing is written until
// the engine persists it inside a transaction.
type change struct {
	inst *entity.WorkflowInstance
	def  *entity.WorkflowDefinition
	now  time.Time
	seq  int

	// position the last log entry left the instance in
	cursorStatus domainwf.State
	cursorStage  int

	entries []*entity.ApprovalLogEntry
	events  []*event.Event
	noop    bool
}

func newChange(inst *entity.WorkflowInstance, def *entity.WorkflowDefinition, logCount int, now time.Time) *change {
	return &change{
		inst:         inst,
		def:          def,
		now:          now,
		seq:          logCount,
		cursorStatus: inst.Status,
		cursorStage:  inst.CurrentStage,
	}
}

// fire moves the instance along the approval lifecycle
func (c *change) fire(trigger domainwf.Trigger) error {
	lc := domainwf.ApprovalLifecycle
	next, err := lc.Next(c.inst.Status, trigger)
	if err != nil {
		return domainwf.NewError(domainwf.ErrInvalidStateForAction, c.inst.ID, "%s is not allowed", trigger).
			WithStage(c.inst.CurrentStage).
			WithStates(lc.DescribePermitted(c.inst.Status), c.inst.Status.String()).
			Wrap(err)
	}
	c.inst.Status = next
	if c.inst.Status.IsTerminal() {
		c.closeStage()
		completed := c.now
		c.inst.CompletedAt = &completed
	}
	return nil
}

// record appends a log entry that moves the cursor to newStatus/newStage
func (c *change) record(entry entity.ApprovalLogEntry, newStatus domainwf.State, newStage int) {
	c.seq++
	entry.ID = uuid.NewString()
	entry.InstanceID = c.inst.ID
	entry.Sequence = c.seq
	entry.PreviousStatus = c.cursorStatus
	entry.PreviousStage = c.cursorStage
	entry.NewStatus = newStatus
	entry.NewStage = newStage
	entry.ActionDate = c.now
	if entry.Stage == 0 {
		entry.Stage = c.cursorStage
	}
	c.entries = append(c.entries, &entry)

	c.cursorStatus = newStatus
	c.cursorStage = newStage
}

// emit queues an event describing the instance as it is now
func (c *change) emit(eventType event.Type, actorID string, extra map[string]interface{}) {
	payload := map[string]interface{}{
		event.KeyEntityType:       c.inst.EntityType,
		event.KeyEntityID:         c.inst.EntityID,
		event.KeyInitiatorID:      c.inst.InitiatorID,
		event.KeyRequestData:      map[string]interface{}(c.inst.InitialDataSnapshot.Clone()),
		event.KeyActorID:          actorID,
		event.KeyStage:            c.inst.CurrentStage,
		event.KeyStatus:           c.inst.Status.String(),
		event.KeyPendingApprovers: c.inst.PendingApprovers(),
	}
	for k, v := range extra {
		payload[k] = v
	}
	c.events = append(c.events, event.NewEvent(eventType, c.inst.ID, c.inst.WorkflowType, payload, c.now))
}

// openStage makes order the active stage with a fresh approver set
func (c *change) openStage(stage entity.StageDefinition, approvers []string, escalated bool) {
	c.inst.CurrentStage = stage.Order
	c.inst.CurrentApprovers = approvers
	c.inst.StageApprovals = nil
	c.inst.StageDelegations = nil
	c.inst.StageEnteredAt = c.now
	c.inst.Escalated = escalated
	c.inst.StageDeadline = nil
	if timeout := stage.Timeout(); timeout > 0 {
		deadline := c.now.Add(timeout)
		c.inst.StageDeadline = &deadline
	}
}

// closeStage clears everything that only applies to an active stage
func (c *change) closeStage() {
	c.inst.CurrentApprovers = nil
	c.inst.StageApprovals = nil
	c.inst.StageDelegations = nil
	c.inst.StageDeadline = nil
	c.inst.SentBack = false
}

func (c *change) stage() (entity.StageDefinition, error) {
	stage, ok := c.def.Stage(c.inst.CurrentStage)
	if !ok {
		return stage, domainwf.NewError(domainwf.ErrInvariantViolation, c.inst.ID,
			"definition %s has no stage %d", c.def.ID, c.inst.CurrentStage)
	}
	return stage, nil
}
