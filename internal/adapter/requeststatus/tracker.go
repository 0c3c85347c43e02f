// Package requeststatus is the domain-side consumer of workflow events. It
// keeps the status field of overtime, travel, loan and leave requests in step
// with their approval without the engine knowing about those records.
package requeststatus

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
)

// Request status values as the domain modules see them
const (
	StatusSubmitted = "SUBMITTED"
	StatusInReview  = "IN_REVIEW"
	StatusReturned  = "RETURNED"
	StatusEscalated = "ESCALATED"
	StatusApproved  = "APPROVED"
	StatusRejected  = "REJECTED"
	StatusCancelled = "CANCELLED"
)

// ConsumerName identifies the tracker in processed_events
const ConsumerName = "request-status"

var statusByEvent = map[event.Type]string{
	event.TypeSubmitted:     StatusSubmitted,
	event.TypeStageApproved: StatusInReview,
	event.TypeSentBack:      StatusReturned,
	event.TypeEscalated:     StatusEscalated,
	event.TypeApproved:      StatusApproved,
	event.TypeRejected:      StatusRejected,
	event.TypeCancelled:     StatusCancelled,
}

func isFinal(status string) bool {
	return status == StatusApproved || status == StatusRejected || status == StatusCancelled
}

// Tracker updates request status records from workflow events
type Tracker struct {
	repo   port.RequestStatusRepository
	logger *zap.Logger
}

// NewTracker creates a Tracker
func NewTracker(repo port.RequestStatusRepository, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{repo: repo, logger: logger}
}

// Register subscribes the tracker for each workflow type, behind the deduplicator
func (t *Tracker) Register(d dispatcher.Dispatcher, dedup *dispatcher.Deduplicator, workflowTypes ...string) error {
	handler := dedup.Wrap(ConsumerName, t.Handle)
	for _, wt := range workflowTypes {
		if err := d.Subscribe(dispatcher.AllEvents(wt), ConsumerName, handler); err != nil {
			return err
		}
	}
	return nil
}

// Handle applies one event. The result only depends on the event, so
// duplicate or late deliveries leave the record unchanged.
func (t *Tracker) Handle(ctx context.Context, evt *event.Event) error {
	status, tracked := statusByEvent[evt.Type]
	if !tracked {
		return nil
	}

	entityType := evt.GetPayloadString(event.KeyEntityType)
	entityID := evt.GetPayloadString(event.KeyEntityID)
	if entityType == "" || entityID == "" {
		return fmt.Errorf("event %s of instance %s carries no entity reference", evt.Type, evt.InstanceID)
	}

	current, err := t.repo.Get(ctx, entityType, entityID)
	if err != nil {
		return fmt.Errorf("failed to load request status: %w", err)
	}
	if current != nil {
		if isFinal(current.Status) && current.InstanceID == evt.InstanceID {
			t.logger.Debug("Request already final, ignoring event",
				zap.String("entity_id", entityID),
				zap.String("status", current.Status),
				zap.String("event_type", evt.Type.String()))
			return nil
		}
		if current.InstanceID == evt.InstanceID && current.UpdatedAt.After(evt.Timestamp) {
			return nil
		}
	}

	record := &entity.RequestStatus{
		EntityType:   entityType,
		EntityID:     entityID,
		InstanceID:   evt.InstanceID,
		WorkflowType: evt.WorkflowType,
		Status:       status,
		LastEvent:    evt.Type.String(),
		UpdatedAt:    evt.Timestamp,
	}
	switch evt.Type {
	case event.TypeRejected:
		record.Reason = evt.GetPayloadString(event.KeyRejectionReason)
	case event.TypeCancelled, event.TypeSentBack:
		record.Reason = evt.GetPayloadString(event.KeyComments)
	}

	if err := t.repo.Upsert(ctx, record); err != nil {
		return fmt.Errorf("failed to update request status: %w", err)
	}

	t.logger.Info("Request status updated",
		zap.String("entity_type", entityType),
		zap.String("entity_id", entityID),
		zap.String("status", status),
		zap.String("instance_id", evt.InstanceID))
	return nil
}
