package port

import (
	"context"
	"time"

	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// DefinitionRepository persists immutable workflow definitions
type DefinitionRepository interface {
	Create(ctx context.Context, def *entity.WorkflowDefinition) error
	GetByID(ctx context.Context, id string) (*entity.WorkflowDefinition, error)
	GetActive(ctx context.Context, workflowType string) (*entity.WorkflowDefinition, error)
	ListByType(ctx context.Context, workflowType string) ([]*entity.WorkflowDefinition, error)
	Deactivate(ctx context.Context, id string) error
}

// InstanceFilter narrows instance listings
type InstanceFilter struct {
	WorkflowType string
	Status       workflow.State
	InitiatorID  string
	Limit        int
	Offset       int
}

// InstanceRepository persists workflow instances with optimistic versioning
type InstanceRepository interface {
	Create(ctx context.Context, instance *entity.WorkflowInstance) error
	GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error)

	// Update writes the instance only if the stored version equals
	// expectedVersion, and bumps instance.Version on success. A mismatch
	// returns workflow.ErrConcurrentModification.
	Update(ctx context.Context, instance *entity.WorkflowInstance, expectedVersion int64) error

	// ListDue returns active instances whose stage deadline is before now
	ListDue(ctx context.Context, now time.Time, limit int) ([]*entity.WorkflowInstance, error)

	// ListPendingFor returns active instances, newest first, where approverID
	// holds an undecided slot of the current stage directly or by delegation
	ListPendingFor(ctx context.Context, approverID string, limit int) ([]*entity.WorkflowInstance, error)

	List(ctx context.Context, filter InstanceFilter) ([]*entity.WorkflowInstance, error)
}

// ApprovalLogRepository is append-only. There is no update or delete.
type ApprovalLogRepository interface {
	Append(ctx context.Context, entry *entity.ApprovalLogEntry) error
	ListByInstance(ctx context.Context, instanceID string) ([]*entity.ApprovalLogEntry, error)
	CountByInstance(ctx context.Context, instanceID string) (int, error)
}

// OutboxRepository stores events until the relay has published them
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg *entity.OutboxMessage) error
	FetchPending(ctx context.Context, now time.Time, limit int) ([]*entity.OutboxMessage, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, lastError string, nextAttemptAt time.Time, dead bool) error
	CountByStatus(ctx context.Context, status string) (int, error)
}

// ProcessedEventRepository backs idempotent event consumers
type ProcessedEventRepository interface {
	// MarkProcessed records the key for the consumer. It returns false when
	// the key was already recorded.
	MarkProcessed(ctx context.Context, consumer, key string, at time.Time) (bool, error)
}

// RequestStatusRepository stores the domain-side status of approval requests
type RequestStatusRepository interface {
	Upsert(ctx context.Context, status *entity.RequestStatus) error
	Get(ctx context.Context, entityType, entityID string) (*entity.RequestStatus, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
