package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/definition"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
	"github.com/garyjia/approval-engine/internal/domain/rule"
	domainwf "github.com/garyjia/approval-engine/internal/domain/workflow"
)

// ApproverResolver resolves stage approvers and escalation targets
type ApproverResolver interface {
	Resolve(ctx context.Context, in rule.Input) (rule.Resolution, error)
	ResolveEscalation(ctx context.Context, target *entity.EscalationTarget, requesterID string) ([]string, error)
}

// Recorder receives engine measurements
type Recorder interface {
	Transition(workflowType string, from, to domainwf.State)
	Decision(workflowType string, action entity.Action, outcome string)
	Conflict(operation string)
	Timeout(workflowType string, action entity.TimeoutAction)
}

type nopRecorder struct{}

func (nopRecorder) Transition(string, domainwf.State, domainwf.State) {}
func (nopRecorder) Decision(string, entity.Action, string) {}
func (nopRecorder) Conflict(string) {}
func (nopRecorder) Timeout(string, entity.TimeoutAction) {}

// Repositories groups the stores the engine writes to
type Repositories struct {
	Instances port.InstanceRepository
	Logs      port.ApprovalLogRepository
	Outbox    port.OutboxRepository
}

// engineImpl is the concrete implementation of WorkflowEngine
type engineImpl struct {
	instances   port.InstanceRepository
	logs        port.ApprovalLogRepository
	outbox      port.OutboxRepository
	definitions definition.Store
	resolver    ApproverResolver
	txManager   port.TransactionManager

	clock      port.Clock
	logger     *zap.Logger
	recorder   Recorder
	maxRetries int
	sweepBatch int
	committed  func()
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithClock sets the clock used for timestamps and deadlines
func WithClock(clock port.Clock) EngineOption {
	return func(e *engineImpl) {
		e.clock = clock
	}
}

// WithLogger sets the engine logger
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = logger
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) EngineOption {
	return func(e *engineImpl) {
		e.recorder = r
	}
}

// WithMaxRetries sets how many times a mutation is attempted on version conflicts
func WithMaxRetries(n int) EngineOption {
	return func(e *engineImpl) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// WithSweepBatch limits how many overdue instances one sweep handles
func WithSweepBatch(n int) EngineOption {
	return func(e *engineImpl) {
		if n > 0 {
			e.sweepBatch = n
		}
	}
}

// WithCommitHook sets fn to run after every commit that queued outbox events
func WithCommitHook(fn func()) EngineOption {
	return func(e *engineImpl) {
		e.committed = fn
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	repos Repositories,
	definitions definition.Store,
	resolver ApproverResolver,
	txManager port.TransactionManager,
	opts ...EngineOption,
) WorkflowEngine {
	e := &engineImpl{
		instances:   repos.Instances,
		logs:        repos.Logs,
		outbox:      repos.Outbox,
		definitions: definitions,
		resolver:    resolver,
		txManager:   txManager,
		clock:       port.NewRealClock(),
		logger:      zap.NewNop(),
		recorder:    nopRecorder{},
		maxRetries:  3,
		sweepBatch:  100,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// mutate runs fn against a fresh copy of the instance and persists the
// result with a version check. Conflicts are retried with a new read; when
// a retry finds the action no longer valid the caller sees both causes.
func (e *engineImpl) mutate(ctx context.Context, instanceID, op string, expectedVersion int64, fn func(ctx context.Context, c *change) error) (*entity.WorkflowInstance, error) {
	var lastConflict error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		stored, err := e.load(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		if expectedVersion > 0 && stored.Version != expectedVersion {
			e.recorder.Conflict(op)
			return nil, domainwf.NewError(domainwf.ErrConcurrentModification, instanceID,
				"instance is at version %d, caller read version %d", stored.Version, expectedVersion)
		}

		def, err := e.definitions.GetByID(ctx, stored.DefinitionID)
		if err != nil {
			return nil, err
		}
		count, err := e.logs.CountByInstance(ctx, instanceID)
		if err != nil {
			return nil, fmt.Errorf("failed to count approval log: %w", err)
		}

		c := newChange(stored.Clone(), def, count, e.clock.Now())
		if err := fn(ctx, c); err != nil {
			if lastConflict != nil {
				return nil, domainwf.NewError(domainwf.ErrConcurrentModification, instanceID,
					"%s was invalidated by a concurrent change", op).Wrap(err)
			}
			return nil, err
		}
		if c.noop {
			return c.inst, nil
		}

		err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			c.inst.UpdatedAt = c.now
			if err := e.instances.Update(txCtx, c.inst, stored.Version); err != nil {
				return err
			}
			return e.persist(txCtx, c)
		})
		if err == nil {
			e.observe(c, stored.Status)
			return c.inst, nil
		}
		if !errors.Is(err, domainwf.ErrConcurrentModification) {
			return nil, err
		}

		lastConflict = err
		e.recorder.Conflict(op)
		e.logger.Warn("Version conflict, retrying",
			zap.String("instance_id", instanceID),
			zap.String("operation", op),
			zap.Int("attempt", attempt))
	}
	return nil, lastConflict
}

// persist writes the log entries and outbox messages of a change
func (e *engineImpl) persist(ctx context.Context, c *change) error {
	for _, entry := range c.entries {
		if err := e.logs.Append(ctx, entry); err != nil {
			return err
		}
	}
	for _, evt := range c.events {
		msg, err := toOutbox(evt, c.now)
		if err != nil {
			return err
		}
		if err := e.outbox.Enqueue(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (e *engineImpl) observe(c *change, from domainwf.State) {
	if from != c.inst.Status {
		e.recorder.Transition(c.inst.WorkflowType, from, c.inst.Status)
	}
	for _, evt := range c.events {
		e.logger.Debug("Event queued",
			zap.String("event_type", evt.Type.String()),
			zap.String("instance_id", evt.InstanceID))
	}
	if len(c.events) > 0 && e.committed != nil {
		e.committed()
	}
}

func (e *engineImpl) load(ctx context.Context, instanceID string) (*entity.WorkflowInstance, error) {
	if instanceID == "" {
		return nil, domainwf.Validationf("instance id is required")
	}
	inst, err := e.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}
	if inst == nil {
		return nil, domainwf.NewError(domainwf.ErrNotFound, instanceID, "workflow instance not found")
	}
	return inst, nil
}

func (e *engineImpl) Get(ctx context.Context, instanceID string) (*entity.WorkflowInstance, error) {
	return e.load(ctx, instanceID)
}

func (e *engineImpl) History(ctx context.Context, instanceID string) ([]*entity.ApprovalLogEntry, error) {
	if _, err := e.load(ctx, instanceID); err != nil {
		return nil, err
	}
	entries, err := e.logs.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approval log: %w", err)
	}
	return entries, nil
}

// PendingFor returns the instances waiting on approverID, including slots delegated to it
func (e *engineImpl) PendingFor(ctx context.Context, approverID string, limit int) ([]*entity.WorkflowInstance, error) {
	if approverID == "" {
		return nil, domainwf.Validationf("approver id is required")
	}
	pending, err := e.instances.ListPendingFor(ctx, approverID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances pending for %s: %w", approverID, err)
	}
	return pending, nil
}

func toOutbox(evt *event.Event, now time.Time) (*entity.OutboxMessage, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", evt.Type, err)
	}
	return &entity.OutboxMessage{
		ID:            evt.ID,
		EventType:     evt.Type.String(),
		InstanceID:    evt.InstanceID,
		WorkflowType:  evt.WorkflowType,
		Payload:       payload,
		Status:        entity.OutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domainwf.ErrNotFound)
}
