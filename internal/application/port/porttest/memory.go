// Package porttest provides in-memory implementations of the persistence
// ports for application-level tests.
package porttest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

type txKey struct{}

// Memory holds every record set and acts as the transaction manager.
// Transactions are serialized and rolled back by restoring a snapshot.
type Memory struct {
	txMu sync.Mutex
	mu   sync.Mutex

	definitions map[string]*entity.WorkflowDefinition
	instances   map[string]*entity.WorkflowInstance
	logs        []*entity.ApprovalLogEntry
	outbox      []*entity.OutboxMessage
	processed   map[string]time.Time
	statuses    map[string]*entity.RequestStatus

	// BeforeUpdate runs inside InstanceRepository.Update before the version
	// check, letting tests simulate a concurrent writer.
	BeforeUpdate func(instanceID string)

	// FailAppend makes the next log append fail once
	FailAppend error

	// writes made by simulated concurrent writers survive a rollback
	external []func()
}

// NewMemory creates an empty store
func NewMemory() *Memory {
	return &Memory{
		definitions: make(map[string]*entity.WorkflowDefinition),
		instances:   make(map[string]*entity.WorkflowInstance),
		processed:   make(map[string]time.Time),
		statuses:    make(map[string]*entity.RequestStatus),
	}
}

type snapshot struct {
	definitions map[string]*entity.WorkflowDefinition
	instances   map[string]*entity.WorkflowInstance
	logs        []*entity.ApprovalLogEntry
	outbox      []*entity.OutboxMessage
	processed   map[string]time.Time
	statuses    map[string]*entity.RequestStatus
}

func (m *Memory) snapshot() snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := snapshot{
		definitions: make(map[string]*entity.WorkflowDefinition, len(m.definitions)),
		instances:   make(map[string]*entity.WorkflowInstance, len(m.instances)),
		logs:        append([]*entity.ApprovalLogEntry(nil), m.logs...),
		processed:   make(map[string]time.Time, len(m.processed)),
		statuses:    make(map[string]*entity.RequestStatus, len(m.statuses)),
	}
	for k, v := range m.definitions {
		c := *v
		s.definitions[k] = &c
	}
	for k, v := range m.instances {
		s.instances[k] = v.Clone()
	}
	for _, o := range m.outbox {
		c := *o
		s.outbox = append(s.outbox, &c)
	}
	for k, v := range m.processed {
		s.processed[k] = v
	}
	for k, v := range m.statuses {
		c := *v
		s.statuses[k] = &c
	}
	return s
}

func (m *Memory) restore(s snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.definitions = s.definitions
	m.instances = s.instances
	m.logs = s.logs
	m.outbox = s.outbox
	m.processed = s.processed
	m.statuses = s.statuses
	for _, apply := range m.external {
		apply()
	}
}

// WithTransaction implements port.TransactionManager
func (m *Memory) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	saved := m.snapshot()
	m.mu.Lock()
	m.external = nil
	m.mu.Unlock()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		m.restore(saved)
		return err
	}
	return nil
}

// Definitions returns the definition repository view
func (m *Memory) Definitions() port.DefinitionRepository { return definitionRepo{m} }

// Instances returns the instance repository view
func (m *Memory) Instances() port.InstanceRepository { return instanceRepo{m} }

// Logs returns the approval log repository view
func (m *Memory) Logs() port.ApprovalLogRepository { return logRepo{m} }

// Outbox returns the outbox repository view
func (m *Memory) Outbox() port.OutboxRepository { return outboxRepo{m} }

// Processed returns the processed-event repository view
func (m *Memory) Processed() port.ProcessedEventRepository { return processedRepo{m} }

// Statuses returns the request status repository view
func (m *Memory) Statuses() port.RequestStatusRepository { return statusRepo{m} }

// OutboxMessages returns a copy of every outbox row in insertion order
func (m *Memory) OutboxMessages() []entity.OutboxMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entity.OutboxMessage, 0, len(m.outbox))
	for _, o := range m.outbox {
		out = append(out, *o)
	}
	return out
}

// OutboxTypes returns the event types enqueued for an instance, in order
func (m *Memory) OutboxTypes(instanceID string) []string {
	var out []string
	for _, o := range m.OutboxMessages() {
		if o.InstanceID == instanceID {
			out = append(out, o.EventType)
		}
	}
	return out
}

// BumpVersion simulates another writer committing a change to the instance
func (m *Memory) BumpVersion(instanceID string) {
	m.Mutate(instanceID, func(*entity.WorkflowInstance) {})
}

// Mutate simulates another writer changing the instance and committing
func (m *Memory) Mutate(instanceID string, fn func(inst *entity.WorkflowInstance)) {
	apply := func() {
		if inst, ok := m.instances[instanceID]; ok {
			fn(inst)
			inst.Version++
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	apply()
	m.external = append(m.external, apply)
}

type definitionRepo struct{ m *Memory }

func (r definitionRepo) Create(ctx context.Context, def *entity.WorkflowDefinition) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c := *def
	r.m.definitions[def.ID] = &c
	return nil
}

func (r definitionRepo) GetByID(ctx context.Context, id string) (*entity.WorkflowDefinition, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if d, ok := r.m.definitions[id]; ok {
		c := *d
		return &c, nil
	}
	return nil, nil
}

func (r definitionRepo) GetActive(ctx context.Context, workflowType string) (*entity.WorkflowDefinition, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, d := range r.m.definitions {
		if d.WorkflowType == workflowType && d.IsActive {
			c := *d
			return &c, nil
		}
	}
	return nil, nil
}

func (r definitionRepo) ListByType(ctx context.Context, workflowType string) ([]*entity.WorkflowDefinition, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*entity.WorkflowDefinition
	for _, d := range r.m.definitions {
		if d.WorkflowType == workflowType {
			c := *d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (r definitionRepo) Deactivate(ctx context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if d, ok := r.m.definitions[id]; ok {
		d.IsActive = false
	}
	return nil
}

type instanceRepo struct{ m *Memory }

func (r instanceRepo) Create(ctx context.Context, inst *entity.WorkflowInstance) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if inst.Version == 0 {
		inst.Version = 1
	}
	r.m.instances[inst.ID] = inst.Clone()
	return nil
}

func (r instanceRepo) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if inst, ok := r.m.instances[id]; ok {
		return inst.Clone(), nil
	}
	return nil, nil
}

func (r instanceRepo) Update(ctx context.Context, inst *entity.WorkflowInstance, expectedVersion int64) error {
	if hook := r.m.BeforeUpdate; hook != nil {
		hook(inst.ID)
	}

	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stored, ok := r.m.instances[inst.ID]
	if !ok || stored.Version != expectedVersion {
		return workflow.NewError(workflow.ErrConcurrentModification, inst.ID, "expected version %d", expectedVersion)
	}
	inst.Version = expectedVersion + 1
	r.m.instances[inst.ID] = inst.Clone()
	return nil
}

func (r instanceRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*entity.WorkflowInstance, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*entity.WorkflowInstance
	for _, inst := range r.m.instances {
		if inst.Status.IsAwaitingDecision() && inst.StageDeadline != nil && inst.StageDeadline.Before(now) {
			out = append(out, inst.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StageDeadline.Before(*out[j].StageDeadline) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r instanceRepo) ListPendingFor(ctx context.Context, approverID string, limit int) ([]*entity.WorkflowInstance, error) {
	all, _ := r.List(ctx, port.InstanceFilter{})
	var out []*entity.WorkflowInstance
	for _, inst := range all {
		if !inst.Status.IsAwaitingDecision() {
			continue
		}
		for _, pending := range inst.PendingApprovers() {
			if pending == approverID {
				out = append(out, inst)
				break
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r instanceRepo) List(ctx context.Context, f port.InstanceFilter) ([]*entity.WorkflowInstance, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*entity.WorkflowInstance
	for _, inst := range r.m.instances {
		if f.WorkflowType != "" && inst.WorkflowType != f.WorkflowType {
			continue
		}
		if f.InitiatorID != "" && inst.InitiatorID != f.InitiatorID {
			continue
		}
		if f.Status != "" && inst.Status != f.Status {
			continue
		}
		out = append(out, inst.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

type logRepo struct{ m *Memory }

func (r logRepo) Append(ctx context.Context, entry *entity.ApprovalLogEntry) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if err := r.m.FailAppend; err != nil {
		r.m.FailAppend = nil
		return err
	}
	c := *entry
	r.m.logs = append(r.m.logs, &c)
	return nil
}

func (r logRepo) ListByInstance(ctx context.Context, instanceID string) ([]*entity.ApprovalLogEntry, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*entity.ApprovalLogEntry
	for _, e := range r.m.logs {
		if e.InstanceID == instanceID {
			c := *e
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (r logRepo) CountByInstance(ctx context.Context, instanceID string) (int, error) {
	entries, _ := r.ListByInstance(ctx, instanceID)
	return len(entries), nil
}

type outboxRepo struct{ m *Memory }

func (r outboxRepo) Enqueue(ctx context.Context, msg *entity.OutboxMessage) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c := *msg
	r.m.outbox = append(r.m.outbox, &c)
	return nil
}

func (r outboxRepo) FetchPending(ctx context.Context, now time.Time, limit int) ([]*entity.OutboxMessage, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*entity.OutboxMessage
	for _, o := range r.m.outbox {
		if o.Status == entity.OutboxStatusPending && !o.NextAttemptAt.After(now) {
			c := *o
			out = append(out, &c)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r outboxRepo) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, o := range r.m.outbox {
		if o.ID == id {
			o.Status = entity.OutboxStatusDelivered
			o.DeliveredAt = &at
		}
	}
	return nil
}

func (r outboxRepo) MarkFailed(ctx context.Context, id, lastError string, next time.Time, dead bool) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, o := range r.m.outbox {
		if o.ID == id {
			o.Attempts++
			o.LastError = lastError
			o.NextAttemptAt = next
			if dead {
				o.Status = entity.OutboxStatusFailed
			}
		}
	}
	return nil
}

func (r outboxRepo) CountByStatus(ctx context.Context, status string) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	n := 0
	for _, o := range r.m.outbox {
		if o.Status == status {
			n++
		}
	}
	return n, nil
}

type processedRepo struct{ m *Memory }

func (r processedRepo) MarkProcessed(ctx context.Context, consumer, key string, at time.Time) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	k := consumer + "|" + key
	if _, ok := r.m.processed[k]; ok {
		return false, nil
	}
	r.m.processed[k] = at
	return true, nil
}

type statusRepo struct{ m *Memory }

func (r statusRepo) Upsert(ctx context.Context, s *entity.RequestStatus) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c := *s
	r.m.statuses[s.EntityType+"|"+s.EntityID] = &c
	return nil
}

func (r statusRepo) Get(ctx context.Context, entityType, entityID string) (*entity.RequestStatus, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if s, ok := r.m.statuses[entityType+"|"+entityID]; ok {
		c := *s
		return &c, nil
	}
	return nil, nil
}

var _ port.TransactionManager = (*Memory)(nil)
