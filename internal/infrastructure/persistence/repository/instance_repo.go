package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// InstanceRepository implements port.InstanceRepository
type InstanceRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *sqlite.DB, logger *zap.Logger) port.InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: logger,
	}
}

const instanceColumns = `
	id, definition_id, workflow_type, entity_type, entity_id, initiator_id,
	status, current_stage, total_stages, current_approvers, stage_approvals,
	stage_delegations, initial_data, current_data, priority, due_date,
	stage_entered_at, stage_deadline, escalated, sent_back, rejection_reason,
	metadata, version, submitted_at, completed_at, created_at, updated_at`

// awaitingFilter matches the statuses that still wait for a decision
const awaitingFilter = `status IN ('PENDING_APPROVAL', 'IN_PROGRESS')`

// instanceRow holds the encoded columns shared by insert and update
type instanceRow struct {
	approvers   string
	approvals   string
	delegations string
	initial     string
	current     string
	metadata    string
}

func encodeInstance(inst *entity.WorkflowInstance) (*instanceRow, error) {
	var row instanceRow
	var err error

	approvers := inst.CurrentApprovers
	if approvers == nil {
		approvers = []string{}
	}
	approvals := inst.StageApprovals
	if approvals == nil {
		approvals = []string{}
	}
	delegations := inst.StageDelegations
	if delegations == nil {
		delegations = map[string]string{}
	}

	if row.approvers, err = encodeJSON(approvers); err != nil {
		return nil, err
	}
	if row.approvals, err = encodeJSON(approvals); err != nil {
		return nil, err
	}
	if row.delegations, err = encodeJSON(delegations); err != nil {
		return nil, err
	}
	if row.initial, err = encodeJSON(inst.InitialDataSnapshot.Clone()); err != nil {
		return nil, err
	}
	if row.current, err = encodeJSON(inst.CurrentDataSnapshot.Clone()); err != nil {
		return nil, err
	}
	metadata := inst.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	if row.metadata, err = encodeJSON(metadata); err != nil {
		return nil, err
	}
	return &row, nil
}

// Create inserts a new workflow instance at version 1
func (r *InstanceRepository) Create(ctx context.Context, inst *entity.WorkflowInstance) error {
	query := `
		INSERT INTO workflow_instances (` + instanceColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if inst.Version == 0 {
		inst.Version = 1
	}

	row, err := encodeInstance(inst)
	if err != nil {
		return err
	}

	_, err = r.db.Executor(ctx).ExecContext(ctx, query,
		inst.ID,
		inst.DefinitionID,
		inst.WorkflowType,
		inst.EntityType,
		inst.EntityID,
		inst.InitiatorID,
		string(inst.Status),
		inst.CurrentStage,
		inst.TotalStages,
		row.approvers,
		row.approvals,
		row.delegations,
		row.initial,
		row.current,
		string(inst.Priority),
		encodeNullTime(inst.DueDate),
		encodeTime(inst.StageEnteredAt),
		encodeNullTime(inst.StageDeadline),
		inst.Escalated,
		inst.SentBack,
		inst.RejectionReason,
		row.metadata,
		inst.Version,
		encodeNullTime(inst.SubmittedAt),
		encodeNullTime(inst.CompletedAt),
		encodeTime(inst.CreatedAt),
		encodeTime(inst.UpdatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create instance", zap.String("instance_id", inst.ID), zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}

	return nil
}

// GetByID retrieves a workflow instance by ID
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE id = ?`

	inst, err := scanInstance(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get instance by ID", zap.String("instance_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return inst, nil
}

// Update writes the instance when the stored version still equals expectedVersion
func (r *InstanceRepository) Update(ctx context.Context, inst *entity.WorkflowInstance, expectedVersion int64) error {
	query := `
		UPDATE workflow_instances SET
			definition_id = ?, status = ?, current_stage = ?, total_stages = ?,
			current_approvers = ?, stage_approvals = ?, stage_delegations = ?,
			initial_data = ?, current_data = ?, priority = ?, due_date = ?,
			stage_entered_at = ?, stage_deadline = ?, escalated = ?, sent_back = ?,
			rejection_reason = ?, metadata = ?, submitted_at = ?, completed_at = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`

	row, err := encodeInstance(inst)
	if err != nil {
		return err
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		inst.DefinitionID,
		string(inst.Status),
		inst.CurrentStage,
		inst.TotalStages,
		row.approvers,
		row.approvals,
		row.delegations,
		row.initial,
		row.current,
		string(inst.Priority),
		encodeNullTime(inst.DueDate),
		encodeTime(inst.StageEnteredAt),
		encodeNullTime(inst.StageDeadline),
		inst.Escalated,
		inst.SentBack,
		inst.RejectionReason,
		row.metadata,
		encodeNullTime(inst.SubmittedAt),
		encodeNullTime(inst.CompletedAt),
		encodeTime(inst.UpdatedAt),
		inst.ID,
		expectedVersion,
	)
	if err != nil {
		r.logger.Error("Failed to update instance", zap.String("instance_id", inst.ID), zap.Error(err))
		return fmt.Errorf("failed to update instance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return workflow.NewError(workflow.ErrConcurrentModification, inst.ID, "expected version %d", expectedVersion)
	}

	inst.Version = expectedVersion + 1
	return nil
}

// ListDue returns awaiting instances whose stage deadline has passed, oldest deadline first
func (r *InstanceRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*entity.WorkflowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE ` + awaitingFilter + `
			AND stage_deadline IS NOT NULL
			AND stage_deadline < ?
		ORDER BY stage_deadline ASC
	`
	args := []interface{}{encodeTime(now)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	return r.query(ctx, "due", query, args...)
}

// pendingForFilter matches the approver on an undecided slot it owns and
// has not delegated, or on an undecided slot delegated to it
const pendingForFilter = `(
	(EXISTS (SELECT 1 FROM json_each(current_approvers) a WHERE a.value = ?)
		AND NOT EXISTS (SELECT 1 FROM json_each(stage_approvals) s WHERE s.value = ?)
		AND NOT EXISTS (SELECT 1 FROM json_each(stage_delegations) d WHERE d.key = ?))
	OR EXISTS (
		SELECT 1 FROM json_each(stage_delegations) d
		WHERE d.value = ?
			AND NOT EXISTS (SELECT 1 FROM json_each(stage_approvals) s WHERE s.value = d.key))
)`

// ListPendingFor returns instances waiting on approverID, newest first
func (r *InstanceRepository) ListPendingFor(ctx context.Context, approverID string, limit int) ([]*entity.WorkflowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE ` + awaitingFilter + ` AND ` + pendingForFilter + `
		ORDER BY created_at DESC
	`
	args := []interface{}{approverID, approverID, approverID, approverID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	return r.query(ctx, "pending", query, args...)
}

// List returns instances matching the filter, newest first
func (r *InstanceRepository) List(ctx context.Context, filter port.InstanceFilter) ([]*entity.WorkflowInstance, error) {
	var conditions []string
	var args []interface{}

	if filter.WorkflowType != "" {
		conditions = append(conditions, "workflow_type = ?")
		args = append(args, filter.WorkflowType)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.InitiatorID != "" {
		conditions = append(conditions, "initiator_id = ?")
		args = append(args, filter.InitiatorID)
	}

	query := `SELECT ` + instanceColumns + ` FROM workflow_instances`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filter.Offset)
	}

	return r.query(ctx, "filtered", query, args...)
}

func (r *InstanceRepository) query(ctx context.Context, kind, query string, args ...interface{}) ([]*entity.WorkflowInstance, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list instances", zap.String("kind", kind), zap.Error(err))
		return nil, fmt.Errorf("failed to list %s instances: %w", kind, err)
	}
	defer rows.Close()

	var instances []*entity.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, inst)
	}

	return instances, rows.Err()
}

func scanInstance(row rowScanner) (*entity.WorkflowInstance, error) {
	var inst entity.WorkflowInstance
	var status, priority string
	var approvers, approvals, delegations, initial, current, metadata string
	var stageEnteredAt, createdAt, updatedAt string
	var dueDate, stageDeadline, submittedAt, completedAt sql.NullString

	err := row.Scan(
		&inst.ID,
		&inst.DefinitionID,
		&inst.WorkflowType,
		&inst.EntityType,
		&inst.EntityID,
		&inst.InitiatorID,
		&status,
		&inst.CurrentStage,
		&inst.TotalStages,
		&approvers,
		&approvals,
		&delegations,
		&initial,
		&current,
		&priority,
		&dueDate,
		&stageEnteredAt,
		&stageDeadline,
		&inst.Escalated,
		&inst.SentBack,
		&inst.RejectionReason,
		&metadata,
		&inst.Version,
		&submittedAt,
		&completedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	inst.Status = workflow.State(status)
	inst.Priority = entity.Priority(priority)

	for _, col := range []struct {
		raw string
		dst interface{}
	}{
		{approvers, &inst.CurrentApprovers},
		{approvals, &inst.StageApprovals},
		{delegations, &inst.StageDelegations},
		{initial, &inst.InitialDataSnapshot},
		{current, &inst.CurrentDataSnapshot},
		{metadata, &inst.Metadata},
	} {
		if err := decodeJSON(col.raw, col.dst); err != nil {
			return nil, err
		}
	}
	if len(inst.StageDelegations) == 0 {
		inst.StageDelegations = nil
	}
	if len(inst.Metadata) == 0 {
		inst.Metadata = nil
	}

	if inst.StageEnteredAt, err = decodeTime(stageEnteredAt); err != nil {
		return nil, err
	}
	if inst.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, err
	}
	if inst.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, err
	}
	if inst.DueDate, err = decodeNullTime(dueDate); err != nil {
		return nil, err
	}
	if inst.StageDeadline, err = decodeNullTime(stageDeadline); err != nil {
		return nil, err
	}
	if inst.SubmittedAt, err = decodeNullTime(submittedAt); err != nil {
		return nil, err
	}
	if inst.CompletedAt, err = decodeNullTime(completedAt); err != nil {
		return nil, err
	}

	return &inst, nil
}

// Verify interface compliance
var _ port.InstanceRepository = (*InstanceRepository)(nil)
