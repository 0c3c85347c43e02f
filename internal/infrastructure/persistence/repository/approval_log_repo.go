package repository

import (
	"context"
	"fmt"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// ApprovalLogRepository implements port.ApprovalLogRepository.
// The table carries triggers that abort any UPDATE or DELETE.
type ApprovalLogRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewApprovalLogRepository creates a new approval log repository
func NewApprovalLogRepository(db *sqlite.DB, logger *zap.Logger) port.ApprovalLogRepository {
	return &ApprovalLogRepository{
		db:     db,
		logger: logger,
	}
}

// Append adds one entry to the audit trail
func (r *ApprovalLogRepository) Append(ctx context.Context, entry *entity.ApprovalLogEntry) error {
	query := `
		INSERT INTO approval_logs (
			id, instance_id, sequence, stage, approver_id, on_behalf_of,
			action, comments, delegated_to, previous_status, new_status,
			previous_stage, new_stage, action_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		entry.ID,
		entry.InstanceID,
		entry.Sequence,
		entry.Stage,
		entry.ApproverID,
		entry.OnBehalfOf,
		string(entry.Action),
		entry.Comments,
		entry.DelegatedTo,
		string(entry.PreviousStatus),
		string(entry.NewStatus),
		entry.PreviousStage,
		entry.NewStage,
		encodeTime(entry.ActionDate),
	)
	if sqlite.IsUniqueViolation(err) {
		return workflow.NewError(workflow.ErrConcurrentModification, entry.InstanceID,
			"log sequence %d already written", entry.Sequence).Wrap(err)
	}
	if err != nil {
		r.logger.Error("Failed to append approval log entry",
			zap.String("instance_id", entry.InstanceID),
			zap.Int("sequence", entry.Sequence),
			zap.Error(err))
		return fmt.Errorf("failed to append approval log entry: %w", err)
	}

	return nil
}

// ListByInstance returns the audit trail of an instance in sequence order
func (r *ApprovalLogRepository) ListByInstance(ctx context.Context, instanceID string) ([]*entity.ApprovalLogEntry, error) {
	query := `
		SELECT id, instance_id, sequence, stage, approver_id, on_behalf_of,
			action, comments, delegated_to, previous_status, new_status,
			previous_stage, new_stage, action_date
		FROM approval_logs
		WHERE instance_id = ?
		ORDER BY sequence ASC
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, instanceID)
	if err != nil {
		r.logger.Error("Failed to list approval log", zap.String("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to list approval log: %w", err)
	}
	defer rows.Close()

	var entries []*entity.ApprovalLogEntry
	for rows.Next() {
		var entry entity.ApprovalLogEntry
		var action, previousStatus, newStatus, actionDate string

		err := rows.Scan(
			&entry.ID,
			&entry.InstanceID,
			&entry.Sequence,
			&entry.Stage,
			&entry.ApproverID,
			&entry.OnBehalfOf,
			&action,
			&entry.Comments,
			&entry.DelegatedTo,
			&previousStatus,
			&newStatus,
			&entry.PreviousStage,
			&entry.NewStage,
			&actionDate,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval log entry: %w", err)
		}

		entry.Action = entity.Action(action)
		entry.PreviousStatus = workflow.State(previousStatus)
		entry.NewStatus = workflow.State(newStatus)
		if entry.ActionDate, err = decodeTime(actionDate); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// CountByInstance returns the number of entries recorded for an instance
func (r *ApprovalLogRepository) CountByInstance(ctx context.Context, instanceID string) (int, error) {
	query := `SELECT COUNT(*) FROM approval_logs WHERE instance_id = ?`

	var count int
	if err := r.db.Executor(ctx).QueryRowContext(ctx, query, instanceID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count approval log entries: %w", err)
	}
	return count, nil
}

// Verify interface compliance
var _ port.ApprovalLogRepository = (*ApprovalLogRepository)(nil)
