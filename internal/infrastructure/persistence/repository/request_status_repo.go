package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// RequestStatusRepository implements port.RequestStatusRepository
type RequestStatusRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewRequestStatusRepository creates a new request status repository
func NewRequestStatusRepository(db *sqlite.DB, logger *zap.Logger) port.RequestStatusRepository {
	return &RequestStatusRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert writes the status of a domain request
func (r *RequestStatusRepository) Upsert(ctx context.Context, status *entity.RequestStatus) error {
	query := `
		INSERT INTO request_status (
			entity_type, entity_id, instance_id, workflow_type, status,
			last_event, reason, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			instance_id = excluded.instance_id,
			workflow_type = excluded.workflow_type,
			status = excluded.status,
			last_event = excluded.last_event,
			reason = excluded.reason,
			updated_at = excluded.updated_at
	`

	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		status.EntityType,
		status.EntityID,
		status.InstanceID,
		status.WorkflowType,
		status.Status,
		status.LastEvent,
		status.Reason,
		encodeTime(status.UpdatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to upsert request status",
			zap.String("entity_type", status.EntityType),
			zap.String("entity_id", status.EntityID),
			zap.Error(err))
		return fmt.Errorf("failed to upsert request status: %w", err)
	}

	return nil
}

// Get retrieves the status of a domain request
func (r *RequestStatusRepository) Get(ctx context.Context, entityType, entityID string) (*entity.RequestStatus, error) {
	query := `
		SELECT entity_type, entity_id, instance_id, workflow_type, status,
			last_event, reason, updated_at
		FROM request_status
		WHERE entity_type = ? AND entity_id = ?
	`

	var status entity.RequestStatus
	var updatedAt string

	err := r.db.Executor(ctx).QueryRowContext(ctx, query, entityType, entityID).Scan(
		&status.EntityType,
		&status.EntityID,
		&status.InstanceID,
		&status.WorkflowType,
		&status.Status,
		&status.LastEvent,
		&status.Reason,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get request status", zap.String("entity_id", entityID), zap.Error(err))
		return nil, fmt.Errorf("failed to get request status: %w", err)
	}

	if status.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return nil, err
	}
	return &status, nil
}

// Verify interface compliance
var _ port.RequestStatusRepository = (*RequestStatusRepository)(nil)
