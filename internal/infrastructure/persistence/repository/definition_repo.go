package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// DefinitionRepository implements port.DefinitionRepository
type DefinitionRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewDefinitionRepository creates a new definition repository
func NewDefinitionRepository(db *sqlite.DB, logger *zap.Logger) port.DefinitionRepository {
	return &DefinitionRepository{
		db:     db,
		logger: logger,
	}
}

const definitionColumns = `
	id, workflow_type, name, version, is_active, content_hash,
	stages, created_by, created_at`

// Create stores a new definition version
func (r *DefinitionRepository) Create(ctx context.Context, def *entity.WorkflowDefinition) error {
	query := `
		INSERT INTO workflow_definitions (` + definitionColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	stages, err := encodeJSON(def.Stages)
	if err != nil {
		return err
	}

	_, err = r.db.Executor(ctx).ExecContext(ctx, query,
		def.ID,
		def.WorkflowType,
		def.Name,
		def.Version,
		def.IsActive,
		def.ContentHash,
		stages,
		def.CreatedBy,
		encodeTime(def.CreatedAt),
	)
	if sqlite.IsUniqueViolation(err) {
		// another publisher took this version or activated first
		return workflow.NewError(workflow.ErrConcurrentModification, "",
			"definition %s version %d already exists", def.WorkflowType, def.Version).Wrap(err)
	}
	if err != nil {
		r.logger.Error("Failed to create definition",
			zap.String("workflow_type", def.WorkflowType),
			zap.Int("version", def.Version),
			zap.Error(err))
		return fmt.Errorf("failed to create definition: %w", err)
	}

	return nil
}

// GetByID retrieves a definition version by ID
func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE id = ?`

	def, err := scanDefinition(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get definition", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}
	return def, nil
}

// GetActive retrieves the active definition of a workflow type
func (r *DefinitionRepository) GetActive(ctx context.Context, workflowType string) (*entity.WorkflowDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM workflow_definitions
		WHERE workflow_type = ? AND is_active = 1
	`

	def, err := scanDefinition(r.db.Executor(ctx).QueryRowContext(ctx, query, workflowType))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get active definition", zap.String("workflow_type", workflowType), zap.Error(err))
		return nil, fmt.Errorf("failed to get active definition: %w", err)
	}
	return def, nil
}

// ListByType lists every version of a workflow type, newest first
func (r *DefinitionRepository) ListByType(ctx context.Context, workflowType string) ([]*entity.WorkflowDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM workflow_definitions
		WHERE workflow_type = ?
		ORDER BY version DESC
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, workflowType)
	if err != nil {
		r.logger.Error("Failed to list definitions", zap.String("workflow_type", workflowType), zap.Error(err))
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer rows.Close()

	var defs []*entity.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		defs = append(defs, def)
	}

	return defs, rows.Err()
}

// Deactivate clears the active flag of a definition version
func (r *DefinitionRepository) Deactivate(ctx context.Context, id string) error {
	query := `UPDATE workflow_definitions SET is_active = 0 WHERE id = ?`

	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, id); err != nil {
		r.logger.Error("Failed to deactivate definition", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to deactivate definition: %w", err)
	}
	return nil
}

func scanDefinition(row rowScanner) (*entity.WorkflowDefinition, error) {
	var def entity.WorkflowDefinition
	var stages, createdAt string

	err := row.Scan(
		&def.ID,
		&def.WorkflowType,
		&def.Name,
		&def.Version,
		&def.IsActive,
		&def.ContentHash,
		&stages,
		&def.CreatedBy,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if err := decodeJSON(stages, &def.Stages); err != nil {
		return nil, err
	}
	if def.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, err
	}
	return &def, nil
}

// Verify interface compliance
var _ port.DefinitionRepository = (*DefinitionRepository)(nil)
