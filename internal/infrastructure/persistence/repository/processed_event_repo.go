package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// ProcessedEventRepository implements port.ProcessedEventRepository
type ProcessedEventRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewProcessedEventRepository creates a new processed event repository
func NewProcessedEventRepository(db *sqlite.DB, logger *zap.Logger) port.ProcessedEventRepository {
	return &ProcessedEventRepository{
		db:     db,
		logger: logger,
	}
}

// MarkProcessed inserts the consumer's key, reporting false if it was already there
func (r *ProcessedEventRepository) MarkProcessed(ctx context.Context, consumer, key string, at time.Time) (bool, error) {
	query := `
		INSERT OR IGNORE INTO processed_events (consumer, dedup_key, processed_at)
		VALUES (?, ?, ?)
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query, consumer, key, encodeTime(at))
	if err != nil {
		r.logger.Error("Failed to mark event processed",
			zap.String("consumer", consumer),
			zap.String("key", key),
			zap.Error(err))
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected == 1, nil
}

// Verify interface compliance
var _ port.ProcessedEventRepository = (*ProcessedEventRepository)(nil)
