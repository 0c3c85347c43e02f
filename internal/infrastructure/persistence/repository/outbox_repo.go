package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// OutboxRepository implements port.OutboxRepository
type OutboxRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *sqlite.DB, logger *zap.Logger) port.OutboxRepository {
	return &OutboxRepository{
		db:     db,
		logger: logger,
	}
}

// Enqueue stores an event for the relay
func (r *OutboxRepository) Enqueue(ctx context.Context, msg *entity.OutboxMessage) error {
	query := `
		INSERT INTO outbox_events (
			id, event_type, instance_id, workflow_type, payload, status,
			attempts, next_attempt_at, last_error, created_at, delivered_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	status := msg.Status
	if status == "" {
		status = entity.OutboxStatusPending
	}
	next := msg.NextAttemptAt
	if next.IsZero() {
		next = msg.CreatedAt
	}

	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		msg.ID,
		msg.EventType,
		msg.InstanceID,
		msg.WorkflowType,
		string(msg.Payload),
		status,
		msg.Attempts,
		encodeTime(next),
		msg.LastError,
		encodeTime(msg.CreatedAt),
		encodeNullTime(msg.DeliveredAt),
	)
	if err != nil {
		r.logger.Error("Failed to enqueue outbox event",
			zap.String("event_type", msg.EventType),
			zap.String("instance_id", msg.InstanceID),
			zap.Error(err))
		return fmt.Errorf("failed to enqueue outbox event: %w", err)
	}

	return nil
}

// FetchPending returns pending events due for delivery, oldest first
func (r *OutboxRepository) FetchPending(ctx context.Context, now time.Time, limit int) ([]*entity.OutboxMessage, error) {
	query := `
		SELECT id, event_type, instance_id, workflow_type, payload, status,
			attempts, next_attempt_at, last_error, created_at, delivered_at
		FROM outbox_events
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY created_at ASC, rowid ASC
	`
	args := []interface{}{entity.OutboxStatusPending, encodeTime(now)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to fetch pending outbox events", zap.Error(err))
		return nil, fmt.Errorf("failed to fetch pending outbox events: %w", err)
	}
	defer rows.Close()

	var msgs []*entity.OutboxMessage
	for rows.Next() {
		var msg entity.OutboxMessage
		var payload, nextAttemptAt, createdAt string
		var deliveredAt sql.NullString

		err := rows.Scan(
			&msg.ID,
			&msg.EventType,
			&msg.InstanceID,
			&msg.WorkflowType,
			&payload,
			&msg.Status,
			&msg.Attempts,
			&nextAttemptAt,
			&msg.LastError,
			&createdAt,
			&deliveredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}

		msg.Payload = []byte(payload)
		if msg.NextAttemptAt, err = decodeTime(nextAttemptAt); err != nil {
			return nil, err
		}
		if msg.CreatedAt, err = decodeTime(createdAt); err != nil {
			return nil, err
		}
		if msg.DeliveredAt, err = decodeNullTime(deliveredAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, &msg)
	}

	return msgs, rows.Err()
}

// MarkDelivered records a successful publish
func (r *OutboxRepository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE outbox_events SET status = ?, delivered_at = ? WHERE id = ?`

	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, entity.OutboxStatusDelivered, encodeTime(at), id); err != nil {
		r.logger.Error("Failed to mark outbox event delivered", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark outbox event delivered: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt. A dead event is never retried.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id string, lastError string, nextAttemptAt time.Time, dead bool) error {
	query := `
		UPDATE outbox_events
		SET attempts = attempts + 1, last_error = ?, next_attempt_at = ?, status = ?
		WHERE id = ?
	`

	status := entity.OutboxStatusPending
	if dead {
		status = entity.OutboxStatusFailed
	}

	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, lastError, encodeTime(nextAttemptAt), status, id); err != nil {
		r.logger.Error("Failed to mark outbox event failed", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark outbox event failed: %w", err)
	}
	return nil
}

// CountByStatus counts events in a delivery status
func (r *OutboxRepository) CountByStatus(ctx context.Context, status string) (int, error) {
	query := `SELECT COUNT(*) FROM outbox_events WHERE status = ?`

	var count int
	if err := r.db.Executor(ctx).QueryRowContext(ctx, query, status).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count outbox events: %w", err)
	}
	return count, nil
}

// Verify interface compliance
var _ port.OutboxRepository = (*OutboxRepository)(nil)
