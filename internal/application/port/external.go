package port

import (
	"context"
	"io"

	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// Message is one chat message to one user. Card, when set, replaces Text.
type Message struct {
	// Key identifies the message across retries so the channel can drop
	// repeats of a message it already delivered.
	Key    string
	UserID string
	Text   string
	Card   interface{}
}

// MessageSender delivers chat messages to approvers and initiators
type MessageSender interface {
	Send(ctx context.Context, msg Message) (messageID string, err error)
}

// AuditExporter renders an instance's audit trail into a document
type AuditExporter interface {
	Export(w io.Writer, instance *entity.WorkflowInstance, entries []*entity.ApprovalLogEntry) error
	ContentType() string
	FileExtension() string
}

// EventPublisher hands a stored outbox event to the message bus. It returns
// once the event has been accepted.
type EventPublisher interface {
	Publish(ctx context.Context, msg *entity.OutboxMessage) error
}
