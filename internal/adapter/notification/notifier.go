// Package notification tells approvers and initiators about workflow events
// over a chat channel.
package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/event"
)

// ConsumerName identifies the notifier in processed_events
const ConsumerName = "lark-notifier"

// Notifier sends approval cards to pending approvers and outcome messages to
// initiators
type Notifier struct {
	sender port.MessageSender
	logger *zap.Logger
}

// NewNotifier creates a Notifier
func NewNotifier(sender port.MessageSender, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{sender: sender, logger: logger}
}

// Register subscribes the notifier for each workflow type, behind the deduplicator
func (n *Notifier) Register(d dispatcher.Dispatcher, dedup *dispatcher.Deduplicator, workflowTypes ...string) error {
	handler := dedup.Wrap(ConsumerName, n.Handle)
	for _, wt := range workflowTypes {
		if err := d.Subscribe(dispatcher.AllEvents(wt), ConsumerName, handler); err != nil {
			return err
		}
	}
	return nil
}

// Handle sends the messages for one event. A failed send fails the event so
// the bus retries it.
func (n *Notifier) Handle(ctx context.Context, evt *event.Event) error {
	switch evt.Type {
	case event.TypeSubmitted, event.TypeStageApproved, event.TypeDelegated, event.TypeEscalated:
		return n.notifyApprovers(ctx, evt)
	case event.TypeApproved, event.TypeRejected, event.TypeCancelled, event.TypeSentBack:
		return n.notifyInitiator(ctx, evt)
	}
	return nil
}

func (n *Notifier) notifyApprovers(ctx context.Context, evt *event.Event) error {
	if evt.Type == event.TypeStageApproved && evt.GetPayloadInt(event.KeyApprovedStage) == evt.GetPayloadInt(event.KeyStage) {
		// partial approval, the remaining approvers already hold a card
		return nil
	}

	recipients := evt.GetPayloadStrings(event.KeyPendingApprovers)
	if evt.Type == event.TypeDelegated {
		// only the new delegate needs a card
		if delegate := evt.GetPayloadString(event.KeyDelegatedTo); delegate != "" {
			recipients = []string{delegate}
		}
	}
	if len(recipients) == 0 {
		return nil
	}

	card := BuildApprovalCard(evt)
	var errs []error
	for _, approverID := range recipients {
		msg := port.Message{Key: messageKey(evt, approverID), UserID: approverID, Card: card}
		if _, err := n.sender.Send(ctx, msg); err != nil {
			n.logger.Warn("Failed to send approval card",
				zap.String("instance_id", evt.InstanceID),
				zap.String("approver_id", approverID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("card to %s: %w", approverID, err))
			continue
		}
		n.logger.Debug("Approval card sent",
			zap.String("instance_id", evt.InstanceID),
			zap.String("approver_id", approverID),
			zap.String("event_type", evt.Type.String()))
	}
	return errors.Join(errs...)
}

func (n *Notifier) notifyInitiator(ctx context.Context, evt *event.Event) error {
	initiatorID := evt.GetPayloadString(event.KeyInitiatorID)
	if initiatorID == "" {
		n.logger.Warn("Event has no initiator to notify",
			zap.String("instance_id", evt.InstanceID),
			zap.String("event_type", evt.Type.String()))
		return nil
	}

	msg := port.Message{Key: messageKey(evt, initiatorID), UserID: initiatorID, Text: OutcomeText(evt)}
	if _, err := n.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to notify initiator %s: %w", initiatorID, err)
	}

	n.logger.Info("Initiator notified",
		zap.String("instance_id", evt.InstanceID),
		zap.String("initiator_id", initiatorID),
		zap.String("event_type", evt.Type.String()))
	return nil
}

// messageKey is stable for an event and recipient, so a redelivered event
// that already reached some recipients does not message them twice
func messageKey(evt *event.Event, userID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(evt.ID+"/"+userID)).String()
}
