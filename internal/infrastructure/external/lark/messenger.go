package lark

import (
	"context"
	"encoding/json"
	"fmt"

	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
)

const (
	msgTypeText        = "text"
	msgTypeInteractive = "interactive"

	// the IM API deduplicates on uuid for one hour and accepts at most 50 chars
	maxUUIDLen = 50
)

// Messenger implements port.MessageSender over the Lark IM API
type Messenger struct {
	client *SDKClient
	logger *zap.Logger
}

// NewMessenger creates a new Lark message sender adapter
func NewMessenger(client *SDKClient, logger *zap.Logger) *Messenger {
	return &Messenger{client: client, logger: logger}
}

// Send delivers msg as an interactive card when it carries one, as text
// otherwise. msg.Key becomes the request uuid, so Lark drops a resend of a
// message it already delivered within the hour.
func (m *Messenger) Send(ctx context.Context, msg port.Message) (string, error) {
	if msg.UserID == "" {
		return "", fmt.Errorf("message has no recipient")
	}
	msgType, content, err := encodeContent(msg)
	if err != nil {
		return "", err
	}

	body := larkIm.NewCreateMessageReqBodyBuilder().
		ReceiveId(msg.UserID).
		MsgType(msgType).
		Content(content)
	if msg.Key != "" {
		if len(msg.Key) > maxUUIDLen {
			return "", fmt.Errorf("message key %q is longer than %d characters", msg.Key, maxUUIDLen)
		}
		body = body.Uuid(msg.Key)
	}

	req := larkIm.NewCreateMessageReqBuilder().
		ReceiveIdType(m.client.ReceiveIDType()).
		Body(body.Build()).
		Build()

	resp, err := m.client.GetClient().Im.Message.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to send %s message to %s: %w", msgType, msg.UserID, err)
	}
	if !resp.Success() {
		m.logger.Warn("Lark rejected message",
			zap.String("receive_id", msg.UserID),
			zap.String("msg_type", msgType),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return "", fmt.Errorf("lark error %d: %s", resp.Code, resp.Msg)
	}

	var messageID string
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}
	m.logger.Debug("Message sent",
		zap.String("message_id", messageID),
		zap.String("receive_id", msg.UserID),
		zap.String("msg_type", msgType))
	return messageID, nil
}

// encodeContent renders the IM content JSON for a message
func encodeContent(msg port.Message) (msgType, content string, err error) {
	if msg.Card != nil {
		raw, err := json.Marshal(msg.Card)
		if err != nil {
			return "", "", fmt.Errorf("failed to encode card: %w", err)
		}
		return msgTypeInteractive, string(raw), nil
	}
	if msg.Text == "" {
		return "", "", fmt.Errorf("message to %s has neither text nor card", msg.UserID)
	}
	raw, err := json.Marshal(map[string]string{"text": msg.Text})
	if err != nil {
		return "", "", fmt.Errorf("failed to encode text: %w", err)
	}
	return msgTypeText, string(raw), nil
}

var _ port.MessageSender = (*Messenger)(nil)
