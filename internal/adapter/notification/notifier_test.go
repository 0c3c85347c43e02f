package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/application/port/porttest"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
)

var base = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

type sent struct {
	key    string
	userID string
	text   string
	card   map[string]interface{}
}

type fakeSender struct {
	mu       sync.Mutex
	messages []sent
	failFor  string
}

func (f *fakeSender) Send(_ context.Context, msg port.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.UserID == f.failFor {
		return "", errors.New("lark unavailable")
	}
	s := sent{key: msg.Key, userID: msg.UserID, text: msg.Text}
	if msg.Card != nil {
		s.card = msg.Card.(map[string]interface{})
	}
	f.messages = append(f.messages, s)
	return fmt.Sprintf("om_%d", len(f.messages)), nil
}

func (f *fakeSender) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.messages))
	for _, m := range f.messages {
		out = append(out, m.userID)
	}
	return out
}

func loanEvent(t event.Type, extra map[string]interface{}) *event.Event {
	payload := map[string]interface{}{
		event.KeyEntityType:       "loan",
		event.KeyEntityID:         "ln-7",
		event.KeyInitiatorID:      "emp-1",
		event.KeyStage:            1,
		event.KeyPendingApprovers: []string{"mgr-1", "fin-1"},
		event.KeyRequestData:      map[string]interface{}{"amount": 20000, "purpose": "car"},
	}
	for k, v := range extra {
		payload[k] = v
	}
	return event.NewEvent(t, "inst-7", entity.WorkflowTypeLoanApplication, payload, base)
}

func TestNotifier_SendsCardsToPendingApprovers(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, nil)

	require.NoError(t, n.Handle(context.Background(), loanEvent(event.TypeSubmitted, nil)))

	assert.Equal(t, []string{"mgr-1", "fin-1"}, sender.recipients())
	card := sender.messages[0].card
	require.NotNil(t, card)

	raw, err := json.Marshal(card)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"instanceId":"inst-7"`)
	assert.Contains(t, string(raw), `"action":"APPROVE"`)
	assert.Contains(t, string(raw), `"action":"REJECT"`)
	assert.Contains(t, string(raw), "**purpose**: car")
}

func TestNotifier_DelegationOnlyNotifiesDelegate(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, nil)

	evt := loanEvent(event.TypeDelegated, map[string]interface{}{event.KeyDelegatedTo: "dep-9"})
	require.NoError(t, n.Handle(context.Background(), evt))

	assert.Equal(t, []string{"dep-9"}, sender.recipients())
}

func TestNotifier_StageApproval(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, nil)

	partial := loanEvent(event.TypeStageApproved, map[string]interface{}{event.KeyApprovedStage: 1})
	require.NoError(t, n.Handle(context.Background(), partial))
	assert.Empty(t, sender.recipients(), "remaining approvers were already notified")

	advanced := loanEvent(event.TypeStageApproved, map[string]interface{}{
		event.KeyApprovedStage:    1,
		event.KeyStage:            2,
		event.KeyPendingApprovers: []string{"dir-1"},
	})
	require.NoError(t, n.Handle(context.Background(), advanced))
	assert.Equal(t, []string{"dir-1"}, sender.recipients())
}

func TestNotifier_OutcomeGoesToInitiator(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, nil)

	evt := loanEvent(event.TypeRejected, map[string]interface{}{event.KeyRejectionReason: "exceeds limit"})
	require.NoError(t, n.Handle(context.Background(), evt))

	require.Len(t, sender.messages, 1)
	assert.Equal(t, "emp-1", sender.messages[0].userID)
	assert.Equal(t, "Your loan ln-7 has been rejected. Reason: exceeds limit", sender.messages[0].text)
}

func TestNotifier_FailedSendFailsEvent(t *testing.T) {
	sender := &fakeSender{failFor: "fin-1"}
	n := NewNotifier(sender, nil)

	err := n.Handle(context.Background(), loanEvent(event.TypeEscalated, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fin-1")
	assert.Equal(t, []string{"mgr-1"}, sender.recipients(), "other approvers are still notified")
}

func TestNotifier_MessageKeysAreStablePerRecipient(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, nil)
	evt := loanEvent(event.TypeSubmitted, nil)

	require.NoError(t, n.Handle(context.Background(), evt))
	require.NoError(t, n.Handle(context.Background(), evt))

	require.Len(t, sender.messages, 4)
	assert.Equal(t, sender.messages[0].key, sender.messages[2].key, "a resend reuses the key")
	assert.NotEqual(t, sender.messages[0].key, sender.messages[1].key, "each recipient has its own key")
	assert.Len(t, sender.messages[0].key, 36)
}

func TestNotifier_RedeliveryIsDeduplicated(t *testing.T) {
	mem := porttest.NewMemory()
	sender := &fakeSender{}
	d := dispatcher.NewDispatcher()
	dedup := dispatcher.NewDeduplicator(mem.Processed(), mem, porttest.NewFakeClock(base))
	require.NoError(t, NewNotifier(sender, nil).Register(d, dedup, entity.WorkflowTypeLoanApplication))

	ctx := context.Background()
	approved := loanEvent(event.TypeApproved, nil)
	require.NoError(t, d.Dispatch(ctx, approved))
	require.NoError(t, d.Dispatch(ctx, approved))

	assert.Equal(t, []string{"emp-1"}, sender.recipients())
}

func TestOutcomeText(t *testing.T) {
	tests := []struct {
		name string
		evt  *event.Event
		want string
	}{
		{"approved", loanEvent(event.TypeApproved, nil), "Your loan ln-7 has been approved."},
		{"cancelled", loanEvent(event.TypeCancelled, map[string]interface{}{event.KeyComments: "duplicate"}), "Your loan ln-7 has been cancelled. Comments: duplicate"},
		{"sent back", loanEvent(event.TypeSentBack, map[string]interface{}{event.KeyComments: "attach payslip"}), "Your loan ln-7 was sent back for changes. Comments: attach payslip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutcomeText(tt.evt))
		})
	}
}
