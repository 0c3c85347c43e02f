package websocket

import (
	"context"
	"errors"
	"testing"

	larkevent "github.com/larksuite/oapi-sdk-go/v3/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appworkflow "github.com/garyjia/approval-engine/internal/application/workflow"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

type fakeDecider struct {
	requests []appworkflow.DecisionRequest
	err      error
}

func (f *fakeDecider) Decide(_ context.Context, req appworkflow.DecisionRequest) (*entity.WorkflowInstance, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &entity.WorkflowInstance{ID: req.InstanceID, Status: workflow.StateInProgress}, nil
}

func cardEvent(body string) *larkevent.EventReq {
	return &larkevent.EventReq{Body: []byte(body)}
}

func TestHandleCardAction_Approve(t *testing.T) {
	decider := &fakeDecider{}
	a := NewLarkAdapter(LarkAdapterConfig{}, decider, zap.NewNop())

	err := a.HandleCardAction(context.Background(), cardEvent(`{
		"header": {"event_type": "card.action.trigger"},
		"event": {
			"operator": {"user_id": "mgr-1", "open_id": "ou_123"},
			"action": {
				"value": {"instanceId": "inst-1", "action": "APPROVE"},
				"form_value": {"comments": "  looks fine "}
			}
		}
	}`))
	require.NoError(t, err)

	require.Len(t, decider.requests, 1)
	assert.Equal(t, appworkflow.DecisionRequest{
		InstanceID: "inst-1",
		ApproverID: "mgr-1",
		Action:     entity.ActionApprove,
		Comments:   "looks fine",
	}, decider.requests[0])
}

func TestHandleCardAction_FallsBackToOpenIDAndInputValue(t *testing.T) {
	decider := &fakeDecider{}
	a := NewLarkAdapter(LarkAdapterConfig{}, decider, zap.NewNop())

	err := a.HandleCardAction(context.Background(), cardEvent(`{
		"event": {
			"operator": {"open_id": "ou_123"},
			"action": {"value": {"instanceId": "inst-2", "action": "reject"}, "input_value": "over budget"}
		}
	}`))
	require.NoError(t, err)

	require.Len(t, decider.requests, 1)
	assert.Equal(t, "ou_123", decider.requests[0].ApproverID)
	assert.Equal(t, entity.ActionReject, decider.requests[0].Action)
	assert.Equal(t, "over budget", decider.requests[0].Comments)
}

func TestHandleCardAction_IgnoresForeignActions(t *testing.T) {
	decider := &fakeDecider{}
	a := NewLarkAdapter(LarkAdapterConfig{}, decider, zap.NewNop())

	bodies := []string{
		`{"event": {"operator": {"user_id": "u"}, "action": {"value": {"foo": "bar"}}}}`,
		`{"event": {"operator": {"user_id": "u"}, "action": {"value": {"instanceId": "i", "action": "DELEGATE"}}}}`,
		`{"event": {"action": {"value": {"instanceId": "i", "action": "APPROVE"}}}}`,
	}
	for _, body := range bodies {
		require.NoError(t, a.HandleCardAction(context.Background(), cardEvent(body)))
	}
	assert.Empty(t, decider.requests)
}

func TestHandleCardAction_Errors(t *testing.T) {
	body := `{"event": {"operator": {"user_id": "hr-9"}, "action": {"value": {"instanceId": "inst-3", "action": "APPROVE"}}}}`

	refused := &fakeDecider{err: workflow.NewError(workflow.ErrUnauthorizedApprover, "inst-3", "hr-9 is not an approver")}
	a := NewLarkAdapter(LarkAdapterConfig{}, refused, zap.NewNop())
	assert.NoError(t, a.HandleCardAction(context.Background(), cardEvent(body)), "refused decisions are acknowledged")

	broken := &fakeDecider{err: errors.New("database is locked")}
	a = NewLarkAdapter(LarkAdapterConfig{}, broken, zap.NewNop())
	assert.Error(t, a.HandleCardAction(context.Background(), cardEvent(body)))

	assert.Error(t, a.HandleCardAction(context.Background(), cardEvent(`not json`)))
}
