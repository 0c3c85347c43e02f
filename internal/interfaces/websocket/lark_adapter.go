// Package websocket receives approver actions from Lark over its long
// connection and turns them into engine decisions.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	larkevent "github.com/larksuite/oapi-sdk-go/v3/event"
	larkdispatcher "github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/adapter/notification"
	appworkflow "github.com/garyjia/approval-engine/internal/application/workflow"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// CardActionEventType is the callback Lark sends when a card button is pressed
const CardActionEventType = "card.action.trigger"

// Decider is the part of the engine the listener drives
type Decider interface {
	Decide(ctx context.Context, req appworkflow.DecisionRequest) (*entity.WorkflowInstance, error)
}

// LarkAdapterConfig holds configuration for the Lark long connection
type LarkAdapterConfig struct {
	AppID     string
	AppSecret string
}

// LarkAdapter listens for Approve and Reject presses on approval cards
type LarkAdapter struct {
	cfg     LarkAdapterConfig
	decider Decider
	logger  *zap.Logger

	mu      sync.RWMutex
	started bool
}

// NewLarkAdapter creates a new Lark card-action adapter
func NewLarkAdapter(cfg LarkAdapterConfig, decider Decider, logger *zap.Logger) *LarkAdapter {
	return &LarkAdapter{
		cfg:     cfg,
		decider: decider,
		logger:  logger,
	}
}

// Start opens the long connection in the background
func (a *LarkAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("adapter already started")
	}

	// Verification token and encrypt key are not used over the long connection
	sdkDispatcher := larkdispatcher.NewEventDispatcher("", "")
	sdkDispatcher.OnCustomizedEvent(CardActionEventType, a.HandleCardAction)

	wsClient := larkws.NewClient(a.cfg.AppID, a.cfg.AppSecret,
		larkws.WithEventHandler(sdkDispatcher),
	)

	a.logger.Info("Starting Lark card-action listener", zap.String("app_id", a.cfg.AppID))
	go func() {
		if err := wsClient.Start(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("Lark WebSocket client error", zap.Error(err))
		}
	}()

	a.started = true
	return nil
}

// Stop marks the adapter stopped. The connection closes with the context
// passed to Start.
func (a *LarkAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	a.started = false
	a.logger.Info("Lark card-action listener stopped")
	return nil
}

// Name returns the worker name
func (a *LarkAdapter) Name() string {
	return "LarkCardActionListener"
}

// IsRunning returns whether the adapter is currently running
func (a *LarkAdapter) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.started
}

type cardActionEvent struct {
	Header struct {
		EventType string `json:"event_type"`
	} `json:"header"`
	Event struct {
		Operator struct {
			UserID string `json:"user_id"`
			OpenID string `json:"open_id"`
		} `json:"operator"`
		Action struct {
			Value      map[string]interface{} `json:"value"`
			FormValue  map[string]interface{} `json:"form_value"`
			InputValue string                 `json:"input_value"`
		} `json:"action"`
	} `json:"event"`
}

// HandleCardAction applies the decision carried by a card callback. Decisions
// the engine refuses are logged and acknowledged so Lark does not resend them.
func (a *LarkAdapter) HandleCardAction(ctx context.Context, evt *larkevent.EventReq) error {
	var payload cardActionEvent
	if err := json.Unmarshal(evt.Body, &payload); err != nil {
		a.logger.Error("Failed to parse card action payload",
			zap.Error(err),
			zap.String("body", string(evt.Body)))
		return fmt.Errorf("failed to parse card action payload: %w", err)
	}

	req, ok := a.toDecision(payload)
	if !ok {
		return nil
	}

	inst, err := a.decider.Decide(ctx, req)
	if err != nil {
		if isRefusal(err) {
			a.logger.Warn("Card decision refused",
				zap.String("instance_id", req.InstanceID),
				zap.String("approver_id", req.ApproverID),
				zap.String("action", string(req.Action)),
				zap.Error(err))
			return nil
		}
		return fmt.Errorf("failed to apply card decision: %w", err)
	}

	a.logger.Info("Card decision applied",
		zap.String("instance_id", inst.ID),
		zap.String("approver_id", req.ApproverID),
		zap.String("action", string(req.Action)),
		zap.String("status", inst.Status.String()))
	return nil
}

func (a *LarkAdapter) toDecision(payload cardActionEvent) (appworkflow.DecisionRequest, bool) {
	value := payload.Event.Action.Value
	instanceID, _ := value[notification.ActionKeyInstanceID].(string)
	action, _ := value[notification.ActionKeyAction].(string)
	if instanceID == "" || action == "" {
		a.logger.Debug("Card action without a decision",
			zap.String("event_type", payload.Header.EventType))
		return appworkflow.DecisionRequest{}, false
	}

	var decision entity.Action
	switch strings.ToUpper(action) {
	case notification.ActionApprove:
		decision = entity.ActionApprove
	case notification.ActionReject:
		decision = entity.ActionReject
	default:
		a.logger.Warn("Unsupported card action",
			zap.String("instance_id", instanceID),
			zap.String("action", action))
		return appworkflow.DecisionRequest{}, false
	}

	approverID := payload.Event.Operator.UserID
	if approverID == "" {
		approverID = payload.Event.Operator.OpenID
	}
	if approverID == "" {
		a.logger.Warn("Card action without operator", zap.String("instance_id", instanceID))
		return appworkflow.DecisionRequest{}, false
	}

	comments, _ := payload.Event.Action.FormValue[notification.FormKeyComments].(string)
	if comments == "" {
		comments = payload.Event.Action.InputValue
	}

	return appworkflow.DecisionRequest{
		InstanceID: instanceID,
		ApproverID: approverID,
		Action:     decision,
		Comments:   strings.TrimSpace(comments),
	}, true
}

// isRefusal reports whether the engine rejected the decision itself, as
// opposed to failing to process it
func isRefusal(err error) bool {
	for _, kind := range []error{
		workflow.ErrValidation,
		workflow.ErrNotFound,
		workflow.ErrUnauthorizedApprover,
		workflow.ErrInvalidStateForAction,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
