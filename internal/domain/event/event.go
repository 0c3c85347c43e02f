package event

import (
	"time"

	"github.com/google/uuid"
)

// Payload keys shared by producers and consumers
const (
	KeyEntityType       = "entityType"
	KeyEntityID         = "entityId"
	KeyInitiatorID      = "initiatorId"
	KeyRequestData      = "requestData"
	KeyActorID          = "actorId"
	KeyStage            = "stage"
	KeyStatus           = "status"
	KeyPendingApprovers = "pendingApprovers"
	KeyRejectionReason  = "rejectionReason"
	KeyComments         = "comments"
	KeyDelegatedTo      = "delegatedTo"
	KeyApprovedStage    = "approvedStage"
)

// Event is a workflow event published through the outbox
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	InstanceID    string                 `json:"instanceId"`
	WorkflowType  string                 `json:"workflowType"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlationId"`
}

// NewEvent creates an event with a fresh id. The instance id doubles as
// correlation id so every event of one approval can be traced together.
func NewEvent(eventType Type, instanceID, workflowType string, payload map[string]interface{}, at time.Time) *Event {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		InstanceID:    instanceID,
		WorkflowType:  workflowType,
		Payload:       payload,
		Timestamp:     at,
		CorrelationID: instanceID,
	}
}

// DedupKey identifies the event for idempotent consumers. An instance reaches
// at most one terminal event, so those are keyed by instance and verb. Other
// verbs can repeat and also carry the event id, which survives redelivery.
func (e *Event) DedupKey() string {
	if e.Type.IsTerminal() {
		return e.InstanceID + ":" + e.Type.Verb()
	}
	return e.InstanceID + ":" + e.Type.Verb() + ":" + e.ID
}

// WithPayload returns a new Event with an added payload key-value pair
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	c := *e
	c.Payload = newPayload
	return &c
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}

// GetPayloadStrings retrieves a string list; JSON decoding yields []interface{}
func (e *Event) GetPayloadStrings(key string) []string {
	switch v := e.Payload[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// GetPayloadMap retrieves a nested object from the payload
func (e *Event) GetPayloadMap(key string) map[string]interface{} {
	if m, ok := e.Payload[key].(map[string]interface{}); ok {
		return m
	}
	return nil
}
