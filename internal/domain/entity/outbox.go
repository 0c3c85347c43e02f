package entity

import "time"

// OutboxMessage is an event waiting to be published by the relay.
// It is written in the same transaction as the state change it describes.
type OutboxMessage struct {
	ID            string     `json:"id"`
	EventType     string     `json:"eventType"`
	InstanceID    string     `json:"instanceId"`
	WorkflowType  string     `json:"workflowType"`
	Payload       []byte     `json:"payload"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	NextAttemptAt time.Time  `json:"nextAttemptAt"`
	LastError     string     `json:"lastError,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	DeliveredAt   *time.Time `json:"deliveredAt,omitempty"`
}

// RequestStatus is the domain-side view of a request kept in sync from events
type RequestStatus struct {
	EntityType   string    `json:"entityType"`
	EntityID     string    `json:"entityId"`
	InstanceID   string    `json:"instanceId"`
	WorkflowType string    `json:"workflowType"`
	Status       string    `json:"status"`
	LastEvent    string    `json:"lastEvent"`
	Reason       string    `json:"reason,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
