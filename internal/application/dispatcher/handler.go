package dispatcher

import (
	"context"

	"github.com/garyjia/approval-engine/internal/domain/event"
)

// Any matches every workflow type or every event type in a Route
const Any = "*"

// Handler processes workflow events
type Handler func(ctx context.Context, evt *event.Event) error

// Route selects the events a handler receives. Domain adapters subscribe
// with their own workflow type; cross-cutting consumers use Any.
type Route struct {
	WorkflowType string
	EventType    event.Type
}

// On builds a route for one workflow type and event type
func On(workflowType string, eventType event.Type) Route {
	return Route{WorkflowType: workflowType, EventType: eventType}
}

// AllEvents builds a route for every event of a workflow type
func AllEvents(workflowType string) Route {
	return Route{WorkflowType: workflowType, EventType: event.Type(Any)}
}

func (r Route) String() string {
	return r.WorkflowType + "/" + r.EventType.String()
}

// candidates lists the routes that match an event, most specific first
func candidates(evt *event.Event) []Route {
	return []Route{
		{evt.WorkflowType, evt.Type},
		{evt.WorkflowType, event.Type(Any)},
		{Any, evt.Type},
		{Any, event.Type(Any)},
	}
}

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name        string
	Route       Route
	Handler     Handler
	Description string
}
