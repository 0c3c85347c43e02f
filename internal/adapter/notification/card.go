package notification

import (
	"fmt"
	"sort"
	"strings"

	"github.com/garyjia/approval-engine/internal/domain/event"
)

// Card action values carried by the Approve and Reject buttons. The
// card-action listener reads them back.
const (
	ActionKeyInstanceID = "instanceId"
	ActionKeyAction     = "action"
	ActionApprove       = "APPROVE"
	ActionReject        = "REJECT"

	// FormKeyComments names the comment input on the card
	FormKeyComments = "comments"
)

var headlines = map[event.Type]string{
	event.TypeSubmitted:     "New approval request",
	event.TypeStageApproved: "Approval request moved to your stage",
	event.TypeDelegated:     "Approval request delegated to you",
	event.TypeEscalated:     "Escalated approval request",
}

func cardTemplate(t event.Type) string {
	if t == event.TypeEscalated {
		return "red"
	}
	return "blue"
}

// BuildApprovalCard renders the interactive card sent to a pending approver
func BuildApprovalCard(evt *event.Event) map[string]interface{} {
	title := headlines[evt.Type]
	if title == "" {
		title = "Approval request"
	}

	fields := []interface{}{
		field("Workflow", evt.WorkflowType),
		field("Request", fmt.Sprintf("%s %s", evt.GetPayloadString(event.KeyEntityType), evt.GetPayloadString(event.KeyEntityID))),
		field("Submitted by", evt.GetPayloadString(event.KeyInitiatorID)),
		field("Stage", fmt.Sprintf("%d", evt.GetPayloadInt(event.KeyStage))),
	}
	if comments := evt.GetPayloadString(event.KeyComments); comments != "" {
		fields = append(fields, field("Comments", comments))
	}

	elements := []interface{}{
		map[string]interface{}{
			"tag":    "div",
			"fields": fields,
		},
	}
	if summary := summarize(evt.GetPayloadMap(event.KeyRequestData)); summary != "" {
		elements = append(elements, map[string]interface{}{
			"tag": "div",
			"text": map[string]interface{}{
				"tag":     "lark_md",
				"content": summary,
			},
		})
	}

	elements = append(elements,
		map[string]interface{}{"tag": "hr"},
		map[string]interface{}{
			"tag":  "input",
			"name": FormKeyComments,
			"placeholder": map[string]interface{}{
				"tag":     "plain_text",
				"content": "Comments (required to reject)",
			},
		},
		map[string]interface{}{
			"tag": "action",
			"actions": []interface{}{
				button("Approve", "primary", evt.InstanceID, ActionApprove),
				button("Reject", "danger", evt.InstanceID, ActionReject),
			},
		},
		map[string]interface{}{
			"tag": "note",
			"elements": []interface{}{
				map[string]interface{}{
					"tag":     "plain_text",
					"content": "Instance " + evt.InstanceID,
				},
			},
		},
	)

	return map[string]interface{}{
		"config": map[string]interface{}{
			"wide_screen_mode": true,
		},
		"header": map[string]interface{}{
			"template": cardTemplate(evt.Type),
			"title": map[string]interface{}{
				"tag":     "plain_text",
				"content": title,
			},
		},
		"elements": elements,
	}
}

// OutcomeText renders the message sent to the initiator
func OutcomeText(evt *event.Event) string {
	request := strings.TrimSpace(evt.GetPayloadString(event.KeyEntityType) + " " + evt.GetPayloadString(event.KeyEntityID))

	var b strings.Builder
	switch evt.Type {
	case event.TypeApproved:
		fmt.Fprintf(&b, "Your %s has been approved.", request)
	case event.TypeRejected:
		fmt.Fprintf(&b, "Your %s has been rejected.", request)
		if reason := evt.GetPayloadString(event.KeyRejectionReason); reason != "" {
			fmt.Fprintf(&b, " Reason: %s", reason)
		}
		return b.String()
	case event.TypeCancelled:
		fmt.Fprintf(&b, "Your %s has been cancelled.", request)
	case event.TypeSentBack:
		fmt.Fprintf(&b, "Your %s was sent back for changes.", request)
	default:
		fmt.Fprintf(&b, "Your %s was updated (%s).", request, evt.Type.Verb())
	}
	if comments := evt.GetPayloadString(event.KeyComments); comments != "" {
		fmt.Fprintf(&b, " Comments: %s", comments)
	}
	return b.String()
}

func field(label, value string) map[string]interface{} {
	return map[string]interface{}{
		"is_short": true,
		"text": map[string]interface{}{
			"tag":     "lark_md",
			"content": fmt.Sprintf("**%s**\n%s", label, value),
		},
	}
}

func button(label, style, instanceID, action string) map[string]interface{} {
	return map[string]interface{}{
		"tag": "button",
		"text": map[string]interface{}{
			"tag":     "plain_text",
			"content": label,
		},
		"type": style,
		"value": map[string]interface{}{
			ActionKeyInstanceID: instanceID,
			ActionKeyAction:     action,
		},
	}
}

// summarize lists the scalar fields of the request snapshot in key order
func summarize(data map[string]interface{}) string {
	if len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k, v := range data {
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("**%s**: %v", k, data[k]))
	}
	return strings.Join(lines, "\n")
}
