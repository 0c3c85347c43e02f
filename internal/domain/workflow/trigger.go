package workflow

// Trigger is a lifecycle action that may move an instance between states
type Trigger string

const (
	TriggerSubmit         Trigger = "SUBMIT"
	TriggerActivate       Trigger = "ACTIVATE"
	TriggerRecordApproval Trigger = "RECORD_APPROVAL"
	TriggerAdvance        Trigger = "ADVANCE"
	TriggerComplete       Trigger = "COMPLETE"
	TriggerAutoApprove    Trigger = "AUTO_APPROVE"
	TriggerReject         Trigger = "REJECT"
	TriggerSendBack       Trigger = "SEND_BACK"
	TriggerDelegate       Trigger = "DELEGATE"
	TriggerEscalate       Trigger = "ESCALATE"
	TriggerResubmit       Trigger = "RESUBMIT"
	TriggerCancel         Trigger = "CANCEL"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
