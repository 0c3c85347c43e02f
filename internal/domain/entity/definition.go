package entity

import "time"

// StageType classifies a stage within a workflow definition
type StageType string

const (
	StageTypeInitial      StageType = "INITIAL"
	StageTypeApproval     StageType = "APPROVAL"
	StageTypeReview       StageType = "REVIEW"
	StageTypeVerification StageType = "VERIFICATION"
	StageTypeFinal        StageType = "FINAL"
)

// IsValid reports whether t is a known stage type
func (t StageType) IsValid() bool {
	switch t {
	case StageTypeInitial, StageTypeApproval, StageTypeReview, StageTypeVerification, StageTypeFinal:
		return true
	}
	return false
}

// RuleType selects how approvers of a stage are resolved
type RuleType string

const (
	RuleManagerialLevel RuleType = "MANAGERIAL_LEVEL"
	RuleGradeBased      RuleType = "GRADE_BASED"
	RuleRoleBased       RuleType = "ROLE_BASED"
	RuleAmountBased     RuleType = "AMOUNT_BASED"
	RuleSpecificUser    RuleType = "SPECIFIC_USER"
)

// EscalationTargetType says how an escalation target value is interpreted
type EscalationTargetType string

const (
	EscalateToUser EscalationTargetType = "USER"
	EscalateToRole EscalationTargetType = "ROLE"
)

// EscalationTarget names who takes over a stage on escalation
type EscalationTarget struct {
	Type  EscalationTargetType `json:"type" yaml:"type"`
	Value string               `json:"value" yaml:"value"`
}

// TimeoutAction is applied by the sweep once a stage deadline passes
type TimeoutAction string

const (
	TimeoutEscalate    TimeoutAction = "ESCALATE"
	TimeoutAutoApprove TimeoutAction = "AUTO_APPROVE"
)

// StageDefinition is one ordered step of a workflow definition
type StageDefinition struct {
	Order                 int               `json:"order" yaml:"order"`
	Name                  string            `json:"name" yaml:"name"`
	StageType             StageType         `json:"stageType" yaml:"stageType"`
	ApprovalRuleType      RuleType          `json:"approvalRuleType" yaml:"approvalRuleType"`
	ManagerialLevel       int               `json:"managerialLevel,omitempty" yaml:"managerialLevel,omitempty"`
	MinGradeLevel         int               `json:"minGradeLevel,omitempty" yaml:"minGradeLevel,omitempty"`
	AllowedRoles          []string          `json:"allowedRoles,omitempty" yaml:"allowedRoles,omitempty"`
	AmountField           string            `json:"amountField,omitempty" yaml:"amountField,omitempty"`
	AmountThreshold       float64           `json:"amountThreshold,omitempty" yaml:"amountThreshold,omitempty"`
	ApproverID            string            `json:"approverId,omitempty" yaml:"approverId,omitempty"`
	RequiredApprovals     int               `json:"requiredApprovals" yaml:"requiredApprovals"`
	IsMandatory           bool              `json:"isMandatory" yaml:"isMandatory"`
	AutoApproveAfterHours int               `json:"autoApproveAfterHours,omitempty" yaml:"autoApproveAfterHours,omitempty"`
	EscalationTarget      *EscalationTarget `json:"escalationTarget,omitempty" yaml:"escalationTarget,omitempty"`
	OnTimeout             TimeoutAction     `json:"onTimeout,omitempty" yaml:"onTimeout,omitempty"`
	SendBackToStage       int               `json:"sendBackToStage,omitempty" yaml:"sendBackToStage,omitempty"`
}

// DefaultAmountField is read by AMOUNT_BASED stages that do not name a field
const DefaultAmountField = "amount"

// AmountKey returns the snapshot key holding the amount
func (s StageDefinition) AmountKey() string {
	if s.AmountField == "" {
		return DefaultAmountField
	}
	return s.AmountField
}

// Quorum returns the number of distinct approvals needed to close the stage
func (s StageDefinition) Quorum() int {
	if s.RequiredApprovals < 1 {
		return 1
	}
	return s.RequiredApprovals
}

// TimeoutPolicy resolves the configured or default timeout action
func (s StageDefinition) TimeoutPolicy() TimeoutAction {
	if s.OnTimeout != "" {
		return s.OnTimeout
	}
	if s.EscalationTarget != nil {
		return TimeoutEscalate
	}
	return TimeoutAutoApprove
}

// SendBackTarget returns the stage a SEND_BACK rewinds to
func (s StageDefinition) SendBackTarget() int {
	if s.SendBackToStage < 1 {
		return 1
	}
	return s.SendBackToStage
}

// Timeout returns the stage deadline duration, zero when the stage never times out
func (s StageDefinition) Timeout() time.Duration {
	return time.Duration(s.AutoApproveAfterHours) * time.Hour
}

// WorkflowDefinition is an immutable, versioned template for one workflow type
type WorkflowDefinition struct {
	ID           string            `json:"id" yaml:"id,omitempty"`
	WorkflowType string            `json:"workflowType" yaml:"workflowType"`
	Name         string            `json:"name" yaml:"name"`
	Version      int               `json:"version" yaml:"version,omitempty"`
	IsActive     bool              `json:"isActive" yaml:"-"`
	ContentHash  string            `json:"contentHash" yaml:"-"`
	Stages       []StageDefinition `json:"stages" yaml:"stages"`
	CreatedBy    string            `json:"createdBy" yaml:"createdBy,omitempty"`
	CreatedAt    time.Time         `json:"createdAt" yaml:"-"`
}

// Stage returns the stage with the given order
func (d *WorkflowDefinition) Stage(order int) (StageDefinition, bool) {
	for _, s := range d.Stages {
		if s.Order == order {
			return s, true
		}
	}
	return StageDefinition{}, false
}

// StageCount returns the number of stages
func (d *WorkflowDefinition) StageCount() int {
	return len(d.Stages)
}

// IsFinalStage reports whether order is the FINAL stage, whose approval completes the instance
func (d *WorkflowDefinition) IsFinalStage(order int) bool {
	s, ok := d.Stage(order)
	return ok && s.StageType == StageTypeFinal
}

// NextMandatoryAfter returns the first mandatory stage after order, if any
func (d *WorkflowDefinition) NextMandatoryAfter(order int) (StageDefinition, bool) {
	for next := order + 1; next <= len(d.Stages); next++ {
		if s, ok := d.Stage(next); ok && s.IsMandatory {
			return s, true
		}
	}
	return StageDefinition{}, false
}
