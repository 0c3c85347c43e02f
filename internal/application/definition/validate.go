package definition

import (
	"fmt"
	"strings"

	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// Validate checks a normalized definition and reports every problem at once
func Validate(def *entity.WorkflowDefinition, supports func(entity.RuleType) bool) error {
	var problems []string
	addf := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(def.WorkflowType) == "" {
		addf("workflowType is required")
	}
	if len(def.Stages) == 0 {
		addf("at least one stage is required")
	}

	finals, finalOrder := 0, 0
	for i, st := range def.Stages {
		if st.Order != i+1 {
			addf("stage orders must be unique and contiguous from 1, found %d at position %d", st.Order, i+1)
		}
		if !st.StageType.IsValid() {
			addf("stage %d: unknown stage type %q", st.Order, st.StageType)
		}
		if st.StageType == entity.StageTypeFinal {
			finals++
			finalOrder = st.Order
		}
		if supports != nil && !supports(st.ApprovalRuleType) {
			addf("stage %d: unsupported approval rule type %q", st.Order, st.ApprovalRuleType)
		}
		for _, p := range ruleProblems(st) {
			addf("stage %d: %s", st.Order, p)
		}
		if st.RequiredApprovals < 1 {
			addf("stage %d: requiredApprovals must be at least 1", st.Order)
		}
		if st.AutoApproveAfterHours < 0 {
			addf("stage %d: autoApproveAfterHours cannot be negative", st.Order)
		}
		if st.SendBackToStage < 0 || st.SendBackToStage > st.Order {
			addf("stage %d: sendBackToStage must be between 1 and %d", st.Order, st.Order)
		}
		if t := st.EscalationTarget; t != nil {
			if t.Type != entity.EscalateToUser && t.Type != entity.EscalateToRole {
				addf("stage %d: unknown escalation target type %q", st.Order, t.Type)
			}
			if t.Value == "" {
				addf("stage %d: escalation target value is required", st.Order)
			}
		}
		switch st.OnTimeout {
		case "", entity.TimeoutAutoApprove:
		case entity.TimeoutEscalate:
			if st.EscalationTarget == nil {
				addf("stage %d: onTimeout ESCALATE needs an escalation target", st.Order)
			}
		default:
			addf("stage %d: unknown onTimeout action %q", st.Order, st.OnTimeout)
		}
	}
	if len(def.Stages) > 0 && finals != 1 {
		addf("exactly one FINAL stage is required, found %d", finals)
	}
	if finals == 1 && finalOrder != len(def.Stages) {
		addf("the FINAL stage must be the last stage, found it at %d of %d", finalOrder, len(def.Stages))
	}

	if len(problems) == 0 {
		return nil
	}
	return workflow.NewError(workflow.ErrDefinitionInvalid, "", "%s", strings.Join(problems, "; "))
}

func ruleProblems(st entity.StageDefinition) []string {
	var out []string
	switch st.ApprovalRuleType {
	case entity.RuleManagerialLevel:
		if st.ManagerialLevel < 1 {
			out = append(out, "managerialLevel must be at least 1")
		}
	case entity.RuleGradeBased:
		if st.MinGradeLevel < 1 {
			out = append(out, "minGradeLevel must be at least 1")
		}
	case entity.RuleRoleBased:
		if len(st.AllowedRoles) == 0 {
			out = append(out, "allowedRoles must not be empty")
		}
	case entity.RuleAmountBased:
		if st.AmountThreshold <= 0 {
			out = append(out, "amountThreshold must be positive")
		}
	case entity.RuleSpecificUser:
		if st.ApproverID == "" {
			out = append(out, "approverId is required")
		}
	}
	return out
}
