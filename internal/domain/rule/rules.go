package rule

import (
	"context"
	"fmt"

	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// evaluateManagerial walks the reporting chain managerialLevel steps up
func evaluateManagerial(ctx context.Context, in Input, dir Directory) (Resolution, error) {
	depth := in.Stage.ManagerialLevel
	if depth < 1 {
		depth = 1
	}

	chain, err := dir.ReportingChain(ctx, in.RequesterID, depth)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to load reporting chain of %s: %w", in.RequesterID, err)
	}
	if len(chain) < depth {
		return Resolution{}, fmt.Errorf("%w: reporting chain of %s has %d levels, stage needs %d",
			workflow.ErrNoApproverFound, in.RequesterID, len(chain), depth)
	}

	return Resolution{ApproverIDs: []string{chain[depth-1]}}, nil
}

// evaluateGrade selects available approvers at or above the minimum grade in
// the requester's department. The request data only names the department of
// requesters the directory does not know.
func evaluateGrade(ctx context.Context, in Input, dir Directory) (Resolution, error) {
	department, err := dir.DepartmentOf(ctx, in.RequesterID)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to load department of %s: %w", in.RequesterID, err)
	}
	if department == "" {
		department = in.Data.String("department")
	}

	employees, err := dir.EmployeesByMinGrade(ctx, in.Stage.MinGradeLevel, department)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to load grade %d employees of %s: %w", in.Stage.MinGradeLevel, department, err)
	}

	ids := make([]string, 0, len(employees))
	for _, emp := range employees {
		if !emp.IsApprover || emp.GradeLevel < in.Stage.MinGradeLevel || emp.ID == in.RequesterID {
			continue
		}
		ids = append(ids, emp.ID)
	}
	return Resolution{ApproverIDs: ids}, nil
}

func evaluateRole(ctx context.Context, in Input, dir Directory) (Resolution, error) {
	if len(in.Stage.AllowedRoles) == 0 {
		return Resolution{}, workflow.Validationf("stage %d has no allowed roles", in.Stage.Order)
	}

	users, err := dir.UsersByRoles(ctx, in.Stage.AllowedRoles)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to load users for roles %v: %w", in.Stage.AllowedRoles, err)
	}
	return Resolution{ApproverIDs: without(users, in.RequesterID)}, nil
}

// ReasonBelowThreshold is the log comment of an amount based auto-approval
const ReasonBelowThreshold = "amount below auto-approval threshold"

// evaluateAmount auto-approves below the threshold. At or above it the stage
// falls back to its roles, then its named approver, then the reporting chain.
func evaluateAmount(ctx context.Context, in Input, dir Directory) (Resolution, error) {
	key := in.Stage.AmountKey()
	amount, ok := in.Data.Number(key)
	if !ok {
		return Resolution{}, workflow.Validationf("request data field %q is missing or not numeric", key)
	}

	if amount < in.Stage.AmountThreshold {
		return Resolution{AutoApproved: true, Reason: ReasonBelowThreshold}, nil
	}

	switch {
	case len(in.Stage.AllowedRoles) > 0:
		return evaluateRole(ctx, in, dir)
	case in.Stage.ApproverID != "":
		return evaluateSpecificUser(ctx, in, dir)
	default:
		return evaluateManagerial(ctx, in, dir)
	}
}

// evaluateSpecificUser honours an active delegation of the named approver
func evaluateSpecificUser(ctx context.Context, in Input, dir Directory) (Resolution, error) {
	approver := in.Stage.ApproverID
	if approver == "" {
		return Resolution{}, workflow.Validationf("stage %d has no approver id", in.Stage.Order)
	}

	delegation, err := dir.ActiveDelegation(ctx, approver, in.At)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to load delegation of %s: %w", approver, err)
	}
	if delegation != nil && delegation.Active(in.At) && delegation.DelegateID != "" {
		return Resolution{ApproverIDs: []string{delegation.DelegateID}}, nil
	}

	return Resolution{ApproverIDs: []string{approver}}, nil
}
