// Package rule resolves the approvers of a workflow stage. Evaluation is a
// pure function of the stage, the request snapshot and directory lookups.
package rule

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// Input is everything a rule may look at
type Input struct {
	Stage       entity.StageDefinition
	RequesterID string
	Data        entity.Snapshot
	At          time.Time
}

// Resolution is the outcome of evaluating one stage
type Resolution struct {
	ApproverIDs  []string
	AutoApproved bool
	Reason       string
}

// RuleEvaluator resolves approvers for one rule type
type RuleEvaluator interface {
	Evaluate(ctx context.Context, in Input, dir Directory) (Resolution, error)
}

// EvaluatorFunc adapts a function to RuleEvaluator
type EvaluatorFunc func(ctx context.Context, in Input, dir Directory) (Resolution, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, in Input, dir Directory) (Resolution, error) {
	return f(ctx, in, dir)
}

// Evaluator dispatches on the stage rule type
type Evaluator struct {
	rules map[entity.RuleType]RuleEvaluator
	dir   Directory
}

// NewEvaluator creates an evaluator with the built-in rule types registered
func NewEvaluator(dir Directory) *Evaluator {
	e := &Evaluator{
		rules: make(map[entity.RuleType]RuleEvaluator),
		dir:   dir,
	}
	e.Register(entity.RuleManagerialLevel, EvaluatorFunc(evaluateManagerial))
	e.Register(entity.RuleGradeBased, EvaluatorFunc(evaluateGrade))
	e.Register(entity.RuleRoleBased, EvaluatorFunc(evaluateRole))
	e.Register(entity.RuleAmountBased, EvaluatorFunc(evaluateAmount))
	e.Register(entity.RuleSpecificUser, EvaluatorFunc(evaluateSpecificUser))
	return e
}

// Register adds or replaces the evaluator of a rule type
func (e *Evaluator) Register(ruleType entity.RuleType, r RuleEvaluator) {
	e.rules[ruleType] = r
}

// Supports reports whether a rule type has an evaluator
func (e *Evaluator) Supports(ruleType entity.RuleType) bool {
	_, ok := e.rules[ruleType]
	return ok
}

// Resolve evaluates the stage rule. A resolution that is not auto-approved
// always carries at least one approver, otherwise ErrNoApproverFound is returned.
func (e *Evaluator) Resolve(ctx context.Context, in Input) (Resolution, error) {
	r, ok := e.rules[in.Stage.ApprovalRuleType]
	if !ok {
		return Resolution{}, workflow.Validationf("unsupported approval rule type %q", in.Stage.ApprovalRuleType)
	}

	res, err := r.Evaluate(ctx, in, e.dir)
	if err != nil {
		return Resolution{}, err
	}

	res.ApproverIDs = dedupe(res.ApproverIDs)
	if !res.AutoApproved && len(res.ApproverIDs) == 0 {
		return Resolution{}, fmt.Errorf("%w: stage %d (%s) resolved no approvers", workflow.ErrNoApproverFound, in.Stage.Order, in.Stage.ApprovalRuleType)
	}
	return res, nil
}

// ResolveEscalation returns the approvers an escalation hands the stage to
func (e *Evaluator) ResolveEscalation(ctx context.Context, target *entity.EscalationTarget, requesterID string) ([]string, error) {
	if target == nil || target.Value == "" {
		return nil, fmt.Errorf("%w: no escalation target configured", workflow.ErrNoApproverFound)
	}

	var ids []string
	switch target.Type {
	case entity.EscalateToUser, "":
		ids = []string{target.Value}
	case entity.EscalateToRole:
		users, err := e.dir.UsersByRoles(ctx, []string{target.Value})
		if err != nil {
			return nil, fmt.Errorf("failed to resolve escalation role %s: %w", target.Value, err)
		}
		ids = without(users, requesterID)
	default:
		return nil, workflow.Validationf("unsupported escalation target type %q", target.Type)
	}

	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: escalation target %s:%s has no members", workflow.ErrNoApproverFound, target.Type, target.Value)
	}
	return ids, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func without(ids []string, excluded string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != excluded {
			out = append(out, id)
		}
	}
	return out
}
