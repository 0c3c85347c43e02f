package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/garyjia/approval-engine/internal/domain/entity"
	domainwf "github.com/garyjia/approval-engine/internal/domain/workflow"
)

// Replay is the position an approval log folds to
type Replay struct {
	Status         domainwf.State `json:"status"`
	Stage          int            `json:"stage"`
	StageApprovals []string       `json:"stageApprovals"`
	Entries        int            `json:"entries"`

	// Consistent is false when the fold disagrees with the stored instance
	Consistent bool   `json:"consistent"`
	Mismatch   string `json:"mismatch,omitempty"`
}

type position struct {
	status domainwf.State
	stage  int
}

// positions a log may start from: a draft, a routed submission, or a
// submission that was auto-approved before it rested anywhere
var startPositions = []position{
	{domainwf.StateDraft, 0},
	{domainwf.StateSubmitted, 1},
	{domainwf.StatePendingApproval, 1},
}

// Fold replays entries in sequence order. It fails when the entries do not
// chain, or when the stage moves backwards other than by SEND_BACK.
func Fold(entries []*entity.ApprovalLogEntry) (*Replay, error) {
	if len(entries) == 0 {
		return &Replay{}, nil
	}

	first := entries[0]
	cur := position{first.PreviousStatus, first.PreviousStage}
	if !isStart(cur) {
		return nil, fmt.Errorf("%w: log starts at %s/%d", domainwf.ErrInvariantViolation, cur.status, cur.stage)
	}

	var approvals []string
	for i, entry := range entries {
		if entry.Sequence != i+1 {
			return nil, fmt.Errorf("%w: entry %d has sequence %d", domainwf.ErrInvariantViolation, i+1, entry.Sequence)
		}
		if entry.PreviousStatus != cur.status || entry.PreviousStage != cur.stage {
			return nil, fmt.Errorf("%w: entry %d starts at %s/%d but the log is at %s/%d",
				domainwf.ErrInvariantViolation, entry.Sequence,
				entry.PreviousStatus, entry.PreviousStage, cur.status, cur.stage)
		}
		if cur.status.IsTerminal() {
			return nil, fmt.Errorf("%w: entry %d follows terminal status %s", domainwf.ErrInvariantViolation, entry.Sequence, cur.status)
		}
		if entry.NewStage < entry.PreviousStage && entry.Action != entity.ActionSendBack {
			return nil, fmt.Errorf("%w: entry %d moves stage %d back to %d with %s",
				domainwf.ErrInvariantViolation, entry.Sequence, entry.PreviousStage, entry.NewStage, entry.Action)
		}

		switch {
		case entry.Action == entity.ActionDelegate:
		case entry.Action == entity.ActionApprove && entry.NewStage == entry.PreviousStage && !entry.NewStatus.IsTerminal():
			slot := entry.ApproverID
			if entry.OnBehalfOf != "" {
				slot = entry.OnBehalfOf
			}
			approvals = append(approvals, slot)
		default:
			approvals = nil
		}
		cur = position{entry.NewStatus, entry.NewStage}
	}

	return &Replay{
		Status:         cur.status,
		Stage:          cur.stage,
		StageApprovals: approvals,
		Entries:        len(entries),
	}, nil
}

func isStart(p position) bool {
	for _, s := range startPositions {
		if s == p {
			return true
		}
	}
	return false
}

// Reconstruct folds the approval log of an instance and compares the result
// with what is stored
func (e *engineImpl) Reconstruct(ctx context.Context, instanceID string) (*Replay, error) {
	inst, err := e.load(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	entries, err := e.logs.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approval log: %w", err)
	}

	replay, err := Fold(entries)
	if err != nil {
		return &Replay{Entries: len(entries), Mismatch: err.Error()}, nil
	}
	if len(entries) == 0 {
		// nothing logged yet: the instance must still be where submission left it
		replay.Status = inst.Status
		replay.Stage = inst.CurrentStage
		if !isStart(position{inst.Status, inst.CurrentStage}) || inst.Status == domainwf.StateSubmitted {
			replay.Mismatch = fmt.Sprintf("instance is at %s/%d without any log entry", inst.Status, inst.CurrentStage)
			return replay, nil
		}
		replay.Consistent = len(inst.StageApprovals) == 0
		if !replay.Consistent {
			replay.Mismatch = "approvals recorded without log entries"
		}
		return replay, nil
	}

	switch {
	case replay.Status != inst.Status:
		replay.Mismatch = fmt.Sprintf("log ends at status %s, instance is %s", replay.Status, inst.Status)
	case replay.Stage != inst.CurrentStage:
		replay.Mismatch = fmt.Sprintf("log ends at stage %d, instance is at %d", replay.Stage, inst.CurrentStage)
	case !sameSet(replay.StageApprovals, inst.StageApprovals):
		replay.Mismatch = fmt.Sprintf("log approvals %v, instance approvals %v", replay.StageApprovals, inst.StageApprovals)
	default:
		replay.Consistent = true
	}
	return replay, nil
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}
