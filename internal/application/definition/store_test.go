package definition

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-engine/internal/application/port/porttest"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

func overtimeDefinition() *entity.WorkflowDefinition {
	return &entity.WorkflowDefinition{
		WorkflowType: entity.WorkflowTypeOvertimeClaim,
		Name:         "Overtime claim",
		Stages: []entity.StageDefinition{
			{Order: 2, Name: "HR", StageType: entity.StageTypeFinal, ApprovalRuleType: entity.RuleRoleBased, AllowedRoles: []string{"HR_MANAGER"}, IsMandatory: true},
			{Order: 1, Name: "Manager", StageType: entity.StageTypeApproval, ApprovalRuleType: entity.RuleManagerialLevel, ManagerialLevel: 1, IsMandatory: true},
		},
	}
}

func newTestStore() (Store, *porttest.Memory) {
	mem := porttest.NewMemory()
	clock := porttest.NewFakeClock(time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC))
	return NewStore(mem.Definitions(), mem, WithClock(clock)), mem
}

func TestStore_PublishAssignsVersionAndDefaults(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	def, err := s.Publish(ctx, overtimeDefinition())
	require.NoError(t, err)

	assert.NotEmpty(t, def.ID)
	assert.Equal(t, 1, def.Version)
	assert.True(t, def.IsActive)
	assert.NotEmpty(t, def.ContentHash)
	assert.Equal(t, 1, def.Stages[0].Order, "stages are ordered")
	assert.Equal(t, 1, def.Stages[0].RequiredApprovals, "requiredApprovals defaults to 1")

	active, err := s.GetActive(ctx, entity.WorkflowTypeOvertimeClaim)
	require.NoError(t, err)
	assert.Equal(t, def.ID, active.ID)
}

func TestStore_PublishSupersedesPreviousVersion(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	v1, err := s.Publish(ctx, overtimeDefinition())
	require.NoError(t, err)

	changed := overtimeDefinition()
	changed.Stages[1].ManagerialLevel = 2
	v2, err := s.Publish(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	old, err := s.GetByID(ctx, v1.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive, "previous version is deactivated")
	assert.Equal(t, 1, old.Stages[0].ManagerialLevel, "published versions are immutable")

	versions, err := s.List(ctx, entity.WorkflowTypeOvertimeClaim)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)
}

func TestStore_PublishRejectsDuplicateOfActive(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	_, err := s.Publish(ctx, overtimeDefinition())
	require.NoError(t, err)

	renamed := overtimeDefinition()
	renamed.Name = "Same routing, new title"
	_, err = s.Publish(ctx, renamed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, workflow.ErrDefinitionInvalid))
	assert.True(t, errors.Is(err, ErrDuplicateDefinition))

	versions, err := s.List(ctx, entity.WorkflowTypeOvertimeClaim)
	require.NoError(t, err)
	assert.Len(t, versions, 1, "rejected publish leaves no trace")
}

func TestStore_GetActiveMissing(t *testing.T) {
	s, _ := newTestStore()
	_, err := s.GetActive(context.Background(), entity.WorkflowTypeLoanApplication)
	assert.True(t, errors.Is(err, workflow.ErrNotFound))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *entity.WorkflowDefinition)
		wantMsg string
	}{
		{
			name:    "gap in stage orders",
			mutate:  func(d *entity.WorkflowDefinition) { d.Stages[0].Order = 3 },
			wantMsg: "contiguous",
		},
		{
			name:    "duplicate stage orders",
			mutate:  func(d *entity.WorkflowDefinition) { d.Stages[0].Order = 1 },
			wantMsg: "contiguous",
		},
		{
			name:    "no final stage",
			mutate:  func(d *entity.WorkflowDefinition) { d.Stages[0].StageType = entity.StageTypeReview },
			wantMsg: "exactly one FINAL stage",
		},
		{
			name:    "two final stages",
			mutate:  func(d *entity.WorkflowDefinition) { d.Stages[1].StageType = entity.StageTypeFinal },
			wantMsg: "exactly one FINAL stage",
		},
		{
			name: "final stage before the last stage",
			mutate: func(d *entity.WorkflowDefinition) {
				d.Stages[0].StageType = entity.StageTypeApproval
				d.Stages[1].StageType = entity.StageTypeFinal
			},
			wantMsg: "FINAL stage must be the last stage",
		},
		{
			name:    "managerial level missing",
			mutate:  func(d *entity.WorkflowDefinition) { d.Stages[1].ManagerialLevel = 0 },
			wantMsg: "managerialLevel",
		},
		{
			name:    "role based without roles",
			mutate:  func(d *entity.WorkflowDefinition) { d.Stages[0].AllowedRoles = nil },
			wantMsg: "allowedRoles",
		},
		{
			name: "amount based without threshold",
			mutate: func(d *entity.WorkflowDefinition) {
				d.Stages[1].ApprovalRuleType = entity.RuleAmountBased
			},
			wantMsg: "amountThreshold",
		},
		{
			name: "escalate on timeout without target",
			mutate: func(d *entity.WorkflowDefinition) {
				d.Stages[1].AutoApproveAfterHours = 24
				d.Stages[1].OnTimeout = entity.TimeoutEscalate
			},
			wantMsg: "escalation target",
		},
		{
			name:    "send back forward",
			mutate:  func(d *entity.WorkflowDefinition) { d.Stages[1].SendBackToStage = 2 },
			wantMsg: "sendBackToStage",
		},
		{
			name:    "unknown rule type",
			mutate:  func(d *entity.WorkflowDefinition) { d.Stages[1].ApprovalRuleType = "COIN_FLIP" },
			wantMsg: "unsupported approval rule type",
		},
		{
			name:    "no stages",
			mutate:  func(d *entity.WorkflowDefinition) { d.Stages = nil },
			wantMsg: "at least one stage",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := overtimeDefinition()
			tt.mutate(def)

			s, _ := newTestStore()
			_, err := s.Publish(context.Background(), def)
			require.Error(t, err)
			assert.True(t, errors.Is(err, workflow.ErrDefinitionInvalid), "got %v", err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
