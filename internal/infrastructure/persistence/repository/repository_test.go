package repository_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/definition"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/application/port/porttest"
	appwf "github.com/garyjia/approval-engine/internal/application/workflow"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/rule"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/migrations"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/repository"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-engine/pkg/database"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func setupDB(t *testing.T) *sqlite.DB {
	t.Helper()
	logger := zap.NewNop()

	conn, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "approval.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, database.NewMigrator(conn.DB, migrations.FS, migrations.SQLite, logger).Up())
	return sqlite.NewDB(conn.DB, logger)
}

func sampleInstance(id string) *entity.WorkflowInstance {
	deadline := t0.Add(24 * time.Hour)
	submitted := t0
	return &entity.WorkflowInstance{
		ID:                  id,
		DefinitionID:        "def-1",
		WorkflowType:        entity.WorkflowTypeTravelRequest,
		EntityType:          "travel_request",
		EntityID:            "tr-" + id,
		InitiatorID:         "emp-1",
		Status:              workflow.StatePendingApproval,
		CurrentStage:        1,
		TotalStages:         2,
		CurrentApprovers:    []string{"mgr-1"},
		StageApprovals:      []string{},
		InitialDataSnapshot: entity.Snapshot{"amount": 1200.5, "destination": "Berlin"},
		CurrentDataSnapshot: entity.Snapshot{"amount": 1200.5, "destination": "Berlin"},
		Priority:            entity.PriorityNormal,
		StageEnteredAt:      t0,
		StageDeadline:       &deadline,
		Metadata:            map[string]string{"channel": "portal"},
		SubmittedAt:         &submitted,
		CreatedAt:           t0,
		UpdatedAt:           t0,
	}
}

func TestMigrator_UpIsIdempotent(t *testing.T) {
	db := setupDB(t)

	m := database.NewMigrator(db.DB, migrations.FS, migrations.SQLite, zap.NewNop())
	require.NoError(t, m.Up())

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
}

func TestDefinitionRepository(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := repository.NewDefinitionRepository(db, zap.NewNop())

	v1 := &entity.WorkflowDefinition{
		ID:           "def-1",
		WorkflowType: entity.WorkflowTypeTravelRequest,
		Name:         "Travel",
		Version:      1,
		IsActive:     true,
		ContentHash:  "h1",
		Stages: []entity.StageDefinition{
			{Order: 1, Name: "Manager", StageType: entity.StageTypeApproval, ApprovalRuleType: entity.RuleManagerialLevel, ManagerialLevel: 1, RequiredApprovals: 1, IsMandatory: true},
		},
		CreatedAt: t0,
	}
	require.NoError(t, repo.Create(ctx, v1))

	got, err := repo.GetActive(ctx, entity.WorkflowTypeTravelRequest)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, v1.Stages, got.Stages)
	assert.True(t, got.CreatedAt.Equal(t0))

	// only one active version per type
	v2 := *v1
	v2.ID, v2.Version, v2.ContentHash = "def-2", 2, "h2"
	assert.ErrorIs(t, repo.Create(ctx, &v2), workflow.ErrConcurrentModification)

	// same version twice
	dupVersion := *v1
	dupVersion.ID, dupVersion.IsActive = "def-1b", false
	assert.ErrorIs(t, repo.Create(ctx, &dupVersion), workflow.ErrConcurrentModification)

	require.NoError(t, repo.Deactivate(ctx, "def-1"))
	require.NoError(t, repo.Create(ctx, &v2))

	versions, err := repo.ListByType(ctx, entity.WorkflowTypeTravelRequest)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)
	assert.False(t, versions[1].IsActive)

	missing, err := repo.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInstanceRepository_RoundTripAndVersioning(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := repository.NewInstanceRepository(db, zap.NewNop())

	inst := sampleInstance("wf-1")
	require.NoError(t, repo.Create(ctx, inst))
	assert.Equal(t, int64(1), inst.Version)

	got, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, inst.CurrentApprovers, got.CurrentApprovers)
	assert.Equal(t, "Berlin", got.CurrentDataSnapshot.String("destination"))
	amount, ok := got.InitialDataSnapshot.Number("amount")
	assert.True(t, ok)
	assert.Equal(t, 1200.5, amount)
	assert.True(t, got.StageDeadline.Equal(*inst.StageDeadline))
	assert.Nil(t, got.CompletedAt)
	assert.Equal(t, "portal", got.Metadata["channel"])

	got.StageApprovals = []string{"mgr-1"}
	got.Status = workflow.StateInProgress
	require.NoError(t, repo.Update(ctx, got, 1))
	assert.Equal(t, int64(2), got.Version)

	stale := sampleInstance("wf-1")
	err = repo.Update(ctx, stale, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, workflow.ErrConcurrentModification))

	reloaded, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StateInProgress, reloaded.Status)
	assert.Equal(t, []string{"mgr-1"}, reloaded.StageApprovals)
	assert.Equal(t, int64(2), reloaded.Version)
}

func TestInstanceRepository_Listings(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := repository.NewInstanceRepository(db, zap.NewNop())

	late := sampleInstance("late")
	lateDeadline := t0.Add(2 * time.Hour)
	late.StageDeadline = &lateDeadline

	early := sampleInstance("early")
	earlyDeadline := t0.Add(time.Hour)
	early.StageDeadline = &earlyDeadline
	early.CreatedAt = t0.Add(time.Minute)

	done := sampleInstance("done")
	done.Status = workflow.StateCompleted
	done.StageDeadline = &earlyDeadline

	noDeadline := sampleInstance("open")
	noDeadline.StageDeadline = nil
	noDeadline.InitiatorID = "emp-2"

	for _, inst := range []*entity.WorkflowInstance{late, early, done, noDeadline} {
		require.NoError(t, repo.Create(ctx, inst))
	}

	due, err := repo.ListDue(ctx, t0.Add(3*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "early", due[0].ID)
	assert.Equal(t, "late", due[1].ID)

	due, err = repo.ListDue(ctx, t0.Add(90*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	awaiting, err := repo.ListPendingFor(ctx, "mgr-1", 0)
	require.NoError(t, err)
	assert.Len(t, awaiting, 3)

	mine, err := repo.List(ctx, port.InstanceFilter{InitiatorID: "emp-2"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "open", mine[0].ID)

	page, err := repo.List(ctx, port.InstanceFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestInstanceRepository_ListPendingFor(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := repository.NewInstanceRepository(db, zap.NewNop())

	quorum := func(id string, minute int) *entity.WorkflowInstance {
		inst := sampleInstance(id)
		inst.Status = workflow.StateInProgress
		inst.CurrentApprovers = []string{"hr-1", "hr-2"}
		inst.CreatedAt = t0.Add(time.Duration(minute) * time.Minute)
		return inst
	}

	voted := quorum("voted", 1)
	voted.StageApprovals = []string{"hr-1"}

	delegated := quorum("delegated", 2)
	delegated.StageDelegations = map[string]string{"hr-2": "dep-1"}

	delegatedVoted := quorum("delegated-voted", 3)
	delegatedVoted.StageApprovals = []string{"hr-2"}
	delegatedVoted.StageDelegations = map[string]string{"hr-2": "dep-1"}

	closed := quorum("closed", 4)
	closed.Status = workflow.StateRejected

	for _, inst := range []*entity.WorkflowInstance{voted, delegated, delegatedVoted, closed} {
		require.NoError(t, repo.Create(ctx, inst))
	}

	ids := func(approverID string, limit int) []string {
		t.Helper()
		found, err := repo.ListPendingFor(ctx, approverID, limit)
		require.NoError(t, err)
		out := make([]string, 0, len(found))
		for _, inst := range found {
			out = append(out, inst.ID)
		}
		return out
	}

	assert.Equal(t, []string{"delegated-voted", "delegated"}, ids("hr-1", 0))
	assert.Equal(t, []string{"voted"}, ids("hr-2", 0))
	assert.Equal(t, []string{"delegated"}, ids("dep-1", 0))
	assert.Equal(t, []string{"delegated-voted"}, ids("hr-1", 1))
	assert.Empty(t, ids("nobody", 0))
}

func TestApprovalLogRepository_AppendOnly(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := repository.NewApprovalLogRepository(db, zap.NewNop())

	for seq, action := range []entity.Action{entity.ActionApprove, entity.ActionReject} {
		require.NoError(t, repo.Append(ctx, &entity.ApprovalLogEntry{
			ID:             "log-" + string(action),
			InstanceID:     "wf-1",
			Sequence:       seq + 1,
			Stage:          1,
			ApproverID:     "mgr-1",
			Action:         action,
			PreviousStatus: workflow.StatePendingApproval,
			NewStatus:      workflow.StateInProgress,
			PreviousStage:  1,
			NewStage:       1,
			ActionDate:     t0.Add(time.Duration(seq) * time.Minute),
		}))
	}

	entries, err := repo.ListByInstance(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, entity.ActionApprove, entries[0].Action)
	assert.Equal(t, 2, entries[1].Sequence)

	count, err := repo.CountByInstance(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// a duplicate sequence is refused
	dup := *entries[0]
	dup.ID = "log-dup"
	assert.ErrorIs(t, repo.Append(ctx, &dup), workflow.ErrConcurrentModification)

	_, err = db.ExecContext(ctx, `UPDATE approval_logs SET comments = 'edited'`)
	assert.ErrorContains(t, err, "append-only")
	_, err = db.ExecContext(ctx, `DELETE FROM approval_logs`)
	assert.ErrorContains(t, err, "append-only")
}

func TestTransactionRollback(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	instances := repository.NewInstanceRepository(db, zap.NewNop())
	outbox := repository.NewOutboxRepository(db, zap.NewNop())

	boom := errors.New("boom")
	err := db.WithTransaction(ctx, func(txCtx context.Context) error {
		require.NoError(t, instances.Create(txCtx, sampleInstance("wf-tx")))
		require.NoError(t, outbox.Enqueue(txCtx, &entity.OutboxMessage{
			ID: "evt-1", EventType: "workflow.submitted", InstanceID: "wf-tx", Payload: []byte(`{}`), CreatedAt: t0,
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := instances.GetByID(ctx, "wf-tx")
	require.NoError(t, err)
	assert.Nil(t, got)

	pending, err := outbox.CountByStatus(ctx, entity.OutboxStatusPending)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestTransactionJoinsOuter(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	instances := repository.NewInstanceRepository(db, zap.NewNop())

	assert.False(t, sqlite.InTransaction(ctx))
	err := db.WithTransaction(ctx, func(outer context.Context) error {
		assert.True(t, sqlite.InTransaction(outer))
		return db.WithTransaction(outer, func(inner context.Context) error {
			return instances.Create(inner, sampleInstance("wf-nested"))
		})
	})
	require.NoError(t, err)

	got, err := instances.GetByID(ctx, "wf-nested")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestOutboxRepository(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := repository.NewOutboxRepository(db, zap.NewNop())

	for i, id := range []string{"evt-1", "evt-2"} {
		require.NoError(t, repo.Enqueue(ctx, &entity.OutboxMessage{
			ID:           id,
			EventType:    "workflow.submitted",
			InstanceID:   "wf-1",
			WorkflowType: entity.WorkflowTypeTravelRequest,
			Payload:      []byte(`{"id":"` + id + `"}`),
			CreatedAt:    t0.Add(time.Duration(i) * time.Second),
		}))
	}

	pending, err := repo.FetchPending(ctx, t0.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "evt-1", pending[0].ID)
	assert.JSONEq(t, `{"id":"evt-1"}`, string(pending[0].Payload))

	require.NoError(t, repo.MarkDelivered(ctx, "evt-1", t0.Add(time.Minute)))
	require.NoError(t, repo.MarkFailed(ctx, "evt-2", "broker down", t0.Add(10*time.Minute), false))

	pending, err = repo.FetchPending(ctx, t0.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "retry is not due yet")

	pending, err = repo.FetchPending(ctx, t0.Add(11*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "broker down", pending[0].LastError)

	require.NoError(t, repo.MarkFailed(ctx, "evt-2", "broker down", t0.Add(20*time.Minute), true))
	failed, err := repo.CountByStatus(ctx, entity.OutboxStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	delivered, err := repo.CountByStatus(ctx, entity.OutboxStatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
}

func TestProcessedEventRepository(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := repository.NewProcessedEventRepository(db, zap.NewNop())

	first, err := repo.MarkProcessed(ctx, "request-status", "wf-1:approved", t0)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := repo.MarkProcessed(ctx, "request-status", "wf-1:approved", t0)
	require.NoError(t, err)
	assert.False(t, again)

	other, err := repo.MarkProcessed(ctx, "lark-notifier", "wf-1:approved", t0)
	require.NoError(t, err)
	assert.True(t, other)
}

func TestRequestStatusRepository(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := repository.NewRequestStatusRepository(db, zap.NewNop())

	status := &entity.RequestStatus{
		EntityType: "travel_request", EntityID: "tr-1", InstanceID: "wf-1",
		WorkflowType: entity.WorkflowTypeTravelRequest, Status: "IN_REVIEW",
		LastEvent: "workflow.submitted", UpdatedAt: t0,
	}
	require.NoError(t, repo.Upsert(ctx, status))

	status.Status, status.LastEvent, status.Reason = "REJECTED", "workflow.rejected", "over budget"
	status.UpdatedAt = t0.Add(time.Hour)
	require.NoError(t, repo.Upsert(ctx, status))

	got, err := repo.Get(ctx, "travel_request", "tr-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "REJECTED", got.Status)
	assert.Equal(t, "over budget", got.Reason)
	assert.True(t, got.UpdatedAt.Equal(t0.Add(time.Hour)))

	missing, err := repo.Get(ctx, "travel_request", "tr-2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func seedDirectory(t *testing.T, dir *repository.DirectoryRepository) {
	t.Helper()
	ctx := context.Background()
	for _, rec := range []repository.EmployeeRecord{
		{ID: "ceo-1", Department: "Engineering", GradeLevel: 10, IsApprover: true},
		{ID: "dir-1", Department: "Engineering", GradeLevel: 8, IsApprover: true, ManagerID: "ceo-1"},
		{ID: "mgr-1", Department: "Engineering", GradeLevel: 6, IsApprover: true, ManagerID: "dir-1"},
		{ID: "emp-1", Department: "Engineering", GradeLevel: 3, ManagerID: "mgr-1"},
		{ID: "fin-1", Department: "Finance", GradeLevel: 5, IsApprover: true, Roles: []string{"FINANCE"}},
		{ID: "hr-1", Department: "HR", GradeLevel: 6, IsApprover: true, Roles: []string{"HR_MANAGER", "FINANCE"}},
	} {
		require.NoError(t, dir.SaveEmployee(ctx, rec))
	}
}

func TestDirectoryRepository(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	dir := repository.NewDirectoryRepository(db, zap.NewNop())
	seedDirectory(t, dir)

	chain, err := dir.ReportingChain(ctx, "emp-1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"mgr-1", "dir-1"}, chain)

	chain, err = dir.ReportingChain(ctx, "emp-1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"mgr-1", "dir-1", "ceo-1"}, chain)

	chain, err = dir.ReportingChain(ctx, "ceo-1", 1)
	require.NoError(t, err)
	assert.Empty(t, chain)

	senior, err := dir.EmployeesByMinGrade(ctx, 8, "Engineering")
	require.NoError(t, err)
	require.Len(t, senior, 2)
	assert.Equal(t, "ceo-1", senior[0].ID)
	assert.True(t, senior[0].IsApprover)

	finance, err := dir.UsersByRoles(ctx, []string{"FINANCE", "HR_MANAGER"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fin-1", "hr-1"}, finance)

	dept, err := dir.DepartmentOf(ctx, "fin-1")
	require.NoError(t, err)
	assert.Equal(t, "Finance", dept)
	dept, err = dir.DepartmentOf(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, dept)

	require.NoError(t, dir.AddDelegation(ctx, rule.Delegation{
		ApproverID: "mgr-1", DelegateID: "dir-1", StartsAt: t0, EndsAt: t0.Add(48 * time.Hour),
	}))
	assert.Error(t, dir.AddDelegation(ctx, rule.Delegation{ApproverID: "mgr-1", DelegateID: "x", StartsAt: t0, EndsAt: t0}))

	active, err := dir.ActiveDelegation(ctx, "mgr-1", t0.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "dir-1", active.DelegateID)

	expired, err := dir.ActiveDelegation(ctx, "mgr-1", t0.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, expired)
}

func TestDirectoryRepository_InactiveEmployeesAreNotResolved(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	dir := repository.NewDirectoryRepository(db, zap.NewNop())
	seedDirectory(t, dir)

	require.NoError(t, dir.SaveEmployee(ctx, repository.EmployeeRecord{
		ID: "dir-1", Department: "Engineering", GradeLevel: 8, IsApprover: true, ManagerID: "ceo-1", Inactive: true,
	}))
	require.NoError(t, dir.SaveEmployee(ctx, repository.EmployeeRecord{
		ID: "hr-1", Department: "HR", GradeLevel: 6, IsApprover: true, Roles: []string{"HR_MANAGER", "FINANCE"}, Inactive: true,
	}))

	senior, err := dir.EmployeesByMinGrade(ctx, 8, "Engineering")
	require.NoError(t, err)
	require.Len(t, senior, 1)
	assert.Equal(t, "ceo-1", senior[0].ID)

	holders, err := dir.UsersByRoles(ctx, []string{"FINANCE", "HR_MANAGER"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fin-1"}, holders)

	chain, err := dir.ReportingChain(ctx, "emp-1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"mgr-1", "dir-1"}, chain, "reporting lines are kept")

	require.NoError(t, dir.SaveEmployee(ctx, repository.EmployeeRecord{
		ID: "hr-1", Department: "HR", GradeLevel: 6, IsApprover: true, Roles: []string{"HR_MANAGER"},
	}))
	holders, err = dir.UsersByRoles(ctx, []string{"HR_MANAGER"})
	require.NoError(t, err)
	assert.Equal(t, []string{"hr-1"}, holders)
}

// TestEngineOnSQLite runs a two-stage approval end to end against the
// SQLite repositories.
func TestEngineOnSQLite(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	logger := zap.NewNop()
	clock := porttest.NewFakeClock(t0)

	dir := repository.NewDirectoryRepository(db, logger)
	seedDirectory(t, dir)

	store := definition.NewStore(repository.NewDefinitionRepository(db, logger), db, definition.WithClock(clock))
	_, err := store.Publish(ctx, &entity.WorkflowDefinition{
		WorkflowType: entity.WorkflowTypeTravelRequest,
		Name:         "Travel request",
		Stages: []entity.StageDefinition{
			{Order: 1, Name: "Line manager", StageType: entity.StageTypeApproval, ApprovalRuleType: entity.RuleManagerialLevel, ManagerialLevel: 1, RequiredApprovals: 1, IsMandatory: true},
			{Order: 2, Name: "Finance", StageType: entity.StageTypeFinal, ApprovalRuleType: entity.RuleRoleBased, AllowedRoles: []string{"FINANCE"}, RequiredApprovals: 1, IsMandatory: true},
		},
	})
	require.NoError(t, err)

	logs := repository.NewApprovalLogRepository(db, logger)
	outbox := repository.NewOutboxRepository(db, logger)
	engine := appwf.NewEngine(
		appwf.Repositories{
			Instances: repository.NewInstanceRepository(db, logger),
			Logs:      logs,
			Outbox:    outbox,
		},
		store,
		rule.NewEvaluator(dir),
		db,
		appwf.WithClock(clock),
	)

	inst, err := engine.Submit(ctx, appwf.SubmitRequest{
		WorkflowType: entity.WorkflowTypeTravelRequest,
		EntityType:   "travel_request",
		EntityID:     "tr-1",
		InitiatorID:  "emp-1",
		Data:         entity.Snapshot{"amount": 800.0},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"mgr-1"}, inst.CurrentApprovers)

	inst, err = engine.Decide(ctx, appwf.DecisionRequest{InstanceID: inst.ID, ApproverID: "mgr-1", Action: entity.ActionApprove})
	require.NoError(t, err)
	assert.Equal(t, 2, inst.CurrentStage)
	assert.Equal(t, []string{"fin-1", "hr-1"}, inst.CurrentApprovers)

	inst, err = engine.Decide(ctx, appwf.DecisionRequest{InstanceID: inst.ID, ApproverID: "hr-1", Action: entity.ActionApprove})
	require.NoError(t, err)
	assert.Equal(t, workflow.StateCompleted, inst.Status)

	replay, err := engine.Reconstruct(ctx, inst.ID)
	require.NoError(t, err)
	assert.True(t, replay.Consistent, replay.Mismatch)

	count, err := logs.CountByInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	pending, err := outbox.FetchPending(ctx, t0, 0)
	require.NoError(t, err)
	var types []string
	for _, msg := range pending {
		types = append(types, msg.EventType)
	}
	assert.Contains(t, types, "workflow.submitted")
	assert.Contains(t, types, "workflow.approved")
}
