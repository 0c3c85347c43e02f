package spreadsheet

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/repository"
)

func TestAuditExporter_Export(t *testing.T) {
	submitted := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	inst := &entity.WorkflowInstance{
		ID:                  "inst-1",
		WorkflowType:        entity.WorkflowTypeTravelRequest,
		EntityType:          "travel_request",
		EntityID:            "tr-1",
		InitiatorID:         "emp-1",
		Status:              workflow.StateCompleted,
		CurrentStage:        2,
		TotalStages:         2,
		InitialDataSnapshot: entity.Snapshot{"destination": "Lagos", "estimatedCost": 1200.5},
		CurrentDataSnapshot: entity.Snapshot{"destination": "Abuja", "estimatedCost": 1200.5},
		CreatedAt:           submitted,
		SubmittedAt:         &submitted,
	}
	entries := []*entity.ApprovalLogEntry{
		{Sequence: 1, Stage: 1, ApproverID: "mgr-1", Action: entity.ActionApprove,
			PreviousStatus: workflow.StatePendingApproval, NewStatus: workflow.StateInProgress,
			PreviousStage: 1, NewStage: 2, ActionDate: submitted.Add(time.Hour)},
		{Sequence: 2, Stage: 2, ApproverID: "fin-1", Action: entity.ActionApprove, Comments: "ok",
			PreviousStatus: workflow.StateInProgress, NewStatus: workflow.StateCompleted,
			PreviousStage: 2, NewStage: 2, ActionDate: submitted.Add(2 * time.Hour)},
	}

	exporter := NewAuditExporter("", nil)
	var buf bytes.Buffer
	require.NoError(t, exporter.Export(&buf, inst, entries))
	assert.Equal(t, ".xlsx", exporter.FileExtension())

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{summarySheet, logSheet, dataSheet}, f.GetSheetList())

	status, err := f.GetCellValue(summarySheet, "B6")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", status)

	rows, err := f.GetRows(logSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Seq", rows[0][0])
	assert.Equal(t, "fin-1", rows[2][3])
	assert.Equal(t, "ok", rows[2][10])
	assert.Equal(t, "2026-03-02 11:30:00", rows[2][11])

	data, err := f.GetRows(dataSheet)
	require.NoError(t, err)
	require.Len(t, data, 3)
	assert.Equal(t, []string{"destination", "Lagos", "Abuja"}, data[1])
}

func TestAuditExporter_RejectsNilInstance(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, NewAuditExporter("", nil).Export(&buf, nil, nil))
}

func directoryWorkbook(t *testing.T, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)
	return &buf
}

func TestReadDirectory(t *testing.T) {
	buf := directoryWorkbook(t, [][]interface{}{
		{"Employee ID", "Name", "Department", "Grade Level", "Is Approver", "Manager ID", "Roles"},
		{"emp-1", "Ada", "Engineering", 3, "no", "mgr-1", ""},
		{"mgr-1", "Bola", "Engineering", 7, "yes", "", "LINE_MANAGER"},
		{"", "", "", "", "", "", ""},
		{"fin-1", "Chidi", "Finance", 8, "Y", "", "FINANCE, PAYROLL"},
	})

	records, err := ReadDirectory(buf)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, repository.EmployeeRecord{
		ID: "emp-1", Name: "Ada", Department: "Engineering", GradeLevel: 3, ManagerID: "mgr-1",
	}, records[0])
	assert.True(t, records[1].IsApprover)
	assert.Equal(t, []string{"FINANCE", "PAYROLL"}, records[2].Roles)
}

func TestReadDirectory_ActiveColumn(t *testing.T) {
	buf := directoryWorkbook(t, [][]interface{}{
		{"id", "name", "is active"},
		{"emp-1", "Ada", "yes"},
		{"emp-2", "Bola", "no"},
		{"emp-3", "Chidi", ""},
	})

	records, err := ReadDirectory(buf)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.False(t, records[0].Inactive)
	assert.True(t, records[1].Inactive)
	assert.False(t, records[2].Inactive, "blank means active")

	badFlag := directoryWorkbook(t, [][]interface{}{{"id", "name", "active"}, {"emp-1", "Ada", "maybe"}})
	_, err = ReadDirectory(badFlag)
	assert.ErrorContains(t, err, "row 2: invalid active flag")
}

func TestReadDirectory_Errors(t *testing.T) {
	missingID := directoryWorkbook(t, [][]interface{}{{"Name"}, {"Ada"}})
	_, err := ReadDirectory(missingID)
	assert.ErrorContains(t, err, "no id column")

	badGrade := directoryWorkbook(t, [][]interface{}{{"id", "name", "grade"}, {"emp-1", "Ada", "senior"}})
	_, err = ReadDirectory(badGrade)
	assert.ErrorContains(t, err, "row 2")
}
