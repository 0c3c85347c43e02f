// Package spreadsheet reads and writes the XLSX files operators exchange
// with the engine: audit trail exports and employee directory imports.
package spreadsheet

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
)

const (
	summarySheet = "Summary"
	logSheet     = "Approval Log"
	dataSheet    = "Request Data"

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	dateLayout      = "2006-01-02 15:04:05"
)

var logHeader = []interface{}{
	"Seq", "Stage", "Action", "Approver", "On Behalf Of", "Delegated To",
	"Previous Status", "New Status", "Previous Stage", "New Stage", "Comments", "Date (UTC)",
}

// AuditExporter writes an instance and its approval log as an XLSX workbook
type AuditExporter struct {
	fontName string
	logger   *zap.Logger
}

// NewAuditExporter creates an exporter. fontName is optional; set it when
// request data contains CJK text.
func NewAuditExporter(fontName string, logger *zap.Logger) *AuditExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditExporter{fontName: fontName, logger: logger}
}

// ContentType returns the XLSX MIME type
func (e *AuditExporter) ContentType() string {
	return xlsxContentType
}

// FileExtension returns the file extension for exported workbooks
func (e *AuditExporter) FileExtension() string {
	return ".xlsx"
}

// Export renders the workbook into w
func (e *AuditExporter) Export(w io.Writer, instance *entity.WorkflowInstance, entries []*entity.ApprovalLogEntry) error {
	if instance == nil {
		return fmt.Errorf("instance cannot be nil")
	}

	file := excelize.NewFile()
	defer func() {
		if err := file.Close(); err != nil {
			e.logger.Warn("Failed to close workbook", zap.Error(err))
		}
	}()

	if e.fontName != "" {
		if err := file.SetDefaultFont(e.fontName); err != nil {
			e.logger.Warn("Failed to set default font for export",
				zap.String("font", e.fontName),
				zap.Error(err))
		}
	}

	if err := file.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	bold, err := file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := e.writeSummary(file, instance, bold); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	if err := e.writeLog(file, entries, bold); err != nil {
		return fmt.Errorf("failed to write approval log: %w", err)
	}
	if err := e.writeData(file, instance, bold); err != nil {
		return fmt.Errorf("failed to write request data: %w", err)
	}

	if _, err := file.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Debug("Audit trail exported",
		zap.String("instance_id", instance.ID),
		zap.Int("entries", len(entries)))
	return nil
}

func (e *AuditExporter) writeSummary(file *excelize.File, inst *entity.WorkflowInstance, bold int) error {
	rows := [][]interface{}{
		{"Instance", inst.ID},
		{"Workflow Type", inst.WorkflowType},
		{"Definition", inst.DefinitionID},
		{"Entity", inst.EntityType + " " + inst.EntityID},
		{"Initiator", inst.InitiatorID},
		{"Status", inst.Status.String()},
		{"Stage", fmt.Sprintf("%d / %d", inst.CurrentStage, inst.TotalStages)},
		{"Priority", string(inst.Priority)},
		{"Escalated", inst.Escalated},
		{"Rejection Reason", inst.RejectionReason},
		{"Version", inst.Version},
		{"Created", formatTime(&inst.CreatedAt)},
		{"Submitted", formatTime(inst.SubmittedAt)},
		{"Completed", formatTime(inst.CompletedAt)},
	}
	for i, row := range rows {
		if err := setRow(file, summarySheet, i+1, row); err != nil {
			return err
		}
	}
	if err := file.SetCellStyle(summarySheet, "A1", fmt.Sprintf("A%d", len(rows)), bold); err != nil {
		return err
	}
	return file.SetColWidth(summarySheet, "A", "B", 24)
}

func (e *AuditExporter) writeLog(file *excelize.File, entries []*entity.ApprovalLogEntry, bold int) error {
	if _, err := file.NewSheet(logSheet); err != nil {
		return err
	}
	if err := setRow(file, logSheet, 1, logHeader); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(logHeader), 1)
	if err != nil {
		return err
	}
	if err := file.SetCellStyle(logSheet, "A1", last, bold); err != nil {
		return err
	}

	for i, entry := range entries {
		row := []interface{}{
			entry.Sequence,
			entry.Stage,
			string(entry.Action),
			entry.ApproverID,
			entry.OnBehalfOf,
			entry.DelegatedTo,
			entry.PreviousStatus.String(),
			entry.NewStatus.String(),
			entry.PreviousStage,
			entry.NewStage,
			entry.Comments,
			formatTime(&entry.ActionDate),
		}
		if err := setRow(file, logSheet, i+2, row); err != nil {
			return err
		}
	}
	return file.SetColWidth(logSheet, "A", "L", 16)
}

func (e *AuditExporter) writeData(file *excelize.File, inst *entity.WorkflowInstance, bold int) error {
	if _, err := file.NewSheet(dataSheet); err != nil {
		return err
	}
	if err := setRow(file, dataSheet, 1, []interface{}{"Field", "Submitted", "Current"}); err != nil {
		return err
	}
	if err := file.SetCellStyle(dataSheet, "A1", "C1", bold); err != nil {
		return err
	}

	keys := make(map[string]struct{})
	for k := range inst.InitialDataSnapshot {
		keys[k] = struct{}{}
	}
	for k := range inst.CurrentDataSnapshot {
		keys[k] = struct{}{}
	}
	fields := make([]string, 0, len(keys))
	for k := range keys {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	for i, k := range fields {
		row := []interface{}{k, cellValue(inst.InitialDataSnapshot[k]), cellValue(inst.CurrentDataSnapshot[k])}
		if err := setRow(file, dataSheet, i+2, row); err != nil {
			return err
		}
	}
	return file.SetColWidth(dataSheet, "A", "C", 24)
}

func setRow(file *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return file.SetSheetRow(sheet, cell, &values)
}

// cellValue keeps scalars as-is so numbers stay numeric in the sheet
func cellValue(v interface{}) interface{} {
	switch v.(type) {
	case nil:
		return ""
	case string, bool, int, int64, float64:
		return v
	}
	return fmt.Sprintf("%v", v)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

// Verify interface compliance
var _ port.AuditExporter = (*AuditExporter)(nil)
