package spreadsheet

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/repository"
)

// Directory import columns, matched case-insensitively against the header row
const (
	colID         = "id"
	colName       = "name"
	colDepartment = "department"
	colGrade      = "grade"
	colApprover   = "approver"
	colManager    = "manager"
	colRoles      = "roles"
	colActive     = "active"
)

var columnAliases = map[string]string{
	"id":          colID,
	"employee id": colID,
	"name":        colName,
	"department":  colDepartment,
	"grade":       colGrade,
	"grade level": colGrade,
	"gradelevel":  colGrade,
	"approver":    colApprover,
	"is approver": colApprover,
	"isapprover":  colApprover,
	"manager":     colManager,
	"manager id":  colManager,
	"managerid":   colManager,
	"roles":       colRoles,
	"active":      colActive,
	"is active":   colActive,
	"isactive":    colActive,
}

// ReadDirectory parses the first sheet of an HR export into employee records.
// Roles are comma separated. Blank rows are skipped. Employees are active
// unless the active column says otherwise.
func ReadDirectory(r io.Reader) ([]repository.EmployeeRecord, error) {
	file, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %s is empty", sheets[0])
	}

	columns := make(map[string]int)
	for i, title := range rows[0] {
		if col, ok := columnAliases[strings.ToLower(strings.TrimSpace(title))]; ok {
			columns[col] = i
		}
	}
	for _, required := range []string{colID, colName} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("sheet %s has no %s column", sheets[0], required)
		}
	}

	cell := func(row []string, col string) string {
		i, ok := columns[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	records := make([]repository.EmployeeRecord, 0, len(rows)-1)
	for n, row := range rows[1:] {
		line := n + 2
		id := cell(row, colID)
		if id == "" {
			continue
		}

		rec := repository.EmployeeRecord{
			ID:         id,
			Name:       cell(row, colName),
			Department: cell(row, colDepartment),
			ManagerID:  cell(row, colManager),
		}

		if grade := cell(row, colGrade); grade != "" {
			rec.GradeLevel, err = strconv.Atoi(grade)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid grade %q", line, grade)
			}
		}
		if approver := cell(row, colApprover); approver != "" {
			rec.IsApprover, err = parseBool(approver)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid approver flag: %w", line, err)
			}
		}
		if active := cell(row, colActive); active != "" {
			isActive, err := parseBool(active)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid active flag: %w", line, err)
			}
			rec.Inactive = !isActive
		}
		for _, role := range strings.Split(cell(row, colRoles), ",") {
			if role = strings.TrimSpace(role); role != "" {
				rec.Roles = append(rec.Roles, role)
			}
		}

		records = append(records, rec)
	}
	return records, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "y", "yes", "1", "true":
		return true, nil
	case "n", "no", "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("%q is not yes or no", s)
}
