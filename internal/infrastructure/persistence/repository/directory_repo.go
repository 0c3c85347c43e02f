package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/approval-engine/internal/domain/rule"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// EmployeeRecord is a directory row as imported from HR
type EmployeeRecord struct {
	ID         string   `json:"id" yaml:"id"`
	Name       string   `json:"name" yaml:"name"`
	Department string   `json:"department" yaml:"department"`
	GradeLevel int      `json:"gradeLevel" yaml:"gradeLevel"`
	IsApprover bool     `json:"isApprover" yaml:"isApprover"`
	ManagerID  string   `json:"managerId,omitempty" yaml:"managerId,omitempty"`
	Roles      []string `json:"roles,omitempty" yaml:"roles,omitempty"`

	// Inactive employees stay in reporting chains but are never resolved
	// by grade or role
	Inactive bool `json:"inactive,omitempty" yaml:"inactive,omitempty"`
}

// DirectoryRepository implements rule.Directory over the employee tables
type DirectoryRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewDirectoryRepository creates a new directory repository
func NewDirectoryRepository(db *sqlite.DB, logger *zap.Logger) *DirectoryRepository {
	return &DirectoryRepository{
		db:     db,
		logger: logger,
	}
}

// ReportingChain walks manager_id upwards, nearest manager first
func (r *DirectoryRepository) ReportingChain(ctx context.Context, employeeID string, depth int) ([]string, error) {
	if depth <= 0 {
		return nil, nil
	}

	query := `
		WITH RECURSIVE chain(id, depth) AS (
			SELECT manager_id, 1 FROM employees
			WHERE id = ? AND manager_id IS NOT NULL AND manager_id != ''
			UNION ALL
			SELECT e.manager_id, c.depth + 1
			FROM employees e JOIN chain c ON e.id = c.id
			WHERE e.manager_id IS NOT NULL AND e.manager_id != '' AND c.depth < ?
		)
		SELECT id FROM chain ORDER BY depth
	`

	return r.ids(ctx, "reporting chain", query, employeeID, depth)
}

// EmployeesByMinGrade lists active employees of the department at or above minGrade
func (r *DirectoryRepository) EmployeesByMinGrade(ctx context.Context, minGrade int, department string) ([]rule.Employee, error) {
	query := `
		SELECT id, department, grade_level, is_approver
		FROM employees
		WHERE department = ? AND grade_level >= ? AND is_active = 1
		ORDER BY id
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, department, minGrade)
	if err != nil {
		r.logger.Error("Failed to list employees by grade",
			zap.String("department", department),
			zap.Int("min_grade", minGrade),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list employees by grade: %w", err)
	}
	defer rows.Close()

	var employees []rule.Employee
	for rows.Next() {
		var emp rule.Employee
		if err := rows.Scan(&emp.ID, &emp.Department, &emp.GradeLevel, &emp.IsApprover); err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		employees = append(employees, emp)
	}

	return employees, rows.Err()
}

// UsersByRoles lists active holders of any of the roles
func (r *DirectoryRepository) UsersByRoles(ctx context.Context, roles []string) ([]string, error) {
	if len(roles) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(roles)), ", ")
	query := `
		SELECT DISTINCT r.employee_id
		FROM employee_roles r
		JOIN employees e ON e.id = r.employee_id
		WHERE r.role IN (` + placeholders + `) AND e.is_active = 1
		ORDER BY r.employee_id
	`

	args := make([]interface{}, len(roles))
	for i, role := range roles {
		args[i] = role
	}

	return r.ids(ctx, "role holders", query, args...)
}

// ActiveDelegation returns the most recent delegation covering at
func (r *DirectoryRepository) ActiveDelegation(ctx context.Context, approverID string, at time.Time) (*rule.Delegation, error) {
	query := `
		SELECT approver_id, delegate_id, starts_at, ends_at
		FROM delegations
		WHERE approver_id = ? AND starts_at <= ? AND ends_at > ?
		ORDER BY starts_at DESC
		LIMIT 1
	`

	var d rule.Delegation
	var startsAt, endsAt string
	stamp := encodeTime(at)

	err := r.db.Executor(ctx).QueryRowContext(ctx, query, approverID, stamp, stamp).Scan(
		&d.ApproverID,
		&d.DelegateID,
		&startsAt,
		&endsAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get active delegation", zap.String("approver_id", approverID), zap.Error(err))
		return nil, fmt.Errorf("failed to get active delegation: %w", err)
	}

	if d.StartsAt, err = decodeTime(startsAt); err != nil {
		return nil, err
	}
	if d.EndsAt, err = decodeTime(endsAt); err != nil {
		return nil, err
	}
	return &d, nil
}

// DepartmentOf returns the employee's department, empty when unknown
func (r *DirectoryRepository) DepartmentOf(ctx context.Context, employeeID string) (string, error) {
	query := `SELECT department FROM employees WHERE id = ?`

	var department string
	err := r.db.Executor(ctx).QueryRowContext(ctx, query, employeeID).Scan(&department)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get department: %w", err)
	}
	return department, nil
}

// SaveEmployee inserts or replaces an employee and their roles
func (r *DirectoryRepository) SaveEmployee(ctx context.Context, rec EmployeeRecord) error {
	return r.db.WithTransaction(ctx, func(txCtx context.Context) error {
		exec := r.db.Executor(txCtx)

		manager := sql.NullString{String: rec.ManagerID, Valid: rec.ManagerID != ""}
		_, err := exec.ExecContext(txCtx, `
			INSERT INTO employees (id, name, department, grade_level, is_approver, manager_id, is_active)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				department = excluded.department,
				grade_level = excluded.grade_level,
				is_approver = excluded.is_approver,
				manager_id = excluded.manager_id,
				is_active = excluded.is_active
		`, rec.ID, rec.Name, rec.Department, rec.GradeLevel, rec.IsApprover, manager, !rec.Inactive)
		if err != nil {
			r.logger.Error("Failed to save employee", zap.String("employee_id", rec.ID), zap.Error(err))
			return fmt.Errorf("failed to save employee %s: %w", rec.ID, err)
		}

		if _, err := exec.ExecContext(txCtx, `DELETE FROM employee_roles WHERE employee_id = ?`, rec.ID); err != nil {
			return fmt.Errorf("failed to clear roles of %s: %w", rec.ID, err)
		}
		for _, role := range rec.Roles {
			if _, err := exec.ExecContext(txCtx,
				`INSERT OR IGNORE INTO employee_roles (employee_id, role) VALUES (?, ?)`, rec.ID, role); err != nil {
				return fmt.Errorf("failed to grant role %s to %s: %w", role, rec.ID, err)
			}
		}
		return nil
	})
}

// AddDelegation records a delegation window
func (r *DirectoryRepository) AddDelegation(ctx context.Context, d rule.Delegation) error {
	if !d.EndsAt.After(d.StartsAt) {
		return fmt.Errorf("delegation of %s ends before it starts", d.ApproverID)
	}

	query := `
		INSERT INTO delegations (approver_id, delegate_id, starts_at, ends_at)
		VALUES (?, ?, ?, ?)
	`
	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		d.ApproverID, d.DelegateID, encodeTime(d.StartsAt), encodeTime(d.EndsAt))
	if err != nil {
		r.logger.Error("Failed to add delegation", zap.String("approver_id", d.ApproverID), zap.Error(err))
		return fmt.Errorf("failed to add delegation: %w", err)
	}
	return nil
}

func (r *DirectoryRepository) ids(ctx context.Context, kind, query string, args ...interface{}) ([]string, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query directory", zap.String("kind", kind), zap.Error(err))
		return nil, fmt.Errorf("failed to query %s: %w", kind, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Verify interface compliance
var _ rule.Directory = (*DirectoryRepository)(nil)
