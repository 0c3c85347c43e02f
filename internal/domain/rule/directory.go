package rule

import (
	"context"
	"time"
)

// Employee is the directory view of a person used for approver resolution
type Employee struct {
	ID         string
	Department string
	GradeLevel int
	IsApprover bool
}

// Delegation is a time-bounded hand-over of one approver's duties
type Delegation struct {
	ApproverID string
	DelegateID string
	StartsAt   time.Time
	EndsAt     time.Time
}

// Active reports whether the delegation covers at
func (d *Delegation) Active(at time.Time) bool {
	return !at.Before(d.StartsAt) && at.Before(d.EndsAt)
}

// Directory is the read-only organisational directory the evaluator consults
type Directory interface {
	// ReportingChain returns up to depth managers above the employee, nearest first
	ReportingChain(ctx context.Context, employeeID string, depth int) ([]string, error)

	// EmployeesByMinGrade returns employees of the department at or above minGrade
	EmployeesByMinGrade(ctx context.Context, minGrade int, department string) ([]Employee, error)

	// UsersByRoles returns ids of users holding any of the roles
	UsersByRoles(ctx context.Context, roles []string) ([]string, error)

	// ActiveDelegation returns the delegation in force for approverID at the given time, or nil
	ActiveDelegation(ctx context.Context, approverID string, at time.Time) (*Delegation, error)

	// DepartmentOf returns the employee's department
	DepartmentOf(ctx context.Context, employeeID string) (string, error)
}
