// Package ruletest provides an in-memory organisational directory for tests.
package ruletest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/approval-engine/internal/domain/rule"
)

// Directory is an in-memory rule.Directory
type Directory struct {
	mu          sync.RWMutex
	managers    map[string]string
	employees   map[string]rule.Employee
	roles       map[string][]string
	inactive    map[string]bool
	delegations []rule.Delegation
	Err         error
}

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{
		managers:  make(map[string]string),
		employees: make(map[string]rule.Employee),
		roles:     make(map[string][]string),
		inactive:  make(map[string]bool),
	}
}

// AddEmployee registers an employee and the manager they report to
func (d *Directory) AddEmployee(emp rule.Employee, managerID string) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.employees[emp.ID] = emp
	if managerID != "" {
		d.managers[emp.ID] = managerID
	}
	return d
}

// GrantRole adds users to a role
func (d *Directory) GrantRole(role string, userIDs ...string) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[role] = append(d.roles[role], userIDs...)
	return d
}

// Deactivate hides employees from grade and role lookups
func (d *Directory) Deactivate(ids ...string) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		d.inactive[id] = true
	}
	return d
}

// Delegate records a delegation window
func (d *Directory) Delegate(approverID, delegateID string, from, to time.Time) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delegations = append(d.delegations, rule.Delegation{
		ApproverID: approverID,
		DelegateID: delegateID,
		StartsAt:   from,
		EndsAt:     to,
	})
	return d
}

func (d *Directory) ReportingChain(ctx context.Context, employeeID string, depth int) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.Err != nil {
		return nil, d.Err
	}
	chain := make([]string, 0, depth)
	current := employeeID
	for len(chain) < depth {
		manager, ok := d.managers[current]
		if !ok {
			break
		}
		chain = append(chain, manager)
		current = manager
	}
	return chain, nil
}

func (d *Directory) EmployeesByMinGrade(ctx context.Context, minGrade int, department string) ([]rule.Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.Err != nil {
		return nil, d.Err
	}
	var out []rule.Employee
	for _, emp := range d.employees {
		if emp.Department == department && emp.GradeLevel >= minGrade && !d.inactive[emp.ID] {
			out = append(out, emp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *Directory) UsersByRoles(ctx context.Context, roles []string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.Err != nil {
		return nil, d.Err
	}
	var out []string
	for _, role := range roles {
		for _, id := range d.roles[role] {
			if !d.inactive[id] {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

func (d *Directory) ActiveDelegation(ctx context.Context, approverID string, at time.Time) (*rule.Delegation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.Err != nil {
		return nil, d.Err
	}
	for i := range d.delegations {
		del := d.delegations[i]
		if del.ApproverID == approverID && del.Active(at) {
			return &del, nil
		}
	}
	return nil, nil
}

func (d *Directory) DepartmentOf(ctx context.Context, employeeID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.Err != nil {
		return "", d.Err
	}
	return d.employees[employeeID].Department, nil
}

var _ rule.Directory = (*Directory)(nil)
