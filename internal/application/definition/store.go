// Package definition publishes and serves versioned workflow definitions.
package definition

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// ErrDuplicateDefinition is wrapped when a publish would repeat the active definition
var ErrDuplicateDefinition = errors.New("identical definition already active")

// Store serves workflow definitions
type Store interface {
	// Publish validates def and makes it the active version of its type
	Publish(ctx context.Context, def *entity.WorkflowDefinition) (*entity.WorkflowDefinition, error)

	// GetActive returns the active definition, or ErrNotFound
	GetActive(ctx context.Context, workflowType string) (*entity.WorkflowDefinition, error)

	// GetByID returns a specific version, active or not
	GetByID(ctx context.Context, id string) (*entity.WorkflowDefinition, error)

	// List returns every version of a workflow type, newest first
	List(ctx context.Context, workflowType string) ([]*entity.WorkflowDefinition, error)
}

type store struct {
	repo      port.DefinitionRepository
	txManager port.TransactionManager
	clock     port.Clock
	supports  func(entity.RuleType) bool
	logger    *zap.Logger
}

// Option configures the store
type Option func(*store)

// WithClock sets the clock used for creation timestamps
func WithClock(clock port.Clock) Option {
	return func(s *store) {
		s.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *store) {
		s.logger = logger
	}
}

// WithRuleSupport restricts publication to rule types the evaluator knows
func WithRuleSupport(supports func(entity.RuleType) bool) Option {
	return func(s *store) {
		s.supports = supports
	}
}

// NewStore creates a definition store
func NewStore(repo port.DefinitionRepository, txManager port.TransactionManager, opts ...Option) Store {
	s := &store{
		repo:      repo,
		txManager: txManager,
		clock:     port.NewRealClock(),
		supports:  builtinRule,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *store) Publish(ctx context.Context, def *entity.WorkflowDefinition) (*entity.WorkflowDefinition, error) {
	if def == nil {
		return nil, workflow.NewError(workflow.ErrDefinitionInvalid, "", "definition is required")
	}

	candidate := normalize(def)
	if err := Validate(candidate, s.supports); err != nil {
		return nil, err
	}

	hash, err := contentHash(candidate)
	if err != nil {
		return nil, fmt.Errorf("failed to hash definition: %w", err)
	}
	candidate.ContentHash = hash

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		active, err := s.repo.GetActive(txCtx, candidate.WorkflowType)
		if err != nil {
			return fmt.Errorf("failed to load active definition: %w", err)
		}
		if active != nil && active.ContentHash == candidate.ContentHash {
			return workflow.NewError(workflow.ErrDefinitionInvalid, "",
				"%s version %d has the same stages", active.WorkflowType, active.Version).Wrap(ErrDuplicateDefinition)
		}

		versions, err := s.repo.ListByType(txCtx, candidate.WorkflowType)
		if err != nil {
			return fmt.Errorf("failed to list definition versions: %w", err)
		}
		candidate.Version = 1
		for _, v := range versions {
			if v.Version >= candidate.Version {
				candidate.Version = v.Version + 1
			}
		}

		if active != nil {
			if err := s.repo.Deactivate(txCtx, active.ID); err != nil {
				return fmt.Errorf("failed to deactivate version %d: %w", active.Version, err)
			}
		}

		candidate.ID = uuid.NewString()
		candidate.IsActive = true
		candidate.CreatedAt = s.clock.Now()
		return s.repo.Create(txCtx, candidate)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Workflow definition published",
		zap.String("workflow_type", candidate.WorkflowType),
		zap.Int("version", candidate.Version),
		zap.Int("stages", len(candidate.Stages)),
		zap.String("definition_id", candidate.ID))

	return candidate, nil
}

func (s *store) GetActive(ctx context.Context, workflowType string) (*entity.WorkflowDefinition, error) {
	def, err := s.repo.GetActive(ctx, workflowType)
	if err != nil {
		return nil, fmt.Errorf("failed to load active definition: %w", err)
	}
	if def == nil {
		return nil, workflow.NewError(workflow.ErrNotFound, "", "no active definition for workflow type %q", workflowType)
	}
	return def, nil
}

func (s *store) GetByID(ctx context.Context, id string) (*entity.WorkflowDefinition, error) {
	def, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition: %w", err)
	}
	if def == nil {
		return nil, workflow.NewError(workflow.ErrNotFound, "", "definition %s not found", id)
	}
	return def, nil
}

func (s *store) List(ctx context.Context, workflowType string) ([]*entity.WorkflowDefinition, error) {
	defs, err := s.repo.ListByType(ctx, workflowType)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	return defs, nil
}

// normalize copies def, orders its stages and fills defaults
func normalize(def *entity.WorkflowDefinition) *entity.WorkflowDefinition {
	c := *def
	c.Stages = make([]entity.StageDefinition, len(def.Stages))
	copy(c.Stages, def.Stages)
	sort.SliceStable(c.Stages, func(i, j int) bool { return c.Stages[i].Order < c.Stages[j].Order })

	for i := range c.Stages {
		st := &c.Stages[i]
		st.AllowedRoles = append([]string(nil), st.AllowedRoles...)
		if st.RequiredApprovals == 0 {
			st.RequiredApprovals = 1
		}
		if st.ApprovalRuleType == entity.RuleAmountBased && st.AmountField == "" {
			st.AmountField = entity.DefaultAmountField
		}
		if st.EscalationTarget != nil {
			target := *st.EscalationTarget
			if target.Type == "" {
				target.Type = entity.EscalateToUser
			}
			st.EscalationTarget = &target
		}
	}
	if c.Name == "" {
		c.Name = c.WorkflowType
	}
	return &c
}

// contentHash fingerprints the routing-relevant part of a definition
func contentHash(def *entity.WorkflowDefinition) (string, error) {
	raw, err := json.Marshal(struct {
		WorkflowType string                   `json:"workflowType"`
		Stages       []entity.StageDefinition `json:"stages"`
	}{def.WorkflowType, def.Stages})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func builtinRule(t entity.RuleType) bool {
	switch t {
	case entity.RuleManagerialLevel, entity.RuleGradeBased, entity.RuleRoleBased,
		entity.RuleAmountBased, entity.RuleSpecificUser:
		return true
	}
	return false
}
