package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/insightserenity/access/internal/shared"
)

// Repository defines data access for the permission catalog.
type Repository interface {
	Create(ctx context.Context, perm Permission) (Permission, error)
	GetByCode(ctx context.Context, code string) (Permission, error)
	ListByCodes(ctx context.Context, codes []string) ([]Permission, error)
	List(ctx context.Context) ([]Permission, error)
	Update(ctx context.Context, perm Permission) (Permission, error)
	IncrementUsage(ctx context.Context, code string, at time.Time) error
}

// CreateInput carries the fields accepted when registering a permission.
type CreateInput struct {
	Code        string `validate:"required"`
	Name        string `validate:"required"`
	Description string
	Resource    string `validate:"required"`
	Action      Action `validate:"required"`
	Scope       Scope
	Category    string

	Risk             RiskLevel
	RequiresMFA      bool
	RequiresApproval bool
	ApprovalLevel    int `validate:"min=0,max=3"`
	AuditLevel       AuditLevel
	RetentionDays    int `validate:"min=0"`

	Dependencies []Dependency
	Conflicts    []string
	Conditions   []shared.Condition
}

// Compatibility reports whether a permission can join a set of held
// permissions, with the offending codes when it cannot.
type Compatibility struct {
	Compatible          bool
	Conflicts           []string
	MissingDependencies []string
}

// Service orchestrates permission catalog operations.
type Service struct {
	repo     Repository
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, validate: validator.New(), logger: logger}
}

// Create registers a new permission. Duplicate codes fail with
// PERMISSION_EXISTS. Risk defaults from the classification table when the
// caller leaves it empty; this is the only silently applied default.
func (s *Service) Create(ctx context.Context, input CreateInput) (Permission, error) {
	if err := s.validate.Struct(input); err != nil {
		return Permission{}, shared.Validation(err.Error())
	}
	if !ValidCode(input.Code) {
		return Permission{}, shared.Validation(fmt.Sprintf("permission code %q must match resource:action", input.Code))
	}
	if !input.Action.Valid() {
		return Permission{}, shared.Validation(fmt.Sprintf("unknown action %q", input.Action))
	}

	risk := input.Risk
	if risk == "" {
		risk = RiskFor(input.Resource, input.Action)
	}
	auditLevel := input.AuditLevel
	if auditLevel == "" {
		auditLevel = AuditLevelFor(risk)
	}
	scope := input.Scope
	if scope == "" {
		scope = ScopeTenant
	}

	perm := Permission{
		Code:             input.Code,
		Name:             input.Name,
		Description:      input.Description,
		Resource:         input.Resource,
		Action:           input.Action,
		Scope:            scope,
		Category:         input.Category,
		Risk:             risk,
		RequiresMFA:      input.RequiresMFA,
		RequiresApproval: input.RequiresApproval,
		ApprovalLevel:    input.ApprovalLevel,
		AuditLevel:       auditLevel,
		RetentionDays:    input.RetentionDays,
		Dependencies:     input.Dependencies,
		Conflicts:        input.Conflicts,
		Conditions:       input.Conditions,
		IsActive:         true,
	}
	created, err := s.repo.Create(ctx, perm)
	if err != nil {
		return Permission{}, err
	}
	return created, nil
}

// Get fetches a permission by code.
func (s *Service) Get(ctx context.Context, code string) (Permission, error) {
	return s.repo.GetByCode(ctx, code)
}

// List returns the whole catalog.
func (s *Service) List(ctx context.Context) ([]Permission, error) {
	return s.repo.List(ctx)
}

// CheckCompatibility verifies that candidate can be added next to the held
// permission codes. It fails when any held permission declares a conflict
// with the candidate (or vice versa), or when a required dependency of the
// candidate is absent from the held set.
func (s *Service) CheckCompatibility(ctx context.Context, candidate Permission, heldCodes []string) (Compatibility, error) {
	held, err := s.repo.ListByCodes(ctx, heldCodes)
	if err != nil {
		return Compatibility{}, err
	}

	// Dependencies are satisfied by what the caller holds, whether or not
	// each held code still has a catalog row; conflict declarations can only
	// come from catalog records, so the scan uses the resolved ones.
	heldSet := make(map[string]struct{}, len(heldCodes))
	for _, code := range heldCodes {
		heldSet[code] = struct{}{}
	}

	result := Compatibility{Compatible: true}
	for _, p := range held {
		for _, conflictCode := range p.Conflicts {
			if conflictCode == candidate.Code {
				result.Conflicts = append(result.Conflicts, p.Code)
			}
		}
	}
	for _, conflictCode := range candidate.Conflicts {
		if _, ok := heldSet[conflictCode]; ok {
			result.Conflicts = appendUnique(result.Conflicts, conflictCode)
		}
	}
	for _, depCode := range candidate.RequiredDependencies() {
		if _, ok := heldSet[depCode]; !ok {
			result.MissingDependencies = append(result.MissingDependencies, depCode)
		}
	}
	if len(result.Conflicts) > 0 || len(result.MissingDependencies) > 0 {
		result.Compatible = false
	}
	return result, nil
}

// Deprecate marks a permission deprecated, optionally pointing at its
// replacement. The record is never removed.
func (s *Service) Deprecate(ctx context.Context, code, replacedBy string) (Permission, error) {
	perm, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return Permission{}, err
	}
	if replacedBy != "" {
		if _, err := s.repo.GetByCode(ctx, replacedBy); err != nil {
			return Permission{}, err
		}
	}
	perm.IsDeprecated = true
	perm.DeprecatedAt = time.Now().UTC()
	perm.ReplacedBy = replacedBy
	return s.repo.Update(ctx, perm)
}

// Deactivate switches a permission off without deleting it.
func (s *Service) Deactivate(ctx context.Context, code string) (Permission, error) {
	perm, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return Permission{}, err
	}
	perm.IsActive = false
	return s.repo.Update(ctx, perm)
}

// RecordUsage bumps the usage counter for a granted permission. Failures are
// logged and swallowed: usage accounting must never affect a decision.
func (s *Service) RecordUsage(ctx context.Context, code string, at time.Time) {
	if err := s.repo.IncrementUsage(ctx, code, at); err != nil && s.logger != nil {
		s.logger.Warn("record permission usage", slog.String("code", code), slog.Any("error", err))
	}
}

func appendUnique(list []string, value string) []string {
	for _, item := range list {
		if item == value {
			return list
		}
	}
	return append(list, value)
}
