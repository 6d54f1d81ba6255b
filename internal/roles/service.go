package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/insightserenity/access/internal/catalog"
	"github.com/insightserenity/access/internal/principals"
	"github.com/insightserenity/access/internal/shared"
)

// maxHierarchyDepth bounds every parent/child walk. The hierarchy is required
// to be a DAG; the bound turns a corrupted chain into a truncated walk
// instead of a hang.
const maxHierarchyDepth = 32

// casRetries is how many times a read-modify-write mutation is retried after
// losing a version race.
const casRetries = 3

// ReasonUserLimit is returned when a role is at its max-user cap.
const ReasonUserLimit = "User limit reached for this role"

// Repository defines data access for roles, assignments and statistics.
type Repository interface {
	Create(ctx context.Context, role Role) (Role, error)
	Get(ctx context.Context, id int64) (Role, error)
	GetByName(ctx context.Context, name string) (Role, error)
	ListChildren(ctx context.Context, parentID int64) ([]Role, error)
	// Update applies a compare-and-swap on Role.Version and returns
	// ErrVersionConflict when another writer got there first.
	Update(ctx context.Context, role Role) (Role, error)
	GetStats(ctx context.Context, roleID int64) (Stats, error)
	RecordAssignment(ctx context.Context, assignment Assignment) error
}

// PermissionCatalog is the slice of the catalog service the role layer needs.
type PermissionCatalog interface {
	Get(ctx context.Context, code string) (catalog.Permission, error)
	CheckCompatibility(ctx context.Context, candidate catalog.Permission, heldCodes []string) (catalog.Compatibility, error)
}

// PrincipalDirectory resolves principals for assignment checks.
type PrincipalDirectory interface {
	Get(ctx context.Context, id int64) (principals.Principal, error)
}

// Invalidator is notified after any mutation that changes effective
// permissions. Serving a stale allow after a denial was added is a security
// defect, so the bump happens on the mutation path, not lazily.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// CreateInput carries the fields accepted when creating a role.
type CreateInput struct {
	Name        string `validate:"required"`
	Description string
	Scope       Scope
	Category    Category
	Level       int `validate:"min=0,max=100"`
	ParentID    int64

	Restrictions    Restrictions
	AssignmentRules []AssignmentRule
	Priority        int
	IsDefault       bool
	Compliance      Compliance

	EffectiveAt time.Time
	ExpiresAt   time.Time
}

// CloneOverrides selectively replaces fields on a cloned role.
type CloneOverrides struct {
	Description  *string
	Level        *int
	Priority     *int
	Restrictions *Restrictions
}

// Coverage aggregates allow/deny lists across a set of roles. Effective is
// Allowed minus Denied: a denial anywhere suppresses the permission across
// the whole union.
type Coverage struct {
	Allowed   []string
	Denied    []string
	Effective []string
}

// Hierarchy describes a role's position in the tree.
type Hierarchy struct {
	Current Role
	// Ancestors runs root-ward: immediate parent first.
	Ancestors []Role
	// Descendants is a pre-order traversal of the subtree.
	Descendants []Role
}

// AssignmentCheck is the outcome of an assignment gate.
type AssignmentCheck struct {
	Allowed bool
	Reason  string
}

// Service handles role hierarchy business logic.
type Service struct {
	repo        Repository
	catalog     PermissionCatalog
	directory   PrincipalDirectory
	invalidator Invalidator
	validate    *validator.Validate
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds a Service instance. Directory and invalidator may be nil
// when the caller does not need assignment gating or caching.
func NewService(repo Repository, cat PermissionCatalog, directory PrincipalDirectory, invalidator Invalidator, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		catalog:     cat,
		directory:   directory,
		invalidator: invalidator,
		validate:    validator.New(),
		logger:      logger,
		now:         time.Now,
	}
}

// Create persists a new role. Duplicate names fail with ROLE_EXISTS. When a
// parent is set, the level is clamped strictly below the parent's and the
// scope is inherited when absent.
func (s *Service) Create(ctx context.Context, input CreateInput) (Role, error) {
	if err := s.validate.Struct(input); err != nil {
		return Role{}, shared.Validation(err.Error())
	}

	role := Role{
		Name:            input.Name,
		Description:     input.Description,
		Scope:           input.Scope,
		Category:        input.Category,
		Level:           input.Level,
		ParentID:        input.ParentID,
		Restrictions:    input.Restrictions,
		AssignmentRules: input.AssignmentRules,
		Priority:        input.Priority,
		IsActive:        true,
		IsDefault:       input.IsDefault,
		Compliance:      input.Compliance,
		EffectiveAt:     input.EffectiveAt,
		ExpiresAt:       input.ExpiresAt,
	}
	if role.Category == "" {
		role.Category = CategoryOperational
	}

	if input.ParentID != 0 {
		parent, err := s.repo.Get(ctx, input.ParentID)
		if err != nil {
			if shared.IsNotFound(err) {
				return Role{}, shared.NotFound(shared.CodeParentRoleNotFound, fmt.Sprintf("parent role %d not found", input.ParentID))
			}
			return Role{}, err
		}
		if parent.Level <= 0 {
			return Role{}, shared.Validation(fmt.Sprintf("role %q is at level 0 and cannot have child roles", parent.Name))
		}
		if role.Level >= parent.Level {
			role.Level = parent.Level - 1
		}
		if role.Scope == "" {
			role.Scope = parent.Scope
		}
	}
	if role.Scope == "" {
		role.Scope = ScopeCustom
	}
	if role.Level < 0 {
		role.Level = 0
	}

	created, err := s.repo.Create(ctx, role)
	if err != nil {
		return Role{}, err
	}
	return created, nil
}

// Get fetches a role by ID.
func (s *Service) Get(ctx context.Context, id int64) (Role, error) {
	return s.repo.Get(ctx, id)
}

// GetByName fetches a role by its unique name.
func (s *Service) GetByName(ctx context.Context, name string) (Role, error) {
	return s.repo.GetByName(ctx, name)
}

// AddPermission appends a permission to the role's allow-list after the
// compatibility gate, and removes it from the deny-list if present.
func (s *Service) AddPermission(ctx context.Context, roleID int64, code string) (Role, error) {
	perm, err := s.catalog.Get(ctx, code)
	if err != nil {
		return Role{}, err
	}
	return s.mutate(ctx, roleID, func(role *Role) error {
		if role.HasPermission(code) {
			return nil
		}
		compat, err := s.catalog.CheckCompatibility(ctx, perm, role.Permissions)
		if err != nil {
			return err
		}
		if !compat.Compatible {
			return shared.PolicyViolation(shared.CodePermissionIncompatible,
				fmt.Sprintf("permission %s is incompatible with role %s", code, role.Name)).
				WithDetail("conflicts", compat.Conflicts).
				WithDetail("missingDependencies", compat.MissingDependencies)
		}
		role.Permissions = appendUnique(role.Permissions, code)
		role.DeniedPermissions = removeString(role.DeniedPermissions, code)
		return nil
	})
}

// RemovePermission drops a permission from the allow-list. The deny-list is
// untouched.
func (s *Service) RemovePermission(ctx context.Context, roleID int64, code string) (Role, error) {
	return s.mutate(ctx, roleID, func(role *Role) error {
		role.Permissions = removeString(role.Permissions, code)
		return nil
	})
}

// DenyPermission appends a permission to the deny-list and removes it from
// the allow-list. Deny always wins.
func (s *Service) DenyPermission(ctx context.Context, roleID int64, code string) (Role, error) {
	return s.mutate(ctx, roleID, func(role *Role) error {
		role.DeniedPermissions = appendUnique(role.DeniedPermissions, code)
		role.Permissions = removeString(role.Permissions, code)
		return nil
	})
}

// Reparent moves a role under a new parent, rejecting moves that would make
// the role its own ancestor.
func (s *Service) Reparent(ctx context.Context, roleID, newParentID int64) (Role, error) {
	if roleID == newParentID {
		return Role{}, shared.Validation("a role cannot be its own parent")
	}
	var parent Role
	if newParentID != 0 {
		var err error
		parent, err = s.repo.Get(ctx, newParentID)
		if err != nil {
			if shared.IsNotFound(err) {
				return Role{}, shared.NotFound(shared.CodeParentRoleNotFound, fmt.Sprintf("parent role %d not found", newParentID))
			}
			return Role{}, err
		}
		if parent.Level <= 0 {
			return Role{}, shared.Validation(fmt.Sprintf("role %q is at level 0 and cannot have child roles", parent.Name))
		}
		// Walk the prospective parent's ancestor chain: if it reaches the
		// role being moved, the move would introduce a cycle.
		chain, err := s.ancestorChain(ctx, parent)
		if err != nil {
			return Role{}, err
		}
		for _, ancestor := range chain {
			if ancestor.ID == roleID {
				return Role{}, shared.Validation(fmt.Sprintf("reparenting role %d under %d would create a cycle", roleID, newParentID))
			}
		}
	}
	return s.mutate(ctx, roleID, func(role *Role) error {
		role.ParentID = newParentID
		if newParentID != 0 && role.Level >= parent.Level {
			role.Level = parent.Level - 1
		}
		return nil
	})
}

// Deactivate switches a role off. Usage counters survive.
func (s *Service) Deactivate(ctx context.Context, roleID int64) (Role, error) {
	return s.mutate(ctx, roleID, func(role *Role) error {
		role.IsActive = false
		return nil
	})
}

// Deprecate marks a role deprecated, optionally naming a replacement role.
func (s *Service) Deprecate(ctx context.Context, roleID int64, replacedBy string) (Role, error) {
	return s.mutate(ctx, roleID, func(role *Role) error {
		role.DeprecatedAt = s.now().UTC()
		role.ReplacedBy = replacedBy
		return nil
	})
}

// CanBeAssignedTo runs the composite assignment gate for a principal.
func (s *Service) CanBeAssignedTo(ctx context.Context, role Role, principal principals.Principal) (AssignmentCheck, error) {
	if !role.IsActive {
		return AssignmentCheck{Reason: "Role is not active"}, nil
	}
	if !role.IsEffectiveAt(s.now()) {
		return AssignmentCheck{Reason: "Role is outside its effective window"}, nil
	}
	if role.Restrictions.MaxUsers > 0 {
		stats, err := s.repo.GetStats(ctx, role.ID)
		if err != nil {
			return AssignmentCheck{}, err
		}
		if stats.UserCount >= int64(role.Restrictions.MaxUsers) {
			return AssignmentCheck{Reason: ReasonUserLimit}, nil
		}
	}
	condCtx := principal.ConditionContext()
	for _, rule := range role.AssignmentRules {
		if !shared.EvaluateConditions(rule.Conditions, condCtx) {
			return AssignmentCheck{Reason: fmt.Sprintf("Assignment rule (%s) not satisfied", rule.Type)}, nil
		}
	}
	return AssignmentCheck{Allowed: true}, nil
}

// Assign links a principal to a role after the assignment gate passes.
func (s *Service) Assign(ctx context.Context, roleID, principalID int64) (Assignment, error) {
	role, err := s.repo.Get(ctx, roleID)
	if err != nil {
		return Assignment{}, err
	}
	principal, err := s.directory.Get(ctx, principalID)
	if err != nil {
		return Assignment{}, err
	}
	check, err := s.CanBeAssignedTo(ctx, role, principal)
	if err != nil {
		return Assignment{}, err
	}
	if !check.Allowed {
		return Assignment{}, shared.PolicyViolation(shared.CodeAssignmentNotAllowed, check.Reason)
	}
	assignment := Assignment{
		ID:          uuid.New(),
		RoleID:      roleID,
		PrincipalID: principalID,
		AssignedAt:  s.now().UTC(),
	}
	if err := s.repo.RecordAssignment(ctx, assignment); err != nil {
		return Assignment{}, err
	}
	return assignment, nil
}

// Hierarchy returns the role with its ancestor chain and subtree. A missing
// ancestor truncates the walk instead of failing: an incomplete chain is a
// data-integrity warning, not a fatal condition for introspection.
func (s *Service) Hierarchy(ctx context.Context, roleID int64) (Hierarchy, error) {
	current, err := s.repo.Get(ctx, roleID)
	if err != nil {
		return Hierarchy{}, err
	}
	ancestors, err := s.ancestorChain(ctx, current)
	if err != nil {
		return Hierarchy{}, err
	}
	visited := map[int64]struct{}{current.ID: {}}
	descendants, err := s.collectDescendants(ctx, current.ID, visited, 0)
	if err != nil {
		return Hierarchy{}, err
	}
	return Hierarchy{Current: current, Ancestors: ancestors, Descendants: descendants}, nil
}

// Clone deep-copies a role under a new name, stripped of identity and usage
// state. The clone is always a custom, non-system, non-default role.
func (s *Service) Clone(ctx context.Context, roleID int64, newName string, overrides CloneOverrides) (Role, error) {
	source, err := s.repo.Get(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	clone := source
	clone.ID = 0
	clone.Version = 0
	clone.Name = newName
	clone.Scope = ScopeCustom
	clone.IsSystem = false
	clone.IsDefault = false
	clone.ChildIDs = nil
	clone.DeprecatedAt = time.Time{}
	clone.ReplacedBy = ""
	clone.CreatedAt = time.Time{}
	clone.UpdatedAt = time.Time{}
	clone.Permissions = append([]string(nil), source.Permissions...)
	clone.DeniedPermissions = append([]string(nil), source.DeniedPermissions...)
	clone.AssignmentRules = append([]AssignmentRule(nil), source.AssignmentRules...)
	if overrides.Description != nil {
		clone.Description = *overrides.Description
	}
	if overrides.Level != nil {
		clone.Level = *overrides.Level
	}
	if overrides.Priority != nil {
		clone.Priority = *overrides.Priority
	}
	if overrides.Restrictions != nil {
		clone.Restrictions = *overrides.Restrictions
	}
	return s.repo.Create(ctx, clone)
}

// EffectivePermissions resolves a single role's fully inherited allow set
// after denials.
func (s *Service) EffectivePermissions(ctx context.Context, roleID int64) ([]string, error) {
	coverage, err := s.PermissionCoverage(ctx, []int64{roleID})
	if err != nil {
		return nil, err
	}
	return coverage.Effective, nil
}

// PermissionCoverage aggregates allow and deny lists across the given roles
// and their ancestor chains. This is the single source of truth for
// multi-role resolution: a denial on any role (or any of its ancestors)
// suppresses the permission across the whole union.
func (s *Service) PermissionCoverage(ctx context.Context, roleIDs []int64) (Coverage, error) {
	allowed := make(map[string]struct{})
	denied := make(map[string]struct{})

	for _, id := range roleIDs {
		role, err := s.repo.Get(ctx, id)
		if err != nil {
			return Coverage{}, err
		}
		chain := []Role{role}
		ancestors, err := s.ancestorChain(ctx, role)
		if err != nil {
			return Coverage{}, err
		}
		chain = append(chain, ancestors...)
		for _, member := range chain {
			for _, code := range member.Permissions {
				allowed[code] = struct{}{}
			}
			for _, code := range member.DeniedPermissions {
				denied[code] = struct{}{}
			}
		}
	}

	coverage := Coverage{
		Allowed: sortedKeys(allowed),
		Denied:  sortedKeys(denied),
	}
	for _, code := range coverage.Allowed {
		if _, ok := denied[code]; !ok {
			coverage.Effective = append(coverage.Effective, code)
		}
	}
	return coverage, nil
}

// ancestorChain walks parent references root-ward, guarding against cycles
// and truncating at the first missing parent.
func (s *Service) ancestorChain(ctx context.Context, role Role) ([]Role, error) {
	var ancestors []Role
	visited := map[int64]struct{}{role.ID: {}}
	current := role
	for depth := 0; current.ParentID != 0 && depth < maxHierarchyDepth; depth++ {
		if _, seen := visited[current.ParentID]; seen {
			if s.logger != nil {
				s.logger.Warn("role hierarchy cycle detected", slog.Int64("role_id", role.ID), slog.Int64("parent_id", current.ParentID))
			}
			break
		}
		parent, err := s.repo.Get(ctx, current.ParentID)
		if err != nil {
			if shared.IsNotFound(err) {
				// Broken chain: stop here rather than failing the walk.
				break
			}
			return nil, err
		}
		visited[parent.ID] = struct{}{}
		ancestors = append(ancestors, parent)
		current = parent
	}
	return ancestors, nil
}

func (s *Service) collectDescendants(ctx context.Context, roleID int64, visited map[int64]struct{}, depth int) ([]Role, error) {
	if depth >= maxHierarchyDepth {
		return nil, nil
	}
	children, err := s.repo.ListChildren(ctx, roleID)
	if err != nil {
		return nil, err
	}
	var out []Role
	for _, child := range children {
		if _, seen := visited[child.ID]; seen {
			continue
		}
		visited[child.ID] = struct{}{}
		out = append(out, child)
		sub, err := s.collectDescendants(ctx, child.ID, visited, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

// mutate runs a read-modify-write cycle with CAS retries, enforcing system
// role protection and bumping the effective-permission cache on success.
func (s *Service) mutate(ctx context.Context, roleID int64, fn func(*Role) error) (Role, error) {
	var updated Role
	for attempt := 0; ; attempt++ {
		role, err := s.repo.Get(ctx, roleID)
		if err != nil {
			return Role{}, err
		}
		if role.IsSystem {
			return Role{}, shared.PolicyViolation(shared.CodeSystemRoleProtected,
				fmt.Sprintf("system role %s cannot be modified", role.Name))
		}
		if err := fn(&role); err != nil {
			return Role{}, err
		}
		updated, err = s.repo.Update(ctx, role)
		if err == nil {
			break
		}
		if errors.Is(err, ErrVersionConflict) && attempt < casRetries {
			continue
		}
		return Role{}, err
	}
	if s.invalidator != nil {
		if err := s.invalidator.Bump(ctx); err != nil && s.logger != nil {
			s.logger.Warn("bump permission cache", slog.Any("error", err))
		}
	}
	return updated, nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
