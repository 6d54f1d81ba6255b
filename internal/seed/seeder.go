package seed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/insightserenity/access/internal/catalog"
	"github.com/insightserenity/access/internal/permsets"
	"github.com/insightserenity/access/internal/principals"
	"github.com/insightserenity/access/internal/roles"
	"github.com/insightserenity/access/internal/shared"
)

// PermissionWriter creates catalog permissions. Duplicate codes surface as
// conflict errors, which the seeder treats as "already present".
type PermissionWriter interface {
	Create(ctx context.Context, input catalog.CreateInput) (catalog.Permission, error)
}

// SetWriter installs permission sets, skipping existing codes.
type SetWriter interface {
	CreateIfAbsent(ctx context.Context, set permsets.Set) (bool, error)
}

// RoleWriter provides the role operations the seeder needs.
type RoleWriter interface {
	GetByName(ctx context.Context, name string) (roles.Role, error)
	Create(ctx context.Context, role roles.Role) (roles.Role, error)
	ReplacePermissions(ctx context.Context, roleID int64, codes []string) error
	HasAssignment(ctx context.Context, roleID, principalID int64) (bool, error)
	RecordAssignment(ctx context.Context, assignment roles.Assignment) error
}

// PrincipalWriter installs bootstrap accounts.
type PrincipalWriter interface {
	CreateIfAbsent(ctx context.Context, p principals.Principal, passwordHash string) (bool, error)
	GetByEmail(ctx context.Context, email string) (principals.Principal, error)
}

// Invalidator flushes permission coverage caches after role lists change.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Result counts what a seed run did. Role permission lists are always
// recomputed, so they contribute to neither counter.
type Result struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// Seeder idempotently installs the permission catalog, the fixed permission
// sets, the well-known role hierarchy and bootstrap principals.
type Seeder struct {
	permissions PermissionWriter
	sets        SetWriter
	roles       RoleWriter
	principals  PrincipalWriter
	invalidator Invalidator
	logger      *slog.Logger
	titler      cases.Caser
}

// New constructs a seeder. Principals and invalidator may be nil.
func New(permissions PermissionWriter, sets SetWriter, roleStore RoleWriter, principalStore PrincipalWriter, invalidator Invalidator, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		permissions: permissions,
		sets:        sets,
		roles:       roleStore,
		principals:  principalStore,
		invalidator: invalidator,
		logger:      logger,
		titler:      cases.Title(language.English),
	}
}

// Run executes the full bootstrap. Safe to re-run: existing permissions,
// sets, roles, principals and role assignments are skipped, and every role's
// permission list is recomputed from the declarative mapping and written back
// in full.
func (s *Seeder) Run(ctx context.Context) (Result, error) {
	var result Result

	if err := s.seedPermissions(ctx, &result); err != nil {
		return result, err
	}
	if err := s.seedSets(ctx, &result); err != nil {
		return result, err
	}
	roleIDs, err := s.seedRoles(ctx, &result)
	if err != nil {
		return result, err
	}
	if err := s.applyRoleMappings(ctx, roleIDs); err != nil {
		return result, err
	}
	if err := s.seedPrincipals(ctx, &result, roleIDs); err != nil {
		return result, err
	}

	if s.invalidator != nil {
		if err := s.invalidator.Bump(ctx); err != nil {
			s.logger.Warn("seed: cache bump", slog.Any("error", err))
		}
	}

	s.logger.Info("seed complete",
		slog.Int("created", result.Created),
		slog.Int("skipped", result.Skipped))
	return result, nil
}

func (s *Seeder) seedPermissions(ctx context.Context, result *Result) error {
	resources := make([]string, 0, len(resourceActions))
	for resource := range resourceActions {
		resources = append(resources, resource)
	}
	sort.Strings(resources)

	for _, resource := range resources {
		for _, action := range resourceActions[resource] {
			code := fmt.Sprintf("%s:%s", resource, action)
			_, err := s.permissions.Create(ctx, catalog.CreateInput{
				Code:        code,
				Name:        s.displayName(resource, action),
				Description: fmt.Sprintf("Allows %s on %s records.", action, strings.ReplaceAll(resource, "_", " ")),
				Resource:    resource,
				Action:      action,
				Category:    resource,
			})
			switch {
			case err == nil:
				result.Created++
			case shared.IsConflict(err):
				result.Skipped++
			default:
				return fmt.Errorf("seed: permission %s: %w", code, err)
			}
		}
	}
	return nil
}

func (s *Seeder) seedSets(ctx context.Context, result *Result) error {
	for _, set := range fixedSets {
		created, err := s.sets.CreateIfAbsent(ctx, set)
		if err != nil {
			return fmt.Errorf("seed: set %s: %w", set.Code, err)
		}
		if created {
			result.Created++
		} else {
			result.Skipped++
		}
	}
	return nil
}

func (s *Seeder) seedRoles(ctx context.Context, result *Result) (map[string]int64, error) {
	ids := make(map[string]int64, len(wellKnownRoles))
	for _, fixture := range wellKnownRoles {
		existing, err := s.roles.GetByName(ctx, fixture.Name)
		if err == nil {
			ids[fixture.Name] = existing.ID
			result.Skipped++
			continue
		}
		if !shared.IsNotFound(err) {
			return nil, fmt.Errorf("seed: role %s: %w", fixture.Name, err)
		}

		role := roles.Role{
			Name:              fixture.Name,
			Description:       fixture.Description,
			Scope:             fixture.Scope,
			Category:          fixture.Category,
			Level:             fixture.Level,
			IsActive:          true,
			IsSystem:          fixture.IsSystem,
			IsDefault:         fixture.IsDefault,
			DeniedPermissions: append([]string(nil), fixture.Denials...),
		}
		if fixture.Parent != "" {
			parentID, ok := ids[fixture.Parent]
			if !ok {
				return nil, fmt.Errorf("seed: role %s references unseeded parent %s", fixture.Name, fixture.Parent)
			}
			role.ParentID = parentID
		}
		created, err := s.roles.Create(ctx, role)
		if err != nil {
			return nil, fmt.Errorf("seed: role %s: %w", fixture.Name, err)
		}
		ids[fixture.Name] = created.ID
		result.Created++
	}
	return ids, nil
}

// applyRoleMappings recomputes every well-known role's permission list from
// the declarative mapping and replaces the stored list in full, so a re-run
// after catalog changes keeps roles in sync even when the list shrinks.
func (s *Seeder) applyRoleMappings(ctx context.Context, roleIDs map[string]int64) error {
	expansions := make(map[string][]string, len(fixedSets))
	for _, set := range fixedSets {
		expansions[set.Code] = set.PermissionCodes
	}

	for _, fixture := range wellKnownRoles {
		id, ok := roleIDs[fixture.Name]
		if !ok {
			continue
		}
		codes := make(map[string]struct{})
		for _, setCode := range fixture.SetCodes {
			for _, code := range expansions[setCode] {
				codes[code] = struct{}{}
			}
		}
		for _, code := range fixture.Additions {
			codes[code] = struct{}{}
		}
		for _, code := range fixture.Exclusions {
			delete(codes, code)
		}

		list := make([]string, 0, len(codes))
		for code := range codes {
			list = append(list, code)
		}
		sort.Strings(list)

		if err := s.roles.ReplacePermissions(ctx, id, list); err != nil {
			return fmt.Errorf("seed: role mapping %s: %w", fixture.Name, err)
		}
	}
	return nil
}

func (s *Seeder) seedPrincipals(ctx context.Context, result *Result, roleIDs map[string]int64) error {
	if s.principals == nil {
		return nil
	}
	for _, boot := range bootstrapPrincipals {
		hash, err := bcrypt.GenerateFromPassword([]byte(boot.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("seed: hash password for %s: %w", boot.Email, err)
		}
		created, err := s.principals.CreateIfAbsent(ctx, principals.Principal{
			Email:      boot.Email,
			Name:       boot.Name,
			IsActive:   true,
			Attributes: boot.Attributes,
		}, string(hash))
		if err != nil {
			return fmt.Errorf("seed: principal %s: %w", boot.Email, err)
		}
		if created {
			result.Created++
		} else {
			result.Skipped++
		}
		if boot.Role == "" {
			continue
		}
		if err := s.assignBootstrapRole(ctx, result, boot, roleIDs); err != nil {
			return err
		}
	}
	return nil
}

// assignBootstrapRole grants the fixture's declared role to the seeded
// account, skipping when the assignment already exists.
func (s *Seeder) assignBootstrapRole(ctx context.Context, result *Result, boot bootstrapPrincipal, roleIDs map[string]int64) error {
	roleID, ok := roleIDs[boot.Role]
	if !ok {
		return fmt.Errorf("seed: principal %s references unseeded role %s", boot.Email, boot.Role)
	}
	principal, err := s.principals.GetByEmail(ctx, boot.Email)
	if err != nil {
		return fmt.Errorf("seed: principal %s: %w", boot.Email, err)
	}
	held, err := s.roles.HasAssignment(ctx, roleID, principal.ID)
	if err != nil {
		return fmt.Errorf("seed: assignment %s -> %s: %w", boot.Email, boot.Role, err)
	}
	if held {
		result.Skipped++
		return nil
	}
	err = s.roles.RecordAssignment(ctx, roles.Assignment{
		ID:          uuid.New(),
		RoleID:      roleID,
		PrincipalID: principal.ID,
		AssignedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("seed: assignment %s -> %s: %w", boot.Email, boot.Role, err)
	}
	result.Created++
	return nil
}

// displayName turns ("user_management", "create") into "Create User
// Management".
func (s *Seeder) displayName(resource string, action catalog.Action) string {
	words := strings.ReplaceAll(resource, "_", " ")
	return s.titler.String(string(action)) + " " + s.titler.String(words)
}
