package seed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/insightserenity/access/internal/catalog"
	"github.com/insightserenity/access/internal/permsets"
	"github.com/insightserenity/access/internal/principals"
	"github.com/insightserenity/access/internal/roles"
	"github.com/insightserenity/access/internal/shared"
)

type memPermissionStore struct {
	byCode map[string]catalog.Permission
}

func (m *memPermissionStore) Create(_ context.Context, input catalog.CreateInput) (catalog.Permission, error) {
	if _, ok := m.byCode[input.Code]; ok {
		return catalog.Permission{}, shared.Conflict(shared.CodePermissionExists, "permission already exists")
	}
	perm := catalog.Permission{Code: input.Code, Name: input.Name, Resource: input.Resource, Action: input.Action, IsActive: true}
	m.byCode[input.Code] = perm
	return perm, nil
}

type memSetStore struct {
	byCode map[string]permsets.Set
}

func (m *memSetStore) CreateIfAbsent(_ context.Context, set permsets.Set) (bool, error) {
	if _, ok := m.byCode[set.Code]; ok {
		return false, nil
	}
	m.byCode[set.Code] = set
	return true, nil
}

type memRoleStore struct {
	nextID      int64
	byName      map[string]roles.Role
	byID        map[int64]roles.Role
	assignments []roles.Assignment
}

func newMemRoleStore() *memRoleStore {
	return &memRoleStore{nextID: 1, byName: map[string]roles.Role{}, byID: map[int64]roles.Role{}}
}

func (m *memRoleStore) GetByName(_ context.Context, name string) (roles.Role, error) {
	role, ok := m.byName[name]
	if !ok {
		return roles.Role{}, shared.NotFound(shared.CodeRoleNotFound, "role not found")
	}
	return role, nil
}

func (m *memRoleStore) Create(_ context.Context, role roles.Role) (roles.Role, error) {
	if _, ok := m.byName[role.Name]; ok {
		return roles.Role{}, shared.Conflict(shared.CodeRoleExists, "role already exists")
	}
	role.ID = m.nextID
	m.nextID++
	m.byName[role.Name] = role
	m.byID[role.ID] = role
	return role, nil
}

func (m *memRoleStore) ReplacePermissions(_ context.Context, roleID int64, codes []string) error {
	role := m.byID[roleID]
	role.Permissions = append([]string(nil), codes...)
	m.byID[roleID] = role
	m.byName[role.Name] = role
	return nil
}

func (m *memRoleStore) HasAssignment(_ context.Context, roleID, principalID int64) (bool, error) {
	for _, a := range m.assignments {
		if a.RoleID == roleID && a.PrincipalID == principalID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRoleStore) RecordAssignment(_ context.Context, assignment roles.Assignment) error {
	m.assignments = append(m.assignments, assignment)
	return nil
}

type memPrincipalStore struct {
	nextID  int64
	byEmail map[string]principals.Principal
}

func (m *memPrincipalStore) CreateIfAbsent(_ context.Context, p principals.Principal, _ string) (bool, error) {
	if _, ok := m.byEmail[p.Email]; ok {
		return false, nil
	}
	m.nextID++
	p.ID = m.nextID
	m.byEmail[p.Email] = p
	return true, nil
}

func (m *memPrincipalStore) GetByEmail(_ context.Context, email string) (principals.Principal, error) {
	p, ok := m.byEmail[email]
	if !ok {
		return principals.Principal{}, shared.NotFound(shared.CodeNotFound, "principal not found")
	}
	return p, nil
}

type bumpSpy struct{ calls int }

func (b *bumpSpy) Bump(context.Context) error {
	b.calls++
	return nil
}

func newTestSeeder() (*Seeder, *memPermissionStore, *memRoleStore, *bumpSpy) {
	perms := &memPermissionStore{byCode: map[string]catalog.Permission{}}
	sets := &memSetStore{byCode: map[string]permsets.Set{}}
	roleStore := newMemRoleStore()
	principalStore := &memPrincipalStore{byEmail: map[string]principals.Principal{}}
	bump := &bumpSpy{}
	return New(perms, sets, roleStore, principalStore, bump, nil), perms, roleStore, bump
}

func matrixSize() int {
	total := 0
	for _, actions := range resourceActions {
		total += len(actions)
	}
	return total
}

func bootstrapAssignmentCount() int {
	total := 0
	for _, boot := range bootstrapPrincipals {
		if boot.Role != "" {
			total++
		}
	}
	return total
}

func TestRunSeedsEverythingOnce(t *testing.T) {
	seeder, perms, roleStore, bump := newTestSeeder()

	result, err := seeder.Run(context.Background())
	require.NoError(t, err)

	expected := matrixSize() + len(fixedSets) + len(wellKnownRoles) + len(bootstrapPrincipals) + bootstrapAssignmentCount()
	require.Equal(t, expected, result.Created)
	require.Zero(t, result.Skipped)
	require.Len(t, perms.byCode, matrixSize())
	require.Len(t, roleStore.byName, len(wellKnownRoles))
	require.Equal(t, 1, bump.calls)
}

func TestRunIsIdempotent(t *testing.T) {
	seeder, _, roleStore, _ := newTestSeeder()

	first, err := seeder.Run(context.Background())
	require.NoError(t, err)

	firstLists := make(map[string][]string, len(roleStore.byName))
	for name, role := range roleStore.byName {
		firstLists[name] = append([]string(nil), role.Permissions...)
	}

	second, err := seeder.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, second.Created)
	require.Equal(t, first.Created, second.Skipped)

	for name, role := range roleStore.byName {
		require.Equal(t, firstLists[name], role.Permissions, "role %s list changed on re-run", name)
	}
}

func TestBootstrapPrincipalsReceiveTheirRoles(t *testing.T) {
	perms := &memPermissionStore{byCode: map[string]catalog.Permission{}}
	sets := &memSetStore{byCode: map[string]permsets.Set{}}
	roleStore := newMemRoleStore()
	principalStore := &memPrincipalStore{byEmail: map[string]principals.Principal{}}
	seeder := New(perms, sets, roleStore, principalStore, &bumpSpy{}, nil)
	ctx := context.Background()

	_, err := seeder.Run(ctx)
	require.NoError(t, err)
	require.Len(t, roleStore.assignments, bootstrapAssignmentCount())

	admin, err := principalStore.GetByEmail(ctx, "admin@insightserenity.io")
	require.NoError(t, err)
	superAdmin := roleStore.byName["super_admin"]
	held, err := roleStore.HasAssignment(ctx, superAdmin.ID, admin.ID)
	require.NoError(t, err)
	require.True(t, held)

	// Re-running must not duplicate assignments.
	second, err := seeder.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, second.Created)
	require.Len(t, roleStore.assignments, bootstrapAssignmentCount())
}

func TestRoleMappingsApplyExclusions(t *testing.T) {
	seeder, _, roleStore, _ := newTestSeeder()

	_, err := seeder.Run(context.Background())
	require.NoError(t, err)

	orgAdmin := roleStore.byName["org_admin"]
	require.NotContains(t, orgAdmin.Permissions, "system:manage")
	require.NotContains(t, orgAdmin.Permissions, "system:update")
	require.Contains(t, orgAdmin.Permissions, "user_management:manage")

	consultant := roleStore.byName["consultant"]
	require.NotContains(t, consultant.Permissions, "job:publish")
	require.Contains(t, consultant.Permissions, "candidate:read")
}

func TestRoleMappingsDeduplicateAdditions(t *testing.T) {
	seeder, _, roleStore, _ := newTestSeeder()

	_, err := seeder.Run(context.Background())
	require.NoError(t, err)

	manager := roleStore.byName["manager"]
	seen := map[string]int{}
	for _, code := range manager.Permissions {
		seen[code]++
	}
	for code, count := range seen {
		require.Equal(t, 1, count, "duplicate permission %s", code)
	}
	require.Contains(t, manager.Permissions, "placement:approve")
}

func TestSeedSetsRoleDenials(t *testing.T) {
	seeder, _, roleStore, _ := newTestSeeder()

	_, err := seeder.Run(context.Background())
	require.NoError(t, err)

	viewer := roleStore.byName["viewer"]
	require.Contains(t, viewer.DeniedPermissions, "user_management:delete")
	require.True(t, viewer.IsDefault)
}

func TestParentLinksResolved(t *testing.T) {
	seeder, _, roleStore, _ := newTestSeeder()

	_, err := seeder.Run(context.Background())
	require.NoError(t, err)

	superAdmin := roleStore.byName["super_admin"]
	orgAdmin := roleStore.byName["org_admin"]
	require.Equal(t, superAdmin.ID, orgAdmin.ParentID)
	require.Zero(t, superAdmin.ParentID)
}

func TestSetFixturesReferenceSeededPermissions(t *testing.T) {
	valid := map[string]bool{}
	for resource, actions := range resourceActions {
		for _, action := range actions {
			valid[resource+":"+string(action)] = true
		}
	}
	for _, set := range fixedSets {
		for _, code := range set.PermissionCodes {
			require.True(t, valid[code], "set %s references unseeded permission %s", set.Code, code)
		}
	}
	for _, fixture := range wellKnownRoles {
		for _, code := range fixture.Additions {
			require.True(t, valid[code], "role %s adds unseeded permission %s", fixture.Name, code)
		}
		for _, code := range fixture.Denials {
			require.True(t, valid[code], "role %s denies unseeded permission %s", fixture.Name, code)
		}
	}
}
