package roles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/insightserenity/access/internal/platform/db"
	"github.com/insightserenity/access/internal/shared"
)

// ErrVersionConflict signals that a role row changed between read and write.
var ErrVersionConflict = errors.New("roles: version conflict")

const uniqueViolation = "23505"

// PGRepository provides PostgreSQL backed persistence for roles.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const roleColumns = `r.id, r.name, r.description, r.scope, r.category, r.level, r.parent_id,
	(SELECT COALESCE(array_agg(c.id ORDER BY c.id), '{}') FROM roles c WHERE c.parent_id = r.id),
	r.permissions, r.denied_permissions, r.restrictions, r.assignment_rules, r.compliance,
	r.priority, r.is_active, r.is_system, r.is_default,
	r.effective_at, r.expires_at, r.deprecated_at, r.replaced_by,
	r.version, r.created_at, r.updated_at`

// Create inserts a new role, mapping unique violations to ROLE_EXISTS.
func (r *PGRepository) Create(ctx context.Context, role Role) (Role, error) {
	restrictions, rules, compliance, err := marshalRole(role)
	if err != nil {
		return Role{}, err
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO roles (name, description, scope, category, level, parent_id,
			permissions, denied_permissions, restrictions, assignment_rules, compliance,
			priority, is_active, is_system, is_default,
			effective_at, expires_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, 0),
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, 1, NOW(), NOW())
		RETURNING id, version, created_at, updated_at`,
		role.Name, role.Description, role.Scope, role.Category, role.Level, role.ParentID,
		textArray(role.Permissions), textArray(role.DeniedPermissions), restrictions, rules, compliance,
		role.Priority, role.IsActive, role.IsSystem, role.IsDefault,
		nullableTime(role.EffectiveAt), nullableTime(role.ExpiresAt))
	if err := row.Scan(&role.ID, &role.Version, &role.CreatedAt, &role.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Role{}, shared.Conflict(shared.CodeRoleExists, fmt.Sprintf("role %s already exists", role.Name))
		}
		return Role{}, fmt.Errorf("roles: create: %w", err)
	}
	return role, nil
}

// Get fetches a role by ID, including derived child back-references.
func (r *PGRepository) Get(ctx context.Context, id int64) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.id = $1`, id)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.NotFound(shared.CodeRoleNotFound, fmt.Sprintf("role %d not found", id))
		}
		return Role{}, fmt.Errorf("roles: get %d: %w", id, err)
	}
	return role, nil
}

// GetByName fetches a role by its unique name.
func (r *PGRepository) GetByName(ctx context.Context, name string) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.name = $1`, name)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.NotFound(shared.CodeRoleNotFound, fmt.Sprintf("role %s not found", name))
		}
		return Role{}, fmt.Errorf("roles: get by name: %w", err)
	}
	return role, nil
}

// ListChildren returns the direct children of a role ordered by ID.
func (r *PGRepository) ListChildren(ctx context.Context, parentID int64) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.parent_id = $1 ORDER BY r.id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("roles: list children: %w", err)
	}
	defer rows.Close()
	var out []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Update writes mutable role fields with a compare-and-swap on version.
func (r *PGRepository) Update(ctx context.Context, role Role) (Role, error) {
	restrictions, rules, compliance, err := marshalRole(role)
	if err != nil {
		return Role{}, err
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE roles SET
			description = $3, scope = $4, category = $5, level = $6, parent_id = NULLIF($7, 0),
			permissions = $8, denied_permissions = $9, restrictions = $10, assignment_rules = $11, compliance = $12,
			priority = $13, is_active = $14, is_default = $15,
			effective_at = $16, expires_at = $17, deprecated_at = $18, replaced_by = $19,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		role.ID, role.Version,
		role.Description, role.Scope, role.Category, role.Level, role.ParentID,
		textArray(role.Permissions), textArray(role.DeniedPermissions), restrictions, rules, compliance,
		role.Priority, role.IsActive, role.IsDefault,
		nullableTime(role.EffectiveAt), nullableTime(role.ExpiresAt), nullableTime(role.DeprecatedAt), nullableString(role.ReplacedBy))
	if err := row.Scan(&role.Version, &role.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the row is gone or another writer bumped the version.
			if _, getErr := r.Get(ctx, role.ID); getErr != nil {
				return Role{}, getErr
			}
			return Role{}, ErrVersionConflict
		}
		return Role{}, fmt.Errorf("roles: update %d: %w", role.ID, err)
	}
	return role, nil
}

// ReplacePermissions overwrites a role's allow-list wholesale. Seeding path
// only: the seeder keeps roles in sync with the declarative mapping table.
func (r *PGRepository) ReplacePermissions(ctx context.Context, roleID int64, codes []string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE roles SET permissions = $2, version = version + 1, updated_at = NOW() WHERE id = $1`,
		roleID, textArray(codes))
	if err != nil {
		return fmt.Errorf("roles: replace permissions: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound(shared.CodeRoleNotFound, fmt.Sprintf("role %d not found", roleID))
	}
	return nil
}

// GetStats fetches the statistics record for a role, zero-valued when none
// has been written yet.
func (r *PGRepository) GetStats(ctx context.Context, roleID int64) (Stats, error) {
	stats := Stats{RoleID: roleID}
	var lastAssigned *time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT user_count, usage_count, last_assigned_at, updated_at FROM role_stats WHERE role_id = $1`, roleID).
		Scan(&stats.UserCount, &stats.UsageCount, &lastAssigned, &stats.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return stats, nil
		}
		return Stats{}, fmt.Errorf("roles: get stats %d: %w", roleID, err)
	}
	if lastAssigned != nil {
		stats.LastAssignedAt = *lastAssigned
	}
	return stats, nil
}

// HasAssignment reports whether the principal already holds the role.
func (r *PGRepository) HasAssignment(ctx context.Context, roleID, principalID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM role_assignments WHERE role_id = $1 AND principal_id = $2)`,
		roleID, principalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("roles: has assignment: %w", err)
	}
	return exists, nil
}

// RecordAssignment inserts the assignment row and bumps the role statistics
// in one transaction.
func (r *PGRepository) RecordAssignment(ctx context.Context, assignment Assignment) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO role_assignments (id, role_id, principal_id, assigned_at)
			VALUES ($1, $2, $3, $4)`,
			assignment.ID, assignment.RoleID, assignment.PrincipalID, assignment.AssignedAt)
		if err != nil {
			return fmt.Errorf("roles: record assignment: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO role_stats (role_id, user_count, usage_count, last_assigned_at, updated_at)
			VALUES ($1, 1, 0, $2, NOW())
			ON CONFLICT (role_id) DO UPDATE SET
				user_count = role_stats.user_count + 1,
				last_assigned_at = EXCLUDED.last_assigned_at,
				updated_at = NOW()`,
			assignment.RoleID, assignment.AssignedAt)
		if err != nil {
			return fmt.Errorf("roles: bump stats: %w", err)
		}
		return nil
	})
}

// RecordUsage bumps a role's usage counter. Best-effort telemetry.
func (r *PGRepository) RecordUsage(ctx context.Context, roleID int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO role_stats (role_id, user_count, usage_count, updated_at)
		VALUES ($1, 0, 1, NOW())
		ON CONFLICT (role_id) DO UPDATE SET
			usage_count = role_stats.usage_count + 1,
			updated_at = NOW()`, roleID)
	if err != nil {
		return fmt.Errorf("roles: record usage: %w", err)
	}
	return nil
}

// RecalculateStats rebuilds user counts from the assignment table. Run by the
// nightly snapshot job to correct drift in the approximate counters.
func (r *PGRepository) RecalculateStats(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO role_stats (role_id, user_count, usage_count, last_assigned_at, updated_at)
		SELECT a.role_id, COUNT(DISTINCT a.principal_id), 0, MAX(a.assigned_at), NOW()
		FROM role_assignments a
		GROUP BY a.role_id
		ON CONFLICT (role_id) DO UPDATE SET
			user_count = EXCLUDED.user_count,
			last_assigned_at = EXCLUDED.last_assigned_at,
			updated_at = NOW()`)
	if err != nil {
		return fmt.Errorf("roles: recalculate stats: %w", err)
	}
	return nil
}

func marshalRole(role Role) ([]byte, []byte, []byte, error) {
	restrictions, err := json.Marshal(role.Restrictions)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("roles: marshal restrictions: %w", err)
	}
	rules, err := json.Marshal(role.AssignmentRules)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("roles: marshal assignment rules: %w", err)
	}
	compliance, err := json.Marshal(role.Compliance)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("roles: marshal compliance: %w", err)
	}
	return restrictions, rules, compliance, nil
}

func scanRole(row pgx.Row) (Role, error) {
	var (
		role         Role
		parentID     *int64
		restrictions []byte
		rules        []byte
		compliance   []byte
		effectiveAt  *time.Time
		expiresAt    *time.Time
		deprecatedAt *time.Time
		replacedBy   *string
	)
	err := row.Scan(
		&role.ID, &role.Name, &role.Description, &role.Scope, &role.Category, &role.Level, &parentID,
		&role.ChildIDs,
		&role.Permissions, &role.DeniedPermissions, &restrictions, &rules, &compliance,
		&role.Priority, &role.IsActive, &role.IsSystem, &role.IsDefault,
		&effectiveAt, &expiresAt, &deprecatedAt, &replacedBy,
		&role.Version, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return Role{}, err
	}
	if parentID != nil {
		role.ParentID = *parentID
	}
	if err := json.Unmarshal(restrictions, &role.Restrictions); err != nil {
		return Role{}, fmt.Errorf("roles: unmarshal restrictions: %w", err)
	}
	if err := json.Unmarshal(rules, &role.AssignmentRules); err != nil {
		return Role{}, fmt.Errorf("roles: unmarshal assignment rules: %w", err)
	}
	if err := json.Unmarshal(compliance, &role.Compliance); err != nil {
		return Role{}, fmt.Errorf("roles: unmarshal compliance: %w", err)
	}
	if effectiveAt != nil {
		role.EffectiveAt = *effectiveAt
	}
	if expiresAt != nil {
		role.ExpiresAt = *expiresAt
	}
	if deprecatedAt != nil {
		role.DeprecatedAt = *deprecatedAt
	}
	if replacedBy != nil {
		role.ReplacedBy = *replacedBy
	}
	return role, nil
}

func textArray(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
