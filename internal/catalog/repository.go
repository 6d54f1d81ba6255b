package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/insightserenity/access/internal/shared"
)

const uniqueViolation = "23505"

// PGRepository provides PostgreSQL backed persistence for the catalog.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const permissionColumns = `id, code, name, description, resource, action, scope, category,
	risk, requires_mfa, requires_approval, approval_level, audit_level, retention_days,
	dependencies, conflicts, conditions,
	is_active, is_deprecated, deprecated_at, replaced_by,
	usage_count, last_used_at, created_at, updated_at`

// Create inserts a permission, mapping unique violations to PERMISSION_EXISTS.
func (r *PGRepository) Create(ctx context.Context, perm Permission) (Permission, error) {
	deps, conflicts, conds, err := marshalLists(perm)
	if err != nil {
		return Permission{}, err
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (code, name, description, resource, action, scope, category,
			risk, requires_mfa, requires_approval, approval_level, audit_level, retention_days,
			dependencies, conflicts, conditions, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW(), NOW())
		RETURNING `+permissionColumns,
		perm.Code, perm.Name, perm.Description, perm.Resource, perm.Action, perm.Scope, perm.Category,
		perm.Risk, perm.RequiresMFA, perm.RequiresApproval, perm.ApprovalLevel, perm.AuditLevel, perm.RetentionDays,
		deps, conflicts, conds, perm.IsActive)
	created, err := scanPermission(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Permission{}, shared.Conflict(shared.CodePermissionExists, fmt.Sprintf("permission %s already exists", perm.Code))
		}
		return Permission{}, fmt.Errorf("catalog: create: %w", err)
	}
	return created, nil
}

// GetByCode fetches a permission by its unique code.
func (r *PGRepository) GetByCode(ctx context.Context, code string) (Permission, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE code = $1`, code)
	perm, err := scanPermission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, shared.NotFound(shared.CodePermissionNotFound, fmt.Sprintf("permission %s not found", code))
		}
		return Permission{}, fmt.Errorf("catalog: get %s: %w", code, err)
	}
	return perm, nil
}

// ListByCodes fetches the permissions matching the supplied codes. Unknown
// codes are skipped, not errored, since compatibility checks tolerate stale
// references.
func (r *PGRepository) ListByCodes(ctx context.Context, codes []string) ([]Permission, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE code = ANY($1)`, codes)
	if err != nil {
		return nil, fmt.Errorf("catalog: list by codes: %w", err)
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// List returns all permissions ordered by code.
func (r *PGRepository) List(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// Update persists mutable permission fields. The code itself never changes.
func (r *PGRepository) Update(ctx context.Context, perm Permission) (Permission, error) {
	deps, conflicts, conds, err := marshalLists(perm)
	if err != nil {
		return Permission{}, err
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE permissions SET
			name = $2, description = $3, scope = $4, category = $5,
			risk = $6, requires_mfa = $7, requires_approval = $8, approval_level = $9,
			audit_level = $10, retention_days = $11,
			dependencies = $12, conflicts = $13, conditions = $14,
			is_active = $15, is_deprecated = $16, deprecated_at = $17, replaced_by = $18,
			updated_at = NOW()
		WHERE code = $1
		RETURNING `+permissionColumns,
		perm.Code, perm.Name, perm.Description, perm.Scope, perm.Category,
		perm.Risk, perm.RequiresMFA, perm.RequiresApproval, perm.ApprovalLevel,
		perm.AuditLevel, perm.RetentionDays,
		deps, conflicts, conds,
		perm.IsActive, perm.IsDeprecated, nullableTime(perm.DeprecatedAt), nullableString(perm.ReplacedBy))
	updated, err := scanPermission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, shared.NotFound(shared.CodePermissionNotFound, fmt.Sprintf("permission %s not found", perm.Code))
		}
		return Permission{}, fmt.Errorf("catalog: update %s: %w", perm.Code, err)
	}
	return updated, nil
}

// IncrementUsage bumps the usage counter. Plain atomic increment; usage is an
// approximate counter and needs no stronger ordering.
func (r *PGRepository) IncrementUsage(ctx context.Context, code string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE permissions SET usage_count = usage_count + 1, last_used_at = $2 WHERE code = $1`,
		code, at)
	if err != nil {
		return fmt.Errorf("catalog: increment usage %s: %w", code, err)
	}
	return nil
}

func marshalLists(perm Permission) ([]byte, []byte, []byte, error) {
	deps, err := json.Marshal(perm.Dependencies)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("catalog: marshal dependencies: %w", err)
	}
	conflicts, err := json.Marshal(perm.Conflicts)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("catalog: marshal conflicts: %w", err)
	}
	conds, err := json.Marshal(perm.Conditions)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("catalog: marshal conditions: %w", err)
	}
	return deps, conflicts, conds, nil
}

func scanPermissions(rows pgx.Rows) ([]Permission, error) {
	var perms []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func scanPermission(row pgx.Row) (Permission, error) {
	var (
		perm         Permission
		deps         []byte
		conflicts    []byte
		conds        []byte
		deprecatedAt *time.Time
		replacedBy   *string
		lastUsedAt   *time.Time
	)
	err := row.Scan(
		&perm.ID, &perm.Code, &perm.Name, &perm.Description, &perm.Resource, &perm.Action, &perm.Scope, &perm.Category,
		&perm.Risk, &perm.RequiresMFA, &perm.RequiresApproval, &perm.ApprovalLevel, &perm.AuditLevel, &perm.RetentionDays,
		&deps, &conflicts, &conds,
		&perm.IsActive, &perm.IsDeprecated, &deprecatedAt, &replacedBy,
		&perm.UsageCount, &lastUsedAt, &perm.CreatedAt, &perm.UpdatedAt)
	if err != nil {
		return Permission{}, err
	}
	if err := json.Unmarshal(deps, &perm.Dependencies); err != nil {
		return Permission{}, fmt.Errorf("catalog: unmarshal dependencies: %w", err)
	}
	if err := json.Unmarshal(conflicts, &perm.Conflicts); err != nil {
		return Permission{}, fmt.Errorf("catalog: unmarshal conflicts: %w", err)
	}
	if err := json.Unmarshal(conds, &perm.Conditions); err != nil {
		return Permission{}, fmt.Errorf("catalog: unmarshal conditions: %w", err)
	}
	if deprecatedAt != nil {
		perm.DeprecatedAt = *deprecatedAt
	}
	if replacedBy != nil {
		perm.ReplacedBy = *replacedBy
	}
	if lastUsedAt != nil {
		perm.LastUsedAt = *lastUsedAt
	}
	return perm, nil
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
