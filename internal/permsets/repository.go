package permsets

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/insightserenity/access/internal/shared"
)

// PGRepository provides PostgreSQL backed persistence for permission sets.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const setColumns = `id, code, name, description, category, permission_codes, scope_to_self, is_system, created_at, updated_at`

// GetByCode fetches a set by its unique code.
func (r *PGRepository) GetByCode(ctx context.Context, code string) (Set, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+setColumns+` FROM permission_sets WHERE code = $1`, code)
	set, err := scanSet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Set{}, shared.NotFound(shared.CodeNotFound, fmt.Sprintf("permission set %s not found", code))
		}
		return Set{}, fmt.Errorf("permsets: get %s: %w", code, err)
	}
	return set, nil
}

// List returns all sets ordered by code.
func (r *PGRepository) List(ctx context.Context) ([]Set, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+setColumns+` FROM permission_sets ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("permsets: list: %w", err)
	}
	defer rows.Close()
	var sets []Set
	for rows.Next() {
		set, err := scanSet(rows)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sets, nil
}

// CreateIfAbsent inserts a set unless its code already exists. Used only by
// the seeding path. Reports whether a row was created.
func (r *PGRepository) CreateIfAbsent(ctx context.Context, set Set) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO permission_sets (code, name, description, category, permission_codes, scope_to_self, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (code) DO NOTHING`,
		set.Code, set.Name, set.Description, set.Category, set.PermissionCodes, set.ScopeToSelf, set.IsSystem)
	if err != nil {
		return false, fmt.Errorf("permsets: create %s: %w", set.Code, err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanSet(row pgx.Row) (Set, error) {
	var set Set
	err := row.Scan(&set.ID, &set.Code, &set.Name, &set.Description, &set.Category,
		&set.PermissionCodes, &set.ScopeToSelf, &set.IsSystem, &set.CreatedAt, &set.UpdatedAt)
	if err != nil {
		return Set{}, err
	}
	return set, nil
}
