package principals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/insightserenity/access/internal/shared"
)

// Repository provides PostgreSQL backed persistence for principals.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get fetches a principal by ID.
func (r *Repository) Get(ctx context.Context, id int64) (Principal, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, email, name, is_active, attributes, created_at, updated_at FROM principals WHERE id = $1`, id)
	p, err := scanPrincipal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, shared.NotFound(shared.CodeNotFound, fmt.Sprintf("principal %d not found", id))
		}
		return Principal{}, fmt.Errorf("principals: get %d: %w", id, err)
	}
	return p, nil
}

// GetByEmail fetches a principal by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (Principal, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, email, name, is_active, attributes, created_at, updated_at FROM principals WHERE email = $1`, email)
	p, err := scanPrincipal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, shared.NotFound(shared.CodeNotFound, fmt.Sprintf("principal %s not found", email))
		}
		return Principal{}, fmt.Errorf("principals: get by email: %w", err)
	}
	return p, nil
}

// CreateIfAbsent inserts a principal with a password hash unless the email is
// already registered. Seeding path only. Reports whether a row was created.
func (r *Repository) CreateIfAbsent(ctx context.Context, p Principal, passwordHash string) (bool, error) {
	attrs, err := json.Marshal(p.Attributes)
	if err != nil {
		return false, fmt.Errorf("principals: marshal attributes: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO principals (email, name, password_hash, is_active, attributes, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, NOW(), NOW())
		ON CONFLICT (email) DO NOTHING`,
		p.Email, p.Name, passwordHash, attrs)
	if err != nil {
		return false, fmt.Errorf("principals: create %s: %w", p.Email, err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanPrincipal(row pgx.Row) (Principal, error) {
	var (
		p     Principal
		attrs []byte
	)
	if err := row.Scan(&p.ID, &p.Email, &p.Name, &p.IsActive, &attrs, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Principal{}, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &p.Attributes); err != nil {
			return Principal{}, fmt.Errorf("principals: unmarshal attributes: %w", err)
		}
	}
	return p, nil
}
