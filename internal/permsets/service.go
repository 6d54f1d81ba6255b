package permsets

import (
	"context"
)

// Repository defines data access for permission sets. Writes only happen on
// the seeding path; the runtime registry is read-only.
type Repository interface {
	GetByCode(ctx context.Context, code string) (Set, error)
	List(ctx context.Context) ([]Set, error)
}

// Service exposes read-only registry lookups.
type Service struct {
	repo Repository
}

// NewService builds a Service instance.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get fetches a set by code.
func (s *Service) Get(ctx context.Context, code string) (Set, error) {
	return s.repo.GetByCode(ctx, code)
}

// List returns all registered sets.
func (s *Service) List(ctx context.Context) ([]Set, error) {
	return s.repo.List(ctx)
}

// Resolve expands a set code into its ordered permission codes. Duplicates
// are allowed at this layer; deduplication happens when a role absorbs the
// expansion.
func (s *Service) Resolve(ctx context.Context, code string) ([]string, error) {
	set, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	codes := make([]string, len(set.PermissionCodes))
	copy(codes, set.PermissionCodes)
	return codes, nil
}
