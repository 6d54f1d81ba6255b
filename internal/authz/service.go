package authz

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/insightserenity/access/internal/catalog"
	"github.com/insightserenity/access/internal/observability"
	"github.com/insightserenity/access/internal/roles"
)

// RoleResolver provides aggregate permission coverage for a role set.
type RoleResolver interface {
	PermissionCoverage(ctx context.Context, roleIDs []int64) (roles.Coverage, error)
}

// PermissionSource resolves catalog permissions by code.
type PermissionSource interface {
	Get(ctx context.Context, code string) (catalog.Permission, error)
}

// UsageRecorder accepts fire-and-forget usage accounting for granted checks.
type UsageRecorder interface {
	RecordGrant(ctx context.Context, permissionCode string, roleIDs []int64, at time.Time) error
}

// Decision is the outcome of an authorization check. RequiresMFA and
// RequiresApproval surface the permission's flags so the caller can force a
// secondary challenge before honoring the action.
type Decision struct {
	Granted          bool   `json:"granted"`
	RequiresMFA      bool   `json:"requiresMfa"`
	RequiresApproval bool   `json:"requiresApproval"`
	ApprovalLevel    int    `json:"approvalLevel,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// Service answers "can a principal holding these roles perform this
// permission?".
type Service struct {
	resolver RoleResolver
	perms    PermissionSource
	cache    *Cache
	usage    UsageRecorder
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
	group    singleflight.Group
}

// NewService constructs the evaluator. Cache, usage recorder and metrics may
// be nil; the decision path works without them.
func NewService(resolver RoleResolver, perms PermissionSource, cache *Cache, usage UsageRecorder, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{
		resolver: resolver,
		perms:    perms,
		cache:    cache,
		usage:    usage,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Authorize evaluates the permission code against the union of the held
// roles. Denial anywhere beats allow; a failing request condition downgrades
// a nominal grant without mutating stored data.
func (s *Service) Authorize(ctx context.Context, roleIDs []int64, permissionCode string, reqCtx map[string]any) (Decision, error) {
	start := s.now()

	perm, err := s.perms.Get(ctx, permissionCode)
	if err != nil {
		s.observe("error", start)
		return Decision{}, err
	}

	decision := Decision{
		RequiresMFA:      perm.RequiresMFA,
		RequiresApproval: perm.RequiresApproval,
		ApprovalLevel:    perm.ApprovalLevel,
	}

	if !perm.IsActive {
		decision.Reason = fmt.Sprintf("permission %s is not active", permissionCode)
		s.observe("denied", start)
		return decision, nil
	}

	coverage, err := s.coverage(ctx, roleIDs)
	if err != nil {
		s.observe("error", start)
		return Decision{}, err
	}

	if !containsString(coverage.Effective, permissionCode) {
		if containsString(coverage.Denied, permissionCode) {
			decision.Reason = fmt.Sprintf("permission %s is explicitly denied", permissionCode)
		} else {
			decision.Reason = fmt.Sprintf("permission %s is not granted by any held role", permissionCode)
		}
		s.observe("denied", start)
		return decision, nil
	}

	if !perm.CheckConditions(reqCtx) {
		decision.Reason = fmt.Sprintf("conditions for %s are not satisfied", permissionCode)
		s.observe("denied", start)
		return decision, nil
	}

	decision.Granted = true
	s.recordUsage(ctx, permissionCode, roleIDs)
	s.observe("granted", start)
	return decision, nil
}

// Coverage returns the aggregate allow/deny/effective sets for the role set,
// served from the versioned cache when possible.
func (s *Service) Coverage(ctx context.Context, roleIDs []int64) (roles.Coverage, error) {
	return s.coverage(ctx, roleIDs)
}

func (s *Service) coverage(ctx context.Context, roleIDs []int64) (roles.Coverage, error) {
	sorted := append([]int64(nil), roleIDs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	key, err := s.cache.CoverageKey(ctx, sorted)
	if err != nil {
		// Cache outage: fall back to a direct computation.
		if s.logger != nil {
			s.logger.Warn("coverage cache key", slog.Any("error", err))
		}
		return s.resolver.PermissionCoverage(ctx, sorted)
	}

	result, err, _ := s.group.Do(key, func() (interface{}, error) {
		var coverage roles.Coverage
		hit, err := s.cache.FetchJSON(ctx, key, &coverage, func(ctx context.Context) (interface{}, error) {
			return s.resolver.PermissionCoverage(ctx, sorted)
		})
		if s.metrics != nil {
			s.metrics.ObserveCacheLookup(hit)
		}
		if err != nil {
			return roles.Coverage{}, err
		}
		return coverage, nil
	})
	if err != nil {
		return roles.Coverage{}, err
	}
	return result.(roles.Coverage), nil
}

// recordUsage hands the grant to the usage recorder. Failures are logged and
// swallowed: usage accounting never blocks or reverses a decision.
func (s *Service) recordUsage(ctx context.Context, code string, roleIDs []int64) {
	if s.usage == nil {
		return
	}
	if err := s.usage.RecordGrant(ctx, code, roleIDs, s.now().UTC()); err != nil && s.logger != nil {
		s.logger.Warn("record grant usage", slog.String("code", code), slog.Any("error", err))
	}
}

func (s *Service) observe(outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveDecision(outcome, s.now().Sub(start))
	}
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
