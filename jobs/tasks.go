package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeUsageFlush records usage counters for a granted authorization.
	TaskTypeUsageFlush = "authz:usage_flush"
	// TaskTypeStatsSnapshot rebuilds role statistics from assignments.
	TaskTypeStatsSnapshot = "roles:stats_snapshot"
)

// UsageFlushPayload identifies the permission and roles behind a grant.
type UsageFlushPayload struct {
	PermissionCode string    `json:"permissionCode"`
	RoleIDs        []int64   `json:"roleIds"`
	GrantedAt      time.Time `json:"grantedAt"`
}

// NewUsageFlushTask constructs an Asynq task for a granted check.
func NewUsageFlushTask(payload UsageFlushPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeUsageFlush, data), nil
}

// NewStatsSnapshotTask constructs the nightly stats rebuild task.
func NewStatsSnapshotTask() *asynq.Task {
	return asynq.NewTask(TaskTypeStatsSnapshot, nil)
}

// PermissionUsage increments catalog usage counters.
type PermissionUsage interface {
	IncrementUsage(ctx context.Context, code string, at time.Time) error
}

// RoleUsage increments per-role usage counters.
type RoleUsage interface {
	RecordUsage(ctx context.Context, roleID int64) error
}

// StatsRebuilder recomputes role statistics from the assignment table.
type StatsRebuilder interface {
	RecalculateStats(ctx context.Context) error
}

// TaskMetrics records handler outcomes for the worker's metrics endpoint.
type TaskMetrics interface {
	ObserveJob(taskType string, elapsed time.Duration, err error)
}

// Handlers bundles the dependencies the task handlers need.
type Handlers struct {
	Permissions PermissionUsage
	Roles       RoleUsage
	Stats       StatsRebuilder
	Metrics     TaskMetrics
	Logger      *slog.Logger
}

func (h Handlers) observe(taskType string, start time.Time, err error) {
	if h.Metrics != nil {
		h.Metrics.ObserveJob(taskType, time.Since(start), err)
	}
}

// HandleUsageFlush applies the usage counters for one granted check. Counter
// updates are approximate; a partial failure retries the whole task, which at
// worst over-counts by one.
func (h Handlers) HandleUsageFlush(ctx context.Context, t *asynq.Task) (err error) {
	start := time.Now()
	defer func() { h.observe(TaskTypeUsageFlush, start, err) }()

	var payload UsageFlushPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	at := payload.GrantedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if h.Permissions != nil {
		if err := h.Permissions.IncrementUsage(ctx, payload.PermissionCode, at); err != nil {
			return err
		}
	}
	if h.Roles != nil {
		for _, roleID := range payload.RoleIDs {
			if err := h.Roles.RecordUsage(ctx, roleID); err != nil {
				return err
			}
		}
	}
	if h.Logger != nil {
		h.Logger.Debug("usage flushed",
			slog.String("code", payload.PermissionCode),
			slog.Int("roles", len(payload.RoleIDs)))
	}
	return nil
}

// HandleStatsSnapshot rebuilds role statistics.
func (h Handlers) HandleStatsSnapshot(ctx context.Context, _ *asynq.Task) (err error) {
	start := time.Now()
	defer func() { h.observe(TaskTypeStatsSnapshot, start, err) }()

	if h.Stats == nil {
		return nil
	}
	if err := h.Stats.RecalculateStats(ctx); err != nil {
		return err
	}
	if h.Logger != nil {
		h.Logger.Info("role stats snapshot complete")
	}
	return nil
}
