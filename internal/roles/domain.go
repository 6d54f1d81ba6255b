package roles

import (
	"time"

	"github.com/google/uuid"

	"github.com/insightserenity/access/internal/shared"
)

// Scope describes where a role applies.
type Scope string

const (
	ScopeSystem       Scope = "system"
	ScopeOrganization Scope = "organization"
	ScopeTenant       Scope = "tenant"
	ScopeTeam         Scope = "team"
	ScopeCustom       Scope = "custom"
)

// Category groups roles by business function.
type Category string

const (
	CategoryAdministrative Category = "administrative"
	CategoryManagement     Category = "management"
	CategoryOperational    Category = "operational"
	CategorySupport        Category = "support"
	CategoryReadOnly       Category = "readonly"
	CategoryGuest          Category = "guest"
	CategorySpecial        Category = "special"
)

// HourWindow is an inclusive start/end hour restriction (24h clock).
type HourWindow struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Restrictions constrain how and when a role may be used.
type Restrictions struct {
	MaxUsers              int            `json:"maxUsers,omitempty"`
	RequireMFA            bool           `json:"requireMfa,omitempty"`
	AllowedIPs            []string       `json:"allowedIps,omitempty"`
	AllowedDays           []time.Weekday `json:"allowedDays,omitempty"`
	AllowedHours          *HourWindow    `json:"allowedHours,omitempty"`
	SessionTimeout        time.Duration  `json:"sessionTimeout,omitempty"`
	MaxConcurrentSessions int            `json:"maxConcurrentSessions,omitempty"`
}

// AssignmentRuleType enumerates assignment rule flavors.
type AssignmentRuleType string

const (
	RuleAttribute AssignmentRuleType = "attribute"
	RuleGroup     AssignmentRuleType = "group"
	RuleDynamic   AssignmentRuleType = "dynamic"
	RuleTemporal  AssignmentRuleType = "temporal"
)

// AssignmentRule gates automatic or manual role assignment on principal
// attributes.
type AssignmentRule struct {
	Type       AssignmentRuleType `json:"type"`
	Conditions []shared.Condition `json:"conditions"`
}

// Compliance carries review metadata for regulated tenants.
type Compliance struct {
	Classification string    `json:"classification,omitempty"`
	ReviewedBy     string    `json:"reviewedBy,omitempty"`
	LastReviewedAt time.Time `json:"lastReviewedAt,omitempty"`
}

// Role is a named bundle of permissions with a hierarchy position and
// assignment constraints. Permission lists hold catalog codes; the allow and
// deny lists are mutually exclusive per code.
type Role struct {
	ID          int64
	Name        string
	Description string
	Scope       Scope
	Category    Category

	// Level orders the hierarchy: higher is more privileged, and a child is
	// always strictly below its parent.
	Level    int
	ParentID int64
	ChildIDs []int64

	Permissions       []string
	DeniedPermissions []string

	Restrictions    Restrictions
	AssignmentRules []AssignmentRule
	Priority        int

	IsActive  bool
	IsSystem  bool
	IsDefault bool

	Compliance Compliance

	EffectiveAt  time.Time
	ExpiresAt    time.Time
	DeprecatedAt time.Time
	ReplacedBy   string

	// Version backs optimistic concurrency on role mutations.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Stats holds the write-heavy telemetry for a role, kept apart from the
// policy record so counter updates never invalidate policy caches.
type Stats struct {
	RoleID         int64
	UserCount      int64
	UsageCount     int64
	LastAssignedAt time.Time
	UpdatedAt      time.Time
}

// Assignment links a principal to a role.
type Assignment struct {
	ID          uuid.UUID
	RoleID      int64
	PrincipalID int64
	AssignedAt  time.Time
}

// IsEffectiveAt reports whether the role is inside its effective window.
func (r Role) IsEffectiveAt(now time.Time) bool {
	if !r.EffectiveAt.IsZero() && now.Before(r.EffectiveAt) {
		return false
	}
	if !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt) {
		return false
	}
	return true
}

// HasPermission reports whether code is on the role's own allow-list.
func (r Role) HasPermission(code string) bool {
	return containsString(r.Permissions, code)
}

// Denies reports whether code is on the role's own deny-list.
func (r Role) Denies(code string) bool {
	return containsString(r.DeniedPermissions, code)
}

// CheckTimeRestrictions reports whether the role may be used at the given
// instant. Both the day-of-week and the inclusive hour window must pass when
// configured.
func (r Role) CheckTimeRestrictions(now time.Time) bool {
	rest := r.Restrictions
	if len(rest.AllowedDays) > 0 {
		ok := false
		for _, day := range rest.AllowedDays {
			if now.Weekday() == day {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if rest.AllowedHours != nil {
		hour := now.Hour()
		if hour < rest.AllowedHours.Start || hour > rest.AllowedHours.End {
			return false
		}
	}
	return true
}

// CheckIPRestriction reports whether ip is allowed. True when no allow-list
// is configured.
func (r Role) CheckIPRestriction(ip string) bool {
	if len(r.Restrictions.AllowedIPs) == 0 {
		return true
	}
	return containsString(r.Restrictions.AllowedIPs, ip)
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func removeString(list []string, value string) []string {
	out := list[:0]
	for _, item := range list {
		if item != value {
			out = append(out, item)
		}
	}
	return out
}

func appendUnique(list []string, value string) []string {
	if containsString(list, value) {
		return list
	}
	return append(list, value)
}
