package catalog

import (
	"regexp"
	"time"

	"github.com/insightserenity/access/internal/shared"
)

// Action enumerates the operations a permission may grant.
type Action string

const (
	ActionCreate  Action = "create"
	ActionRead    Action = "read"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionExecute Action = "execute"
	ActionManage  Action = "manage"
	ActionApprove Action = "approve"
	ActionPublish Action = "publish"
)

// Valid reports whether the action is one of the known values.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionExecute, ActionManage, ActionApprove, ActionPublish:
		return true
	}
	return false
}

// Scope describes the blast radius a permission applies to.
type Scope string

const (
	ScopeGlobal       Scope = "global"
	ScopeOrganization Scope = "organization"
	ScopeTenant       Scope = "tenant"
	ScopeTeam         Scope = "team"
	ScopeSelf         Scope = "self"
)

// RiskLevel classifies how dangerous a permission is.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// AuditLevel controls how much detail is recorded when the permission is used.
type AuditLevel string

const (
	AuditNone     AuditLevel = "none"
	AuditBasic    AuditLevel = "basic"
	AuditDetailed AuditLevel = "detailed"
	AuditFull     AuditLevel = "full"
)

// Dependency references another permission that should accompany this one.
type Dependency struct {
	Code     string `json:"code"`
	Required bool   `json:"required"`
}

// Permission is an atomic grantable capability identified by resource:action.
// The code is immutable once created; deprecation marks the record and may
// point at a replacement, it never deletes.
type Permission struct {
	ID          int64
	Code        string
	Name        string
	Description string
	Resource    string
	Action      Action
	Scope       Scope
	Category    string

	Risk             RiskLevel
	RequiresMFA      bool
	RequiresApproval bool
	ApprovalLevel    int
	AuditLevel       AuditLevel
	RetentionDays    int

	Dependencies []Dependency
	Conflicts    []string
	Conditions   []shared.Condition

	IsActive     bool
	IsDeprecated bool
	DeprecatedAt time.Time
	ReplacedBy   string

	UsageCount int64
	LastUsedAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

var codePattern = regexp.MustCompile(`^[a-z0-9_]+:[a-z0-9_]+$`)

// ValidCode reports whether code matches the resource:action form.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// CheckConditions evaluates the permission's attached conditions against the
// request context. True when no conditions are configured.
func (p Permission) CheckConditions(ctx map[string]any) bool {
	return shared.EvaluateConditions(p.Conditions, ctx)
}

// RequiredDependencies returns the codes of dependencies marked required.
func (p Permission) RequiredDependencies() []string {
	var codes []string
	for _, dep := range p.Dependencies {
		if dep.Required {
			codes = append(codes, dep.Code)
		}
	}
	return codes
}
