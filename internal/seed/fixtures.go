package seed

import (
	"github.com/insightserenity/access/internal/catalog"
	"github.com/insightserenity/access/internal/permsets"
	"github.com/insightserenity/access/internal/roles"
)

// resourceActions declares the permission matrix: one permission per listed
// (resource, action) pair. Resources absent here never get catalog entries.
var resourceActions = map[string][]catalog.Action{
	"user_management": {
		catalog.ActionCreate, catalog.ActionRead, catalog.ActionUpdate,
		catalog.ActionDelete, catalog.ActionManage,
	},
	"organization_management": {
		catalog.ActionCreate, catalog.ActionRead, catalog.ActionUpdate,
		catalog.ActionDelete, catalog.ActionManage,
	},
	"client": {
		catalog.ActionCreate, catalog.ActionRead, catalog.ActionUpdate,
		catalog.ActionDelete,
	},
	"candidate": {
		catalog.ActionCreate, catalog.ActionRead, catalog.ActionUpdate,
		catalog.ActionDelete,
	},
	"job": {
		catalog.ActionCreate, catalog.ActionRead, catalog.ActionUpdate,
		catalog.ActionDelete, catalog.ActionPublish,
	},
	"placement": {
		catalog.ActionCreate, catalog.ActionRead, catalog.ActionUpdate,
		catalog.ActionApprove,
	},
	"invoice": {
		catalog.ActionCreate, catalog.ActionRead, catalog.ActionUpdate,
		catalog.ActionApprove,
	},
	"report": {
		catalog.ActionRead, catalog.ActionCreate, catalog.ActionExecute,
	},
	"blog": {
		catalog.ActionCreate, catalog.ActionRead, catalog.ActionUpdate,
		catalog.ActionDelete, catalog.ActionPublish,
	},
	"ticket": {
		catalog.ActionCreate, catalog.ActionRead, catalog.ActionUpdate,
	},
	"system": {
		catalog.ActionRead, catalog.ActionUpdate, catalog.ActionManage,
	},
	"billing": {
		catalog.ActionRead, catalog.ActionUpdate, catalog.ActionManage,
	},
}

// fixedSets are the reusable permission bundles installed at bootstrap.
// System sets never change at runtime.
var fixedSets = []permsets.Set{
	{
		Code:        "platform_admin",
		Name:        "Platform Administration",
		Description: "Full control over users, organizations and system settings.",
		Category:    "administrative",
		PermissionCodes: []string{
			"user_management:create", "user_management:read", "user_management:update",
			"user_management:delete", "user_management:manage",
			"organization_management:create", "organization_management:read",
			"organization_management:update", "organization_management:delete",
			"organization_management:manage",
			"system:read", "system:update", "system:manage",
		},
		IsSystem: true,
	},
	{
		Code:        "recruitment_core",
		Name:        "Recruitment Core",
		Description: "Day-to-day candidate, job and placement work.",
		Category:    "operational",
		PermissionCodes: []string{
			"candidate:create", "candidate:read", "candidate:update",
			"job:create", "job:read", "job:update", "job:publish",
			"placement:create", "placement:read", "placement:update",
		},
		IsSystem: true,
	},
	{
		Code:        "client_relations",
		Name:        "Client Relations",
		Description: "Manage client accounts and engagements.",
		Category:    "operational",
		PermissionCodes: []string{
			"client:create", "client:read", "client:update",
		},
		IsSystem: true,
	},
	{
		Code:        "billing_admin",
		Name:        "Billing Administration",
		Description: "Invoice lifecycle and billing configuration.",
		Category:    "management",
		PermissionCodes: []string{
			"invoice:create", "invoice:read", "invoice:update", "invoice:approve",
			"billing:read", "billing:update", "billing:manage",
		},
		IsSystem: true,
	},
	{
		Code:        "reporting_basic",
		Name:        "Basic Reporting",
		Description: "Read and run standard reports.",
		Category:    "support",
		PermissionCodes: []string{
			"report:read", "report:execute",
		},
		IsSystem: true,
	},
	{
		Code:        "self_service",
		Name:        "Self Service",
		Description: "Manage the principal's own profile and tickets.",
		Category:    "support",
		PermissionCodes: []string{
			"user_management:read", "user_management:update",
			"ticket:create", "ticket:read",
		},
		ScopeToSelf: true,
		IsSystem:    true,
	},
}

// roleFixture declares a well-known role. Its permission list is recomputed
// on every seed run as union(set expansions) + Additions - Exclusions.
type roleFixture struct {
	Name        string
	Description string
	Scope       roles.Scope
	Category    roles.Category
	Level       int
	Parent      string
	IsSystem    bool
	IsDefault   bool

	SetCodes   []string
	Additions  []string
	Exclusions []string
	Denials    []string
}

// wellKnownRoles lists roles in dependency order: parents before children.
var wellKnownRoles = []roleFixture{
	{
		Name:        "super_admin",
		Description: "Unrestricted platform owner.",
		Scope:       roles.ScopeSystem,
		Category:    roles.CategoryAdministrative,
		Level:       100,
		IsSystem:    true,
		SetCodes:    []string{"platform_admin", "billing_admin", "reporting_basic"},
	},
	{
		Name:        "org_admin",
		Description: "Organization administrator.",
		Scope:       roles.ScopeOrganization,
		Category:    roles.CategoryAdministrative,
		Level:       90,
		Parent:      "super_admin",
		IsSystem:    true,
		SetCodes:    []string{"platform_admin", "reporting_basic"},
		Exclusions:  []string{"system:manage", "system:update"},
	},
	{
		Name:        "manager",
		Description: "Team manager over recruitment and client work.",
		Scope:       roles.ScopeTenant,
		Category:    roles.CategoryManagement,
		Level:       70,
		Parent:      "org_admin",
		IsSystem:    true,
		SetCodes:    []string{"recruitment_core", "client_relations", "reporting_basic"},
		Additions:   []string{"placement:approve", "invoice:read"},
	},
	{
		Name:        "consultant",
		Description: "Consultant working client engagements.",
		Scope:       roles.ScopeTeam,
		Category:    roles.CategoryOperational,
		Level:       50,
		Parent:      "manager",
		SetCodes:    []string{"recruitment_core", "client_relations"},
		Exclusions:  []string{"job:publish"},
	},
	{
		Name:        "recruiter",
		Description: "Recruiter sourcing and placing candidates.",
		Scope:       roles.ScopeTeam,
		Category:    roles.CategoryOperational,
		Level:       50,
		Parent:      "manager",
		SetCodes:    []string{"recruitment_core"},
	},
	{
		Name:        "support_agent",
		Description: "Customer support with ticket and read access.",
		Scope:       roles.ScopeTenant,
		Category:    roles.CategorySupport,
		Level:       30,
		Parent:      "manager",
		SetCodes:    []string{"self_service", "reporting_basic"},
		Additions:   []string{"ticket:update", "client:read"},
	},
	{
		Name:        "viewer",
		Description: "Read-only access for auditors and observers.",
		Scope:       roles.ScopeTenant,
		Category:    roles.CategoryReadOnly,
		Level:       10,
		IsDefault:   true,
		SetCodes:    []string{"reporting_basic"},
		Additions:   []string{"client:read", "candidate:read", "job:read"},
		Denials:     []string{"user_management:delete"},
	},
	{
		Name:        "guest",
		Description: "Unauthenticated or trial access.",
		Scope:       roles.ScopeCustom,
		Category:    roles.CategoryGuest,
		Level:       0,
		SetCodes:    []string{},
		Additions:   []string{"blog:read", "job:read"},
	},
}

// bootstrapPrincipal seeds an initial account so the deployment is usable
// before any real signup flow runs.
type bootstrapPrincipal struct {
	Email      string
	Name       string
	Password   string
	Role       string
	Attributes map[string]any
}

var bootstrapPrincipals = []bootstrapPrincipal{
	{
		Email:    "admin@insightserenity.io",
		Name:     "Platform Admin",
		Password: "ChangeMe!2024",
		Role:     "super_admin",
		Attributes: map[string]any{
			"department": "platform",
		},
	},
	{
		Email:    "ops@insightserenity.io",
		Name:     "Operations Manager",
		Password: "ChangeMe!2024",
		Role:     "manager",
		Attributes: map[string]any{
			"department": "operations",
		},
	},
}
