package principals

import "time"

// Principal represents an account that can hold roles.
type Principal struct {
	ID       int64
	Email    string
	Name     string
	IsActive bool

	// Attributes feed assignment-rule and permission-condition evaluation
	// (department, seniority, groups, tenant, ...).
	Attributes map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConditionContext exposes the principal in the shape expected by the
// dotted-path condition engine.
func (p Principal) ConditionContext() map[string]any {
	attrs := make(map[string]any, len(p.Attributes)+3)
	for k, v := range p.Attributes {
		attrs[k] = v
	}
	attrs["id"] = p.ID
	attrs["email"] = p.Email
	attrs["active"] = p.IsActive
	return map[string]any{"principal": attrs}
}
