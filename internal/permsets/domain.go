package permsets

import "time"

// Set is a named, reusable bundle of permission codes. A set grants nothing
// by itself; it only expands into codes when attached to a role.
type Set struct {
	ID          int64
	Code        string
	Name        string
	Description string
	Category    string

	PermissionCodes []string

	// ScopeToSelf narrows every expanded permission to the principal's own
	// records when the consuming role applies the set.
	ScopeToSelf bool

	// IsSystem marks seeded sets that must not be mutated at runtime.
	IsSystem bool

	CreatedAt time.Time
	UpdatedAt time.Time
}
