package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/insightserenity/access/internal/roles"
)

// RoleCLI exposes role inspection and maintenance helpers.
type RoleCLI struct {
	service *roles.Service
	out     io.Writer
}

// NewRoleCLI wraps the role service.
func NewRoleCLI(service *roles.Service, out io.Writer) *RoleCLI {
	return &RoleCLI{service: service, out: out}
}

type roleSummary struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Level  int    `json:"level"`
	Active bool   `json:"active"`
}

type inspectOutput struct {
	Role        roleSummary   `json:"role"`
	Ancestors   []roleSummary `json:"ancestors"`
	Descendants []roleSummary `json:"descendants"`
	Effective   []string      `json:"effectivePermissions"`
	Denied      []string      `json:"deniedPermissions"`
}

// Inspect prints a role's hierarchy position and effective permissions.
func (c *RoleCLI) Inspect(ctx context.Context, roleID int64) error {
	if c == nil || c.service == nil {
		return errors.New("role cli: service not configured")
	}
	hierarchy, err := c.service.Hierarchy(ctx, roleID)
	if err != nil {
		return err
	}
	coverage, err := c.service.PermissionCoverage(ctx, []int64{roleID})
	if err != nil {
		return err
	}

	output := inspectOutput{
		Role:      summarize(hierarchy.Current),
		Effective: coverage.Effective,
		Denied:    coverage.Denied,
	}
	for _, ancestor := range hierarchy.Ancestors {
		output.Ancestors = append(output.Ancestors, summarize(ancestor))
	}
	for _, descendant := range hierarchy.Descendants {
		output.Descendants = append(output.Descendants, summarize(descendant))
	}

	encoder := json.NewEncoder(c.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

// Clone duplicates a role under a new name and prints the result.
func (c *RoleCLI) Clone(ctx context.Context, roleID int64, newName string) error {
	if c == nil || c.service == nil {
		return errors.New("role cli: service not configured")
	}
	if newName == "" {
		return errors.New("role cli: new name required")
	}
	cloned, err := c.service.Clone(ctx, roleID, newName, roles.CloneOverrides{})
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(c.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(summarize(cloned))
}

func summarize(role roles.Role) roleSummary {
	return roleSummary{ID: role.ID, Name: role.Name, Level: role.Level, Active: role.IsActive}
}
