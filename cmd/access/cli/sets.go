package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/insightserenity/access/internal/permsets"
)

// SetCLI exposes permission set registry lookups.
type SetCLI struct {
	service *permsets.Service
	out     io.Writer
}

// NewSetCLI wraps the registry service.
func NewSetCLI(service *permsets.Service, out io.Writer) *SetCLI {
	return &SetCLI{service: service, out: out}
}

// List prints every registered set with its size.
func (c *SetCLI) List(ctx context.Context) error {
	if c == nil || c.service == nil {
		return errors.New("set cli: service not configured")
	}
	sets, err := c.service.List(ctx)
	if err != nil {
		return err
	}
	for _, set := range sets {
		fmt.Fprintf(c.out, "%-20s %-30s permissions=%d system=%t\n",
			set.Code, set.Name, len(set.PermissionCodes), set.IsSystem)
	}
	return nil
}

// Resolve prints the permission codes a set expands to.
func (c *SetCLI) Resolve(ctx context.Context, code string) error {
	if c == nil || c.service == nil {
		return errors.New("set cli: service not configured")
	}
	if code == "" {
		return errors.New("set cli: set code required")
	}
	codes, err := c.service.Resolve(ctx, code)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(c.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(codes)
}
