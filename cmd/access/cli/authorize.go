package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/insightserenity/access/internal/authz"
)

// AuthorizeCLI evaluates a single authorization check from the command line,
// mainly for debugging role and permission configuration.
type AuthorizeCLI struct {
	evaluator *authz.Service
	out       io.Writer
}

// NewAuthorizeCLI wraps the evaluator.
func NewAuthorizeCLI(evaluator *authz.Service, out io.Writer) *AuthorizeCLI {
	return &AuthorizeCLI{evaluator: evaluator, out: out}
}

// Run parses the role ID list and optional request context JSON, evaluates
// the check and prints the decision as JSON.
func (c *AuthorizeCLI) Run(ctx context.Context, roleList, permissionCode, contextJSON string) error {
	if c == nil || c.evaluator == nil {
		return errors.New("authorize cli: evaluator not configured")
	}
	if permissionCode == "" {
		return errors.New("authorize cli: permission code required")
	}

	roleIDs, err := ParseRoleIDs(roleList)
	if err != nil {
		return err
	}

	var reqCtx map[string]any
	if contextJSON != "" {
		if err := json.Unmarshal([]byte(contextJSON), &reqCtx); err != nil {
			return fmt.Errorf("authorize cli: parse context: %w", err)
		}
	}

	decision, err := c.evaluator.Authorize(ctx, roleIDs, permissionCode, reqCtx)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(c.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(decision)
}

// ParseRoleIDs turns "1,4,9" into a role ID slice.
func ParseRoleIDs(list string) ([]int64, error) {
	if strings.TrimSpace(list) == "" {
		return nil, errors.New("authorize cli: at least one role id required")
	}
	parts := strings.Split(list, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("authorize cli: invalid role id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
