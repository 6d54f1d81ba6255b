package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/insightserenity/access/internal/seed"
)

// SeedCLI runs the idempotent bootstrap from the command line.
type SeedCLI struct {
	seeder *seed.Seeder
	out    io.Writer
}

// NewSeedCLI wraps a configured seeder.
func NewSeedCLI(seeder *seed.Seeder, out io.Writer) *SeedCLI {
	return &SeedCLI{seeder: seeder, out: out}
}

// Run executes the seed and prints the created/skipped summary.
func (c *SeedCLI) Run(ctx context.Context) error {
	if c == nil || c.seeder == nil {
		return errors.New("seed cli: seeder not configured")
	}
	result, err := c.seeder.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "seed complete: created=%d skipped=%d\n", result.Created, result.Skipped)
	return nil
}
