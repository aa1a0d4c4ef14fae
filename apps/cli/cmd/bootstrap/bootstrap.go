package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vinayakr/nofrillsdb/platform/go/persistence"
)

// Notes/constraints:
// - Registry bootstrap is idempotent; every statement uses IF NOT EXISTS.
// - Tenant databases and roles are never touched here; they are created on
//   demand through the API against the provisioning cluster.

// Command groups bootstrap helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Bootstrap platform resources (registry schema)",
	}

	cmd.AddCommand(registryCommand())
	return cmd
}

func registryCommand() *cobra.Command {
	var databaseURL string

	c := &cobra.Command{
		Use:   "registry",
		Short: "Create the tenant registry tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				return fmt.Errorf("--database-url or DATABASE_URL is required")
			}
			ctx := context.Background()

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			if err := persistence.BootstrapRegistry(ctx, pool); err != nil {
				return fmt.Errorf("bootstrap registry: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "registry schema is up to date")
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "registry database connection string")
	return c
}
