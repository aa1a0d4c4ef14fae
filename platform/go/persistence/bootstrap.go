package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/vinayakr/nofrillsdb/database"
)

// BootstrapRegistry applies the registry DDL to the connected application
// database in a single transaction, in this order:
//  1. registry/tenants.sql
//  2. registry/tenant_databases.sql
//  3. registry/client_certificates.sql
//
// SQL is embedded at build time so binaries stay self-contained. All
// statements are IF NOT EXISTS, so the helper is idempotent and intended for
// CLI bootstrap and tests.
func BootstrapRegistry(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("bootstrap registry: pool is required")
	}

	var statements []string
	statements = append(statements, splitStatements(sqlassets.TenantsSQL)...)
	statements = append(statements, splitStatements(sqlassets.TenantDatabasesSQL)...)
	statements = append(statements, splitStatements(sqlassets.ClientCertificatesSQL)...)

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply registry ddl: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// splitStatements breaks an embedded SQL asset into individual statements.
// The registry DDL contains no string literals with semicolons, so a plain
// split is sufficient.
func splitStatements(sql string) []string {
	raw := strings.Split(sql, ";")
	statements := make([]string, 0, len(raw))
	for _, stmt := range raw {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		statements = append(statements, stmt)
	}
	return statements
}
