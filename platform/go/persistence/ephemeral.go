package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vinayakr/nofrillsdb/platform/go/tenant"
)

// EphemeralDB opens single-use, single-connection pools against individual
// tenant databases. Schema-level grants must run as a session connected to the
// target database; the shared provisioning pool is connected to the bootstrap
// database and cannot issue them.
type EphemeralDB struct {
	connString string
}

// NewEphemeralDB builds a factory from the provisioning pool's connection
// string. Only the database segment is swapped per call; credentials and host
// stay identical to the administrative pool.
func NewEphemeralDB(connString string) *EphemeralDB {
	if connString == "" {
		panic("ephemeral db requires conn string")
	}
	return &EphemeralDB{connString: connString}
}

// WithDatabase opens a dedicated pool capped at exactly one connection against
// dbName, acquires that connection, runs fn, and closes the pool on every exit
// path. The pool is never visible outside this call.
func (e *EphemeralDB) WithDatabase(ctx context.Context, dbName string, fn func(ctx context.Context, conn *pgxpool.Conn) error) error {
	if err := tenant.ValidateRoleName(dbName); err != nil {
		return err
	}

	cfg, err := pgxpool.ParseConfig(e.connString)
	if err != nil {
		return fmt.Errorf("parse ephemeral pool config: %w", err)
	}
	cfg.ConnConfig.Database = dbName
	cfg.MaxConns = 1
	cfg.MinConns = 0

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create ephemeral pool for %s: %w", dbName, err)
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire ephemeral conn for %s: %w", dbName, err)
	}
	defer conn.Release()

	return fn(ctx, conn)
}
