package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vinayakr/nofrillsdb/platform/go/tenant"
)

// WithRole acquires one connection from the pool, switches it to the given
// role, runs fn, and resets the role before the connection goes back to the
// pool. CREATE DATABASE cannot run inside a transaction, so this works on a
// plain session rather than the SET LOCAL ROLE form.
//
// The reset runs on every exit path. A pooled connection left impersonating
// the owner role would corrupt every later request that picks it up, so if
// RESET ROLE itself fails the connection is hijacked and closed instead of
// being released.
func WithRole(ctx context.Context, pool *pgxpool.Pool, role string, fn func(ctx context.Context, conn *pgxpool.Conn) error) error {
	if err := tenant.ValidateRoleName(role); err != nil {
		return err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}

	if _, err := conn.Exec(ctx, "SET ROLE "+pgx.Identifier{role}.Sanitize()); err != nil {
		conn.Release()
		return fmt.Errorf("set role %s: %w", role, err)
	}

	defer func() {
		// Reset must run even when ctx is already canceled.
		resetCtx := context.WithoutCancel(ctx)
		if _, resetErr := conn.Exec(resetCtx, "RESET ROLE"); resetErr != nil {
			hijacked := conn.Hijack()
			_ = hijacked.Close(resetCtx)
			return
		}
		conn.Release()
	}()

	return fn(ctx, conn)
}
