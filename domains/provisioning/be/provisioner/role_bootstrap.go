package provisioner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vinayakr/nofrillsdb/platform/go/tenant"
)

// duplicateObjectCode is the SQLSTATE raised when a concurrent CREATE ROLE for
// the same name wins the race between our existence check and our create.
const duplicateObjectCode = "42710"

// RoleBootstrap maintains the per-tenant role hierarchy on the shared cluster.
// Its connection's user must hold CREATEROLE.
//
// Role DDL cannot take bound parameters, so every name passes
// tenant.ValidateRoleName before it is interpolated, and the pieces around it
// are fixed strings.
type RoleBootstrap struct {
	pool *pgxpool.Pool
}

func NewRoleBootstrap(pool *pgxpool.Pool) *RoleBootstrap {
	if pool == nil {
		panic("role bootstrap requires pool")
	}
	return &RoleBootstrap{pool: pool}
}

// EnsureHierarchy converges the tenant's role hierarchy: NOLOGIN privilege and
// owner roles, a LOGIN password role with INHERIT, and privilege-role
// membership for the login role. Safe to call repeatedly; each statement is
// individually idempotent because the sequence as a whole is not atomic.
func (b *RoleBootstrap) EnsureHierarchy(ctx context.Context, set tenant.RoleSet) error {
	if err := b.ensureRole(ctx, set.PrivRole, "NOLOGIN"); err != nil {
		return err
	}
	if err := b.ensureRole(ctx, set.OwnerRole, "NOLOGIN"); err != nil {
		return err
	}
	if err := b.EnsureLoginRole(ctx, set.PwdRole, set.PrivRole); err != nil {
		return err
	}
	return nil
}

// EnsureLoginRole converges a LOGIN role with INHERIT and membership in
// memberOf. Used for both the stable password role and each rotated
// certificate role.
func (b *RoleBootstrap) EnsureLoginRole(ctx context.Context, role, memberOf string) error {
	if err := b.ensureRole(ctx, role, "LOGIN INHERIT"); err != nil {
		return err
	}
	if err := tenant.ValidateRoleName(memberOf); err != nil {
		return err
	}
	grant := fmt.Sprintf("GRANT %s TO %s", pgx.Identifier{memberOf}.Sanitize(), pgx.Identifier{role}.Sanitize())
	if _, err := b.pool.Exec(ctx, grant); err != nil {
		return fmt.Errorf("grant %s to %s: %w", memberOf, role, err)
	}
	return nil
}

// DisableLogin alters a role to NOLOGIN, invalidating any credential bound to
// it without dropping the role or its grants.
func (b *RoleBootstrap) DisableLogin(ctx context.Context, role string) error {
	if err := tenant.ValidateRoleName(role); err != nil {
		return err
	}
	if _, err := b.pool.Exec(ctx, "ALTER ROLE "+pgx.Identifier{role}.Sanitize()+" NOLOGIN"); err != nil {
		return fmt.Errorf("disable login for %s: %w", role, err)
	}
	return nil
}

// SetConnectionLimit caps concurrent connections for a login role.
func (b *RoleBootstrap) SetConnectionLimit(ctx context.Context, role string, limit int) error {
	if err := tenant.ValidateRoleName(role); err != nil {
		return err
	}
	stmt := fmt.Sprintf("ALTER ROLE %s CONNECTION LIMIT %d", pgx.Identifier{role}.Sanitize(), limit)
	if _, err := b.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("set connection limit for %s: %w", role, err)
	}
	return nil
}

// SetStatementTimeout applies a session-default statement_timeout to a role.
func (b *RoleBootstrap) SetStatementTimeout(ctx context.Context, role string, timeout time.Duration) error {
	if err := tenant.ValidateRoleName(role); err != nil {
		return err
	}
	stmt := fmt.Sprintf("ALTER ROLE %s SET statement_timeout = '%dms'",
		pgx.Identifier{role}.Sanitize(), timeout.Milliseconds())
	if _, err := b.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("set statement timeout for %s: %w", role, err)
	}
	return nil
}

// SetPassword stores a password verifier on a login role. The verifier is a
// SCRAM-SHA-256 hash computed client side, so no plaintext secret reaches the
// server or its logs.
func (b *RoleBootstrap) SetPassword(ctx context.Context, role, verifier string) error {
	if err := tenant.ValidateRoleName(role); err != nil {
		return err
	}
	stmt := fmt.Sprintf("ALTER ROLE %s PASSWORD %s", pgx.Identifier{role}.Sanitize(), pgLiteral(verifier))
	if _, err := b.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("set password for %s: %w", role, err)
	}
	return nil
}

// ensureRole checks pg_roles and creates or alters the role so its attributes
// converge. The check-then-act window is closed by treating duplicate_object
// from CREATE as a signal to fall through to ALTER.
func (b *RoleBootstrap) ensureRole(ctx context.Context, role, attributes string) error {
	if err := tenant.ValidateRoleName(role); err != nil {
		return err
	}

	var exists bool
	if err := b.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)", role).Scan(&exists); err != nil {
		return fmt.Errorf("check role existence: %w", err)
	}

	if !exists {
		createSQL := fmt.Sprintf("CREATE ROLE %s %s", pgx.Identifier{role}.Sanitize(), attributes)
		_, err := b.pool.Exec(ctx, createSQL)
		if err == nil {
			return nil
		}
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != duplicateObjectCode {
			return fmt.Errorf("create role %s: %w", role, err)
		}
		// Lost the race; converge attributes below.
	}

	alterSQL := fmt.Sprintf("ALTER ROLE %s %s", pgx.Identifier{role}.Sanitize(), attributes)
	if _, err := b.pool.Exec(ctx, alterSQL); err != nil {
		return fmt.Errorf("alter role %s: %w", role, err)
	}
	return nil
}

// pgLiteral quotes a string literal for interpolation into role DDL, which
// cannot use bound parameters. Single quotes are doubled per the SQL standard.
func pgLiteral(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, s[i])
	}
	out = append(out, '\'')
	return string(out)
}
