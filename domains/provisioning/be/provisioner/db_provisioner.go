package provisioner

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vinayakr/nofrillsdb/platform/go/persistence"
	"github.com/vinayakr/nofrillsdb/platform/go/tenant"
)

// DBProvisioner creates and destroys tenant databases on the shared cluster
// and sets their database- and schema-level ACLs. Its pool's user must hold
// CREATEDB and be able to grant itself tenant owner roles.
type DBProvisioner struct {
	pool      *pgxpool.Pool
	ephemeral *persistence.EphemeralDB
	roles     *RoleBootstrap
	poolUser  string
}

// NewDBProvisioner wires the provisioner. poolUser is the connection-pooling
// proxy's service role, which needs CONNECT on every tenant database.
func NewDBProvisioner(pool *pgxpool.Pool, ephemeral *persistence.EphemeralDB, roles *RoleBootstrap, poolUser string) *DBProvisioner {
	if pool == nil {
		panic("db provisioner requires pool")
	}
	if ephemeral == nil {
		panic("db provisioner requires ephemeral db factory")
	}
	if roles == nil {
		panic("db provisioner requires role bootstrap")
	}
	poolUser = strings.TrimSpace(poolUser)
	if err := tenant.ValidateRoleName(poolUser); err != nil {
		panic("db provisioner requires a valid pool user: " + err.Error())
	}
	return &DBProvisioner{pool: pool, ephemeral: ephemeral, roles: roles, poolUser: poolUser}
}

// Create provisions dbName owned by the tenant's owner role and applies the
// ACLs that route all access through the privilege role and the pooling proxy.
//
// CREATE DATABASE cannot run inside a transaction, so the sequence is not
// atomic; every step converges on retry.
func (p *DBProvisioner) Create(ctx context.Context, set tenant.RoleSet, dbName string) error {
	if err := tenant.ValidateRoleName(dbName); err != nil {
		return err
	}

	if err := p.roles.ensureRole(ctx, set.OwnerRole, "NOLOGIN"); err != nil {
		return err
	}

	// The provisioning user needs owner-role membership before it may create
	// a database owned by that role or SET ROLE to it.
	grantSelf := fmt.Sprintf("GRANT %s TO CURRENT_USER", pgx.Identifier{set.OwnerRole}.Sanitize())
	if _, err := p.pool.Exec(ctx, grantSelf); err != nil {
		return fmt.Errorf("grant owner role to provisioning user: %w", err)
	}

	createDB := fmt.Sprintf("CREATE DATABASE %s OWNER %s",
		pgx.Identifier{dbName}.Sanitize(), pgx.Identifier{set.OwnerRole}.Sanitize())
	if _, err := p.pool.Exec(ctx, createDB); err != nil {
		return fmt.Errorf("create database %s: %w", dbName, err)
	}

	if err := persistence.WithRole(ctx, p.pool, set.OwnerRole, func(ctx context.Context, conn *pgxpool.Conn) error {
		revoke := fmt.Sprintf("REVOKE ALL ON DATABASE %s FROM PUBLIC", pgx.Identifier{dbName}.Sanitize())
		if _, err := conn.Exec(ctx, revoke); err != nil {
			return fmt.Errorf("revoke public on %s: %w", dbName, err)
		}
		for _, grantee := range []string{set.PrivRole, p.poolUser} {
			grant := fmt.Sprintf("GRANT CONNECT, TEMPORARY ON DATABASE %s TO %s",
				pgx.Identifier{dbName}.Sanitize(), pgx.Identifier{grantee}.Sanitize())
			if _, err := conn.Exec(ctx, grant); err != nil {
				return fmt.Errorf("grant connect on %s to %s: %w", dbName, grantee, err)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	// Schema grants must run as a session connected to the new database.
	return p.ephemeral.WithDatabase(ctx, dbName, func(ctx context.Context, conn *pgxpool.Conn) error {
		if _, err := conn.Exec(ctx, "REVOKE ALL ON SCHEMA public FROM PUBLIC"); err != nil {
			return fmt.Errorf("revoke public schema privileges on %s: %w", dbName, err)
		}
		grant := fmt.Sprintf("GRANT USAGE, CREATE ON SCHEMA public TO %s", pgx.Identifier{set.PrivRole}.Sanitize())
		if _, err := conn.Exec(ctx, grant); err != nil {
			return fmt.Errorf("grant schema usage on %s: %w", dbName, err)
		}
		return nil
	})
}

// Drop destroys a tenant database. New connections are blocked first and
// remaining backends terminated, because Postgres refuses to drop a database
// with active sessions.
func (p *DBProvisioner) Drop(ctx context.Context, dbName string) error {
	if err := tenant.ValidateRoleName(dbName); err != nil {
		return err
	}

	revoke := fmt.Sprintf("REVOKE CONNECT ON DATABASE %s FROM PUBLIC", pgx.Identifier{dbName}.Sanitize())
	if _, err := p.pool.Exec(ctx, revoke); err != nil {
		return fmt.Errorf("revoke connect on %s: %w", dbName, err)
	}

	terminate := `
        SELECT pg_terminate_backend(pid)
        FROM pg_stat_activity
        WHERE datname = $1 AND pid <> pg_backend_pid()`
	if _, err := p.pool.Exec(ctx, terminate, dbName); err != nil {
		return fmt.Errorf("terminate backends on %s: %w", dbName, err)
	}

	dropDB := fmt.Sprintf("DROP DATABASE %s", pgx.Identifier{dbName}.Sanitize())
	if _, err := p.pool.Exec(ctx, dropDB); err != nil {
		return fmt.Errorf("drop database %s: %w", dbName, err)
	}
	return nil
}
