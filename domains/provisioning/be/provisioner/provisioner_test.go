package provisioner

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/vinayakr/nofrillsdb/platform/go/persistence"
	"github.com/vinayakr/nofrillsdb/platform/go/tenant"
)

// Integration tests against a real cluster. The connecting user needs
// CREATEDB and CREATEROLE.
func testClusterURL(t *testing.T) string {
	t.Helper()
	url, ok := os.LookupEnv("TEST_DATABASE_URL")
	if !ok || strings.TrimSpace(url) == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping integration test")
	}
	return url
}

func testPool(t *testing.T, url string) *pgxpool.Pool {
	t.Helper()

	cfg, err := pgxpool.ParseConfig(url)
	require.NoError(t, err)
	cfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func testRoleSet(t *testing.T) tenant.RoleSet {
	t.Helper()
	pwdRole := "role_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	set, err := tenant.NewRoleSet(pwdRole)
	require.NoError(t, err)
	return set
}

func dropRoles(ctx context.Context, pool *pgxpool.Pool, roles ...string) {
	for _, role := range roles {
		_, _ = pool.Exec(ctx, "DROP ROLE IF EXISTS "+role)
	}
}

func TestRoleBootstrapEnsureHierarchy(t *testing.T) {
	url := testClusterURL(t)
	ctx := context.Background()
	pool := testPool(t, url)

	set := testRoleSet(t)
	t.Cleanup(func() { dropRoles(ctx, pool, set.PwdRole, set.PrivRole, set.OwnerRole) })

	b := NewRoleBootstrap(pool)
	require.NoError(t, b.EnsureHierarchy(ctx, set))
	// Converging twice must not fail.
	require.NoError(t, b.EnsureHierarchy(ctx, set))

	var canLogin bool
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT rolcanlogin FROM pg_roles WHERE rolname = $1", set.PwdRole).Scan(&canLogin))
	require.True(t, canLogin)

	require.NoError(t, pool.QueryRow(ctx,
		"SELECT rolcanlogin FROM pg_roles WHERE rolname = $1", set.PrivRole).Scan(&canLogin))
	require.False(t, canLogin)

	var isMember bool
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT EXISTS (
            SELECT 1 FROM pg_auth_members m
            JOIN pg_roles r ON r.oid = m.roleid
            JOIN pg_roles g ON g.oid = m.member
            WHERE r.rolname = $1 AND g.rolname = $2)`,
		set.PrivRole, set.PwdRole).Scan(&isMember))
	require.True(t, isMember)
}

func TestRoleBootstrapLoginLifecycle(t *testing.T) {
	url := testClusterURL(t)
	ctx := context.Background()
	pool := testPool(t, url)

	set := testRoleSet(t)
	crtRole := "crt_role_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	t.Cleanup(func() { dropRoles(ctx, pool, crtRole, set.PwdRole, set.PrivRole, set.OwnerRole) })

	b := NewRoleBootstrap(pool)
	require.NoError(t, b.EnsureHierarchy(ctx, set))
	require.NoError(t, b.EnsureLoginRole(ctx, crtRole, set.PrivRole))
	require.NoError(t, b.SetConnectionLimit(ctx, crtRole, 3))
	require.NoError(t, b.SetStatementTimeout(ctx, crtRole, 30*time.Second))
	require.NoError(t, b.SetPassword(ctx, set.PwdRole,
		"SCRAM-SHA-256$4096:c2FsdHNhbHRzYWx0c2FsdA==$c3RvcmVkc3RvcmVkc3RvcmVkc3RvcmVkc3RvcmVkc3Q=:c2VydmVyc2VydmVyc2VydmVyc2VydmVyc2VydmVyc2U="))

	var limit int
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT rolconnlimit FROM pg_roles WHERE rolname = $1", crtRole).Scan(&limit))
	require.Equal(t, 3, limit)

	require.NoError(t, b.DisableLogin(ctx, crtRole))

	var canLogin bool
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT rolcanlogin FROM pg_roles WHERE rolname = $1", crtRole).Scan(&canLogin))
	require.False(t, canLogin)
}

func TestDBProvisionerCreateDrop(t *testing.T) {
	url := testClusterURL(t)
	ctx := context.Background()
	pool := testPool(t, url)

	set := testRoleSet(t)
	poolUser := "pooler_" + strings.ToLower(uuid.New().String()[:8])
	dbName := "tenantdb_" + strings.ToLower(uuid.New().String()[:8])
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, "DROP DATABASE IF EXISTS "+dbName)
		dropRoles(ctx, pool, poolUser, set.PwdRole, set.PrivRole, set.OwnerRole)
	})

	b := NewRoleBootstrap(pool)
	require.NoError(t, b.EnsureHierarchy(ctx, set))
	require.NoError(t, b.EnsureLoginRole(ctx, poolUser, set.PrivRole))

	prov := NewDBProvisioner(pool, persistence.NewEphemeralDB(url), b, poolUser)
	require.NoError(t, prov.Create(ctx, set, dbName))

	// Session state must be clean after the scoped SET ROLE work.
	var currentRole string
	require.NoError(t, pool.QueryRow(ctx, "SELECT current_role").Scan(&currentRole))
	require.NotEqual(t, set.OwnerRole, currentRole)

	var owner string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT pg_get_userbyid(datdba) FROM pg_database WHERE datname = $1`, dbName).Scan(&owner))
	require.Equal(t, set.OwnerRole, owner)

	var hasConnect bool
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT has_database_privilege($1, $2, 'CONNECT')", set.PrivRole, dbName).Scan(&hasConnect))
	require.True(t, hasConnect)

	require.NoError(t, pool.QueryRow(ctx,
		"SELECT has_database_privilege($1, $2, 'CONNECT')", poolUser, dbName).Scan(&hasConnect))
	require.True(t, hasConnect)

	require.NoError(t, prov.Drop(ctx, dbName))

	var exists bool
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", dbName).Scan(&exists))
	require.False(t, exists)
}
