package service_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vinayakr/nofrillsdb/domains/tenants/be/repo"
	"github.com/vinayakr/nofrillsdb/domains/tenants/be/service"
)

func TestEnsureCreatesTenantOnce(t *testing.T) {
	t.Parallel()

	minted := 0
	newRoleID := func() string {
		minted++
		return fmt.Sprintf("role_%036d", minted)
	}

	svc := service.New(repo.NewMemoryRepository(), newRoleID)
	ctx := context.Background()

	first, err := svc.Ensure(ctx, "auth0|alpha")
	require.NoError(t, err)
	require.Equal(t, "role_"+fmt.Sprintf("%036d", 1), first.PwdRole)
	require.Len(t, first.RoleSuffix, 8)

	// Second call for the same subject must not mint a new base role.
	again, err := svc.Ensure(ctx, "auth0|alpha")
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, first.PwdRole, again.PwdRole)
	require.Equal(t, 1, minted)

	other, err := svc.Ensure(ctx, "auth0|beta")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, other.ID)
	require.Equal(t, 2, minted)
}

func TestEnsureRejectsInvalidGeneratedRole(t *testing.T) {
	t.Parallel()

	svc := service.New(repo.NewMemoryRepository(), func() string { return "BAD ROLE" })
	_, err := svc.Ensure(context.Background(), "auth0|alpha")
	require.Error(t, err)
}

func TestEnsureRequiresSubject(t *testing.T) {
	t.Parallel()

	svc := service.New(repo.NewMemoryRepository(), func() string { return "role_abcdef" })
	_, err := svc.Ensure(context.Background(), "")
	require.Error(t, err)
}
