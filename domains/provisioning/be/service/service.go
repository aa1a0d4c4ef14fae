package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vinayakr/nofrillsdb/platform/go/tenant"
)

// Errors returned by the provisioning service.
var (
	ErrAlreadyExists = errors.New("database already exists")
	ErrNotFound      = errors.New("database not found")
)

// Registry is the slice of the tenant registry this service needs: the
// tenant's recorded owned-database set.
type Registry interface {
	HasDatabase(ctx context.Context, id uuid.UUID, name string) (bool, error)
	AddDatabase(ctx context.Context, id uuid.UUID, name string) error
	RemoveDatabase(ctx context.Context, id uuid.UUID, name string) (bool, error)
	ListDatabases(ctx context.Context, id uuid.UUID) ([]string, error)
}

// RoleBootstrapper converges the tenant role hierarchy before any database is
// created for it.
type RoleBootstrapper interface {
	EnsureHierarchy(ctx context.Context, set tenant.RoleSet) error
}

// DatabaseProvisioner runs the side-effecting DDL against the cluster.
type DatabaseProvisioner interface {
	Create(ctx context.Context, set tenant.RoleSet, dbName string) error
	Drop(ctx context.Context, dbName string) error
}

// Service orchestrates tenant database provisioning: naming, duplicate
// detection against the recorded set, role bootstrap, DDL, and recording.
type Service struct {
	registry  Registry
	roles     RoleBootstrapper
	databases DatabaseProvisioner
}

// New constructs a Service with required dependencies.
func New(registry Registry, roles RoleBootstrapper, databases DatabaseProvisioner) *Service {
	if registry == nil {
		panic("provisioning registry is required")
	}
	if roles == nil {
		panic("role bootstrapper is required")
	}
	if databases == nil {
		panic("database provisioner is required")
	}
	return &Service{registry: registry, roles: roles, databases: databases}
}

// CreateDatabase provisions a database for the tenant under the requested
// logical name and returns the final cluster-wide name. Validation and the
// duplicate check both run before any mutating statement.
func (s *Service) CreateDatabase(ctx context.Context, id tenant.Identity, requested string) (string, error) {
	set, err := tenant.NewRoleSet(id.PwdRole)
	if err != nil {
		return "", err
	}

	dbName, err := tenant.DeriveDatabaseName(requested, id.RoleSuffix)
	if err != nil {
		return "", err
	}

	exists, err := s.registry.HasDatabase(ctx, id.TenantID, dbName)
	if err != nil {
		return "", fmt.Errorf("check owned databases: %w", err)
	}
	if exists {
		return "", fmt.Errorf("%w: %s", ErrAlreadyExists, dbName)
	}

	if err := s.roles.EnsureHierarchy(ctx, set); err != nil {
		return "", fmt.Errorf("ensure role hierarchy: %w", err)
	}

	if err := s.databases.Create(ctx, set, dbName); err != nil {
		return "", err
	}

	// Recorded only after all DDL succeeded; a retry after a mid-sequence
	// failure will find the name unrecorded and run the idempotent path again.
	if err := s.registry.AddDatabase(ctx, id.TenantID, dbName); err != nil {
		return "", fmt.Errorf("record database %s: %w", dbName, err)
	}

	return dbName, nil
}

// DropDatabase destroys a database the tenant owns. Names outside the
// tenant's recorded set are rejected before any DDL is issued.
func (s *Service) DropDatabase(ctx context.Context, id tenant.Identity, dbName string) error {
	if err := tenant.ValidateRoleName(dbName); err != nil {
		return err
	}

	exists, err := s.registry.HasDatabase(ctx, id.TenantID, dbName)
	if err != nil {
		return fmt.Errorf("check owned databases: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, dbName)
	}

	if err := s.databases.Drop(ctx, dbName); err != nil {
		return err
	}

	if _, err := s.registry.RemoveDatabase(ctx, id.TenantID, dbName); err != nil {
		return fmt.Errorf("unrecord database %s: %w", dbName, err)
	}
	return nil
}

// ListDatabases returns the tenant's owned database names.
func (s *Service) ListDatabases(ctx context.Context, id tenant.Identity) ([]string, error) {
	return s.registry.ListDatabases(ctx, id.TenantID)
}
