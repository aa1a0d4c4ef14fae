package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vinayakr/nofrillsdb/platform/go/tenant"
)

// Errors returned by the registry service.
var (
	ErrNotFound      = errors.New("tenant not found")
	ErrNoCertificate = errors.New("no certificate issued for tenant")
)

// Tenant is the registry entry for an external identity. PwdRole is assigned
// on first sight and never changes for the tenant's lifetime.
type Tenant struct {
	ID         uuid.UUID
	Subject    string
	PwdRole    string
	RoleSuffix string
	CreatedAt  time.Time
}

// Certificate is the persisted metadata of the tenant's current client
// certificate, kept for introspection without re-issuing.
type Certificate struct {
	RoleName          string
	SerialHex         string
	FingerprintSHA256 string
	IssuedAt          time.Time
	ExpiresAt         time.Time
}

// Repository abstracts registry persistence.
type Repository interface {
	Create(ctx context.Context, t Tenant) (Tenant, error)
	Get(ctx context.Context, id uuid.UUID) (Tenant, error)
	GetBySubject(ctx context.Context, subject string) (Tenant, error)
	AddDatabase(ctx context.Context, id uuid.UUID, name string) error
	RemoveDatabase(ctx context.Context, id uuid.UUID, name string) (bool, error)
	HasDatabase(ctx context.Context, id uuid.UUID, name string) (bool, error)
	ListDatabases(ctx context.Context, id uuid.UUID) ([]string, error)
	CurrentCertificate(ctx context.Context, id uuid.UUID) (Certificate, error)
	RecordCertificate(ctx context.Context, id uuid.UUID, cert Certificate) error
}

// Service provides tenant registry operations.
type Service struct {
	repo      Repository
	newRoleID func() string
}

// New constructs a Service. newRoleID mints the tenant's stable base role name
// (time-ordered, collision-resistant) when a subject is first registered.
func New(repo Repository, newRoleID func() string) *Service {
	if repo == nil {
		panic("tenants repo is required")
	}
	if newRoleID == nil {
		panic("role id generator is required")
	}
	return &Service{repo: repo, newRoleID: newRoleID}
}

// Ensure resolves the tenant for a validated external subject, creating the
// registry entry with a fresh base role on first sight.
func (s *Service) Ensure(ctx context.Context, subject string) (Tenant, error) {
	if subject == "" {
		return Tenant{}, fmt.Errorf("subject is required")
	}

	t, err := s.repo.GetBySubject(ctx, subject)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Tenant{}, err
	}

	id := uuid.New()
	pwdRole := s.newRoleID()
	if err := tenant.ValidateRoleName(pwdRole); err != nil {
		return Tenant{}, fmt.Errorf("generated base role: %w", err)
	}

	t = Tenant{
		ID:         id,
		Subject:    subject,
		PwdRole:    pwdRole,
		RoleSuffix: tenant.ShortID(id),
		CreatedAt:  time.Now().UTC(),
	}

	created, err := s.repo.Create(ctx, t)
	if err != nil {
		// A concurrent Ensure for the same subject may have won the insert.
		if existing, getErr := s.repo.GetBySubject(ctx, subject); getErr == nil {
			return existing, nil
		}
		return Tenant{}, err
	}
	return created, nil
}

// Resolve maps a subject to its context-carried identity, registering the
// tenant on first sight. It satisfies the identity middleware's Resolver.
func (s *Service) Resolve(ctx context.Context, subject string) (tenant.Identity, error) {
	t, err := s.Ensure(ctx, subject)
	if err != nil {
		return tenant.Identity{}, err
	}
	return t.Identity(), nil
}

// Get returns a tenant by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Tenant, error) {
	return s.repo.Get(ctx, id)
}

// Identity converts a registry entry into the context-carried identity value.
func (t Tenant) Identity() tenant.Identity {
	return tenant.Identity{
		TenantID:   t.ID,
		Subject:    t.Subject,
		PwdRole:    t.PwdRole,
		RoleSuffix: t.RoleSuffix,
	}
}
