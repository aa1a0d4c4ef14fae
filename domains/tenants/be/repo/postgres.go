package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vinayakr/nofrillsdb/domains/tenants/be/service"
	"github.com/vinayakr/nofrillsdb/platform/go/persistence"
)

// PostgresRepository implements the registry repository on top of TenantStore.
type PostgresRepository struct {
	store *persistence.TenantStore
}

// NewPostgresRepository constructs a repository backed by TenantStore.
func NewPostgresRepository(store *persistence.TenantStore) *PostgresRepository {
	if store == nil {
		panic("tenant store is required")
	}
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) Create(ctx context.Context, t service.Tenant) (service.Tenant, error) {
	rec, err := r.store.Create(ctx, persistence.TenantRecord{
		TenantID:   t.ID,
		Subject:    t.Subject,
		PwdRole:    t.PwdRole,
		RoleSuffix: t.RoleSuffix,
		CreatedAt:  t.CreatedAt,
	})
	if err != nil {
		return service.Tenant{}, err
	}
	return toServiceTenant(rec), nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (service.Tenant, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return service.Tenant{}, mapNotFound(err)
	}
	return toServiceTenant(rec), nil
}

func (r *PostgresRepository) GetBySubject(ctx context.Context, subject string) (service.Tenant, error) {
	rec, err := r.store.GetBySubject(ctx, subject)
	if err != nil {
		return service.Tenant{}, mapNotFound(err)
	}
	return toServiceTenant(rec), nil
}

func (r *PostgresRepository) AddDatabase(ctx context.Context, id uuid.UUID, name string) error {
	return r.store.AddDatabase(ctx, id, name)
}

func (r *PostgresRepository) RemoveDatabase(ctx context.Context, id uuid.UUID, name string) (bool, error) {
	return r.store.RemoveDatabase(ctx, id, name)
}

func (r *PostgresRepository) HasDatabase(ctx context.Context, id uuid.UUID, name string) (bool, error) {
	return r.store.HasDatabase(ctx, id, name)
}

func (r *PostgresRepository) ListDatabases(ctx context.Context, id uuid.UUID) ([]string, error) {
	return r.store.ListDatabases(ctx, id)
}

func (r *PostgresRepository) CurrentCertificate(ctx context.Context, id uuid.UUID) (service.Certificate, error) {
	rec, err := r.store.CurrentCertificate(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return service.Certificate{}, service.ErrNoCertificate
		}
		return service.Certificate{}, err
	}
	return service.Certificate{
		RoleName:          rec.RoleName,
		SerialHex:         rec.SerialHex,
		FingerprintSHA256: rec.FingerprintSHA256,
		IssuedAt:          rec.IssuedAt,
		ExpiresAt:         rec.ExpiresAt,
	}, nil
}

func (r *PostgresRepository) RecordCertificate(ctx context.Context, id uuid.UUID, cert service.Certificate) error {
	return r.store.RecordCertificate(ctx, persistence.CertificateRecord{
		TenantID:          id,
		RoleName:          cert.RoleName,
		SerialHex:         cert.SerialHex,
		FingerprintSHA256: cert.FingerprintSHA256,
		IssuedAt:          cert.IssuedAt,
		ExpiresAt:         cert.ExpiresAt,
	})
}

func toServiceTenant(rec persistence.TenantRecord) service.Tenant {
	return service.Tenant{
		ID:         rec.TenantID,
		Subject:    rec.Subject,
		PwdRole:    rec.PwdRole,
		RoleSuffix: rec.RoleSuffix,
		CreatedAt:  rec.CreatedAt,
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return service.ErrNotFound
	}
	return err
}

var _ service.Repository = (*PostgresRepository)(nil)
