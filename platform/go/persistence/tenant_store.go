package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TenantRecord represents one row of the tenant registry. PwdRole is generated
// exactly once when the tenant is first seen and never renamed afterwards.
type TenantRecord struct {
	TenantID   uuid.UUID `db:"tenant_id"`
	Subject    string    `db:"subject"`
	PwdRole    string    `db:"pwd_role"`
	RoleSuffix string    `db:"role_suffix"`
	CreatedAt  time.Time `db:"created_at"`
}

// CertificateRecord is the persisted metadata of an issued client certificate.
// The private key is never stored; only the newest row per tenant has
// superseded = FALSE.
type CertificateRecord struct {
	TenantID          uuid.UUID `db:"tenant_id"`
	RoleName          string    `db:"role_name"`
	SerialHex         string    `db:"serial_hex"`
	FingerprintSHA256 string    `db:"fingerprint_sha256"`
	IssuedAt          time.Time `db:"issued_at"`
	ExpiresAt         time.Time `db:"expires_at"`
	Superseded        bool      `db:"superseded"`
}

// TenantStore provides access to the registry tables.
type TenantStore struct {
	pool *pgxpool.Pool
}

// NewTenantStore creates a store; assumes BootstrapRegistry already ran.
func NewTenantStore(pool *pgxpool.Pool) (*TenantStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &TenantStore{pool: pool}, nil
}

// Create inserts a tenant row.
func (s *TenantStore) Create(ctx context.Context, rec TenantRecord) (TenantRecord, error) {
	if rec.TenantID == uuid.Nil {
		return TenantRecord{}, errors.New("tenant id is required")
	}
	if rec.Subject == "" {
		return TenantRecord{}, errors.New("subject is required")
	}

	row := s.pool.QueryRow(ctx, `
        INSERT INTO tenants (tenant_id, subject, pwd_role, role_suffix, created_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING tenant_id, subject, pwd_role, role_suffix, created_at
    `, rec.TenantID, rec.Subject, rec.PwdRole, rec.RoleSuffix, rec.CreatedAt)

	return scanTenantRow(row)
}

// Get returns a tenant by id.
func (s *TenantStore) Get(ctx context.Context, id uuid.UUID) (TenantRecord, error) {
	row := s.pool.QueryRow(ctx, `
        SELECT tenant_id, subject, pwd_role, role_suffix, created_at
        FROM tenants WHERE tenant_id = $1
    `, id)
	return scanTenantRow(row)
}

// GetBySubject returns a tenant by its external identity.
func (s *TenantStore) GetBySubject(ctx context.Context, subject string) (TenantRecord, error) {
	row := s.pool.QueryRow(ctx, `
        SELECT tenant_id, subject, pwd_role, role_suffix, created_at
        FROM tenants WHERE subject = $1
    `, subject)
	return scanTenantRow(row)
}

// AddDatabase records a database name in the tenant's owned set.
func (s *TenantStore) AddDatabase(ctx context.Context, tenantID uuid.UUID, name string) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO tenant_databases (tenant_id, database_name, created_at)
        VALUES ($1, $2, $3)
    `, tenantID, name, time.Now().UTC())
	return err
}

// RemoveDatabase deletes a database name from the tenant's owned set and
// reports whether a row was actually removed.
func (s *TenantStore) RemoveDatabase(ctx context.Context, tenantID uuid.UUID, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
        DELETE FROM tenant_databases WHERE tenant_id = $1 AND database_name = $2
    `, tenantID, name)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// HasDatabase reports whether the tenant's recorded set contains name.
func (s *TenantStore) HasDatabase(ctx context.Context, tenantID uuid.UUID, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM tenant_databases WHERE tenant_id = $1 AND database_name = $2
        )
    `, tenantID, name).Scan(&exists)
	return exists, err
}

// ListDatabases returns the tenant's owned database names ordered by creation.
func (s *TenantStore) ListDatabases(ctx context.Context, tenantID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT database_name FROM tenant_databases
        WHERE tenant_id = $1 ORDER BY created_at, database_name
    `, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// CurrentCertificate returns the tenant's not-superseded certificate metadata.
func (s *TenantStore) CurrentCertificate(ctx context.Context, tenantID uuid.UUID) (CertificateRecord, error) {
	row := s.pool.QueryRow(ctx, `
        SELECT tenant_id, role_name, serial_hex, fingerprint_sha256, issued_at, expires_at, superseded
        FROM client_certificates
        WHERE tenant_id = $1 AND NOT superseded
    `, tenantID)
	return scanCertificateRow(row)
}

// RecordCertificate marks the tenant's previous certificate superseded and
// inserts the new metadata row in one transaction, keeping the partial unique
// index on (tenant_id) WHERE NOT superseded satisfied.
func (s *TenantStore) RecordCertificate(ctx context.Context, rec CertificateRecord) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `
        UPDATE client_certificates SET superseded = TRUE
        WHERE tenant_id = $1 AND NOT superseded
    `, rec.TenantID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
        INSERT INTO client_certificates
            (tenant_id, role_name, serial_hex, fingerprint_sha256, issued_at, expires_at, superseded)
        VALUES ($1, $2, $3, $4, $5, $6, FALSE)
    `, rec.TenantID, rec.RoleName, rec.SerialHex, rec.FingerprintSHA256, rec.IssuedAt, rec.ExpiresAt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func scanTenantRow(row pgx.Row) (TenantRecord, error) {
	var rec TenantRecord
	err := row.Scan(&rec.TenantID, &rec.Subject, &rec.PwdRole, &rec.RoleSuffix, &rec.CreatedAt)
	if err != nil {
		return TenantRecord{}, err
	}
	return rec, nil
}

func scanCertificateRow(row pgx.Row) (CertificateRecord, error) {
	var rec CertificateRecord
	err := row.Scan(&rec.TenantID, &rec.RoleName, &rec.SerialHex, &rec.FingerprintSHA256,
		&rec.IssuedAt, &rec.ExpiresAt, &rec.Superseded)
	if err != nil {
		return CertificateRecord{}, err
	}
	return rec, nil
}
