package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vinayakr/nofrillsdb/domains/credentials/be/issuer"
	tenants "github.com/vinayakr/nofrillsdb/domains/tenants/be/service"
	"github.com/vinayakr/nofrillsdb/platform/go/tenant"
)

// Registry is the slice of the tenant registry the credential flows need:
// reading and superseding the current certificate metadata.
type Registry interface {
	CurrentCertificate(ctx context.Context, id uuid.UUID) (tenants.Certificate, error)
	RecordCertificate(ctx context.Context, id uuid.UUID, cert tenants.Certificate) error
}

// RoleManager applies login-role DDL on the provisioning cluster.
type RoleManager interface {
	EnsureLoginRole(ctx context.Context, role, memberOf string) error
	DisableLogin(ctx context.Context, role string) error
	SetConnectionLimit(ctx context.Context, role string, limit int) error
	SetStatementTimeout(ctx context.Context, role string, timeout time.Duration) error
	SetPassword(ctx context.Context, role, verifier string) error
}

// CertIssuer signs client certificates against the configured CA.
type CertIssuer interface {
	IssueClientCredential(role string, validityDays int, keyAlgorithm string, rsaBits int) (issuer.IssuedClientCredential, error)
	CACertPEM() string
}

// Limits are the per-role resource caps applied to every login role the
// service touches.
type Limits struct {
	ConnectionLimit  int
	StatementTimeout time.Duration
}

// Config carries issuance policy.
type Config struct {
	ValidityDays int
	KeyAlgorithm string
	RSABits      int
	Limits       Limits
}

// CertificateBundle is everything the tenant needs to connect over mTLS. The
// private key appears here once and is never stored.
type CertificateBundle struct {
	Credential issuer.IssuedClientCredential
	CACertPEM  string
}

// PasswordCredential is the result of a password (re)issue for the tenant's
// stable base role.
type PasswordCredential struct {
	Role     string
	Password string
}

// Service implements certificate and password issuance on top of the tenant
// registry and the provisioning cluster's role DDL.
type Service struct {
	registry      Registry
	roles         RoleManager
	issuer        CertIssuer
	newCertRoleID func() string
	cfg           Config
}

func New(registry Registry, roles RoleManager, certIssuer CertIssuer, newCertRoleID func() string, cfg Config) *Service {
	if cfg.ValidityDays <= 0 {
		cfg.ValidityDays = 365
	}
	if cfg.KeyAlgorithm == "" {
		cfg.KeyAlgorithm = "RSA"
	}
	if cfg.RSABits == 0 {
		cfg.RSABits = 2048
	}
	return &Service{
		registry:      registry,
		roles:         roles,
		issuer:        certIssuer,
		newCertRoleID: newCertRoleID,
		cfg:           cfg,
	}
}

// IssueCertificate mints a fresh certificate login role for the tenant, signs
// a client certificate bound to it, and retires the previous certificate role.
// The certificate is signed before any role DDL runs so a signing failure
// leaves the cluster untouched.
func (s *Service) IssueCertificate(ctx context.Context, id tenant.Identity) (CertificateBundle, error) {
	set, err := tenant.NewRoleSet(id.PwdRole)
	if err != nil {
		return CertificateBundle{}, err
	}

	previous, err := s.registry.CurrentCertificate(ctx, id.TenantID)
	hadPrevious := err == nil
	if err != nil && !errors.Is(err, tenants.ErrNoCertificate) {
		return CertificateBundle{}, fmt.Errorf("look up current certificate: %w", err)
	}

	role := s.newCertRoleID()
	cred, err := s.issuer.IssueClientCredential(role, s.cfg.ValidityDays, s.cfg.KeyAlgorithm, s.cfg.RSABits)
	if err != nil {
		return CertificateBundle{}, fmt.Errorf("issue client certificate: %w", err)
	}

	if err := s.roles.EnsureLoginRole(ctx, role, set.PrivRole); err != nil {
		return CertificateBundle{}, fmt.Errorf("create certificate role: %w", err)
	}
	if err := s.applyLimits(ctx, role); err != nil {
		_ = s.roles.DisableLogin(ctx, role)
		return CertificateBundle{}, err
	}

	meta := tenants.Certificate{
		RoleName:          cred.Role,
		SerialHex:         cred.SerialHex,
		FingerprintSHA256: cred.FingerprintSHA256Hex,
		IssuedAt:          cred.IssuedAt,
		ExpiresAt:         cred.ExpiresAt,
	}
	// Record before retiring the previous role: an unrecorded LOGIN role would
	// never be picked up by a later rotation, so a role that fails to record
	// gets disabled on the spot.
	if err := s.registry.RecordCertificate(ctx, id.TenantID, meta); err != nil {
		_ = s.roles.DisableLogin(ctx, role)
		return CertificateBundle{}, fmt.Errorf("record certificate metadata: %w", err)
	}

	if hadPrevious && previous.RoleName != role {
		if err := s.roles.DisableLogin(ctx, previous.RoleName); err != nil {
			return CertificateBundle{}, fmt.Errorf("retire certificate role %s: %w", previous.RoleName, err)
		}
	}

	return CertificateBundle{Credential: cred, CACertPEM: s.issuer.CACertPEM()}, nil
}

// IssuePassword sets a fresh random password on the tenant's stable base role.
// Only a SCRAM-SHA-256 verifier reaches the server; the plaintext is returned
// to the caller exactly once.
func (s *Service) IssuePassword(ctx context.Context, id tenant.Identity) (PasswordCredential, error) {
	set, err := tenant.NewRoleSet(id.PwdRole)
	if err != nil {
		return PasswordCredential{}, err
	}

	if err := s.roles.EnsureLoginRole(ctx, set.PwdRole, set.PrivRole); err != nil {
		return PasswordCredential{}, fmt.Errorf("ensure password role: %w", err)
	}

	secret, err := issuer.GeneratePassword()
	if err != nil {
		return PasswordCredential{}, err
	}
	verifier, err := issuer.ScramSHA256Verifier(secret)
	if err != nil {
		return PasswordCredential{}, err
	}

	if err := s.roles.SetPassword(ctx, set.PwdRole, verifier); err != nil {
		return PasswordCredential{}, fmt.Errorf("set password: %w", err)
	}
	if err := s.applyLimits(ctx, set.PwdRole); err != nil {
		return PasswordCredential{}, err
	}

	return PasswordCredential{Role: set.PwdRole, Password: secret}, nil
}

// CertificateMetadata returns the stored metadata of the tenant's current
// certificate without re-issuing anything.
func (s *Service) CertificateMetadata(ctx context.Context, id tenant.Identity) (tenants.Certificate, error) {
	return s.registry.CurrentCertificate(ctx, id.TenantID)
}

func (s *Service) applyLimits(ctx context.Context, role string) error {
	if s.cfg.Limits.ConnectionLimit > 0 {
		if err := s.roles.SetConnectionLimit(ctx, role, s.cfg.Limits.ConnectionLimit); err != nil {
			return fmt.Errorf("set connection limit: %w", err)
		}
	}
	if s.cfg.Limits.StatementTimeout > 0 {
		if err := s.roles.SetStatementTimeout(ctx, role, s.cfg.Limits.StatementTimeout); err != nil {
			return fmt.Errorf("set statement timeout: %w", err)
		}
	}
	return nil
}
