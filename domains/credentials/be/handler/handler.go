package handler

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/vinayakr/nofrillsdb/domains/credentials/be/service"
	tenants "github.com/vinayakr/nofrillsdb/domains/tenants/be/service"
	"github.com/vinayakr/nofrillsdb/platform/go/logging"
	"github.com/vinayakr/nofrillsdb/platform/go/problem"
	"github.com/vinayakr/nofrillsdb/platform/go/tenant"
)

const caBundleEntry = "clients_ca.crt"

// CertificateMetadataResponse is the GET /api/user/crt payload: the stored
// metadata of the tenant's current certificate, without any key material.
type CertificateMetadataResponse struct {
	Role              string    `json:"role"`
	SerialHex         string    `json:"serialHex"`
	FingerprintSHA256 string    `json:"fingerprintSha256"`
	IssuedAt          time.Time `json:"issuedAt"`
	ExpiresAt         time.Time `json:"expiresAt"`
}

// Handler wires the credential issuance service to HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("credentials service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the credential endpoints on the given router. The tenant
// identity middleware must already have run.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/user/crt", h.IssueCertificate)
	r.Get("/user/crt", h.CertificateMetadata)
	r.Post("/user/password", h.IssuePassword)
}

// IssueCertificate implements POST /api/user/crt. The response is a ZIP
// archive with the private key, the signed certificate, and the CA bundle;
// the key appears in this response once and is never retrievable again.
func (h *Handler) IssueCertificate(w http.ResponseWriter, r *http.Request) {
	id, ok := tenant.FromContext(r.Context())
	if !ok {
		problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", "tenant identity is missing")
		return
	}

	bundle, err := h.svc.IssueCertificate(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, "issue certificate")
		return
	}

	archive, err := buildBundleZip(bundle)
	if err != nil {
		logging.FromRequest(r, h.logger).Error("assemble credential bundle failed", zap.Error(err))
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeInternal, "Internal error", "the operation could not be completed")
		return
	}

	logging.FromRequest(r, h.logger).Info("certificate issued",
		zap.String("tenantId", id.TenantID.String()),
		zap.String("role", bundle.Credential.Role),
		zap.String("serial", bundle.Credential.SerialHex))

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", bundle.Credential.Role+".zip"))
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(archive)
}

// CertificateMetadata implements GET /api/user/crt.
func (h *Handler) CertificateMetadata(w http.ResponseWriter, r *http.Request) {
	id, ok := tenant.FromContext(r.Context())
	if !ok {
		problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", "tenant identity is missing")
		return
	}

	meta, err := h.svc.CertificateMetadata(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, "certificate metadata")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(CertificateMetadataResponse{
		Role:              meta.RoleName,
		SerialHex:         meta.SerialHex,
		FingerprintSHA256: meta.FingerprintSHA256,
		IssuedAt:          meta.IssuedAt,
		ExpiresAt:         meta.ExpiresAt,
	})
}

// IssuePassword implements POST /api/user/password. Plain text keeps the
// response trivially consumable from psql scripts and CI pipelines.
func (h *Handler) IssuePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := tenant.FromContext(r.Context())
	if !ok {
		problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", "tenant identity is missing")
		return
	}

	cred, err := h.svc.IssuePassword(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, "issue password")
		return
	}

	logging.FromRequest(r, h.logger).Info("password issued",
		zap.String("tenantId", id.TenantID.String()),
		zap.String("role", cred.Role))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, "Role: %s\nPassword: %s\n", cred.Role, cred.Password)
}

// buildBundleZip assembles the flat credential archive: `<role>.key`,
// `<role>.crt` and the CA bundle, no directories.
func buildBundleZip(bundle service.CertificateBundle) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	entries := []struct {
		name    string
		content string
	}{
		{bundle.Credential.Role + ".key", bundle.Credential.PrivateKeyPEM},
		{bundle.Credential.Role + ".crt", bundle.Credential.CertificatePEM},
		{caBundleEntry, bundle.CACertPEM},
	}
	for _, entry := range entries {
		f, err := zw.Create(entry.name)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("create archive entry %s: %w", entry.name, err), zw.Close())
		}
		if _, err := f.Write([]byte(entry.content)); err != nil {
			return nil, multierr.Append(fmt.Errorf("write archive entry %s: %w", entry.name, err), zw.Close())
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, tenant.ErrInvalidName):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid name", err.Error())
	case errors.Is(err, tenants.ErrNoCertificate):
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "No certificate issued", err.Error())
	default:
		logging.FromRequest(r, h.logger).Error(op+" failed", zap.Error(err))
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeInternal, "Internal error", "the operation could not be completed")
	}
}
