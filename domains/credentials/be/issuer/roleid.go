package issuer

import (
	"strings"

	"github.com/google/uuid"
)

// Role identifiers are UUIDv7-based: time-ordered and collision-resistant
// across concurrent issuance, so roles sort naturally by creation time in
// pg_roles listings.

// NewRoleID mints a tenant's stable base role name, `role_<hex>`.
func NewRoleID() string {
	return "role_" + uuidHex()
}

// NewCertRoleID mints a certificate login role name, `crt_role_<hex>`.
// A fresh one is generated on every certificate issuance.
func NewCertRoleID() string {
	return "crt_role_" + uuidHex()
}

func uuidHex() string {
	return strings.ReplaceAll(uuid.Must(uuid.NewV7()).String(), "-", "")
}
