package tenant

import (
	"context"

	"github.com/google/uuid"
)

// Identity captures the resolved tenant for a request. It is attached to the
// context by middleware once the upstream gateway's subject header has been
// mapped to a registered tenant.
type Identity struct {
	TenantID   uuid.UUID
	Subject    string
	PwdRole    string
	RoleSuffix string
}

type ctxKey string

const identityKey ctxKey = "NOFRILLSDB_TENANT_IDENTITY"

// WithIdentity returns a derived context carrying the tenant Identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the tenant Identity and a boolean indicating presence.
func FromContext(ctx context.Context) (Identity, bool) {
	v := ctx.Value(identityKey)
	if v == nil {
		return Identity{}, false
	}

	id, ok := v.(Identity)
	return id, ok
}
