package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vinayakr/nofrillsdb/platform/go/tenant"
)

type countingResolver struct {
	calls int
	fail  bool
}

func (r *countingResolver) Resolve(_ context.Context, subject string) (tenant.Identity, error) {
	r.calls++
	if r.fail {
		return tenant.Identity{}, fmt.Errorf("registry unavailable")
	}
	return tenant.Identity{
		TenantID:   uuid.New(),
		Subject:    subject,
		PwdRole:    "role_0192aabbccdd70008000112233445566",
		RoleSuffix: "0192aabb",
	}, nil
}

func echoHandler(t *testing.T, wantSubject string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := tenant.FromContext(r.Context())
		require.True(t, ok)
		require.Equal(t, wantSubject, id.Subject)
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestWithIdentityAttachesTenant(t *testing.T) {
	resolver := &countingResolver{}
	handler := WithIdentity(resolver, Config{})(echoHandler(t, "auth0|alice"))

	req := httptest.NewRequest(http.MethodGet, "/api/database", nil)
	req.Header.Set(SubjectHeader, "auth0|alice")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, 1, resolver.calls)
}

func TestWithIdentityMissingSubject(t *testing.T) {
	handler := WithIdentity(&countingResolver{}, Config{})(echoHandler(t, ""))

	req := httptest.NewRequest(http.MethodGet, "/api/database", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestWithIdentityResolverFailure(t *testing.T) {
	handler := WithIdentity(&countingResolver{fail: true}, Config{})(echoHandler(t, ""))

	req := httptest.NewRequest(http.MethodGet, "/api/database", nil)
	req.Header.Set(SubjectHeader, "auth0|bob")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWithIdentityCaches(t *testing.T) {
	resolver := &countingResolver{}
	handler := WithIdentity(resolver, Config{CacheTTL: time.Minute})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/api/database", nil)
		req.Header.Set(SubjectHeader, "auth0|carol")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
	}

	require.Equal(t, 1, resolver.calls)
}
