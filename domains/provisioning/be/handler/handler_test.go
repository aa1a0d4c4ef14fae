package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vinayakr/nofrillsdb/domains/provisioning/be/service"
	"github.com/vinayakr/nofrillsdb/platform/go/tenant"
)

type fakeBackend struct {
	owned   map[string]bool
	created []string
	dropped []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{owned: map[string]bool{}}
}

func (f *fakeBackend) HasDatabase(_ context.Context, _ uuid.UUID, name string) (bool, error) {
	return f.owned[name], nil
}

func (f *fakeBackend) AddDatabase(_ context.Context, _ uuid.UUID, name string) error {
	f.owned[name] = true
	return nil
}

func (f *fakeBackend) RemoveDatabase(_ context.Context, _ uuid.UUID, name string) (bool, error) {
	existed := f.owned[name]
	delete(f.owned, name)
	return existed, nil
}

func (f *fakeBackend) ListDatabases(_ context.Context, _ uuid.UUID) ([]string, error) {
	names := make([]string, 0, len(f.owned))
	for name := range f.owned {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeBackend) EnsureHierarchy(_ context.Context, _ tenant.RoleSet) error {
	return nil
}

func (f *fakeBackend) Create(_ context.Context, _ tenant.RoleSet, dbName string) error {
	f.created = append(f.created, dbName)
	return nil
}

func (f *fakeBackend) Drop(_ context.Context, dbName string) error {
	f.dropped = append(f.dropped, dbName)
	return nil
}

func newTestRouter(backend *fakeBackend) http.Handler {
	svc := service.New(backend, backend, backend)
	h := New(svc, zap.NewNop())

	identity := tenant.Identity{
		TenantID:   uuid.New(),
		Subject:    "auth0|alice",
		PwdRole:    "role_0192aabbccdd70008000112233445566",
		RoleSuffix: "0192aabb",
	}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(tenant.WithIdentity(req.Context(), identity)))
		})
	})
	r.Route("/api", h.Routes)
	return r
}

func TestCreateDatabase(t *testing.T) {
	backend := newFakeBackend()
	router := newTestRouter(backend)

	req := httptest.NewRequest(http.MethodPost, "/api/provision", strings.NewReader(`{"name":"shop"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp CreateDatabaseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "shop_0192aabb", resp.DatabaseName)
	require.Equal(t, []string{"shop_0192aabb"}, backend.created)
}

func TestCreateDatabaseDuplicate(t *testing.T) {
	backend := newFakeBackend()
	backend.owned["shop_0192aabb"] = true
	router := newTestRouter(backend)

	req := httptest.NewRequest(http.MethodPost, "/api/provision", strings.NewReader(`{"name":"shop"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	require.Empty(t, backend.created)
}

func TestCreateDatabaseInvalidPayload(t *testing.T) {
	router := newTestRouter(newFakeBackend())

	for _, body := range []string{`{}`, `{"name":"ab"}`, `not json`, `{"name":"has spaces!"}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/provision", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestDropDatabase(t *testing.T) {
	backend := newFakeBackend()
	backend.owned["shop_0192aabb"] = true
	router := newTestRouter(backend)

	req := httptest.NewRequest(http.MethodDelete, "/api/provision/shop_0192aabb", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, []string{"shop_0192aabb"}, backend.dropped)
	require.Empty(t, backend.owned)
}

func TestDropDatabaseNotOwned(t *testing.T) {
	backend := newFakeBackend()
	router := newTestRouter(backend)

	req := httptest.NewRequest(http.MethodDelete, "/api/provision/shop_0192aabb", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Empty(t, backend.dropped)
}

func TestListDatabases(t *testing.T) {
	backend := newFakeBackend()
	backend.owned["shop_0192aabb"] = true
	router := newTestRouter(backend)

	req := httptest.NewRequest(http.MethodGet, "/api/database", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListDatabasesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, []string{"shop_0192aabb"}, resp.Databases)
}

func TestMissingIdentity(t *testing.T) {
	svc := service.New(newFakeBackend(), newFakeBackend(), newFakeBackend())
	h := New(svc, zap.NewNop())
	r := chi.NewRouter()
	r.Route("/api", h.Routes)

	req := httptest.NewRequest(http.MethodGet, "/api/database", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
