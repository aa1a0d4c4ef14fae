package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/vinayakr/nofrillsdb/domains/provisioning/be/service"
	"github.com/vinayakr/nofrillsdb/platform/go/logging"
	"github.com/vinayakr/nofrillsdb/platform/go/problem"
	"github.com/vinayakr/nofrillsdb/platform/go/tenant"
)

// CreateDatabaseRequest is the POST /api/provision payload.
type CreateDatabaseRequest struct {
	Name string `json:"name" validate:"required,min=3,max=40"`
}

// CreateDatabaseResponse returns the final cluster-wide database name, which
// the tenant must use when connecting through the pooler.
type CreateDatabaseResponse struct {
	DatabaseName string `json:"databaseName"`
}

// ListDatabasesResponse is the GET /api/database payload.
type ListDatabasesResponse struct {
	Databases []string `json:"databases"`
}

// Handler wires the provisioning service to HTTP.
type Handler struct {
	svc      *service.Service
	logger   *zap.Logger
	validate *validator.Validate
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("provisioning service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{
		svc:      svc,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Routes mounts the provisioning endpoints on the given router. The tenant
// identity middleware must already have run.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/provision", h.CreateDatabase)
	r.Delete("/provision/{name}", h.DropDatabase)
	r.Get("/database", h.ListDatabases)
}

// CreateDatabase implements POST /api/provision.
func (h *Handler) CreateDatabase(w http.ResponseWriter, r *http.Request) {
	id, ok := tenant.FromContext(r.Context())
	if !ok {
		problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", "tenant identity is missing")
		return
	}

	var req CreateDatabaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err.Error())
		return
	}

	dbName, err := h.svc.CreateDatabase(r.Context(), id, req.Name)
	if err != nil {
		h.writeError(w, r, err, "create database")
		return
	}

	logging.FromRequest(r, h.logger).Info("database provisioned",
		zap.String("tenantId", id.TenantID.String()),
		zap.String("database", dbName))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(CreateDatabaseResponse{DatabaseName: dbName})
}

// DropDatabase implements DELETE /api/provision/{name}.
func (h *Handler) DropDatabase(w http.ResponseWriter, r *http.Request) {
	id, ok := tenant.FromContext(r.Context())
	if !ok {
		problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", "tenant identity is missing")
		return
	}

	name := chi.URLParam(r, "name")
	if err := h.svc.DropDatabase(r.Context(), id, name); err != nil {
		h.writeError(w, r, err, "drop database")
		return
	}

	logging.FromRequest(r, h.logger).Info("database dropped",
		zap.String("tenantId", id.TenantID.String()),
		zap.String("database", name))

	w.WriteHeader(http.StatusNoContent)
}

// ListDatabases implements GET /api/database.
func (h *Handler) ListDatabases(w http.ResponseWriter, r *http.Request) {
	id, ok := tenant.FromContext(r.Context())
	if !ok {
		problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", "tenant identity is missing")
		return
	}

	names, err := h.svc.ListDatabases(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, "list databases")
		return
	}
	if names == nil {
		names = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ListDatabasesResponse{Databases: names})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, tenant.ErrInvalidName):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid name", err.Error())
	case errors.Is(err, service.ErrAlreadyExists):
		problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "Database already exists", err.Error())
	case errors.Is(err, service.ErrNotFound):
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Database not found", err.Error())
	default:
		logging.FromRequest(r, h.logger).Error(op+" failed", zap.Error(err))
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeInternal, "Internal error", "the operation could not be completed")
	}
}
