package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/apperrors"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/database"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/repositories"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/services"
)

// SyncRequest is the POST /api/sync body. TenantID scopes the run; the rest
// maps onto the sync service's request.
type SyncRequest struct {
	TenantID       uuid.UUID              `json:"tenant_id"`
	JobScheduleID  uuid.UUID              `json:"job_schedule_id"`
	Mode           services.ExecutionMode `json:"execution_mode"`
	CustomQuery    string                 `json:"custom_query,omitempty"`
	TargetProjects []string               `json:"target_projects,omitempty"`
}

// SyncHandler exposes manual sync runs and job status reads.
type SyncHandler struct {
	logger    *zap.Logger
	scopes    *database.TenantScopeProvider
	sync      *services.SyncService
	schedules repositories.JobScheduleRepository
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(logger *zap.Logger, scopes *database.TenantScopeProvider,
	sync *services.SyncService, schedules repositories.JobScheduleRepository) *SyncHandler {
	return &SyncHandler{
		logger:    logger.Named("handlers.sync"),
		scopes:    scopes,
		sync:      sync,
		schedules: schedules,
	}
}

// RegisterRoutes registers the sync handler's routes on the given mux.
func (h *SyncHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sync", h.RunSync)
	mux.HandleFunc("GET /api/jobs/{tenant}", h.ListJobs)
}

// RunSync handles POST /api/sync. The run executes synchronously on the
// request: extraction happens here, transform and embedding continue on the
// worker pools after the response.
func (h *SyncHandler) RunSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}
	if req.TenantID == uuid.Nil || req.JobScheduleID == uuid.Nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "tenant_id and job_schedule_id are required")
		return
	}
	if !req.Mode.Valid() {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "unknown execution_mode")
		return
	}

	ctx, cleanup, err := h.scopes.WithTenantScope(r.Context(), req.TenantID)
	if err != nil {
		h.logger.Error("Failed to open tenant scope", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "failed to open tenant scope")
		return
	}
	defer cleanup()

	result, err := h.sync.RunSync(ctx, &services.SyncRequest{
		JobScheduleID:  req.JobScheduleID,
		Mode:           req.Mode,
		CustomQuery:    req.CustomQuery,
		TargetProjects: req.TargetProjects,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			_ = ErrorResponse(w, http.StatusNotFound, "not_found", "job schedule not found")
			return
		}
		h.logger.Error("Sync run rejected", zap.Error(err))
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to encode sync response", zap.Error(err))
	}
}

// ListJobs handles GET /api/jobs/{tenant}. It returns the tenant's job
// schedules with their status documents, the same shape the relay ships.
func (h *SyncHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.PathValue("tenant"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "tenant must be a UUID")
		return
	}

	ctx, cleanup, err := h.scopes.WithTenantScope(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("Failed to open tenant scope", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "failed to open tenant scope")
		return
	}
	defer cleanup()

	jobs, err := h.schedules.ListByTenant(ctx, tenantID)
	if err != nil {
		h.logger.Error("Failed to list job schedules", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "failed to list job schedules")
		return
	}

	if err := WriteJSON(w, http.StatusOK, jobs); err != nil {
		h.logger.Error("Failed to encode jobs response", zap.Error(err))
	}
}
