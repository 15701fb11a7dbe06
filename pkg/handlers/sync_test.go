package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/services"
)

func validationHandler() *SyncHandler {
	// Validation failures return before any collaborator is touched.
	return NewSyncHandler(zap.NewNop(), nil, nil, nil)
}

func postSync(h *SyncHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/sync", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.RunSync(rec, req)
	return rec
}

func TestRunSync_RejectsMalformedBody(t *testing.T) {
	rec := postSync(validationHandler(), "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunSync_RequiresTenantAndSchedule(t *testing.T) {
	rec := postSync(validationHandler(), `{"execution_mode":"issues"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "tenant_id")
}

func TestRunSync_RejectsUnknownMode(t *testing.T) {
	body := `{"tenant_id":"` + uuid.NewString() + `","job_schedule_id":"` + uuid.NewString() + `","execution_mode":"everything"}`
	rec := postSync(validationHandler(), body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "execution_mode")
}

func TestListJobs_RejectsBadTenantID(t *testing.T) {
	h := validationHandler()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "UUID")
}

func TestExecutionModeValues(t *testing.T) {
	for _, mode := range []services.ExecutionMode{
		services.ModeIssueTypes, services.ModeStatuses, services.ModeIssues,
		services.ModeCustomQuery, services.ModeAll,
	} {
		assert.True(t, mode.Valid(), string(mode))
	}
	assert.False(t, services.ExecutionMode("everything").Valid())
}
