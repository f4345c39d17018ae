package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/amrguard/internal/adapters/memory"
	"github.com/zatekoja/amrguard/internal/api/handlers"
	"github.com/zatekoja/amrguard/internal/application/services"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	apperrors "github.com/zatekoja/amrguard/pkg/errors"
	"github.com/zatekoja/amrguard/pkg/utils"
)

type stubRunner struct {
	run      func(req entities.RunRequest) (*entities.CaseRecord, error)
	requests []entities.RunRequest
}

func (s *stubRunner) Run(ctx context.Context, req entities.RunRequest) (*entities.CaseRecord, error) {
	s.requests = append(s.requests, req)
	return s.run(req)
}

func (s *stubRunner) RunBatch(ctx context.Context, reqs []entities.RunRequest) []services.BatchResult {
	out := make([]services.BatchResult, len(reqs))
	for i, req := range reqs {
		record, err := s.Run(ctx, req)
		out[i] = services.BatchResult{Record: record, Err: err}
	}
	return out
}

// runByPatient fails validation for patients without a sex
func runByPatient(req entities.RunRequest) (*entities.CaseRecord, error) {
	record := &entities.CaseRecord{RunID: req.RunID, Patient: req.Patient, State: entities.StateDone}
	if req.Patient.Sex == "" {
		record.State = entities.StateFailed
		return record, apperrors.NewValidationError("invalid patient fields: sex")
	}
	return record, nil
}

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) Save(ctx context.Context, record *entities.CaseRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *mockAudit) GetByRunID(ctx context.Context, runID string) (*entities.CaseRecord, error) {
	args := m.Called(ctx, runID)
	if r := args.Get(0); r != nil {
		return r.(*entities.CaseRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestCaseHandler_RunCase(t *testing.T) {
	runner := &stubRunner{run: runByPatient}
	handler := handlers.NewCaseHandler(runner, nil)

	body := `{"run_id":"r1","patient":{"age_years":65,"sex":"female","weight_kg":70,"serum_creatinine_mg_dl":1,"infection_site":"urinary tract"}}`
	req := httptest.NewRequest("POST", "/api/v1/cases/run", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.RunCase(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, runner.requests, 1)
	assert.Equal(t, "r1", runner.requests[0].RunID)
	record := decodeBody(t, w)["record"].(map[string]interface{})
	assert.Equal(t, "DONE", record["state"])
}

func TestCaseHandler_RunCase_FailedRunKeepsRecord(t *testing.T) {
	handler := handlers.NewCaseHandler(&stubRunner{run: runByPatient}, nil)

	req := httptest.NewRequest("POST", "/api/v1/cases/run", strings.NewReader(`{"patient":{"age_years":65}}`))
	w := httptest.NewRecorder()

	handler.RunCase(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Contains(t, body["error"], "sex")
	assert.Equal(t, "FAILED", body["record"].(map[string]interface{})["state"])
}

func TestCaseHandler_RunCase_StatusByFailureType(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.NewNoBackendAvailableError("exhausted", nil), http.StatusServiceUnavailable},
		{apperrors.NewUnreadableDocumentError("blurred", nil), http.StatusUnprocessableEntity},
		{apperrors.NewCitationMissingError("dose"), http.StatusInternalServerError},
		{apperrors.NewCancelledError("client left", context.Canceled), http.StatusRequestTimeout},
	}
	for _, tt := range tests {
		t.Run(string(apperrors.TypeOf(tt.err)), func(t *testing.T) {
			runner := &stubRunner{run: func(entities.RunRequest) (*entities.CaseRecord, error) {
				return &entities.CaseRecord{State: entities.StateFailed}, tt.err
			}}
			w := httptest.NewRecorder()

			handlers.NewCaseHandler(runner, nil).RunCase(w, httptest.NewRequest("POST", "/", strings.NewReader(`{}`)))

			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestCaseHandler_RunCase_InvalidBody(t *testing.T) {
	runner := &stubRunner{run: runByPatient}
	w := httptest.NewRecorder()

	handlers.NewCaseHandler(runner, nil).RunCase(w, httptest.NewRequest("POST", "/", strings.NewReader(`{`)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, runner.requests)
}

func TestCaseHandler_RunBatch(t *testing.T) {
	handler := handlers.NewCaseHandler(&stubRunner{run: runByPatient}, nil)

	body := `{"requests":[{"run_id":"a","patient":{"sex":"male"}},{"run_id":"b","patient":{}}]}`
	w := httptest.NewRecorder()
	handler.RunBatch(w, httptest.NewRequest("POST", "/api/v1/cases/batch", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.EqualValues(t, 2, resp["count"])
	assert.EqualValues(t, 1, resp["done"])
	results := resp["results"].([]interface{})
	assert.Nil(t, results[0].(map[string]interface{})["error"])
	assert.Contains(t, results[1].(map[string]interface{})["error"], "VALIDATION")
}

func TestCaseHandler_RunBatch_Empty(t *testing.T) {
	w := httptest.NewRecorder()

	handlers.NewCaseHandler(&stubRunner{run: runByPatient}, nil).
		RunBatch(w, httptest.NewRequest("POST", "/", strings.NewReader(`{"requests":[]}`)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCaseHandler_GetCase(t *testing.T) {
	audit := &mockAudit{}
	audit.On("GetByRunID", mock.Anything, "r1").Return(&entities.CaseRecord{RunID: "r1", State: entities.StateDone}, nil).Once()
	audit.On("GetByRunID", mock.Anything, "missing").Return(nil, apperrors.NewNotFoundError("case missing not found")).Once()
	handler := handlers.NewCaseHandler(&stubRunner{run: runByPatient}, audit)

	req := httptest.NewRequest("GET", "/api/v1/cases/r1", nil)
	req.SetPathValue("runID", "r1")
	w := httptest.NewRecorder()
	handler.GetCase(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "r1", decodeBody(t, w)["run_id"])

	req = httptest.NewRequest("GET", "/api/v1/cases/missing", nil)
	req.SetPathValue("runID", "missing")
	w = httptest.NewRecorder()
	handler.GetCase(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	audit.AssertExpectations(t)
}

func TestCaseHandler_GetCase_AuditDisabled(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/cases/r1", nil)
	req.SetPathValue("runID", "r1")
	w := httptest.NewRecorder()

	handlers.NewCaseHandler(&stubRunner{run: runByPatient}, nil).GetCase(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func f64(v float64) *float64 { return &v }

func newReferenceHandler() *handlers.ReferenceHandler {
	store := memory.NewReferenceStore(&entities.ReferenceSnapshot{
		Version: "2025.1",
		Antibiotics: []*entities.Antibiotic{
			{ID: 1, MedicineName: "nitrofurantoin", Tier: entities.TierAccess},
			{ID: 2, MedicineName: "ciprofloxacin", Tier: entities.TierWatch},
			{ID: 3, MedicineName: "colistin", Tier: entities.TierReserve},
		},
		Breakpoints: []*entities.Breakpoint{
			{ID: 1, PathogenGroup: "Enterobacterales", Antibiotic: "ciprofloxacin", MICSusceptible: f64(0.25), MICResistant: f64(0.5)},
		},
		Interactions: []*entities.DrugInteraction{
			{ID: 1, Drug1: "warfarin", Drug2: "ciprofloxacin", Severity: entities.SeverityMajor, Description: "increased INR"},
		},
	})
	fusion := services.NewRetrievalFusion(store, nil, utils.NewDefaultClinicalNameNormalizer(), 3)
	return handlers.NewReferenceHandler(fusion)
}

func TestReferenceHandler_ListAntibiotics(t *testing.T) {
	handler := newReferenceHandler()

	w := httptest.NewRecorder()
	handler.ListAntibiotics(w, httptest.NewRequest("GET", "/api/v1/reference/antibiotics?tier=reserve", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.EqualValues(t, 1, body["count"])
	assert.Equal(t, "2025.1", body["snapshot_version"])

	w = httptest.NewRecorder()
	handler.ListAntibiotics(w, httptest.NewRequest("GET", "/api/v1/reference/antibiotics?tier=gold", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReferenceHandler_InterpretBreakpoint(t *testing.T) {
	handler := newReferenceHandler()

	w := httptest.NewRecorder()
	handler.InterpretBreakpoint(w, httptest.NewRequest("GET",
		"/api/v1/reference/breakpoints/interpret?pathogen=E.+coli&antibiotic=ciprofloxacin&mic=1", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Resistant", decodeBody(t, w)["category"])

	w = httptest.NewRecorder()
	handler.InterpretBreakpoint(w, httptest.NewRequest("GET",
		"/api/v1/reference/breakpoints/interpret?pathogen=E.+coli&antibiotic=ciprofloxacin&mic=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	handler.InterpretBreakpoint(w, httptest.NewRequest("GET",
		"/api/v1/reference/breakpoints/interpret?pathogen=E.+coli&antibiotic=ciprofloxacin&mic=-2", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReferenceHandler_CheckInteractions(t *testing.T) {
	handler := newReferenceHandler()

	w := httptest.NewRecorder()
	handler.CheckInteractions(w, httptest.NewRequest("GET",
		"/api/v1/reference/interactions?drug=ciprofloxacin&drug=warfarin,amoxicillin", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	pairs := body["pairs"].([]interface{})
	require.Len(t, pairs, 3)
	assert.NotNil(t, pairs[0].(map[string]interface{})["interaction"])
	assert.Nil(t, pairs[1].(map[string]interface{})["interaction"])
	assert.EqualValues(t, 1, body["count"])

	w = httptest.NewRecorder()
	handler.CheckInteractions(w, httptest.NewRequest("GET", "/api/v1/reference/interactions?drug=warfarin", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReferenceHandler_SearchGuidelines(t *testing.T) {
	handler := newReferenceHandler()

	w := httptest.NewRecorder()
	handler.SearchGuidelines(w, httptest.NewRequest("POST", "/api/v1/guidelines/search", strings.NewReader(`{"query":"  "}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	handler.SearchGuidelines(w, httptest.NewRequest("POST", "/api/v1/guidelines/search", strings.NewReader(`{"query":"ESBL cystitis"}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decodeBody(t, w)["count"])
}

type stubCatalog struct{}

func (stubCatalog) Descriptors() []entities.BackendDescriptor {
	return []entities.BackendDescriptor{
		{Name: "local-small", Healthy: true},
		{Name: "remote-large", Healthy: false, CircuitState: "open"},
	}
}

func (stubCatalog) Chains() map[string][]string {
	return map[string][]string{"pharmacology": {"remote-large", "local-small"}}
}

func TestBackendHandler_ListBackends(t *testing.T) {
	w := httptest.NewRecorder()

	handlers.NewBackendHandler(stubCatalog{}).ListBackends(w, httptest.NewRequest("GET", "/api/v1/backends", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.EqualValues(t, 2, body["count"])
	assert.EqualValues(t, 1, body["healthy"])
	assert.Contains(t, body["chains"], "pharmacology")
}

func TestStatusFor_UnknownErrorIsInternal(t *testing.T) {
	runner := &stubRunner{run: func(entities.RunRequest) (*entities.CaseRecord, error) {
		return &entities.CaseRecord{}, errors.New("boom")
	}}
	w := httptest.NewRecorder()

	handlers.NewCaseHandler(runner, nil).RunCase(w, httptest.NewRequest("POST", "/", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
