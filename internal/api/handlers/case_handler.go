package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/zatekoja/amrguard/internal/application/services"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/repositories"
	apperrors "github.com/zatekoja/amrguard/pkg/errors"
)

// CaseRunner runs case records through the pipeline
type CaseRunner interface {
	Run(ctx context.Context, req entities.RunRequest) (*entities.CaseRecord, error)
	RunBatch(ctx context.Context, reqs []entities.RunRequest) []services.BatchResult
}

// maxBatchSize bounds one batch request
const maxBatchSize = 50

// CaseHandler handles pipeline run requests
type CaseHandler struct {
	runner CaseRunner
	audit  repositories.CaseAuditRepository
}

// NewCaseHandler creates a new case handler. audit may be nil.
func NewCaseHandler(runner CaseRunner, audit repositories.CaseAuditRepository) *CaseHandler {
	return &CaseHandler{
		runner: runner,
		audit:  audit,
	}
}

// caseResponse carries the record of a run whatever its outcome
type caseResponse struct {
	Record *entities.CaseRecord `json:"record"`
	Error  string               `json:"error,omitempty"`
}

// RunCase handles POST /api/v1/cases/run
func (h *CaseHandler) RunCase(w http.ResponseWriter, r *http.Request) {
	var req entities.RunRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	record, err := h.runner.Run(r.Context(), req)
	if err != nil {
		respondWithJSON(w, statusFor(err), caseResponse{Record: record, Error: err.Error()})
		return
	}
	respondWithJSON(w, http.StatusOK, caseResponse{Record: record})
}

// RunBatch handles POST /api/v1/cases/batch. One failed run never fails the batch.
func (h *CaseHandler) RunBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Requests []entities.RunRequest `json:"requests"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if len(body.Requests) == 0 {
		respondWithError(w, http.StatusBadRequest, "requests must not be empty")
		return
	}
	if len(body.Requests) > maxBatchSize {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("at most %d requests per batch", maxBatchSize))
		return
	}

	results := h.runner.RunBatch(r.Context(), body.Requests)
	out := make([]caseResponse, len(results))
	done := 0
	for i, res := range results {
		out[i] = caseResponse{Record: res.Record}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		} else {
			done++
		}
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"results": out,
		"count":   len(out),
		"done":    done,
	})
}

// GetCase handles GET /api/v1/cases/{runID} from the audit store
func (h *CaseHandler) GetCase(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	if runID == "" {
		respondWithError(w, http.StatusBadRequest, "run ID is required")
		return
	}
	if h.audit == nil {
		respondWithAppError(w, apperrors.NewNotFoundError("case audit is disabled"))
		return
	}

	record, err := h.audit.GetByRunID(r.Context(), runID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, record)
}
