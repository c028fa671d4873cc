package httpx

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/hikma01/rankmath-capture-unified-sub000/internal/data"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/model"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/service"
)

// JobHandlers provides HTTP handlers for job dispatch and lifecycle operations.
type JobHandlers struct {
	Svc *service.DispatcherService
}

// DispatchJob handles HTTP requests to enqueue a new optimization job.
func (h *JobHandlers) DispatchJob(w http.ResponseWriter, r *http.Request) {
	var req model.CreateJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, err := h.Svc.Dispatch(r.Context(), &req)
	if err != nil {
		writeDispatchError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, job)
}

func writeDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrAlreadyQueued):
		WriteError(w, ErrorParams{Code: http.StatusConflict, ErrCode: "already_queued", Err: err})
	case model.IsValidation(err):
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "validation_failed", Err: err})
	default:
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "dispatch_failed", Err: err})
	}
}

// parseJobIDPath extracts a job id path value, writing a 400 when it is not
// a valid UUID.
func parseJobIDPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_path",
			Err:     errors.New("job id must be a valid UUID"),
		})
		return "", false
	}
	return id, true
}

// GetJob handles HTTP requests to fetch one job by id.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobIDPath(w, r)
	if !ok {
		return
	}

	job, err := h.Svc.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "get_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// CancelJob handles HTTP requests to cancel a queued job.
func (h *JobHandlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobIDPath(w, r)
	if !ok {
		return
	}

	cancelled, err := h.Svc.Cancel(r.Context(), id)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "cancel_failed", Err: err})
		return
	}
	if !cancelled {
		WriteError(w, ErrorParams{
			Code:    http.StatusConflict,
			ErrCode: "not_cancellable",
			Err:     errors.New("job is not in a cancellable state"),
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// GetSubjectResult handles HTTP requests for a subject's cached optimization
// result. 204 means no result is cached.
func (h *JobHandlers) GetSubjectResult(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := parseInt64Path(w, r, "id")
	if !ok {
		return
	}

	cached, err := h.Svc.CachedResult(r.Context(), subjectID)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "cache_read_failed", Err: err})
		return
	}
	if len(cached) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(cached)
}
