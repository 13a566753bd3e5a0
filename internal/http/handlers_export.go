package httpx

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/mstrycker/docexport/internal/domain/model"
	"github.com/mstrycker/docexport/internal/service"
)

// ExportHandlers serves the export job endpoints.
type ExportHandlers struct {
	Svc    *service.ExportService
	Logger *slog.Logger
}

// submitResponse is the admission acknowledgement. Submission is
// fire-and-forget; callers poll the status endpoint afterwards.
type submitResponse struct {
	JobID  string          `json:"job_id"`
	Status model.JobStatus `json:"status"`
}

// Submit handles POST /api/v1/export.
func (h *ExportHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	var req model.ExportRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, err := h.Svc.Submit(r.Context(), &req)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, submitResponse{JobID: job.ID, Status: job.Status})
}

// Status handles GET /api/v1/status/{id}.
func (h *ExportHandlers) Status(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "validation", Err: errors.New("job id is required")})
		return
	}

	resp, err := h.Svc.GetStatus(r.Context(), id)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Download handles GET /api/v1/download/{id}. It streams the bundle; large
// archives never pass through a full in-memory buffer.
func (h *ExportHandlers) Download(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "validation", Err: errors.New("job id is required")})
		return
	}

	rc, job, err := h.Svc.GetArtifactStream(r.Context(), id)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s_export.zip"`, job.ID))
	if _, copyErr := io.Copy(w, rc); copyErr != nil && h.Logger != nil {
		// Headers are gone; all we can do is log the broken stream.
		h.Logger.Warn("bundle download interrupted", "job_id", id, "err", copyErr)
	}
}

// Delete handles DELETE /api/v1/jobs/{id}.
func (h *ExportHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "validation", Err: errors.New("job id is required")})
		return
	}

	if err := h.Svc.Delete(r.Context(), id); err != nil {
		WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /api/v1/stats.
func (h *ExportHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}
