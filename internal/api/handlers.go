package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clinicops/portal-sync/internal/jobs"
)

type submitJobRequest struct {
	Name string    `json:"name"`
	Args jobs.Args `json:"args"`
}

type submitJobResponse struct {
	JobID string `json:"job_id"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// JobHandler exposes the asynchronous job surface: submit returns 202 with a
// job id, status is polled separately.
type JobHandler struct {
	dispatcher *jobs.Dispatcher
	store      jobs.Store
	log        *zap.Logger
}

func NewJobHandler(dispatcher *jobs.Dispatcher, store jobs.Store, log *zap.Logger) *JobHandler {
	return &JobHandler{dispatcher: dispatcher, store: store, log: log}
}

func (h *JobHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, jobs.CodeBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, jobs.CodeBadRequest, `"name" is required`)
		return
	}

	id, err := h.dispatcher.Submit(r.Context(), req.Name, req.Args)
	if err != nil {
		je := jobs.Classify(err)
		writeError(w, httpStatusFor(je.Code), je.Code, je.Message)
		return
	}

	writeJSON(w, http.StatusAccepted, submitJobResponse{JobID: id})
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.store.Get(r.Context(), id)
	if errors.Is(err, jobs.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, jobs.CodeNotFound, "no such job")
		return
	}
	if err != nil {
		h.log.Error("job lookup failed", zap.String("job_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, jobs.CodeInternal, "job lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func httpStatusFor(code jobs.ErrorCode) int {
	switch code {
	case jobs.CodeBadRequest:
		return http.StatusBadRequest
	case jobs.CodeNotFound:
		return http.StatusNotFound
	case jobs.CodeLockTimeout:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code jobs.ErrorCode, msg string) {
	var resp errorResponse
	resp.Error.Code = string(code)
	resp.Error.Message = msg
	writeJSON(w, status, resp)
}
