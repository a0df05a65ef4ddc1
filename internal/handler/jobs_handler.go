package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"go-pcg-core/internal/middleware"
	"go-pcg-core/internal/model"
	"go-pcg-core/internal/service"
	"go-pcg-core/pkg/apierror"
)

type JobsHandler struct {
	service *service.JobService
	audit   *service.AuditService
}

func NewJobsHandler(service *service.JobService, audit *service.AuditService) *JobsHandler {
	return &JobsHandler{service: service, audit: audit}
}

func (h *JobsHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, model.ErrUnauthorized)
		return
	}

	var payload model.CreateJobRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}

	job, err := h.service.Submit(r.Context(), identity, model.JobKind(payload.Kind), payload.Params)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), service.AuditJobSubmitted, actorFromRequest(r), service.AuditSuccess, "job:"+job.ID, string(job.Kind))
	writeSuccess(w, http.StatusAccepted, job, nil)
}

func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, model.ErrUnauthorized)
		return
	}

	page := parseIntOrDefault(r.URL.Query().Get("page"), 1)
	limit := parseIntOrDefault(r.URL.Query().Get("limit"), 20)

	jobs, meta, err := h.service.List(r.Context(), identity, page, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, jobs, &meta)
}

func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, jobID, ok := h.target(w, r)
	if !ok {
		return
	}

	job, err := h.service.Status(r.Context(), jobID, identity)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, job, nil)
}

func (h *JobsHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	identity, jobID, ok := h.target(w, r)
	if !ok {
		return
	}

	job, err := h.service.Regenerate(r.Context(), jobID, identity)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), service.AuditJobRegenerated, actorFromRequest(r), service.AuditSuccess, "job:"+jobID, "replaced by "+job.ID)
	writeSuccess(w, http.StatusAccepted, job, nil)
}

func (h *JobsHandler) target(w http.ResponseWriter, r *http.Request) (model.Identity, string, bool) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, model.ErrUnauthorized)
		return model.Identity{}, "", false
	}

	jobID := strings.TrimSpace(chi.URLParam(r, "job_id"))
	if jobID == "" {
		writeError(w, r, apierror.BadRequest("job_id is required", "job_id"))
		return model.Identity{}, "", false
	}

	return identity, jobID, true
}
