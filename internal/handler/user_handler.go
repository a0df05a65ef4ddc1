package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"go-pcg-core/internal/model"
	"go-pcg-core/internal/service"
	"go-pcg-core/pkg/apierror"
)

type UserHandler struct {
	service *service.IdentityService
}

func NewUserHandler(service *service.IdentityService) *UserHandler {
	return &UserHandler{service: service}
}

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload model.CreateIdentityRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.service.Register(r.Context(), payload)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusCreated, user, nil)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		writeError(w, r, apierror.BadRequest("user id is required", "id"))
		return
	}

	identity, err := h.service.Get(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, identity, nil)
}

func (h *UserHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		writeError(w, r, apierror.BadRequest("user id is required", "id"))
		return
	}

	var payload model.UpdateStatusRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}

	identity, err := h.service.SetStatus(r.Context(), userID, model.AccountStatus(payload.Status), actorFromRequest(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, identity, nil)
}
