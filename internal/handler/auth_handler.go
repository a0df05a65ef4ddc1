package handler

import (
	"errors"
	"mime"
	"net/http"

	"go-pcg-core/internal/middleware"
	"go-pcg-core/internal/model"
	"go-pcg-core/internal/service"
	"go-pcg-core/internal/util"
	"go-pcg-core/pkg/apierror"
)

const resetRequestedMessage = "If the email is registered, a reset link has been sent."

type AuthHandler struct {
	sessions     *service.SessionService
	resets       *service.ResetService
	audit        *service.AuditService
	secureCookie bool
}

func NewAuthHandler(sessions *service.SessionService, resets *service.ResetService, audit *service.AuditService, secureCookie bool) *AuthHandler {
	return &AuthHandler{sessions: sessions, resets: resets, audit: audit, secureCookie: secureCookie}
}

func (h *AuthHandler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	token, err := middleware.IssueCSRFToken(w, h.secureCookie)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]string{"csrf_token": token}, nil)
}

// Login accepts the credentials as JSON or as an urlencoded form.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	payload, err := h.readLogin(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	tokens, err := h.sessions.Login(r.Context(), payload.Username, payload.Password)
	actor := actorFromRequest(r)
	if err != nil {
		if errors.Is(err, model.ErrInvalidCredentials) || errors.Is(err, model.ErrAccountInactive) {
			h.audit.Log(r.Context(), service.AuditLogin, actor, service.AuditFailure, payload.Username, err.Error())
		}
		writeError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), service.AuditLogin, actor, service.AuditSuccess, payload.Username, "")
	writeSuccess(w, http.StatusOK, tokens, nil)
}

func (h *AuthHandler) readLogin(w http.ResponseWriter, r *http.Request) (model.LoginRequest, error) {
	var payload model.LoginRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		if err := r.ParseForm(); err != nil {
			return payload, apierror.BadRequest("invalid form body", "")
		}
		payload.Username = r.PostForm.Get("username")
		payload.Password = r.PostForm.Get("password")
		return payload, util.Validate(&payload)
	}

	err := decodeJSON(w, r, &payload)
	return payload, err
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var payload model.RefreshRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}

	tokens, err := h.sessions.Refresh(r.Context(), payload.RefreshToken)
	if err != nil {
		if errors.Is(err, model.ErrInvalidRefreshToken) {
			h.audit.Log(r.Context(), service.AuditRefresh, actorFromRequest(r), service.AuditFailure, "", "")
		}
		writeError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), service.AuditRefresh, actorFromRequest(r), service.AuditSuccess, "", "")
	writeSuccess(w, http.StatusOK, tokens, nil)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, model.ErrUnauthorized)
		return
	}

	if err := h.sessions.Logout(r.Context(), identity.ID); err != nil {
		writeError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), service.AuditLogout, actorFromRequest(r), service.AuditSuccess, "", "")
	writeSuccess(w, http.StatusOK, map[string]any{"logged_out": true}, nil)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, model.ErrUnauthorized)
		return
	}

	writeSuccess(w, http.StatusOK, identity.Public(), nil)
}

// RequestReset always answers with the same message so callers cannot test
// which emails are registered.
func (h *AuthHandler) RequestReset(w http.ResponseWriter, r *http.Request) {
	var payload model.ResetRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.resets.RequestReset(r.Context(), payload.Email); err != nil {
		writeError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), service.AuditResetRequested, actorFromRequest(r), service.AuditSuccess, "", "")
	writeSuccess(w, http.StatusOK, map[string]string{"message": resetRequestedMessage}, nil)
}

func (h *AuthHandler) CompleteReset(w http.ResponseWriter, r *http.Request) {
	var payload model.CompleteResetRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.resets.CompleteReset(r.Context(), payload.Token, payload.NewPassword); err != nil {
		if errors.Is(err, model.ErrInvalidOrExpiredToken) {
			h.audit.Log(r.Context(), service.AuditResetCompleted, actorFromRequest(r), service.AuditFailure, "", "")
		}
		writeError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), service.AuditResetCompleted, actorFromRequest(r), service.AuditSuccess, "", "")
	writeSuccess(w, http.StatusOK, map[string]string{"message": "Password updated."}, nil)
}
