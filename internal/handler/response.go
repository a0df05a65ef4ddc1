package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"go-pcg-core/internal/model"
	"go-pcg-core/internal/util"
	"go-pcg-core/pkg/apierror"
)

const maxRequestBody = 1 << 20

func writeSuccess(w http.ResponseWriter, status int, data any, meta *model.Meta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// Credential and reset failures stay deliberately vague; boundary failures
// are specific.
var errorMappings = []errorMapping{
	{model.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials"},
	{model.ErrAccountInactive, http.StatusForbidden, "ACCOUNT_INACTIVE", "Account is inactive"},
	{model.ErrInvalidRefreshToken, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "Invalid refresh token"},
	{model.ErrInvalidOrExpiredToken, http.StatusBadRequest, "INVALID_OR_EXPIRED_TOKEN", "Invalid or expired token"},
	{model.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required"},
	{model.ErrForbidden, http.StatusForbidden, "FORBIDDEN", "Access denied"},
	{model.ErrTooManyRequests, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests"},
	{model.ErrJobNotFound, http.StatusNotFound, "NOT_FOUND", "Job not found"},
	{model.ErrIdentityNotFound, http.StatusNotFound, "NOT_FOUND", "User not found"},
	{model.ErrJobProcessing, http.StatusConflict, "JOB_PROCESSING", "Job is still processing"},
	{model.ErrJobSuperseded, http.StatusConflict, "JOB_SUPERSEDED", "Job was already regenerated"},
	{model.ErrJobStateChange, http.StatusConflict, "CONFLICT", "Job changed state, retry"},
	{model.ErrInvalidInput, http.StatusBadRequest, "BAD_REQUEST", "Invalid input"},
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	body := &model.APIError{
		Code:    "INTERNAL_ERROR",
		Message: "Unexpected server error",
	}

	var apiErr *apierror.APIError
	var validationErr *util.ValidationError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatus
		body.Code = apiErr.Code
		body.Message = apiErr.Message
		body.Details = apiErr.Details
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
		body.Code = "VALIDATION_ERROR"
		body.Message = "Request validation failed"
		body.Details = validationErr.Error()
	default:
		mapped := false
		for _, m := range errorMappings {
			if errors.Is(err, m.target) {
				status, body.Code, body.Message = m.status, m.code, m.message
				mapped = true
				break
			}
		}
		if errors.Is(err, model.ErrInvalidInput) {
			body.Details = strings.TrimPrefix(err.Error(), model.ErrInvalidInput.Error()+": ")
		}
		if !mapped {
			slog.ErrorContext(r.Context(), "unhandled error", "method", r.Method, "path", r.URL.Path, "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error:   body,
	})
}

// decodeJSON reads a size-limited JSON body into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	defer r.Body.Close()

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := decoder.Decode(dst); err != nil {
		return apierror.BadRequest("invalid JSON body", "")
	}
	return util.Validate(dst)
}

func parseIntOrDefault(raw string, fallback int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}
