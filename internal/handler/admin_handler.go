package handler

import (
	"net/http"
	"time"

	"go-pcg-core/internal/middleware"
	"go-pcg-core/internal/model"
)

// AdminPing is a minimal admin-only endpoint for checking role enforcement.
func AdminPing(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, model.ErrUnauthorized)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{
		"pong": true,
		"as":   identity.Public(),
		"at":   time.Now().UTC(),
	}, nil)
}
