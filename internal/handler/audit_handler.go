package handler

import (
	"net/http"
	"strings"
	"time"

	"go-pcg-core/internal/model"
	"go-pcg-core/internal/service"
	"go-pcg-core/pkg/apierror"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(service *service.AuditService) *AuditHandler {
	return &AuditHandler{service: service}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	from, err := parseTimeParam(query.Get("from"), "from")
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := parseTimeParam(query.Get("to"), "to")
	if err != nil {
		writeError(w, r, err)
		return
	}

	items, meta, err := h.service.Query(r.Context(), model.AuditQuery{
		Action:  strings.TrimSpace(query.Get("action")),
		ActorID: strings.TrimSpace(query.Get("actor_id")),
		Status:  strings.TrimSpace(query.Get("status")),
		From:    from,
		To:      to,
		Page:    parseIntOrDefault(query.Get("page"), 1),
		Limit:   parseIntOrDefault(query.Get("limit"), 50),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"items": items}, &meta)
}

func parseTimeParam(raw string, name string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apierror.BadRequest("timestamp must be RFC3339", name)
	}
	return parsed, nil
}
