package service

import (
	"context"
	"log/slog"
	"time"

	"go-pcg-core/internal/model"
	"go-pcg-core/internal/repository"
)

const (
	AuditLogin          = "auth.login"
	AuditRefresh        = "auth.refresh"
	AuditLogout         = "auth.logout"
	AuditResetRequested = "auth.reset_requested"
	AuditResetCompleted = "auth.reset_completed"
	AuditJobSubmitted   = "job.submitted"
	AuditJobRegenerated = "job.regenerated"

	AuditSuccess = "success"
	AuditFailure = "failure"
)

// AuditService records security-relevant actions. Recording never fails the
// caller; store errors are logged.
type AuditService struct {
	store  repository.AuditStore
	logger *slog.Logger
	now    func() time.Time
}

func NewAuditService(store repository.AuditStore, logger *slog.Logger) *AuditService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditService{store: store, logger: logger, now: time.Now}
}

func (s *AuditService) Log(ctx context.Context, action string, actor model.AuditActor, status string, resource string, detail string) {
	if s == nil {
		return
	}

	entry := model.AuditEntry{
		Action:     action,
		OccurredAt: s.now().UTC(),
		ActorID:    actor.UserID,
		ActorIP:    actor.IP,
		Status:     status,
		Resource:   resource,
		Detail:     detail,
	}

	// Detach from request cancellation so a closed client still leaves a trail.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := s.store.Log(ctx, entry); err != nil {
		s.logger.Error("record audit entry", "action", action, "status", status, "error", err)
	}
}

func (s *AuditService) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	return s.store.Query(ctx, query)
}
