package repository

import (
	"context"
	"time"

	"go-pcg-core/internal/model"
)

// IdentityStore is the credential store. Implementations must apply
// AdvanceGeneration and ConsumeResetSecret atomically.
type IdentityStore interface {
	FindByID(ctx context.Context, id string) (model.Identity, error)
	FindByEmail(ctx context.Context, email string) (model.Identity, error)
	Create(ctx context.Context, identity model.Identity) error
	Count(ctx context.Context) (int, error)
	UpdateCredentialHash(ctx context.Context, id string, passwordHash string) error
	UpdateStatus(ctx context.Context, id string, status model.AccountStatus) error
	SetResetSecret(ctx context.Context, id string, secretHash string, expiresAt time.Time) error
	// ConsumeResetSecret replaces the password hash, clears the reset secret and
	// advances the generation in one step. It fails with ErrInvalidOrExpiredToken
	// unless secretHash is stored for id and still live at now.
	ConsumeResetSecret(ctx context.Context, id string, secretHash string, now time.Time, passwordHash string) (int64, error)
	// AdvanceGeneration increments the generation only if it still equals expected.
	AdvanceGeneration(ctx context.Context, id string, expected int64) (int64, error)
	BumpGeneration(ctx context.Context, id string) (int64, error)
}

type JobStore interface {
	Create(ctx context.Context, job model.Job) error
	FindByID(ctx context.Context, id string) (model.Job, error)
	// List returns live jobs newest first; an empty ownerID lists every owner.
	List(ctx context.Context, ownerID string, page int, limit int) ([]model.Job, model.Meta, error)
	// MarkProcessing moves a live pending job to processing.
	MarkProcessing(ctx context.Context, id string, at time.Time) error
	Complete(ctx context.Context, id string, location string, at time.Time) error
	// Fail moves a pending or processing job to failed.
	Fail(ctx context.Context, id string, message string, at time.Time) error
	// Supersede marks a job as replaced by replacementID and returns its final snapshot.
	Supersede(ctx context.Context, id string, replacementID string) (model.Job, error)
	// ClearSupersede undoes Supersede while the marker still names replacementID.
	ClearSupersede(ctx context.Context, id string, replacementID string) error
	FindStuck(ctx context.Context, startedBefore time.Time) ([]model.Job, error)
	FindPending(ctx context.Context) ([]model.Job, error)
}

type AuditStore interface {
	Log(ctx context.Context, entry model.AuditEntry) error
	Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error)
}

func normalizePage(page int, limit int, defaultLimit int, maxLimit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}

func buildMeta(page int, limit int, total int) model.Meta {
	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return model.Meta{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
}
